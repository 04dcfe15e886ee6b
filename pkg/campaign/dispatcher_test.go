package campaign

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tpl "github.com/coverdesk/coverdesk/pkg/template"
)

type fakeCampaignStore struct {
	mu        sync.Mutex
	campaign  Campaign
	pending   []Message
	sent      []uuid.UUID
	failed    []uuid.UUID
	completed bool
}

func (f *fakeCampaignStore) Running(context.Context) ([]Campaign, error) {
	return []Campaign{f.campaign}, nil
}

func (f *fakeCampaignStore) Get(context.Context, uuid.UUID) (*Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.campaign
	return &c, nil
}

func (f *fakeCampaignStore) ClaimPending(_ context.Context, _ uuid.UUID, limit int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := min(limit, len(f.pending))
	batch := f.pending[:n]
	f.pending = f.pending[n:]
	return batch, nil
}

func (f *fakeCampaignStore) MarkSent(_ context.Context, msgID uuid.UUID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msgID)
	f.campaign.SentCount++
	return nil
}

func (f *fakeCampaignStore) MarkFailed(_ context.Context, msgID uuid.UUID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, msgID)
	f.campaign.FailedCount++
	return nil
}

func (f *fakeCampaignStore) PendingCount(context.Context, uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending), nil
}

func (f *fakeCampaignStore) SetStatus(_ context.Context, _ uuid.UUID, to string, _ ...string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if to == StatusCompleted {
		f.completed = true
	}
	f.campaign.Status = to
	return true, nil
}

type fakeCampaignTemplates struct{}

func (fakeCampaignTemplates) Get(context.Context, uuid.UUID) (*tpl.Template, error) {
	return &tpl.Template{Name: "promo", Language: "en", Status: tpl.StatusApproved}, nil
}

type fakeCampaignSender struct {
	mu     sync.Mutex
	sent   []string
	failOn map[string]bool
}

func (f *fakeCampaignSender) SendTemplate(_ context.Context, _ uuid.UUID, to, _, _ string, _ []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[to] {
		return "", errors.New("recipient unreachable")
	}
	f.sent = append(f.sent, to)
	return "wamid." + to, nil
}

func pendingMessages(campaignID uuid.UUID, phones ...string) []Message {
	out := make([]Message, 0, len(phones))
	for _, p := range phones {
		out = append(out, Message{ID: uuid.New(), CampaignID: campaignID, Phone: p, Status: MessagePending})
	}
	return out
}

func testDispatcher(store *fakeCampaignStore, sender *fakeCampaignSender) (*Dispatcher, *[]time.Duration) {
	var sleeps []time.Duration
	d := &Dispatcher{
		store:     store,
		templates: fakeCampaignTemplates{},
		sender:    sender,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		interval:  30 * time.Second,
		now:       time.Now,
		sleep:     func(d time.Duration) { sleeps = append(sleeps, d) },
		inFlight:  map[uuid.UUID]struct{}{},
	}
	return d, &sleeps
}

func TestDispatchPacing(t *testing.T) {
	id := uuid.New()
	store := &fakeCampaignStore{
		campaign: Campaign{ID: id, TenantID: uuid.New(), Status: StatusRunning, Pacing: PacingSlow, TotalContacts: 3},
		pending:  pendingMessages(id, "+111", "+222", "+333"),
	}
	sender := &fakeCampaignSender{}
	d, sleeps := testDispatcher(store, sender)

	d.dispatch(context.Background(), &store.campaign)

	assert.Equal(t, []string{"+111", "+222", "+333"}, sender.sent, "strictly sequential, in claim order")
	// Pacing sleep between consecutive sends, not before the first.
	require.Len(t, *sleeps, 2)
	assert.Equal(t, 5*time.Second, (*sleeps)[0])
	assert.True(t, store.completed, "fully sent campaign completes")
}

func TestDispatchContinuesPastFailures(t *testing.T) {
	id := uuid.New()
	store := &fakeCampaignStore{
		campaign: Campaign{ID: id, TenantID: uuid.New(), Status: StatusRunning, Pacing: PacingFast, TotalContacts: 3},
		pending:  pendingMessages(id, "+111", "+222", "+333"),
	}
	sender := &fakeCampaignSender{failOn: map[string]bool{"+222": true}}
	d, _ := testDispatcher(store, sender)

	d.dispatch(context.Background(), &store.campaign)

	assert.Equal(t, []string{"+111", "+333"}, sender.sent)
	assert.Len(t, store.failed, 1)
	assert.Len(t, store.sent, 2)
	assert.False(t, store.completed, "campaign with failures stays RUNNING")
}

func TestDispatchRespectsWorkingHours(t *testing.T) {
	id := uuid.New()
	store := &fakeCampaignStore{
		campaign: Campaign{
			ID: id, TenantID: uuid.New(), Status: StatusRunning, Pacing: PacingNormal,
			RespectWorkingHours: true, WorkingHoursStart: 9, WorkingHoursEnd: 17,
		},
		pending: pendingMessages(id, "+111"),
	}
	sender := &fakeCampaignSender{}
	d, _ := testDispatcher(store, sender)
	d.now = func() time.Time { return time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC) }

	d.dispatch(context.Background(), &store.campaign)

	assert.Empty(t, sender.sent, "outside working hours the cycle is skipped")
	assert.Len(t, store.pending, 1)
}

func TestDispatchInFlightGuard(t *testing.T) {
	id := uuid.New()
	store := &fakeCampaignStore{
		campaign: Campaign{ID: id, TenantID: uuid.New(), Status: StatusRunning, Pacing: PacingNormal, TotalContacts: 1},
		pending:  pendingMessages(id, "+111"),
	}
	d, _ := testDispatcher(store, &fakeCampaignSender{})

	require.True(t, d.claim(id))
	assert.False(t, d.claim(id), "campaign mid-batch cannot be re-entered")
	d.release(id)
	assert.True(t, d.claim(id))
}

func TestPaceDelay(t *testing.T) {
	assert.Equal(t, 5*time.Second, paceDelay(PacingSlow))
	assert.Equal(t, 2*time.Second, paceDelay(PacingNormal))
	assert.Equal(t, time.Second, paceDelay(PacingFast))
	assert.Equal(t, 2*time.Second, paceDelay("unknown"), "defaults to normal")
}

func TestPromoterMaterializesDueCampaigns(t *testing.T) {
	id := uuid.New()
	at := time.Now().Add(-time.Minute)
	store := &fakeCampaignStore{
		campaign: Campaign{ID: id, TenantID: uuid.New(), Status: StatusScheduled, ScheduledAt: &at},
	}
	mat := &fakePromoterStore{fakeCampaignStore: store}
	p := &Promoter{
		store:    store,
		mat:      mat,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		interval: time.Minute,
		now:      time.Now,
	}

	p.promote(context.Background())

	assert.Equal(t, 1, mat.materialized)
	assert.Equal(t, StatusRunning, store.campaign.Status)
}

type fakePromoterStore struct {
	*fakeCampaignStore
	materialized int
}

func (f *fakePromoterStore) DueScheduled(context.Context, time.Time) ([]Campaign, error) {
	if f.campaign.Status == StatusScheduled {
		return []Campaign{f.campaign}, nil
	}
	return nil, nil
}

func (f *fakePromoterStore) Materialize(_ context.Context, c *Campaign) (int, error) {
	f.materialized++
	c.TotalContacts = 5
	return 5, nil
}
