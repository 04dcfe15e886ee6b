package automation

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tpl "github.com/coverdesk/coverdesk/pkg/template"
)

type fakeRuleStore struct {
	successes map[string][]time.Time // phone → successful send times
	logs      []Log
	logSince  map[uuid.UUID]time.Time // conversation → last log time
}

func newFakeRuleStore() *fakeRuleStore {
	return &fakeRuleStore{
		successes: map[string][]time.Time{},
		logSince:  map[uuid.UUID]time.Time{},
	}
}

func (f *fakeRuleStore) ActiveRules(context.Context) ([]Rule, error) { return nil, nil }

func (f *fakeRuleStore) WindowExpiredTargets(context.Context, uuid.UUID, time.Time, time.Time) ([]Target, error) {
	return nil, nil
}

func (f *fakeRuleStore) CreatedInWindowTargets(context.Context, uuid.UUID, time.Time, time.Time) ([]Target, error) {
	return nil, nil
}

func (f *fakeRuleStore) LabelTargets(context.Context, uuid.UUID, uuid.UUID, time.Time) ([]Target, error) {
	return nil, nil
}

func (f *fakeRuleStore) HasLogSince(_ context.Context, _ uuid.UUID, convID uuid.UUID, since time.Time) (bool, error) {
	last, ok := f.logSince[convID]
	return ok && !last.Before(since), nil
}

func (f *fakeRuleStore) CountSuccesses(_ context.Context, _ uuid.UUID, phone string, since time.Time) (int, error) {
	n := 0
	for _, at := range f.successes[phone] {
		if !at.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeRuleStore) InsertLog(_ context.Context, l Log) error {
	f.logs = append(f.logs, l)
	return nil
}

type fakeTemplates struct{ status string }

func (f *fakeTemplates) Get(context.Context, uuid.UUID) (*tpl.Template, error) {
	return &tpl.Template{Name: "follow_up", Language: "en", Status: f.status}, nil
}

type fakeTemplateSender struct {
	sent []string
	err  error
}

func (f *fakeTemplateSender) SendTemplate(_ context.Context, _ uuid.UUID, to, _, _ string, _ []string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, to)
	return "wamid.tpl", nil
}

func testEngine(store *fakeRuleStore, sender *fakeTemplateSender, now time.Time) *Engine {
	return &Engine{
		store:     store,
		templates: &fakeTemplates{status: tpl.StatusApproved},
		sender:    sender,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		interval:  10 * time.Minute,
		now:       func() time.Time { return now },
	}
}

func TestFrequencyWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		frequency string
		want      time.Time
	}{
		{FrequencyOnce, time.Time{}},
		{FrequencyEveryWindow, now.Add(-24 * time.Hour)},
		{FrequencyDaily, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)},
		{FrequencyWeekly, now.AddDate(0, 0, -7)},
	}
	for _, tc := range tests {
		t.Run(tc.frequency, func(t *testing.T) {
			assert.Equal(t, tc.want, frequencyWindow(tc.frequency, now))
		})
	}
}

func TestAllowSend(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	phone := "+2348012345678"

	tests := []struct {
		name      string
		frequency string
		maxSend   int
		history   []time.Time
		want      bool
	}{
		{"once with no history", FrequencyOnce, 0, nil, true},
		{"once blocks after any success", FrequencyOnce, 0, []time.Time{now.AddDate(0, -1, 0)}, false},
		{"every-window allows after 24h", FrequencyEveryWindow, 0, []time.Time{now.Add(-25 * time.Hour)}, true},
		{"every-window blocks within 24h", FrequencyEveryWindow, 0, []time.Time{now.Add(-2 * time.Hour)}, false},
		{"daily allows yesterday's send", FrequencyDaily, 0, []time.Time{now.AddDate(0, 0, -1)}, true},
		{"daily blocks same calendar day", FrequencyDaily, 0, []time.Time{now.Add(-14 * time.Hour)}, false},
		{"weekly allows 8 days later", FrequencyWeekly, 0, []time.Time{now.AddDate(0, 0, -8)}, true},
		{"weekly blocks within 7 days", FrequencyWeekly, 0, []time.Time{now.AddDate(0, 0, -3)}, false},
		{"max send cap trumps frequency", FrequencyEveryWindow, 2,
			[]time.Time{now.AddDate(0, 0, -10), now.AddDate(0, 0, -5)}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeRuleStore()
			store.successes[phone] = tc.history
			eng := testEngine(store, &fakeTemplateSender{}, now)

			got, err := eng.allowSend(context.Background(), Rule{
				ID: uuid.New(), Frequency: tc.frequency, MaxSendCount: tc.maxSend,
			}, phone)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestWithinActiveWindow(t *testing.T) {
	// 2026-03-10 is a Tuesday.
	tue14 := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	tue23 := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	sat10 := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		rule Rule
		at   time.Time
		want bool
	}{
		{"unrestricted", Rule{}, tue23, true},
		{"inside business hours", Rule{ActiveHoursStart: 9, ActiveHoursEnd: 17}, tue14, true},
		{"after business hours", Rule{ActiveHoursStart: 9, ActiveHoursEnd: 17}, tue23, false},
		{"end hour is exclusive", Rule{ActiveHoursStart: 9, ActiveHoursEnd: 14}, tue14, false},
		{"weekday match", Rule{ActiveDays: []string{"mon", "tue", "wed"}}, tue14, true},
		{"weekend excluded", Rule{ActiveDays: []string{"mon", "tue", "wed"}}, sat10, false},
		{"overnight window", Rule{ActiveHoursStart: 22, ActiveHoursEnd: 6}, tue23, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, withinActiveWindow(tc.rule, tc.at))
		})
	}
}

func TestFireLogsSuccessAndFailure(t *testing.T) {
	now := time.Now().UTC()
	rule := Rule{ID: uuid.New(), TenantID: uuid.New(), TriggerType: TriggerManual, Frequency: FrequencyDaily}
	target := Target{ConversationID: uuid.New(), Phone: "+2348012345678"}

	store := newFakeRuleStore()
	sender := &fakeTemplateSender{}
	testEngine(store, sender, now).Fire(context.Background(), rule, target)

	require.Len(t, store.logs, 1)
	assert.Equal(t, LogSuccess, store.logs[0].Status)
	assert.Equal(t, []string{target.Phone}, sender.sent)

	store = newFakeRuleStore()
	sender = &fakeTemplateSender{err: assert.AnError}
	testEngine(store, sender, now).Fire(context.Background(), rule, target)

	require.Len(t, store.logs, 1)
	assert.Equal(t, LogFailed, store.logs[0].Status)
	assert.NotEmpty(t, store.logs[0].Error)
}

func TestLabelTargetsDedup(t *testing.T) {
	now := time.Now().UTC()
	labelID := uuid.New()
	rule := Rule{ID: uuid.New(), TenantID: uuid.New(), TriggerType: TriggerLabelAssigned, LabelID: &labelID}

	handled := Target{ConversationID: uuid.New(), Phone: "+111", MatchedAt: now.Add(-10 * time.Minute)}
	fresh := Target{ConversationID: uuid.New(), Phone: "+222", MatchedAt: now.Add(-5 * time.Minute)}
	delayed := Target{ConversationID: uuid.New(), Phone: "+333", MatchedAt: now.Add(-1 * time.Minute)}

	store := newFakeRuleStore()
	store.logSince[handled.ConversationID] = now.Add(-9 * time.Minute)
	eng := testEngine(store, &fakeTemplateSender{}, now)
	eng.store = &labelFakeStore{fakeRuleStore: store, targets: []Target{handled, fresh, delayed}}

	rule.SendAfterMinutes = 3
	got, err := eng.labelTargets(context.Background(), rule, now)
	require.NoError(t, err)

	require.Len(t, got, 1, "already-handled and not-yet-due targets are skipped")
	assert.Equal(t, fresh.ConversationID, got[0].ConversationID)
}

type labelFakeStore struct {
	*fakeRuleStore
	targets []Target
}

func (f *labelFakeStore) LabelTargets(context.Context, uuid.UUID, uuid.UUID, time.Time) ([]Target, error) {
	return f.targets, nil
}
