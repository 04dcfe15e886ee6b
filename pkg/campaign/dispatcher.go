package campaign

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coverdesk/coverdesk/internal/telemetry"
	"github.com/coverdesk/coverdesk/pkg/tenant"
	"github.com/coverdesk/coverdesk/pkg/template"
)

// TemplateSender sends an approved template message. Implemented by the
// WhatsApp client.
type TemplateSender interface {
	SendTemplate(ctx context.Context, tenantID uuid.UUID, to, name, language string, params []string) (string, error)
}

type dispatchStore interface {
	Running(ctx context.Context) ([]Campaign, error)
	Get(ctx context.Context, id uuid.UUID) (*Campaign, error)
	ClaimPending(ctx context.Context, campaignID uuid.UUID, limit int) ([]Message, error)
	MarkSent(ctx context.Context, msgID uuid.UUID, externalID string) error
	MarkFailed(ctx context.Context, msgID uuid.UUID, sendErr string) error
	PendingCount(ctx context.Context, campaignID uuid.UUID) (int, error)
	SetStatus(ctx context.Context, id uuid.UUID, to string, from ...string) (bool, error)
}

type templateGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*template.Template, error)
}

// Dispatcher drains RUNNING campaigns in paced batches. An in-process guard
// keeps one campaign from being entered twice while a batch is mid-flight;
// running multiple dispatcher instances is not supported.
type Dispatcher struct {
	store     dispatchStore
	templates templateGetter
	sender    TemplateSender
	logger    *slog.Logger
	interval  time.Duration
	now       func() time.Time
	sleep     func(time.Duration)

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
}

func NewDispatcher(store *Store, templates *template.Store, sender TemplateSender, logger *slog.Logger, interval time.Duration) *Dispatcher {
	return &Dispatcher{
		store:     store,
		templates: templates,
		sender:    sender,
		logger:    logger,
		interval:  interval,
		now:       time.Now,
		sleep:     time.Sleep,
		inFlight:  map[uuid.UUID]struct{}{},
	}
}

// Run executes the dispatch loop until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("campaign dispatcher started", "interval", d.interval)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("campaign dispatcher stopped")
			return ctx.Err()
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	campaigns, err := d.store.Running(ctx)
	if err != nil {
		d.logger.Error("loading running campaigns", "error", err)
		return
	}
	for i := range campaigns {
		d.dispatch(ctx, &campaigns[i])
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, c *Campaign) {
	now := d.now().UTC()
	if c.RespectWorkingHours && !withinWorkingHours(c, now) {
		return
	}
	if !d.claim(c.ID) {
		return // previous batch for this campaign still in flight
	}
	defer d.release(c.ID)

	ctx = tenant.NewContext(ctx, tenant.Context{TenantID: &c.TenantID})

	tpl, err := d.templates.Get(ctx, c.TemplateID)
	if err != nil {
		d.logger.Error("loading campaign template", "error", err, "campaign_id", c.ID)
		return
	}

	batch, err := d.store.ClaimPending(ctx, c.ID, dispatchBatch)
	if err != nil {
		d.logger.Error("claiming campaign batch", "error", err, "campaign_id", c.ID)
		return
	}

	// Strictly sequential: pacing bounds the tenant's outbound rate, and a
	// single failure never aborts the rest of the batch.
	for i, msg := range batch {
		if ctx.Err() != nil {
			return
		}
		if i > 0 {
			d.sleep(paceDelay(c.Pacing))
		}

		externalID, sendErr := d.sender.SendTemplate(ctx, c.TenantID, msg.Phone, tpl.Name, tpl.Language, nil)
		if sendErr != nil {
			d.logger.Warn("campaign send failed", "error", sendErr, "campaign_id", c.ID, "phone", msg.Phone)
			if err := d.store.MarkFailed(ctx, msg.ID, sendErr.Error()); err != nil {
				d.logger.Error("marking message failed", "error", err, "message_id", msg.ID)
			}
			telemetry.CampaignMessagesSentTotal.WithLabelValues("failed").Inc()
			continue
		}
		if err := d.store.MarkSent(ctx, msg.ID, externalID); err != nil {
			d.logger.Error("marking message sent", "error", err, "message_id", msg.ID)
		}
		telemetry.CampaignMessagesSentTotal.WithLabelValues("sent").Inc()
	}

	d.maybeComplete(ctx, c.ID)
}

// maybeComplete finishes a campaign once nothing is pending and every
// contact was reached. A campaign with failures stays RUNNING for the
// operator to retry or cancel.
func (d *Dispatcher) maybeComplete(ctx context.Context, id uuid.UUID) {
	pending, err := d.store.PendingCount(ctx, id)
	if err != nil {
		d.logger.Error("counting pending messages", "error", err, "campaign_id", id)
		return
	}
	if pending > 0 {
		return
	}

	fresh, err := d.store.Get(ctx, id)
	if err != nil {
		d.logger.Error("reloading campaign", "error", err, "campaign_id", id)
		return
	}
	if fresh.SentCount < fresh.TotalContacts {
		return
	}

	if done, err := d.store.SetStatus(ctx, id, StatusCompleted, StatusRunning); err != nil {
		d.logger.Error("completing campaign", "error", err, "campaign_id", id)
	} else if done {
		d.logger.Info("campaign completed", "campaign_id", id, "sent", fresh.SentCount)
	}
}

func (d *Dispatcher) claim(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inFlight[id]; busy {
		return false
	}
	d.inFlight[id] = struct{}{}
	return true
}

func (d *Dispatcher) release(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, id)
}

func withinWorkingHours(c *Campaign, now time.Time) bool {
	start, end := c.WorkingHoursStart, c.WorkingHoursEnd
	if start == 0 && (end == 0 || end == 24) {
		return true
	}
	h := now.Hour()
	if start <= end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

// Promoter moves due SCHEDULED campaigns into RUNNING, snapshotting the
// target list at promotion time.
type Promoter struct {
	store    dispatchStore
	mat      materializer
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
}

type materializer interface {
	DueScheduled(ctx context.Context, now time.Time) ([]Campaign, error)
	Materialize(ctx context.Context, c *Campaign) (int, error)
}

func NewPromoter(store *Store, logger *slog.Logger, interval time.Duration) *Promoter {
	return &Promoter{
		store:    store,
		mat:      store,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Run executes the promotion loop until the context is cancelled.
func (p *Promoter) Run(ctx context.Context) error {
	p.logger.Info("campaign promoter started", "interval", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("campaign promoter stopped")
			return ctx.Err()
		case <-ticker.C:
			p.promote(ctx)
		}
	}
}

func (p *Promoter) promote(ctx context.Context) {
	due, err := p.mat.DueScheduled(ctx, p.now().UTC())
	if err != nil {
		p.logger.Error("loading due campaigns", "error", err)
		return
	}

	for i := range due {
		c := &due[i]
		n, err := p.mat.Materialize(ctx, c)
		if err != nil {
			p.logger.Error("materializing campaign", "error", err, "campaign_id", c.ID)
			continue
		}
		if _, err := p.store.SetStatus(ctx, c.ID, StatusRunning, StatusScheduled); err != nil {
			p.logger.Error("starting campaign", "error", err, "campaign_id", c.ID)
			continue
		}
		p.logger.Info("campaign started", "campaign_id", c.ID, "contacts", n)
	}
}
