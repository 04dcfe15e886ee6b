package automation

import (
	"context"
	"log/slog"
	"strings"
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

type engineStore interface {
	ActiveRules(ctx context.Context) ([]Rule, error)
	WindowExpiredTargets(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]Target, error)
	CreatedInWindowTargets(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]Target, error)
	LabelTargets(ctx context.Context, tenantID, labelID uuid.UUID, since time.Time) ([]Target, error)
	HasLogSince(ctx context.Context, ruleID, conversationID uuid.UUID, since time.Time) (bool, error)
	CountSuccesses(ctx context.Context, ruleID uuid.UUID, phone string, since time.Time) (int, error)
	InsertLog(ctx context.Context, l Log) error
}

type templateGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*template.Template, error)
}

// Engine polls active rules and fires matching triggers. One rule failing
// never stops the sweep.
type Engine struct {
	store     engineStore
	templates templateGetter
	sender    TemplateSender
	logger    *slog.Logger
	interval  time.Duration
	now       func() time.Time
}

func NewEngine(store *Store, templates *template.Store, sender TemplateSender, logger *slog.Logger, interval time.Duration) *Engine {
	return &Engine{
		store:     store,
		templates: templates,
		sender:    sender,
		logger:    logger,
		interval:  interval,
		now:       time.Now,
	}
}

// Run executes the poll loop until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("automation engine started", "interval", e.interval)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("automation engine stopped")
			return ctx.Err()
		case <-ticker.C:
			e.poll(ctx)
		}
	}
}

func (e *Engine) poll(ctx context.Context) {
	rules, err := e.store.ActiveRules(ctx)
	if err != nil {
		e.logger.Error("loading active rules", "error", err)
		return
	}

	now := e.now().UTC()
	for _, rule := range rules {
		if !withinActiveWindow(rule, now) {
			continue
		}
		// Each rule runs under its own tenant's scope.
		ruleCtx := tenant.NewContext(ctx, tenant.Context{TenantID: &rule.TenantID})
		if err := e.runRule(ruleCtx, rule, now); err != nil {
			e.logger.Error("running automation rule", "error", err, "rule_id", rule.ID)
		}
	}
}

func (e *Engine) runRule(ctx context.Context, rule Rule, now time.Time) error {
	var (
		targets []Target
		err     error
	)

	switch rule.TriggerType {
	case TriggerWindowExpired:
		// Fire when the 24h service window (plus the configured delay)
		// closed during this poll interval.
		to := now.Add(-messagingWindow - time.Duration(rule.SendAfterMinutes)*time.Minute)
		targets, err = e.store.WindowExpiredTargets(ctx, rule.TenantID, to.Add(-e.interval), to)

	case TriggerTimeDelay:
		to := now.Add(-time.Duration(rule.DelayMinutes) * time.Minute)
		targets, err = e.store.CreatedInWindowTargets(ctx, rule.TenantID, to.Add(-e.interval), to)

	case TriggerLabelAssigned:
		targets, err = e.labelTargets(ctx, rule, now)

	case TriggerManual:
		// Fired through the API, never by the poll.
		return nil
	}
	if err != nil {
		return err
	}

	for _, t := range targets {
		e.Fire(ctx, rule, t)
	}
	return nil
}

func (e *Engine) labelTargets(ctx context.Context, rule Rule, now time.Time) ([]Target, error) {
	if rule.LabelID == nil {
		return nil, nil
	}
	candidates, err := e.store.LabelTargets(ctx, rule.TenantID, *rule.LabelID, now.Add(-labelLookback))
	if err != nil {
		return nil, err
	}

	var out []Target
	for _, t := range candidates {
		if now.Before(t.MatchedAt.Add(time.Duration(rule.SendAfterMinutes) * time.Minute)) {
			continue // delay not yet elapsed, a later poll picks it up
		}
		// An attempt at or after the assignment means this event was
		// already handled; without this, every poll inside the lookback
		// would refire.
		fired, err := e.store.HasLogSince(ctx, rule.ID, t.ConversationID, t.MatchedAt)
		if err != nil {
			return nil, err
		}
		if fired {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Fire sends the rule's template to one target, subject to the frequency
// gate, and logs the attempt either way.
func (e *Engine) Fire(ctx context.Context, rule Rule, t Target) {
	allowed, err := e.allowSend(ctx, rule, t.Phone)
	if err != nil {
		e.logger.Error("checking sending frequency", "error", err, "rule_id", rule.ID)
		return
	}
	if !allowed {
		return
	}

	tpl, err := e.templates.Get(ctx, rule.TemplateID)
	if err != nil {
		e.logger.Error("loading rule template", "error", err, "rule_id", rule.ID)
		return
	}

	entry := Log{
		TenantID:       rule.TenantID,
		RuleID:         rule.ID,
		ConversationID: &t.ConversationID,
		Phone:          t.Phone,
		Status:         LogSuccess,
	}
	outcome := "success"
	if _, err := e.sender.SendTemplate(ctx, rule.TenantID, t.Phone, tpl.Name, tpl.Language, nil); err != nil {
		entry.Status = LogFailed
		entry.Error = err.Error()
		outcome = "failed"
		e.logger.Warn("automation send failed", "error", err, "rule_id", rule.ID, "phone", t.Phone)
	}

	if err := e.store.InsertLog(ctx, entry); err != nil {
		e.logger.Error("writing automation log", "error", err, "rule_id", rule.ID)
	}
	telemetry.AutomationRulesFiredTotal.WithLabelValues(rule.TriggerType, outcome).Inc()
}

// allowSend applies the hard send cap and the frequency window for one
// rule/contact pair. Only successful sends count.
func (e *Engine) allowSend(ctx context.Context, rule Rule, phone string) (bool, error) {
	if rule.MaxSendCount > 0 {
		total, err := e.store.CountSuccesses(ctx, rule.ID, phone, time.Time{})
		if err != nil {
			return false, err
		}
		if total >= rule.MaxSendCount {
			return false, nil
		}
	}

	since := frequencyWindow(rule.Frequency, e.now().UTC())
	n, err := e.store.CountSuccesses(ctx, rule.ID, phone, since)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// frequencyWindow returns the start of the period in which a prior
// successful send blocks another one. ONCE blocks forever (zero time).
func frequencyWindow(frequency string, now time.Time) time.Time {
	switch frequency {
	case FrequencyEveryWindow:
		return now.Add(-messagingWindow)
	case FrequencyDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	case FrequencyWeekly:
		return now.AddDate(0, 0, -7)
	default: // FrequencyOnce
		return time.Time{}
	}
}

// withinActiveWindow reports whether the rule may fire at the given moment.
// Empty active days means every day; [start, end) hours with end 0 or 24
// meaning no hour restriction when start is also 0.
func withinActiveWindow(rule Rule, now time.Time) bool {
	if len(rule.ActiveDays) > 0 {
		day := strings.ToLower(now.Weekday().String()[:3])
		found := false
		for _, d := range rule.ActiveDays {
			if strings.EqualFold(d, day) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	start, end := rule.ActiveHoursStart, rule.ActiveHoursEnd
	if start == 0 && (end == 0 || end == 24) {
		return true
	}
	h := now.Hour()
	if start <= end {
		return h >= start && h < end
	}
	// Overnight window, e.g. 22–6.
	return h >= start || h < end
}
