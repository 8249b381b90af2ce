package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clinicops/platform/internal/notification"
	"github.com/clinicops/platform/internal/schedule"
	"github.com/clinicops/platform/internal/shared/events"
	"github.com/clinicops/platform/internal/shared/metrics"
	"github.com/clinicops/platform/internal/shared/types"
)

// Store is the persistence the dispatcher needs. Every call is tenant-scoped.
type Store interface {
	ListActiveTenants(ctx context.Context) ([]types.ID, error)
	ListEnabledRules(ctx context.Context, tenantID types.ID) ([]Rule, error)
	ListReservations(ctx context.Context, tenantID types.ID, date string) ([]Target, error)
	HasSent(ctx context.Context, tenantID, ruleID, reservationID types.ID, day string) (bool, error)
	RecordSent(ctx context.Context, entry SendLogEntry) error
}

// Dispatcher sends reservation reminders for every enabled rule whose send
// window contains the current time.
type Dispatcher struct {
	store       Store
	sender      notification.Sender
	guard       Guard
	publisher   events.Publisher
	logger      zerolog.Logger
	concurrency int
	now         func() time.Time
}

// DispatcherConfig tunes a Dispatcher. Now defaults to time.Now.
type DispatcherConfig struct {
	Concurrency int
	Guard       Guard
	Publisher   events.Publisher
	Now         func() time.Time
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(store Store, sender notification.Sender, cfg DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		sender:      sender,
		guard:       cfg.Guard,
		publisher:   cfg.Publisher,
		logger:      logger.With().Str("component", "reminder_dispatcher").Logger(),
		concurrency: cfg.Concurrency,
		now:         cfg.Now,
	}
	if d.guard == nil {
		d.guard = NopGuard{}
	}
	if d.publisher == nil {
		d.publisher = events.Nop{}
	}
	if d.concurrency <= 0 {
		d.concurrency = 1
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Dispatch runs every active tenant at the dispatcher's current time. A
// tenant whose rules or reservations cannot be loaded is reported in
// Result.Errors and the other tenants still run. The returned error is set
// only when the tenant list itself cannot be loaded.
func (d *Dispatcher) Dispatch(ctx context.Context) (Result, error) {
	started := time.Now()
	defer func() { metrics.RecordDispatchRun(time.Since(started)) }()
	now := d.now()

	tenants, err := d.store.ListActiveTenants(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list tenants: %w", err)
	}

	var total Result
	for _, tenantID := range tenants {
		res, err := d.DispatchTenant(ctx, tenantID, now)
		total.Add(res)
		if err != nil {
			d.logger.Error().Err(err).Str("tenant_id", tenantID.String()).Msg("tenant dispatch incomplete")
			total.Errors = append(total.Errors, fmt.Sprintf("tenant %s: %v", tenantID, err))
		}
	}

	d.logger.Info().
		Int("tenants", len(tenants)).
		Int("sent", total.Sent).
		Int("failed", total.Failed).
		Int("no_uid", total.NoUID).
		Int("skipped", total.Skipped).
		Int("errors", len(total.Errors)).
		Msg("reminder dispatch finished")

	return total, nil
}

// DispatchTenant runs one tenant's rules against now.
func (d *Dispatcher) DispatchTenant(ctx context.Context, tenantID types.ID, now time.Time) (Result, error) {
	rules, err := d.store.ListEnabledRules(ctx, tenantID)
	if err != nil {
		return Result{}, fmt.Errorf("list rules: %w", err)
	}

	today := schedule.JSTToday(now)
	var total Result
	var errs []error
	for _, rule := range rules {
		targets, err := d.dueTargets(ctx, tenantID, rule, today, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
			continue
		}
		if len(targets) == 0 {
			continue
		}
		total.Add(d.sendAll(ctx, tenantID, rule, targets, today, now))
	}
	return total, errors.Join(errs...)
}

// dueTargets returns the reservations rule should remind about right now.
func (d *Dispatcher) dueTargets(ctx context.Context, tenantID types.ID, rule Rule, today string, now time.Time) ([]Target, error) {
	switch rule.TimingType {
	case TimingBeforeHours:
		return d.beforeHoursTargets(ctx, tenantID, rule, today, now)
	default:
		if !schedule.IsInSendWindow(rule.SendHour, rule.SendMinute, now) {
			return nil, nil
		}
		date, err := schedule.AddDays(today, rule.TargetDayOffset)
		if err != nil {
			return nil, err
		}
		return d.store.ListReservations(ctx, tenantID, date)
	}
}

// beforeHoursTargets looks at today's and tomorrow's reservations and keeps
// those whose start minus the rule's lead time falls in the send window.
func (d *Dispatcher) beforeHoursTargets(ctx context.Context, tenantID types.ID, rule Rule, today string, now time.Time) ([]Target, error) {
	lead := time.Duration(rule.SendHour)*time.Hour + time.Duration(rule.SendMinute)*time.Minute
	tomorrow, err := schedule.AddOneDay(today)
	if err != nil {
		return nil, err
	}

	var due []Target
	for _, date := range []string{today, tomorrow} {
		reservations, err := d.store.ListReservations(ctx, tenantID, date)
		if err != nil {
			return nil, err
		}
		for _, t := range reservations {
			hour, minute, err := schedule.ParseClock(t.StartTime)
			if err != nil {
				d.logger.Warn().Str("reservation_id", t.ReservationID.String()).Str("start_time", t.StartTime).Msg("unparseable start time")
				continue
			}
			start, err := schedule.At(t.Date, hour, minute)
			if err != nil {
				continue
			}
			if schedule.IsInWindowBefore(start.Add(-lead), now) {
				due = append(due, t)
			}
		}
	}
	return due, nil
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeNoUID
	outcomeSkipped
)

var outcomeLabels = map[outcome]string{
	outcomeSent:    "sent",
	outcomeFailed:  "failed",
	outcomeNoUID:   "no_uid",
	outcomeSkipped: "skipped",
}

// sendAll sends to each target in parallel. Per-target failures are counted,
// never returned, so one bad recipient cannot stop the others.
func (d *Dispatcher) sendAll(ctx context.Context, tenantID types.ID, rule Rule, targets []Target, today string, now time.Time) Result {
	var (
		mu  sync.Mutex
		res Result
		g   errgroup.Group
	)
	g.SetLimit(d.concurrency)

	for _, target := range targets {
		target := target
		g.Go(func() error {
			o := d.sendOne(ctx, tenantID, rule, target, today, now)
			metrics.RecordReminder(outcomeLabels[o])

			mu.Lock()
			defer mu.Unlock()
			switch o {
			case outcomeSent:
				res.Sent++
			case outcomeFailed:
				res.Failed++
			case outcomeNoUID:
				res.NoUID++
			case outcomeSkipped:
				res.Skipped++
			}
			return nil
		})
	}
	g.Wait()
	return res
}

func (d *Dispatcher) sendOne(ctx context.Context, tenantID types.ID, rule Rule, t Target, today string, now time.Time) outcome {
	log := d.logger.With().
		Str("tenant_id", tenantID.String()).
		Str("rule_id", rule.ID.String()).
		Str("reservation_id", t.ReservationID.String()).
		Logger()

	if t.LineUserID == "" {
		return outcomeNoUID
	}

	sent, err := d.store.HasSent(ctx, tenantID, rule.ID, t.ReservationID, today)
	if err != nil {
		log.Error().Err(err).Msg("send log lookup failed")
		return outcomeFailed
	}
	if sent {
		return outcomeSkipped
	}

	entry := NewSendLogEntry(tenantID, rule.ID, t.ReservationID, today, now)
	claimKey := entry.ID.String()
	claimed, err := d.guard.Claim(ctx, claimKey)
	if err != nil {
		// The send log still guards duplicates; carry on without the claim.
		log.Warn().Err(err).Msg("send claim unavailable")
		claimed = true
	}
	if !claimed {
		return outcomeSkipped
	}

	msg, err := BuildMessage(rule, t)
	if err != nil {
		log.Error().Err(err).Msg("render reminder failed")
		d.release(ctx, claimKey)
		return outcomeFailed
	}

	err = d.sender.Send(ctx, tenantID, notification.Push{
		To:       t.LineUserID,
		Messages: []notification.Message{msg},
		RetryKey: claimKey,
	})
	if err != nil {
		log.Warn().Err(err).Msg("reminder send failed")
		d.release(ctx, claimKey)
		return outcomeFailed
	}

	// The message is out. A failed log write keeps the claim so the TTL
	// still blocks a resend within this window.
	if err := d.store.RecordSent(ctx, entry); err != nil {
		log.Error().Err(err).Msg("send log write failed")
	}

	if err := d.publisher.Publish(ctx, events.NewEvent(events.ReminderSent, "reminder", tenantID, map[string]any{
		"rule_id":        rule.ID,
		"reservation_id": t.ReservationID,
		"patient_id":     t.PatientID,
		"sent_date":      today,
	})); err != nil {
		log.Warn().Err(err).Msg("publish reminder.sent failed")
	}
	return outcomeSent
}

func (d *Dispatcher) release(ctx context.Context, key string) {
	if err := d.guard.Release(ctx, key); err != nil {
		d.logger.Warn().Err(err).Str("claim", key).Msg("release claim failed")
	}
}
