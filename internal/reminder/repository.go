package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/clinicops/platform/internal/shared/errors"
	"github.com/clinicops/platform/internal/shared/tenant"
	"github.com/clinicops/platform/internal/shared/types"
)

const ruleColumns = `id, tenant_id, name, is_enabled, timing_type, send_hour, send_minute,
	target_day_offset, message_format, message_template, created_at, updated_at`

// Repository handles reminder persistence
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new reminder repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListActiveTenants returns the tenants to dispatch for.
func (r *Repository) ListActiveTenants(ctx context.Context) ([]types.ID, error) {
	return tenant.ListActive(ctx, r.pool)
}

// ListEnabledRules returns the tenant's enabled rules.
func (r *Repository) ListEnabledRules(ctx context.Context, tenantID types.ID) ([]Rule, error) {
	return tenant.Select[Rule](ctx, r.pool, tenantID,
		`SELECT `+ruleColumns+` FROM reminder_rules
		 WHERE tenant_id = $1 AND is_enabled
		 ORDER BY created_at, id`)
}

// ListReservations returns the reservations on date with their patients.
func (r *Repository) ListReservations(ctx context.Context, tenantID types.ID, date string) ([]Target, error) {
	return tenant.Select[Target](ctx, r.pool, tenantID, `
		SELECT r.id AS reservation_id,
		       r.patient_id,
		       p.name AS patient_name,
		       p.line_user_id,
		       to_char(r.reserved_date, 'YYYY-MM-DD') AS date,
		       r.start_time,
		       r.menu_name
		FROM reservations r
		JOIN patients p ON p.id = r.patient_id AND p.tenant_id = r.tenant_id
		WHERE r.tenant_id = $1 AND r.reserved_date = $2::date AND r.status <> 'cancelled'
		ORDER BY r.start_time, r.id`, date)
}

// HasSent reports whether the send log has the (rule, reservation, day) entry.
func (r *Repository) HasSent(ctx context.Context, tenantID, ruleID, reservationID types.ID, day string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM reminder_send_logs
			WHERE tenant_id = $1 AND rule_id = $2 AND reservation_id = $3 AND sent_date = $4::date
		)`, tenantID, ruleID, reservationID, day).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check send log: %w", err)
	}
	return exists, nil
}

// RecordSent inserts the log entry; a concurrent duplicate is a no-op.
func (r *Repository) RecordSent(ctx context.Context, e SendLogEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reminder_send_logs (id, tenant_id, rule_id, reservation_id, sent_date, sent_at)
		VALUES ($1, $2, $3, $4, $5::date, $6)
		ON CONFLICT (rule_id, reservation_id, sent_date) DO NOTHING`,
		e.ID, e.TenantID, e.RuleID, e.ReservationID, e.SentDate, e.SentAt)
	if err != nil {
		return fmt.Errorf("record send log: %w", err)
	}
	return nil
}

// --- Rule CRUD ---

// ListRules returns every rule of the tenant.
func (r *Repository) ListRules(ctx context.Context, tenantID types.ID) ([]Rule, error) {
	return tenant.Select[Rule](ctx, r.pool, tenantID,
		`SELECT `+ruleColumns+` FROM reminder_rules WHERE tenant_id = $1 ORDER BY created_at, id`)
}

// GetRule returns one rule or a not-found error.
func (r *Repository) GetRule(ctx context.Context, tenantID, id types.ID) (*Rule, error) {
	return tenant.Get[Rule](ctx, r.pool, tenantID, "reminder rule", id.String(),
		`SELECT `+ruleColumns+` FROM reminder_rules WHERE tenant_id = $1 AND id = $2`, id)
}

// CreateRule inserts rule and assigns its id.
func (r *Repository) CreateRule(ctx context.Context, rule *Rule) error {
	now := time.Now().UTC()
	rule.ID = types.NewID()
	rule.CreatedAt, rule.UpdatedAt = now, now

	_, err := tenant.Exec(ctx, r.pool, rule.TenantID, `
		INSERT INTO reminder_rules (tenant_id, id, name, is_enabled, timing_type, send_hour, send_minute,
			target_day_offset, message_format, message_template, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rule.ID, rule.Name, rule.IsEnabled, rule.TimingType, rule.SendHour, rule.SendMinute,
		rule.TargetDayOffset, rule.MessageFormat, rule.MessageTemplate, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create reminder rule: %w", err)
	}
	return nil
}

// UpdateRule overwrites an existing rule.
func (r *Repository) UpdateRule(ctx context.Context, rule *Rule) error {
	rule.UpdatedAt = time.Now().UTC()
	n, err := tenant.Exec(ctx, r.pool, rule.TenantID, `
		UPDATE reminder_rules SET name = $3, is_enabled = $4, timing_type = $5, send_hour = $6,
			send_minute = $7, target_day_offset = $8, message_format = $9, message_template = $10,
			updated_at = $11
		WHERE tenant_id = $1 AND id = $2`,
		rule.ID, rule.Name, rule.IsEnabled, rule.TimingType, rule.SendHour, rule.SendMinute,
		rule.TargetDayOffset, rule.MessageFormat, rule.MessageTemplate, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update reminder rule: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound("reminder rule", rule.ID.String())
	}
	return nil
}

// DeleteRule removes a rule.
func (r *Repository) DeleteRule(ctx context.Context, tenantID, id types.ID) error {
	n, err := tenant.Exec(ctx, r.pool, tenantID, `DELETE FROM reminder_rules WHERE tenant_id = $1 AND id = $2`, id)
	if err != nil {
		return fmt.Errorf("delete reminder rule: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound("reminder rule", id.String())
	}
	return nil
}
