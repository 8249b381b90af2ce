package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/clinicops/platform/internal/shared/errors"
	"github.com/clinicops/platform/internal/shared/tenant"
	"github.com/clinicops/platform/internal/shared/types"
)

const stepColumns = `id, scenario_id, sort_order, delay_type, delay_value, send_time, step_type,
	content, template_id, tag_id, mark, condition_rules, branch_true_step, branch_false_step,
	exit_condition_rules, exit_action, exit_jump_to`

const enrollmentColumns = `id, tenant_id, scenario_id, patient_id, current_step, next_fire_at, status, updated_at`

// Repository handles scenario persistence
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new scenario repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListActiveTenants returns the tenants the runner visits.
func (r *Repository) ListActiveTenants(ctx context.Context) ([]types.ID, error) {
	return tenant.ListActive(ctx, r.pool)
}

// --- Scenarios ---

// ListScenarios returns the tenant's scenarios.
func (r *Repository) ListScenarios(ctx context.Context, tenantID types.ID) ([]Scenario, error) {
	return tenant.Select[Scenario](ctx, r.pool, tenantID, `
		SELECT id, tenant_id, name, trigger_type, is_enabled, created_at, updated_at
		FROM scenarios WHERE tenant_id = $1 ORDER BY created_at, id`)
}

// GetScenario returns one scenario or a not-found error.
func (r *Repository) GetScenario(ctx context.Context, tenantID, id types.ID) (*Scenario, error) {
	return tenant.Get[Scenario](ctx, r.pool, tenantID, "scenario", id.String(), `
		SELECT id, tenant_id, name, trigger_type, is_enabled, created_at, updated_at
		FROM scenarios WHERE tenant_id = $1 AND id = $2`, id)
}

// CreateScenario inserts s and assigns its id.
func (r *Repository) CreateScenario(ctx context.Context, s *Scenario) error {
	now := time.Now().UTC()
	s.ID = types.NewID()
	s.CreatedAt, s.UpdatedAt = now, now
	if s.TriggerType == "" {
		s.TriggerType = "follow"
	}
	_, err := tenant.Exec(ctx, r.pool, s.TenantID, `
		INSERT INTO scenarios (tenant_id, id, name, trigger_type, is_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.Name, s.TriggerType, s.IsEnabled, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create scenario: %w", err)
	}
	return nil
}

// --- Steps ---

// ListSteps returns the scenario's steps by sort order.
func (r *Repository) ListSteps(ctx context.Context, tenantID, scenarioID types.ID) ([]Step, error) {
	return tenant.Select[Step](ctx, r.pool, tenantID,
		`SELECT `+stepColumns+` FROM scenario_steps
		 WHERE tenant_id = $1 AND scenario_id = $2
		 ORDER BY sort_order`, scenarioID)
}

// ReplaceSteps deletes every step of the scenario and inserts steps in one
// transaction. Step ids are reassigned.
func (r *Repository) ReplaceSteps(ctx context.Context, tenantID, scenarioID types.ID, steps []Step) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var locked string
		err := tx.QueryRow(ctx, `SELECT id::text FROM scenarios WHERE tenant_id = $1 AND id = $2 FOR UPDATE`,
			tenantID, scenarioID).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("scenario", scenarioID.String())
		}
		if err != nil {
			return fmt.Errorf("lock scenario: %w", err)
		}

		if _, err := tenant.Exec(ctx, tx, tenantID,
			`DELETE FROM scenario_steps WHERE tenant_id = $1 AND scenario_id = $2`, scenarioID); err != nil {
			return fmt.Errorf("delete steps: %w", err)
		}

		batch := &pgx.Batch{}
		for i := range steps {
			s := &steps[i]
			s.ID = types.NewID()
			s.ScenarioID = scenarioID
			batch.Queue(`
				INSERT INTO scenario_steps (id, tenant_id, scenario_id, sort_order, delay_type, delay_value,
					send_time, step_type, content, template_id, tag_id, mark, condition_rules,
					branch_true_step, branch_false_step, exit_condition_rules, exit_action, exit_jump_to)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
				s.ID, tenantID, scenarioID, s.SortOrder, s.DelayType, s.DelayValue,
				s.SendTime, s.StepType, s.Content, s.TemplateID, s.TagID, s.Mark, rulesOrEmpty(s.ConditionRules),
				s.BranchTrueStep, s.BranchFalseStep, rulesOrEmpty(s.ExitConditionRules), s.ExitAction, s.ExitJumpTo)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert steps: %w", err)
		}

		_, err = tx.Exec(ctx, `UPDATE scenarios SET updated_at = NOW() WHERE tenant_id = $1 AND id = $2`,
			tenantID, scenarioID)
		return err
	})
}

func rulesOrEmpty(rules []Rule) []Rule {
	if rules == nil {
		return []Rule{}
	}
	return rules
}

// --- Enrollments ---

// ClaimDueEnrollments leases up to limit due enrollments until leaseUntil
// and returns them. Rows leased by another runner are skipped, so
// overlapping passes never receive the same enrollment.
func (r *Repository) ClaimDueEnrollments(ctx context.Context, tenantID types.ID, now, leaseUntil time.Time, limit int) ([]Enrollment, error) {
	return tenant.Select[Enrollment](ctx, r.pool, tenantID, `
		UPDATE scenario_enrollments SET lease_until = $3
		WHERE id IN (
			SELECT id FROM scenario_enrollments
			WHERE tenant_id = $1 AND status = 'active' AND next_fire_at <= $2
			  AND (lease_until IS NULL OR lease_until <= $2)
			ORDER BY next_fire_at, id
			LIMIT $4
			FOR UPDATE SKIP LOCKED)
		RETURNING `+enrollmentColumns, now, leaseUntil, limit)
}

// CreateEnrollment inserts en unless the patient is already enrolled.
func (r *Repository) CreateEnrollment(ctx context.Context, en Enrollment) (bool, error) {
	n, err := tenant.Exec(ctx, r.pool, en.TenantID, `
		INSERT INTO scenario_enrollments (tenant_id, id, scenario_id, patient_id, current_step, next_fire_at, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (scenario_id, patient_id) DO NOTHING`,
		en.ID, en.ScenarioID, en.PatientID, en.CurrentStep, en.NextFireAt, en.Status, en.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("create enrollment: %w", err)
	}
	return n == 1, nil
}

// SaveEnrollment stores the enrollment's new position and releases its lease.
func (r *Repository) SaveEnrollment(ctx context.Context, en Enrollment) error {
	_, err := tenant.Exec(ctx, r.pool, en.TenantID, `
		UPDATE scenario_enrollments
		SET current_step = $3, next_fire_at = $4, status = $5, updated_at = $6, lease_until = NULL
		WHERE tenant_id = $1 AND id = $2`,
		en.ID, en.CurrentStep, en.NextFireAt, en.Status, en.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save enrollment: %w", err)
	}
	return nil
}

// --- Patient state and writers ---

// LoadPatientState reads the tags, mark and latest intake answers the conditions test.
func (r *Repository) LoadPatientState(ctx context.Context, tenantID, patientID types.ID) (PatientState, error) {
	var state PatientState
	err := r.pool.QueryRow(ctx, `SELECT mark FROM patients WHERE tenant_id = $1 AND id = $2`,
		tenantID, patientID).Scan(&state.Mark)
	if errors.Is(err, pgx.ErrNoRows) {
		return state, apperrors.NotFound("patient", patientID.String())
	}
	if err != nil {
		return state, fmt.Errorf("load patient: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT tag_id FROM patient_tags WHERE tenant_id = $1 AND patient_id = $2 ORDER BY tag_id`,
		tenantID, patientID)
	if err != nil {
		return state, fmt.Errorf("load tags: %w", err)
	}
	state.TagIDs, err = pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return state, fmt.Errorf("load tags: %w", err)
	}

	var answers map[string]any
	err = r.pool.QueryRow(ctx, `
		SELECT answers FROM intake_answers
		WHERE tenant_id = $1 AND patient_id = $2
		ORDER BY created_at DESC LIMIT 1`, tenantID, patientID).Scan(&answers)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return state, fmt.Errorf("load answers: %w", err)
	}
	state.Answers = flattenAnswers(answers)
	return state, nil
}

// flattenAnswers renders intake answers as strings. Multi-select answers
// are joined with ", ".
func flattenAnswers(raw map[string]any) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			out[k] = val
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			out[k] = strings.Join(parts, ", ")
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

func (r *Repository) AddTag(ctx context.Context, tenantID, patientID types.ID, tagID int64) error {
	_, err := tenant.Exec(ctx, r.pool, tenantID, `
		INSERT INTO patient_tags (tenant_id, patient_id, tag_id) VALUES ($1, $2, $3)
		ON CONFLICT (patient_id, tag_id) DO NOTHING`, patientID, tagID)
	return err
}

func (r *Repository) RemoveTag(ctx context.Context, tenantID, patientID types.ID, tagID int64) error {
	_, err := tenant.Exec(ctx, r.pool, tenantID,
		`DELETE FROM patient_tags WHERE tenant_id = $1 AND patient_id = $2 AND tag_id = $3`, patientID, tagID)
	return err
}

func (r *Repository) SetMark(ctx context.Context, tenantID, patientID types.ID, mark string) error {
	_, err := tenant.Exec(ctx, r.pool, tenantID,
		`UPDATE patients SET mark = $3, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`, patientID, mark)
	return err
}

// LineUserID returns the patient's LINE user id, empty when not linked.
func (r *Repository) LineUserID(ctx context.Context, tenantID, patientID types.ID) (string, error) {
	var uid string
	err := r.pool.QueryRow(ctx, `SELECT line_user_id FROM patients WHERE tenant_id = $1 AND id = $2`,
		tenantID, patientID).Scan(&uid)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperrors.NotFound("patient", patientID.String())
	}
	return uid, err
}

// TemplateContent returns the text of a message template.
func (r *Repository) TemplateContent(ctx context.Context, tenantID types.ID, templateID string) (string, error) {
	var content string
	err := r.pool.QueryRow(ctx, `SELECT content FROM message_templates WHERE tenant_id = $1 AND id::text = $2`,
		tenantID, templateID).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperrors.NotFound("message template", templateID)
	}
	return content, err
}
