package ehrsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicops/platform/internal/adapters/ehr"
	apperrors "github.com/clinicops/platform/internal/shared/errors"
	"github.com/clinicops/platform/internal/shared/tenant"
	"github.com/clinicops/platform/internal/shared/types"
)

const patientColumns = `id, name, name_kana, sex, birthday, tel, postal_code, address, ehr_external_id`

const karteColumns = `id, patient_id, visit_date, content, ehr_external_id`

// Repository is the Postgres Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new EHR repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// --- Patients ---

// ListPatients returns the tenant's patients ordered by creation.
func (r *Repository) ListPatients(ctx context.Context, tenantID types.ID) ([]ehr.PatientRow, error) {
	return tenant.Select[ehr.PatientRow](ctx, r.pool, tenantID,
		`SELECT `+patientColumns+` FROM patients WHERE tenant_id = $1 ORDER BY created_at, id`)
}

// GetPatient returns one patient or a not-found error.
func (r *Repository) GetPatient(ctx context.Context, tenantID, id types.ID) (*ehr.PatientRow, error) {
	return tenant.Get[ehr.PatientRow](ctx, r.pool, tenantID, "patient", id.String(),
		`SELECT `+patientColumns+` FROM patients WHERE tenant_id = $1 AND id = $2`, id)
}

// FindPatientByExternalID matches the EHR id first, then the clinic id.
func (r *Repository) FindPatientByExternalID(ctx context.Context, tenantID types.ID, externalID string) (*ehr.PatientRow, error) {
	return tenant.Get[ehr.PatientRow](ctx, r.pool, tenantID, "patient", externalID,
		`SELECT `+patientColumns+` FROM patients
		 WHERE tenant_id = $1 AND (ehr_external_id = $2 OR id::text = $2)
		 ORDER BY (ehr_external_id = $2) DESC
		 LIMIT 1`, externalID)
}

// CreatePatient inserts a patient from u. Nil fields take column defaults.
func (r *Repository) CreatePatient(ctx context.Context, tenantID types.ID, u ehr.PatientUpdate) (types.ID, error) {
	id := types.NewID()
	_, err := tenant.Exec(ctx, r.pool, tenantID, `
		INSERT INTO patients (tenant_id, id, ehr_external_id, name, name_kana, sex, birthday, tel, postal_code, address)
		VALUES ($1, $2, COALESCE($3, ''), COALESCE($4, ''), COALESCE($5, ''), COALESCE($6, ''),
			COALESCE($7, ''), COALESCE($8, ''), COALESCE($9, ''), COALESCE($10, ''))`,
		id, u.ExternalID, u.Name, u.NameKana, u.Sex, u.Birthday, u.Tel, u.PostalCode, u.Address)
	if err != nil {
		return "", fmt.Errorf("create patient: %w", err)
	}
	return id, nil
}

// UpdatePatient writes the non-nil fields of u.
func (r *Repository) UpdatePatient(ctx context.Context, tenantID, id types.ID, u ehr.PatientUpdate) error {
	n, err := tenant.Exec(ctx, r.pool, tenantID, `
		UPDATE patients SET
			ehr_external_id = COALESCE($3, ehr_external_id),
			name            = COALESCE($4, name),
			name_kana       = COALESCE($5, name_kana),
			sex             = COALESCE($6, sex),
			birthday        = COALESCE($7, birthday),
			tel             = COALESCE($8, tel),
			postal_code     = COALESCE($9, postal_code),
			address         = COALESCE($10, address),
			updated_at      = NOW()
		WHERE tenant_id = $1 AND id = $2`,
		id, u.ExternalID, u.Name, u.NameKana, u.Sex, u.Birthday, u.Tel, u.PostalCode, u.Address)
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound("patient", id.String())
	}
	return nil
}

// SetPatientExternalID links the patient to its EHR record.
func (r *Repository) SetPatientExternalID(ctx context.Context, tenantID, id types.ID, externalID string) error {
	_, err := tenant.Exec(ctx, r.pool, tenantID,
		`UPDATE patients SET ehr_external_id = $3, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`,
		id, externalID)
	return err
}

// --- Intake ---

// LatestIntake returns the newest intake answers, nil when there are none.
func (r *Repository) LatestIntake(ctx context.Context, tenantID, patientID types.ID) (map[string]any, error) {
	var answers map[string]any
	err := r.pool.QueryRow(ctx, `
		SELECT answers FROM intake_answers
		WHERE tenant_id = $1 AND patient_id = $2
		ORDER BY created_at DESC LIMIT 1`, tenantID, patientID).Scan(&answers)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load intake: %w", err)
	}
	return answers, nil
}

// LatestIntakes returns each patient's most recent answers.
func (r *Repository) LatestIntakes(ctx context.Context, tenantID types.ID) (map[types.ID]map[string]any, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ON (patient_id) patient_id::text, answers
		FROM intake_answers
		WHERE tenant_id = $1
		ORDER BY patient_id, created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load intakes: %w", err)
	}
	defer rows.Close()

	out := make(map[types.ID]map[string]any)
	for rows.Next() {
		var (
			patientID string
			answers   map[string]any
		)
		if err := rows.Scan(&patientID, &answers); err != nil {
			return nil, fmt.Errorf("scan intake: %w", err)
		}
		out[types.ID(patientID)] = answers
	}
	return out, rows.Err()
}

// --- Kartes ---

// ListKartes returns the tenant's kartes by visit date.
func (r *Repository) ListKartes(ctx context.Context, tenantID types.ID) ([]ehr.KarteRow, error) {
	return tenant.Select[ehr.KarteRow](ctx, r.pool, tenantID,
		`SELECT `+karteColumns+` FROM kartes WHERE tenant_id = $1 ORDER BY visit_date, created_at`)
}

// GetKarte returns one karte or a not-found error.
func (r *Repository) GetKarte(ctx context.Context, tenantID, id types.ID) (*ehr.KarteRow, error) {
	return tenant.Get[ehr.KarteRow](ctx, r.pool, tenantID, "karte", id.String(),
		`SELECT `+karteColumns+` FROM kartes WHERE tenant_id = $1 AND id = $2`, id)
}

// CreateKarte inserts a karte for the patient.
func (r *Repository) CreateKarte(ctx context.Context, tenantID, patientID types.ID, note ehr.KarteNote) (types.ID, error) {
	id := types.NewID()
	_, err := tenant.Exec(ctx, r.pool, tenantID, `
		INSERT INTO kartes (tenant_id, id, patient_id, visit_date, content, ehr_external_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, patientID, note.Date, note.Content, note.ExternalID)
	if err != nil {
		return "", fmt.Errorf("create karte: %w", err)
	}
	return id, nil
}

// SetKarteExternalID records the EHR document id of a pushed karte.
func (r *Repository) SetKarteExternalID(ctx context.Context, tenantID, id types.ID, externalID string) error {
	_, err := tenant.Exec(ctx, r.pool, tenantID,
		`UPDATE kartes SET ehr_external_id = $3 WHERE tenant_id = $1 AND id = $2`, id, externalID)
	return err
}
