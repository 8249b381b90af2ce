package ehrsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clinicops/platform/internal/adapters/ehr"
	"github.com/clinicops/platform/internal/adapters/ehr/csvehr"
	apperrors "github.com/clinicops/platform/internal/shared/errors"
	"github.com/clinicops/platform/internal/shared/events"
	"github.com/clinicops/platform/internal/shared/types"
)

// Store is the clinic-side persistence the sync service reads and writes.
type Store interface {
	ListPatients(ctx context.Context, tenantID types.ID) ([]ehr.PatientRow, error)
	GetPatient(ctx context.Context, tenantID, id types.ID) (*ehr.PatientRow, error)
	LatestIntake(ctx context.Context, tenantID, patientID types.ID) (map[string]any, error)
	LatestIntakes(ctx context.Context, tenantID types.ID) (map[types.ID]map[string]any, error)
	FindPatientByExternalID(ctx context.Context, tenantID types.ID, externalID string) (*ehr.PatientRow, error)
	CreatePatient(ctx context.Context, tenantID types.ID, u ehr.PatientUpdate) (types.ID, error)
	UpdatePatient(ctx context.Context, tenantID, id types.ID, u ehr.PatientUpdate) error
	SetPatientExternalID(ctx context.Context, tenantID, id types.ID, externalID string) error

	ListKartes(ctx context.Context, tenantID types.ID) ([]ehr.KarteRow, error)
	GetKarte(ctx context.Context, tenantID, id types.ID) (*ehr.KarteRow, error)
	CreateKarte(ctx context.Context, tenantID, patientID types.ID, note ehr.KarteNote) (types.ID, error)
	SetKarteExternalID(ctx context.Context, tenantID, id types.ID, externalID string) error
}

// AdapterSource yields the adapter configured for a tenant.
type AdapterSource interface {
	ForTenant(ctx context.Context, tenantID types.ID) (ehr.Adapter, error)
}

// RowError is one rejected import row. Line is 1-based and counts the header.
type RowError struct {
	Line       int    `json:"line"`
	ExternalID string `json:"externalId,omitempty"`
	Error      string `json:"error"`
}

// ImportResult counts the rows of one CSV import.
type ImportResult struct {
	Total   int        `json:"total"`
	Created int        `json:"created"`
	Updated int        `json:"updated"`
	Failed  int        `json:"failed"`
	Errors  []RowError `json:"errors"`
}

func (r *ImportResult) fail(line int, externalID string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, RowError{Line: line, ExternalID: externalID, Error: err.Error()})
}

// PushOutcome is the result of pushing one patient in a bulk push.
type PushOutcome struct {
	PatientID types.ID `json:"patientId"`
	ehr.PushResult
}

// Service moves patients and kartes between the clinic and its EHR.
type Service struct {
	store       Store
	adapters    AdapterSource
	publisher   events.Publisher
	logger      zerolog.Logger
	concurrency int
}

// NewService creates a new Service. Bulk pushes run concurrency patients at a time.
func NewService(store Store, adapters AdapterSource, publisher events.Publisher, concurrency int, logger zerolog.Logger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Service{
		store:       store,
		adapters:    adapters,
		publisher:   publisher,
		logger:      logger.With().Str("component", "ehr_sync").Logger(),
		concurrency: concurrency,
	}
}

// ExportPatientsCSV renders every patient of the tenant in the transfer CSV.
func (s *Service) ExportPatientsCSV(ctx context.Context, tenantID types.ID) (string, error) {
	rows, err := s.store.ListPatients(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("list patients: %w", err)
	}
	intakes, err := s.store.LatestIntakes(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("load intakes: %w", err)
	}
	patients := make([]ehr.Patient, 0, len(rows))
	for _, row := range rows {
		patients = append(patients, ehr.ToEhrPatient(row, intakes[row.ID]))
	}
	return csvehr.GeneratePatientCSV(patients)
}

// ExportKartesCSV renders every karte with its patient's transfer id.
func (s *Service) ExportKartesCSV(ctx context.Context, tenantID types.ID) (string, error) {
	patients, err := s.store.ListPatients(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("list patients: %w", err)
	}
	externalIDs := make(map[types.ID]string, len(patients))
	for _, p := range patients {
		externalIDs[p.ID] = ehr.ToEhrPatient(p, nil).ExternalID
	}

	rows, err := s.store.ListKartes(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("list kartes: %w", err)
	}
	kartes := make([]ehr.Karte, 0, len(rows))
	for _, row := range rows {
		kartes = append(kartes, ehr.ToEhrKarte(row, externalIDs[row.PatientID]))
	}
	return csvehr.GenerateKarteCSV(kartes)
}

// ImportPatientsCSV creates or updates patients from a transfer CSV. A row
// whose id matches a known patient (by EHR id or clinic id) updates it;
// any other row creates a patient. Rows fail independently.
func (s *Service) ImportPatientsCSV(ctx context.Context, tenantID types.ID, text string) (*ImportResult, error) {
	patients, err := csvehr.ParsePatientCSV(text)
	if err != nil {
		return nil, apperrors.Validation("invalid patient CSV", map[string]string{"file": err.Error()})
	}

	res := &ImportResult{Total: len(patients), Errors: []RowError{}}
	for i, p := range patients {
		line := i + 2
		created, err := s.importPatient(ctx, tenantID, p)
		switch {
		case err != nil:
			s.logger.Warn().Err(err).Int("line", line).Str("external_id", p.ExternalID).Msg("patient import row failed")
			res.fail(line, p.ExternalID, err)
		case created:
			res.Created++
		default:
			res.Updated++
		}
	}
	return res, nil
}

func (s *Service) importPatient(ctx context.Context, tenantID types.ID, p ehr.Patient) (bool, error) {
	update := ehr.FromEhrPatient(p)
	externalID := strings.TrimSpace(p.ExternalID)

	if externalID != "" {
		existing, err := s.store.FindPatientByExternalID(ctx, tenantID, externalID)
		switch {
		case err == nil:
			if existing.ID.String() == externalID {
				update.ExternalID = nil
			}
			return false, s.store.UpdatePatient(ctx, tenantID, existing.ID, update)
		case !apperrors.IsNotFound(err):
			return false, err
		}
	}

	if update.Name == nil {
		return false, errors.New("name is required")
	}
	_, err := s.store.CreatePatient(ctx, tenantID, update)
	return true, err
}

// ImportKartesCSV adds kartes from a transfer CSV to the patients they name.
func (s *Service) ImportKartesCSV(ctx context.Context, tenantID types.ID, text string) (*ImportResult, error) {
	kartes, err := csvehr.ParseKarteCSV(text)
	if err != nil {
		return nil, apperrors.Validation("invalid karte CSV", map[string]string{"file": err.Error()})
	}

	res := &ImportResult{Total: len(kartes), Errors: []RowError{}}
	for i, k := range kartes {
		line := i + 2
		note := ehr.FromEhrKarte(k)
		switch {
		case note.PatientExternalID == "":
			res.fail(line, note.ExternalID, errors.New("patient id is required"))
			continue
		case note.Date == "":
			res.fail(line, note.ExternalID, errors.New("date is required"))
			continue
		}
		patient, err := s.store.FindPatientByExternalID(ctx, tenantID, note.PatientExternalID)
		if err == nil {
			_, err = s.store.CreateKarte(ctx, tenantID, patient.ID, note)
		}
		if err != nil {
			res.fail(line, note.ExternalID, err)
			continue
		}
		res.Created++
	}
	return res, nil
}

// PushPatient sends one patient to the tenant's EHR. A backend rejection is
// reported in the PushResult; the error covers configuration and storage.
func (s *Service) PushPatient(ctx context.Context, tenantID, patientID types.ID) (ehr.PushResult, error) {
	adapter, err := s.adapters.ForTenant(ctx, tenantID)
	if err != nil {
		return ehr.PushResult{}, err
	}
	return s.pushPatient(ctx, adapter, tenantID, patientID)
}

// PushPatients pushes each patient concurrently; one failure never stops
// the others. Outcomes keep the order of ids.
func (s *Service) PushPatients(ctx context.Context, tenantID types.ID, ids []types.ID) ([]PushOutcome, error) {
	adapter, err := s.adapters.ForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	out := make([]PushOutcome, len(ids))
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			res, err := s.pushPatient(ctx, adapter, tenantID, id)
			if err != nil {
				res = ehr.Failed(err)
			}
			mu.Lock()
			out[i] = PushOutcome{PatientID: id, PushResult: res}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return out, nil
}

func (s *Service) pushPatient(ctx context.Context, adapter ehr.Adapter, tenantID, patientID types.ID) (ehr.PushResult, error) {
	row, err := s.store.GetPatient(ctx, tenantID, patientID)
	if err != nil {
		return ehr.PushResult{}, err
	}
	intake, err := s.store.LatestIntake(ctx, tenantID, patientID)
	if err != nil {
		return ehr.PushResult{}, fmt.Errorf("load intake: %w", err)
	}

	patient := ehr.ToEhrPatient(*row, intake)
	if adapter.Provider() != ehr.ProviderCSV && strings.TrimSpace(row.EHRExternalID) == "" {
		// Remote backends assign their own id on first registration.
		patient.ExternalID = ""
	}

	res := adapter.PushPatient(ctx, patient)
	log := s.logger.With().
		Str("tenant_id", tenantID.String()).
		Str("patient_id", patientID.String()).
		Str("provider", adapter.Provider()).
		Logger()
	if !res.OK {
		log.Warn().Str("error", res.Error).Msg("patient push rejected")
		return res, nil
	}

	if res.ExternalID != "" && res.ExternalID != row.EHRExternalID && res.ExternalID != row.ID.String() {
		if err := s.store.SetPatientExternalID(ctx, tenantID, patientID, res.ExternalID); err != nil {
			return res, fmt.Errorf("link patient: %w", err)
		}
	}
	log.Info().Str("external_id", res.ExternalID).Msg("patient pushed")
	s.publish(ctx, events.EHRPatientPushed, tenantID, map[string]any{
		"patient_id":  patientID,
		"external_id": res.ExternalID,
		"provider":    adapter.Provider(),
	})
	return res, nil
}

// PushKarte sends one karte. The patient must already be known to the EHR,
// except for the CSV drop where the clinic id serves.
func (s *Service) PushKarte(ctx context.Context, tenantID, karteID types.ID) (ehr.PushResult, error) {
	adapter, err := s.adapters.ForTenant(ctx, tenantID)
	if err != nil {
		return ehr.PushResult{}, err
	}
	row, err := s.store.GetKarte(ctx, tenantID, karteID)
	if err != nil {
		return ehr.PushResult{}, err
	}
	patient, err := s.store.GetPatient(ctx, tenantID, row.PatientID)
	if err != nil {
		return ehr.PushResult{}, err
	}

	patientExternalID := strings.TrimSpace(patient.EHRExternalID)
	if patientExternalID == "" {
		if adapter.Provider() != ehr.ProviderCSV {
			return ehr.PushResult{Error: "patient is not linked to the EHR; push the patient first"}, nil
		}
		patientExternalID = patient.ID.String()
	}

	res := adapter.PushKarte(ctx, ehr.ToEhrKarte(*row, patientExternalID))
	if !res.OK {
		s.logger.Warn().Str("karte_id", karteID.String()).Str("error", res.Error).Msg("karte push rejected")
		return res, nil
	}
	if res.ExternalID != "" && res.ExternalID != row.EHRExternalID {
		if err := s.store.SetKarteExternalID(ctx, tenantID, karteID, res.ExternalID); err != nil {
			return res, fmt.Errorf("link karte: %w", err)
		}
	}
	s.publish(ctx, events.EHRKartePushed, tenantID, map[string]any{
		"karte_id":    karteID,
		"external_id": res.ExternalID,
		"provider":    adapter.Provider(),
	})
	return res, nil
}

// PullPatient refreshes a linked patient from the EHR. Only fields the EHR
// actually holds are written; the link itself is never changed.
func (s *Service) PullPatient(ctx context.Context, tenantID, patientID types.ID) (ehr.PatientUpdate, error) {
	adapter, err := s.adapters.ForTenant(ctx, tenantID)
	if err != nil {
		return ehr.PatientUpdate{}, err
	}
	row, err := s.store.GetPatient(ctx, tenantID, patientID)
	if err != nil {
		return ehr.PatientUpdate{}, err
	}

	externalID := strings.TrimSpace(row.EHRExternalID)
	if externalID == "" && adapter.Provider() == ehr.ProviderCSV {
		externalID = row.ID.String()
	}
	if externalID == "" {
		return ehr.PatientUpdate{}, apperrors.Validation("patient is not linked to the EHR",
			map[string]string{"ehr_external_id": "required"})
	}

	remote := adapter.GetPatient(ctx, externalID)
	if remote == nil {
		return ehr.PatientUpdate{}, apperrors.NotFound("EHR patient", externalID)
	}
	update := ehr.FromEhrPatient(*remote)
	update.ExternalID = nil
	if update.IsEmpty() {
		return update, nil
	}
	if err := s.store.UpdatePatient(ctx, tenantID, patientID, update); err != nil {
		return ehr.PatientUpdate{}, fmt.Errorf("update patient: %w", err)
	}
	return update, nil
}

// TestConnection checks the tenant's EHR backend.
func (s *Service) TestConnection(ctx context.Context, tenantID types.ID) (ehr.ConnectionResult, error) {
	adapter, err := s.adapters.ForTenant(ctx, tenantID)
	if err != nil {
		return ehr.ConnectionResult{}, err
	}
	return adapter.TestConnection(ctx), nil
}

// SearchPatients searches the tenant's EHR. The result is never nil.
func (s *Service) SearchPatients(ctx context.Context, tenantID types.ID, criteria ehr.SearchCriteria) ([]ehr.Patient, error) {
	adapter, err := s.adapters.ForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	found := adapter.SearchPatients(ctx, criteria)
	if found == nil {
		found = []ehr.Patient{}
	}
	return found, nil
}

func (s *Service) publish(ctx context.Context, eventType string, tenantID types.ID, data map[string]any) {
	if err := s.publisher.Publish(ctx, events.NewEvent(eventType, "ehr", tenantID, data)); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("publish failed")
	}
}
