// Package ehrsync moves patients and kartes between the clinic database and
// the EHR backend each tenant is configured for.
package ehrsync

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicops/platform/internal/adapters/ehr"
	"github.com/clinicops/platform/internal/adapters/ehr/csvehr"
	"github.com/clinicops/platform/internal/adapters/ehr/fhir"
	"github.com/clinicops/platform/internal/adapters/ehr/orca"
	apperrors "github.com/clinicops/platform/internal/shared/errors"
	"github.com/clinicops/platform/internal/shared/metrics"
	"github.com/clinicops/platform/internal/shared/settings"
	"github.com/clinicops/platform/internal/shared/types"
)

// SettingResolver resolves a tenant setting, falling back to the environment.
type SettingResolver interface {
	Resolve(ctx context.Context, tenantID types.ID, key string) (string, error)
}

// Factory builds the EHR adapter a tenant's settings select.
type Factory struct {
	settings SettingResolver
	timeout  time.Duration
	logger   zerolog.Logger

	// CSV adapters serialize writes to their files, so one is kept per
	// directory.
	mu   sync.Mutex
	csvs map[string]*csvehr.Adapter
}

// NewFactory creates a Factory whose remote adapters use timeout per request.
func NewFactory(resolver SettingResolver, timeout time.Duration, logger zerolog.Logger) *Factory {
	return &Factory{
		settings: resolver,
		timeout:  timeout,
		logger:   logger,
		csvs:     make(map[string]*csvehr.Adapter),
	}
}

// ForTenant returns the tenant's adapter. CSV drops go to a per-tenant
// subdirectory of EHR_CSV_DIR.
func (f *Factory) ForTenant(ctx context.Context, tenantID types.ID) (ehr.Adapter, error) {
	s, err := f.load(ctx, tenantID,
		settings.EHRProvider, settings.EHRCSVDir,
		settings.ORCAHost, settings.ORCAPort, settings.ORCAUser, settings.ORCAPassword, settings.ORCAIsWeb,
		settings.FHIRBaseURL, settings.FHIRToken)
	if err != nil {
		return nil, err
	}
	logger := f.logger.With().Str("tenant_id", tenantID.String()).Logger()

	var adapter ehr.Adapter
	switch provider := strings.ToLower(s[settings.EHRProvider]); provider {
	case ehr.ProviderCSV:
		if s[settings.EHRCSVDir] == "" {
			return nil, notConfigured(settings.EHRCSVDir)
		}
		adapter = f.csvAdapter(filepath.Join(s[settings.EHRCSVDir], tenantID.String()), logger)

	case ehr.ProviderORCA:
		if s[settings.ORCAHost] == "" {
			return nil, notConfigured(settings.ORCAHost)
		}
		cfg := orca.Config{
			Host:     s[settings.ORCAHost],
			User:     s[settings.ORCAUser],
			Password: s[settings.ORCAPassword],
			Timeout:  f.timeout,
		}
		if v := s[settings.ORCAPort]; v != "" {
			if cfg.Port, err = strconv.Atoi(v); err != nil {
				return nil, apperrors.BadRequest(fmt.Sprintf("invalid %s %q", settings.ORCAPort, v))
			}
		}
		if v := s[settings.ORCAIsWeb]; v != "" {
			if cfg.IsWeb, err = strconv.ParseBool(v); err != nil {
				return nil, apperrors.BadRequest(fmt.Sprintf("invalid %s %q", settings.ORCAIsWeb, v))
			}
		}
		adapter = orca.New(cfg, logger)

	case ehr.ProviderFHIR:
		if s[settings.FHIRBaseURL] == "" {
			return nil, notConfigured(settings.FHIRBaseURL)
		}
		adapter = fhir.New(fhir.Config{
			BaseURL: s[settings.FHIRBaseURL],
			Token:   s[settings.FHIRToken],
			Timeout: f.timeout,
		}, logger)

	case "":
		return nil, notConfigured(settings.EHRProvider)

	default:
		return nil, apperrors.BadRequest(fmt.Sprintf("unknown EHR provider %q", provider))
	}
	return instrumented{adapter}, nil
}

func (f *Factory) csvAdapter(dir string, logger zerolog.Logger) *csvehr.Adapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.csvs[dir]
	if !ok {
		a = csvehr.New(dir, logger)
		f.csvs[dir] = a
	}
	return a
}

func (f *Factory) load(ctx context.Context, tenantID types.ID, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		v, err := f.settings.Resolve(ctx, tenantID, key)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", key, err)
		}
		out[key] = strings.TrimSpace(v)
	}
	return out, nil
}

func notConfigured(key string) error {
	return apperrors.Validation("EHR integration is not configured", map[string]string{key: "required"})
}

// instrumented records every backend call in the EHR metrics.
type instrumented struct {
	ehr.Adapter
}

func (a instrumented) TestConnection(ctx context.Context) ehr.ConnectionResult {
	start := time.Now()
	res := a.Adapter.TestConnection(ctx)
	metrics.RecordEHRRequest(a.Provider(), "test_connection", res.OK, time.Since(start))
	return res
}

func (a instrumented) GetPatient(ctx context.Context, externalID string) *ehr.Patient {
	start := time.Now()
	p := a.Adapter.GetPatient(ctx, externalID)
	metrics.RecordEHRRequest(a.Provider(), "get_patient", p != nil, time.Since(start))
	return p
}

func (a instrumented) SearchPatients(ctx context.Context, criteria ehr.SearchCriteria) []ehr.Patient {
	start := time.Now()
	found := a.Adapter.SearchPatients(ctx, criteria)
	metrics.RecordEHRRequest(a.Provider(), "search_patients", true, time.Since(start))
	return found
}

func (a instrumented) PushPatient(ctx context.Context, patient ehr.Patient) ehr.PushResult {
	start := time.Now()
	res := a.Adapter.PushPatient(ctx, patient)
	metrics.RecordEHRRequest(a.Provider(), "push_patient", res.OK, time.Since(start))
	return res
}

func (a instrumented) PushKarte(ctx context.Context, karte ehr.Karte) ehr.PushResult {
	start := time.Now()
	res := a.Adapter.PushKarte(ctx, karte)
	metrics.RecordEHRRequest(a.Provider(), "push_karte", res.OK, time.Since(start))
	return res
}
