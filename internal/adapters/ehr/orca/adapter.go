// Package orca talks to the ORCA receipt-computer API (XML over HTTP).
package orca

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/clinicops/platform/internal/adapters/ehr"
)

// ErrKarteUnsupported is the PushKarte failure: ORCA has no API for
// free-text visit notes.
var ErrKarteUnsupported = errors.New("ORCAはカルテ本文の登録に対応していません")

const defaultPort = 8000

// Config holds the ORCA connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	// IsWeb selects WebORCA: https, and every path under /api.
	IsWeb   bool
	Timeout time.Duration
}

// BaseURL is the API root for cfg.
func BaseURL(cfg Config) string {
	host := strings.TrimSuffix(cfg.Host, "/")
	if cfg.IsWeb {
		if cfg.Port != 0 && cfg.Port != 443 {
			host = fmt.Sprintf("%s:%d", host, cfg.Port)
		}
		return "https://" + host + "/api"
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

// Adapter talks to ORCA over its XML API.
type Adapter struct {
	http   *resty.Client
	logger zerolog.Logger
}

// New creates an ORCA adapter.
func New(cfg Config, logger zerolog.Logger) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(BaseURL(cfg)).
		SetBasicAuth(cfg.User, cfg.Password).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/xml; charset=UTF-8").
		SetHeader("Accept", "application/xml")

	return &Adapter{
		http:   client,
		logger: logger.With().Str("ehr", ehr.ProviderORCA).Logger(),
	}
}

func (a *Adapter) Provider() string { return ehr.ProviderORCA }

// TestConnection queries the ORCA system information endpoint.
func (a *Adapter) TestConnection(ctx context.Context) ehr.ConnectionResult {
	res := ehr.ConnectionResult{Provider: ehr.ProviderORCA}
	var out systemResponse
	if err := a.call(ctx, "/api01rv2/system01lstv2", "02", systemRequest{RequestNumber: "02"}, &out); err != nil {
		res.Message = err.Error()
		return res
	}
	if !out.Body.OK() {
		res.Message = resultMessage(out.Body)
		return res
	}
	res.OK = true
	return res
}

// GetPatient returns nil when ORCA has no such patient or is unreachable.
func (a *Adapter) GetPatient(ctx context.Context, externalID string) *ehr.Patient {
	if strings.TrimSpace(externalID) == "" {
		return nil
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("id", externalID).
		Get("/api01rv2/patientgetv2")
	if err != nil || resp.IsError() {
		a.logFailure("get patient", resp, err)
		return nil
	}

	var out patientGetResponse
	if err := xml.Unmarshal(resp.Body(), &out); err != nil {
		a.logger.Warn().Err(err).Msg("decode patient failed")
		return nil
	}
	if !out.Body.OK() {
		return nil
	}
	p := toPatient(out.Body.Patient)
	return &p
}

// SearchPatients queries by name and birthday; ORCA has no phone or kana
// search, so those criteria are applied to the result.
func (a *Adapter) SearchPatients(ctx context.Context, criteria ehr.SearchCriteria) []ehr.Patient {
	req := patientListRequest{}
	req.Body.WholeName = criteria.Name
	if criteria.NameKana != "" && criteria.Name == "" {
		req.Body.WholeName = criteria.NameKana
	}
	if b := ehr.NormalizeBirthday(criteria.Birthday); b != "" {
		req.Body.BirthStartDate, req.Body.BirthEndDate = b, b
	}

	var out patientListResponse
	if err := a.call(ctx, "/api01rv2/patientlst3v2", "01", req, &out); err != nil {
		a.logger.Warn().Err(err).Msg("search patients failed")
		return []ehr.Patient{}
	}
	if !out.Body.OK() {
		return []ehr.Patient{}
	}

	patients := []ehr.Patient{}
	for _, info := range out.Body.Patients {
		p := toPatient(info)
		if !criteria.Matches(p) {
			continue
		}
		patients = append(patients, p)
		if criteria.Limit > 0 && len(patients) == criteria.Limit {
			break
		}
	}
	return patients
}

// PushPatient registers a patient without an id (ORCA numbers it) and
// modifies one that has an id.
func (a *Adapter) PushPatient(ctx context.Context, patient ehr.Patient) ehr.PushResult {
	info := fromPatient(patient)
	class := "02"
	if info.PatientID == "" {
		info.PatientID = "*"
		class = "01"
	}

	var out patientModResponse
	if err := a.call(ctx, "/orca12/patientmodv2", class, patientModRequest{Patient: info}, &out); err != nil {
		return ehr.Failed(err)
	}
	if !out.Body.OK() {
		return ehr.Failed(errors.New(resultMessage(out.Body.apiResult)))
	}
	id := strings.TrimSpace(out.Body.Patient.PatientID)
	if id == "" {
		id = patient.ExternalID
	}
	return ehr.PushResult{OK: true, ExternalID: id}
}

// PushKarte is not supported by the ORCA API.
func (a *Adapter) PushKarte(context.Context, ehr.Karte) ehr.PushResult {
	return ehr.Failed(ErrKarteUnsupported)
}

// call posts an XML request and decodes the XML answer into out.
func (a *Adapter) call(ctx context.Context, path, class string, body, out any) error {
	payload, err := xml.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("class", class).
		SetBody(append([]byte(xml.Header), payload...)).
		Post(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("ORCA %s: %s", path, resp.Status())
	}
	if err := xml.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (a *Adapter) logFailure(op string, resp *resty.Response, err error) {
	ev := a.logger.Warn().Str("operation", op)
	if err != nil {
		ev = ev.Err(err)
	} else if resp != nil {
		ev = ev.Int("status", resp.StatusCode())
	}
	ev.Msg("ORCA request failed")
}

func resultMessage(r apiResult) string {
	if r.Message != "" {
		return r.Message
	}
	return fmt.Sprintf("ORCA result %s", r.Code)
}
