// Package fhir exchanges patients and kartes with a FHIR R4 server.
package fhir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/clinicops/platform/internal/adapters/ehr"
)

const fhirJSON = "application/fhir+json"

// Config holds the FHIR server settings.
type Config struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token   string
	Timeout time.Duration
}

// Adapter talks to a FHIR R4 server.
type Adapter struct {
	http   *resty.Client
	logger zerolog.Logger
}

// New creates a FHIR adapter.
func New(cfg Config, logger zerolog.Logger) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", fhirJSON).
		SetHeader("Content-Type", fhirJSON)
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &Adapter{
		http:   client,
		logger: logger.With().Str("ehr", ehr.ProviderFHIR).Logger(),
	}
}

func (a *Adapter) Provider() string { return ehr.ProviderFHIR }

// TestConnection reads the server's CapabilityStatement.
func (a *Adapter) TestConnection(ctx context.Context) ehr.ConnectionResult {
	res := ehr.ConnectionResult{Provider: ehr.ProviderFHIR}
	var header resourceHeader
	resp, err := a.http.R().SetContext(ctx).SetResult(&header).Get("/metadata")
	if err != nil {
		res.Message = err.Error()
		return res
	}
	if resp.IsError() {
		res.Message = errorMessage(resp)
		return res
	}
	if header.ResourceType != "CapabilityStatement" {
		res.Message = fmt.Sprintf("unexpected metadata resource %q", header.ResourceType)
		return res
	}
	res.OK = true
	return res
}

// GetPatient returns nil for 404 and for any transport failure.
func (a *Adapter) GetPatient(ctx context.Context, externalID string) *ehr.Patient {
	if strings.TrimSpace(externalID) == "" {
		return nil
	}
	var r Patient
	resp, err := a.http.R().
		SetContext(ctx).
		SetPathParam("id", externalID).
		SetResult(&r).
		Get("/Patient/{id}")
	if err != nil {
		a.logger.Warn().Err(err).Str("patient", externalID).Msg("get patient failed")
		return nil
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	if resp.IsError() {
		a.logger.Warn().Int("status", resp.StatusCode()).Str("patient", externalID).Msg("get patient rejected")
		return nil
	}
	if r.ResourceType != "Patient" {
		return nil
	}
	p := ToEhrPatient(r)
	return &p
}

// SearchPatients runs a Patient search and unwraps the Bundle. Kana and
// exact phone criteria are checked on the result.
func (a *Adapter) SearchPatients(ctx context.Context, criteria ehr.SearchCriteria) []ehr.Patient {
	query := map[string]string{}
	if name := firstNonEmpty(criteria.Name, criteria.NameKana); name != "" {
		query["name"] = name
	}
	if b := ehr.NormalizeBirthday(criteria.Birthday); b != "" {
		query["birthdate"] = b
	}
	if criteria.Tel != "" {
		query["phone"] = ehr.NormalizePhone(criteria.Tel)
	}
	if criteria.Limit > 0 {
		query["_count"] = strconv.Itoa(criteria.Limit)
	}

	var bundle Bundle
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetResult(&bundle).
		Get("/Patient")
	if err != nil || resp.IsError() {
		ev := a.logger.Warn().Err(err)
		if resp != nil {
			ev = ev.Int("status", resp.StatusCode())
		}
		ev.Msg("search patients failed")
		return []ehr.Patient{}
	}

	patients := []ehr.Patient{}
	for _, r := range unwrapPatients(bundle) {
		p := ToEhrPatient(r)
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

// PushPatient updates the patient in place when it has an id and creates
// it otherwise.
func (a *Adapter) PushPatient(ctx context.Context, patient ehr.Patient) ehr.PushResult {
	body := FromEhrPatient(patient)
	var saved Patient
	req := a.http.R().SetContext(ctx).SetBody(body).SetResult(&saved)

	var (
		resp *resty.Response
		err  error
	)
	if body.ID != "" {
		resp, err = req.SetPathParam("id", body.ID).Put("/Patient/{id}")
	} else {
		resp, err = req.Post("/Patient")
	}
	if err != nil {
		return ehr.Failed(err)
	}
	if resp.IsError() {
		return ehr.Failed(errors.New(errorMessage(resp)))
	}
	return ehr.PushResult{OK: true, ExternalID: firstNonEmpty(saved.ID, body.ID)}
}

// PushKarte creates a DocumentReference for the karte.
func (a *Adapter) PushKarte(ctx context.Context, karte ehr.Karte) ehr.PushResult {
	if karte.PatientExternalID == "" {
		return ehr.Failed(errors.New("patient id is required"))
	}
	doc := FromEhrKarte(karte)
	doc.ID = ""

	var saved resourceID
	resp, err := a.http.R().SetContext(ctx).SetBody(doc).SetResult(&saved).Post("/DocumentReference")
	if err != nil {
		return ehr.Failed(err)
	}
	if resp.IsError() {
		return ehr.Failed(errors.New(errorMessage(resp)))
	}
	return ehr.PushResult{OK: true, ExternalID: saved.ID}
}

type resourceID struct {
	ID string `json:"id"`
}

func unwrapPatients(b Bundle) []Patient {
	var out []Patient
	for _, e := range b.Entry {
		var header resourceHeader
		if err := json.Unmarshal(e.Resource, &header); err != nil || header.ResourceType != "Patient" {
			continue
		}
		var p Patient
		if err := json.Unmarshal(e.Resource, &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

// errorMessage prefers the OperationOutcome text over the HTTP status.
func errorMessage(resp *resty.Response) string {
	var outcome OperationOutcome
	if err := json.Unmarshal(resp.Body(), &outcome); err == nil && outcome.ResourceType == "OperationOutcome" {
		if msg := outcome.Message(); msg != "" {
			return msg
		}
	}
	return resp.Status()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
