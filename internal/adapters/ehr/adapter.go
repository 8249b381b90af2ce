// Package ehr is the neutral exchange model between clinic records and
// external electronic health record backends.
package ehr

import (
	"context"
	"errors"
)

// Backend identifiers, as stored in the EHR_PROVIDER setting.
const (
	ProviderCSV  = "csv"
	ProviderORCA = "orca"
	ProviderFHIR = "fhir"
)

// ErrUnsupported is returned by backends that cannot perform an operation.
var ErrUnsupported = errors.New("operation not supported by EHR backend")

// Adapter is the uniform contract over an EHR backend.
//
// Read operations never fail: an unreachable backend or a malformed answer
// yields nil (GetPatient) or an empty slice (SearchPatients), so bulk
// callers can continue past one bad record. Push operations report their
// outcome in PushResult instead of an error.
type Adapter interface {
	Provider() string
	TestConnection(ctx context.Context) ConnectionResult
	GetPatient(ctx context.Context, externalID string) *Patient
	SearchPatients(ctx context.Context, criteria SearchCriteria) []Patient
	PushPatient(ctx context.Context, patient Patient) PushResult
	PushKarte(ctx context.Context, karte Karte) PushResult
}
