package csvehr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/clinicops/platform/internal/adapters/ehr"
)

// File names inside the drop directory.
const (
	PatientsFile = "patients.csv"
	KartesFile   = "kartes.csv"
)

// Adapter exchanges data with an EHR that imports and exports CSV files
// through a shared directory.
type Adapter struct {
	dir    string
	mu     sync.Mutex
	logger zerolog.Logger
}

// New creates an adapter over dir.
func New(dir string, logger zerolog.Logger) *Adapter {
	return &Adapter{
		dir:    dir,
		logger: logger.With().Str("ehr", ehr.ProviderCSV).Str("dir", dir).Logger(),
	}
}

func (a *Adapter) Provider() string { return ehr.ProviderCSV }

// TestConnection checks that the drop directory exists and is writable.
func (a *Adapter) TestConnection(_ context.Context) ehr.ConnectionResult {
	res := ehr.ConnectionResult{Provider: ehr.ProviderCSV}
	info, err := os.Stat(a.dir)
	if err != nil {
		res.Message = err.Error()
		return res
	}
	if !info.IsDir() {
		res.Message = fmt.Sprintf("%s is not a directory", a.dir)
		return res
	}
	probe, err := os.CreateTemp(a.dir, ".probe-*")
	if err != nil {
		res.Message = err.Error()
		return res
	}
	probe.Close()
	os.Remove(probe.Name())

	res.OK = true
	return res
}

// GetPatient looks the patient up in patients.csv.
func (a *Adapter) GetPatient(_ context.Context, externalID string) *ehr.Patient {
	patients, err := a.readPatients()
	if err != nil {
		a.logger.Warn().Err(err).Msg("read patients failed")
		return nil
	}
	for i := range patients {
		if patients[i].ExternalID == externalID {
			return &patients[i]
		}
	}
	return nil
}

// SearchPatients filters patients.csv by criteria.
func (a *Adapter) SearchPatients(_ context.Context, criteria ehr.SearchCriteria) []ehr.Patient {
	patients, err := a.readPatients()
	if err != nil {
		a.logger.Warn().Err(err).Msg("read patients failed")
		return []ehr.Patient{}
	}
	out := []ehr.Patient{}
	for _, p := range patients {
		if !criteria.Matches(p) {
			continue
		}
		out = append(out, p)
		if criteria.Limit > 0 && len(out) == criteria.Limit {
			break
		}
	}
	return out
}

// PushPatient replaces the row with the same patient id, or appends one.
func (a *Adapter) PushPatient(_ context.Context, patient ehr.Patient) ehr.PushResult {
	if patient.ExternalID == "" {
		return ehr.Failed(errors.New("patient id is required"))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	patients, err := a.readPatients()
	if err != nil {
		return ehr.Failed(err)
	}
	replaced := false
	for i := range patients {
		if patients[i].ExternalID == patient.ExternalID {
			patients[i] = patient
			replaced = true
			break
		}
	}
	if !replaced {
		patients = append(patients, patient)
	}

	text, err := GeneratePatientCSV(patients)
	if err != nil {
		return ehr.Failed(err)
	}
	if err := a.write(PatientsFile, text); err != nil {
		return ehr.Failed(err)
	}
	return ehr.PushResult{OK: true, ExternalID: patient.ExternalID}
}

// PushKarte appends the karte to the karte file.
func (a *Adapter) PushKarte(_ context.Context, karte ehr.Karte) ehr.PushResult {
	if karte.PatientExternalID == "" {
		return ehr.Failed(errors.New("patient id is required"))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	kartes, err := a.readKartes()
	if err != nil {
		return ehr.Failed(err)
	}
	text, err := GenerateKarteCSV(append(kartes, karte))
	if err != nil {
		return ehr.Failed(err)
	}
	if err := a.write(KartesFile, text); err != nil {
		return ehr.Failed(err)
	}
	return ehr.PushResult{OK: true}
}

func (a *Adapter) readPatients() ([]ehr.Patient, error) {
	text, err := a.read(PatientsFile)
	if err != nil || text == "" {
		return []ehr.Patient{}, err
	}
	patients, err := ParsePatientCSV(text)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", PatientsFile, err)
	}
	return patients, nil
}

func (a *Adapter) readKartes() ([]ehr.Karte, error) {
	text, err := a.read(KartesFile)
	if err != nil || text == "" {
		return []ehr.Karte{}, err
	}
	kartes, err := ParseKarteCSV(text)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KartesFile, err)
	}
	return kartes, nil
}

// read returns "" for a file that does not exist yet.
func (a *Adapter) read(name string) (string, error) {
	b, err := os.ReadFile(filepath.Join(a.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// write replaces name atomically so the EHR never picks up a partial file.
func (a *Adapter) write(name, text string) error {
	if err := os.MkdirAll(a.dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(a.dir, name+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(a.dir, name))
}
