// Package csvehr exchanges patients and kartes as CSV files with fixed
// Japanese headers.
package csvehr

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/clinicops/platform/internal/adapters/ehr"
)

// Column order is part of the format and never changes.
var (
	PatientHeader = []string{"患者ID", "氏名", "氏名カナ", "性別", "生年月日", "電話番号", "郵便番号", "住所"}
	KarteHeader   = []string{"患者ID", "診察日", "カルテ本文", "傷病名", "処方内容"}
)

// ParseCSV splits RFC 4180 text into records. A UTF-8 BOM is dropped and
// blank lines are skipped; rows may have any number of fields.
func ParseCSV(text string) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(strings.TrimPrefix(text, "\ufeff")))
	r.FieldsPerRecord = -1

	records := [][]string{}
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
}

// GeneratePatientCSV renders patients under the fixed patient header.
func GeneratePatientCSV(patients []ehr.Patient) (string, error) {
	rows := make([][]string, 0, len(patients))
	for _, p := range patients {
		rows = append(rows, []string{p.ExternalID, p.Name, p.NameKana, p.Sex, p.Birthday, p.Tel, p.PostalCode, p.Address})
	}
	return generate(PatientHeader, rows)
}

// ParsePatientCSV reads a file written by GeneratePatientCSV. Missing
// trailing fields are "".
func ParsePatientCSV(text string) ([]ehr.Patient, error) {
	rows, err := parseWithHeader(text, PatientHeader)
	if err != nil {
		return nil, err
	}
	patients := make([]ehr.Patient, 0, len(rows))
	for _, f := range rows {
		patients = append(patients, ehr.Patient{
			ExternalID: f[0],
			Name:       f[1],
			NameKana:   f[2],
			Sex:        f[3],
			Birthday:   f[4],
			Tel:        f[5],
			PostalCode: f[6],
			Address:    f[7],
		})
	}
	return patients, nil
}

// GenerateKarteCSV renders kartes under the fixed karte header.
func GenerateKarteCSV(kartes []ehr.Karte) (string, error) {
	rows := make([][]string, 0, len(kartes))
	for _, k := range kartes {
		rows = append(rows, []string{k.PatientExternalID, k.Date, k.Content, k.Diagnosis, k.Prescription})
	}
	return generate(KarteHeader, rows)
}

// ParseKarteCSV parses a karte CSV. The header must match exactly.
func ParseKarteCSV(text string) ([]ehr.Karte, error) {
	rows, err := parseWithHeader(text, KarteHeader)
	if err != nil {
		return nil, err
	}
	kartes := make([]ehr.Karte, 0, len(rows))
	for _, f := range rows {
		kartes = append(kartes, ehr.Karte{
			PatientExternalID: f[0],
			Date:              f[1],
			Content:           f[2],
			Diagnosis:         f[3],
			Prescription:      f[4],
		})
	}
	return kartes, nil
}

func generate(header []string, rows [][]string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return "", err
	}
	if err := w.WriteAll(rows); err != nil {
		return "", fmt.Errorf("write csv: %w", err)
	}
	return buf.String(), nil
}

// parseWithHeader checks the header row and pads every data row to the
// header width. An empty input has no rows.
func parseWithHeader(text string, header []string) ([][]string, error) {
	records, err := ParseCSV(text)
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return [][]string{}, nil
	}
	if !sameHeader(records[0], header) {
		return nil, fmt.Errorf("unexpected header %q, want %q", records[0], header)
	}

	rows := make([][]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make([]string, len(header))
		copy(row, record)
		rows = append(rows, row)
	}
	return rows, nil
}

func sameHeader(got, want []string) bool {
	if len(got) < len(want) {
		return false
	}
	for i, h := range want {
		if strings.TrimSpace(got[i]) != h {
			return false
		}
	}
	return true
}
