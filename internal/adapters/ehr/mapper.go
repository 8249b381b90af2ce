package ehr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/width"

	"github.com/clinicops/platform/internal/shared/kana"
	"github.com/clinicops/platform/internal/shared/types"
)

// Sex vocabulary of the transfer model.
const (
	SexMale   = "男"
	SexFemale = "女"
	SexOther  = "その他"
)

// PatientRow is the clinic's stored patient record.
type PatientRow struct {
	ID            types.ID `json:"id" db:"id"`
	Name          string   `json:"name" db:"name"`
	NameKana      string   `json:"name_kana" db:"name_kana"`
	Sex           string   `json:"sex" db:"sex"`
	Birthday      string   `json:"birthday" db:"birthday"`
	Tel           string   `json:"tel" db:"tel"`
	PostalCode    string   `json:"postal_code" db:"postal_code"`
	Address       string   `json:"address" db:"address"`
	EHRExternalID string   `json:"ehr_external_id" db:"ehr_external_id"`
}

// PatientUpdate is a partial patient update. Nil fields are left alone.
type PatientUpdate struct {
	ExternalID *string `json:"externalId,omitempty"`
	Name       *string `json:"name,omitempty"`
	NameKana   *string `json:"nameKana,omitempty"`
	Sex        *string `json:"sex,omitempty"`
	Birthday   *string `json:"birthday,omitempty"`
	Tel        *string `json:"tel,omitempty"`
	PostalCode *string `json:"postalCode,omitempty"`
	Address    *string `json:"address,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u PatientUpdate) IsEmpty() bool {
	return u == PatientUpdate{}
}

// Intake questionnaire labels consulted when the patient row is blank.
var (
	intakeKana     = []string{"フリガナ", "ふりがな", "氏名カナ", "カナ", "お名前（カナ）"}
	intakeSex      = []string{"性別"}
	intakeBirthday = []string{"生年月日", "誕生日"}
	intakePostal   = []string{"郵便番号"}
	intakeAddress  = []string{"住所", "ご住所"}
	intakeTel      = []string{"電話番号", "携帯電話番号", "連絡先"}
)

// ToEhrPatient converts a stored patient to the transfer model. Blank
// demographic fields fall back to the latest intake answers. A patient
// never linked to the EHR is identified by its own id.
func ToEhrPatient(row PatientRow, intake map[string]any) Patient {
	externalID := strings.TrimSpace(row.EHRExternalID)
	if externalID == "" {
		externalID = row.ID.String()
	}
	return Patient{
		ExternalID: externalID,
		Name:       strings.TrimSpace(row.Name),
		NameKana:   firstNonBlank(row.NameKana, intakeValue(intake, intakeKana)),
		Sex:        NormalizeSex(firstNonBlank(row.Sex, intakeValue(intake, intakeSex))),
		Birthday:   NormalizeBirthday(firstNonBlank(row.Birthday, intakeValue(intake, intakeBirthday))),
		Tel:        NormalizePhone(firstNonBlank(row.Tel, intakeValue(intake, intakeTel))),
		PostalCode: firstNonBlank(row.PostalCode, intakeValue(intake, intakePostal)),
		Address:    firstNonBlank(row.Address, intakeValue(intake, intakeAddress)),
	}
}

// FromEhrPatient converts a backend patient to a partial update. Empty or
// unparseable fields are omitted rather than sent as "".
func FromEhrPatient(p Patient) PatientUpdate {
	return PatientUpdate{
		ExternalID: optional(p.ExternalID),
		Name:       optional(p.Name),
		NameKana:   optional(p.NameKana),
		Sex:        optional(NormalizeSex(p.Sex)),
		Birthday:   optional(NormalizeBirthday(p.Birthday)),
		Tel:        optional(NormalizePhone(p.Tel)),
		PostalCode: optional(p.PostalCode),
		Address:    optional(p.Address),
	}
}

// KarteRow is a stored visit note.
type KarteRow struct {
	ID            types.ID `json:"id" db:"id"`
	PatientID     types.ID `json:"patient_id" db:"patient_id"`
	VisitDate     string   `json:"visit_date" db:"visit_date"`
	Content       string   `json:"content" db:"content"`
	EHRExternalID string   `json:"ehr_external_id" db:"ehr_external_id"`
}

// KarteNote is a backend karte flattened to the clinic's single note.
type KarteNote struct {
	ExternalID        string `json:"externalId"`
	PatientExternalID string `json:"patientExternalId"`
	Date              string `json:"date"`
	Content           string `json:"content"`
}

// ToEhrKarte builds the EHR karte for a clinic karte.
func ToEhrKarte(row KarteRow, patientExternalID string) Karte {
	return Karte{
		ExternalID:        row.EHRExternalID,
		PatientExternalID: patientExternalID,
		Date:              NormalizeBirthday(row.VisitDate),
		Content:           row.Content,
	}
}

// FromEhrKarte extracts the clinic note from an EHR karte.
func FromEhrKarte(k Karte) KarteNote {
	return KarteNote{
		ExternalID:        strings.TrimSpace(k.ExternalID),
		PatientExternalID: strings.TrimSpace(k.PatientExternalID),
		Date:              NormalizeBirthday(k.Date),
		Content:           CompositeNote(k),
	}
}

// CompositeNote is the karte content followed by a 【傷病名】 line and a
// 【処方】 line, each only when present.
func CompositeNote(k Karte) string {
	var b strings.Builder
	b.WriteString(k.Content)
	for _, section := range []struct{ label, value string }{
		{"【傷病名】", k.Diagnosis},
		{"【処方】", k.Prescription},
	} {
		v := strings.TrimSpace(section.value)
		if v == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(section.label)
		b.WriteString(v)
	}
	return b.String()
}

// NormalizePhone returns the digits of a Japanese number in domestic form:
// +81 becomes a leading 0, and a number that lost its leading 0 (as
// spreadsheets do) gets it back.
func NormalizePhone(s string) string {
	s = width.Fold.String(strings.TrimSpace(s))
	international := strings.HasPrefix(s, "+")
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if digits == "" {
		return ""
	}
	if strings.HasPrefix(digits, "81") && (international || len(digits) == 11 || len(digits) == 12) {
		digits = strings.TrimPrefix(digits[2:], "0")
	}
	if !strings.HasPrefix(digits, "0") {
		digits = "0" + digits
	}
	return digits
}

// NormalizeSex maps backend and questionnaire spellings to 男, 女 or その他.
// Anything unrecognized is "".
func NormalizeSex(s string) string {
	switch strings.ToLower(strings.TrimSpace(width.Fold.String(s))) {
	case "男", "男性", "m", "male", "1":
		return SexMale
	case "女", "女性", "f", "female", "2":
		return SexFemale
	case "その他", "other", "3":
		return SexOther
	}
	return ""
}

var dateLayouts = []string{
	"2006-1-2",
	"2006/1/2",
	"2006.1.2",
	"20060102",
	"2006年1月2日",
	time.RFC3339,
}

var eraDate = regexp.MustCompile(`^(明治|大正|昭和|平成|令和|[MTSHR])(元|\d{1,2})[年./-](\d{1,2})[月./-](\d{1,2})日?$`)

var eraStart = map[string]int{
	"明治": 1868,
	"大正": 1912,
	"昭和": 1926,
	"平成": 1989,
	"令和": 2019,
	"M":  1868,
	"T":  1912,
	"S":  1926,
	"H":  1989,
	"R":  2019,
}

// NormalizeBirthday parses Gregorian and Japanese-era dates and returns
// YYYY-MM-DD, or "" when the value is not a date.
func NormalizeBirthday(s string) string {
	s = strings.TrimSpace(width.Fold.String(s))
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(time.DateOnly)
		}
	}

	m := eraDate.FindStringSubmatch(strings.ToUpper(s))
	if m == nil {
		return ""
	}
	year := 1
	if m[2] != "元" {
		year, _ = strconv.Atoi(m[2])
	}
	month, _ := strconv.Atoi(m[3])
	day, _ := strconv.Atoi(m[4])
	t := time.Date(eraStart[m[1]]+year-1, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if int(t.Month()) != month || t.Day() != day {
		return ""
	}
	return t.Format(time.DateOnly)
}

func intakeValue(intake map[string]any, labels []string) string {
	for _, label := range labels {
		switch v := intake[label].(type) {
		case nil:
		case string:
			if strings.TrimSpace(v) != "" {
				return v
			}
		case []any:
			parts := make([]string, 0, len(v))
			for _, p := range v {
				parts = append(parts, fmt.Sprint(p))
			}
			if len(parts) > 0 {
				return strings.Join(parts, ", ")
			}
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// containsFold matches ignoring width, case and whitespace.
func containsFold(s, substr string) bool {
	return strings.Contains(squash(s), squash(substr))
}

func squash(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, strings.ToLower(kana.Fold(s)))
}
