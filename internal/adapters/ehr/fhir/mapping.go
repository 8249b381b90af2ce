package fhir

import (
	"strings"
	"time"

	"github.com/clinicops/platform/internal/adapters/ehr"
)

const (
	// RepresentationExtension marks a HumanName as kanji (IDE) or kana (SYL).
	RepresentationExtension   = "http://hl7.org/fhir/StructureDefinition/iso21090-EN-representation"
	representationIdeographic = "IDE"
	representationSyllabic    = "SYL"

	loincSystem       = "http://loinc.org"
	loincProgressNote = "11506-3"
)

var jst = time.FixedZone("JST", 9*60*60)

var (
	genderToSex = map[string]string{"male": ehr.SexMale, "female": ehr.SexFemale, "other": ehr.SexOther}
	sexToGender = map[string]string{ehr.SexMale: "male", ehr.SexFemale: "female", ehr.SexOther: "other"}
)

// ToEhrPatient converts a Patient resource. The kana reading comes from the
// name flagged SYL; the display name from the first other name.
func ToEhrPatient(r Patient) ehr.Patient {
	p := ehr.Patient{
		ExternalID: r.ID,
		Sex:        genderToSex[r.Gender],
		Birthday:   ehr.NormalizeBirthday(r.BirthDate),
	}

	for _, n := range r.Name {
		text := nameText(n)
		if text == "" {
			continue
		}
		if representation(n) == representationSyllabic {
			if p.NameKana == "" {
				p.NameKana = text
			}
		} else if p.Name == "" {
			p.Name = text
		}
	}

	for _, t := range r.Telecom {
		if t.System == "phone" && t.Value != "" {
			p.Tel = ehr.NormalizePhone(t.Value)
			break
		}
	}

	if len(r.Address) > 0 {
		a := r.Address[0]
		p.PostalCode = a.PostalCode
		p.Address = a.Text
		if p.Address == "" {
			p.Address = a.State + a.City + a.District + strings.Join(a.Line, "")
		}
	}
	return p
}

// FromEhrPatient builds a Patient resource with the kanji name and, when
// known, the kana reading as a second SYL name.
func FromEhrPatient(p ehr.Patient) Patient {
	r := Patient{
		ResourceType: "Patient",
		ID:           p.ExternalID,
		Gender:       sexToGender[ehr.NormalizeSex(p.Sex)],
		BirthDate:    ehr.NormalizeBirthday(p.Birthday),
	}
	if r.Gender == "" {
		r.Gender = "unknown"
	}

	if p.Name != "" {
		r.Name = append(r.Name, humanName(p.Name, representationIdeographic))
	}
	if p.NameKana != "" {
		r.Name = append(r.Name, humanName(p.NameKana, representationSyllabic))
	}
	if p.Tel != "" {
		r.Telecom = []ContactPoint{{System: "phone", Value: p.Tel, Use: "home"}}
	}
	if p.Address != "" || p.PostalCode != "" {
		r.Address = []Address{{Use: "home", Text: p.Address, PostalCode: p.PostalCode, Country: "JP"}}
	}
	return r
}

// FromEhrKarte builds a DocumentReference whose attachment is the composite
// note for k.
func FromEhrKarte(k ehr.Karte) DocumentReference {
	doc := DocumentReference{
		ResourceType: "DocumentReference",
		ID:           k.ExternalID,
		Status:       "current",
		Type: &CodeableConcept{
			Coding: []Coding{{System: loincSystem, Code: loincProgressNote, Display: "Progress note"}},
			Text:   "カルテ",
		},
		Subject: &Reference{Reference: "Patient/" + k.PatientExternalID},
		Content: []DocumentContent{{
			Attachment: Attachment{
				ContentType: "text/plain; charset=utf-8",
				Data:        []byte(ehr.CompositeNote(k)),
				Title:       "診療記録",
			},
		}},
	}
	if d := ehr.NormalizeBirthday(k.Date); d != "" {
		t, _ := time.ParseInLocation(time.DateOnly, d, jst)
		doc.Date = t.Format(time.RFC3339)
		doc.Content[0].Attachment.Creation = d
	}
	return doc
}

func humanName(text, representationCode string) HumanName {
	n := HumanName{
		Extension: []Extension{{URL: RepresentationExtension, ValueCode: representationCode}},
		Use:       "official",
		Text:      text,
	}
	if family, given, ok := splitName(text); ok {
		n.Family = family
		n.Given = []string{given}
	}
	return n
}

// splitName splits "山田 太郎" (half- or full-width space) into family and
// given names.
func splitName(s string) (string, string, bool) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '\u3000' })
	if len(fields) != 2 {
		return "", "", false
	}
	return fields[0], fields[1], true
}

func representation(n HumanName) string {
	for _, e := range n.Extension {
		if e.URL == RepresentationExtension {
			return e.ValueCode
		}
	}
	return ""
}

func nameText(n HumanName) string {
	if t := strings.TrimSpace(n.Text); t != "" {
		return t
	}
	return strings.TrimSpace(n.Family + " " + strings.Join(n.Given, " "))
}
