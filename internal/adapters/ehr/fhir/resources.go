package fhir

import (
	"encoding/json"
	"strings"
)

// Patient is a FHIR R4 Patient resource, reduced to what the clinic exchanges.
type Patient struct {
	ResourceType string         `json:"resourceType"`
	ID           string         `json:"id,omitempty"`
	Meta         *Meta          `json:"meta,omitempty"`
	Identifier   []Identifier   `json:"identifier,omitempty"`
	Active       *bool          `json:"active,omitempty"`
	Name         []HumanName    `json:"name,omitempty"`
	Telecom      []ContactPoint `json:"telecom,omitempty"`
	Gender       string         `json:"gender,omitempty"`
	BirthDate    string         `json:"birthDate,omitempty"`
	Address      []Address      `json:"address,omitempty"`
}

type Meta struct {
	VersionID   string   `json:"versionId,omitempty"`
	LastUpdated string   `json:"lastUpdated,omitempty"`
	Profile     []string `json:"profile,omitempty"`
}

// Identifier represents a FHIR Identifier
type Identifier struct {
	Use    string `json:"use,omitempty"`
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// HumanName carries the ISO 21090 representation extension: Japanese
// profiles send the kanji name as IDE and the kana reading as SYL.
type HumanName struct {
	Extension []Extension `json:"extension,omitempty"`
	Use       string      `json:"use,omitempty"`
	Text      string      `json:"text,omitempty"`
	Family    string      `json:"family,omitempty"`
	Given     []string    `json:"given,omitempty"`
}

type Extension struct {
	URL       string `json:"url"`
	ValueCode string `json:"valueCode,omitempty"`
}

// ContactPoint represents a FHIR ContactPoint
type ContactPoint struct {
	System string `json:"system,omitempty"` // phone, fax, email, ...
	Value  string `json:"value,omitempty"`
	Use    string `json:"use,omitempty"`
}

// Address represents a FHIR Address
type Address struct {
	Use        string   `json:"use,omitempty"`
	Text       string   `json:"text,omitempty"`
	Line       []string `json:"line,omitempty"`
	City       string   `json:"city,omitempty"`
	District   string   `json:"district,omitempty"`
	State      string   `json:"state,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Country    string   `json:"country,omitempty"`
}

// Reference represents a FHIR Reference
type Reference struct {
	Reference string `json:"reference"`
}

// DocumentReference carries a karte note as a plain-text attachment.
type DocumentReference struct {
	ResourceType string            `json:"resourceType"`
	ID           string            `json:"id,omitempty"`
	Status       string            `json:"status"`
	Type         *CodeableConcept  `json:"type,omitempty"`
	Subject      *Reference        `json:"subject,omitempty"`
	Date         string            `json:"date,omitempty"`
	Content      []DocumentContent `json:"content"`
}

type DocumentContent struct {
	Attachment Attachment `json:"attachment"`
}

type Attachment struct {
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
	Title       string `json:"title,omitempty"`
	Creation    string `json:"creation,omitempty"`
}

// Bundle is a searchset. Entries stay raw until their resourceType is known.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Total        *int          `json:"total,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource"`
}

// OperationOutcome is the error body FHIR servers return.
type OperationOutcome struct {
	ResourceType string `json:"resourceType"`
	Issue        []struct {
		Severity    string `json:"severity"`
		Code        string `json:"code"`
		Diagnostics string `json:"diagnostics,omitempty"`
		Details     *struct {
			Text string `json:"text,omitempty"`
		} `json:"details,omitempty"`
	} `json:"issue"`
}

// Message joins the issue texts.
func (o *OperationOutcome) Message() string {
	var parts []string
	for _, issue := range o.Issue {
		switch {
		case issue.Diagnostics != "":
			parts = append(parts, issue.Diagnostics)
		case issue.Details != nil && issue.Details.Text != "":
			parts = append(parts, issue.Details.Text)
		case issue.Code != "":
			parts = append(parts, issue.Code)
		}
	}
	return strings.Join(parts, "; ")
}

type resourceHeader struct {
	ResourceType string `json:"resourceType"`
}
