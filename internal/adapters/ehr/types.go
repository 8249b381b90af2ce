package ehr

// Patient is a patient in the neutral transfer model. Every field is a
// string; absent values are "". Sex uses the vocabulary of NormalizeSex,
// Birthday is YYYY-MM-DD and Tel is a domestic number.
type Patient struct {
	ExternalID string `json:"externalId"`
	Name       string `json:"name"`
	NameKana   string `json:"nameKana"`
	Sex        string `json:"sex"`
	Birthday   string `json:"birthday"`
	Tel        string `json:"tel"`
	PostalCode string `json:"postalCode"`
	Address    string `json:"address"`
}

// Karte is one visit note.
type Karte struct {
	ExternalID        string `json:"externalId"`
	PatientExternalID string `json:"patientExternalId"`
	Date              string `json:"date"`
	Content           string `json:"content"`
	Diagnosis         string `json:"diagnosis,omitempty"`
	Prescription      string `json:"prescription,omitempty"`
}

// SearchCriteria narrows SearchPatients. Empty fields are ignored.
type SearchCriteria struct {
	Name     string `json:"name,omitempty"`
	NameKana string `json:"nameKana,omitempty"`
	Birthday string `json:"birthday,omitempty"`
	Tel      string `json:"tel,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// ConnectionResult is the outcome of TestConnection. Message carries the
// backend's failure text unchanged.
type ConnectionResult struct {
	OK       bool   `json:"ok"`
	Provider string `json:"provider"`
	Message  string `json:"message,omitempty"`
}

// PushResult is the outcome of a push. ExternalID is the backend's id for
// the pushed record when it reports one.
type PushResult struct {
	OK         bool   `json:"ok"`
	ExternalID string `json:"externalId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Failed builds an unsuccessful PushResult.
func Failed(err error) PushResult {
	return PushResult{Error: err.Error()}
}

// Matches reports whether p satisfies every non-empty criterion. Name and
// kana match by substring, birthday and phone exactly after normalization.
func (c SearchCriteria) Matches(p Patient) bool {
	if c.Name != "" && !containsFold(p.Name, c.Name) {
		return false
	}
	if c.NameKana != "" && !containsFold(p.NameKana, c.NameKana) {
		return false
	}
	if c.Birthday != "" && NormalizeBirthday(c.Birthday) != p.Birthday {
		return false
	}
	if c.Tel != "" && NormalizePhone(c.Tel) != NormalizePhone(p.Tel) {
		return false
	}
	return true
}
