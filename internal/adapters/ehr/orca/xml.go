package orca

import (
	"encoding/xml"
	"strings"

	"github.com/clinicops/platform/internal/adapters/ehr"
)

type apiResult struct {
	Code    string `xml:"Api_Result"`
	Message string `xml:"Api_Result_Message"`
}

// OK reports success. ORCA answers "00", "000" and so on when a call works.
func (r apiResult) OK() bool {
	return r.Code != "" && strings.Trim(r.Code, "0") == ""
}

type patientInformation struct {
	PatientID       string          `xml:"Patient_ID"`
	WholeName       string          `xml:"WholeName"`
	WholeNameInKana string          `xml:"WholeName_inKana"`
	BirthDate       string          `xml:"BirthDate"`
	Sex             string          `xml:"Sex"`
	HomeAddress     homeInformation `xml:"Home_Address_Information"`
}

type homeInformation struct {
	ZipCode       string `xml:"Address_ZipCode,omitempty"`
	WholeAddress1 string `xml:"WholeAddress1,omitempty"`
	WholeAddress2 string `xml:"WholeAddress2,omitempty"`
	PhoneNumber1  string `xml:"PhoneNumber1,omitempty"`
	PhoneNumber2  string `xml:"PhoneNumber2,omitempty"`
}

type patientGetResponse struct {
	XMLName xml.Name `xml:"xmlio2"`
	Body    struct {
		apiResult
		Patient patientInformation `xml:"Patient_Information"`
	} `xml:"patientinfores"`
}

type patientListRequest struct {
	XMLName xml.Name `xml:"data"`
	Body    struct {
		WholeName      string `xml:"WholeName,omitempty"`
		BirthStartDate string `xml:"Birth_StartDate,omitempty"`
		BirthEndDate   string `xml:"Birth_EndDate,omitempty"`
	} `xml:"patientlst3req"`
}

type patientListResponse struct {
	XMLName xml.Name `xml:"xmlio2"`
	Body    struct {
		apiResult
		Patients []patientInformation `xml:"Patient_Information>Patient_Information_child"`
	} `xml:"patientlst2res"`
}

type patientModRequest struct {
	XMLName xml.Name           `xml:"data"`
	Patient patientInformation `xml:"patientmodreq"`
}

type patientModResponse struct {
	XMLName xml.Name `xml:"xmlio2"`
	Body    struct {
		apiResult
		Patient patientInformation `xml:"Patient_Information"`
	} `xml:"patientmodres"`
}

type systemRequest struct {
	XMLName       xml.Name `xml:"data"`
	RequestNumber string   `xml:"system01_managereq>Request_Number"`
}

type systemResponse struct {
	XMLName xml.Name  `xml:"xmlio2"`
	Body    apiResult `xml:"system01_manageres"`
}

var sexByCode = map[string]string{"1": ehr.SexMale, "2": ehr.SexFemale}

func toPatient(info patientInformation) ehr.Patient {
	addr := info.HomeAddress
	tel := addr.PhoneNumber1
	if strings.TrimSpace(tel) == "" {
		tel = addr.PhoneNumber2
	}
	return ehr.Patient{
		ExternalID: strings.TrimSpace(info.PatientID),
		Name:       strings.TrimSpace(info.WholeName),
		NameKana:   strings.TrimSpace(info.WholeNameInKana),
		Sex:        sexByCode[strings.TrimSpace(info.Sex)],
		Birthday:   ehr.NormalizeBirthday(info.BirthDate),
		Tel:        ehr.NormalizePhone(tel),
		PostalCode: strings.TrimSpace(addr.ZipCode),
		Address:    strings.TrimSpace(addr.WholeAddress1 + addr.WholeAddress2),
	}
}

func fromPatient(p ehr.Patient) patientInformation {
	var sex string
	switch ehr.NormalizeSex(p.Sex) {
	case ehr.SexMale:
		sex = "1"
	case ehr.SexFemale:
		sex = "2"
	}
	return patientInformation{
		PatientID:       p.ExternalID,
		WholeName:       p.Name,
		WholeNameInKana: p.NameKana,
		BirthDate:       ehr.NormalizeBirthday(p.Birthday),
		Sex:             sex,
		HomeAddress: homeInformation{
			ZipCode:       strings.ReplaceAll(p.PostalCode, "-", ""),
			WholeAddress1: p.Address,
			PhoneNumber1:  p.Tel,
		},
	}
}
