package csvehr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicops/platform/internal/adapters/ehr"
)

func TestPatientCSV_RoundTrip(t *testing.T) {
	patients := []ehr.Patient{
		{
			ExternalID: "00012",
			Name:       "山田, 花子",
			NameKana:   "ヤマダ ハナコ",
			Sex:        ehr.SexFemale,
			Birthday:   "1990-04-01",
			Tel:        "09012345678",
			PostalCode: "150-0001",
			Address:    `東京都渋谷区 "神宮前" 1-1-1`,
		},
		{ExternalID: "00013", Name: " 先頭に空白", Address: "1行目\n2行目"},
		{},
	}

	text, err := GeneratePatientCSV(patients)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "患者ID,氏名,氏名カナ,性別,生年月日,電話番号,郵便番号,住所\n"))

	got, err := ParsePatientCSV(text)
	require.NoError(t, err)
	assert.Equal(t, patients, got)
}

func TestKarteCSV_RoundTrip(t *testing.T) {
	kartes := []ehr.Karte{
		{PatientExternalID: "00012", Date: "2026-02-17", Content: "経過良好。\n血圧 128/82", Diagnosis: "高血圧症", Prescription: "アムロジピン, 5mg"},
		{PatientExternalID: "00013", Date: "2026-02-18", Content: `"至急" 再診`},
	}

	text, err := GenerateKarteCSV(kartes)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "患者ID,診察日,カルテ本文,傷病名,処方内容\n"))

	got, err := ParseKarteCSV(text)
	require.NoError(t, err)
	assert.Equal(t, kartes, got)
}

func TestParsePatientCSV_ShortRowsPadded(t *testing.T) {
	text := "\ufeff患者ID,氏名,氏名カナ,性別,生年月日,電話番号,郵便番号,住所\r\n00012,山田\r\n"
	got, err := ParsePatientCSV(text)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ehr.Patient{ExternalID: "00012", Name: "山田"}, got[0])
}

func TestParsePatientCSV_WrongHeader(t *testing.T) {
	_, err := ParsePatientCSV("氏名,患者ID\n山田,1\n")
	assert.Error(t, err)
}

func TestParsePatientCSV_Empty(t *testing.T) {
	got, err := ParsePatientCSV("")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseCSV(t *testing.T) {
	records, err := ParseCSV("a,\"b,c\"\n\nd\n")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b,c"}, {"d"}}, records)

	_, err = ParseCSV("a,\"b\n")
	assert.Error(t, err)
}
