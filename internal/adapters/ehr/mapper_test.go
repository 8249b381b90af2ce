package ehr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicops/platform/internal/shared/types"
)

func TestToEhrPatient_IntakeFallback(t *testing.T) {
	row := PatientRow{
		ID:   types.ID("7b0f7f64-3c1e-4a53-9d51-1f0c2b1e9a10"),
		Name: "山田 花子",
		Tel:  "090-1234-5678",
	}
	intake := map[string]any{
		"性別":   "女性",
		"生年月日": "1990/4/1",
		"フリガナ": "ヤマダ ハナコ",
		"郵便番号": "150-0001",
		"住所":   "東京都渋谷区神宮前1-1-1",
		"電話番号": "03-0000-0000",
	}

	p := ToEhrPatient(row, intake)
	assert.Equal(t, Patient{
		ExternalID: "7b0f7f64-3c1e-4a53-9d51-1f0c2b1e9a10",
		Name:       "山田 花子",
		NameKana:   "ヤマダ ハナコ",
		Sex:        SexFemale,
		Birthday:   "1990-04-01",
		Tel:        "09012345678",
		PostalCode: "150-0001",
		Address:    "東京都渋谷区神宮前1-1-1",
	}, p)
}

func TestToEhrPatient_RowWinsAndExternalID(t *testing.T) {
	row := PatientRow{ID: types.NewID(), Sex: "男", EHRExternalID: "00012"}
	p := ToEhrPatient(row, map[string]any{"性別": "女"})
	assert.Equal(t, SexMale, p.Sex)
	assert.Equal(t, "00012", p.ExternalID)
}

func TestToEhrPatient_NoIntake(t *testing.T) {
	p := ToEhrPatient(PatientRow{ID: types.NewID(), Name: "佐藤"}, nil)
	assert.Equal(t, "", p.NameKana)
	assert.Equal(t, "", p.Sex)
	assert.Equal(t, "", p.Birthday)
}

func TestFromEhrPatient_OmitsEmpty(t *testing.T) {
	u := FromEhrPatient(Patient{
		ExternalID: "00012",
		Name:       "山田 花子",
		Sex:        "female",
		Tel:        "9012345678",
		Birthday:   "not a date",
	})

	require.NotNil(t, u.Name)
	assert.Equal(t, "山田 花子", *u.Name)
	require.NotNil(t, u.Sex)
	assert.Equal(t, SexFemale, *u.Sex)
	require.NotNil(t, u.Tel)
	assert.Equal(t, "09012345678", *u.Tel)
	assert.Nil(t, u.NameKana)
	assert.Nil(t, u.Birthday)
	assert.Nil(t, u.Address)
	assert.Nil(t, u.PostalCode)
	assert.False(t, u.IsEmpty())
	assert.True(t, FromEhrPatient(Patient{}).IsEmpty())
}

func TestNormalizePhone(t *testing.T) {
	tests := map[string]string{
		"090-1234-5678":      "09012345678",
		"9012345678":         "09012345678",
		"+81 90-1234-5678":   "09012345678",
		"+81 (0)3-1234-5678": "0312345678",
		"819012345678":       "09012345678",
		"０３（１２３４）５６７８":       "0312345678",
		"":                   "",
		"なし":                 "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizePhone(in), in)
	}
}

func TestNormalizeSex(t *testing.T) {
	tests := map[string]string{
		"男": SexMale, "男性": SexMale, "M": SexMale, "male": SexMale, "1": SexMale,
		"女": SexFemale, "女性": SexFemale, "Ｆ": SexFemale, "female": SexFemale, "2": SexFemale,
		"その他": SexOther, "other": SexOther,
		"": "", "unknown": "", "9": "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeSex(in), in)
	}
}

func TestNormalizeBirthday(t *testing.T) {
	tests := map[string]string{
		"1990-04-01":           "1990-04-01",
		"1990/4/1":             "1990-04-01",
		"19900401":             "1990-04-01",
		"1990年4月1日":            "1990-04-01",
		"１９９０／０４／０１":           "1990-04-01",
		"平成2年4月1日":             "1990-04-01",
		"H2.4.1":               "1990-04-01",
		"令和元年5月1日":             "2019-05-01",
		"昭和64年1月7日":            "1989-01-07",
		"1990-04-01T00:00:00Z": "1990-04-01",
		"1990-02-30":           "",
		"昭和45年2月30日":           "",
		"":                     "",
		"不明":                   "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeBirthday(in), in)
	}
}

func TestCompositeNote(t *testing.T) {
	tests := []struct {
		name  string
		karte Karte
		want  string
	}{
		{"content only", Karte{Content: "経過良好"}, "経過良好"},
		{"all sections", Karte{Content: "経過良好", Diagnosis: "高血圧症", Prescription: "アムロジピン 5mg"},
			"経過良好\n【傷病名】高血圧症\n【処方】アムロジピン 5mg"},
		{"prescription only", Karte{Content: "再診", Prescription: "ロキソニン"}, "再診\n【処方】ロキソニン"},
		{"no content", Karte{Diagnosis: "感冒"}, "【傷病名】感冒"},
		{"blank diagnosis", Karte{Content: "再診", Diagnosis: "  "}, "再診"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompositeNote(tt.karte))
			assert.Equal(t, tt.want, FromEhrKarte(tt.karte).Content)
		})
	}
}

func TestToEhrKarte(t *testing.T) {
	k := ToEhrKarte(KarteRow{VisitDate: "2026/2/17", Content: "初診", EHRExternalID: "k-1"}, "00012")
	assert.Equal(t, Karte{ExternalID: "k-1", PatientExternalID: "00012", Date: "2026-02-17", Content: "初診"}, k)
}

func TestSearchCriteria_Matches(t *testing.T) {
	p := Patient{Name: "山田 花子", NameKana: "ヤマダ ハナコ", Birthday: "1990-04-01", Tel: "09012345678"}

	assert.True(t, SearchCriteria{}.Matches(p))
	assert.True(t, SearchCriteria{Name: "山田"}.Matches(p))
	assert.True(t, SearchCriteria{NameKana: "ﾔﾏﾀﾞﾊﾅｺ"}.Matches(p))
	assert.True(t, SearchCriteria{Birthday: "1990/4/1", Tel: "090-1234-5678"}.Matches(p))
	assert.False(t, SearchCriteria{Name: "佐藤"}.Matches(p))
	assert.False(t, SearchCriteria{Birthday: "1990-04-02"}.Matches(p))
}
