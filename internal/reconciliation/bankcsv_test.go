package reconciliation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBankCSV(t *testing.T) {
	text := "\ufeff日付,摘要,お引出し,お預入れ,残高\n" +
		"2026/02/10,ﾀﾅｶ ﾀﾛｳ,,\"50,000\",\"1,050,000\"\n" +
		"2026/02/10,ATM,\"10,000\",,\"1,040,000\"\n" +
		"\n" +
		"2026/02/11,\"ﾔﾏﾀﾞ \"\"ﾊﾅｺ\"\"\",,0,\"1,040,000\"\n" +
		"2026/02/12,サトウ ジロウ,,3300,1043300\n"

	rows, err := ParseBankCSV(text)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, DepositRow{Line: 2, Date: "2026/02/10", Description: "ﾀﾅｶ ﾀﾛｳ", Amount: 50000, NormalizedName: "タナカタロウ"}, rows[0])
	assert.Equal(t, int64(3300), rows[1].Amount)
	assert.Equal(t, "サトウジロウ", rows[1].NormalizedName)
	assert.Equal(t, 6, rows[1].Line)
}

func TestParseBankCSV_HeaderAliases(t *testing.T) {
	text := "取引日,入金,出金,振込依頼人,残高\n" +
		"2026-02-10,12000,,ｽｽﾞｷ ｲﾁﾛｳ,99999\n"

	rows, err := ParseBankCSV(text)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(12000), rows[0].Amount)
	assert.Equal(t, "スズキイチロウ", rows[0].NormalizedName)
}

func TestParseBankCSV_PositionalFallback(t *testing.T) {
	text := "a,b,c,d,e\n2026/02/10,ﾀﾅｶ,,\"8,800\",0\n"

	rows, err := ParseBankCSV(text)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(8800), rows[0].Amount)
}

func TestParseBankCSV_Empty(t *testing.T) {
	rows, err := ParseBankCSV("")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestParseBankCSV_BadAmount(t *testing.T) {
	_, err := ParseBankCSV("日付,摘要,お引出し,お預入れ,残高\n2026/02/10,x,,abc,0\n")
	assert.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	tests := map[string]int64{
		"50,000":  50000,
		"¥50,000": 50000,
		"５０００円":   5000,
		"":        0,
		"-":       0,
	}
	for in, want := range tests {
		got, err := ParseAmount(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
