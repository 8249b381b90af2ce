package reconciliation

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/clinicops/platform/internal/shared/types"
)

func TestWriteReport(t *testing.T) {
	ok := true
	paymentID := types.ID("pay-1")
	res := Result{
		Matched: []MatchedRow{{
			Order:         order("o-1", 50000, "タナカ タロウ", 0),
			Transfer:      deposit(2, "ﾀﾅｶ ﾀﾛｳ", 50000),
			UpdateSuccess: &ok,
			NewPaymentID:  &paymentID,
		}},
		Unmatched: []UnmatchedRow{{Transfer: deposit(3, "ｽｽﾞｷ", 100), Reason: ReasonNoMatchingOrder}},
		Summary:   Summary{Total: 2, Matched: 1, Unmatched: 1, Updated: 1},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, res))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{summarySheet, matchedSheet, unmatchedSheet}, f.GetSheetList())

	total, err := f.GetCellValue(summarySheet, "B1")
	require.NoError(t, err)
	assert.Equal(t, "2", total)

	matched, err := f.GetRows(matchedSheet)
	require.NoError(t, err)
	require.Len(t, matched, 2)
	assert.Equal(t, matchedHeader, matched[0])
	assert.Equal(t, "o-1", matched[1][4])
	assert.Equal(t, "成功", matched[1][8])
	assert.Equal(t, "pay-1", matched[1][9])

	unmatched, err := f.GetRows(unmatchedSheet)
	require.NoError(t, err)
	require.Len(t, unmatched, 2)
	assert.Equal(t, ReasonNoMatchingOrder, unmatched[1][4])
}

func TestWriteReport_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, Result{}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(matchedSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
