package reconciliation

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"

	"github.com/clinicops/platform/internal/shared/types"
)

func shiftJIS(t *testing.T, s string) *bytes.Reader {
	t.Helper()
	b, err := japanese.ShiftJIS.NewEncoder().Bytes([]byte(s))
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func TestParseTrackingCSV(t *testing.T) {
	in := "お届け先名,お客様管理番号,送り状番号\n" +
		"山田 花子,ord-1,1234-5678-9012\n" +
		"佐藤 次郎,ord-2,\n" +
		"\n" +
		"鈴木 一郎,ord-3,４４４４５５５５６６６６\n"

	rows, err := ParseTrackingCSV(shiftJIS(t, in))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, TrackingRow{Line: 2, OrderID: types.ID("ord-1"), TrackingNumber: "123456789012"}, rows[0])
	assert.Equal(t, TrackingRow{Line: 5, OrderID: types.ID("ord-3"), TrackingNumber: "444455556666"}, rows[1])
}

func TestParseTrackingCSV_DefaultColumns(t *testing.T) {
	rows, err := ParseTrackingCSV(shiftJIS(t, "a,b\nord-1,9999\n"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "9999", rows[0].TrackingNumber)
}

func TestParseTrackingCSV_ShortRow(t *testing.T) {
	_, err := ParseTrackingCSV(shiftJIS(t, "注文ID,追跡番号\nord-1\n"))
	assert.Error(t, err)
}

func TestParseTrackingCSV_Empty(t *testing.T) {
	rows, err := ParseTrackingCSV(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, rows)
}
