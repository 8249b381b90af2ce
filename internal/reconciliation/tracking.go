package reconciliation

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
	"golang.org/x/text/width"

	"github.com/clinicops/platform/internal/shared/types"
)

var (
	orderIDHeaders = map[string]bool{
		"注文ID": true, "注文番号": true, "受注番号": true, "お客様管理番号": true, "order_id": true,
	}
	trackingHeaders = map[string]bool{
		"追跡番号": true, "伝票番号": true, "送り状番号": true, "お問い合わせ番号": true, "お問い合せ番号": true, "tracking_number": true,
	}
)

// ParseTrackingCSV reads a carrier export encoded in Shift_JIS. The header
// row locates the order id and tracking number columns; without a
// recognizable header they are the first two columns. Rows with a blank
// tracking number are skipped.
func ParseTrackingCSV(r io.Reader) ([]TrackingRow, error) {
	cr := newCSVReader(transform.NewReader(r, japanese.ShiftJIS.NewDecoder()))

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []TrackingRow{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	orderCol, trackingCol := 0, 1
	for i, h := range header {
		key := strings.TrimSpace(width.Fold.String(h))
		if orderIDHeaders[key] {
			orderCol = i
		}
		if trackingHeaders[key] {
			trackingCol = i
		}
	}

	rows := []TrackingRow{}
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tracking csv: %w", err)
		}
		if blank(record) {
			continue
		}
		line, _ := cr.FieldPos(0)

		if orderCol >= len(record) || trackingCol >= len(record) {
			return nil, fmt.Errorf("line %d: expected at least %d columns", line, max(orderCol, trackingCol)+1)
		}
		number := strings.TrimSpace(width.Fold.String(record[trackingCol]))
		if number == "" {
			continue
		}
		rows = append(rows, TrackingRow{
			Line:           line,
			OrderID:        types.ID(strings.TrimSpace(record[orderCol])),
			TrackingNumber: strings.ReplaceAll(number, "-", ""),
		})
	}
	return rows, nil
}
