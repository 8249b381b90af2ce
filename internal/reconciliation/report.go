package reconciliation

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet   = "サマリー"
	matchedSheet   = "照合済み"
	unmatchedSheet = "未照合"
)

var (
	matchedHeader   = []string{"行", "日付", "振込依頼人", "金額", "注文ID", "商品コード", "口座名義", "配送先氏名", "更新", "入金ID"}
	unmatchedHeader = []string{"行", "日付", "振込依頼人", "金額", "理由"}
)

// WriteReport writes res as an XLSX workbook with summary, matched and
// unmatched sheets.
func WriteReport(w io.Writer, res Result) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{matchedSheet, unmatchedSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	summary := [][]any{
		{"件数", res.Summary.Total},
		{"照合済み", res.Summary.Matched},
		{"未照合", res.Summary.Unmatched},
		{"更新済み", res.Summary.Updated},
	}
	for i, row := range summary {
		if err := setRow(f, summarySheet, i+1, row); err != nil {
			return err
		}
	}

	if err := writeHeader(f, matchedSheet, matchedHeader, headerStyle); err != nil {
		return err
	}
	for i, m := range res.Matched {
		updated, paymentID := "", ""
		if m.UpdateSuccess != nil {
			updated = "失敗"
			if *m.UpdateSuccess {
				updated = "成功"
			}
		}
		if m.NewPaymentID != nil {
			paymentID = m.NewPaymentID.String()
		}
		row := []any{
			m.Transfer.Line, m.Transfer.Date, m.Transfer.Description, m.Transfer.Amount,
			m.Order.ID.String(), m.Order.ProductCode, m.Order.AccountName, m.Order.ShippingName,
			updated, paymentID,
		}
		if err := setRow(f, matchedSheet, i+2, row); err != nil {
			return err
		}
	}

	if err := writeHeader(f, unmatchedSheet, unmatchedHeader, headerStyle); err != nil {
		return err
	}
	for i, u := range res.Unmatched {
		row := []any{u.Transfer.Line, u.Transfer.Date, u.Transfer.Description, u.Transfer.Amount, u.Reason}
		if err := setRow(f, unmatchedSheet, i+2, row); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, header []string, style int) error {
	row := make([]any, len(header))
	for i, h := range header {
		row[i] = h
	}
	if err := setRow(f, sheet, 1, row); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	return f.SetColWidth(sheet, "B", "H", 18)
}

func setRow(f *excelize.File, sheet string, rowNum int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, rowNum, err)
	}
	return nil
}
