package reconciliation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/width"
)

type bankColumn int

const (
	colDate bankColumn = iota
	colDescription
	colWithdrawal
	colDeposit
	colBalance
	numBankColumns
)

// Header labels used by Japanese internet-banking exports. Columns that are
// not recognized fall back to the position of the same index.
var bankHeaderAliases = map[string]bankColumn{
	"日付":     colDate,
	"取引日":    colDate,
	"年月日":    colDate,
	"お取引日":   colDate,
	"摘要":     colDescription,
	"内容":     colDescription,
	"お取引内容":  colDescription,
	"振込依頼人":  colDescription,
	"振込依頼人名": colDescription,
	"依頼人名":   colDescription,
	"お引出し":   colWithdrawal,
	"お引出し金額": colWithdrawal,
	"出金":     colWithdrawal,
	"出金額":    colWithdrawal,
	"出金金額":   colWithdrawal,
	"支払金額":   colWithdrawal,
	"お支払金額":  colWithdrawal,
	"お預入れ":   colDeposit,
	"お預入れ金額": colDeposit,
	"お預り金額":  colDeposit,
	"預り金額":   colDeposit,
	"入金":     colDeposit,
	"入金額":    colDeposit,
	"入金金額":   colDeposit,
	"残高":     colBalance,
	"差引残高":   colBalance,
	"残高金額":   colBalance,
}

// ParseBankCSV extracts deposits from a bank statement. The first row is
// the header. Rows without a positive deposit, withdrawals included, are
// dropped.
func ParseBankCSV(text string) ([]DepositRow, error) {
	r := newCSVReader(strings.NewReader(strings.TrimPrefix(text, "\ufeff")))

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return []DepositRow{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := bankColumns(header)

	rows := []DepositRow{}
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read bank csv: %w", err)
		}
		if blank(record) {
			continue
		}
		line, _ := r.FieldPos(0)

		field := func(c bankColumn) string {
			i := cols[c]
			if i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		deposit, err := ParseAmount(field(colDeposit))
		if err != nil {
			return nil, fmt.Errorf("line %d: deposit: %w", line, err)
		}
		if deposit <= 0 {
			continue
		}

		description := strings.Trim(field(colDescription), `"`)
		rows = append(rows, DepositRow{
			Line:           line,
			Date:           field(colDate),
			Description:    description,
			Amount:         deposit,
			NormalizedName: NormalizeName(description),
		})
	}
	return rows, nil
}

func bankColumns(header []string) [numBankColumns]int {
	var cols [numBankColumns]int
	found := [numBankColumns]bool{}
	for i, h := range header {
		key := strings.TrimSpace(width.Fold.String(strings.Trim(h, "\" ")))
		if c, ok := bankHeaderAliases[key]; ok && !found[c] {
			cols[c] = i
			found[c] = true
		}
	}
	for c := bankColumn(0); c < numBankColumns; c++ {
		if !found[c] {
			cols[c] = int(c)
		}
	}
	return cols
}

// ParseAmount parses a yen amount such as "50,000", "¥50,000" or "50000円".
// An empty field is zero.
func ParseAmount(s string) (int64, error) {
	s = width.Fold.String(strings.TrimSpace(s))
	s = strings.NewReplacer(",", "", "¥", "", "\\", "", "円", "", " ", "", `"`, "").Replace(s)
	if s == "" || s == "-" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	return cr
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
