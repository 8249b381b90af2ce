// Package reconciliation matches bank-transfer deposits to pending orders
// and applies shipping tracking numbers.
package reconciliation

import (
	"time"

	"github.com/clinicops/platform/internal/shared/types"
)

// Unmatched reasons shown to staff.
const (
	ReasonNoPendingOrders = "照合待ちの注文がありません"
	ReasonNoMatchingOrder = "該当する注文が見つかりません"
)

// PendingOrder is a bank-transfer order awaiting payment.
type PendingOrder struct {
	ID           types.ID  `json:"id" db:"id"`
	PatientID    types.ID  `json:"patient_id" db:"patient_id"`
	ProductCode  string    `json:"product_code" db:"product_code"`
	Amount       int64     `json:"amount" db:"amount"`
	AccountName  string    `json:"account_name" db:"account_name"`
	ShippingName string    `json:"shipping_name" db:"shipping_name"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// DepositRow is one deposit parsed from a bank statement. Line is the
// 1-based line of the row in the source file.
type DepositRow struct {
	Line           int    `json:"line"`
	Date           string `json:"date"`
	Description    string `json:"description"`
	Amount         int64  `json:"amount"`
	NormalizedName string `json:"normalized_name"`
}

// MatchedRow pairs a deposit with the order it pays. UpdateSuccess and
// NewPaymentID stay nil in preview.
type MatchedRow struct {
	Order         PendingOrder `json:"order"`
	Transfer      DepositRow   `json:"transfer"`
	UpdateSuccess *bool        `json:"updateSuccess"`
	NewPaymentID  *types.ID    `json:"newPaymentId"`
	Error         string       `json:"error,omitempty"`
}

// UnmatchedRow is a deposit with the reason it matched no order.
type UnmatchedRow struct {
	Transfer DepositRow `json:"transfer"`
	Reason   string     `json:"reason"`
}

// Summary counts one reconciliation run.
type Summary struct {
	Total     int `json:"total"`
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`
	Updated   int `json:"updated"`
}

// Result is the outcome of a preview or apply run.
type Result struct {
	Matched   []MatchedRow   `json:"matched"`
	Unmatched []UnmatchedRow `json:"unmatched"`
	Summary   Summary        `json:"summary"`
}

// TrackingRow is one order/tracking-number pair from a carrier CSV.
type TrackingRow struct {
	Line           int      `json:"line"`
	OrderID        types.ID `json:"order_id"`
	TrackingNumber string   `json:"tracking_number"`
}

// TrackingOutcome is the result of one tracking-number row.
type TrackingOutcome struct {
	TrackingRow
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// TrackingResult aggregates a tracking import.
type TrackingResult struct {
	Rows    []TrackingOutcome `json:"rows"`
	Total   int               `json:"total"`
	Updated int               `json:"updated"`
	Failed  int               `json:"failed"`
}
