package reminder

import (
	"strings"
	"time"

	apperrors "github.com/clinicops/platform/internal/shared/errors"
	"github.com/clinicops/platform/internal/shared/types"
)

// TimingType selects how a rule's send time is read.
type TimingType string

const (
	// TimingFixedTime fires at sendHour:sendMinute for reservations
	// targetDayOffset days ahead.
	TimingFixedTime TimingType = "fixed_time"
	// TimingBeforeHours fires sendHour hours and sendMinute minutes before
	// each reservation starts.
	TimingBeforeHours TimingType = "before_hours"
)

// MessageFormat is the LINE message kind a rule sends.
type MessageFormat string

const (
	FormatText MessageFormat = "text"
	FormatFlex MessageFormat = "flex"
)

// Rule is a tenant's reminder rule. The dispatcher only reads rules.
type Rule struct {
	ID              types.ID      `json:"id" db:"id"`
	TenantID        types.ID      `json:"tenant_id" db:"tenant_id"`
	Name            string        `json:"name" db:"name"`
	IsEnabled       bool          `json:"is_enabled" db:"is_enabled"`
	TimingType      TimingType    `json:"timing_type" db:"timing_type"`
	SendHour        int           `json:"send_hour" db:"send_hour"`
	SendMinute      int           `json:"send_minute" db:"send_minute"`
	TargetDayOffset int           `json:"target_day_offset" db:"target_day_offset"`
	MessageFormat   MessageFormat `json:"message_format" db:"message_format"`
	MessageTemplate string        `json:"message_template" db:"message_template"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}

// Target is a reservation joined with the patient it belongs to.
type Target struct {
	ReservationID types.ID `db:"reservation_id"`
	PatientID     types.ID `db:"patient_id"`
	PatientName   string   `db:"patient_name"`
	LineUserID    string   `db:"line_user_id"`
	Date          string   `db:"date"`
	StartTime     string   `db:"start_time"`
	MenuName      string   `db:"menu_name"`
}

// SendLogEntry records a delivered reminder. At most one exists per rule,
// reservation and JST day.
type SendLogEntry struct {
	ID            types.ID
	TenantID      types.ID
	RuleID        types.ID
	ReservationID types.ID
	SentDate      string
	SentAt        time.Time
}

// NewSendLogEntry derives the entry id from its unique key.
func NewSendLogEntry(tenantID, ruleID, reservationID types.ID, day string, at time.Time) SendLogEntry {
	return SendLogEntry{
		ID:            types.NewDeterministicID(ruleID.String(), reservationID.String(), day),
		TenantID:      tenantID,
		RuleID:        ruleID,
		ReservationID: reservationID,
		SentDate:      day,
		SentAt:        at,
	}
}

// Result aggregates one dispatch run.
type Result struct {
	Sent    int      `json:"sent"`
	Failed  int      `json:"failed"`
	NoUID   int      `json:"no_uid"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// Add accumulates o into r.
func (r *Result) Add(o Result) {
	r.Sent += o.Sent
	r.Failed += o.Failed
	r.NoUID += o.NoUID
	r.Skipped += o.Skipped
	r.Errors = append(r.Errors, o.Errors...)
}

// ValidateRule checks a rule before create or update.
func ValidateRule(r Rule) error {
	details := map[string]string{}

	if strings.TrimSpace(r.Name) == "" {
		details["name"] = "name is required"
	}
	if r.SendHour < 0 || r.SendHour > 23 {
		details["send_hour"] = "send_hour must be between 0 and 23"
	}
	if r.SendMinute < 0 || r.SendMinute > 59 {
		details["send_minute"] = "send_minute must be between 0 and 59"
	}
	switch r.TimingType {
	case TimingFixedTime, TimingBeforeHours:
	default:
		details["timing_type"] = "timing_type must be fixed_time or before_hours"
	}
	if r.TargetDayOffset < 0 {
		details["target_day_offset"] = "target_day_offset must not be negative"
	}
	switch r.MessageFormat {
	case FormatText:
		if strings.TrimSpace(r.MessageTemplate) == "" {
			details["message_template"] = "message_template is required for text format"
		}
	case FormatFlex:
	default:
		details["message_format"] = "message_format must be text or flex"
	}

	if len(details) > 0 {
		return apperrors.Validation("invalid reminder rule", details)
	}
	return nil
}
