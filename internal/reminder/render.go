package reminder

import (
	"fmt"
	"strings"

	"github.com/clinicops/platform/internal/notification"
	"github.com/clinicops/platform/internal/schedule"
)

// Placeholders supported in text templates.
const (
	PlaceholderName     = "{name}"
	PlaceholderDate     = "{date}"
	PlaceholderTime     = "{time}"
	PlaceholderDateTime = "{datetime}"
	PlaceholderMenu     = "{menu}"
)

// RenderText fills a text template for one reservation.
func RenderText(template string, t Target) (string, error) {
	datetime, err := schedule.FormatReservationTime(t.Date, t.StartTime)
	if err != nil {
		return "", err
	}
	date, clock, _ := strings.Cut(datetime, " ")

	r := strings.NewReplacer(
		PlaceholderName, t.PatientName,
		PlaceholderDateTime, datetime,
		PlaceholderDate, date,
		PlaceholderTime, clock,
		PlaceholderMenu, t.MenuName,
	)
	return r.Replace(template), nil
}

// BuildMessage renders the rule's message for one reservation.
func BuildMessage(rule Rule, t Target) (notification.Message, error) {
	switch rule.MessageFormat {
	case FormatText:
		text, err := RenderText(rule.MessageTemplate, t)
		if err != nil {
			return notification.Message{}, err
		}
		return notification.TextMessage(text), nil
	case FormatFlex:
		datetime, err := schedule.FormatReservationTime(t.Date, t.StartTime)
		if err != nil {
			return notification.Message{}, err
		}
		note := ""
		if strings.TrimSpace(rule.MessageTemplate) != "" {
			if note, err = RenderText(rule.MessageTemplate, t); err != nil {
				return notification.Message{}, err
			}
		}
		return notification.FlexReminder(notification.ReminderCard{
			Name:     t.PatientName,
			DateTime: datetime,
			Menu:     t.MenuName,
			Note:     note,
		})
	default:
		return notification.Message{}, fmt.Errorf("unknown message format %q", rule.MessageFormat)
	}
}
