package scenario

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/clinicops/platform/internal/notification"
	"github.com/clinicops/platform/internal/shared/types"
)

// Directory looks up what a LINE push needs.
type Directory interface {
	LineUserID(ctx context.Context, tenantID, patientID types.ID) (string, error)
	TemplateContent(ctx context.Context, tenantID types.ID, templateID string) (string, error)
}

// LineMessenger pushes scenario messages over the tenant's LINE channel.
// Patients without a LINE user id are skipped, as reminders do.
type LineMessenger struct {
	sender    notification.Sender
	directory Directory
	logger    zerolog.Logger
}

// NewLineMessenger creates a Messenger that pushes over LINE.
func NewLineMessenger(sender notification.Sender, directory Directory, logger zerolog.Logger) *LineMessenger {
	return &LineMessenger{sender: sender, directory: directory, logger: logger}
}

func (m *LineMessenger) SendText(ctx context.Context, tenantID, patientID types.ID, text string) error {
	return m.push(ctx, tenantID, patientID, text)
}

func (m *LineMessenger) SendTemplate(ctx context.Context, tenantID, patientID types.ID, templateID string) error {
	content, err := m.directory.TemplateContent(ctx, tenantID, templateID)
	if err != nil {
		return fmt.Errorf("load template %s: %w", templateID, err)
	}
	return m.push(ctx, tenantID, patientID, content)
}

func (m *LineMessenger) push(ctx context.Context, tenantID, patientID types.ID, text string) error {
	to, err := m.directory.LineUserID(ctx, tenantID, patientID)
	if err != nil {
		return fmt.Errorf("look up LINE user: %w", err)
	}
	if to == "" {
		m.logger.Debug().Str("patient_id", patientID.String()).Msg("no LINE user, message skipped")
		return nil
	}
	return m.sender.Send(ctx, tenantID, notification.Push{
		To:       to,
		Messages: []notification.Message{notification.TextMessage(text)},
	})
}
