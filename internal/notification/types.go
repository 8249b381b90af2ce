package notification

import (
	"context"
	"encoding/json"

	"github.com/clinicops/platform/internal/shared/types"
)

// MessageType is the LINE message object type.
type MessageType string

const (
	MessageText MessageType = "text"
	MessageFlex MessageType = "flex"
)

// Message is one LINE message object.
type Message struct {
	Type     MessageType     `json:"type"`
	Text     string          `json:"text,omitempty"`
	AltText  string          `json:"altText,omitempty"`
	Contents json.RawMessage `json:"contents,omitempty"`
}

// TextMessage builds a plain text message.
func TextMessage(text string) Message {
	return Message{Type: MessageText, Text: text}
}

// Push is a push to one LINE user.
type Push struct {
	To       string    `json:"to"`
	Messages []Message `json:"messages"`
	// RetryKey makes a retried push idempotent on the LINE side.
	RetryKey string `json:"-"`
}

// Sender delivers a push for a tenant. Any error means the recipient was
// not reached; callers do not distinguish causes.
type Sender interface {
	Send(ctx context.Context, tenantID types.ID, push Push) error
}

// SettingResolver resolves per-tenant settings with environment fallback.
type SettingResolver interface {
	Resolve(ctx context.Context, tenantID types.ID, key string) (string, error)
}
