package notification

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/clinicops/platform/internal/shared/types"
)

// SentPush is a push recorded by MockSender.
type SentPush struct {
	TenantID types.ID
	Push     Push
}

// MockSender records pushes instead of delivering them.
type MockSender struct {
	mu         sync.RWMutex
	sent       []SentPush
	failOnSend bool
	failFor    map[string]bool
}

// NewMockSender creates a new mock sender
func NewMockSender() *MockSender {
	return &MockSender{failFor: make(map[string]bool)}
}

func (p *MockSender) Send(ctx context.Context, tenantID types.ID, push Push) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failOnSend || p.failFor[push.To] {
		return fmt.Errorf("mock send failure")
	}
	p.sent = append(p.sent, SentPush{TenantID: tenantID, Push: push})
	return nil
}

// SetFailOnSend sets whether Send should fail
func (p *MockSender) SetFailOnSend(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failOnSend = fail
}

// SetFailFor makes sends to one LINE user fail.
func (p *MockSender) SetFailFor(to string, fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failFor[to] = fail
}

// Sent returns a copy of everything pushed so far.
func (p *MockSender) Sent() []SentPush {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]SentPush, len(p.sent))
	copy(out, p.sent)
	return out
}

// ConsoleSender logs pushes. It backs local development without a LINE channel.
type ConsoleSender struct {
	logger zerolog.Logger
}

// NewConsoleSender creates a sender that only logs.
func NewConsoleSender(logger zerolog.Logger) *ConsoleSender {
	return &ConsoleSender{logger: logger}
}

func (p *ConsoleSender) Send(ctx context.Context, tenantID types.ID, push Push) error {
	for _, m := range push.Messages {
		evt := p.logger.Info().
			Str("tenant_id", tenantID.String()).
			Str("to", push.To).
			Str("type", string(m.Type))
		if m.Type == MessageText {
			evt = evt.Str("text", m.Text)
		} else {
			evt = evt.Str("alt_text", m.AltText)
		}
		evt.Msg("push")
	}
	return nil
}
