package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"

	"github.com/clinicops/platform/internal/shared/config"
	"github.com/clinicops/platform/internal/shared/types"
)

// Event types emitted by the core.
const (
	ReminderSent          = "reminder.sent"
	ReconciliationApplied = "reconciliation.applied"
	TrackingApplied       = "reconciliation.tracking_applied"
	ScenarioSaved         = "scenario.saved"
	EHRPatientPushed      = "ehr.patient.pushed"
	EHRKartePushed        = "ehr.karte.pushed"
)

// Event represents a domain event
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	TenantID  types.ID  `json:"tenant_id"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// NewEvent creates a new event with auto-generated ID and timestamp
func NewEvent(eventType, source string, tenantID types.ID, data any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		TenantID:  tenantID,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Publisher is what domain services depend on.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Bus publishes events to EventStoreDB, one stream per event type.
type Bus struct {
	client *esdb.Client
	prefix string
}

// NewBus connects to the event store.
func NewBus(cfg config.EventStoreConfig) (*Bus, error) {
	settings, err := esdb.ParseConnectionString(ConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	client, err := esdb.NewClient(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create EventStoreDB client: %w", err)
	}

	return &Bus{client: client, prefix: "clinic"}, nil
}

// ConnectionString builds the esdb:// connection string
func ConnectionString(cfg config.EventStoreConfig) string {
	var auth string
	if cfg.Username != "" && cfg.Password != "" {
		auth = fmt.Sprintf("%s:%s@", cfg.Username, cfg.Password)
	}
	params := ""
	if cfg.Insecure {
		params = "?tls=false&tlsVerifyCert=false&keepAliveInterval=10000&keepAliveTimeout=10000"
	}
	return fmt.Sprintf("esdb://%s%s:%d%s", auth, cfg.Host, cfg.Port, params)
}

// StreamName maps "reminder.sent" to "clinic-reminder-sent".
func (b *Bus) StreamName(eventType string) string {
	return b.prefix + "-" + strings.ReplaceAll(eventType, ".", "-")
}

// Publish appends event to its tenant stream.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	eventID, err := uuid.Parse(event.ID)
	if err != nil {
		eventID = uuid.New()
	}

	_, err = b.client.AppendToStream(ctx, b.StreamName(event.Type), esdb.AppendToStreamOptions{
		ExpectedRevision: esdb.Any{},
	}, esdb.EventData{
		EventType:   event.Type,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
		EventID:     eventID,
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close closes the event store client
func (b *Bus) Close() {
	if b.client != nil {
		b.client.Close()
	}
}

// Health reads one event from $streams to verify the connection.
func (b *Bus) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stream, err := b.client.ReadStream(ctx, "$streams", esdb.ReadStreamOptions{
		From:      esdb.Start{},
		Direction: esdb.Forwards,
	}, 1)
	if err != nil {
		return fmt.Errorf("EventStoreDB health check failed: %w", err)
	}
	stream.Close()
	return nil
}

// Nop discards events. Used when EventStoreDB is disabled.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of what was published, optionally filtered by type.
func (r *Recorder) Events(eventType string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if eventType == "" || e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
