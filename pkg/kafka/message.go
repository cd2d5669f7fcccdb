package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/scenescout/meld/pkg/models"
)

// IncomingMessage is a fetched Kafka message with parsed headers.
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string
}

// EventEnvelope wraps a normalized event record as produced by the
// ingestion adapters.
type EventEnvelope struct {
	SchemaVersion string             `json:"schema_version,omitempty"`
	Source        string             `json:"source,omitempty"`
	EmittedAt     time.Time          `json:"emitted_at,omitempty"`
	Event         models.EventRecord `json:"event"`
}

// ParseEvent decodes the message value as a normalized event envelope. A bare
// event record without envelope fields is also accepted.
func (m *IncomingMessage) ParseEvent() (*models.EventRecord, error) {
	var envelope EventEnvelope
	if err := json.Unmarshal(m.Value, &envelope); err != nil {
		return nil, fmt.Errorf("decoding event message: %w", err)
	}

	event := envelope.Event
	if event.ID == "" {
		// No envelope; try the value as a bare record.
		if err := json.Unmarshal(m.Value, &event); err != nil {
			return nil, fmt.Errorf("decoding bare event record: %w", err)
		}
	}
	if event.ID == "" {
		return nil, fmt.Errorf("event record has no id")
	}
	if event.Source == "" && envelope.Source != "" {
		event.Source = envelope.Source
	}
	if event.IngestedAt.IsZero() {
		event.IngestedAt = m.Timestamp.UTC()
	}
	if event.UpdatedAt.IsZero() {
		event.UpdatedAt = event.IngestedAt
	}
	return &event, nil
}
