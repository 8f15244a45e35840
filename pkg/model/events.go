package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types carried in Envelope.EventType.
const (
	EventPowerActionDispatched = "power_action.dispatched"
	EventCommandFailed         = "command.failed"
)

// Envelope is the canonical event envelope.
// Every message published to NATS or RabbitMQ follows this format.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	UserID        string          `json:"user_id"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload into an Envelope for the given topic.
func NewEnvelope(topic, eventType, userID string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		UserID:        userID,
		Topic:         topic,
		EventType:     eventType,
		Version:       "1.0.0",
		Timestamp:     time.Now().UTC(),
		Payload:       data,
	}, nil
}

// PowerActionDispatched is emitted for every power action that passed the
// credential gate, whatever the remote panel answered.
type PowerActionDispatched struct {
	UserID     string    `json:"user_id"`
	Panel      string    `json:"panel"`
	ServerID   string    `json:"server_id"`
	Action     string    `json:"action"`
	Outcome    string    `json:"outcome"`
	StatusCode int       `json:"status_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// CommandFailed is emitted by the bus reporter when a command fails with a
// remote or unexpected error.
type CommandFailed struct {
	UserID   string    `json:"user_id"`
	Command  string    `json:"command"`
	Panel    string    `json:"panel,omitempty"`
	ServerID string    `json:"server_id,omitempty"`
	Action   string    `json:"action,omitempty"`
	Kind     string    `json:"kind"`
	Error    string    `json:"error"`
	At       time.Time `json:"at"`
}
