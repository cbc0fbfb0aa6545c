package websocket

import (
	"encoding/json"
	"time"

	"tasksync/internal/domain"
)

type EventType string

const (
	EventTaskCreated EventType = "task:created"
	EventTaskUpdated EventType = "task:updated"
	EventTaskDeleted EventType = "task:deleted"
	EventPing        EventType = "ping"
	EventPong        EventType = "pong"
)

// Event is the wire format for both halves of the channel. Delivery is
// at-least-once; payloads are designed so applying the same event twice is a
// no-op on the receiving side.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type TaskCreatedPayload struct {
	Task *domain.Task `json:"task"`
}

type TaskUpdatedPayload struct {
	Task *domain.Task `json:"task"`
}

type TaskDeletedPayload struct {
	TaskID string `json:"task_id"`
}

func NewEvent(eventType EventType, payload interface{}) (*Event, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (e *Event) UnmarshalPayload(v interface{}) error {
	if e.Payload == nil {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}
