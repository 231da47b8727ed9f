// Package events carries reservation lifecycle notifications to live
// websocket subscribers and to the message bus. Publishing is best effort:
// it happens after a commit and never rolls one back.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const (
	TypeReservationCreated = "reservation.created"
	TypeReservationRemoved = "reservation.removed"
	TypeDoctorRemoved      = "doctor.removed"
	TypePatientRemoved     = "patient.removed"
)

// TopicReservations receives every reservation event.
const TopicReservations = "reservations"

func DoctorTopic(id string) string  { return "doctor:" + id }
func PatientTopic(id string) string { return "patient:" + id }

// Event is a single lifecycle notification.
type Event struct {
	Type       string          `json:"type"`
	Topic      string          `json:"topic"`
	ResourceID string          `json:"resourceId,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// New builds an event with data marshalled to JSON. Data that cannot be
// marshalled is dropped; the event itself is still delivered.
func New(typ, topic, resourceID string, data any) Event {
	evt := Event{
		Type:       typ,
		Topic:      topic,
		ResourceID: resourceID,
		Timestamp:  time.Now().UTC(),
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			evt.Data = raw
		}
	}
	return evt
}

// WithTopic returns a copy of evt addressed to topic.
func (e Event) WithTopic(topic string) Event {
	e.Topic = topic
	return e
}

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to several publishers and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
