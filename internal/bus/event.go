// ABOUTME: Bus event types carrying full entity snapshots
// ABOUTME: Every publish is a complete snapshot so handlers can apply it idempotently

package bus

import (
	"github.com/mart-code/first-aid-app/internal/store"
)

// EventType discriminates the snapshot kind an Event carries.
type EventType string

const (
	EventTypeRequest EventType = "request"
	EventTypeMessage EventType = "message"
)

// Event is a single bus notification. It always carries the full current
// state of the changed entity, never a partial diff: delivery is at-least-once
// and ordered only within a topic, so subscribers must be able to apply any
// event regardless of duplication or cross-topic reordering.
type Event struct {
	ID      string             `json:"id"` // unique per publish, for duplicate suppression
	Type    EventType          `json:"type"`
	Topic   string             `json:"topic"`
	Request *store.ChatRequest `json:"request,omitempty"`
	Message *store.Message     `json:"message,omitempty"`
}

// RequestEvent builds a request snapshot event for the given topic.
func RequestEvent(id, topic string, req *store.ChatRequest) *Event {
	return &Event{ID: id, Type: EventTypeRequest, Topic: topic, Request: req}
}

// MessageEvent builds a message snapshot event for the given topic.
func MessageEvent(id, topic string, msg *store.Message) *Event {
	return &Event{ID: id, Type: EventTypeMessage, Topic: topic, Message: msg}
}
