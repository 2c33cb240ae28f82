// Package events defines the event types pushed to subscribers.
package events

import (
	"encoding/json"
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// EventTypeList carries the full current session listing. Emitted when
	// the set of live sessions changes, and to every newly connected
	// subscriber.
	EventTypeList EventType = "list"

	// EventTypeChanged signals that one session's content snapshot has a
	// new fingerprint. Carries only the session id; subscribers fetch the
	// payload through the query API.
	EventTypeChanged EventType = "changed"
)

// Event is the base interface for all events.
type Event interface {
	// Type returns the event type.
	Type() EventType

	// Timestamp returns when the event occurred.
	Timestamp() time.Time

	// ToJSON serializes the event to JSON.
	ToJSON() ([]byte, error)
}

// SessionInfo is the per-session record carried by list events.
type SessionInfo struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Active         bool   `json:"active"`
	ConversationID string `json:"conversation_id,omitempty"`
	Location       string `json:"location,omitempty"`
}

// ListEvent carries the full session listing.
type ListEvent struct {
	EventType EventType     `json:"type"`
	EventTime time.Time     `json:"timestamp"`
	Sessions  []SessionInfo `json:"sessions"`
}

// NewListEvent creates a list event from the given session listing.
func NewListEvent(sessions []SessionInfo) *ListEvent {
	if sessions == nil {
		sessions = []SessionInfo{}
	}
	return &ListEvent{
		EventType: EventTypeList,
		EventTime: time.Now().UTC(),
		Sessions:  sessions,
	}
}

// Type returns the event type.
func (e *ListEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e *ListEvent) Timestamp() time.Time {
	return e.EventTime
}

// ToJSON serializes the event to JSON.
func (e *ListEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ChangedEvent signals a content fingerprint transition for one session.
type ChangedEvent struct {
	EventType EventType `json:"type"`
	EventTime time.Time `json:"timestamp"`
	ID        string    `json:"id"`
}

// NewChangedEvent creates a changed event for the given session id.
func NewChangedEvent(id string) *ChangedEvent {
	return &ChangedEvent{
		EventType: EventTypeChanged,
		EventTime: time.Now().UTC(),
		ID:        id,
	}
}

// Type returns the event type.
func (e *ChangedEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e *ChangedEvent) Timestamp() time.Time {
	return e.EventTime
}

// ToJSON serializes the event to JSON.
func (e *ChangedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
