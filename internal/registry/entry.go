package registry

import (
	"encoding/json"
	"sync"

	"github.com/brianly1003/devtap/internal/cdp"
	"github.com/brianly1003/devtap/internal/domain/events"
)

// Metadata is the per-session record reported by in-process extraction.
// ContextID is the locally-remembered preferred execution context, used
// as the fast path on later cycles; it is not reported by the remote.
type Metadata struct {
	Title          string `json:"title"`
	Active         bool   `json:"active"`
	ConversationID string `json:"conversation_id,omitempty"`
	Location       string `json:"location,omitempty"`
	ContextID      int64  `json:"-"`
}

// Merge overlays refreshed metadata over the cached record: fields
// present in the refresh overwrite, absent fields keep their prior value.
// The active flag always tracks the refresh.
func (m Metadata) Merge(refresh Metadata) Metadata {
	out := m
	if refresh.Title != "" {
		out.Title = refresh.Title
	}
	if refresh.ConversationID != "" {
		out.ConversationID = refresh.ConversationID
	}
	if refresh.Location != "" {
		out.Location = refresh.Location
	}
	if refresh.ContextID != 0 {
		out.ContextID = refresh.ContextID
	}
	out.Active = refresh.Active
	return out
}

// Entry is one live session and its cached state. The discovery
// reconciler owns the metadata and connection lifecycle; the change
// publisher owns the snapshot and fingerprint fields through the
// mutation handle below. Style is captured once at creation and never
// re-polled.
type Entry struct {
	id      string
	session *cdp.Session
	style   json.RawMessage

	mu          sync.RWMutex
	meta        Metadata
	snapshot    json.RawMessage
	fingerprint string
}

// NewEntry creates an entry for a freshly opened session.
func NewEntry(id string, session *cdp.Session, meta Metadata, style json.RawMessage) *Entry {
	return &Entry{
		id:      id,
		session: session,
		meta:    meta,
		style:   style,
	}
}

// ID returns the entry's stable session identity.
func (e *Entry) ID() string {
	return e.id
}

// Session returns the entry's transport session.
func (e *Entry) Session() *cdp.Session {
	return e.session
}

// Style returns the style payload captured at creation.
func (e *Entry) Style() json.RawMessage {
	return e.style
}

// Meta returns the cached metadata record.
func (e *Entry) Meta() Metadata {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.meta
}

// SetMeta replaces the cached metadata record. Called only by the
// discovery reconciler.
func (e *Entry) SetMeta(meta Metadata) {
	e.mu.Lock()
	e.meta = meta
	e.mu.Unlock()
}

// ContextID returns the remembered preferred execution context id, or
// zero when unset.
func (e *Entry) ContextID() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.meta.ContextID
}

// ClearContextID forgets the remembered context id so a later cycle
// doesn't keep retrying a stale context.
func (e *Entry) ClearContextID() {
	e.mu.Lock()
	e.meta.ContextID = 0
	e.mu.Unlock()
}

// Snapshot returns the last captured content snapshot, or nil when none
// has been captured yet.
func (e *Entry) Snapshot() json.RawMessage {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot
}

// Fingerprint returns the last content fingerprint, or "" when unset.
func (e *Entry) Fingerprint() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fingerprint
}

// UpdateSnapshot installs a new snapshot if its fingerprint differs from
// the stored one. It reports whether a transition happened; the
// fingerprint, not the payload, is the dedup key. Called only by the
// change publisher.
func (e *Entry) UpdateSnapshot(payload json.RawMessage, fingerprint string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fingerprint == e.fingerprint {
		return false
	}
	e.snapshot = payload
	e.fingerprint = fingerprint
	return true
}

// Info returns the entry's listing record.
func (e *Entry) Info() events.SessionInfo {
	meta := e.Meta()
	return events.SessionInfo{
		ID:             e.id,
		Title:          meta.Title,
		Active:         meta.Active,
		ConversationID: meta.ConversationID,
		Location:       meta.Location,
	}
}
