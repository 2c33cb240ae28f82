package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/devtap/internal/artifacts"
	"github.com/brianly1003/devtap/internal/cdp"
	"github.com/brianly1003/devtap/internal/domain/events"
	"github.com/brianly1003/devtap/internal/domain/ports"
	"github.com/brianly1003/devtap/internal/registry"
)

// Config holds reconciler settings.
type Config struct {
	// Endpoints are the listener endpoints to scan, as host:port or full
	// URLs.
	Endpoints []string

	// Interval is the reconciliation period.
	Interval time.Duration

	// ListTimeout bounds each endpoint list fetch.
	ListTimeout time.Duration

	// Match filters advertisements by URL or title substring. Empty
	// means every advertised page is a candidate.
	Match []string
}

// Reconciler runs the periodic discovery cycle. It is the only component
// that adds or removes registry entries.
type Reconciler struct {
	cfg       Config
	store     *registry.Store
	hub       ports.EventHub
	eval      *cdp.Evaluator
	artifacts *artifacts.Store
	client    *http.Client
}

// New creates a reconciler over the given registry store.
func New(cfg Config, store *registry.Store, hub ports.EventHub, eval *cdp.Evaluator, arts *artifacts.Store) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = 2 * time.Second
	}
	return &Reconciler{
		cfg:       cfg,
		store:     store,
		hub:       hub,
		eval:      eval,
		artifacts: arts,
		client:    &http.Client{Timeout: cfg.ListTimeout},
	}
}

// Run drives reconciliation cycles until the context is cancelled. The
// first cycle runs immediately.
func (r *Reconciler) Run(ctx context.Context) {
	log.Info().
		Strs("endpoints", r.cfg.Endpoints).
		Dur("interval", r.cfg.Interval).
		Msg("discovery reconciler started")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			r.teardownAll()
			log.Info().Msg("discovery reconciler stopped")
			return
		case <-ticker.C:
			r.Cycle(ctx)
		}
	}
}

// Cycle performs one full reconciliation pass: list candidates, reuse or
// open sessions per identity, tear down vanished identities, and install
// the new registry in one step.
func (r *Reconciler) Cycle(ctx context.Context) {
	candidates := r.listCandidates(ctx)
	old := r.store.Snapshot()

	next := make(map[string]*registry.Entry, len(candidates))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range candidates {
		wg.Add(1)
		go func(c Advertisement) {
			defer wg.Done()
			entry := r.reconcileCandidate(ctx, old, c)
			if entry == nil {
				return
			}
			mu.Lock()
			prev, dup := next[entry.ID()]
			if !dup {
				next[entry.ID()] = entry
			}
			mu.Unlock()
			// Duplicate advertisements for one address: first wins, a
			// freshly opened second connection is closed to keep at most
			// one live session per identity.
			if dup && entry != prev && old[entry.ID()] != entry {
				_ = entry.Session().Close()
			}
		}(c)
	}
	wg.Wait()

	// Identities absent from the candidate set are gone: close and drop.
	for id, e := range old {
		if _, ok := next[id]; !ok {
			_ = e.Session().Close()
			log.Info().Str("session_id", id).Msg("session gone")
		}
	}

	if changed := r.store.Replace(next); changed {
		r.hub.Publish(events.NewListEvent(r.store.Listing()))
		log.Debug().Int("sessions", len(next)).Msg("session listing changed")
	}
}

// reconcileCandidate decides keep/create for one candidate and returns
// its registry entry, or nil when the candidate is dropped this cycle.
func (r *Reconciler) reconcileCandidate(ctx context.Context, old map[string]*registry.Entry, c Advertisement) *registry.Entry {
	id := registry.Identity(c.WebSocketDebuggerURL)

	var prior *registry.Entry
	if e, ok := old[id]; ok {
		if e.Session().IsOpen() {
			if meta, ok := r.refreshMetadata(ctx, e); ok {
				e.SetMeta(e.Meta().Merge(meta))
				return e
			}
			log.Debug().Str("session_id", id).Msg("metadata refresh failed, reconnecting")
		}
		// Dead or unresponsive connection: replace it with a fresh one
		// under the same identity, keeping the cached metadata for merge.
		prior = e
		_ = e.Session().Close()
	}

	sess, err := cdp.Dial(ctx, c.WebSocketDebuggerURL)
	if err != nil {
		log.Debug().Err(err).Str("candidate", c.String()).Msg("connect failed, dropping candidate")
		return nil
	}

	remembered := int64(0)
	if prior != nil {
		remembered = prior.ContextID()
	}
	meta, ok := r.extractMetadata(ctx, sess, remembered)
	if !ok {
		// Non-fatal skip: no entry is created and the fresh connection
		// does not leak.
		_ = sess.Close()
		log.Info().Str("candidate", c.String()).Msg("metadata extraction failed, skipping candidate")
		return nil
	}

	if meta.ConversationID == "" {
		// Best-effort substitute from on-disk artifacts; failure just
		// leaves the id unset.
		if cid, err := r.artifacts.LatestConversationID(); err == nil {
			meta.ConversationID = cid
		}
	}

	if prior != nil {
		meta = prior.Meta().Merge(meta)
	}

	// Style is captured exactly once per entry.
	style := r.captureStyle(ctx, sess, meta.ContextID)

	log.Info().Str("session_id", id).Str("title", meta.Title).Msg("session connected")
	return registry.NewEntry(id, sess, meta, style)
}

// refreshMetadata re-extracts metadata over an existing entry's session,
// fast path first.
func (r *Reconciler) refreshMetadata(ctx context.Context, e *registry.Entry) (registry.Metadata, bool) {
	if ctxID := e.ContextID(); ctxID != 0 {
		if meta, ok := r.probeContext(ctx, e.Session(), ctxID); ok {
			return meta, true
		}
		// The remembered context is stale; forget it before searching so
		// later cycles don't keep retrying it.
		e.ClearContextID()
	}
	return r.searchMetadata(ctx, e.Session())
}

// extractMetadata runs the direct-then-search extraction path on a
// session.
func (r *Reconciler) extractMetadata(ctx context.Context, s *cdp.Session, remembered int64) (registry.Metadata, bool) {
	if remembered != 0 {
		if meta, ok := r.probeContext(ctx, s, remembered); ok {
			return meta, true
		}
	}
	return r.searchMetadata(ctx, s)
}

// metadataPayload is the parsed shape of the extraction expression's
// reply.
type metadataPayload struct {
	Found          bool   `json:"found"`
	Title          string `json:"title"`
	Active         bool   `json:"active"`
	ConversationID string `json:"conversationId"`
	Location       string `json:"location"`
}

func (p metadataPayload) toMetadata(contextID int64) registry.Metadata {
	return registry.Metadata{
		Title:          p.Title,
		Active:         p.Active,
		ConversationID: p.ConversationID,
		Location:       p.Location,
		ContextID:      contextID,
	}
}

// probeContext evaluates the metadata expression against one context.
func (r *Reconciler) probeContext(ctx context.Context, s *cdp.Session, contextID int64) (registry.Metadata, bool) {
	value, err := r.eval.Evaluate(ctx, s, metadataScript, contextID)
	if err != nil {
		return registry.Metadata{}, false
	}
	var payload metadataPayload
	if err := json.Unmarshal(value, &payload); err != nil || !payload.Found {
		return registry.Metadata{}, false
	}
	return payload.toMetadata(contextID), true
}

// searchMetadata tries every known context in creation order.
func (r *Reconciler) searchMetadata(ctx context.Context, s *cdp.Session) (registry.Metadata, bool) {
	value, contextID, err := r.eval.EvaluateSearch(ctx, s, metadataScript)
	if err != nil {
		return registry.Metadata{}, false
	}
	var payload metadataPayload
	if err := json.Unmarshal(value, &payload); err != nil {
		return registry.Metadata{}, false
	}
	return payload.toMetadata(contextID), true
}

// captureStyle captures the entry's style payload. Failure is tolerated;
// the entry just carries no style.
func (r *Reconciler) captureStyle(ctx context.Context, s *cdp.Session, contextID int64) json.RawMessage {
	value, err := r.eval.Evaluate(ctx, s, styleScript, contextID)
	if err != nil {
		log.Debug().Err(err).Msg("style capture failed")
		return nil
	}
	return value
}

// teardownAll closes every live session on shutdown.
func (r *Reconciler) teardownAll() {
	for _, e := range r.store.List() {
		_ = e.Session().Close()
	}
	r.store.Replace(nil)
}
