// Package sampler periodically captures content from each live session,
// fingerprints it, and publishes change events on fingerprint
// transitions.
package sampler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/devtap/internal/cdp"
	"github.com/brianly1003/devtap/internal/domain/events"
	"github.com/brianly1003/devtap/internal/domain/ports"
	"github.com/brianly1003/devtap/internal/history"
	"github.com/brianly1003/devtap/internal/registry"
)

// captureScript extracts the monitored panel's content. Its payload is
// opaque; only the fingerprint matters here.
const captureScript = `(() => {
	const panel = document.querySelector('[data-conversation-id]');
	if (!panel) {
		return null;
	}
	return {
		conversationId: panel.getAttribute('data-conversation-id') || '',
		content: panel.innerText,
	};
})()`

// Config holds sampler settings.
type Config struct {
	// Interval is the sampling period. It is expected to be much shorter
	// than the discovery interval.
	Interval time.Duration
}

// Sampler is the change publisher. It owns the snapshot and fingerprint
// fields of every registry entry; discovery never touches them.
type Sampler struct {
	cfg     Config
	store   *registry.Store
	hub     ports.EventHub
	eval    *cdp.Evaluator
	history *history.Store
}

// New creates a sampler. The history store may be nil when change
// persistence is disabled.
func New(cfg Config, store *registry.Store, hub ports.EventHub, eval *cdp.Evaluator, hist *history.Store) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Sampler{
		cfg:     cfg,
		store:   store,
		hub:     hub,
		eval:    eval,
		history: hist,
	}
}

// Run drives sampling until the context is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	log.Info().Dur("interval", s.cfg.Interval).Msg("change publisher started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("change publisher stopped")
			return
		case <-ticker.C:
			s.Sample(ctx)
		}
	}
}

// Sample captures content from every live entry in parallel. Per-entry
// failures are swallowed; they never abort the batch.
func (s *Sampler) Sample(ctx context.Context) {
	var wg sync.WaitGroup
	for _, entry := range s.store.List() {
		wg.Add(1)
		go func(entry *registry.Entry) {
			defer wg.Done()
			s.sampleEntry(ctx, entry)
		}(entry)
	}
	wg.Wait()
}

// sampleEntry captures one entry's content. The capture uses only the
// remembered context id; with none set it produces nothing. There is no
// context-search fallback on this path, it runs far too often for that.
func (s *Sampler) sampleEntry(ctx context.Context, entry *registry.Entry) {
	contextID := entry.ContextID()
	if contextID == 0 {
		return
	}

	payload, err := s.eval.Evaluate(ctx, entry.Session(), captureScript, contextID)
	if err != nil {
		log.Trace().Err(err).Str("session_id", entry.ID()).Msg("capture failed")
		return
	}
	if len(payload) == 0 || string(payload) == "null" {
		return
	}

	fingerprint := registry.Fingerprint(payload)
	if !entry.UpdateSnapshot(payload, fingerprint) {
		return
	}

	s.hub.Publish(events.NewChangedEvent(entry.ID()))
	log.Debug().Str("session_id", entry.ID()).Str("fingerprint", fingerprint).Msg("content changed")

	if s.history != nil {
		if err := s.history.Record(entry.ID(), fingerprint, payload, time.Now().UTC()); err != nil {
			log.Warn().Err(err).Str("session_id", entry.ID()).Msg("failed to record change history")
		}
	}
}
