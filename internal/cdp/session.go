package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/devtap/internal/domain"
)

const (
	// DefaultDialTimeout bounds the WebSocket handshake.
	DefaultDialTimeout = 10 * time.Second

	// DefaultCallTimeout bounds a single call when the caller's context
	// carries no deadline of its own.
	DefaultCallTimeout = 15 * time.Second
)

// Context is an addressable execution scope inside the remote process.
// The session keeps contexts in the order they were announced.
type Context struct {
	ID     int64  `json:"id"`
	Origin string `json:"origin,omitempty"`
	Name   string `json:"name,omitempty"`
}

// Session owns one persistent duplex connection to a remote endpoint and
// provides request/response correlation over it. Concurrent calls on the
// same session are safe: replies are matched strictly by id, not by send
// order.
type Session struct {
	addr string
	conn *websocket.Conn

	// writeMu serializes frame writes on the connection.
	writeMu sync.Mutex

	// nextID is the monotonically increasing request id. Ids are never
	// reused while their pending slot is outstanding.
	idMu   sync.Mutex
	nextID int64

	// pending maps in-flight request ids to their completion slots.
	pendingMu sync.Mutex
	pending   map[int64]chan *frame

	// contexts is the ordered list of currently-known execution contexts.
	ctxMu    sync.RWMutex
	contexts []Context

	done      chan struct{}
	closeOnce sync.Once
}

// Dial establishes the duplex connection to the given WebSocket address
// and blocks until the handshake (including Runtime domain enablement)
// completes or errors.
func Dial(ctx context.Context, addr string) (*Session, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: DefaultDialTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, domain.NewConnectError(addr, err)
	}

	s := &Session{
		addr:    addr,
		conn:    conn,
		nextID:  1,
		pending: make(map[int64]chan *frame),
		done:    make(chan struct{}),
	}

	go s.readLoop()

	// Runtime.enable makes the remote announce its execution contexts;
	// without it the context list stays empty forever.
	enableCtx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()
	if _, err := s.Call(enableCtx, "Runtime.enable", nil); err != nil {
		_ = s.Close()
		return nil, domain.NewConnectError(addr, err)
	}

	log.Debug().Str("addr", addr).Msg("session opened")
	return s, nil
}

// Addr returns the remote transport address this session is connected to.
func (s *Session) Addr() string {
	return s.addr
}

// IsOpen reports whether the connection is still live.
func (s *Session) IsOpen() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Done returns a channel that's closed when the session terminates.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Call allocates a fresh request id, sends {id, method, params} and
// suspends the caller until the correlated reply arrives, the context
// expires, or the session closes. If the context has no deadline, a
// default call timeout is applied.
func (s *Session) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if !s.IsOpen() {
		return nil, domain.ErrSessionClosed
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCallTimeout)
		defer cancel()
	}

	s.idMu.Lock()
	id := s.nextID
	s.nextID++
	s.idMu.Unlock()

	req, err := newRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	// Exactly one pending slot per id.
	respCh := make(chan *frame, 1)
	s.pendingMu.Lock()
	s.pending[id] = respCh
	s.pendingMu.Unlock()

	s.writeMu.Lock()
	err = s.conn.WriteMessage(websocket.TextMessage, data)
	s.writeMu.Unlock()
	if err != nil {
		s.removePending(id)
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, &domain.RemoteError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return resp.Result, nil

	case <-ctx.Done():
		// Remove the slot so a late reply is silently discarded. Other
		// pending calls on this session are unaffected.
		s.removePending(id)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%s: %w", method, domain.ErrCallTimeout)
		}
		return nil, ctx.Err()

	case <-s.done:
		return nil, domain.ErrSessionClosed
	}
}

// Contexts returns the currently-known execution contexts in creation
// order.
func (s *Session) Contexts() []Context {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	out := make([]Context, len(s.contexts))
	copy(out, s.contexts)
	return out
}

// Close terminates the connection. All outstanding calls fail together
// with ErrSessionClosed. Safe to call multiple times.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		s.pendingMu.Lock()
		s.pending = make(map[int64]chan *frame)
		s.pendingMu.Unlock()

		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()

		_ = s.conn.Close()
		log.Debug().Str("addr", s.addr).Msg("session closed")
	})
	return nil
}

// readLoop reads inbound frames and dispatches them: a reply resolves its
// pending slot; anything else is a notification applied to the context
// tracker. Arrival order defines resolution order.
func (s *Session) readLoop() {
	defer func() {
		_ = s.Close()
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.IsOpen() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("addr", s.addr).Msg("session read error")
			}
			return
		}

		f, err := parseFrame(data)
		if err != nil {
			log.Warn().Err(err).Str("addr", s.addr).Msg("dropping malformed frame")
			continue
		}

		switch {
		case f.isReply():
			s.pendingMu.Lock()
			ch, ok := s.pending[*f.ID]
			if ok {
				delete(s.pending, *f.ID)
			}
			s.pendingMu.Unlock()
			if ok {
				ch <- f
			}
			// Unmatched replies (timed-out callers) are discarded.

		case f.isNotification():
			s.handleNotification(f)
		}
	}
}

func (s *Session) removePending(id int64) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

// handleNotification applies context-lifecycle transitions. Destroying an
// unknown context is a no-op: it may already be gone or was never seen.
func (s *Session) handleNotification(f *frame) {
	switch f.Method {
	case "Runtime.executionContextCreated":
		var params struct {
			Context Context `json:"context"`
		}
		if err := json.Unmarshal(f.Params, &params); err != nil {
			log.Warn().Err(err).Msg("bad executionContextCreated params")
			return
		}
		s.ctxMu.Lock()
		s.contexts = append(s.contexts, params.Context)
		s.ctxMu.Unlock()
		log.Trace().Int64("context_id", params.Context.ID).Str("addr", s.addr).Msg("execution context created")

	case "Runtime.executionContextDestroyed":
		var params struct {
			ExecutionContextID int64 `json:"executionContextId"`
		}
		if err := json.Unmarshal(f.Params, &params); err != nil {
			log.Warn().Err(err).Msg("bad executionContextDestroyed params")
			return
		}
		s.ctxMu.Lock()
		for i, c := range s.contexts {
			if c.ID == params.ExecutionContextID {
				s.contexts = append(s.contexts[:i], s.contexts[i+1:]...)
				break
			}
		}
		s.ctxMu.Unlock()
		log.Trace().Int64("context_id", params.ExecutionContextID).Str("addr", s.addr).Msg("execution context destroyed")
	}
}
