package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brianly1003/devtap/internal/domain"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// testFrame mirrors the wire shape for scripted peers.
type testFrame struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// newTestPeer starts a WebSocket server whose connection is driven by
// handler, and returns its ws:// address.
func newTestPeer(t *testing.T, handler func(conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws://" + strings.TrimPrefix(srv.URL, "http://")
}

func readFrame(t *testing.T, conn *websocket.Conn) testFrame {
	t.Helper()
	var f testFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("peer read error: %v", err)
	}
	return f
}

func writeReply(conn *websocket.Conn, id int64, result interface{}) {
	data, _ := json.Marshal(result)
	_ = conn.WriteJSON(map[string]interface{}{"id": id, "result": json.RawMessage(data)})
}

// serveEnable consumes the Runtime.enable handshake call.
func serveEnable(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	f := readFrame(t, conn)
	if f.Method != "Runtime.enable" {
		t.Errorf("first call = %q, want Runtime.enable", f.Method)
	}
	writeReply(conn, *f.ID, map[string]interface{}{})
}

func TestDial_ConnectError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Dial(ctx, "ws://127.0.0.1:1/nothing")
	if err == nil {
		t.Fatal("Dial() to dead address succeeded")
	}
	var connErr *domain.ConnectError
	if !errors.As(err, &connErr) {
		t.Errorf("Dial() error = %v, want ConnectError", err)
	}
}

func TestCall_OutOfOrderCorrelation(t *testing.T) {
	addr := newTestPeer(t, func(conn *websocket.Conn) {
		serveEnable(t, conn)

		// Collect two concurrent calls, then reply in reverse arrival
		// order with results naming the request they answer.
		first := readFrame(t, conn)
		second := readFrame(t, conn)
		writeReply(conn, *second.ID, map[string]interface{}{"for": second.Method})
		writeReply(conn, *first.ID, map[string]interface{}{"for": first.Method})

		// Hold the connection open until the client is done.
		_, _, _ = conn.ReadMessage()
	})

	s, err := Dial(context.Background(), addr)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = s.Close() }()

	type result struct {
		method string
		raw    json.RawMessage
		err    error
	}
	results := make(chan result, 2)
	var wg sync.WaitGroup
	for _, method := range []string{"probe.alpha", "probe.beta"} {
		wg.Add(1)
		go func(method string) {
			defer wg.Done()
			raw, err := s.Call(context.Background(), method, nil)
			results <- result{method: method, raw: raw, err: err}
		}(method)
	}
	wg.Wait()
	close(results)

	for r := range results {
		if r.err != nil {
			t.Fatalf("Call(%s) error = %v", r.method, r.err)
		}
		var payload struct {
			For string `json:"for"`
		}
		if err := json.Unmarshal(r.raw, &payload); err != nil {
			t.Fatalf("Call(%s) bad result: %v", r.method, err)
		}
		if payload.For != r.method {
			t.Errorf("Call(%s) got reply for %q", r.method, payload.For)
		}
	}
}

func TestCall_RemoteError(t *testing.T) {
	addr := newTestPeer(t, func(conn *websocket.Conn) {
		serveEnable(t, conn)
		f := readFrame(t, conn)
		_ = conn.WriteJSON(map[string]interface{}{
			"id":    *f.ID,
			"error": map[string]interface{}{"code": -32000, "message": "target crashed"},
		})
		_, _, _ = conn.ReadMessage()
	})

	s, err := Dial(context.Background(), addr)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = s.Close() }()

	_, err = s.Call(context.Background(), "probe", nil)
	var remoteErr *domain.RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("Call() error = %v, want RemoteError", err)
	}
	if remoteErr.Code != -32000 {
		t.Errorf("RemoteError.Code = %d, want -32000", remoteErr.Code)
	}
	if !s.IsOpen() {
		t.Error("session should stay open after a remote error")
	}
}

func TestCall_TimeoutIsolation(t *testing.T) {
	release := make(chan struct{})
	addr := newTestPeer(t, func(conn *websocket.Conn) {
		serveEnable(t, conn)

		// Never answer the first call; answer the second promptly, and
		// deliver the stale first reply afterwards.
		first := readFrame(t, conn)
		second := readFrame(t, conn)
		writeReply(conn, *second.ID, map[string]interface{}{"ok": true})
		<-release
		writeReply(conn, *first.ID, map[string]interface{}{"late": true})
		_, _, _ = conn.ReadMessage()
	})

	s, err := Dial(context.Background(), addr)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = s.Close() }()

	var wg sync.WaitGroup
	wg.Add(2)

	var timeoutErr error
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_, timeoutErr = s.Call(ctx, "probe.slow", nil)
	}()

	var okErr error
	go func() {
		defer wg.Done()
		// Give the slow call a head start so arrival order is stable.
		time.Sleep(20 * time.Millisecond)
		_, okErr = s.Call(context.Background(), "probe.fast", nil)
	}()

	wg.Wait()

	if !errors.Is(timeoutErr, domain.ErrCallTimeout) {
		t.Errorf("slow call error = %v, want ErrCallTimeout", timeoutErr)
	}
	if okErr != nil {
		t.Errorf("fast call error = %v, want nil", okErr)
	}

	// The late reply for the timed-out id must be discarded silently.
	close(release)
	time.Sleep(50 * time.Millisecond)
	if !s.IsOpen() {
		t.Error("session should survive a discarded late reply")
	}
}

func TestClose_FailsAllPending(t *testing.T) {
	addr := newTestPeer(t, func(conn *websocket.Conn) {
		serveEnable(t, conn)
		// Read the calls but never answer; the client closes.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	s, err := Dial(context.Background(), addr)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := s.Call(context.Background(), "probe", nil)
			errs <- err
		}()
	}

	// Let both calls register their pending slots, then kill the session.
	time.Sleep(50 * time.Millisecond)
	_ = s.Close()

	for i := 0; i < 2; i++ {
		if err := <-errs; !errors.Is(err, domain.ErrSessionClosed) {
			t.Errorf("pending call error = %v, want ErrSessionClosed", err)
		}
	}
}

func TestContextTracking(t *testing.T) {
	addr := newTestPeer(t, func(conn *websocket.Conn) {
		f := readFrame(t, conn)

		notify := func(method string, params interface{}) {
			data, _ := json.Marshal(params)
			_ = conn.WriteJSON(map[string]interface{}{"method": method, "params": json.RawMessage(data)})
		}
		notify("Runtime.executionContextCreated", map[string]interface{}{
			"context": map[string]interface{}{"id": 1, "name": "main"},
		})
		notify("Runtime.executionContextCreated", map[string]interface{}{
			"context": map[string]interface{}{"id": 2, "name": "frame"},
		})
		writeReply(conn, *f.ID, map[string]interface{}{})

		notify("Runtime.executionContextDestroyed", map[string]interface{}{"executionContextId": 1})
		// Destroying an unknown context must be a no-op.
		notify("Runtime.executionContextDestroyed", map[string]interface{}{"executionContextId": 99})

		_, _, _ = conn.ReadMessage()
	})

	s, err := Dial(context.Background(), addr)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = s.Close() }()

	// Notifications race the Dial return; give the read loop a moment.
	deadline := time.Now().Add(time.Second)
	for {
		contexts := s.Contexts()
		if len(contexts) == 1 && contexts[0].ID == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Contexts() = %+v, want exactly [2]", contexts)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCall_AfterClose(t *testing.T) {
	addr := newTestPeer(t, func(conn *websocket.Conn) {
		serveEnable(t, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	s, err := Dial(context.Background(), addr)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	_ = s.Close()

	if _, err := s.Call(context.Background(), "probe", nil); !errors.Is(err, domain.ErrSessionClosed) {
		t.Errorf("Call() after close error = %v, want ErrSessionClosed", err)
	}
	if s.IsOpen() {
		t.Error("IsOpen() = true after Close()")
	}
}
