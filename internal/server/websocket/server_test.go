package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/brianly1003/devtap/internal/domain/events"
	"github.com/brianly1003/devtap/internal/hub"
)

// staticListing is a fixed ListingProvider for tests.
type staticListing []events.SessionInfo

func (l staticListing) Listing() []events.SessionInfo { return l }

func newTestSetup(t *testing.T, listing ListingProvider) (*Server, string) {
	t.Helper()

	h := hub.New()
	if err := h.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = h.Stop() })

	s := NewServer("127.0.0.1", 0, h, listing)
	ts := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	t.Cleanup(ts.Close)

	return s, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dialSubscriber(t *testing.T, url string) *gorilla.Conn {
	t.Helper()
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *gorilla.Conn) map[string]json.RawMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error = %v", err)
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("frame is not JSON: %v\n%s", err, data)
	}
	return out
}

func TestSubscriber_InitialListing(t *testing.T) {
	listing := staticListing{{ID: "s1", Title: "one", Active: true}}
	_, url := newTestSetup(t, listing)

	conn := dialSubscriber(t, url)

	first := readEvent(t, conn)
	if string(first["type"]) != `"list"` {
		t.Fatalf("first frame type = %s, want list", first["type"])
	}
	var sessions []events.SessionInfo
	if err := json.Unmarshal(first["sessions"], &sessions); err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s1" {
		t.Errorf("initial sessions = %+v", sessions)
	}
}

func TestSubscriber_ReceivesPublishedEvents(t *testing.T) {
	s, url := newTestSetup(t, staticListing{})
	conn := dialSubscriber(t, url)

	// Drain the initial listing.
	_ = readEvent(t, conn)

	// Wait for hub registration before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for s.hub.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered with the hub")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.hub.Publish(events.NewChangedEvent("s1"))

	frame := readEvent(t, conn)
	if string(frame["type"]) != `"changed"` {
		t.Errorf("frame type = %s, want changed", frame["type"])
	}
	if string(frame["id"]) != `"s1"` {
		t.Errorf("frame id = %s, want s1", frame["id"])
	}
}

func TestSubscriber_DisconnectCleansUp(t *testing.T) {
	s, url := newTestSetup(t, staticListing{})
	conn := dialSubscriber(t, url)
	_ = readEvent(t, conn)

	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never tracked")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for s.ClientCount() != 0 || s.hub.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("cleanup incomplete: clients=%d hub=%d", s.ClientCount(), s.hub.SubscriberCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubscriber_MultipleClients(t *testing.T) {
	s, url := newTestSetup(t, staticListing{})

	conn1 := dialSubscriber(t, url)
	conn2 := dialSubscriber(t, url)
	_ = readEvent(t, conn1)
	_ = readEvent(t, conn2)

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.SubscriberCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("subscribers never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.hub.Publish(events.NewChangedEvent("s1"))

	for i, conn := range []*gorilla.Conn{conn1, conn2} {
		frame := readEvent(t, conn)
		if string(frame["type"]) != `"changed"` {
			t.Errorf("client %d frame type = %s, want changed", i+1, frame["type"])
		}
	}
}
