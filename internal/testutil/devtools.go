package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// FakePage is one debuggable page served by a FakeDevtools endpoint.
type FakePage struct {
	// Title and URL appear in the /json advertisement.
	Title string
	URL   string

	// Contexts are the execution context ids announced after
	// Runtime.enable, in creation order.
	Contexts []int64

	// Evaluate answers Runtime.evaluate calls. ok=false produces an
	// exceptionDetails reply. A nil Evaluate makes every call throw.
	Evaluate func(contextID int64, expression string) (interface{}, bool)
}

// FakeDevtools is an in-process devtools listener endpoint: a /json list
// plus a WebSocket protocol peer per page. It implements just enough of
// the protocol for discovery and sampling tests.
type FakeDevtools struct {
	t      *testing.T
	server *httptest.Server

	mu    sync.Mutex
	pages map[string]*FakePage
	conns map[*websocket.Conn]struct{}
}

var fakeUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewFakeDevtools starts a fake listener endpoint. It is shut down with
// the test.
func NewFakeDevtools(t *testing.T) *FakeDevtools {
	f := &FakeDevtools{
		t:     t,
		pages: make(map[string]*FakePage),
		conns: make(map[*websocket.Conn]struct{}),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

// Endpoint returns the host:port of the fake listener.
func (f *FakeDevtools) Endpoint() string {
	return strings.TrimPrefix(f.server.URL, "http://")
}

// PageURL returns the WebSocket debugger URL for a page id.
func (f *FakeDevtools) PageURL(id string) string {
	return "ws://" + f.Endpoint() + "/devtools/page/" + id
}

// AddPage registers a page under the given id.
func (f *FakeDevtools) AddPage(id string, page *FakePage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[id] = page
}

// RemovePage drops a page from the advertisement list. Existing
// connections stay up until dropped explicitly.
func (f *FakeDevtools) RemovePage(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pages, id)
}

// DropConnections closes every live protocol connection, simulating the
// remote side going away without the page disappearing.
func (f *FakeDevtools) DropConnections() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for conn := range f.conns {
		_ = conn.Close()
	}
	f.conns = make(map[*websocket.Conn]struct{})
}

func (f *FakeDevtools) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/json" {
		f.handleList(w)
		return
	}
	if strings.HasPrefix(r.URL.Path, "/devtools/page/") {
		f.handlePage(w, r, strings.TrimPrefix(r.URL.Path, "/devtools/page/"))
		return
	}
	http.NotFound(w, r)
}

func (f *FakeDevtools) handleList(w http.ResponseWriter) {
	f.mu.Lock()
	defer f.mu.Unlock()

	type ad struct {
		Title                string `json:"title"`
		URL                  string `json:"url"`
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	ads := make([]ad, 0, len(f.pages))
	for id, page := range f.pages {
		ads = append(ads, ad{
			Title:                page.Title,
			URL:                  page.URL,
			WebSocketDebuggerURL: f.PageURL(id),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ads)
}

func (f *FakeDevtools) handlePage(w http.ResponseWriter, r *http.Request, id string) {
	f.mu.Lock()
	page, ok := f.pages[id]
	f.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	conn, err := fakeUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns[conn] = struct{}{}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.conns, conn)
		f.mu.Unlock()
		_ = conn.Close()
	}()

	var writeMu sync.Mutex
	send := func(v interface{}) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteJSON(v)
	}

	for {
		var req struct {
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		switch req.Method {
		case "Runtime.enable":
			for _, ctxID := range page.Contexts {
				send(map[string]interface{}{
					"method": "Runtime.executionContextCreated",
					"params": map[string]interface{}{
						"context": map[string]interface{}{
							"id":     ctxID,
							"origin": page.URL,
							"name":   fmt.Sprintf("context-%d", ctxID),
						},
					},
				})
			}
			send(map[string]interface{}{"id": req.ID, "result": map[string]interface{}{}})

		case "Runtime.evaluate":
			var params struct {
				Expression string `json:"expression"`
				ContextID  int64  `json:"contextId"`
			}
			_ = json.Unmarshal(req.Params, &params)

			if page.Evaluate == nil {
				send(map[string]interface{}{
					"id": req.ID,
					"result": map[string]interface{}{
						"result":           map[string]interface{}{"type": "undefined"},
						"exceptionDetails": map[string]interface{}{"text": "no evaluator configured"},
					},
				})
				continue
			}

			value, ok := page.Evaluate(params.ContextID, params.Expression)
			if !ok {
				send(map[string]interface{}{
					"id": req.ID,
					"result": map[string]interface{}{
						"result":           map[string]interface{}{"type": "undefined"},
						"exceptionDetails": map[string]interface{}{"text": "evaluation failed"},
					},
				})
				continue
			}
			send(map[string]interface{}{
				"id": req.ID,
				"result": map[string]interface{}{
					"result": map[string]interface{}{"type": "object", "value": value},
				},
			})

		default:
			send(map[string]interface{}{"id": req.ID, "result": map[string]interface{}{}})
		}
	}
}
