package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brianly1003/devtap/internal/cdp"
	"github.com/brianly1003/devtap/internal/history"
	"github.com/brianly1003/devtap/internal/registry"
	"github.com/brianly1003/devtap/internal/testutil"
)

func newTestServer(t *testing.T, store *registry.Store, hist *history.Store) *Server {
	t.Helper()
	return New("127.0.0.1", 0, store, cdp.NewEvaluator(2*time.Second), hist)
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *strings.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	} else {
		reqBody = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reqBody)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var out map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
	}
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, registry.NewStore(), nil)

	rec := doRequest(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if string(body["status"]) != `"ok"` {
		t.Errorf("status = %s, want ok", body["status"])
	}
}

func TestListSessions(t *testing.T) {
	store := registry.NewStore()
	store.Replace(map[string]*registry.Entry{
		"s1": registry.NewEntry("s1", nil, registry.Metadata{Title: "one", Active: true}, nil),
	})
	s := newTestServer(t, store, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/sessions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/sessions = %d, want 200", rec.Code)
	}

	var body struct {
		Sessions []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Sessions) != 1 || body.Sessions[0].ID != "s1" || body.Sessions[0].Title != "one" {
		t.Errorf("sessions = %+v", body.Sessions)
	}
}

func TestGetSnapshot(t *testing.T) {
	store := registry.NewStore()
	entry := registry.NewEntry("s1", nil, registry.Metadata{}, nil)
	payload := json.RawMessage(`{"content":"hello"}`)
	entry.UpdateSnapshot(payload, registry.Fingerprint(payload))
	store.Replace(map[string]*registry.Entry{"s1": entry})
	s := newTestServer(t, store, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/sessions/s1/snapshot", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET snapshot = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if string(body["snapshot"]) != `{"content":"hello"}` {
		t.Errorf("snapshot = %s", body["snapshot"])
	}
	if len(body["fingerprint"]) == 0 {
		t.Error("fingerprint missing from response")
	}
}

func TestGetSnapshot_NoneYet(t *testing.T) {
	store := registry.NewStore()
	store.Replace(map[string]*registry.Entry{
		"s1": registry.NewEntry("s1", nil, registry.Metadata{}, nil),
	})
	s := newTestServer(t, store, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/sessions/s1/snapshot", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET snapshot before any capture = %d, want 404", rec.Code)
	}
}

func TestUnknownSession(t *testing.T) {
	s := newTestServer(t, registry.NewStore(), nil)

	for _, path := range []string{
		"/api/sessions/nope/snapshot",
		"/api/sessions/nope/style",
		"/api/sessions/nope/conversation",
		"/api/sessions/nope/history",
	} {
		rec := doRequest(t, s, http.MethodGet, path, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, rec.Code)
		}
	}
}

func TestGetStyle(t *testing.T) {
	store := registry.NewStore()
	store.Replace(map[string]*registry.Entry{
		"s1": registry.NewEntry("s1", nil, registry.Metadata{}, json.RawMessage(`{"fontFamily":"monospace"}`)),
	})
	s := newTestServer(t, store, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/sessions/s1/style", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET style = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if string(body["style"]) != `{"fontFamily":"monospace"}` {
		t.Errorf("style = %s", body["style"])
	}
}

func TestGetConversation(t *testing.T) {
	store := registry.NewStore()
	store.Replace(map[string]*registry.Entry{
		"s1": registry.NewEntry("s1", nil, registry.Metadata{ConversationID: "conv-1"}, nil),
	})
	s := newTestServer(t, store, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/sessions/s1/conversation", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET conversation = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if string(body["conversation_id"]) != `"conv-1"` {
		t.Errorf("conversation_id = %s", body["conversation_id"])
	}
}

func TestGetHistory(t *testing.T) {
	hist, err := history.Open(filepath.Join(t.TempDir(), "history.db"), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = hist.Close() }()
	if err := hist.Record("s1", "fp-1", json.RawMessage(`{"n":1}`), time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	store := registry.NewStore()
	store.Replace(map[string]*registry.Entry{
		"s1": registry.NewEntry("s1", nil, registry.Metadata{}, nil),
	})
	s := newTestServer(t, store, hist)

	rec := doRequest(t, s, http.MethodGet, "/api/sessions/s1/history?limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET history = %d, want 200", rec.Code)
	}

	var body struct {
		Changes []history.Change `json:"changes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Changes) != 1 || body.Changes[0].Fingerprint != "fp-1" {
		t.Errorf("changes = %+v", body.Changes)
	}
}

func TestGetHistory_Disabled(t *testing.T) {
	store := registry.NewStore()
	store.Replace(map[string]*registry.Entry{
		"s1": registry.NewEntry("s1", nil, registry.Metadata{}, nil),
	})
	s := newTestServer(t, store, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/sessions/s1/history", "")
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("GET history with persistence disabled = %d, want 501", rec.Code)
	}
}

func TestEvaluate(t *testing.T) {
	f := testutil.NewFakeDevtools(t)
	f.AddPage("p1", &testutil.FakePage{
		Contexts: []int64{4},
		Evaluate: func(contextID int64, expression string) (interface{}, bool) {
			return map[string]interface{}{"echo": expression, "ctx": contextID}, true
		},
	})
	sess, err := cdp.Dial(context.Background(), f.PageURL("p1"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = sess.Close() }()

	store := registry.NewStore()
	store.Replace(map[string]*registry.Entry{
		"s1": registry.NewEntry("s1", sess, registry.Metadata{ContextID: 4}, nil),
	})
	s := newTestServer(t, store, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/sessions/s1/evaluate", `{"expression":"1+1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST evaluate = %d, want 200\n%s", rec.Code, rec.Body.String())
	}

	var body struct {
		Value struct {
			Echo string `json:"echo"`
			Ctx  int64  `json:"ctx"`
		} `json:"value"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Value.Echo != "1+1" {
		t.Errorf("echoed expression = %q, want 1+1", body.Value.Echo)
	}
	if body.Value.Ctx != 4 {
		t.Errorf("context used = %d, want the entry's remembered context", body.Value.Ctx)
	}
}

func TestEvaluate_BadBody(t *testing.T) {
	store := registry.NewStore()
	store.Replace(map[string]*registry.Entry{
		"s1": registry.NewEntry("s1", nil, registry.Metadata{}, nil),
	})
	s := newTestServer(t, store, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/sessions/s1/evaluate", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST evaluate without expression = %d, want 400", rec.Code)
	}
}

func TestInput(t *testing.T) {
	f := testutil.NewFakeDevtools(t)
	f.AddPage("p1", &testutil.FakePage{Contexts: []int64{1}})
	sess, err := cdp.Dial(context.Background(), f.PageURL("p1"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = sess.Close() }()

	store := registry.NewStore()
	store.Replace(map[string]*registry.Entry{
		"s1": registry.NewEntry("s1", sess, registry.Metadata{}, nil),
	})
	s := newTestServer(t, store, nil)

	// The fake peer acknowledges unknown methods with an empty result,
	// matching a tolerant remote.
	rec := doRequest(t, s, http.MethodPost, "/api/sessions/s1/input",
		`{"method":"Input.dispatchKeyEvent","params":{"type":"keyDown","key":"a"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST input = %d, want 200\n%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if string(body["result"]) != `{}` {
		t.Errorf("result = %s, want {}", body["result"])
	}
}

func TestInput_BadBody(t *testing.T) {
	store := registry.NewStore()
	store.Replace(map[string]*registry.Entry{
		"s1": registry.NewEntry("s1", nil, registry.Metadata{}, nil),
	})
	s := newTestServer(t, store, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/sessions/s1/input", `{"params":{}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST input without method = %d, want 400", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, registry.NewStore(), nil)

	rec := doRequest(t, s, http.MethodOptions, "/api/sessions", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("OPTIONS preflight = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS allow-origin header")
	}
}
