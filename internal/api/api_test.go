package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/casaflow/chatcore/internal/completion"
	"github.com/casaflow/chatcore/internal/model"
	"github.com/casaflow/chatcore/internal/runtime"
	storesqlite "github.com/casaflow/chatcore/internal/store/sqlite"
	"github.com/casaflow/chatcore/internal/threadstore"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	backend, err := storesqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })

	svc := &completion.Static{Reply: "Got it, we'll take a look."}
	registry := NewRegistry(func(ownerID string) (ThreadService, RuntimeService, error) {
		threads := threadstore.New(ownerID, backend)
		return threads, runtime.New(threads, svc), nil
	})
	srv := httptest.NewServer(NewRouter(registry, nil))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, owner, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if owner != "" {
		req.Header.Set(ownerHeader, owner)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func TestMissingOwnerHeader(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := doJSON(t, "POST", srv.URL+"/v0/threads", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", resp.StatusCode)
	}
}

func TestCreateAndSend(t *testing.T) {
	srv := newTestServer(t)

	resp, thread := doJSON(t, "POST", srv.URL+"/v0/threads", "tenant-1", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: got %d, want 201", resp.StatusCode)
	}
	if thread["title"] != "New Conversation" {
		t.Fatalf("unexpected title %v", thread["title"])
	}

	resp, thread = doJSON(t, "POST", srv.URL+"/v0/messages", "tenant-1",
		`{"content":"The dishwasher in unit #4 is flooding"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send: got %d, want 200", resp.StatusCode)
	}
	msgs, ok := thread["messages"].([]interface{})
	if !ok || len(msgs) != 2 {
		t.Fatalf("expected user+assistant messages, got %v", thread["messages"])
	}

	ctxWindow, ok := thread["context"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing context in response")
	}
	longTerm, _ := ctxWindow["longTerm"].([]interface{})
	if len(longTerm) == 0 {
		t.Fatalf("expected extracted facts in context")
	}
}

func TestSendWithoutContent(t *testing.T) {
	srv := newTestServer(t)
	doJSON(t, "POST", srv.URL+"/v0/threads", "tenant-1", "")

	resp, _ := doJSON(t, "POST", srv.URL+"/v0/messages", "tenant-1", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", resp.StatusCode)
	}
}

func TestSwitchUnknownThread(t *testing.T) {
	srv := newTestServer(t)
	doJSON(t, "POST", srv.URL+"/v0/threads", "tenant-1", "")

	resp, _ := doJSON(t, "POST", srv.URL+"/v0/threads/nonexistent/switch", "tenant-1", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("got %d, want 403", resp.StatusCode)
	}
}

func TestOwnerIsolation(t *testing.T) {
	srv := newTestServer(t)

	_, thread := doJSON(t, "POST", srv.URL+"/v0/threads", "tenant-1", "")
	threadID, _ := thread["id"].(string)
	if threadID == "" {
		t.Fatal("missing thread id")
	}

	resp, _ := doJSON(t, "GET", srv.URL+"/v0/threads/"+threadID, "tenant-2", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-owner read: got %d, want 404", resp.StatusCode)
	}

	resp, _ = doJSON(t, "POST", srv.URL+"/v0/threads/"+threadID+"/switch", "tenant-2", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-owner switch: got %d, want 403", resp.StatusCode)
	}
}

func TestEditUnknownMessage(t *testing.T) {
	srv := newTestServer(t)
	doJSON(t, "POST", srv.URL+"/v0/threads", "tenant-1", "")

	resp, _ := doJSON(t, "PATCH", srv.URL+"/v0/messages/no-such-id", "tenant-1",
		`{"content":"rewritten"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("got %d, want 404", resp.StatusCode)
	}
}

func TestUpdateThreadContextRejectsInvalid(t *testing.T) {
	srv := newTestServer(t)
	_, thread := doJSON(t, "POST", srv.URL+"/v0/threads", "tenant-1", "")
	threadID, _ := thread["id"].(string)

	patch := model.ContextWindow{
		LongTerm: []model.ContextItem{{Key: "unknown_key", Value: "x"}},
	}
	body, _ := json.Marshal(patch)
	resp, _ := doJSON(t, "PUT", srv.URL+"/v0/threads/"+threadID+"/context", "tenant-1", string(body))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", resp.StatusCode)
	}
}

func TestCancelWhenIdle(t *testing.T) {
	srv := newTestServer(t)
	doJSON(t, "POST", srv.URL+"/v0/threads", "tenant-1", "")

	resp, _ := doJSON(t, "POST", srv.URL+"/v0/responses/cancel", "tenant-1", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("got %d, want 202", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	resp, body := doJSON(t, "GET", srv.URL+"/v0/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d, want 200", resp.StatusCode)
	}
	if body["status"] != "healthy" {
		t.Fatalf("unexpected status %v", body["status"])
	}
}
