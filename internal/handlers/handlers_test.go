package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/codeport/devport/internal/database"
	"github.com/codeport/devport/internal/engine"
	"github.com/codeport/devport/internal/ports"
	"github.com/codeport/devport/internal/session"
	"github.com/codeport/devport/internal/terminal"
)

type stubEngine struct {
	mu        sync.Mutex
	failStart bool
	refs      int
	running   map[string]bool
}

func newStubEngine() *stubEngine {
	return &stubEngine{running: make(map[string]bool)}
}

func (s *stubEngine) Name() string { return "stub" }

func (s *stubEngine) Start(ctx context.Context, spec engine.StartSpec) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failStart {
		return "", &engine.StartError{Output: "pull access denied", Err: errors.New("exit status 125")}
	}
	s.refs++
	ref := fmt.Sprintf("ref-%d", s.refs)
	s.running[ref] = true
	return ref, nil
}

func (s *stubEngine) Stop(ctx context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[ref] = false
	return nil
}

func (s *stubEngine) Remove(ctx context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, ref)
	return nil
}

func (s *stubEngine) Inspect(ctx context.Context, ref string) (engine.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return engine.Status{Running: s.running[ref]}, nil
}

func (s *stubEngine) ExecInteractive(ctx context.Context, ref string, cols, rows uint16) (*engine.ExecSession, error) {
	return nil, errors.New("not supported")
}

func newTestServer(t *testing.T, eng engine.Engine, portCount int) (*httptest.Server, *session.Registry) {
	t.Helper()
	store, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	alloc, err := ports.New(20000, 20000+portCount-1)
	if err != nil {
		t.Fatalf("ports.New: %v", err)
	}
	registry := session.NewRegistry(store, alloc, eng, session.Options{
		SessionRoot:    filepath.Join(t.TempDir(), "sessions"),
		Image:          "test:latest",
		ContainerPort:  8080,
		WorkspaceMount: "/workspace",
		AccessHost:     "127.0.0.1",
	})
	h := New(registry, terminal.NewManager(), store)
	r := chi.NewRouter()
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, registry
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	var decoded map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	resp.Body.Close()
	return resp, decoded
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, newStubEngine(), 10)

	resp, created := doJSON(t, "POST", srv.URL+"/api/v1/sessions",
		map[string]string{"project_name": "Demo App"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	if created["state"] != "running" {
		t.Errorf("state = %v", created["state"])
	}
	if created["port"].(float64) != 20000 {
		t.Errorf("port = %v", created["port"])
	}
	id := created["id"].(string)

	resp, got := doJSON(t, "GET", srv.URL+"/api/v1/sessions/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	if got["access_url"] != "http://127.0.0.1:20000" {
		t.Errorf("access_url = %v", got["access_url"])
	}

	resp, listed := doJSON(t, "GET", srv.URL+"/api/v1/sessions", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	if n := len(listed["sessions"].([]interface{})); n != 1 {
		t.Errorf("listed %d sessions", n)
	}

	resp, _ = doJSON(t, "DELETE", srv.URL+"/api/v1/sessions/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, body := doJSON(t, "GET", srv.URL+"/api/v1/sessions/"+id, nil)
	if resp.StatusCode != http.StatusNotFound || body["kind"] != "not_found" {
		t.Errorf("get after delete: status=%d kind=%v", resp.StatusCode, body["kind"])
	}
}

func TestCreateValidation(t *testing.T) {
	srv, _ := newTestServer(t, newStubEngine(), 1)

	resp, body := doJSON(t, "POST", srv.URL+"/api/v1/sessions", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest || body["kind"] != "bad_request" {
		t.Errorf("status=%d kind=%v", resp.StatusCode, body["kind"])
	}
}

func TestCreateStartFailureSurfacesDiagnostics(t *testing.T) {
	eng := newStubEngine()
	eng.failStart = true
	srv, _ := newTestServer(t, eng, 1)

	resp, body := doJSON(t, "POST", srv.URL+"/api/v1/sessions",
		map[string]string{"project_name": "doomed"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	if body["kind"] != "start_error" {
		t.Errorf("kind = %v", body["kind"])
	}
	detail, _ := body["detail"].(string)
	if !bytes.Contains([]byte(detail), []byte("pull access denied")) {
		t.Errorf("detail %q missing engine output", detail)
	}
}

func TestCreateExhaustionOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, newStubEngine(), 1)

	resp, _ := doJSON(t, "POST", srv.URL+"/api/v1/sessions",
		map[string]string{"project_name": "one"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first create: %d", resp.StatusCode)
	}
	resp, body := doJSON(t, "POST", srv.URL+"/api/v1/sessions",
		map[string]string{"project_name": "two"})
	if resp.StatusCode != http.StatusServiceUnavailable || body["kind"] != "exhausted" {
		t.Errorf("status=%d kind=%v", resp.StatusCode, body["kind"])
	}
}

func TestFileEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, newStubEngine(), 1)

	_, created := doJSON(t, "POST", srv.URL+"/api/v1/sessions",
		map[string]string{"project_name": "files"})
	id := created["id"].(string)
	base := srv.URL + "/api/v1/sessions/" + id

	resp, _ := doJSON(t, "POST", base+"/files/write",
		map[string]string{"path": "src/main.go", "content": "package main\n"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("write status = %d", resp.StatusCode)
	}

	resp, body := doJSON(t, "GET", base+"/files/read?path=src/main.go", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("read status = %d", resp.StatusCode)
	}
	if body["content"] != "package main\n" {
		t.Errorf("content = %q", body["content"])
	}

	resp, body = doJSON(t, "GET", base+"/files/browse?path=src", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("browse status = %d", resp.StatusCode)
	}
	entries := body["entries"].([]interface{})
	if len(entries) != 1 {
		t.Fatalf("browse entries = %d", len(entries))
	}

	resp, _ = doJSON(t, "POST", base+"/files/mkdir", map[string]string{"path": "build"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mkdir status = %d", resp.StatusCode)
	}
}

func TestFileEscapeRejected(t *testing.T) {
	srv, _ := newTestServer(t, newStubEngine(), 1)

	_, created := doJSON(t, "POST", srv.URL+"/api/v1/sessions",
		map[string]string{"project_name": "jail"})
	id := created["id"].(string)
	base := srv.URL + "/api/v1/sessions/" + id

	resp, body := doJSON(t, "POST", base+"/files/write",
		map[string]string{"path": "../../etc/passwd", "content": "x"})
	if resp.StatusCode != http.StatusBadRequest || body["kind"] != "path_escape" {
		t.Errorf("write escape: status=%d kind=%v", resp.StatusCode, body["kind"])
	}

	resp, body = doJSON(t, "GET", base+"/files/read?path=..%2F..%2Fetc%2Fpasswd", nil)
	if resp.StatusCode != http.StatusBadRequest || body["kind"] != "path_escape" {
		t.Errorf("read escape: status=%d kind=%v", resp.StatusCode, body["kind"])
	}
}

func TestTerminalRequiresRunningSession(t *testing.T) {
	eng := newStubEngine()
	srv, registry := newTestServer(t, eng, 1)

	_, created := doJSON(t, "POST", srv.URL+"/api/v1/sessions",
		map[string]string{"project_name": "term"})
	id := created["id"].(string)
	if err := registry.Stop(context.Background(), id); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	resp, body := doJSON(t, "GET", srv.URL+"/api/v1/sessions/"+id+"/terminal", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	if body["kind"] != "invalid_transition" {
		t.Errorf("kind = %v", body["kind"])
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, newStubEngine(), 1)

	resp, body := doJSON(t, "GET", srv.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "healthy" || body["engine"] != "stub" {
		t.Errorf("body = %v", body)
	}
}
