package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tgwatch/tg-session-watch/internal/biz/domain"
	"github.com/tgwatch/tg-session-watch/internal/biz/repo"
	"github.com/tgwatch/tg-session-watch/internal/biz/usecase"
	"github.com/tgwatch/tg-session-watch/internal/data"
)

// Mock implementations

type mockHandle struct {
	done chan struct{}
}

func (h *mockHandle) RequestCode(ctx context.Context, phone string) (string, error) { return "", nil }
func (h *mockHandle) SignIn(ctx context.Context, phone, code, codeHash string) error { return nil }
func (h *mockHandle) SignInPassword(ctx context.Context, password string) error     { return nil }
func (h *mockHandle) Export(ctx context.Context) (string, error)                    { return "", nil }
func (h *mockHandle) Subscribe(handler repo.EventHandler)                           {}
func (h *mockHandle) Done() <-chan struct{}                                          { return h.done }

func (h *mockHandle) Self(ctx context.Context) (*domain.Account, error) {
	return &domain.Account{ID: 5, Username: "bob", DisplayName: "Bob"}, nil
}

func (h *mockHandle) Disconnect() error {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
	return nil
}

type mockTransport struct{}

func (mockTransport) Connect(ctx context.Context) (repo.Handle, error) {
	return &mockHandle{done: make(chan struct{})}, nil
}

func (mockTransport) Restore(ctx context.Context, blob string) (repo.Handle, error) {
	return &mockHandle{done: make(chan struct{})}, nil
}

type nopSink struct{}

func (nopSink) Deliver(ctx context.Context, owner domain.OwnerID, text string) error { return nil }

const owner = domain.OwnerID(42)

func newTestServer(t *testing.T) (*Server, *usecase.MonitorUsecase, http.Handler) {
	t.Helper()
	store, err := data.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	for _, phone := range []string{"+15550000001", "+15550000002"} {
		if err := store.Put(ctx, &domain.Credential{Owner: owner, Phone: phone, Blob: "tgw1.x", CreatedAt: time.Now()}); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	acq := usecase.NewAcquisitionUsecase(store, mockTransport{}, usecase.DefaultAcquisitionConfig)
	mon := usecase.NewMonitorUsecase(store, store, mockTransport{}, nopSink{}, usecase.MonitorConfig{})
	t.Cleanup(mon.Close)

	s := NewServer(mon, acq, "127.0.0.1:0")
	return s, mon, s.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp map[string]interface{}
	if w.Header().Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return w, resp
}

func TestHealth(t *testing.T) {
	_, _, h := newTestServer(t)
	w, _ := do(t, h, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("Expected 200 ok, got %d %q", w.Code, w.Body.String())
	}
}

func TestCORS(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.AllowOrigins("http://localhost:3000").Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/owners/42/sessions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Expected allowed origin, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no CORS header, got %q", got)
	}
}

func TestListSessions_HidesBlob(t *testing.T) {
	_, _, h := newTestServer(t)
	w, resp := do(t, h, http.MethodGet, "/api/owners/42/sessions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	sessions := resp["sessions"].([]interface{})
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	first := sessions[0].(map[string]interface{})
	if first["phone"] != "+15550000001" {
		t.Errorf("Unexpected phone: %v", first["phone"])
	}
	if _, ok := first["blob"]; ok {
		t.Error("Blob must not be exposed")
	}
}

func TestInvalidOwner(t *testing.T) {
	_, _, h := newTestServer(t)
	w, _ := do(t, h, http.MethodGet, "/api/owners/abc/monitors", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestMonitorsAndFilters(t *testing.T) {
	_, mon, h := newTestServer(t)
	ctx := context.Background()

	// not attached yet
	w, resp := do(t, h, http.MethodPost, "/api/owners/42/filters", AddFilterRequest{Phone: "+15550000001", Kind: "keyword", Value: "x"})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", w.Code)
	}
	if resp["kind"] != "not attached" {
		t.Errorf("Unexpected kind: %v", resp["kind"])
	}

	if _, _, err := mon.Attach(ctx, owner, "+15550000001"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	w, resp = do(t, h, http.MethodPost, "/api/owners/42/filters", AddFilterRequest{Phone: "+15550000001", Kind: "regex", Value: "^order #\\d+"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %v", w.Code, resp)
	}
	f := resp["filter"].(map[string]interface{})
	if f["kind"] != "regex" || f["id"].(float64) <= 0 {
		t.Errorf("Unexpected filter: %v", f)
	}

	w, _ = do(t, h, http.MethodPost, "/api/owners/42/filters", AddFilterRequest{Phone: "+15550000001", Kind: "glob", Value: "*"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown kind, got %d", w.Code)
	}

	_, resp = do(t, h, http.MethodGet, "/api/owners/42/monitors", nil)
	monitors := resp["monitors"].([]interface{})
	if len(monitors) != 1 {
		t.Fatalf("Expected 1 monitor, got %d", len(monitors))
	}
	m := monitors[0].(map[string]interface{})
	if m["username"] != "bob" || m["filters"].(float64) != 1 {
		t.Errorf("Unexpected monitor: %v", m)
	}

	_, resp = do(t, h, http.MethodGet, "/api/owners/42/filters?phone=%2B15550000001", nil)
	if n := len(resp["filters"].([]interface{})); n != 1 {
		t.Errorf("Expected 1 filter, got %d", n)
	}

	w, _ = do(t, h, http.MethodGet, "/api/owners/42/filters", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without phone, got %d", w.Code)
	}

	w, _ = do(t, h, http.MethodDelete, "/api/owners/42/monitors/+15550000001", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if mon.IsAttached(owner, "+15550000001") {
		t.Error("Expected monitor detached")
	}
	w, _ = do(t, h, http.MethodDelete, "/api/owners/42/monitors/+15550000001", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 on second delete, got %d", w.Code)
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		kind domain.ErrorKind
		want int
	}{
		{domain.KindInvalidFormat, http.StatusBadRequest},
		{domain.KindNotFound, http.StatusNotFound},
		{domain.KindNotAttached, http.StatusConflict},
		{domain.KindTransport, http.StatusBadGateway},
		{domain.KindStore, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusOf(domain.NewError(tt.kind, "x")); got != tt.want {
			t.Errorf("statusOf(%s) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}
