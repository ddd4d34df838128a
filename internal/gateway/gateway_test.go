package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jimmy353/event-ticket-mobile-sub000/internal/apiclient"
	"github.com/jimmy353/event-ticket-mobile-sub000/internal/metrics"
	"github.com/jimmy353/event-ticket-mobile-sub000/internal/tokensource"
	"github.com/jimmy353/event-ticket-mobile-sub000/internal/tokenstore"
)

// backend accepts only "Bearer fresh" and rotates "stale" to "fresh" on refresh.
type backend struct {
	mu     sync.Mutex
	bodies []string
	auths  []string
	ids    []string
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	if r.URL.Path == tokensource.RefreshPath {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access":"fresh"}`))
		return
	}

	b.mu.Lock()
	b.bodies = append(b.bodies, string(body))
	b.auths = append(b.auths, r.Header.Get("Authorization"))
	b.ids = append(b.ids, r.Header.Get(apiclient.RequestIDHeader))
	b.mu.Unlock()
	w.Header().Set(apiclient.RequestIDHeader, r.Header.Get(apiclient.RequestIDHeader))

	if r.Header.Get("Authorization") != "Bearer fresh" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"token expired"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
}

func (b *backend) calls() (bodies, auths []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.bodies...), append([]string(nil), b.auths...)
}

func (b *backend) requestIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.ids...)
}

func newTestGateway(t *testing.T, access string, opts ...Option) (*Gateway, *backend, tokenstore.Store) {
	t.Helper()

	b := &backend{}
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	store := tokenstore.NewMemoryStore()
	ctx := context.Background()
	if access != "" {
		_ = store.Set(ctx, tokenstore.KeyAccess, access)
	}
	_ = store.Set(ctx, tokenstore.KeyRefresh, "r1")

	client, err := apiclient.New(srv.URL, store, apiclient.WithTransport(metrics.NewTransport(http.DefaultTransport)))
	if err != nil {
		t.Fatalf("apiclient.New() error = %v", err)
	}
	gw, err := New(client, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return gw, b, store
}

func TestGateway_InjectsStoredToken(t *testing.T) {
	gw, b, _ := newTestGateway(t, "fresh")

	req := httptest.NewRequest(http.MethodGet, "/api/events/", nil)
	req.Header.Set("Authorization", "Bearer caller-supplied")
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"path":"/api/events/"}` {
		t.Errorf("body = %s", got)
	}
	if _, auths := b.calls(); len(auths) != 1 || auths[0] != "Bearer fresh" {
		t.Errorf("backend saw Authorization %v, want only the stored token", auths)
	}
}

func TestGateway_RefreshesAndReplaysBody(t *testing.T) {
	gw, b, store := newTestGateway(t, "stale")

	payload := `{"event":7,"quantity":2}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders/", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}
	bodies, _ := b.calls()
	if len(bodies) != 2 {
		t.Fatalf("backend calls = %d, want 2", len(bodies))
	}
	for i, body := range bodies {
		if body != payload {
			t.Errorf("attempt %d body = %q, want %q", i, body, payload)
		}
	}
	if got, _ := store.Get(context.Background(), tokenstore.KeyAccess); got != "fresh" {
		t.Errorf("stored access = %q, want fresh", got)
	}
}

func TestGateway_BodyTooLarge(t *testing.T) {
	gw, b, _ := newTestGateway(t, "fresh", WithMaxBodyBytes(8))

	req := httptest.NewRequest(http.MethodPost, "/api/orders/", bytes.NewReader(make([]byte, 64)))
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	if body.RequestID == "" {
		t.Error("413 response carries no request_id")
	}
	if bodies, _ := b.calls(); len(bodies) != 0 {
		t.Errorf("backend called %d times, want 0", len(bodies))
	}
}

func TestGateway_BackendUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	client, err := apiclient.New(baseURL, tokenstore.NewMemoryStore())
	if err != nil {
		t.Fatalf("apiclient.New() error = %v", err)
	}
	gw, err := New(client)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events/", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	if body.Error == "" {
		t.Error("error message is empty")
	}
	if body.RequestID == "" || body.RequestID != rec.Header().Get(apiclient.RequestIDHeader) {
		t.Errorf("request_id = %q, header = %q, want the same non-empty ID", body.RequestID, rec.Header().Get(apiclient.RequestIDHeader))
	}
}

func TestGateway_RequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
	}{
		{name: "caller supplied", incoming: "scan-42"},
		{name: "generated", incoming: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, b, _ := newTestGateway(t, "fresh")

			req := httptest.NewRequest(http.MethodGet, "/api/events/", nil)
			if tt.incoming != "" {
				req.Header.Set(apiclient.RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			gw.ServeHTTP(rec, req)

			echoed := rec.Header().Values(apiclient.RequestIDHeader)
			if len(echoed) != 1 || echoed[0] == "" {
				t.Fatalf("response X-Request-Id = %v, want exactly one", echoed)
			}
			if tt.incoming != "" && echoed[0] != tt.incoming {
				t.Errorf("response X-Request-Id = %q, want %q", echoed[0], tt.incoming)
			}
			if ids := b.requestIDs(); len(ids) != 1 || ids[0] != echoed[0] {
				t.Errorf("backend saw X-Request-Id %v, want [%s]", ids, echoed[0])
			}
		})
	}
}

func TestGateway_Healthz(t *testing.T) {
	gw, _, _ := newTestGateway(t, "fresh")

	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "ok" || health.Backend == "" {
		t.Errorf("health = %+v", health)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", cc)
	}
}

func TestGateway_Metrics(t *testing.T) {
	gw, _, _ := newTestGateway(t, "fresh")

	// Generate at least one backend request sample
	gw.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/events/", nil))

	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ticketctl_") {
		t.Error("metrics output has no ticketctl_ series")
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestNew_RequiresClient(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("New(nil) error = nil, want error")
	}
}

func TestGateway_StartShutdown(t *testing.T) {
	gw, _, _ := newTestGateway(t, "fresh")

	errCh, err := gw.Start(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := gw.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err, ok := <-errCh; ok && err != nil {
		t.Errorf("runtime error = %v", err)
	}
}
