package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jimmy353/event-ticket-mobile-sub000/internal/apiclient"
	"github.com/jimmy353/event-ticket-mobile-sub000/internal/events"
	"github.com/jimmy353/event-ticket-mobile-sub000/internal/tokenstore"
)

func newTestApp(t *testing.T, logoutOnExpiry bool) (*App, *httptest.Server) {
	t.Helper()
	return newTestAppWithBackend(t, logoutOnExpiry, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Given token not valid for any token type"}`))
	})
}

func newTestAppWithBackend(t *testing.T, logoutOnExpiry bool, handler http.HandlerFunc) (*App, *httptest.Server) {
	t.Helper()

	backend := httptest.NewServer(handler)
	t.Cleanup(backend.Close)

	cfg := &Config{
		Backend: BackendConfig{BaseURL: backend.URL},
		Storage: StorageConfig{Type: StorageTypeMemory},
		Auth:    AuthConfig{LogoutOnExpiry: logoutOnExpiry},
	}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults() error = %v", err)
	}

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a, backend
}

func TestApp_LogoutOnExpiry(t *testing.T) {
	tests := []struct {
		name          string
		logout        bool
		wantRemaining bool
	}{
		{name: "clears tokens", logout: true, wantRemaining: false},
		{name: "keeps tokens", logout: false, wantRemaining: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestApp(t, tt.logout)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			// Access token only: the 401 cannot be refreshed
			if err := a.Store().Set(ctx, tokenstore.KeyAccess, "expired"); err != nil {
				t.Fatalf("Set() error = %v", err)
			}

			done, err := a.WatchSession(ctx)
			if err != nil {
				t.Fatalf("WatchSession() error = %v", err)
			}

			resp, err := a.Client().Request(ctx, "/api/orders/my/", apiclient.Options{})
			if err != nil {
				t.Fatalf("Request() error = %v", err)
			}
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", resp.StatusCode)
			}

			// The in-process bus delivers before Request returns
			_, err = a.Store().Get(ctx, tokenstore.KeyAccess)
			remaining := err == nil
			if !remaining && !errors.Is(err, tokenstore.ErrNotFound) {
				t.Fatalf("Get() error = %v", err)
			}
			if remaining != tt.wantRemaining {
				t.Errorf("access token remaining = %v, want %v", remaining, tt.wantRemaining)
			}

			cancel()
			<-done
		})
	}
}

func TestApp_KeepsSessionWhenRefreshUnavailable(t *testing.T) {
	a, _ := newTestAppWithBackend(t, true, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/refresh/" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = a.Store().Set(ctx, tokenstore.KeyAccess, "expired")
	_ = a.Store().Set(ctx, tokenstore.KeyRefresh, "still-valid")

	done, err := a.WatchSession(ctx)
	if err != nil {
		t.Fatalf("WatchSession() error = %v", err)
	}

	resp, err := a.Client().Request(ctx, "/api/orders/my/", apiclient.Options{})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	if got, err := a.Store().Get(ctx, tokenstore.KeyRefresh); err != nil || got != "still-valid" {
		t.Errorf("stored refresh = %q, %v, want still-valid", got, err)
	}

	cancel()
	<-done
}

func TestApp_IgnoresSessionEventsFromOtherProcesses(t *testing.T) {
	a, _ := newTestApp(t, true)
	ctx := context.Background()

	_ = a.Store().Set(ctx, tokenstore.KeyAccess, "a1")
	_ = a.Store().Set(ctx, tokenstore.KeyRefresh, "r1")

	foreign := events.Event{Kind: events.KindSessionExpired, Reason: events.ReasonRefreshFailed, Origin: "another-process"}
	if err := a.handleSessionEvent(ctx, foreign); err != nil {
		t.Fatalf("handleSessionEvent() error = %v", err)
	}
	if _, err := a.Store().Get(ctx, tokenstore.KeyRefresh); err != nil {
		t.Fatalf("foreign event cleared the session: %v", err)
	}

	own := foreign
	own.Origin = a.id
	if err := a.handleSessionEvent(ctx, own); err != nil {
		t.Fatalf("handleSessionEvent() error = %v", err)
	}
	if _, err := a.Store().Get(ctx, tokenstore.KeyRefresh); !errors.Is(err, tokenstore.ErrNotFound) {
		t.Errorf("own event: Get() error = %v, want ErrNotFound", err)
	}
}

func TestApp_WatchSessionWithoutBus(t *testing.T) {
	cfg := &Config{
		Storage: StorageConfig{Type: StorageTypeMemory},
		Events:  EventsConfig{Backend: EventsBackendNone},
	}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults() error = %v", err)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done, err := a.WatchSession(context.Background())
	if err != nil {
		t.Fatalf("WatchSession() error = %v", err)
	}
	select {
	case <-done:
	default:
		t.Error("watcher without bus should be done immediately")
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{Type: StorageTypeMemory}}
	_ = cfg.ApplyDefaults()
	cfg.Backend.BaseURL = "not a url"

	if _, err := New(cfg); err == nil {
		t.Error("New() error = nil, want invalid configuration")
	}
}
