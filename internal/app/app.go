package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jimmy353/event-ticket-mobile-sub000/internal/apiclient"
	"github.com/jimmy353/event-ticket-mobile-sub000/internal/events"
	"github.com/jimmy353/event-ticket-mobile-sub000/internal/gateway"
	"github.com/jimmy353/event-ticket-mobile-sub000/internal/metrics"
	"github.com/jimmy353/event-ticket-mobile-sub000/internal/tokenstore"
)

// App wires the token store, the request client and session events, and runs
// the gateway server.
type App struct {
	cfg    *Config
	id     string
	store  tokenstore.Store
	bus    *events.Bus
	client *apiclient.Client
}

// New creates a new App instance.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := cfg.Storage.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	// Identifies this process's session events on a shared bus
	id := uuid.NewString()

	bus, err := cfg.Events.NewBus("ticketctl-" + id)
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	clientOpts := []apiclient.Option{
		apiclient.WithTransport(metrics.NewTransport(http.DefaultTransport)),
		apiclient.WithRefreshTimeout(cfg.Backend.Timeout),
	}
	if cfg.Backend.CoalesceRefresh {
		clientOpts = append(clientOpts, apiclient.WithRefreshCoalescing())
	}
	if bus != nil {
		notifier, err := events.NewWatermillNotifier(bus.Publisher, cfg.Events.Topic)
		if err != nil {
			_ = bus.Close()
			return nil, fmt.Errorf("failed to create notifier: %w", err)
		}
		clientOpts = append(clientOpts, apiclient.WithNotifier(events.WithOrigin(notifier, id)))
	}

	client, err := apiclient.New(cfg.Backend.BaseURL, store, clientOpts...)
	if err != nil {
		if bus != nil {
			_ = bus.Close()
		}
		return nil, fmt.Errorf("failed to create api client: %w", err)
	}

	return &App{
		cfg:    cfg,
		id:     id,
		store:  store,
		bus:    bus,
		client: client,
	}, nil
}

// Client returns the authenticated request client.
func (a *App) Client() *apiclient.Client {
	return a.client
}

// Store returns the session token store.
func (a *App) Store() tokenstore.Store {
	return a.store
}

// WatchSession subscribes to session events and applies the configured
// reactions until ctx is done. The returned channel closes when the watcher exits.
func (a *App) WatchSession(ctx context.Context) (<-chan struct{}, error) {
	done := make(chan struct{})
	if a.bus == nil {
		close(done)
		return done, nil
	}

	messages, err := a.bus.Subscriber.Subscribe(ctx, a.cfg.Events.Topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to session events: %w", err)
	}

	go func() {
		defer close(done)
		events.Consume(ctx, messages, a.handleSessionEvent)
	}()

	return done, nil
}

func (a *App) handleSessionEvent(ctx context.Context, event events.Event) error {
	// Other processes on a shared bus hold their own credentials
	if event.Origin != a.id {
		slog.DebugContext(ctx, "ignoring session event from another process", "kind", event.Kind, "origin", event.Origin)
		return nil
	}

	switch event.Kind {
	case events.KindTokenRefreshed:
		slog.DebugContext(ctx, "session renewed", "request_id", event.RequestID)
	case events.KindSessionExpired:
		slog.WarnContext(ctx, "session expired", "reason", event.Reason, "path", event.Path, "request_id", event.RequestID)
		if !a.cfg.Auth.LogoutOnExpiry {
			return nil
		}
		// An outage says nothing about the refresh token; keep it for the next attempt
		if event.Reason == events.ReasonRefreshUnavailable {
			slog.InfoContext(ctx, "keeping stored session, refresh endpoint was unavailable")
			return nil
		}
		if err := tokenstore.Clear(ctx, a.store); err != nil {
			return fmt.Errorf("clearing expired session: %w", err)
		}
		slog.InfoContext(ctx, "stored session cleared")
	}
	return nil
}

// Close releases the event bus.
func (a *App) Close() error {
	if a.bus == nil {
		return nil
	}
	return a.bus.Close()
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	gw, err := gateway.New(a.client)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	// Startup phase: Start services
	watchCtx, stopWatch := context.WithCancel(context.Background())
	watchDone, err := a.WatchSession(watchCtx)
	if err != nil {
		stopWatch()
		return err
	}
	shutdownFuncs = append(shutdownFuncs, func(ctx context.Context) error {
		stopWatch()
		select {
		case <-watchDone:
		case <-ctx.Done():
			return fmt.Errorf("session watcher: %w", ctx.Err())
		}
		return a.Close()
	})

	slog.InfoContext(gCtx, "starting gateway server", "address", address, "backend", a.client.BaseURL())
	gatewayErrCh, err := gw.Start(gCtx, address)
	if err != nil {
		stopWatch()
		_ = a.Close()
		return fmt.Errorf("gateway startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, gw.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-gatewayErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "gateway runtime error", "error", err)
				return fmt.Errorf("gateway: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services, gateway first so in-flight requests can still publish events
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}
