// Package gateway serves a local authenticated gateway to the ticketing backend.
//
// Screens and devices on the local network talk to the gateway without handling
// credentials. Every /api/ request is forwarded through the request client, which
// injects the stored access token and performs the single refresh-and-retry.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jimmy353/event-ticket-mobile-sub000/internal/apiclient"
	"github.com/jimmy353/event-ticket-mobile-sub000/internal/observability/middleware"
)

// DefaultMaxBodyBytes bounds buffered request bodies (poster uploads included).
const DefaultMaxBodyBytes = 32 << 20

// Option configures a Gateway.
type Option func(*config)

type config struct {
	maxBodyBytes int64
	logger       *slog.Logger
}

// WithMaxBodyBytes sets the largest request body the gateway accepts.
func WithMaxBodyBytes(n int64) Option {
	return func(c *config) {
		c.maxBodyBytes = n
	}
}

// WithLogger sets the request logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// Gateway represents the authenticated gateway server
type Gateway struct {
	mux    *http.ServeMux
	server *http.Server
}

// Compile-time check that Gateway implements http.Handler
var _ http.Handler = (*Gateway)(nil)

// New creates a gateway forwarding /api/ to the client's backend.
func New(client *apiclient.Client, opts ...Option) (*Gateway, error) {
	if client == nil {
		return nil, fmt.Errorf("missing api client")
	}

	cfg := &config{
		maxBodyBytes: DefaultMaxBodyBytes,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	upstream, err := url.Parse(client.BaseURL())
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}

	reverseProxyHandler := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			// The gateway authenticates; callers never pick the identity
			pr.Out.Header.Del("Authorization")
		},
		// FlushInterval: -1 disables automatic periodic flushing, flushing only when the backend flushes.
		FlushInterval: -1,
		Transport:     client,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.ErrorContext(r.Context(), "backend request failed", "path", r.URL.Path, "error", err)
			respondError(w, r, "backend unavailable", http.StatusBadGateway)
		},
		ModifyResponse: func(resp *http.Response) error {
			// RequestID already answered with the ID the backend received
			resp.Header.Del(apiclient.RequestIDHeader)
			return nil
		},
	}

	mux := http.NewServeMux()

	mux.Handle("/api/", applyMiddlewares(reverseProxyHandler,
		RequestID,
		middleware.Logging(cfg.logger),
		Recovery,
		BufferBody(cfg.maxBodyBytes),
	))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		respond(w, r, HealthResponse{Status: "ok", Backend: client.BaseURL()}, http.StatusOK)
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	return &Gateway{mux: mux}, nil
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
}

// ServeHTTP implements http.Handler interface
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (g *Gateway) Start(ctx context.Context, address string) (<-chan error, error) {
	// Startup phase: Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	g.server = &http.Server{
		Handler:      g,
		ReadTimeout:  60 * time.Second, // Inbound: read entire client request, uploads included
		WriteTimeout: 2 * time.Minute,  // Inbound: covers a request, a refresh and one retry
		IdleTimeout:  90 * time.Second, // Inbound: Keep-alive wait for next request from client
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := g.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	if err := g.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = g.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
