package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/oauth2"

	"github.com/jimmy353/event-ticket-mobile-sub000/internal/events"
	"github.com/jimmy353/event-ticket-mobile-sub000/internal/metrics"
	"github.com/jimmy353/event-ticket-mobile-sub000/internal/tokensource"
	"github.com/jimmy353/event-ticket-mobile-sub000/internal/tokenstore"
)

// maxRefreshAttempts caps refresh-and-retry cycles per request. A retried request
// that is still unauthorized is returned as is, which rules out refresh loops.
const maxRefreshAttempts = 1

// RequestIDHeader correlates a request with its retry in backend logs.
const RequestIDHeader = "X-Request-Id"

// Refresher renews the access token. On success the new token must already be
// persisted so that the next request reads it from storage.
type Refresher interface {
	Refresh(ctx context.Context) (*oauth2.Token, error)
}

// Option configures a Client.
type Option func(*config)

// config holds configuration for New.
type config struct {
	transport       http.RoundTripper
	refresher       Refresher
	notifier        events.Notifier
	coalesceRefresh bool
	refreshTimeout  time.Duration
}

// WithTransport sets the transport used for backend calls, refresh calls included.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *config) {
		c.transport = transport
	}
}

// WithRefresher replaces the default refresh-endpoint token source.
func WithRefresher(refresher Refresher) Option {
	return func(c *config) {
		c.refresher = refresher
	}
}

// WithNotifier receives session events (token refreshed, session expired).
func WithNotifier(notifier events.Notifier) Option {
	return func(c *config) {
		c.notifier = notifier
	}
}

// WithRefreshCoalescing shares one in-flight refresh between concurrent requests
// that hit a 401 with the same refresh token.
func WithRefreshCoalescing() Option {
	return func(c *config) {
		c.coalesceRefresh = true
	}
}

// WithRefreshTimeout bounds a single call to the refresh endpoint.
func WithRefreshTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.refreshTimeout = timeout
	}
}

// Client performs authenticated backend requests.
//
// Client keeps no credentials between calls; concurrent use is safe and each call
// works with the token it read itself.
type Client struct {
	baseURL   string
	store     tokenstore.Store
	transport http.RoundTripper
	refresher Refresher
	notifier  events.Notifier
	log       *slog.Logger
}

// Compile-time check that Client implements http.RoundTripper.
var _ http.RoundTripper = (*Client)(nil)

// New creates a Client for the backend at baseURL using store for credentials.
func New(baseURL string, store tokenstore.Store, opts ...Option) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q: scheme and host required", baseURL)
	}
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}

	cfg := &config{
		transport: http.DefaultTransport,
		notifier:  events.Nop{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	refresher := cfg.refresher
	if refresher == nil {
		sourceOpts := []tokensource.Option{tokensource.WithTransport(cfg.transport)}
		if cfg.coalesceRefresh {
			sourceOpts = append(sourceOpts, tokensource.WithCoalescing())
		}
		if cfg.refreshTimeout > 0 {
			sourceOpts = append(sourceOpts, tokensource.WithTimeout(cfg.refreshTimeout))
		}
		src, err := tokensource.New(baseURL, store, sourceOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create token source: %w", err)
		}
		refresher = src
	}

	return &Client{
		baseURL:   strings.TrimRight(base.String(), "/"),
		store:     store,
		transport: cfg.transport,
		refresher: refresher,
		notifier:  cfg.notifier,
		log:       slog.Default().With("component", "apiclient"),
	}, nil
}

// BaseURL returns the backend base URL without trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Request performs an authenticated request to the backend-relative path.
//
// The response is returned unmodified in status and body, including a final 401
// when the session could not be renewed. Only transport failures are returned
// as errors. The caller must close the response body.
func (c *Client) Request(ctx context.Context, path string, opts Options) (*http.Response, error) {
	req, err := c.NewRequest(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	return c.RoundTrip(req)
}

// RoundTrip implements http.RoundTripper with bearer injection and a single
// refresh-and-retry on 401. The request is not modified. Requests with a body
// can only be retried when GetBody is set (NewRequest always sets it).
func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	requestID := req.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	log := c.log.With("method", req.Method, "path", req.URL.Path, "request_id", requestID)

	// START: read token, attach header. SENT: first attempt.
	token, err := c.accessToken(ctx)
	if err != nil {
		// RoundTrippers must close the body on every path
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}
	resp, err := c.send(ctx, req, req.Body, token, requestID)
	if err != nil {
		return nil, err
	}

	refreshed := false
	for attempt := 0; attempt < maxRefreshAttempts && resp.StatusCode == http.StatusUnauthorized; attempt++ {
		// UNAUTHORIZED -> REFRESHING
		fresh, err := c.refresher.Refresh(ctx)
		if err != nil {
			// FAILURE: hand back the original 401
			c.refreshFailed(ctx, log, req, requestID, err)
			return resp, nil
		}
		refreshed = true
		metrics.TokenRefreshes.WithLabelValues("success").Inc()
		log.InfoContext(ctx, "access token refreshed, retrying request")
		c.notify(ctx, events.Event{Kind: events.KindTokenRefreshed, Method: req.Method, Path: req.URL.Path, RequestID: requestID})

		body, err := replayBody(req)
		if err != nil {
			log.WarnContext(ctx, "request body cannot be replayed, returning original response", "error", err)
			return resp, nil
		}

		// RETRIED: exactly once, with the token we just obtained
		retry, err := c.send(ctx, req, body, fresh.AccessToken, requestID)
		drainAndClose(resp.Body)
		if err != nil {
			return nil, err
		}
		resp = retry
	}

	if refreshed && resp.StatusCode == http.StatusUnauthorized {
		log.WarnContext(ctx, "request still unauthorized after token refresh")
		c.sessionExpired(ctx, req, requestID, events.ReasonRetryRejected)
	}

	// DONE
	return resp, nil
}

// accessToken reads the current access token. An absent token is not an error:
// the request goes out unauthenticated.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	token, _, err := tokenstore.Lookup(ctx, c.store, tokenstore.KeyAccess)
	if err != nil {
		return "", fmt.Errorf("reading access token: %w", err)
	}
	return token, nil
}

// send issues one attempt of req with the given body and bearer token.
func (c *Client) send(ctx context.Context, req *http.Request, body io.ReadCloser, token, requestID string) (*http.Response, error) {
	out := req.Clone(ctx)
	out.Body = body
	if body == nil {
		out.Body = http.NoBody
	}

	// Client-computed headers win over caller headers
	if token != "" {
		(&oauth2.Token{AccessToken: token}).SetAuthHeader(out)
	}
	out.Header.Set(RequestIDHeader, requestID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(out.Header))

	return c.transport.RoundTrip(out)
}

func (c *Client) refreshFailed(ctx context.Context, log *slog.Logger, req *http.Request, requestID string, err error) {
	reason := events.ReasonRefreshFailed
	switch {
	case errors.Is(err, tokensource.ErrNoRefreshToken):
		reason = events.ReasonNoRefreshToken
		log.InfoContext(ctx, "unauthorized and no refresh token stored")
	case errors.Is(err, tokensource.ErrRefreshUnavailable):
		reason = events.ReasonRefreshUnavailable
		log.WarnContext(ctx, "refresh endpoint unavailable", "error", err)
	default:
		log.WarnContext(ctx, "token refresh failed", "error", err)
	}
	metrics.TokenRefreshes.WithLabelValues(reason).Inc()
	c.sessionExpired(ctx, req, requestID, reason)
}

func (c *Client) sessionExpired(ctx context.Context, req *http.Request, requestID, reason string) {
	metrics.SessionExpirations.WithLabelValues(reason).Inc()
	c.notify(ctx, events.Event{
		Kind:      events.KindSessionExpired,
		Reason:    reason,
		Method:    req.Method,
		Path:      req.URL.Path,
		RequestID: requestID,
	})
}

// notify delivers a session event. Delivery problems never affect the request.
func (c *Client) notify(ctx context.Context, event events.Event) {
	event.OccurredAt = time.Now().UTC()
	if err := c.notifier.Notify(ctx, event); err != nil {
		c.log.WarnContext(ctx, "failed to deliver session event", "kind", event.Kind, "error", err)
	}
}

// replayBody returns a fresh copy of the request body for a retry.
func replayBody(req *http.Request) (io.ReadCloser, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request has a body but no GetBody")
	}
	return req.GetBody()
}

// drainAndClose discards a superseded response so its connection can be reused.
func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
