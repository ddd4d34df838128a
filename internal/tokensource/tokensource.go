package tokensource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/jimmy353/event-ticket-mobile-sub000/internal/tokenstore"
)

// RefreshPath is the backend route exchanging a refresh token for an access token.
const RefreshPath = "/api/auth/refresh/"

// maxResponseBytes bounds how much of a refresh response is read.
const maxResponseBytes = 1 << 20

var (
	// ErrNoRefreshToken is returned when the store holds no refresh token.
	ErrNoRefreshToken = errors.New("no refresh token stored")

	// ErrRefreshFailed is returned when the refresh endpoint rejects the token
	// or answers with a body that carries no access token.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrRefreshUnavailable marks refresh failures that say nothing about the
	// session: the endpoint was unreachable or answered with a server error.
	// Such errors also match ErrRefreshFailed.
	ErrRefreshUnavailable = errors.New("refresh endpoint unavailable")
)

// Option configures a Source.
type Option func(*config)

// config holds configuration for New.
type config struct {
	baseTransport http.RoundTripper
	timeout       time.Duration
	coalesce      bool
}

// WithTransport sets a custom base transport for refresh requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *config) {
		c.baseTransport = transport
	}
}

// WithTimeout bounds a single refresh call. Defaults to 30 seconds.
func WithTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.timeout = timeout
	}
}

// WithCoalescing makes concurrent refreshes for the same refresh token share
// a single call to the refresh endpoint.
func WithCoalescing() Option {
	return func(c *config) {
		c.coalesce = true
	}
}

// Source refreshes access tokens against the backend and persists them.
// It holds no tokens itself; every Refresh reads the refresh token from the store.
type Source struct {
	endpoint   string
	store      tokenstore.Store
	httpClient *http.Client
	coalesce   bool
	group      singleflight.Group
	log        *slog.Logger
}

// New creates a Source for the backend at baseURL.
func New(baseURL string, store tokenstore.Store, opts ...Option) (*Source, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("missing backend base URL")
	}
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}

	cfg := &config{
		baseTransport: http.DefaultTransport,
		timeout:       30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Source{
		endpoint: strings.TrimRight(baseURL, "/") + RefreshPath,
		store:    store,
		httpClient: &http.Client{
			Timeout:   cfg.timeout,
			Transport: cfg.baseTransport,
		},
		coalesce: cfg.coalesce,
		log:      slog.Default().With("component", "tokensource"),
	}, nil
}

// Refresh exchanges the stored refresh token for a new access token, writes the
// access token back to the store and returns it.
//
// Returns ErrNoRefreshToken when nothing is stored and an error wrapping
// ErrRefreshFailed when the endpoint does not hand out a new access token.
func (s *Source) Refresh(ctx context.Context) (*oauth2.Token, error) {
	refreshToken, ok, err := tokenstore.Lookup(ctx, s.store, tokenstore.KeyRefresh)
	if err != nil {
		return nil, fmt.Errorf("reading refresh token: %w", err)
	}
	if !ok {
		return nil, ErrNoRefreshToken
	}

	if !s.coalesce {
		return s.refresh(ctx, refreshToken)
	}

	// Shared call must outlive any single waiter; each waiter still honors its own ctx
	ch := s.group.DoChan(refreshToken, func() (any, error) {
		return s.refresh(context.WithoutCancel(ctx), refreshToken)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			s.log.DebugContext(ctx, "joined in-flight token refresh")
		}
		return res.Val.(*oauth2.Token), nil
	}
}

// refreshRequest is the body sent to the refresh endpoint.
type refreshRequest struct {
	Refresh string `json:"refresh"`
}

func (s *Source) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	payload, err := json.Marshal(refreshRequest{Refresh: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("marshaling refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrRefreshFailed, ErrRefreshUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrRefreshFailed, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: %w: status %d", ErrRefreshFailed, ErrRefreshUnavailable, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrRefreshFailed, resp.StatusCode)
	}

	access, rotated, err := parseRefreshResponse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	// The new access token is usable even if persisting it fails; the next
	// request will simply refresh again.
	if err := s.store.Set(ctx, tokenstore.KeyAccess, access); err != nil {
		s.log.ErrorContext(ctx, "failed to persist access token", "error", err)
	}
	if rotated != "" && rotated != refreshToken {
		if err := s.store.Set(ctx, tokenstore.KeyRefresh, rotated); err != nil {
			// Data loss: future refreshes will present a rotated-out token
			s.log.ErrorContext(ctx, "failed to persist rotated refresh token", "error", err)
		}
	}

	return &oauth2.Token{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: rotated,
	}, nil
}

// parseRefreshResponse extracts the access token and, when the backend rotates
// it, the new refresh token. Only a non-empty string access decides success;
// other fields are ignored when they are not strings.
func parseRefreshResponse(body []byte) (access, refresh string, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", "", fmt.Errorf("malformed response: %v", err)
	}

	if err := json.Unmarshal(fields["access"], &access); err != nil || access == "" {
		return "", "", errors.New("response carries no access token")
	}
	if raw, ok := fields["refresh"]; ok {
		if err := json.Unmarshal(raw, &refresh); err != nil {
			refresh = ""
		}
	}
	return access, refresh, nil
}
