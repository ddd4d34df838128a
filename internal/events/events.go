// Package events reports session lifecycle changes from the request client to
// the calling layer.
//
// The request client never logs the user out on its own. It reports that a
// session is still unauthorized after a best-effort refresh, and whoever consumes
// these events decides the consequence (prompting for login, clearing tokens).
package events

import (
	"context"
	"time"
)

// Kind identifies a session event.
type Kind string

const (
	// KindTokenRefreshed is emitted after the access token was renewed.
	KindTokenRefreshed Kind = "token.refreshed"

	// KindSessionExpired is emitted when a request stays unauthorized after the
	// refresh path was exhausted.
	KindSessionExpired Kind = "session.expired"
)

// Reasons attached to KindSessionExpired.
const (
	ReasonNoRefreshToken = "no_refresh_token"
	ReasonRefreshFailed  = "refresh_failed"
	ReasonRetryRejected  = "retry_rejected"

	// ReasonRefreshUnavailable means the refresh endpoint could not be reached
	// or failed with a server error. The stored refresh token may still be valid.
	ReasonRefreshUnavailable = "refresh_unavailable"
)

// Event describes a session lifecycle change.
type Event struct {
	Kind       Kind      `json:"kind"`
	Reason     string    `json:"reason,omitempty"`
	Method     string    `json:"method,omitempty"`
	Path       string    `json:"path,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`

	// Origin identifies the process whose session the event is about. Several
	// processes can share one bus while each keeps its own credentials.
	Origin string `json:"origin,omitempty"`
}

// Notifier delivers session events. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Nop discards all events.
type Nop struct{}

// Compile-time check to ensure Nop implements Notifier
var _ Notifier = Nop{}

func (Nop) Notify(context.Context, Event) error { return nil }

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, event Event) error

func (f NotifierFunc) Notify(ctx context.Context, event Event) error { return f(ctx, event) }

// WithOrigin stamps every event delivered through n with origin.
func WithOrigin(n Notifier, origin string) Notifier {
	return NotifierFunc(func(ctx context.Context, event Event) error {
		event.Origin = origin
		return n.Notify(ctx, event)
	})
}
