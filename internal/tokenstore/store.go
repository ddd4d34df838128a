package tokenstore

import (
	"context"
	"errors"
)

// Well-known credential keys.
const (
	KeyAccess  = "access"
	KeyRefresh = "refresh"
)

var (
	// ErrNotFound is returned by Get when the key is absent or holds an empty value.
	ErrNotFound = errors.New("credential not found")

	// ErrReadOnly is returned by Set and Remove on backends that cannot be written.
	ErrReadOnly = errors.New("credential storage is read-only")
)

// Store reads and writes credentials to persistent storage.
//
// Implementations must be safe for concurrent use. Each call is treated as an
// atomic read or write; no lock is held across calls.
type Store interface {
	// Get returns the value stored under key. Returns ErrNotFound if missing or empty.
	Get(ctx context.Context, key string) (string, error)

	// Set persists value under key, overwriting any existing value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

// Lookup returns the value stored under key, reporting absence as ok=false
// instead of an error. Other storage errors are returned as is.
func Lookup(ctx context.Context, s Store, key string) (value string, ok bool, err error) {
	value, err = s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Clear removes both session credentials. Used by logout.
func Clear(ctx context.Context, s Store) error {
	return errors.Join(
		s.Remove(ctx, KeyAccess),
		s.Remove(ctx, KeyRefresh),
	)
}
