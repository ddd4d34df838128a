package tokenstore

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvStore provides read-only access to credentials stored in environment variables.
// Key "access" maps to <prefix>ACCESS, key "refresh" to <prefix>REFRESH.
// Suitable for pre-issued tokens but not for refreshing (requires writable storage).
type EnvStore struct {
	prefix string
}

// Compile-time check to ensure EnvStore implements Store
var _ Store = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore reading variables with the given prefix.
// Returns error if the prefix is empty or the access token variable is not set.
func NewEnvStore(prefix string) (*EnvStore, error) {
	if prefix == "" {
		return nil, fmt.Errorf("environment prefix cannot be empty")
	}

	e := &EnvStore{prefix: prefix}
	if _, exists := os.LookupEnv(e.envKey(KeyAccess)); !exists {
		return nil, fmt.Errorf("environment variable %s not set", e.envKey(KeyAccess))
	}
	return e, nil
}

func (e *EnvStore) envKey(key string) string {
	return e.prefix + strings.ToUpper(key)
}

// Get returns the credential from the environment. Returns ErrNotFound if unset or empty.
func (e *EnvStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	value := strings.TrimSpace(os.Getenv(e.envKey(key)))
	if value == "" {
		return "", ErrNotFound
	}
	return value, nil
}

// Set is not supported for environment variables (they are read-only).
func (e *EnvStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("%s: %w", e.envKey(key), ErrReadOnly)
}

// Remove is not supported for environment variables (they are read-only).
func (e *EnvStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("%s: %w", e.envKey(key), ErrReadOnly)
}
