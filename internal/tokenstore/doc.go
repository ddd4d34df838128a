// Package tokenstore provides persistent key-value storage for session credentials.
//
// The request client keeps no credentials in memory between calls. Every request
// re-reads the access token from a Store, and a successful refresh overwrites it.
//
// Supported backends and their tradeoffs:
//   - Memory: process-local map, lost on exit (tests, one-shot commands)
//   - File: local JSON file with atomic writes and secure permissions
//   - Env: read-only environment variables (requires external secret management)
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//   - Redis: shared storage for several devices operating on one session
//
// Refreshing requires writable storage (every backend except env).
package tokenstore
