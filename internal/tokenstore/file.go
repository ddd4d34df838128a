package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore keeps all credentials in one JSON object file with secure permissions.
// Writes use temp file + rename for crash safety.
type FileStore struct {
	filePath string

	// mu serializes read-modify-write cycles within this process
	mu sync.Mutex
}

// Compile-time check to ensure FileStore implements Store
var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore for the given path, creating parent directories
// with 0700 permissions if they don't exist. The file itself is created on first write.
func NewFileStore(filePath string) (*FileStore, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	return &FileStore{
		filePath: filePath,
	}, nil
}

// Get returns the credential stored under key after trimming whitespace.
// Returns ErrNotFound if the file or the key doesn't exist, and an error if the
// file has insecure permissions.
func (f *FileStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	values, err := f.load()
	f.mu.Unlock()
	if err != nil {
		return "", err
	}

	value := strings.TrimSpace(values[key])
	if value == "" {
		return "", ErrNotFound
	}
	return value, nil
}

// Set stores value under key and atomically rewrites the file.
func (f *FileStore) Set(ctx context.Context, key, value string) error {
	return f.update(ctx, func(values map[string]string) {
		values[key] = strings.TrimSpace(value)
	})
}

// Remove deletes key and atomically rewrites the file.
func (f *FileStore) Remove(ctx context.Context, key string) error {
	return f.update(ctx, func(values map[string]string) {
		delete(values, key)
	})
}

func (f *FileStore) update(ctx context.Context, mutate func(map[string]string)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return err
	}
	mutate(values)

	if err := ctx.Err(); err != nil {
		return err
	}
	return f.save(values)
}

// load reads the credential file. A missing file yields an empty map.
func (f *FileStore) load() (map[string]string, error) {
	values := make(map[string]string)

	// Check file permissions before reading
	info, err := os.Stat(f.filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, err
	}
	if info.Mode().Perm() != 0600 {
		return nil, fmt.Errorf("insecure permissions on %s: %04o (expected 0600)", f.filePath, info.Mode().Perm())
	}

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return values, nil
	}

	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parsing credential file %s: %w", f.filePath, err)
	}
	return values, nil
}

// save atomically writes the credential file using temp file + rename.
// Sets file permissions to 0600 (owner read/write only).
func (f *FileStore) save(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	// Create secure temp file in same directory for atomic rename
	dir := filepath.Dir(f.filePath)
	tempFile, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	// Cleanup deferred for all exit paths
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write(append(data, '\n')); err != nil {
		return err
	}
	if err := tempFile.Chmod(0600); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	return os.Rename(tempName, f.filePath)
}
