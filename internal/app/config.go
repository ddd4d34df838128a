package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/jimmy353/event-ticket-mobile-sub000/internal/events"
	"github.com/jimmy353/event-ticket-mobile-sub000/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
	LogFormatOTel LogFormat = "otel"
)

// StorageType represents the different backends supported for session tokens.
type StorageType string

const (
	StorageTypeFile    StorageType = "file"
	StorageTypeEnv     StorageType = "env"
	StorageTypeKeyring StorageType = "keyring"
	StorageTypeRedis   StorageType = "redis"
	StorageTypeMemory  StorageType = "memory"
)

// EventsBackend represents where session events are published.
type EventsBackend string

const (
	EventsBackendNone   EventsBackend = "none"
	EventsBackendMemory EventsBackend = "memory"
	EventsBackendRedis  EventsBackend = "redis"
)

// Default configuration values
const (
	DefaultConfigLogFormat       = LogFormatText
	DefaultConfigBackendBaseURL  = "http://127.0.0.1:8000"
	DefaultConfigBackendTimeout  = 30 * time.Second
	DefaultConfigServerHost      = "127.0.0.1"
	DefaultConfigServerPort      = 4000
	DefaultConfigShutdownTimeout = 5 * time.Second
	DefaultConfigStorageType     = StorageTypeFile
	DefaultConfigEnvPrefix       = "TICKETCTL_"
	DefaultConfigKeyringService  = "ticketctl"
	DefaultConfigEventsBackend   = EventsBackendMemory
)

// BackendConfig holds ticketing backend configuration.
type BackendConfig struct {
	BaseURL string `json:"base_url" validate:"required,url"`
	// Timeout bounds one logical call, including a refresh and the retry.
	Timeout time.Duration `json:"timeout"`
	// CoalesceRefresh shares one in-flight refresh among concurrent callers.
	CoalesceRefresh bool `json:"coalesce_refresh"`
}

// ServerConfig holds gateway server configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// StorageConfig describes where the session tokens live.
type StorageConfig struct {
	Type StorageType `json:"type" validate:"required,oneof=file env keyring redis memory"`

	// Backend-specific settings, only the one matching Type is used
	File           string `json:"file,omitempty"`
	EnvPrefix      string `json:"env_prefix,omitempty"`
	KeyringService string `json:"keyring_service,omitempty"`
	RedisURL       string `json:"redis_url,omitempty"`
	RedisPrefix    string `json:"redis_prefix,omitempty"`
}

// EventsConfig describes where session events go.
type EventsConfig struct {
	Backend  EventsBackend `json:"backend" validate:"oneof=none memory redis"`
	Topic    string        `json:"topic"`
	RedisURL string        `json:"redis_url,omitempty"`
}

// AuthConfig holds caller-side reactions to session state.
type AuthConfig struct {
	// LogoutOnExpiry clears stored tokens when a session.expired event arrives.
	LogoutOnExpiry bool `json:"logout_on_expiry"`
}

// NewStore creates a token store from the storage configuration.
func (s *StorageConfig) NewStore() (tokenstore.Store, error) {
	switch s.Type {
	case StorageTypeFile:
		return tokenstore.NewFileStore(s.File)
	case StorageTypeEnv:
		return tokenstore.NewEnvStore(s.EnvPrefix)
	case StorageTypeKeyring:
		return tokenstore.NewKeyringStore(s.KeyringService)
	case StorageTypeRedis:
		opts, err := redis.ParseURL(s.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid storage.redis_url: %w", err)
		}
		return tokenstore.NewRedisStore(redis.NewClient(opts), s.RedisPrefix)
	case StorageTypeMemory:
		return tokenstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", s.Type)
	}
}

// NewBus creates the session event bus, or nil when events are disabled.
// consumerGroup must be unique per process so that every process sees every
// event on a shared Redis stream.
func (e *EventsConfig) NewBus(consumerGroup string) (*events.Bus, error) {
	switch e.Backend {
	case EventsBackendNone:
		return nil, nil
	case EventsBackendMemory:
		return events.NewMemoryBus(), nil
	case EventsBackendRedis:
		opts, err := redis.ParseURL(e.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid events.redis_url: %w", err)
		}
		return events.NewRedisBus(redis.NewClient(opts), consumerGroup)
	default:
		return nil, fmt.Errorf("unsupported events backend: %s", e.Backend)
	}
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level     `json:"log_level"`
	LogFormat LogFormat      `json:"log_format" validate:"oneof=text json otel"`
	Backend   BackendConfig  `json:"backend"`
	Server    ServerConfig   `json:"server"`
	Shutdown  ShutdownConfig `json:"shutdown"`
	Storage   StorageConfig  `json:"storage"`
	Events    EventsConfig   `json:"events"`
	Auth      AuthConfig     `json:"auth"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = DefaultConfigBackendBaseURL
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = DefaultConfigBackendTimeout
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Storage.Type == "" {
		c.Storage.Type = DefaultConfigStorageType
	}
	if c.Events.Backend == "" {
		c.Events.Backend = DefaultConfigEventsBackend
	}
	if c.Events.Topic == "" {
		c.Events.Topic = events.DefaultTopic
	}

	// Dynamic defaults based on storage type
	switch c.Storage.Type {
	case StorageTypeFile:
		if c.Storage.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("storage.file required (auto-detect failed: %w)", err)
			}
			c.Storage.File = filepath.Join(configDir, "ticketctl", "session.json")
		}
	case StorageTypeEnv:
		if c.Storage.EnvPrefix == "" {
			c.Storage.EnvPrefix = DefaultConfigEnvPrefix
		}
	case StorageTypeKeyring:
		if c.Storage.KeyringService == "" {
			c.Storage.KeyringService = DefaultConfigKeyringService
		}
	case StorageTypeRedis:
		if c.Storage.RedisPrefix == "" {
			c.Storage.RedisPrefix = tokenstore.DefaultRedisPrefix
		}
	}

	// The event bus reuses the storage Redis unless pointed elsewhere
	if c.Events.Backend == EventsBackendRedis && c.Events.RedisURL == "" {
		c.Events.RedisURL = c.Storage.RedisURL
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Backend.Timeout < 0 {
		return errors.New("backend.timeout must not be negative")
	}

	switch c.Storage.Type {
	case StorageTypeFile:
		if c.Storage.File == "" {
			return errors.New("storage.file required for file storage")
		}
	case StorageTypeEnv:
		if c.Storage.EnvPrefix == "" {
			return errors.New("storage.env_prefix required for env storage")
		}
		// Env storage cannot persist tokens, so logout has nothing to clear
		if c.Auth.LogoutOnExpiry {
			return errors.New("auth.logout_on_expiry requires writable storage, env is read-only")
		}
	case StorageTypeKeyring:
		if c.Storage.KeyringService == "" {
			return errors.New("storage.keyring_service required for keyring storage")
		}
	case StorageTypeRedis:
		if c.Storage.RedisURL == "" {
			return errors.New("storage.redis_url required for redis storage")
		}
	}

	if c.Events.Backend == EventsBackendRedis && c.Events.RedisURL == "" {
		return errors.New("events.redis_url or storage.redis_url required for redis events")
	}
	if c.Auth.LogoutOnExpiry && c.Events.Backend == EventsBackendNone {
		return errors.New("auth.logout_on_expiry requires an events backend")
	}

	return nil
}
