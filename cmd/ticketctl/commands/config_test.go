package commands

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jimmy353/event-ticket-mobile-sub000/internal/app"
)

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "ticketctl.toml")
	content := `
log_level = "debug"

[backend]
base_url = "http://file.example:8000"
timeout = "10s"

[storage]
type = "memory"

[server]
port = 5000
`
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	environ := func() []string {
		return []string{
			"TICKETCTL_BACKEND__BASE_URL=http://env.example:8000",
			"TICKETCTL_BACKEND__COALESCE_REFRESH=true",
			"UNRELATED=1",
		}
	}

	cfg, err := loadConfig(configPath, nil, environ)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.Backend.BaseURL != "http://env.example:8000" {
		t.Errorf("Backend.BaseURL = %q, environment should override file", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout != 10*time.Second {
		t.Errorf("Backend.Timeout = %v, want 10s", cfg.Backend.Timeout)
	}
	if !cfg.Backend.CoalesceRefresh {
		t.Error("Backend.CoalesceRefresh = false, want true from environment")
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Storage.Type != app.StorageTypeMemory {
		t.Errorf("Storage.Type = %q, want memory", cfg.Storage.Type)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	environ := func() []string {
		return []string{"TICKETCTL_STORAGE__TYPE=memory"}
	}

	cfg, err := loadConfig("", nil, environ)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Backend.BaseURL != app.DefaultConfigBackendBaseURL {
		t.Errorf("Backend.BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.LogFormat != app.DefaultConfigLogFormat {
		t.Errorf("LogFormat = %q", cfg.LogFormat)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	environ := func() []string {
		return []string{"TICKETCTL_STORAGE__TYPE=sqlite"}
	}
	if _, err := loadConfig("", nil, environ); err == nil {
		t.Fatal("loadConfig() error = nil, want invalid config")
	}

	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml"), nil, func() []string { return nil }); err == nil {
		t.Fatal("loadConfig() with missing file error = nil")
	}
}

func TestLoadConfig_FlagsOverrideEnvironment(t *testing.T) {
	var cfg *app.Config
	root := newRootCommand()
	root.Commands = []*cli.Command{{
		Name:  "inspect",
		Flags: []cli.Flag{&cli.StringFlag{Name: "method"}},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var err error
			cfg, err = loadConfig("", cmd, func() []string {
				return []string{
					"TICKETCTL_BACKEND__BASE_URL=http://env.example:8000",
					"TICKETCTL_STORAGE__TYPE=file",
				}
			})
			return err
		},
	}}

	args := []string{"ticketctl", "--backend--base-url", "http://flag.example:8000", "--storage--type", "memory", "inspect", "--method", "POST"}
	if err := root.Run(context.Background(), args); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if cfg.Backend.BaseURL != "http://flag.example:8000" {
		t.Errorf("Backend.BaseURL = %q, flag should override environment", cfg.Backend.BaseURL)
	}
	if cfg.Storage.Type != app.StorageTypeMemory {
		t.Errorf("Storage.Type = %q, want memory", cfg.Storage.Type)
	}
}

func TestExtractAndTransformFlags_SkipsUnsetAndCommandFlags(t *testing.T) {
	var values map[string]any
	cmd := &cli.Command{
		Name: "inspect",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Value: "info"},
			&cli.IntFlag{Name: "server--port", Value: 4000},
			&cli.StringFlag{Name: "data"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			values = extractAndTransformFlags(cmd)
			return nil
		},
	}

	if err := cmd.Run(context.Background(), []string{"inspect", "--server--port", "4100", "--data", "{}"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if _, ok := values["log_level"]; ok {
		t.Error("unset flag log-level was extracted")
	}
	if _, ok := values["data"]; ok {
		t.Error("command flag data was extracted")
	}
	if values["server.port"] != 4100 {
		t.Errorf("server.port = %v, want 4100", values["server.port"])
	}
}

func TestConfigKeys(t *testing.T) {
	for _, key := range []string{"log_level", "backend.base_url", "storage.redis_url", "events.topic", "auth.logout_on_expiry", "server.port"} {
		if !configKeys[key] {
			t.Errorf("config key %q missing", key)
		}
	}
	for _, key := range []string{"data", "method", "backend", "storage"} {
		if configKeys[key] {
			t.Errorf("%q is not a config leaf key", key)
		}
	}
}

func TestConfigFlagsNameConfigKeys(t *testing.T) {
	var walk func(cmd *cli.Command)
	walk = func(cmd *cli.Command) {
		for _, flag := range cmd.Flags {
			for _, name := range flag.Names() {
				if !strings.Contains(name, "--") {
					continue
				}
				if key := flagConfigKey(name); !configKeys[key] {
					t.Errorf("flag --%s on %q maps to unknown config key %q", name, cmd.Name, key)
				}
			}
		}
		for _, sub := range cmd.Commands {
			walk(sub)
		}
	}
	walk(newRootCommand())
}
