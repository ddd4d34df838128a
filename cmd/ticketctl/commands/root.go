package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/jimmy353/event-ticket-mobile-sub000/internal/app"
	"github.com/jimmy353/event-ticket-mobile-sub000/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return newRootCommand().Run(ctx, args)
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "ticketctl",
		Usage: "Authenticated client for the event-ticketing backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json|otel)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "backend--base-url",
				Usage: "ticketing backend base URL",
				Value: app.DefaultConfigBackendBaseURL,
			},
			&cli.StringFlag{
				Name:  "storage--type",
				Usage: "session storage (file|env|keyring|redis|memory)",
				Value: string(app.DefaultConfigStorageType),
			},
			&cli.StringFlag{
				Name:  "storage--file",
				Usage: "session file for file storage",
			},
		},
		Commands: []*cli.Command{
			requestCommand(),
			serveCommand(),
			authCommand(),
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the local authenticated gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "server host",
				Value: app.DefaultConfigServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "server port",
				Value: int(app.DefaultConfigServerPort),
			},
			&cli.BoolFlag{
				Name:  "backend--coalesce-refresh",
				Usage: "share one in-flight token refresh among concurrent requests",
			},
			&cli.StringFlag{
				Name:  "events--backend",
				Usage: "session events backend (none|memory|redis)",
				Value: string(app.DefaultConfigEventsBackend),
			},
			&cli.BoolFlag{
				Name:  "auth--logout-on-expiry",
				Usage: "clear stored tokens when the session expires",
			},
		},
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdown, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer flushLogs(shutdown)

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting")

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}

// setup loads the configuration and installs the process logger.
func setup(ctx context.Context, cmd *cli.Command) (*app.Config, observability.ShutdownFunc, error) {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdown, err := observability.Instrument(ctx, cfg.LogLevel, string(cfg.LogFormat))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	return cfg, shutdown, nil
}

// flushLogs flushes buffered log records, bounded so exit never hangs on an
// unreachable collector.
func flushLogs(shutdown observability.ShutdownFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), app.DefaultConfigShutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "failed to flush logs:", err)
	}
}
