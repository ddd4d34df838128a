package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/jimmy353/event-ticket-mobile-sub000/internal/apiclient"
	"github.com/jimmy353/event-ticket-mobile-sub000/internal/app"
)

func requestCommand() *cli.Command {
	return &cli.Command{
		Name:      "request",
		Usage:     "send an authenticated request to the backend",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "method",
				Aliases: []string{"X"},
				Usage:   "HTTP method",
				Value:   http.MethodGet,
			},
			&cli.StringFlag{
				Name:    "data",
				Aliases: []string{"d"},
				Usage:   "request body, @path reads it from a file",
			},
			&cli.StringSliceFlag{
				Name:    "header",
				Aliases: []string{"H"},
				Usage:   "request header as Name:Value (repeatable)",
			},
			&cli.StringSliceFlag{
				Name:    "form",
				Aliases: []string{"F"},
				Usage:   "multipart field as key=value (repeatable)",
			},
			&cli.StringSliceFlag{
				Name:  "file",
				Usage: "multipart file as field=path (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "fail",
				Usage: "exit with an error on HTTP status 400 and above",
			},
			&cli.BoolFlag{
				Name:  "backend--coalesce-refresh",
				Usage: "share one in-flight token refresh among concurrent requests",
			},
			&cli.BoolFlag{
				Name:  "auth--logout-on-expiry",
				Usage: "clear stored tokens when the session expires",
			},
		},
		Action: requestAction,
	}
}

// requestOutput is what request prints: the status and the safely decoded body.
type requestOutput struct {
	Status int               `json:"status"`
	Body   apiclient.Decoded `json:"body"`
}

func requestAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("missing request path")
	}

	cfg, shutdown, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer flushLogs(shutdown)

	opts, closeFiles, err := requestOptions(cmd)
	if err != nil {
		return err
	}
	defer closeFiles()

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	defer func() { _ = application.Close() }()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if _, err := application.WatchSession(watchCtx); err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, cfg.Backend.Timeout)
	defer cancel()

	resp, err := application.Client().Request(reqCtx, path, opts)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	out := requestOutput{Status: resp.StatusCode, Body: apiclient.SafeDecodeJSON(resp)}
	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	if _, err := fmt.Fprintln(cmd.Root().Writer, string(encoded)); err != nil {
		return err
	}

	if cmd.Bool("fail") && resp.StatusCode >= http.StatusBadRequest {
		return cli.Exit("", 22)
	}
	return nil
}

// requestOptions builds the request from the command flags. closeFiles releases
// any files opened for a multipart body.
func requestOptions(cmd *cli.Command) (apiclient.Options, func(), error) {
	closeFiles := func() {}
	opts := apiclient.Options{
		Method: strings.ToUpper(cmd.String("method")),
		Header: http.Header{},
	}

	for _, h := range cmd.StringSlice("header") {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return opts, closeFiles, fmt.Errorf("invalid header %q, want Name:Value", h)
		}
		opts.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	fields := cmd.StringSlice("form")
	files := cmd.StringSlice("file")
	data := cmd.String("data")

	if data != "" && (len(fields) > 0 || len(files) > 0) {
		return opts, closeFiles, fmt.Errorf("--data cannot be combined with --form or --file")
	}

	if data != "" {
		if name, ok := strings.CutPrefix(data, "@"); ok {
			content, err := os.ReadFile(name)
			if err != nil {
				return opts, closeFiles, fmt.Errorf("reading request body: %w", err)
			}
			opts.Body = content
		} else {
			opts.Body = data
		}
		return opts, closeFiles, nil
	}

	if len(fields) == 0 && len(files) == 0 {
		return opts, closeFiles, nil
	}

	form := apiclient.NewForm()
	for _, f := range fields {
		key, value, ok := strings.Cut(f, "=")
		if !ok || key == "" {
			return opts, closeFiles, fmt.Errorf("invalid form field %q, want key=value", f)
		}
		form.Field(key, value)
	}

	var opened []*os.File
	closeFiles = func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	for _, f := range files {
		field, name, ok := strings.Cut(f, "=")
		if !ok || field == "" || name == "" {
			closeFiles()
			return opts, func() {}, fmt.Errorf("invalid file %q, want field=path", f)
		}
		file, err := os.Open(name)
		if err != nil {
			closeFiles()
			return opts, func() {}, fmt.Errorf("opening %s: %w", name, err)
		}
		opened = append(opened, file)
		form.File(field, filepath.Base(name), file)
	}
	opts.Body = form

	return opts, closeFiles, nil
}
