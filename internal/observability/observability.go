// Package observability installs the process-wide slog logger and trace propagation.
//
// Three formats are supported:
//   - text: human-readable lines on stderr
//   - json: one JSON object per line on stderr
//   - otel: records go through the OpenTelemetry log SDK. The exporter follows the
//     standard OTEL_EXPORTER_OTLP_* variables: OTLP over gRPC or HTTP when an
//     endpoint is configured, stderr otherwise.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Log formats accepted by Instrument.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatOTel = "otel"
)

// instrumentationName identifies log records emitted through the OpenTelemetry bridge.
const instrumentationName = "github.com/jimmy353/event-ticket-mobile-sub000"

// ShutdownFunc flushes and releases logging resources.
type ShutdownFunc func(context.Context) error

// Instrument installs the default slog logger for the given level and format and
// sets the W3C trace-context propagator. The returned function must be called
// before exit to flush buffered records.
func Instrument(ctx context.Context, level slog.Level, format string) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if format != FormatOTel {
		handler, err := newHandler(os.Stderr, level, format)
		if err != nil {
			return nil, err
		}
		slog.SetDefault(slog.New(handler))
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating log exporter: %w", err)
	}

	// Filter before batching so dropped records never occupy the queue
	processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severityFor(level))
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(processor))

	slog.SetDefault(slog.New(otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))))

	return provider.Shutdown, nil
}

// newHandler returns a stdlib slog handler writing to w.
func newHandler(w io.Writer, level slog.Level, format string) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case FormatText, "":
		return slog.NewTextHandler(w, opts), nil
	case FormatJSON:
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

// newExporter picks the log exporter from the standard OTLP environment variables.
func newExporter(ctx context.Context) (sdklog.Exporter, error) {
	endpoint := firstEnv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return stdoutlog.New(stdoutlog.WithWriter(os.Stderr))
	}

	protocol := firstEnv("OTEL_EXPORTER_OTLP_LOGS_PROTOCOL", "OTEL_EXPORTER_OTLP_PROTOCOL")
	switch protocol {
	case "grpc":
		return otlploggrpc.New(ctx)
	case "http/protobuf", "":
		return otlploghttp.New(ctx)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol: %s", protocol)
	}
}

// severityFor maps a slog level onto the minimum severity the processor lets through.
func severityFor(level slog.Level) minsev.Severity {
	// Round down so custom levels never filter more than the text and json handlers
	switch {
	case level < slog.LevelInfo:
		return minsev.SeverityDebug
	case level < slog.LevelWarn:
		return minsev.SeverityInfo
	case level < slog.LevelError:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}
