package metrics

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// backendMetricsTransport wraps an http.RoundTripper to collect metrics on backend calls
type backendMetricsTransport struct {
	base http.RoundTripper
}

// NewTransport creates a transport wrapper that collects metrics for every
// backend call made through it.
func NewTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &backendMetricsTransport{base: base}
}

// RoundTrip implements http.RoundTripper, wrapping the base transport with metrics collection
func (t *backendMetricsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	route := NormalizeRoute(req.URL.Path)

	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}

	BackendRequests.WithLabelValues(req.Method, route, strconv.Itoa(statusCode)).Inc()
	BackendDuration.WithLabelValues(req.Method, route).Observe(float64(duration.Milliseconds()))

	if err != nil || statusCode >= 400 {
		BackendErrors.WithLabelValues(route, classifyError(statusCode, err)).Inc()
	}

	return resp, err
}

var routePatterns = []struct {
	regex   *regexp.Regexp
	replace string
}{
	{regexp.MustCompile(`/[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}(/|$)`), "/:uuid$1"},
	{regexp.MustCompile(`/\d+(/|$)`), "/:id$1"},
}

// NormalizeRoute replaces numeric and UUID path segments with placeholders.
// This prevents high cardinality in metrics while still providing useful aggregation.
func NormalizeRoute(path string) string {
	normalized := path
	for _, p := range routePatterns {
		// Adjacent IDs share a slash, so apply until stable
		for {
			next := p.regex.ReplaceAllString(normalized, p.replace)
			if next == normalized {
				break
			}
			normalized = next
		}
	}
	return normalized
}

// classifyError categorizes backend errors for metrics
func classifyError(statusCode int, err error) string {
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return "canceled"
		case errors.Is(err, context.DeadlineExceeded), strings.Contains(err.Error(), "timeout"):
			return "timeout"
		case strings.Contains(err.Error(), "connection"):
			return "connection"
		default:
			return "network"
		}
	}

	switch {
	case statusCode == http.StatusBadRequest:
		return "bad_request"
	case statusCode == http.StatusUnauthorized:
		return "unauthorized"
	case statusCode == http.StatusForbidden:
		return "forbidden"
	case statusCode == http.StatusNotFound:
		return "not_found"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 500:
		return "server_error"
	case statusCode >= 400:
		return "client_error"
	default:
		return "unknown"
	}
}
