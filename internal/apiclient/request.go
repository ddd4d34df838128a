package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const jsonContentType = "application/json"

// Options describes a backend request.
type Options struct {
	// Method is the HTTP verb. Defaults to GET.
	Method string

	// Body is the request payload:
	//   - nil: no body
	//   - *Form: multipart form, sent with its own boundary content type
	//   - []byte, json.RawMessage, string, io.Reader: sent as is
	//   - anything else: encoded as JSON
	Body any

	// Header holds caller headers. Client-computed headers take precedence;
	// in particular a stored access token replaces any Authorization given here.
	Header http.Header
}

// NewRequest builds the outgoing request for a backend-relative path without
// sending it. The body is buffered so that it can be replayed once after a refresh.
func (c *Client) NewRequest(ctx context.Context, path string, opts Options) (*http.Request, error) {
	target, err := c.resolve(path)
	if err != nil {
		return nil, err
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	payload, contentType, err := encodeBody(opts.Body)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		// *bytes.Reader makes NewRequest populate GetBody for the retry
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for key, values := range opts.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	switch {
	case contentType != jsonContentType:
		// Multipart: the boundary must match the encoded body, never let a caller override it
		req.Header.Set("Content-Type", contentType)
	case req.Header.Get("Content-Type") == "":
		req.Header.Set("Content-Type", jsonContentType)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", jsonContentType)
	}

	return req, nil
}

// resolve joins a backend-relative path onto the base URL.
func (c *Client) resolve(path string) (string, error) {
	if strings.Contains(path, "://") && !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("path %q must be relative to the backend base URL", path)
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/"), nil
}

// encodeBody turns a request payload into bytes and the content type it needs.
func encodeBody(body any) ([]byte, string, error) {
	switch v := body.(type) {
	case nil:
		return nil, jsonContentType, nil
	case *Form:
		return v.encode()
	case []byte:
		return v, jsonContentType, nil
	case json.RawMessage:
		return v, jsonContentType, nil
	case string:
		return []byte(v), jsonContentType, nil
	case io.Reader:
		data, err := io.ReadAll(v)
		if err != nil {
			return nil, "", fmt.Errorf("reading request body: %w", err)
		}
		return data, jsonContentType, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("encoding request body: %w", err)
		}
		return data, jsonContentType, nil
	}
}
