package apiclient

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// InvalidResponseMessage is the error text of the sentinel returned for bodies
// that are not JSON.
const InvalidResponseMessage = "Invalid server response"

// Decoded is the result of SafeDecodeJSON. Either Value holds the parsed body,
// or Error and Raw describe a body that could not be parsed.
type Decoded struct {
	// Value is the parsed JSON document. Numbers are json.Number.
	Value any

	// Error is InvalidResponseMessage when the body is not JSON, empty otherwise.
	Error string

	// Raw is the original body text when the body is not JSON.
	Raw string
}

// Malformed reports whether the body could not be parsed. Callers should treat
// it as a transport or server failure, not as a domain error.
func (d Decoded) Malformed() bool {
	return d.Error != ""
}

// MarshalJSON renders the parsed value, or {"error": ..., "raw": ...} for a malformed body.
func (d Decoded) MarshalJSON() ([]byte, error) {
	if d.Malformed() {
		return json.Marshal(struct {
			Error string `json:"error"`
			Raw   string `json:"raw"`
		}{Error: d.Error, Raw: d.Raw})
	}
	return json.Marshal(d.Value)
}

// SafeDecodeJSON reads and closes the response body and parses it as JSON.
// It never fails: empty, truncated, HTML or binary bodies yield the sentinel
// {Error: "Invalid server response", Raw: <body text>}.
func SafeDecodeJSON(resp *http.Response) Decoded {
	if resp == nil || resp.Body == nil {
		return Decoded{Error: InvalidResponseMessage}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	text := string(data)
	if err != nil {
		return Decoded{Error: InvalidResponseMessage, Raw: text}
	}

	value, ok := parseJSON(text)
	if !ok {
		return Decoded{Error: InvalidResponseMessage, Raw: text}
	}
	return Decoded{Value: value}
}

// parseJSON parses exactly one JSON document, rejecting trailing data.
func parseJSON(text string) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, false
	}
	if err := dec.Decode(new(any)); !errors.Is(err, io.EOF) {
		return nil, false
	}
	return value, true
}
