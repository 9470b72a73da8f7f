// Package transport performs the HTTP round trip of a single call.
//
// A call is one POST of a form-encoded body to <base>/<method>. The response
// body must decode as a message.Envelope; anything else (dial failure,
// truncated body, HTML error page) is reported as an *Error so callers can
// tell it apart from a server that answered success=false.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"formrpc/codec"
	"formrpc/message"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 32 << 20

// Error is a transport-level failure.
type Error struct {
	Method     string
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: %s: status %d: %v", e.Method, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport: %s: %v", e.Method, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var (
	// ErrEmptyBody is the cause when the server answered without a body.
	ErrEmptyBody = errors.New("empty response body")
	// ErrNotObject is the cause when the body is JSON but not an object.
	ErrNotObject = errors.New("response body is not a JSON object")
)

// HTTPTransport sends calls over an *http.Client. It is safe for concurrent use.
type HTTPTransport struct {
	httpClient *http.Client
	form       codec.Codec
	json       codec.Codec
}

// NewHTTPTransport wraps httpClient; nil selects a client with no timeout,
// matching the library's no-timeout-by-default contract.
func NewHTTPTransport(httpClient *http.Client) *HTTPTransport {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPTransport{
		httpClient: httpClient,
		form:       codec.GetCodec(codec.CodecTypeForm),
		json:       codec.GetCodec(codec.CodecTypeJSON),
	}
}

// Post sends params to url and decodes the envelope. method is only used to
// label errors.
func (t *HTTPTransport) Post(ctx context.Context, method, url string, params message.Params) (*message.Envelope, error) {
	body, err := t.form.Encode(params)
	if err != nil {
		return nil, &Error{Method: method, URL: url, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Method: method, URL: url, Err: err}
	}
	req.Header.Set("Content-Type", t.form.ContentType())
	req.Header.Set("Accept", t.json.ContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Method: method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Method: method, URL: url, StatusCode: resp.StatusCode, Err: err}
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, &Error{Method: method, URL: url, StatusCode: resp.StatusCode, Err: ErrEmptyBody}
	}
	if trimmed[0] != '{' {
		return nil, &Error{
			Method:     method,
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w (body: %s)", ErrNotObject, snippet(raw)),
		}
	}

	// A non-2xx status with a well-formed envelope is still the server's
	// answer; only undecodable bodies are transport failures.
	var env message.Envelope
	if err := t.json.Decode(raw, &env); err != nil {
		return nil, &Error{
			Method:     method,
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decode envelope: %w (body: %s)", err, snippet(raw)),
		}
	}
	return &env, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}
