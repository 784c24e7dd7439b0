// Package backend posts queued actions to the tracking REST backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cpltrack/fieldsync/internal/config"
	apperrors "github.com/cpltrack/fieldsync/internal/errors"
)

const maxBodyBytes = 1 << 20

// StatusError is an HTTP response outside 2xx. The backend received the
// action and refused it, so it must not be retried blindly.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Erreur %d: %s", e.StatusCode, e.Message)
}

// ErrorCode reports REJECTED: the action is resolved, not retried.
func (e *StatusError) ErrorCode() apperrors.ErrorCode {
	return apperrors.ErrRejected
}

// TransportError means no HTTP response was received.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ErrorCode reports TRANSPORT_ERROR: the action stays queued.
func (e *TransportError) ErrorCode() apperrors.ErrorCode {
	return apperrors.ErrTransport
}

// StatusCode returns the HTTP status carried by err, if any.
func StatusCode(err error) (int, bool) {
	var se *StatusError
	if stderrors.As(err, &se) {
		return se.StatusCode, true
	}
	return 0, false
}

// Message returns the user-facing message of err: the backend's error text
// for rejections, the raw error text otherwise.
func Message(err error) string {
	var se *StatusError
	if stderrors.As(err, &se) {
		return se.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Client talks to the backend over HTTP.
type Client struct {
	BaseURL    string
	Token      string
	HealthPath string

	HTTP *http.Client
}

// New builds a client from configuration.
func New(cfg config.BackendConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		Token:      strings.TrimSpace(cfg.Token),
		HealthPath: cfg.HealthPath,
		HTTP:       &http.Client{Timeout: timeout},
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 15 * time.Second}
}

func (c *Client) endpoint(path string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// Post sends payload as a JSON body to path. It returns nil on 2xx, a
// *StatusError on any other status and a *TransportError when no response came back.
func (c *Client) Post(ctx context.Context, path string, payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(payload))
	if err != nil {
		return &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, body)}
}

// Health issues the probe request. Any HTTP response counts as reachable.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(c.HealthPath), nil)
	if err != nil {
		return err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	_ = resp.Body.Close()
	return nil
}

// errorMessage extracts the "error" string of a JSON body.
func errorMessage(status int, body []byte) string {
	var parsed struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Error) > 0 {
		var s string
		if err := json.Unmarshal(parsed.Error, &s); err == nil && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return fmt.Sprintf("Request failed with status code %d", status)
}
