// Package client is a Go client for the intercoord tool API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mistakeknot/intercoord/internal/core"
	"github.com/mistakeknot/intercoord/internal/tools"
)

// Sentinels matched by errors.Is against a failed call.
var (
	ErrConflict       = core.ErrConflict
	ErrNotFound       = core.ErrNotFound
	ErrUnauthorized   = core.ErrUnauthorized
	ErrInvalidRequest = core.ErrInvalidRequest
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
	APIKey  string
}

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.APIKey = strings.TrimSpace(key)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.HTTP = httpClient
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Error is a failed tool call. Detail holds the raw conflict or
// authorization detail when the server sent one.
type Error struct {
	Status  int
	Code    tools.Code
	Message string
	Detail  json.RawMessage
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

func (e *Error) Is(target error) bool {
	switch e.Code {
	case tools.CodeConflict:
		return target == ErrConflict
	case tools.CodeNotFound:
		return target == ErrNotFound
	case tools.CodeUnauthorized:
		return target == ErrUnauthorized
	case tools.CodeInvalidRequest:
		return target == ErrInvalidRequest
	}
	return false
}

// Conflict decodes the detail of a conflict error.
func (e *Error) Conflict() (core.ConflictError, bool) {
	var c core.ConflictError
	if e.Code != tools.CodeConflict || len(e.Detail) == 0 {
		return c, false
	}
	if err := json.Unmarshal(e.Detail, &c); err != nil {
		return c, false
	}
	return c, true
}

type envelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    tools.Code      `json:"code"`
		Message string          `json:"message"`
		Detail  json.RawMessage `json:"detail"`
	} `json:"error"`
}

// Call invokes a tool by name and decodes its result into out, which may be
// nil.
func (c *Client) Call(ctx context.Context, tool string, args, out any) error {
	if args == nil {
		args = struct{}{}
	}
	resp, err := c.postJSON(ctx, "/api/tools/"+url.PathEscape(tool), args)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeEnvelope(resp, tool, out)
}

// Tools lists the tools the server offers.
func (c *Client) Tools(ctx context.Context) ([]tools.Spec, error) {
	resp, err := c.get(ctx, "/api/tools")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list tools failed: %d", resp.StatusCode)
	}
	var out struct {
		Tools []tools.Spec `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

func decodeEnvelope(resp *http.Response, tool string, out any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", tool, err)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%s failed: %d", tool, resp.StatusCode)
	}
	if !env.OK {
		if env.Error == nil {
			return &Error{Status: resp.StatusCode, Code: tools.CodeInternal, Message: strings.TrimSpace(string(body))}
		}
		return &Error{Status: resp.StatusCode, Code: env.Error.Code, Message: env.Error.Message, Detail: env.Error.Detail}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", tool, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) (*http.Response, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	return c.HTTP.Do(req)
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req)
	return c.HTTP.Do(req)
}

func (c *Client) applyHeaders(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
}
