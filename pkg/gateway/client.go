package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"publishwed/pkg/metrics"
	"publishwed/pkg/redact"
	"publishwed/pkg/stream"
	"publishwed/pkg/telemetry"
	"publishwed/pkg/tokenstore"
)

const defaultMaxResponseBytes = 32 << 20

// Client is the single choke point for remote API calls. It attaches the
// stored bearer token, negotiates the body encoding and classifies responses.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     tokenstore.Store
	Events     stream.Publisher
	Metrics    *metrics.Registry
	Logger     *slog.Logger
	Redactor   *redact.Redactor
	// MaxResponseBytes caps a response body; larger bodies fail rather than
	// being cut short. Zero means 32 MiB.
	MaxResponseBytes int64

	newRequestID func() string
}

type Options struct {
	Method  string
	Body    any
	Headers map[string]string
	// Route labels metrics and logs, e.g. "PUT /messages/{id}". Defaults to
	// the method and literal path.
	Route string
}

func NewClient(baseURL string, timeout time.Duration, tokens tokenstore.Store, events stream.Publisher) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: telemetry.InstrumentClient(&http.Client{Timeout: timeout}),
		Tokens:     tokens,
		Events:     events,
	}
}

// Request performs one call. A 204 yields a nil result. A 401 clears the
// stored token and publishes stream.SessionInvalidated before returning.
func (c *Client) Request(ctx context.Context, path string, opts Options) (json.RawMessage, error) {
	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		method = http.MethodGet
	}
	route := opts.Route
	if route == "" {
		route = method + " " + path
	}
	requestID := c.requestID()
	logger := c.logger().With("route", route, "request_id", requestID)

	body, contentType, err := encodeBody(opts.Body)
	if err != nil {
		return nil, &APIError{Kind: KindUnexpected, Message: "encode request body", Err: err}
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, &APIError{Kind: KindUnexpected, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if err := c.applyAuth(ctx, req); err != nil {
		return nil, err
	}
	for k, v := range opts.Headers {
		if _, isForm := opts.Body.(*Form); isForm && strings.EqualFold(k, "Content-Type") {
			continue
		}
		req.Header.Set(k, v)
	}
	if logger.Enabled(ctx, slog.LevelDebug) {
		logger.DebugContext(ctx, "api request",
			"method", method,
			"path", path,
			"headers", c.redactor().Header(req.Header),
			"body", c.redactBody(opts.Body, body))
	}

	start := time.Now()
	resp, err := c.httpClient().Do(req)
	if err != nil {
		c.observe(route, 0, time.Since(start))
		logger.DebugContext(ctx, "api transport failure", "error", err)
		return nil, &APIError{Kind: KindNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()
	limit := c.maxResponseBytes()
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	c.observe(route, resp.StatusCode, time.Since(start))
	if readErr != nil {
		return nil, &APIError{Kind: KindNetwork, Status: resp.StatusCode, Message: "read response", Err: readErr}
	}
	if int64(len(respBody)) > limit {
		return nil, &APIError{
			Kind:    KindUnexpected,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("response from %s exceeds %d bytes", route, limit),
		}
	}
	if logger.Enabled(ctx, slog.LevelDebug) {
		logger.DebugContext(ctx, "api response",
			"status", resp.StatusCode,
			"duration", time.Since(start),
			"body", c.redactor().JSON(respBody))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.invalidate(ctx, logger, path)
		msg := "Unauthorized"
		if trimmed := bytes.TrimSpace(respBody); len(trimmed) > 0 && gjson.ValidBytes(trimmed) {
			msg = errorMessage(trimmed, resp.StatusCode)
		}
		return nil, &APIError{Kind: KindUnauthorized, Status: resp.StatusCode, Message: msg}
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &APIError{
			Kind:    KindRequestFailed,
			Status:  resp.StatusCode,
			Message: errorMessage(respBody, resp.StatusCode),
		}
	}

	trimmed := bytes.TrimSpace(respBody)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(trimmed) {
		return nil, &APIError{
			Kind:    KindUnexpected,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("malformed JSON response from %s", route),
		}
	}
	return json.RawMessage(trimmed), nil
}

// Do performs Request and decodes a non-empty result into out.
func (c *Client) Do(ctx context.Context, path string, opts Options, out any) error {
	raw, err := c.Request(ctx, path, opts)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &APIError{Kind: KindUnexpected, Message: "decode response", Err: err}
	}
	return nil
}

func (c *Client) invalidate(ctx context.Context, logger *slog.Logger, path string) {
	if c.Tokens != nil {
		if err := c.Tokens.Clear(ctx); err != nil {
			logger.WarnContext(ctx, "clear session token failed", "error", err)
		}
	}
	logger.WarnContext(ctx, "session invalidated by remote api", "path", path)
	if c.Events != nil {
		c.Events.Publish(stream.NewEvent(stream.SessionInvalidated, map[string]string{"path": path}))
	}
}

func (c *Client) applyAuth(ctx context.Context, req *http.Request) error {
	if c.Tokens == nil {
		return nil
	}
	token, ok, err := c.Tokens.Get(ctx)
	if err != nil {
		return &APIError{Kind: KindUnexpected, Message: "read session token", Err: err}
	}
	if !ok || strings.TrimSpace(token) == "" {
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	return nil
}

func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case *Form:
		if b == nil {
			return nil, "", nil
		}
		return b.encode()
	case json.RawMessage:
		return b, "application/json", nil
	case []byte:
		return b, "application/json", nil
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return raw, "application/json", nil
	}
}

func (c *Client) redactBody(original any, encoded []byte) any {
	if form, ok := original.(*Form); ok && form != nil {
		return c.redactor().Fields(form.Fields())
	}
	return c.redactor().JSON(encoded)
}

func (c *Client) observe(route string, status int, d time.Duration) {
	if c.Metrics != nil {
		c.Metrics.Observe(route, status, d)
	}
}

func (c *Client) requestID() string {
	if c.newRequestID != nil {
		return c.newRequestID()
	}
	return uuid.NewString()
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 5 * time.Second}
}

func (c *Client) maxResponseBytes() int64 {
	if c.MaxResponseBytes > 0 {
		return c.MaxResponseBytes
	}
	return defaultMaxResponseBytes
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) redactor() *redact.Redactor {
	if c.Redactor != nil {
		return c.Redactor
	}
	return defaultRedactor
}

var defaultRedactor = redact.New("")
