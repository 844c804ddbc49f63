// Package api is the REST client for the HelloToday server. Every
// operation normalizes failures into *Error with a display-ready message.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/hellotoday/hellotoday-client/internal/errors"
	"github.com/hellotoday/hellotoday-client/internal/models"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds every request.
	DefaultTimeout = 10 * time.Second

	// maxAPIResponseBytes caps response body reads to prevent a
	// misbehaving server from consuming unbounded memory.
	maxAPIResponseBytes = 1024 * 1024
)

// Operation names, used in logs, errors and metrics.
const (
	OpFetchToday  = "fetch_today"
	OpFetchByDate = "fetch_by_date"
	OpFetchDates  = "fetch_dates"
	OpSubmit      = "submit"
	OpFetchStats  = "fetch_stats"
	OpHealth      = "health"
)

// RequestObserver is notified once per completed operation. err is nil on
// success.
type RequestObserver interface {
	ObserveRequest(op string, err error)
}

// Options configures a Client.
type Options struct {
	BaseURL string

	// Timeout applies when HTTPClient is nil. Defaults to DefaultTimeout.
	Timeout    time.Duration
	HTTPClient *http.Client

	// SubmitRate limits Submit calls per second. Zero disables the limit.
	SubmitRate  float64
	SubmitBurst int

	Logger   *slog.Logger
	Observer RequestObserver
}

// Client talks to the HelloToday REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	logger     *slog.Logger
	observer   RequestObserver
}

// NewClient creates an API client from opts.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}

		httpClient = &http.Client{Timeout: timeout}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		httpClient: httpClient,
		baseURL:    opts.BaseURL,
		logger:     logger,
		observer:   opts.Observer,
	}

	if opts.SubmitRate > 0 {
		burst := opts.SubmitBurst
		if burst < 1 {
			burst = 1
		}

		c.limiter = rate.NewLimiter(rate.Limit(opts.SubmitRate), burst)
	}

	return c
}

// BaseURL returns the origin the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// FetchToday returns today's message set.
func (c *Client) FetchToday(ctx context.Context) (*models.DailyMessageSet, error) {
	var set models.DailyMessageSet
	if err := c.do(ctx, OpFetchToday, http.MethodGet, "/api/messages/today", nil, nil, &set); err != nil {
		return nil, err
	}

	return &set, nil
}

// FetchByDate returns the message set for a historical date (YYYY-MM-DD).
func (c *Client) FetchByDate(ctx context.Context, date string) (*models.DailyMessageSet, error) {
	var set models.DailyMessageSet

	path := "/api/messages/date/" + url.PathEscape(date)
	if err := c.do(ctx, OpFetchByDate, http.MethodGet, path, nil, nil, &set); err != nil {
		return nil, err
	}

	return &set, nil
}

// FetchAvailableDates returns the dates that have messages.
func (c *Client) FetchAvailableDates(ctx context.Context) ([]string, error) {
	var dates []string
	if err := c.do(ctx, OpFetchDates, http.MethodGet, "/api/messages/dates", nil, nil, &dates); err != nil {
		return nil, err
	}

	if dates == nil {
		dates = []string{}
	}

	return dates, nil
}

// Submit posts a new message and returns the created message. The content
// is sent as-is; the server validates it and a validation failure is
// normalized to MsgContentRequired or MsgContentTooLong.
func (c *Client) Submit(ctx context.Context, content string) (*models.Message, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			apiErr := &Error{Op: OpSubmit, Kind: apperrors.ErrRateLimited, Message: MsgRateLimited, Err: err}
			c.observe(OpSubmit, apiErr)

			return nil, apiErr
		}
	}

	var msg models.Message
	if err := c.do(ctx, OpSubmit, http.MethodPost, "/api/messages", models.SubmitRequest{Content: content}, &content, &msg); err != nil {
		return nil, err
	}

	return &msg, nil
}

// FetchStats returns the statistics payload for scope. The payload is
// passed through unparsed.
func (c *Client) FetchStats(ctx context.Context, scope StatsScope) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, OpFetchStats, http.MethodGet, scope.Path(), nil, nil, &raw); err != nil {
		return nil, err
	}

	return raw, nil
}

// Health probes the server, preferring the actuator endpoint and falling
// back to the root path.
func (c *Client) Health(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage

	err := c.do(ctx, OpHealth, http.MethodGet, "/actuator/health", nil, nil, &raw)
	if err == nil {
		return raw, nil
	}

	c.logger.Debug("actuator health failed, trying root", slog.String("error", err.Error()))

	raw = nil
	if err := c.do(ctx, OpHealth, http.MethodGet, "/", nil, nil, &raw); err != nil {
		return nil, err
	}

	return raw, nil
}

// do sends one request and decodes the unwrapped payload into result.
// content is the outbound message content for submissions, used when
// normalizing validation failures.
func (c *Client) do(ctx context.Context, op, method, path string, body interface{}, content *string, result interface{}) (err error) {
	start := time.Now()

	defer func() {
		c.observe(op, err)
	}()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		apiErr := normalizeTransport(op, fmt.Errorf("sending request to %s: %w", path, err))
		c.logger.Warn("api request failed",
			slog.String("op", op),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return apiErr
	}
	defer resp.Body.Close()

	// Cap response reads at 1MB. API responses are small JSON payloads.
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return normalizeTransport(op, fmt.Errorf("reading response from %s: %w", path, err))
	}

	c.logger.Debug("api response",
		slog.String("op", op),
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := normalizeResponse(op, resp.StatusCode, respBody, content)
		c.logger.Warn("api error response",
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
			slog.String("message", apiErr.Message),
		)

		return apiErr
	}

	// A 2xx envelope can still report failure.
	if s := gjson.GetBytes(respBody, "success"); s.Exists() && (s.Type == gjson.False || s.Str == "false") {
		msg := bodyMessage(respBody)
		if msg == "" {
			msg = "request failed"
		}

		return &Error{Op: op, Kind: apperrors.ErrClientError, Status: resp.StatusCode, Message: msg}
	}

	if result == nil {
		return nil
	}

	payload := unwrapEnvelope(respBody)
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = []byte("null")
	}

	if err := json.Unmarshal(payload, result); err != nil {
		return &Error{
			Op:      op,
			Kind:    apperrors.ErrServerError,
			Status:  resp.StatusCode,
			Message: MsgServerError,
			Err:     fmt.Errorf("decoding response from %s: %w", path, err),
		}
	}

	return nil
}

// unwrapEnvelope returns the "data" member of a {success, data, message}
// envelope, or the body itself when there is no envelope.
func unwrapEnvelope(body []byte) []byte {
	data := gjson.GetBytes(body, "data")
	if !data.Exists() || data.Type == gjson.Null {
		return body
	}

	return []byte(data.Raw)
}

func (c *Client) observe(op string, err error) {
	if c.observer != nil {
		c.observer.ObserveRequest(op, err)
	}
}
