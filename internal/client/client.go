package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/english-check/backend/internal/assessment"
	"github.com/english-check/backend/internal/webhook"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultPollTimeout  = 30 * time.Second
)

var (
	ErrPollTimeout        = errors.New("processing is taking longer than expected, please try again with a shorter audio file")
	ErrUnexpectedResponse = errors.New("invalid response format from server")
	ErrInvalidResponse    = errors.New("invalid response from server")
)

// ServerError is a non-2xx reply from the proxy.
type ServerError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("server error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// FallbackError reports a failed direct webhook call after a gateway timeout.
type FallbackError struct {
	Err error
}

func (e *FallbackError) Error() string {
	return "failed to process your audio: " + e.Err.Error()
}

func (e *FallbackError) Unwrap() error { return e.Err }

type Config struct {
	ServerURL  string
	WebhookURL string
	// Async asks the proxy to answer with a request id and poll for the result.
	Async          bool
	PollInterval   time.Duration
	PollTimeout    time.Duration
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

type Client struct {
	cfg    Config
	http   *http.Client
	direct *webhook.Client
	logger *zap.Logger
}

func New(cfg Config) *Client {
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://localhost:5001"
	}
	if cfg.WebhookURL == "" {
		cfg.WebhookURL = webhook.DefaultURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 3 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	return &Client{
		cfg:  cfg,
		http: cfg.HTTPClient,
		direct: webhook.NewClient(webhook.Config{
			URL:        cfg.WebhookURL,
			Timeout:    cfg.RequestTimeout,
			HTTPClient: cfg.HTTPClient,
			Logger:     cfg.Logger,
		}),
		logger: cfg.Logger,
	}
}

// Submit posts the submission to the proxy and returns the assessment. A 504
// from the proxy triggers exactly one direct call to the webhook; a
// processing acknowledgement is followed by polling.
func (c *Client) Submit(ctx context.Context, sub *assessment.Submission) (*assessment.Result, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	body, contentType, err := webhook.EncodeForm(sub)
	if err != nil {
		return nil, err
	}

	endpoint := c.cfg.ServerURL + "/api/check-english"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.cfg.Async {
		req.Header.Set("Prefer", "respond-async")
	}

	c.logger.Info("Submitting recording", zap.String("endpoint", endpoint), zap.Bool("async", c.cfg.Async))
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read server response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		serverErr := decodeServerError(resp.StatusCode, data)
		if resp.StatusCode == http.StatusGatewayTimeout {
			c.logger.Warn("Server timed out, calling webhook directly")
			return c.fallback(ctx, sub, serverErr)
		}
		return nil, serverErr
	}

	result, err := assessment.DecodeResult(data)
	if err != nil {
		if errors.Is(err, assessment.ErrEmptyResponse) {
			return nil, ErrUnexpectedResponse
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	switch {
	case result.IsProcessing():
		if result.RequestID == "" {
			return nil, ErrUnexpectedResponse
		}
		c.logger.Info("Processing started", zap.String("request_id", result.RequestID))
		return c.Poll(ctx, result.RequestID)
	case result.HasOutput():
		return result, nil
	default:
		return nil, ErrUnexpectedResponse
	}
}

func (c *Client) fallback(ctx context.Context, sub *assessment.Submission, serverErr *ServerError) (*assessment.Result, error) {
	resp, err := c.direct.Forward(ctx, sub)
	if err != nil {
		return nil, &FallbackError{Err: err}
	}
	result, err := assessment.DecodeResult(resp.Body)
	if err != nil {
		return nil, &FallbackError{Err: err}
	}
	if !result.HasOutput() {
		return nil, serverErr
	}
	return result, nil
}

// Poll asks the status endpoint every PollInterval until the result carries
// output or PollTimeout elapses. Transient poll failures are logged and
// retried; a failed job or unknown id ends polling.
func (c *Client) Poll(ctx context.Context, requestID string) (*assessment.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrPollTimeout
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}

		result, done, err := c.checkStatus(ctx, requestID)
		if done {
			return result, err
		}
		if err != nil {
			c.logger.Warn("Status check failed", zap.String("request_id", requestID), zap.Error(err))
		}
	}
}

func (c *Client) checkStatus(ctx context.Context, requestID string) (*assessment.Result, bool, error) {
	endpoint := c.cfg.ServerURL + "/api/status?requestId=" + url.QueryEscape(requestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, true, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		serverErr := decodeServerError(resp.StatusCode, data)
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest || isFailedJob(data) {
			return nil, true, serverErr
		}
		return nil, false, serverErr
	}

	result, err := assessment.DecodeResult(data)
	if err != nil {
		return nil, false, err
	}
	if result.HasOutput() {
		return result, true, nil
	}
	return nil, false, nil
}

func decodeServerError(status int, data []byte) *ServerError {
	se := &ServerError{StatusCode: status}
	var body struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	if json.Unmarshal(data, &body) == nil {
		se.Message = body.Error
		se.Details = body.Details
	}
	return se
}

func isFailedJob(data []byte) bool {
	var body struct {
		Status string `json:"status"`
	}
	return json.Unmarshal(data, &body) == nil && body.Status == "failed"
}
