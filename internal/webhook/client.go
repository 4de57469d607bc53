package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/english-check/backend/internal/assessment"
	"github.com/english-check/backend/pkg/circuitbreaker"
)

const (
	DefaultURL      = "https://tauga.app.n8n.cloud/webhook/english-test"
	DefaultFilename = "recording.wav"

	maxResponseBytes = 10 << 20
	maxExcerptLen    = 300
)

var (
	ErrTimeout     = errors.New("webhook request timed out")
	ErrCircuitOpen = circuitbreaker.ErrCircuitOpen
)

// StatusError is returned for non-2xx webhook responses.
type StatusError struct {
	StatusCode int
	Body       []byte
	// Excerpt is readable text pulled from the body (HTML pages are reduced
	// to their text content).
	Excerpt string
}

func (e *StatusError) Error() string {
	if e.Excerpt != "" {
		return fmt.Sprintf("webhook returned status %d: %s", e.StatusCode, e.Excerpt)
	}
	return fmt.Sprintf("webhook returned status %d", e.StatusCode)
}

type Config struct {
	URL     string
	Timeout time.Duration

	BreakerEnabled bool
	Breaker        circuitbreaker.Config

	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Client struct {
	url     string
	timeout time.Duration
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// Response is a relayed webhook reply.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
	Latency     time.Duration
}

// Payload returns the body as JSON: valid JSON bodies are returned
// byte-for-byte, anything else is wrapped as a JSON string.
func (r *Response) Payload() json.RawMessage {
	body := bytes.TrimSpace(r.Body)
	if len(body) > 0 && json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(r.Body))
	return json.RawMessage(quoted)
}

func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	c := &Client{
		url:     cfg.URL,
		timeout: cfg.Timeout,
		http:    cfg.HTTPClient,
		logger:  cfg.Logger,
	}
	if cfg.BreakerEnabled {
		bc := cfg.Breaker
		if bc.IsFailure == nil {
			bc.IsFailure = countsAsFailure
		}
		if bc.Logger == nil {
			bc.Logger = cfg.Logger
		}
		c.breaker = circuitbreaker.New("webhook", bc)
	}
	return c
}

func (c *Client) URL() string {
	return c.url
}

func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

// Forward re-encodes the submission as multipart/form-data and posts it to
// the webhook once.
func (c *Client) Forward(ctx context.Context, sub *assessment.Submission) (*Response, error) {
	if sub == nil || len(sub.Audio) == 0 {
		return nil, assessment.ErrNoAudio
	}

	if raw, _ := sub.CriteriaField(); raw != "" {
		if _, ok := assessment.NormalizeCriteriaJSON(raw); !ok {
			c.logger.Warn("Criteria is not valid JSON, forwarding as-is")
		}
	}
	body, contentType, err := EncodeForm(sub)
	if err != nil {
		return nil, err
	}

	var resp *Response
	send := func() error {
		var sendErr error
		resp, sendErr = c.send(ctx, body, contentType)
		return sendErr
	}
	if c.breaker != nil {
		err = c.breaker.Execute(send)
	} else {
		err = send()
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// EncodeForm builds the multipart body: an "audio" file part plus the
// question, studyLevel and criteria fields, each omitted when empty. Criteria
// that parse as JSON are re-encoded compactly.
func EncodeForm(sub *assessment.Submission) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := sub.AudioName
	if filename == "" {
		filename = DefaultFilename
	}
	audioType := sub.AudioType
	if audioType == "" {
		audioType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename="%s"`, escapeQuotes(filename)))
	h.Set("Content-Type", audioType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create audio part: %w", err)
	}
	if _, err := part.Write(sub.Audio); err != nil {
		return nil, "", fmt.Errorf("failed to write audio part: %w", err)
	}

	criteria, err := sub.CriteriaField()
	if err != nil {
		return nil, "", err
	}
	criteria, _ = assessment.NormalizeCriteriaJSON(criteria)

	fields := []struct{ name, value string }{
		{"question", sub.Question},
		{"studyLevel", string(sub.StudyLevel)},
		{"criteria", criteria},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f.name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func (c *Client) send(ctx context.Context, body []byte, contentType string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	c.logger.Info("Forwarding request to webhook",
		zap.String("url", c.url),
		zap.Int("body_bytes", len(body)),
	)

	start := time.Now()
	httpResp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w while reading response", ErrTimeout)
		}
		return nil, fmt.Errorf("failed to read webhook response: %w", err)
	}

	latency := time.Since(start)
	ct := httpResp.Header.Get("Content-Type")
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		c.logger.Warn("Webhook returned non-success status",
			zap.Int("status", httpResp.StatusCode),
			zap.Duration("latency", latency),
		)
		return nil, &StatusError{
			StatusCode: httpResp.StatusCode,
			Body:       respBody,
			Excerpt:    excerpt(ct, respBody),
		}
	}

	c.logger.Info("Webhook responded",
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("latency", latency),
	)
	return &Response{
		StatusCode:  httpResp.StatusCode,
		ContentType: ct,
		Body:        respBody,
		Latency:     latency,
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// countsAsFailure keeps client errors from tripping the breaker.
func countsAsFailure(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}

func excerpt(contentType string, body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}

	text := string(trimmed)
	if strings.Contains(contentType, "html") || trimmed[0] == '<' {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(trimmed))
		if err == nil {
			doc.Find("script, style").Remove()
			title := strings.TrimSpace(doc.Find("title").First().Text())
			bodyText := strings.TrimSpace(doc.Find("body").Text())
			switch {
			case title != "" && bodyText != "" && !strings.HasPrefix(bodyText, title):
				text = title + ": " + bodyText
			case bodyText != "":
				text = bodyText
			default:
				text = title
			}
		}
	} else {
		var msg struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(trimmed, &msg) == nil {
			if msg.Message != "" {
				text = msg.Message
			} else if msg.Error != "" {
				text = msg.Error
			}
		}
	}

	text = strings.Join(strings.Fields(text), " ")
	if len(text) > maxExcerptLen {
		text = text[:maxExcerptLen] + "..."
	}
	return text
}

func escapeQuotes(s string) string {
	return strings.NewReplacer("\\", "\\\\", `"`, "\\\"").Replace(s)
}
