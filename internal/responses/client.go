// Package responses is a minimal client for the OpenAI Responses API,
// limited to the computer-use request/response cycle.
//
// The go-openai SDK supplies the client configuration and error types;
// the Responses endpoint itself is called directly because the SDK does
// not expose it.
package responses

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/haasonsaas/deskrelay/internal/backoff"
	"github.com/haasonsaas/deskrelay/internal/observability"
)

const (
	// DefaultModel is the computer-use model.
	DefaultModel = "computer-use-preview"

	// DefaultTruncation lets the service drop old context.
	DefaultTruncation = "auto"

	DefaultRequestTimeout = 120 * time.Second
	DefaultMaxRetries     = 2
)

var (
	// ErrMissingAPIKey is returned by NewClient when no key is configured.
	ErrMissingAPIKey = errors.New("openai api key is required")

	// ErrTransport marks failures that happened before a response arrived.
	ErrTransport = errors.New("agent transport failure")

	// ErrTurnFailed is returned when the service reports a failed response.
	ErrTurnFailed = errors.New("agent response failed")
)

// Config configures a Client.
type Config struct {
	Model        string
	BaseURL      string
	APIKey       string
	Organization string
	Tool         ToolSpec
	Truncation   string

	// RequestTimeout bounds each attempt. Zero disables the bound.
	RequestTimeout time.Duration
	// MaxRetries is the number of extra attempts for retryable failures.
	MaxRetries int
	// RequestsPerMinute paces requests. Zero disables pacing.
	RequestsPerMinute int

	HTTPClient openai.HTTPDoer
	Backoff    backoff.Policy
}

// DefaultConfig returns the defaults for a computer-use session.
func DefaultConfig() Config {
	return Config{
		Model:          DefaultModel,
		Tool:           DefaultToolSpec(),
		Truncation:     DefaultTruncation,
		RequestTimeout: DefaultRequestTimeout,
		MaxRetries:     DefaultMaxRetries,
		Backoff:        backoff.DefaultPolicy(),
	}
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *observability.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records request counts and latency.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTracer traces each request.
func WithTracer(t *observability.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// Client talks to the Responses endpoint.
type Client struct {
	config   Config
	api      openai.ClientConfig
	endpoint string
	limiter  *rate.Limiter
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// NewClient creates a client. Empty fields in cfg fall back to DefaultConfig.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg = sanitizeConfig(cfg)
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	api := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		api.BaseURL = cfg.BaseURL
	}
	api.OrgID = cfg.Organization
	if cfg.HTTPClient != nil {
		api.HTTPClient = cfg.HTTPClient
	}

	c := &Client{
		config:   cfg,
		api:      api,
		endpoint: strings.TrimRight(api.BaseURL, "/") + "/responses",
		logger:   observability.NopLogger(),
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func sanitizeConfig(cfg Config) Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaults.Model
	}
	if cfg.Tool == (ToolSpec{}) {
		cfg.Tool = defaults.Tool
	}
	if cfg.Tool.Type == "" {
		cfg.Tool.Type = defaults.Tool.Type
	}
	if cfg.Truncation == "" {
		cfg.Truncation = defaults.Truncation
	}
	if cfg.RequestTimeout < 0 {
		cfg.RequestTimeout = 0
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff == (backoff.Policy{}) {
		cfg.Backoff = defaults.Backoff
	}
	return cfg
}

// Model returns the configured model.
func (c *Client) Model() string {
	return c.config.Model
}

// Tool returns the declared surface.
func (c *Client) Tool() ToolSpec {
	return c.config.Tool
}

// Start opens a session with the operator's instruction.
func (c *Client) Start(ctx context.Context, instruction string) (*Turn, error) {
	req := c.newRequest()
	req.Input = []any{userMessage{
		Role:    "user",
		Content: []inputText{{Type: "input_text", Text: instruction}},
	}}
	return c.create(ctx, req)
}

// ContinueRequest carries the observed result of one computer call.
type ContinueRequest struct {
	PreviousResponseID       string
	CallID                   string
	Screenshot               []byte
	AcknowledgedSafetyChecks []SafetyCheck
}

// Continue submits a screenshot as the output of a computer call and returns
// the next turn.
func (c *Client) Continue(ctx context.Context, in ContinueRequest) (*Turn, error) {
	if in.PreviousResponseID == "" {
		return nil, errors.New("previous response id is required")
	}
	if in.CallID == "" {
		return nil, errors.New("call id is required")
	}
	req := c.newRequest()
	req.PreviousResponseID = in.PreviousResponseID
	req.Input = []any{callOutput{
		Type:   "computer_call_output",
		CallID: in.CallID,
		Output: inputImage{
			Type:     "input_image",
			ImageURL: ImageDataURI(in.Screenshot),
		},
		AcknowledgedSafetyChecks: in.AcknowledgedSafetyChecks,
	}}
	return c.create(ctx, req)
}

// ImageDataURI encodes PNG bytes as a base64 data URI.
func ImageDataURI(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

func (c *Client) newRequest() request {
	return request{
		Model:      c.config.Model,
		Tools:      []ToolSpec{c.config.Tool},
		Truncation: c.config.Truncation,
	}
}

func (c *Client) create(ctx context.Context, req request) (*Turn, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ctx, span := c.tracer.TraceAgentRequest(ctx, c.config.Model)
	defer span.End()

	shouldRetry := func(err error) bool {
		return ctx.Err() == nil && IsRetryable(err)
	}
	turn, attempts, err := backoff.Retry(ctx, c.config.Backoff, c.config.MaxRetries, shouldRetry,
		func(ctx context.Context, attempt int) (*Turn, error) {
			if attempt > 1 {
				c.logger.Warn(ctx, "retrying agent request", "attempt", attempt)
			}
			return c.attempt(ctx, body)
		})
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("create response (%d attempts): %w", attempts, err)
	}
	if turn.Error != nil {
		err := fmt.Errorf("%w: %s: %w", ErrTurnFailed, turn.ID, turn.Error)
		observability.RecordError(span, err)
		return nil, err
	}
	c.logger.Debug(ctx, "agent turn received", "response_id", turn.ID, "items", len(turn.Output))
	return turn, nil
}

func (c *Client) attempt(ctx context.Context, body []byte) (turn *Turn, err error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() { c.metrics.AgentRequest(err, time.Since(start)) }()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	if c.api.OrgID != "" {
		httpReq.Header.Set("OpenAI-Organization", c.api.OrgID)
	}

	resp, err := c.api.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseError(resp, data)
	}

	turn = &Turn{}
	if err := json.Unmarshal(data, turn); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return turn, nil
}

func parseError(resp *http.Response, body []byte) error {
	var errResp openai.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil {
		errResp.Error.HTTPStatus = resp.Status
		errResp.Error.HTTPStatusCode = resp.StatusCode
		if errResp.Error.Message == "" {
			errResp.Error.Message = resp.Status
		}
		return errResp.Error
	}

	raw := strings.TrimSpace(string(body))
	if len(raw) > 500 {
		raw = raw[:500] + "..."
	}
	message := resp.Status
	if raw != "" {
		message = fmt.Sprintf("%s (raw: %s)", resp.Status, raw)
	}
	return &openai.APIError{
		Message:        message,
		HTTPStatus:     resp.Status,
		HTTPStatusCode: resp.StatusCode,
	}
}

// IsRetryable reports whether err is worth another attempt: transport
// failures, per-attempt timeouts and 408, 409, 429 or 5xx responses.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransport) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch code := apiErr.HTTPStatusCode; {
		case code == http.StatusRequestTimeout,
			code == http.StatusConflict,
			code == http.StatusTooManyRequests,
			code >= 500:
			return true
		}
	}
	return false
}
