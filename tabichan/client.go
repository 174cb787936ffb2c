package tabichan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/podtech-ai/tabichan-go/internal/metrics"
)

// Default endpoints for the hosted Tabichan service.
const (
	DefaultBaseURL            = "https://tourism-api.podtech-ai.com/v1"
	DefaultAlternativeBaseURL = "https://tabichan.podtech-ai.com/v1"
)

// Per-endpoint timeout defaults, matching the service's latency profile:
// chat submission is a quick enqueue, polling is cheap, image payloads are
// large base64 blobs.
const (
	defaultChatTimeout  = 3 * time.Second
	defaultPollTimeout  = 5 * time.Second
	defaultImageTimeout = 30 * time.Second
)

const (
	defaultPollInterval    = 10 * time.Second
	defaultMaxPollAttempts = 30
)

// Client talks to the Tabichan API over HTTP. It is safe for concurrent use.
type Client struct {
	apiKey     string
	baseURL    string
	altBaseURL string
	userAgent  string

	httpClient *http.Client
	retry      retryPolicy
	logger     *zap.Logger

	chatTimeout  time.Duration
	pollTimeout  time.Duration
	imageTimeout time.Duration

	pollInterval    time.Duration
	maxPollAttempts int
	pollLimiter     *rate.Limiter
}

// New builds a Client for the given API key. The key is required; callers
// that read it from the environment should do so before calling New.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("tabichan: api key is required")
	}
	c := &Client{
		apiKey:          apiKey,
		baseURL:         DefaultBaseURL,
		altBaseURL:      DefaultAlternativeBaseURL,
		userAgent:       "tabichan-go/" + Version,
		retry:           defaultRetryPolicy(),
		logger:          zap.NewNop(),
		chatTimeout:     defaultChatTimeout,
		pollTimeout:     defaultPollTimeout,
		imageTimeout:    defaultImageTimeout,
		pollInterval:    defaultPollInterval,
		maxPollAttempts: defaultMaxPollAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Transport: newHTTPTransport()}
	}
	if !strings.HasPrefix(c.baseURL, "http://") && !strings.HasPrefix(c.baseURL, "https://") {
		return nil, fmt.Errorf("tabichan: invalid base URL %q", c.baseURL)
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")
	return c, nil
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// AlternativeBaseURL returns the secondary hosted endpoint.
func (c *Client) AlternativeBaseURL() string {
	return c.altBaseURL
}

// doJSON executes one API call with retries and decodes the JSON response
// into out. query may be nil; body may be nil for GET requests.
func (c *Client) doJSON(
	ctx context.Context,
	method string,
	endpoint string,
	query url.Values,
	body any,
	timeout time.Duration,
	out any,
) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		payload = encoded
	}

	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = c.doOnce(ctx, method, endpoint, target, payload, timeout, out)
		if lastErr == nil {
			return nil
		}
		if !c.retry.shouldRetry(lastErr, attempt) {
			return lastErr
		}
		delay := c.retry.backoff(attempt)
		c.logger.Debug("retrying request",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(lastErr),
		)
		if err := sleep(ctx, delay); err != nil {
			return lastErr
		}
	}
}

func (c *Client) doOnce(
	ctx context.Context,
	method string,
	endpoint string,
	target string,
	payload []byte,
	timeout time.Duration,
	out any,
) error {
	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveRequest(endpoint, method, 0, duration)
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer closeBody(resp.Body, c.logger)

	metrics.ObserveRequest(endpoint, method, resp.StatusCode, duration)
	c.logger.Debug("request completed",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration),
		zap.String("request_id", requestID),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    readErrorMessage(resp.Body),
			RequestID:  requestID,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// readErrorMessage extracts the server's error text from a failure body.
// The service returns {"error": "..."}; anything else falls back to the
// raw body, truncated.
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(raw))
}

func closeBody(body io.ReadCloser, logger *zap.Logger) {
	// Drain so the connection can be reused by the pool.
	if _, err := io.Copy(io.Discard, io.LimitReader(body, 64*1024)); err != nil {
		logger.Debug("drain response body failed", zap.Error(err))
	}
	if err := body.Close(); err != nil {
		logger.Debug("close response body failed", zap.Error(err))
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
