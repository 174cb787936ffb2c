package tabichan

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (no trailing slash required).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithAlternativeBaseURL overrides the secondary hosted endpoint.
func WithAlternativeBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.altBaseURL = baseURL
	}
}

// WithHTTPClient supplies a custom http.Client, e.g. for proxying or tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger attaches a zap logger; the default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithRetry configures transient-failure retries. maxRetries is the number
// of re-attempts after the first try; zero disables retries.
func WithRetry(maxRetries int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retry = retryPolicy{
			maxRetries: maxRetries,
			baseDelay:  baseDelay,
			maxDelay:   maxDelay,
		}
	}
}

// WithTimeouts overrides the per-endpoint request timeouts. Zero values keep
// the defaults.
func WithTimeouts(chat, poll, image time.Duration) Option {
	return func(c *Client) {
		if chat > 0 {
			c.chatTimeout = chat
		}
		if poll > 0 {
			c.pollTimeout = poll
		}
		if image > 0 {
			c.imageTimeout = image
		}
	}
}

// WithPollInterval sets the delay between WaitForChat poll attempts.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithMaxPollAttempts caps how many times WaitForChat polls before giving up.
func WithMaxPollAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPollAttempts = n
		}
	}
}

// WithPollRate adds a client-side limit on poll requests per second, shared
// across concurrent WaitForChat calls. Zero or negative disables the limit.
func WithPollRate(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.pollLimiter = nil
			return
		}
		c.pollLimiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}
