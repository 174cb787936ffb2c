package tabichan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Chat task states reported by the poll endpoint.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ChatRequest describes a chat task submission.
type ChatRequest struct {
	// UserQuery is the traveler's request, e.g. "Plan a 2-day trip to Tokyo".
	UserQuery string
	// UserID identifies the requesting user for history attribution.
	UserID string
	// Country selects the destination catalog; defaults to CountryJapan.
	Country Country
	// History carries prior conversation turns, oldest first.
	History []ChatMessage
	// AdditionalInputs passes free-form hints (currency, language, dates).
	AdditionalInputs map[string]any
}

type chatRequestBody struct {
	UserQuery        string         `json:"user_query"`
	UserID           string         `json:"user_id"`
	Country          Country        `json:"country"`
	History          []ChatMessage  `json:"history"`
	AdditionalInputs map[string]any `json:"additional_inputs"`
}

// PollResult is the poll endpoint's view of a chat task.
type PollResult struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// StartChat submits a chat task and returns its task ID. Generation happens
// asynchronously; use PollChat or WaitForChat to retrieve the result.
func (c *Client) StartChat(ctx context.Context, req ChatRequest) (string, error) {
	if req.UserQuery == "" {
		return "", errors.New("tabichan: user query is required")
	}
	if req.UserID == "" {
		return "", errors.New("tabichan: user id is required")
	}
	country := req.Country
	if country == "" {
		country = CountryJapan
	}
	if !country.Valid() {
		return "", fmt.Errorf("tabichan: unsupported country %q", country)
	}

	body := chatRequestBody{
		UserQuery:        req.UserQuery,
		UserID:           req.UserID,
		Country:          country,
		History:          req.History,
		AdditionalInputs: req.AdditionalInputs,
	}
	if body.History == nil {
		body.History = []ChatMessage{}
	}
	if body.AdditionalInputs == nil {
		body.AdditionalInputs = map[string]any{}
	}

	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/chat", nil, body, c.chatTimeout, &out); err != nil {
		return "", err
	}
	if out.TaskID == "" {
		return "", errors.New("tabichan: chat response missing task_id")
	}
	c.logger.Info("chat task started",
		zap.String("task_id", out.TaskID),
		zap.String("country", string(country)),
	)
	return out.TaskID, nil
}

// PollChat fetches the current status of a chat task.
func (c *Client) PollChat(ctx context.Context, taskID string) (PollResult, error) {
	if taskID == "" {
		return PollResult{}, errors.New("tabichan: task id is required")
	}
	query := url.Values{"task_id": {taskID}}
	var out PollResult
	if err := c.doJSON(ctx, http.MethodGet, "/chat/poll", query, nil, c.pollTimeout, &out); err != nil {
		return PollResult{}, err
	}
	return out, nil
}

// WaitOption tweaks a single WaitForChat call.
type WaitOption func(*waitConfig)

type waitConfig struct {
	interval    time.Duration
	maxAttempts int
}

// WaitInterval overrides the poll interval for this wait.
func WaitInterval(d time.Duration) WaitOption {
	return func(w *waitConfig) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WaitMaxAttempts overrides the attempt cap for this wait.
func WaitMaxAttempts(n int) WaitOption {
	return func(w *waitConfig) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WaitForChat polls until the task completes and returns its result payload.
// A failed task yields *ChatError, an unknown status *UnexpectedStatusError,
// and exhausting the attempt budget ErrWaitTimeout. Context cancellation is
// honored between polls.
func (c *Client) WaitForChat(ctx context.Context, taskID string, opts ...WaitOption) (json.RawMessage, error) {
	cfg := waitConfig{interval: c.pollInterval, maxAttempts: c.maxPollAttempts}
	for _, opt := range opts {
		opt(&cfg)
	}

	for attempt := 1; attempt <= cfg.maxAttempts; attempt++ {
		if c.pollLimiter != nil {
			if err := c.pollLimiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("poll rate wait: %w", err)
			}
		}
		poll, err := c.PollChat(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("poll chat status: %w", err)
		}

		switch poll.Status {
		case StatusCompleted:
			c.logger.Info("chat task completed",
				zap.String("task_id", taskID),
				zap.Int("attempts", attempt),
			)
			return poll.Result, nil
		case StatusRunning:
			c.logger.Debug("chat task still running",
				zap.String("task_id", taskID),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", cfg.maxAttempts),
			)
		case StatusFailed:
			return nil, &ChatError{TaskID: taskID, Reason: poll.Error}
		default:
			return nil, &UnexpectedStatusError{TaskID: taskID, Status: poll.Status}
		}

		if attempt < cfg.maxAttempts {
			if err := sleep(ctx, cfg.interval); err != nil {
				return nil, fmt.Errorf("wait for chat: %w", err)
			}
		}
	}
	return nil, ErrWaitTimeout
}
