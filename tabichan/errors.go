package tabichan

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the HTTP client and WebSocket session.
var (
	// ErrWaitTimeout is returned by WaitForChat when the task is still
	// running after the configured number of poll attempts.
	ErrWaitTimeout = errors.New("tabichan: chat generation timed out")

	// ErrNotConnected is returned by session operations that require an
	// established WebSocket connection.
	ErrNotConnected = errors.New("tabichan: websocket is not connected")

	// ErrAlreadyConnected is returned by Connect on a live session.
	ErrAlreadyConnected = errors.New("tabichan: websocket is already connected")

	// ErrNoActiveQuestion is returned by SendResponse when the server has
	// not asked a question, or the previous one was already answered.
	ErrNoActiveQuestion = errors.New("tabichan: no active question to respond to")

	// ErrSessionConnected is returned when mutating session settings that
	// are fixed for the lifetime of a connection.
	ErrSessionConnected = errors.New("tabichan: cannot change base URL while connected")
)

// APIError describes a non-2xx response from the Tabichan API.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tabichan: api error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("tabichan: api error (status %d): %s", e.StatusCode, e.Message)
}

// ChatError reports a chat task that finished in the failed state.
type ChatError struct {
	TaskID string
	Reason string
}

func (e *ChatError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "unknown error"
	}
	return fmt.Sprintf("tabichan: chat task %s failed: %s", e.TaskID, reason)
}

// UnexpectedStatusError reports a poll status the SDK does not recognize.
type UnexpectedStatusError struct {
	TaskID string
	Status string
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("tabichan: chat task %s returned unexpected status %q", e.TaskID, e.Status)
}
