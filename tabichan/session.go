package tabichan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/podtech-ai/tabichan-go/internal/metrics"
)

// DefaultWSBaseURL is the hosted WebSocket endpoint.
const DefaultWSBaseURL = "wss://tabichan.podtech-ai.com/v1"

const (
	defaultWriteTimeout     = 10 * time.Second
	defaultHandshakeTimeout = 15 * time.Second
	closeReason             = "client disconnecting"
)

// ConnState describes the session's connection lifecycle.
type ConnState string

// Session connection states.
const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateClosed       ConnState = "closed"
)

// Session is an interactive chat connection to the Tabichan API. The server
// streams questions, results, and completion over a WebSocket; the client
// answers questions as they arrive. Register handlers with On before
// Connect to observe the full lifecycle.
type Session struct {
	userID  string
	apiKey  string
	baseURL string

	dialer       *websocket.Dialer
	writeTimeout time.Duration
	logger       *zap.Logger
	dispatcher   *dispatcher

	mu         sync.Mutex
	conn       *websocket.Conn
	connecting bool
	connected  bool
	closed     bool
	questionID string
	doneCh     chan struct{}

	writeMu sync.Mutex
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// SessionBaseURL overrides the WebSocket base URL (ws:// or wss://).
func SessionBaseURL(baseURL string) SessionOption {
	return func(s *Session) {
		s.baseURL = baseURL
	}
}

// SessionLogger attaches a zap logger; the default is a no-op logger.
func SessionLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// SessionDialer supplies a custom websocket dialer.
func SessionDialer(d *websocket.Dialer) SessionOption {
	return func(s *Session) {
		if d != nil {
			s.dialer = d
		}
	}
}

// SessionWriteTimeout bounds each outbound frame write.
func SessionWriteTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// NewSession builds a Session for the given user. Both userID and apiKey are
// required.
func NewSession(userID, apiKey string, opts ...SessionOption) (*Session, error) {
	if userID == "" {
		return nil, errors.New("tabichan: user id is required")
	}
	if apiKey == "" {
		return nil, errors.New("tabichan: api key is not set")
	}
	s := &Session{
		userID:       userID,
		apiKey:       apiKey,
		baseURL:      DefaultWSBaseURL,
		writeTimeout: defaultWriteTimeout,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dialer == nil {
		s.dialer = &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	}
	s.dispatcher = newDispatcher(s.logger)
	if err := validateWSBaseURL(s.baseURL); err != nil {
		return nil, err
	}
	return s, nil
}

// On registers a handler for an event type and returns a Subscription that
// can later be passed to Off.
func (s *Session) On(event EventType, fn Handler) Subscription {
	return s.dispatcher.on(event, fn)
}

// Off removes a single handler.
func (s *Session) Off(sub Subscription) {
	s.dispatcher.off(sub)
}

// OffAll removes every handler registered for an event type.
func (s *Session) OffAll(event EventType) {
	s.dispatcher.offAll(event)
}

// BaseURL returns the configured WebSocket base URL.
func (s *Session) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseURL
}

// SetBaseURL changes the WebSocket base URL. It fails while connected.
func (s *Session) SetBaseURL(baseURL string) error {
	if err := validateWSBaseURL(baseURL); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return ErrSessionConnected
	}
	s.baseURL = baseURL
	return nil
}

// State reports the current connection state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.connecting:
		return StateConnecting
	case s.conn == nil && s.closed:
		return StateClosed
	case s.conn == nil:
		return StateDisconnected
	case s.connected:
		return StateConnected
	default:
		return StateConnecting
	}
}

// IsConnected reports whether the session has a live connection.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// HasActiveQuestion reports whether the server is waiting on an answer.
func (s *Session) HasActiveQuestion() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.questionID != ""
}

// Connect dials the WebSocket endpoint, authenticating with the API key, and
// starts the read loop. It emits EventConnected on success, EventAuthError
// when the server rejects the key, and EventError on other dial failures.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.conn != nil || s.connecting {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	// Hold the connecting flag across the dial so a concurrent Connect
	// cannot pass the check and overwrite this connection.
	s.connecting = true
	target, err := s.connectURL()
	if err != nil {
		s.connecting = false
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	header := http.Header{}
	header.Set("x-api-key", s.apiKey)

	conn, resp, err := s.dialer.DialContext(ctx, target, header)
	if err != nil {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			apiErr := &APIError{StatusCode: resp.StatusCode, Message: "websocket authentication rejected"}
			s.dispatcher.emit(Event{Type: EventAuthError, Err: apiErr})
			return apiErr
		}
		dialErr := fmt.Errorf("dial websocket: %w", err)
		s.dispatcher.emit(Event{Type: EventError, Err: dialErr})
		return dialErr
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.conn = conn
	s.connecting = false
	s.connected = true
	s.closed = false
	s.questionID = ""
	s.doneCh = done
	s.mu.Unlock()

	metrics.IncWSSessions()
	s.logger.Info("websocket connected", zap.String("user_id", s.userID))
	go s.readPump(conn, done)
	s.dispatcher.emit(Event{Type: EventConnected})
	return nil
}

func (s *Session) connectURL() (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse websocket base URL: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("user_id", s.userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// StartChat requests a new chat generation over the session. history and
// preferences may be nil.
func (s *Session) StartChat(ctx context.Context, query string, history []ChatMessage, preferences map[string]any) error {
	if query == "" {
		return errors.New("tabichan: query is required")
	}
	if !s.IsConnected() {
		return ErrNotConnected
	}
	if history == nil {
		history = []ChatMessage{}
	}
	if preferences == nil {
		preferences = map[string]any{}
	}
	return s.sendJSON(ctx, map[string]any{
		"type":        "chat_request",
		"query":       query,
		"history":     history,
		"preferences": preferences,
	})
}

// SendResponse answers the active question. The active question is cleared
// once the answer is written.
func (s *Session) SendResponse(ctx context.Context, text string) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	s.mu.Lock()
	questionID := s.questionID
	s.mu.Unlock()
	if questionID == "" {
		return ErrNoActiveQuestion
	}
	err := s.sendJSON(ctx, map[string]any{
		"type":        "response",
		"question_id": questionID,
		"response":    text,
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.questionID == questionID {
		s.questionID = ""
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) sendJSON(ctx context.Context, payload any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteJSON(payload); err != nil {
		return fmt.Errorf("write websocket frame: %w", err)
	}
	return nil
}

// Close sends a normal-closure frame, tears down the connection, and waits
// for the read loop to exit. It is safe to call multiple times.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	done := s.doneCh
	s.conn = nil
	s.connected = false
	s.questionID = ""
	s.doneCh = nil
	s.closed = true
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	s.writeMu.Lock()
	deadline := time.Now().Add(s.writeTimeout)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeReason),
	)
	s.writeMu.Unlock()

	if err := conn.Close(); err != nil {
		s.logger.Debug("websocket close failed", zap.Error(err))
	}

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("wait for read loop: %w", ctx.Err())
		}
	}
	s.logger.Info("websocket disconnected", zap.String("user_id", s.userID))
	return nil
}

func (s *Session) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	defer metrics.DecWSSessions()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			wasConnected := s.conn == conn && s.connected
			if s.conn == conn {
				s.connected = false
			}
			s.mu.Unlock()
			if wasConnected {
				s.dispatcher.emit(Event{Type: EventDisconnected, Err: err})
			}
			return
		}
		s.handleFrame(raw)
	}
}

type wsFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// handleFrame routes one inbound frame to event handlers. Every parseable
// frame emits EventMessage before its typed event.
func (s *Session) handleFrame(raw []byte) {
	var frame wsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.dispatcher.emit(Event{Type: EventError, Err: fmt.Errorf("parse websocket frame: %w", err), Raw: raw})
		return
	}
	metrics.ObserveWSEvent(frame.Type)
	s.dispatcher.emit(Event{Type: EventMessage, Raw: raw, Data: frame.Data})

	switch frame.Type {
	case "question":
		var q Question
		if err := json.Unmarshal(frame.Data, &q); err != nil {
			s.dispatcher.emit(Event{Type: EventError, Err: fmt.Errorf("parse question payload: %w", err), Raw: raw})
			return
		}
		s.mu.Lock()
		s.questionID = q.QuestionID
		s.mu.Unlock()
		s.dispatcher.emit(Event{Type: EventQuestion, Question: &q, Data: frame.Data, Raw: raw})
	case "result":
		s.dispatcher.emit(Event{Type: EventResult, Data: frame.Data, Raw: raw})
	case "complete":
		s.mu.Lock()
		s.questionID = ""
		s.mu.Unlock()
		s.dispatcher.emit(Event{Type: EventComplete, Raw: raw})
	case "error":
		s.dispatcher.emit(Event{Type: EventChatError, Err: errors.New(chatErrorText(frame.Data)), Data: frame.Data, Raw: raw})
	default:
		s.dispatcher.emit(Event{Type: EventUnknown, Data: frame.Data, Raw: raw})
	}
}

// chatErrorText extracts a human-readable message from an error frame. The
// server sends either a bare string or an object with a message field.
func chatErrorText(data json.RawMessage) string {
	var text string
	if err := json.Unmarshal(data, &text); err == nil && text != "" {
		return text
	}
	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Error != "" {
			return obj.Error
		}
	}
	if len(data) > 0 {
		return string(data)
	}
	return "unknown chat error"
}

func validateWSBaseURL(baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("parse websocket base URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("tabichan: websocket base URL must use ws or wss scheme, got %q", u.Scheme)
	}
	return nil
}
