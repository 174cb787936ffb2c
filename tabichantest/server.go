// Package tabichantest provides an in-process fake of the Tabichan API for
// tests. It serves the chat, poll, and image endpoints plus a scriptable
// WebSocket session, authenticated with the same x-api-key header as the
// hosted service.
package tabichantest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultAPIKey authenticates requests unless overridden with WithAPIKey.
const DefaultAPIKey = "test-api-key"

// Server is a fake Tabichan API bound to an httptest listener.
type Server struct {
	apiKey   string
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu             sync.Mutex
	tasks          map[string]*task
	images         map[string]string
	pollsUntilDone int
	result         json.RawMessage
	failMessage    string
	pollStatus     string
	question       string
	chatCalls      int
	pollCalls      int
	lastChatBody   map[string]any
}

type task struct {
	remaining int
}

// Option customizes the fake server.
type Option func(*Server)

// WithAPIKey sets the accepted API key.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithPollsUntilDone makes tasks report running for n polls before
// completing. The default completes on the first poll.
func WithPollsUntilDone(n int) Option {
	return func(s *Server) { s.pollsUntilDone = n }
}

// WithResult sets the completed-task result payload.
func WithResult(result json.RawMessage) Option {
	return func(s *Server) { s.result = result }
}

// WithFailure makes every task finish in the failed state with msg.
func WithFailure(msg string) Option {
	return func(s *Server) { s.failMessage = msg }
}

// WithPollStatus forces the poll endpoint to always report status, for
// exercising unknown-status handling.
func WithPollStatus(status string) Option {
	return func(s *Server) { s.pollStatus = status }
}

// WithImage registers a base64 image payload under id.
func WithImage(id, base64Payload string) Option {
	return func(s *Server) { s.images[id] = base64Payload }
}

// WithQuestion makes the WebSocket session ask one question and wait for the
// response before delivering the result.
func WithQuestion(text string) Option {
	return func(s *Server) { s.question = text }
}

// New starts a fake server. Callers must Close it.
func New(opts ...Option) *Server {
	s := &Server{
		apiKey: DefaultAPIKey,
		tasks:  make(map[string]*task),
		images: make(map[string]string),
		result: json.RawMessage(`{"answer":"ok"}`),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Use(s.apiKeyMiddleware)
		r.Post("/chat", s.handleChat)
		r.Get("/chat/poll", s.handlePoll)
		r.Get("/image", s.handleImage)
		r.Get("/ws", s.handleWS)
	})
	s.srv = httptest.NewServer(r)
	return s
}

// URL returns the HTTP base URL including the /v1 prefix.
func (s *Server) URL() string {
	return s.srv.URL + "/v1"
}

// WSURL returns the WebSocket base URL including the /v1 prefix.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/v1"
}

// APIKey returns the accepted API key.
func (s *Server) APIKey() string {
	return s.apiKey
}

// ChatCalls reports how many chat submissions the server received.
func (s *Server) ChatCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatCalls
}

// PollCalls reports how many poll requests the server received.
func (s *Server) PollCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollCalls
}

// LastChatBody returns the most recent chat submission body.
func (s *Server) LastChatBody() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastChatBody
}

// Close shuts the listener down.
func (s *Server) Close() {
	s.srv.Close()
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != s.apiKey {
			writeError(w, http.StatusForbidden, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	query, _ := body["user_query"].(string)
	userID, _ := body["user_id"].(string)
	if query == "" || userID == "" {
		writeError(w, http.StatusBadRequest, "user_query and user_id are required")
		return
	}

	taskID := uuid.NewString()
	s.mu.Lock()
	s.chatCalls++
	s.lastChatBody = body
	s.tasks[taskID] = &task{remaining: s.pollsUntilDone}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")

	s.mu.Lock()
	s.pollCalls++
	t, ok := s.tasks[taskID]
	status := s.pollStatus
	failMsg := s.failMessage
	result := s.result
	var running bool
	if ok && t.remaining > 0 {
		t.remaining--
		running = true
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	switch {
	case status != "":
		writeJSON(w, http.StatusOK, map[string]any{"status": status})
	case running:
		writeJSON(w, http.StatusOK, map[string]any{"status": "running"})
	case failMsg != "":
		writeJSON(w, http.StatusOK, map[string]any{"status": "failed", "error": failMsg})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": "completed", "result": result})
	}
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	s.mu.Lock()
	payload, ok := s.images[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"base64": payload})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		frameType, _ := frame["type"].(string)
		if frameType != "chat_request" {
			continue
		}
		if !s.runChatScript(conn) {
			return
		}
	}
}

// runChatScript plays one server-side chat exchange: optional question with
// a blocking wait for the response, then result and complete frames.
func (s *Server) runChatScript(conn *websocket.Conn) bool {
	s.mu.Lock()
	question := s.question
	result := s.result
	s.mu.Unlock()

	if question != "" {
		q := map[string]any{
			"type": "question",
			"data": map[string]string{"question_id": "q-1", "text": question},
		}
		if err := conn.WriteJSON(q); err != nil {
			return false
		}
		for {
			var reply map[string]any
			if err := conn.ReadJSON(&reply); err != nil {
				return false
			}
			if t, _ := reply["type"].(string); t == "response" {
				break
			}
		}
	}

	if err := conn.WriteJSON(map[string]any{"type": "result", "data": result}); err != nil {
		return false
	}
	if err := conn.WriteJSON(map[string]any{"type": "complete"}); err != nil {
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
