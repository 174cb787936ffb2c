package tabichan

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// EventType identifies a session lifecycle or chat milestone.
type EventType string

// Events emitted by a Session.
const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventError        EventType = "error"
	EventAuthError    EventType = "auth_error"
	EventMessage      EventType = "message"
	EventQuestion     EventType = "question"
	EventResult       EventType = "result"
	EventComplete     EventType = "complete"
	EventChatError    EventType = "chat_error"
	EventUnknown      EventType = "unknown_message"
)

// Question is the payload of an EventQuestion.
type Question struct {
	QuestionID string `json:"question_id"`
	Text       string `json:"text"`
}

// Event is delivered to registered handlers. Which fields are set depends on
// Type: Question for EventQuestion, Err for error events, Data for payload
// events, Raw for every frame-derived event.
type Event struct {
	Type     EventType
	Data     json.RawMessage
	Raw      json.RawMessage
	Question *Question
	Err      error
}

// Handler receives session events. Handlers run on the session's read
// goroutine and should not block.
type Handler func(Event)

// Subscription identifies one registered handler so it can be removed.
type Subscription struct {
	event EventType
	id    int
}

type registration struct {
	id int
	fn Handler
}

// dispatcher is an ordered, panic-safe handler registry. Registration order
// is dispatch order, matching handler semantics of the hosted service's
// other client libraries.
type dispatcher struct {
	mu       sync.Mutex
	nextID   int
	handlers map[EventType][]registration
	logger   *zap.Logger
}

func newDispatcher(logger *zap.Logger) *dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &dispatcher{
		handlers: make(map[EventType][]registration),
		logger:   logger,
	}
}

func (d *dispatcher) on(event EventType, fn Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.handlers[event] = append(d.handlers[event], registration{id: d.nextID, fn: fn})
	return Subscription{event: event, id: d.nextID}
}

func (d *dispatcher) off(sub Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	regs := d.handlers[sub.event]
	for i, reg := range regs {
		if reg.id == sub.id {
			d.handlers[sub.event] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

func (d *dispatcher) offAll(event EventType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, event)
}

func (d *dispatcher) emit(evt Event) {
	d.mu.Lock()
	regs := append([]registration(nil), d.handlers[evt.Type]...)
	d.mu.Unlock()
	for _, reg := range regs {
		d.dispatch(reg.fn, evt)
	}
}

func (d *dispatcher) dispatch(fn Handler, evt Event) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("event handler panicked",
				zap.String("event", string(evt.Type)),
				zap.Any("panic", rec),
			)
		}
	}()
	fn(evt)
}
