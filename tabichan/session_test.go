package tabichan_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/podtech-ai/tabichan-go/tabichan"
	"github.com/podtech-ai/tabichan-go/tabichantest"
)

func newWSSession(t *testing.T, srv *tabichantest.Server) *tabichan.Session {
	t.Helper()
	sess, err := tabichan.NewSession("user_1", srv.APIKey(),
		tabichan.SessionBaseURL(srv.WSURL()),
	)
	require.NoError(t, err)
	return sess
}

// eventRecorder collects events so assertions can run after the read loop
// has delivered them.
type eventRecorder struct {
	mu     sync.Mutex
	events []tabichan.Event
}

func (r *eventRecorder) record(evt tabichan.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) types() []tabichan.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]tabichan.EventType, len(r.events))
	for i, evt := range r.events {
		types[i] = evt.Type
	}
	return types
}

func (r *eventRecorder) has(want tabichan.EventType) bool {
	for _, typ := range r.types() {
		if typ == want {
			return true
		}
	}
	return false
}

func TestSessionConnectAndClose(t *testing.T) {
	t.Parallel()

	srv := tabichantest.New()
	defer srv.Close()
	sess := newWSSession(t, srv)

	rec := &eventRecorder{}
	sess.On(tabichan.EventConnected, rec.record)

	require.NoError(t, sess.Connect(context.Background()))
	require.True(t, sess.IsConnected())
	require.Equal(t, tabichan.StateConnected, sess.State())
	require.True(t, rec.has(tabichan.EventConnected))

	require.ErrorIs(t, sess.Connect(context.Background()), tabichan.ErrAlreadyConnected)

	require.NoError(t, sess.Close(context.Background()))
	require.False(t, sess.IsConnected())
	require.Equal(t, tabichan.StateClosed, sess.State())

	// Close is idempotent.
	require.NoError(t, sess.Close(context.Background()))
}

func TestSessionConcurrentConnect(t *testing.T) {
	t.Parallel()

	srv := tabichantest.New()
	defer srv.Close()
	sess := newWSSession(t, srv)

	const attempts = 4
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- sess.Connect(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	var connected, rejected int
	for err := range errs {
		switch {
		case err == nil:
			connected++
		default:
			require.ErrorIs(t, err, tabichan.ErrAlreadyConnected)
			rejected++
		}
	}
	require.Equal(t, 1, connected, "exactly one Connect may win")
	require.Equal(t, attempts-1, rejected)

	require.NoError(t, sess.Close(context.Background()))
}

func TestSessionAuthRejected(t *testing.T) {
	t.Parallel()

	srv := tabichantest.New()
	defer srv.Close()

	sess, err := tabichan.NewSession("user_1", "wrong-key",
		tabichan.SessionBaseURL(srv.WSURL()),
	)
	require.NoError(t, err)

	rec := &eventRecorder{}
	sess.On(tabichan.EventAuthError, rec.record)

	err = sess.Connect(context.Background())
	var apiErr *tabichan.APIError
	require.ErrorAs(t, err, &apiErr)
	require.True(t, rec.has(tabichan.EventAuthError))
	require.False(t, sess.IsConnected())
}

func TestSessionChatRoundTrip(t *testing.T) {
	t.Parallel()

	srv := tabichantest.New()
	defer srv.Close()
	sess := newWSSession(t, srv)

	rec := &eventRecorder{}
	sess.On(tabichan.EventResult, rec.record)

	done := make(chan struct{})
	sess.On(tabichan.EventComplete, func(tabichan.Event) { close(done) })

	require.NoError(t, sess.Connect(context.Background()))
	defer sess.Close(context.Background())

	require.NoError(t, sess.StartChat(context.Background(), "Plan a trip to Tokyo", nil, nil))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("chat did not complete")
	}

	require.True(t, rec.has(tabichan.EventResult))
	require.False(t, sess.HasActiveQuestion())
}

func TestSessionQuestionAndResponse(t *testing.T) {
	t.Parallel()

	srv := tabichantest.New(tabichantest.WithQuestion("How many days?"))
	defer srv.Close()
	sess := newWSSession(t, srv)

	questions := make(chan *tabichan.Question, 1)
	sess.On(tabichan.EventQuestion, func(evt tabichan.Event) {
		questions <- evt.Question
	})
	done := make(chan struct{})
	sess.On(tabichan.EventComplete, func(tabichan.Event) { close(done) })

	require.NoError(t, sess.Connect(context.Background()))
	defer sess.Close(context.Background())

	require.NoError(t, sess.StartChat(context.Background(), "Plan a trip", nil, map[string]any{"budget": "low"}))

	var q *tabichan.Question
	select {
	case q = <-questions:
	case <-time.After(5 * time.Second):
		t.Fatal("no question received")
	}
	require.Equal(t, "q-1", q.QuestionID)
	require.Equal(t, "How many days?", q.Text)
	require.True(t, sess.HasActiveQuestion())

	require.NoError(t, sess.SendResponse(context.Background(), "3 days"))
	require.False(t, sess.HasActiveQuestion())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("chat did not complete after answering")
	}
}

func TestSessionEmitsMessageForEveryFrame(t *testing.T) {
	t.Parallel()

	srv := tabichantest.New()
	defer srv.Close()
	sess := newWSSession(t, srv)

	rec := &eventRecorder{}
	sess.On(tabichan.EventMessage, rec.record)
	done := make(chan struct{})
	sess.On(tabichan.EventComplete, func(tabichan.Event) { close(done) })

	require.NoError(t, sess.Connect(context.Background()))
	defer sess.Close(context.Background())

	require.NoError(t, sess.StartChat(context.Background(), "hi", nil, nil))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("chat did not complete")
	}

	// result and complete frames both pass through EventMessage.
	require.GreaterOrEqual(t, len(rec.types()), 2)
}

func TestSessionOffStopsDelivery(t *testing.T) {
	t.Parallel()

	srv := tabichantest.New()
	defer srv.Close()
	sess := newWSSession(t, srv)

	rec := &eventRecorder{}
	sub := sess.On(tabichan.EventConnected, rec.record)
	sess.Off(sub)

	require.NoError(t, sess.Connect(context.Background()))
	defer sess.Close(context.Background())

	require.Empty(t, rec.types())
}
