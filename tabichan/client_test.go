package tabichan_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/podtech-ai/tabichan-go/tabichan"
	"github.com/podtech-ai/tabichan-go/tabichantest"
)

func newTestClient(t *testing.T, srv *tabichantest.Server, opts ...tabichan.Option) *tabichan.Client {
	t.Helper()
	opts = append([]tabichan.Option{tabichan.WithBaseURL(srv.URL())}, opts...)
	c, err := tabichan.New(srv.APIKey(), opts...)
	require.NoError(t, err)
	return c
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := tabichan.New("")
	require.ErrorContains(t, err, "api key is required")

	_, err = tabichan.New("key", tabichan.WithBaseURL("not-a-url"))
	require.ErrorContains(t, err, "invalid base URL")
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	c, err := tabichan.New("key")
	require.NoError(t, err)
	require.Equal(t, tabichan.DefaultBaseURL, c.BaseURL())
	require.Equal(t, tabichan.DefaultAlternativeBaseURL, c.AlternativeBaseURL())
}

func TestNewTrimsTrailingSlash(t *testing.T) {
	t.Parallel()

	c, err := tabichan.New("key", tabichan.WithBaseURL("https://example.com/v1/"))
	require.NoError(t, err)
	require.Equal(t, "https://example.com/v1", c.BaseURL())
}

func TestStartChat(t *testing.T) {
	t.Parallel()

	srv := tabichantest.New()
	defer srv.Close()
	c := newTestClient(t, srv)

	taskID, err := c.StartChat(context.Background(), tabichan.ChatRequest{
		UserQuery: "Plan a 2-day trip to Tokyo",
		UserID:    "user_1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, taskID)
	require.Equal(t, 1, srv.ChatCalls())

	body := srv.LastChatBody()
	require.Equal(t, "Plan a 2-day trip to Tokyo", body["user_query"])
	require.Equal(t, "user_1", body["user_id"])
	require.Equal(t, "japan", body["country"], "country defaults to japan")
	require.Equal(t, []any{}, body["history"], "nil history is sent as an empty list")
	require.Equal(t, map[string]any{}, body["additional_inputs"])
}

func TestStartChatWithHistoryAndInputs(t *testing.T) {
	t.Parallel()

	srv := tabichantest.New()
	defer srv.Close()
	c := newTestClient(t, srv)

	_, err := c.StartChat(context.Background(), tabichan.ChatRequest{
		UserQuery: "What about Kyoto?",
		UserID:    "user_1",
		Country:   tabichan.CountryFrance,
		History: []tabichan.ChatMessage{
			{Role: "user", Content: "Plan a trip"},
			{Role: "assistant", Content: "Sure, where to?"},
		},
		AdditionalInputs: map[string]any{"currency": "EUR"},
	})
	require.NoError(t, err)

	body := srv.LastChatBody()
	require.Equal(t, "france", body["country"])
	require.Len(t, body["history"], 2)
	require.Equal(t, map[string]any{"currency": "EUR"}, body["additional_inputs"])
}

func TestStartChatValidation(t *testing.T) {
	t.Parallel()

	srv := tabichantest.New()
	defer srv.Close()
	c := newTestClient(t, srv)

	_, err := c.StartChat(context.Background(), tabichan.ChatRequest{UserID: "user_1"})
	require.ErrorContains(t, err, "user query is required")

	_, err = c.StartChat(context.Background(), tabichan.ChatRequest{UserQuery: "hi"})
	require.ErrorContains(t, err, "user id is required")

	_, err = c.StartChat(context.Background(), tabichan.ChatRequest{
		UserQuery: "hi",
		UserID:    "user_1",
		Country:   "atlantis",
	})
	require.ErrorContains(t, err, "unsupported country")
	require.Zero(t, srv.ChatCalls())
}

func TestStartChatWrongAPIKey(t *testing.T) {
	t.Parallel()

	srv := tabichantest.New()
	defer srv.Close()

	c, err := tabichan.New("wrong-key", tabichan.WithBaseURL(srv.URL()))
	require.NoError(t, err)

	_, err = c.StartChat(context.Background(), tabichan.ChatRequest{UserQuery: "hi", UserID: "user_1"})
	var apiErr *tabichan.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	require.Equal(t, "unauthorized", apiErr.Message)
	require.NotEmpty(t, apiErr.RequestID)
}

func TestPollChat(t *testing.T) {
	t.Parallel()

	srv := tabichantest.New(tabichantest.WithPollsUntilDone(1))
	defer srv.Close()
	c := newTestClient(t, srv)

	taskID, err := c.StartChat(context.Background(), tabichan.ChatRequest{UserQuery: "hi", UserID: "user_1"})
	require.NoError(t, err)

	poll, err := c.PollChat(context.Background(), taskID)
	require.NoError(t, err)
	require.Equal(t, tabichan.StatusRunning, poll.Status)

	poll, err = c.PollChat(context.Background(), taskID)
	require.NoError(t, err)
	require.Equal(t, tabichan.StatusCompleted, poll.Status)
	require.JSONEq(t, `{"answer":"ok"}`, string(poll.Result))
}

func TestPollChatUnknownTask(t *testing.T) {
	t.Parallel()

	srv := tabichantest.New()
	defer srv.Close()
	c := newTestClient(t, srv)

	_, err := c.PollChat(context.Background(), "no-such-task")
	var apiErr *tabichan.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestWaitForChat(t *testing.T) {
	t.Parallel()

	srv := tabichantest.New(
		tabichantest.WithPollsUntilDone(2),
		tabichantest.WithResult(json.RawMessage(`{"itinerary":"day 1: Asakusa"}`)),
	)
	defer srv.Close()
	c := newTestClient(t, srv)

	taskID, err := c.StartChat(context.Background(), tabichan.ChatRequest{UserQuery: "hi", UserID: "user_1"})
	require.NoError(t, err)

	result, err := c.WaitForChat(context.Background(), taskID, tabichan.WaitInterval(time.Millisecond))
	require.NoError(t, err)
	require.JSONEq(t, `{"itinerary":"day 1: Asakusa"}`, string(result))
	require.Equal(t, 3, srv.PollCalls())
}

func TestWaitForChatFailedTask(t *testing.T) {
	t.Parallel()

	srv := tabichantest.New(tabichantest.WithFailure("generation blew up"))
	defer srv.Close()
	c := newTestClient(t, srv)

	taskID, err := c.StartChat(context.Background(), tabichan.ChatRequest{UserQuery: "hi", UserID: "user_1"})
	require.NoError(t, err)

	_, err = c.WaitForChat(context.Background(), taskID, tabichan.WaitInterval(time.Millisecond))
	var chatErr *tabichan.ChatError
	require.ErrorAs(t, err, &chatErr)
	require.Equal(t, taskID, chatErr.TaskID)
	require.Equal(t, "generation blew up", chatErr.Reason)
}

func TestWaitForChatUnexpectedStatus(t *testing.T) {
	t.Parallel()

	srv := tabichantest.New(tabichantest.WithPollStatus("paused"))
	defer srv.Close()
	c := newTestClient(t, srv)

	taskID, err := c.StartChat(context.Background(), tabichan.ChatRequest{UserQuery: "hi", UserID: "user_1"})
	require.NoError(t, err)

	_, err = c.WaitForChat(context.Background(), taskID, tabichan.WaitInterval(time.Millisecond))
	var statusErr *tabichan.UnexpectedStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, "paused", statusErr.Status)
}

func TestWaitForChatTimesOut(t *testing.T) {
	t.Parallel()

	srv := tabichantest.New(tabichantest.WithPollsUntilDone(100))
	defer srv.Close()
	c := newTestClient(t, srv)

	taskID, err := c.StartChat(context.Background(), tabichan.ChatRequest{UserQuery: "hi", UserID: "user_1"})
	require.NoError(t, err)

	_, err = c.WaitForChat(context.Background(), taskID,
		tabichan.WaitInterval(time.Millisecond),
		tabichan.WaitMaxAttempts(3),
	)
	require.ErrorIs(t, err, tabichan.ErrWaitTimeout)
	require.Equal(t, 3, srv.PollCalls())
}

func TestGetImage(t *testing.T) {
	t.Parallel()

	payload := base64.StdEncoding.EncodeToString([]byte("fake png bytes"))
	srv := tabichantest.New(tabichantest.WithImage("img_42", payload))
	defer srv.Close()
	c := newTestClient(t, srv)

	encoded, err := c.GetImage(context.Background(), "img_42", tabichan.CountryJapan)
	require.NoError(t, err)
	require.Equal(t, payload, encoded)

	raw, err := c.ImageBytes(context.Background(), "img_42", tabichan.CountryJapan)
	require.NoError(t, err)
	require.Equal(t, []byte("fake png bytes"), raw)
}

func TestGetImageNotFound(t *testing.T) {
	t.Parallel()

	srv := tabichantest.New()
	defer srv.Close()
	c := newTestClient(t, srv)

	_, err := c.GetImage(context.Background(), "missing", tabichan.CountryJapan)
	var apiErr *tabichan.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestGetImageValidation(t *testing.T) {
	t.Parallel()

	srv := tabichantest.New()
	defer srv.Close()
	c := newTestClient(t, srv)

	_, err := c.GetImage(context.Background(), "", tabichan.CountryJapan)
	require.ErrorContains(t, err, "image id is required")

	_, err = c.GetImage(context.Background(), "img_1", "mars")
	require.ErrorContains(t, err, "unsupported country")
}

func TestRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"task_id":"t-1"}`))
	}))
	defer srv.Close()

	c, err := tabichan.New("key",
		tabichan.WithBaseURL(srv.URL),
		tabichan.WithRetry(2, time.Millisecond, 5*time.Millisecond),
	)
	require.NoError(t, err)

	taskID, err := c.StartChat(context.Background(), tabichan.ChatRequest{UserQuery: "hi", UserID: "user_1"})
	require.NoError(t, err)
	require.Equal(t, "t-1", taskID)
	require.Equal(t, int32(3), hits.Load())
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer srv.Close()

	c, err := tabichan.New("key",
		tabichan.WithBaseURL(srv.URL),
		tabichan.WithRetry(3, time.Millisecond, 5*time.Millisecond),
	)
	require.NoError(t, err)

	_, err = c.StartChat(context.Background(), tabichan.ChatRequest{UserQuery: "hi", UserID: "user_1"})
	var apiErr *tabichan.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	require.Equal(t, int32(1), hits.Load())
}

func TestRequestHeaders(t *testing.T) {
	t.Parallel()

	var gotKey, gotRequestID, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotRequestID = r.Header.Get("X-Request-ID")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"task_id":"t-1"}`))
	}))
	defer srv.Close()

	c, err := tabichan.New("secret-key", tabichan.WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.StartChat(context.Background(), tabichan.ChatRequest{UserQuery: "hi", UserID: "user_1"})
	require.NoError(t, err)
	require.Equal(t, "secret-key", gotKey)
	require.NotEmpty(t, gotRequestID)
	require.Equal(t, "tabichan-go/"+tabichan.Version, gotUA)
}
