package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edgeflare/pgfan/pkg/cdc"
	"github.com/edgeflare/pgfan/pkg/fanout"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testEvent(seq uint64, text string) fanout.Event {
	return fanout.Event{
		Sequence: seq,
		Payload: cdc.NewEventBuilder().
			WithOperation(cdc.OpCreate).
			WithAfter(map[string]interface{}{"text": text}).
			Build(),
		ReceivedAt: time.Now(),
	}
}

func TestSSEWritesFrames(t *testing.T) {
	rec := httptest.NewRecorder()

	sse, err := NewSSE(rec)
	require.NoError(t, err)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	require.NoError(t, sse.Send(context.Background(), testEvent(7, "hello")))

	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, "id: 7\ndata: "))
	require.True(t, strings.HasSuffix(body, "\n\n"))

	// the data field is the change payload itself: op and after sit at the
	// top level, which is what the demo page script consumes
	var payload cdc.Payload
	data := strings.TrimSpace(strings.TrimPrefix(body, "id: 7\ndata: "))
	require.NoError(t, json.Unmarshal([]byte(data), &payload))
	require.Equal(t, cdc.OpCreate, payload.Op)
	require.Equal(t, "hello", payload.After.(map[string]interface{})["text"])
}

func TestWebhookDelivers(t *testing.T) {
	var got atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event fanout.Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&event))
		require.Equal(t, uint64(3), event.Sequence)
		got.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh, err := NewWebhook(WebhookConfig{
		Endpoints: []WebhookEndpoint{{URL: srv.URL}},
	}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, wh.Send(context.Background(), testEvent(3, "hello")))
	require.Equal(t, int64(1), got.Load())
}

func TestWebhookReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh, err := NewWebhook(WebhookConfig{
		Endpoints: []WebhookEndpoint{{URL: srv.URL}},
		Retry:     WebhookRetry{MaxRetries: 1, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond},
	}, zap.NewNop())
	require.NoError(t, err)

	require.Error(t, wh.Send(context.Background(), testEvent(1, "hello")))
}

// A canceled delivery loop must not wait out the retry budget of an endpoint
// that keeps failing.
func TestWebhookStopsRetryingOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh, err := NewWebhook(WebhookConfig{
		Endpoints: []WebhookEndpoint{{URL: srv.URL}},
		Retry:     WebhookRetry{MaxRetries: 100, InitialWait: time.Second, MaxWait: 10 * time.Second},
	}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	require.Error(t, wh.Send(ctx, testEvent(1, "hello")))
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestWebhookRequiresEndpoints(t *testing.T) {
	_, err := NewWebhook(WebhookConfig{}, zap.NewNop())
	require.Error(t, err)
}

func TestDebugNeverFails(t *testing.T) {
	d := NewDebug(zap.NewNop())
	require.NoError(t, d.Send(context.Background(), testEvent(1, "hello")))
	require.NoError(t, d.Close())
}

func TestDebugLogsChangeFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	d := NewDebug(zap.New(core))

	require.NoError(t, d.Send(context.Background(), testEvent(4, "hello")))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, uint64(4), fields["sequence"])
	require.Equal(t, "c", fields["op"])
	require.Equal(t, "hello", fields["after"].(map[string]interface{})["text"])
}
