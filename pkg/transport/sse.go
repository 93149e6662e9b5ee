package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/edgeflare/pgfan/pkg/fanout"
)

// SSE streams events to one client over a long-lived server-sent-events
// response. The event sequence becomes the SSE id field, so reconnecting
// clients can report their position via Last-Event-ID.
type SSE struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSE prepares w for event streaming. Returns an error if the underlying
// writer cannot flush, which streaming requires.
func NewSSE(w http.ResponseWriter) (*SSE, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSE{w: w, flusher: flusher}, nil
}

func (s *SSE) Name() string {
	return "sse"
}

// Send writes one event frame carrying the change payload as the data field,
// so clients read op/before/after at the top level. A write error means the
// client went away.
func (s *SSE) Send(_ context.Context, event fanout.Event) error {
	data, err := json.Marshal(event.Payload.Payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(s.w, "id: %d\ndata: %s\n\n", event.Sequence, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// Close is a no-op; the HTTP server owns the connection.
func (s *SSE) Close() error {
	return nil
}
