package source

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edgeflare/pgfan/pkg/cdc"
	"github.com/edgeflare/pgfan/pkg/fanout"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSource replays scripted feeds; each call to Events consumes the next
// script entry.
type fakeSource struct {
	feeds    chan []cdc.Event
	failures int32
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Events(ctx context.Context) (<-chan cdc.Event, error) {
	if atomic.LoadInt32(&f.failures) > 0 {
		atomic.AddInt32(&f.failures, -1)
		return nil, errors.New("transient connect failure")
	}

	select {
	case feed, ok := <-f.feeds:
		if !ok {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		out := make(chan cdc.Event, len(feed))
		for _, e := range feed {
			out <- e
		}
		close(out)
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func changeEvent(text string) cdc.Event {
	return cdc.NewEventBuilder().
		WithOperation(cdc.OpCreate).
		WithAfter(map[string]interface{}{"text": text}).
		Build()
}

func TestRunnerAppendsDecodedEvents(t *testing.T) {
	log := fanout.NewAppendLog(10, zap.NewNop())
	src := &fakeSource{feeds: make(chan []cdc.Event, 1)}
	src.feeds <- []cdc.Event{changeEvent("a"), changeEvent("b")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, NewRunner(log, zap.NewNop()).Run(ctx, src))
	}()

	require.Eventually(t, func() bool { return log.TailSequence() == 2 },
		2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop on cancel")
	}
}

func TestRunnerSkipsZeroEvents(t *testing.T) {
	log := fanout.NewAppendLog(10, zap.NewNop())
	src := &fakeSource{feeds: make(chan []cdc.Event, 1)}
	src.feeds <- []cdc.Event{changeEvent("a"), {}, changeEvent("b")}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewRunner(log, zap.NewNop()).Run(ctx, src)

	require.Eventually(t, func() bool { return log.TailSequence() == 2 },
		2*time.Second, 5*time.Millisecond)

	events, _ := log.ReadSince(0)
	for _, e := range events {
		require.False(t, e.Payload.IsZero())
	}
}

// A closed feed means the transport dropped; the runner must reconnect and
// keep appending, surviving connect errors along the way.
func TestRunnerReconnectsAfterFeedClose(t *testing.T) {
	log := fanout.NewAppendLog(10, zap.NewNop())
	src := &fakeSource{feeds: make(chan []cdc.Event, 2), failures: 1}
	src.feeds <- []cdc.Event{changeEvent("a")}
	src.feeds <- []cdc.Event{changeEvent("b")}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewRunner(log, zap.NewNop()).Run(ctx, src)

	require.Eventually(t, func() bool { return log.TailSequence() == 2 },
		5*time.Second, 10*time.Millisecond)
}

func TestNewUnsupportedConnector(t *testing.T) {
	_, err := New("carrier-pigeon", nil)
	require.Error(t, err)
}

func TestNewDecodesConfig(t *testing.T) {
	src, err := New(ConnectorPostgres, map[string]any{
		"connString":  "postgres://localhost/db?replication=database",
		"publication": "pub",
		"tables":      []string{"messages"},
	})
	require.NoError(t, err)
	require.Equal(t, ConnectorPostgres, src.Name())

	src, err = New(ConnectorNATS, map[string]any{
		"subjectPrefix": "changes",
	})
	require.NoError(t, err)
	require.Equal(t, ConnectorNATS, src.Name())
}
