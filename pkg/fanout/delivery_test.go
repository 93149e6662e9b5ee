package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// captureTransport records delivered events; optionally fails every send.
type captureTransport struct {
	mu     sync.Mutex
	events []Event
	failed bool
	closed bool
}

func (c *captureTransport) Name() string { return "capture" }

func (c *captureTransport) Send(_ context.Context, e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return errors.New("connection gone")
	}
	c.events = append(c.events, e)
	return nil
}

func (c *captureTransport) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *captureTransport) received() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sequences(c.events)
}

func TestDeliveryLoopPushesInOrder(t *testing.T) {
	log := NewAppendLog(100, zap.NewNop())
	m := NewManager(log, zap.NewNop())
	sub := m.Register(CursorTail)
	transport := &captureTransport{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewDeliveryLoop(m, sub, transport, 10*time.Millisecond, zap.NewNop()).Run(ctx)
	}()

	for i := 1; i <= 5; i++ {
		log.Append(insertEvent(fmt.Sprintf("m%d", i)))
	}

	require.Eventually(t, func() bool {
		return len(transport.received()) == 5
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []uint64{1, 2, 3, 4, 5}, transport.received())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on cancel")
	}
	require.Equal(t, 0, m.Len())
	require.True(t, transport.closed)
}

func TestDeliveryLoopDeregistersOnTransportFailure(t *testing.T) {
	log := NewAppendLog(100, zap.NewNop())
	m := NewManager(log, zap.NewNop())
	sub := m.Register(CursorTail)
	transport := &captureTransport{failed: true}

	log.Append(insertEvent("m1"))

	err := NewDeliveryLoop(m, sub, transport, 10*time.Millisecond, zap.NewNop()).Run(context.Background())
	require.Error(t, err)
	require.Equal(t, 0, m.Len())
}

func TestDeliveryLoopDeregistersOnCancel(t *testing.T) {
	log := NewAppendLog(100, zap.NewNop())
	m := NewManager(log, zap.NewNop())
	sub := m.Register(CursorTail)
	transport := &captureTransport{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewDeliveryLoop(m, sub, transport, 10*time.Millisecond, zap.NewNop()).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, m.Len())
}

// Two loops over the same log; blocking one transport must not stall the
// other subscriber's deliveries.
func TestDeliveryLoopsAreIndependent(t *testing.T) {
	log := NewAppendLog(100, zap.NewNop())
	m := NewManager(log, zap.NewNop())

	stalled := m.Register(CursorTail)
	healthy := m.Register(CursorTail)

	block := make(chan struct{})
	stalledTransport := &blockingTransport{block: block}
	healthyTransport := &captureTransport{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go NewDeliveryLoop(m, stalled, stalledTransport, 10*time.Millisecond, zap.NewNop()).Run(ctx)
	go NewDeliveryLoop(m, healthy, healthyTransport, 10*time.Millisecond, zap.NewNop()).Run(ctx)

	for i := 1; i <= 5; i++ {
		log.Append(insertEvent(fmt.Sprintf("m%d", i)))
	}

	require.Eventually(t, func() bool {
		return len(healthyTransport.received()) == 5
	}, 2*time.Second, 5*time.Millisecond)

	close(block)
}

type blockingTransport struct {
	block chan struct{}
}

func (b *blockingTransport) Name() string { return "blocking" }

func (b *blockingTransport) Send(context.Context, Event) error {
	<-b.block
	return nil
}

func (b *blockingTransport) Close() error { return nil }
