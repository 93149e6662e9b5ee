package metrics

import (
	"context"
	"sync"
	"testing"
	"time"
)

// StartPrometheusServer must return without blocking and must register its
// server goroutine on the caller's wait group before returning, so callers
// can wg.Wait immediately after calling it.
func TestStartPrometheusServerReturnsAndStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	StartPrometheusServer(ctx, &wg, &PromServerOpts{Addr: "127.0.0.1:0"})

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not shut down after cancel")
	}
}
