package fanout

import (
	"sort"
	"sync"
	"time"

	"github.com/edgeflare/pgfan/pkg/cdc"
	"github.com/edgeflare/pgfan/pkg/metrics"
	"go.uber.org/zap"
)

const defaultCapacity = 1024

// AppendLog is an in-memory append-only buffer of accepted change events,
// bounded by a retention capacity. It supports one concurrent writer and many
// concurrent readers; readers always observe fully appended events.
//
// Append must be called from a single producer context. Concurrent writers
// are not supported and must be serialized by the caller.
type AppendLog struct {
	logger   *zap.Logger
	wake     chan struct{}
	events   []Event
	capacity int
	tail     uint64
	mu       sync.RWMutex
}

// NewAppendLog returns a log retaining at most capacity events.
func NewAppendLog(capacity int, logger *zap.Logger) *AppendLog {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if logger == nil {
		logger = zap.L()
	}
	return &AppendLog{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
		wake:     make(chan struct{}),
		logger:   logger,
	}
}

// Append stores payload under the next sequence number, evicting the oldest
// entry if the retention capacity is exceeded, and returns the assigned
// sequence.
func (l *AppendLog) Append(payload cdc.Event) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.tail + 1
	if n := len(l.events); n > 0 && seq <= l.events[n-1].Sequence {
		// Cannot happen under single-writer discipline. Ordering guarantees
		// are unrecoverable past this point, so halt ingestion.
		l.logger.Fatal("append log sequence regression",
			zap.Uint64("assigned", seq),
			zap.Uint64("last", l.events[n-1].Sequence))
	}
	l.tail = seq

	if len(l.events) >= l.capacity {
		evict := len(l.events) - l.capacity + 1
		l.events = l.events[:copy(l.events, l.events[evict:])]
		metrics.EvictedEvents.Add(float64(evict))
	}

	l.events = append(l.events, Event{
		Sequence:   seq,
		Payload:    payload,
		ReceivedAt: time.Now(),
	})
	metrics.AppendedEvents.Inc()

	// Wake parked delivery loops. Each Wake() call hands out the current
	// channel, so closing it here reaches every waiter exactly once.
	close(l.wake)
	l.wake = make(chan struct{})

	return seq
}

// ReadSince returns copies of all retained events with sequence strictly
// greater than cursor, in ascending order, along with the oldest retained
// sequence (0 when the log is empty). A cursor older than the retention
// window is not an error; the caller sees everything still retained and can
// compare cursor against oldest to detect the gap.
func (l *AppendLog) ReadSince(cursor uint64) ([]Event, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.events) == 0 {
		return nil, 0
	}

	oldest := l.events[0].Sequence
	i := sort.Search(len(l.events), func(i int) bool {
		return l.events[i].Sequence > cursor
	})
	if i == len(l.events) {
		return nil, oldest
	}

	out := make([]Event, len(l.events)-i)
	copy(out, l.events[i:])
	return out, oldest
}

// TailSequence returns the last assigned sequence number, 0 before any append.
func (l *AppendLog) TailSequence() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tail
}

// Len returns the number of currently retained events.
func (l *AppendLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Wake returns a channel closed on the next append. Callers must re-fetch the
// channel after each wakeup.
func (l *AppendLog) Wake() <-chan struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.wake
}
