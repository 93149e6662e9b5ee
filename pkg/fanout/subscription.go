package fanout

import (
	"sync"
	"time"

	"github.com/edgeflare/pgfan/pkg/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// CursorPolicy selects the snapshot point for a newly registered subscriber.
type CursorPolicy string

const (
	// CursorTail starts delivery at the log's current tail, so the
	// subscriber only sees events appended after registration.
	CursorTail CursorPolicy = "tail"
	// CursorBegin replays everything currently retained before following
	// the live stream.
	CursorBegin CursorPolicy = "begin"
)

// Subscriber is one connected downstream consumer. Its cursor is the last
// sequence already delivered, and is read and advanced only by the
// subscriber's own delivery loop.
type Subscriber struct {
	ConnectedAt time.Time
	ID          string
	cursor      uint64
}

// Cursor returns the last sequence delivered to this subscriber.
func (s *Subscriber) Cursor() uint64 {
	return s.cursor
}

// Batch is the result of one poll cycle.
type Batch struct {
	// Events past the subscriber's cursor, ascending, possibly empty.
	Events []Event
	// Missed counts events evicted from the log before this subscriber
	// read them. Zero unless the cursor fell outside the retention window.
	Missed uint64
}

// Manager tracks the read position of every active subscriber against a
// shared append log.
type Manager struct {
	log         *AppendLog
	logger      *zap.Logger
	subscribers map[string]*Subscriber
	mu          sync.RWMutex
}

// NewManager returns a Manager serving subscriptions over log.
func NewManager(log *AppendLog, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.L()
	}
	return &Manager{
		log:         log,
		subscribers: map[string]*Subscriber{},
		logger:      logger,
	}
}

// Register creates a new subscriber whose starting cursor is chosen by
// policy.
func (m *Manager) Register(policy CursorPolicy) *Subscriber {
	var cursor uint64
	if policy != CursorBegin {
		cursor = m.log.TailSequence()
	}
	return m.RegisterAt(cursor)
}

// RegisterAt creates a new subscriber starting after the given sequence.
func (m *Manager) RegisterAt(cursor uint64) *Subscriber {
	sub := &Subscriber{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now(),
		cursor:      cursor,
	}

	m.mu.Lock()
	m.subscribers[sub.ID] = sub
	m.mu.Unlock()

	metrics.ActiveSubscribers.Inc()
	m.logger.Debug("subscriber registered",
		zap.String("id", sub.ID),
		zap.Uint64("cursor", cursor))
	return sub
}

// Poll returns all events newer than sub's cursor and advances the cursor
// past them, so a subsequent poll never redelivers an event. Must only be
// called by the goroutine owning sub.
func (m *Manager) Poll(sub *Subscriber) Batch {
	timer := prometheus.NewTimer(metrics.PollDuration)
	defer timer.ObserveDuration()

	events, oldest := m.log.ReadSince(sub.cursor)

	var missed uint64
	if oldest > 0 && sub.cursor+1 < oldest {
		missed = oldest - sub.cursor - 1
	}

	if len(events) > 0 {
		sub.cursor = events[len(events)-1].Sequence
	}

	return Batch{Events: events, Missed: missed}
}

// Deregister removes sub. Safe to call more than once, and on subscribers
// the manager never knew about.
func (m *Manager) Deregister(sub *Subscriber) {
	if sub == nil {
		return
	}

	m.mu.Lock()
	_, ok := m.subscribers[sub.ID]
	if ok {
		delete(m.subscribers, sub.ID)
	}
	m.mu.Unlock()

	if ok {
		metrics.ActiveSubscribers.Dec()
		m.logger.Debug("subscriber deregistered", zap.String("id", sub.ID))
	}
}

// Len returns the number of registered subscribers.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

// Wake exposes the log's wake channel so delivery loops can park until the
// next append.
func (m *Manager) Wake() <-chan struct{} {
	return m.log.Wake()
}
