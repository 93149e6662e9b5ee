package fanout

import (
	"context"
	"time"

	"github.com/edgeflare/pgfan/pkg/metrics"
	"go.uber.org/zap"
)

const defaultPollInterval = 250 * time.Millisecond

// Transport pushes ordered events to one connected consumer. A Send error
// means the connection is gone; the delivery loop stops and deregisters.
// ctx bounds the send including any internal retries.
type Transport interface {
	// Name identifies the transport kind for logs and metrics.
	Name() string
	Send(ctx context.Context, event Event) error
	Close() error
}

// DeliveryLoop drives one subscriber: it polls for newly visible events on a
// fixed interval (waking early when the log signals an append) and pushes
// them to the subscriber's transport in sequence order, independently of all
// other subscribers.
type DeliveryLoop struct {
	manager   *Manager
	sub       *Subscriber
	transport Transport
	logger    *zap.Logger
	interval  time.Duration
}

// NewDeliveryLoop returns a loop for sub over transport. interval <= 0 picks
// the default polling interval.
func NewDeliveryLoop(m *Manager, sub *Subscriber, transport Transport, interval time.Duration, logger *zap.Logger) *DeliveryLoop {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.L()
	}
	return &DeliveryLoop{
		manager:   m,
		sub:       sub,
		transport: transport,
		interval:  interval,
		logger:    logger.With(zap.String("subscriber", sub.ID), zap.String("transport", transport.Name())),
	}
}

// Run delivers events until the transport fails or ctx is canceled. The
// subscriber is deregistered on every exit path. Returns nil on cancellation,
// the send error otherwise.
func (d *DeliveryLoop) Run(ctx context.Context) error {
	defer d.manager.Deregister(d.sub)
	defer func() {
		if err := d.transport.Close(); err != nil {
			d.logger.Debug("transport close", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.deliverPending(ctx); err != nil {
			d.logger.Info("delivery stopped", zap.Error(err))
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-d.manager.Wake():
		}
	}
}

func (d *DeliveryLoop) deliverPending(ctx context.Context) error {
	batch := d.manager.Poll(d.sub)
	if batch.Missed > 0 {
		d.logger.Warn("cursor fell behind retention window",
			zap.Uint64("missed", batch.Missed))
	}

	for _, event := range batch.Events {
		if err := d.transport.Send(ctx, event); err != nil {
			metrics.DeliveryErrors.WithLabelValues(d.transport.Name()).Inc()
			return err
		}
		metrics.DeliveredEvents.WithLabelValues(d.transport.Name()).Inc()
	}
	return nil
}
