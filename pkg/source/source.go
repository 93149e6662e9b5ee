// Package source adapts upstream CDC transports into the ordered change-event
// feed the fan-out engine ingests. A Source yields decoded events over a
// channel; the Runner drains that channel into the append log and reconnects
// with exponential backoff when the transport drops.
package source

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/pgfan/pkg/cdc"
	"github.com/edgeflare/pgfan/pkg/fanout"
	"github.com/edgeflare/pgfan/pkg/metrics"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

// Supported connectors
const (
	ConnectorPostgres = "postgres"
	ConnectorNATS     = "nats"
)

// A Source produces a lazy, non-restartable sequence of decoded change
// events from an upstream CDC transport.
type Source interface {
	// Name identifies the connector for logs and metrics.
	Name() string
	// Events starts the feed. The returned channel closes when the
	// upstream connection is lost; callers reconnect by calling Events
	// again. Undecodable upstream records surface as zero events.
	Events(ctx context.Context) (<-chan cdc.Event, error)
}

// New builds a Source for the named connector from its configuration map.
func New(connector string, config map[string]any) (Source, error) {
	switch connector {
	case ConnectorPostgres:
		var cfg PostgresConfig
		if err := mapstructure.Decode(config, &cfg); err != nil {
			return nil, fmt.Errorf("decode postgres source config: %w", err)
		}
		return NewPostgres(cfg), nil
	case ConnectorNATS:
		var cfg NATSConfig
		if err := mapstructure.Decode(config, &cfg); err != nil {
			return nil, fmt.Errorf("decode nats source config: %w", err)
		}
		return NewNATS(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported source connector: %s", connector)
	}
}

// Runner consumes a Source and appends every decoded event into the log. It
// is the single writer of the log.
type Runner struct {
	log    *fanout.AppendLog
	logger *zap.Logger
}

func NewRunner(log *fanout.AppendLog, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.L()
	}
	return &Runner{log: log, logger: logger}
}

// Run ingests src until ctx is canceled. Transport disconnects are recovered
// with exponential backoff; while disconnected no events flow. A single
// undecodable record is counted and skipped, never terminating ingestion.
func (r *Runner) Run(ctx context.Context, src Source) error {
	for {
		events, err := r.connect(ctx, src)
		if err != nil {
			// backoff gave up only because ctx was canceled
			return nil
		}

		for event := range events {
			if event.IsZero() {
				metrics.SkippedEvents.WithLabelValues(src.Name()).Inc()
				r.logger.Warn("skipping undecodable upstream record",
					zap.String("source", src.Name()))
				continue
			}
			seq := r.log.Append(event)
			r.logger.Debug("appended change event",
				zap.Uint64("sequence", seq),
				zap.String("table", event.Payload.Source.Table),
				zap.String("op", string(event.Payload.Op)))
		}

		if ctx.Err() != nil {
			return nil
		}
		r.logger.Warn("source feed closed, reconnecting",
			zap.String("source", src.Name()))
	}
}

func (r *Runner) connect(ctx context.Context, src Source) (<-chan cdc.Event, error) {
	var events <-chan cdc.Event

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry until canceled

	operation := func() error {
		var err error
		events, err = src.Events(ctx)
		if err != nil {
			r.logger.Warn("source connect failed",
				zap.String("source", src.Name()),
				zap.Error(err))
		}
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return events, nil
}
