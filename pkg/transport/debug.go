package transport

import (
	"context"

	"github.com/edgeflare/pgfan/pkg/fanout"
	"go.uber.org/zap"
)

// Debug logs every delivery instead of sending it anywhere. Useful when
// verifying a source feed without a connected client.
type Debug struct {
	logger *zap.Logger
}

func NewDebug(logger *zap.Logger) *Debug {
	if logger == nil {
		logger = zap.L()
	}
	return &Debug{logger: logger}
}

func (d *Debug) Name() string {
	return "debug"
}

func (d *Debug) Send(_ context.Context, event fanout.Event) error {
	d.logger.Info("deliver",
		zap.Uint64("sequence", event.Sequence),
		zap.String("op", string(event.Payload.Payload.Op)),
		zap.String("table", event.Payload.Payload.Source.Table),
		zap.Any("after", event.Payload.Payload.After))
	return nil
}

func (d *Debug) Close() error {
	return nil
}
