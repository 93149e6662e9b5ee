package metrics

import (
	"cmp"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	AppendedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pgfan_appended_events_total",
			Help: "Total number of change events appended to the log",
		},
	)

	EvictedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pgfan_evicted_events_total",
			Help: "Total number of change events evicted by retention",
		},
	)

	SkippedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgfan_skipped_events_total",
			Help: "Total number of undecodable upstream records skipped by source",
		},
		[]string{"source"},
	)

	DeliveredEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgfan_delivered_events_total",
			Help: "Total number of events delivered by transport",
		},
		[]string{"transport"},
	)

	DeliveryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgfan_delivery_errors_total",
			Help: "Total number of transport send failures by transport",
		},
		[]string{"transport"},
	)

	ActiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgfan_active_subscribers",
			Help: "Number of currently registered subscribers",
		},
	)

	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pgfan_poll_duration_seconds",
			Help:    "Duration of subscriber poll cycles",
			Buckets: prometheus.DefBuckets,
		},
	)
)

type PromServerOpts struct {
	Addr              string
	Path              string        // Path for metrics endpoint, defaults to "/metrics"
	ShutdownTimeout   time.Duration // Timeout for server shutdown, defaults to 5 seconds
	ReadHeaderTimeout time.Duration // Timeout for reading request headers, defaults to 3 seconds
}

func defaultPrometheusServerOptions() PromServerOpts {
	return PromServerOpts{
		Addr:              ":9100",
		Path:              "/metrics",
		ShutdownTimeout:   5 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// StartPrometheusServer starts a Prometheus metrics server with the given options.
// The server shuts down gracefully when the provided context is canceled.
func StartPrometheusServer(ctx context.Context, wg *sync.WaitGroup, opts *PromServerOpts) {
	effectiveOpts := defaultPrometheusServerOptions()
	if opts != nil {
		effectiveOpts.Addr = cmp.Or(opts.Addr, effectiveOpts.Addr)
		effectiveOpts.Path = cmp.Or(opts.Path, effectiveOpts.Path)
		effectiveOpts.ShutdownTimeout = cmp.Or(opts.ShutdownTimeout, effectiveOpts.ShutdownTimeout)
		effectiveOpts.ReadHeaderTimeout = cmp.Or(opts.ReadHeaderTimeout, effectiveOpts.ReadHeaderTimeout)
	}

	mux := http.NewServeMux()
	mux.Handle(effectiveOpts.Path, promhttp.Handler())
	server := &http.Server{
		Addr:              effectiveOpts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: effectiveOpts.ReadHeaderTimeout,
	}

	serverClosed := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		zap.L().Info("starting metrics server", zap.String("addr", effectiveOpts.Addr))
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			zap.L().Error("metrics server error", zap.Error(err))
		}
		close(serverClosed)
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), effectiveOpts.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			zap.L().Error("error shutting down metrics server", zap.Error(err))
		}

		select {
		case <-serverClosed:
			zap.L().Info("metrics server shutdown complete")
		case <-shutdownCtx.Done():
			zap.L().Warn("metrics server shutdown timed out")
		}
	}()
}
