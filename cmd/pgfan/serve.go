package pgfan

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/edgeflare/pgfan/pkg/fanout"
	"github.com/edgeflare/pgfan/pkg/metrics"
	pgfanpgx "github.com/edgeflare/pgfan/pkg/pgx"
	"github.com/edgeflare/pgfan/pkg/server"
	"github.com/edgeflare/pgfan/pkg/source"
	"github.com/edgeflare/pgfan/pkg/transport"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	prometheusEnabled bool
	prometheusAddr    string
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Run the fan-out engine",
	Long:    `Run the fan-out engine: ingest the configured change feed into the append log and serve it to SSE, websocket and webhook subscribers.`,
	RunE:    runServe,
}

func init() {
	f := serveCmd.Flags()
	f.BoolVar(&prometheusEnabled, "metrics", true, "Expose Prometheus metrics")
	f.StringVar(&prometheusAddr, "metrics-addr", "", "Metrics server listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	doneChan := make(chan struct{})

	var wg sync.WaitGroup

	if prometheusEnabled && cfg.Metrics.Enabled {
		// returns immediately; registers its goroutine on wg itself
		metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{
			Addr: cmp.Or(prometheusAddr, cfg.Metrics.Addr),
		})
	}

	log := fanout.NewAppendLog(cfg.Log.Capacity, logger.Named("log"))
	manager := fanout.NewManager(log, logger.Named("fanout"))

	src, err := source.New(cfg.Source.Connector, cfg.Source.Config)
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}

	runner := source.NewRunner(log, logger.Named("source"))
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx, src); err != nil {
			errChan <- fmt.Errorf("source ingestion: %w", err)
		}
	}()

	policy := fanout.CursorPolicy(cfg.Delivery.InitialCursor)

	// Webhook sinks are long-lived subscribers owned by the process rather
	// than by a client connection. A failing endpoint only takes down its
	// own loop; browser subscribers and other webhooks keep flowing.
	for i, whCfg := range cfg.Webhooks {
		whLogger := logger.Named("webhook").With(zap.Int("webhook", i))
		wh, err := transport.NewWebhook(whCfg, whLogger)
		if err != nil {
			return fmt.Errorf("failed to create webhook sink %d: %w", i, err)
		}

		sub := manager.Register(policy)
		loop := fanout.NewDeliveryLoop(manager, sub, wh, cfg.Delivery.PollInterval, whLogger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := loop.Run(ctx); err != nil {
				whLogger.Error("webhook delivery stopped", zap.Error(err))
			}
		}()
	}

	var pool *pgxpool.Pool
	if cfg.Server.PG.ConnString != "" {
		pool, err = pgfanpgx.NewPool(ctx, cfg.Server.PG.ConnString)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		defer pool.Close()
	} else {
		logger.Warn("no server.pg.connString configured, index snapshot and message submission disabled")
	}

	srv := server.New(manager, pool, server.Options{
		ListenAddr:   cfg.Server.ListenAddr,
		Table:        cfg.Server.Table,
		CursorPolicy: policy,
		PollInterval: cfg.Delivery.PollInterval,
	}, logger.Named("server"))

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(ctx); err != nil {
			errChan <- fmt.Errorf("server: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-sigChan:
		logger.Info("received termination signal, shutting down gracefully")
		cancel()
	case err := <-errChan:
		logger.Error("fan-out engine error", zap.Error(err))
		cancel()
	}

	// Wait for goroutines to complete
	go func() {
		wg.Wait()
		close(doneChan)
	}()

	// Wait with timeout
	select {
	case <-doneChan:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10 seconds")
	}

	return nil
}
