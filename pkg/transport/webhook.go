package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/edgeflare/pgfan/pkg/fanout"
	"github.com/edgeflare/pgfan/pkg/httputil"
	"go.uber.org/zap"
)

// WebhookEndpoint is one HTTP destination for event deliveries.
type WebhookEndpoint struct {
	Headers map[string]string `mapstructure:"headers"`
	URL     string            `mapstructure:"url"`
	Method  string            `mapstructure:"method"`
}

// WebhookRetry holds retry settings for failed delivery attempts.
type WebhookRetry struct {
	MaxRetries  int           `mapstructure:"maxRetries"`
	InitialWait time.Duration `mapstructure:"initialWait"`
	MaxWait     time.Duration `mapstructure:"maxWait"`
}

// WebhookConfig configures a webhook transport.
type WebhookConfig struct {
	Endpoints []WebhookEndpoint `mapstructure:"endpoints"`
	Retry     WebhookRetry      `mapstructure:"retry"`
	Timeout   time.Duration     `mapstructure:"timeout"`
}

// Webhook posts each event as JSON to one or more endpoints. A delivery that
// still fails after retries on any endpoint counts as a transport failure.
type Webhook struct {
	logger *zap.Logger
	cfg    WebhookConfig
}

func NewWebhook(cfg WebhookConfig, logger *zap.Logger) (*Webhook, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints configured")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.InitialWait == 0 {
		cfg.Retry.InitialWait = time.Second
	}
	if cfg.Retry.MaxWait == 0 {
		cfg.Retry.MaxWait = 30 * time.Second
	}
	for i := range cfg.Endpoints {
		if cfg.Endpoints[i].Method == "" {
			cfg.Endpoints[i].Method = http.MethodPost
		}
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Webhook{cfg: cfg, logger: logger}, nil
}

func (w *Webhook) Name() string {
	return "webhook"
}

// Send posts the event to every endpoint. ctx bounds the whole retry cycle,
// so a canceled delivery loop stops in-flight retries instead of waiting out
// the retry budget.
func (w *Webhook) Send(ctx context.Context, event fanout.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var lastErr error
	for _, endpoint := range w.cfg.Endpoints {
		config := httputil.DefaultRequestConfig(endpoint.Method, endpoint.URL)
		config.Timeout = w.cfg.Timeout
		config.MaxRetries = w.cfg.Retry.MaxRetries
		config.InitialBackoff = w.cfg.Retry.InitialWait
		config.MaxBackoff = w.cfg.Retry.MaxWait
		config.Headers = make(map[string][]string, len(endpoint.Headers))
		for key, value := range endpoint.Headers {
			config.Headers[key] = []string{value}
		}

		if _, err := httputil.Request(ctx, config, payload); err != nil {
			lastErr = err
			w.logger.Error("webhook delivery failed",
				zap.String("endpoint", endpoint.URL),
				zap.Uint64("sequence", event.Sequence),
				zap.Error(err))
		}
	}

	return lastErr
}

func (w *Webhook) Close() error {
	return nil
}
