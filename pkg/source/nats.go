package source

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edgeflare/pgfan/pkg/cdc"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSConfig configures the JetStream source. Events are expected as JSON
// cdc.Event messages, the format CDC bridges publish.
type NATSConfig struct {
	Servers       []string `mapstructure:"servers"`
	Stream        string   `mapstructure:"stream"`
	SubjectPrefix string   `mapstructure:"subjectPrefix"`
	Durable       string   `mapstructure:"durable"`
	Username      string   `mapstructure:"username"`
	Password      string   `mapstructure:"password"`
}

// NATS consumes CDC events from a JetStream subject, for deployments where
// another process captures changes and publishes them to NATS.
type NATS struct {
	cfg NATSConfig
}

func NewNATS(cfg NATSConfig) *NATS {
	return &NATS{cfg: cfg}
}

func (n *NATS) Name() string {
	return ConnectorNATS
}

// Events connects to NATS and returns the decoded feed. The subscription is
// owned by the feed goroutine; the channel closes when ctx is canceled or the
// connection is lost.
func (n *NATS) Events(ctx context.Context) (<-chan cdc.Event, error) {
	cfg := n.cfg
	if len(cfg.Servers) == 0 {
		cfg.Servers = []string{nats.DefaultURL}
	}
	cfg.SubjectPrefix = cmp.Or(cfg.SubjectPrefix, "pgfan")
	cfg.Stream = cmp.Or(cfg.Stream, fmt.Sprintf("%s-stream", cfg.SubjectPrefix))
	cfg.Durable = cmp.Or(cfg.Durable, fmt.Sprintf("%s-consumer", cfg.SubjectPrefix))
	subject := fmt.Sprintf("%s.>", cfg.SubjectPrefix)

	opts := []nats.Option{
		nats.Timeout(5 * time.Second),
		nats.PingInterval(10 * time.Second),
		nats.MaxPingsOutstanding(3),
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	var nc *nats.Conn
	var err error
	for _, server := range cfg.Servers {
		nc, err = nats.Connect(server, opts...)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("nats source: connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats source: jetstream context: %w", err)
	}

	if _, err := js.AddConsumer(cfg.Stream, &nats.ConsumerConfig{
		Durable:       cfg.Durable,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       time.Minute,
		FilterSubject: subject,
	}); err != nil && err != nats.ErrConsumerNameAlreadyInUse {
		nc.Close()
		return nil, fmt.Errorf("nats source: create consumer: %w", err)
	}

	sub, err := js.PullSubscribe(subject, cfg.Durable)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats source: subscribe: %w", err)
	}

	events := make(chan cdc.Event, 100)
	go n.fetchLoop(ctx, nc, sub, events)
	return events, nil
}

func (n *NATS) fetchLoop(ctx context.Context, nc *nats.Conn, sub *nats.Subscription, events chan<- cdc.Event) {
	defer close(events)
	defer nc.Close()

	for {
		if ctx.Err() != nil {
			return
		}

		msgs, err := sub.Fetch(10, nats.MaxWait(time.Second))
		if err != nil {
			if err == nats.ErrTimeout {
				continue
			}
			if ctx.Err() != nil || err == nats.ErrConnectionClosed {
				return
			}
			zap.L().Warn("nats source: fetch failed", zap.Error(err))
			continue
		}

		for _, msg := range msgs {
			var event cdc.Event
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				// ack anyway: redelivery would never decode either
				zap.L().Warn("nats source: undecodable message", zap.Error(err))
				msg.Ack()
				select {
				case events <- cdc.Event{}:
				case <-ctx.Done():
					return
				}
				continue
			}

			select {
			case events <- event:
				msg.Ack()
			case <-ctx.Done():
				msg.Nak()
				return
			}
		}
	}
}
