package notify

import (
	"context"
	"log/slog"
	"time"

	"deployguard/internal/config"
	"deployguard/internal/model"
)

// Sink delivers one event to an external channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev model.Event) error
}

// Notifier fans events out to its sinks, best-effort. Delivery runs off
// the caller's goroutine, failures are retried once per the config and
// then logged and dropped; nothing here can block or fail the control
// loop.
type Notifier struct {
	sinks  []Sink
	cfg    config.NotifyConfig
	logger *slog.Logger
}

func New(cfg config.NotifyConfig, logger *slog.Logger) *Notifier {
	n := &Notifier{cfg: cfg, logger: logger}
	if cfg.WebhookURL != "" {
		n.sinks = append(n.sinks, NewWebhookSink(cfg.WebhookURL))
	}
	if cfg.Kafka.Enabled {
		n.sinks = append(n.sinks, NewKafkaSink(cfg.Kafka))
	}
	return n
}

func (n *Notifier) Publish(ev model.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	for _, sink := range n.sinks {
		go n.deliver(sink, ev)
	}
}

func (n *Notifier) deliver(sink Sink, ev model.Event) {
	for attempt := 0; attempt <= n.cfg.Retries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeout)
		err := sink.Send(ctx, ev)
		cancel()
		if err == nil {
			return
		}
		if attempt == n.cfg.Retries {
			if n.logger != nil {
				n.logger.Warn("notification dropped", "sink", sink.Name(), "kind", ev.Kind, "epoch", ev.EpochID, "err", err)
			}
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func (n *Notifier) Close() {
	for _, sink := range n.sinks {
		if closer, ok := sink.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}
}
