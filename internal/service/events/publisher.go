package events

import (
	"context"
	"sync"
	"time"

	"github.com/jwalitptl/clinic-requests/internal/model"
	"github.com/jwalitptl/clinic-requests/pkg/logger"
	"github.com/jwalitptl/clinic-requests/pkg/messaging"
)

type PublisherConfig struct {
	Channel       string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// Publisher mirrors lifecycle events onto the message broker so the audit
// worker can record them. Publishing happens off the request path.
type Publisher struct {
	broker messaging.Broker
	config PublisherConfig
	logger *logger.Logger
	wg     sync.WaitGroup
}

func NewPublisher(broker messaging.Broker, config PublisherConfig, log *logger.Logger) *Publisher {
	if config.Channel == "" {
		config.Channel = messaging.ChannelLifecycleEvents
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 200 * time.Millisecond
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Publisher{broker: broker, config: config, logger: log.With("events")}
}

func (p *Publisher) OnLifecycleEvent(_ context.Context, ev model.LifecycleEvent) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.config.Timeout)
		defer cancel()

		err := retry(ctx, p.config.RetryAttempts, p.config.RetryDelay, func() error {
			return p.broker.Publish(ctx, p.config.Channel, ev)
		})
		if err != nil {
			p.logger.Error(err, "Failed to publish lifecycle event",
				"event_id", ev.ID,
				"action", string(ev.Action),
				"request_id", ev.RequestID.String())
		}
	}()
}

// Wait blocks until in-flight publishes finish.
func (p *Publisher) Wait() { p.wg.Wait() }

func retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}
