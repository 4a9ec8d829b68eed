package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jwalitptl/clinic-requests/internal/model"
	"github.com/jwalitptl/clinic-requests/pkg/logger"
	"github.com/jwalitptl/clinic-requests/pkg/messaging"
	"github.com/jwalitptl/clinic-requests/pkg/metrics"
)

// Recorder persists a consumed lifecycle event.
type Recorder interface {
	Record(ctx context.Context, ev model.LifecycleEvent) error
}

type ConsumerConfig struct {
	Channel    string
	MaxRetries int
	RetryDelay time.Duration
}

// EventConsumer turns the lifecycle event stream into audit rows.
type EventConsumer struct {
	broker   messaging.Broker
	recorder Recorder
	config   ConsumerConfig
	logger   *logger.Logger
	metrics  *metrics.Metrics
	workerID string
}

func NewEventConsumer(broker messaging.Broker, recorder Recorder, cfg ConsumerConfig, m *metrics.Metrics, log *logger.Logger) *EventConsumer {
	if cfg.Channel == "" {
		cfg.Channel = messaging.ChannelLifecycleEvents
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if log == nil {
		log = logger.Nop()
	}
	workerID := fmt.Sprintf("worker-%s", generateWorkerID())
	return &EventConsumer{
		broker:   broker,
		recorder: recorder,
		config:   cfg,
		metrics:  m,
		logger:   log.WithFields(map[string]interface{}{"worker_id": workerID}),
		workerID: workerID,
	}
}

// Start blocks until ctx is done or the subscription closes.
func (c *EventConsumer) Start(ctx context.Context) error {
	msgs, err := c.broker.Subscribe(ctx, c.config.Channel)
	if err != nil {
		return fmt.Errorf("failed to subscribe to lifecycle events: %w", err)
	}

	c.logger.Info("consumer started", "channel", c.config.Channel)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer shutting down")
			return nil
		case payload, ok := <-msgs:
			if !ok {
				c.logger.Warn("subscription closed")
				return nil
			}
			c.handle(ctx, payload)
		}
	}
}

func (c *EventConsumer) handle(ctx context.Context, payload []byte) {
	var ev model.LifecycleEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.metrics.EventsConsumed.WithLabelValues("malformed").Inc()
		c.logger.Error(err, "failed to decode lifecycle event")
		return
	}

	var recordErr error
	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * c.config.RetryDelay
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}

		if recordErr = c.recorder.Record(ctx, ev); recordErr == nil {
			break
		}
		c.logger.Warn("retry recording event", "event_id", ev.ID, "attempt", attempt+1, "error", recordErr.Error())
	}

	if recordErr != nil {
		c.metrics.EventsConsumed.WithLabelValues("failed").Inc()
		c.logger.Error(recordErr, "failed to record event after retries", "event_id", ev.ID)
		return
	}

	c.metrics.EventsConsumed.WithLabelValues("recorded").Inc()
	c.logger.Debug("event recorded", "event_id", ev.ID, "action", ev.Action, "request_id", ev.RequestID)
}

func generateWorkerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d", hostname, time.Now().UnixNano())
}
