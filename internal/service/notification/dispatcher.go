package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jwalitptl/clinic-requests/internal/model"
	"github.com/jwalitptl/clinic-requests/pkg/circuitbreaker"
	"github.com/jwalitptl/clinic-requests/pkg/logger"
	"github.com/jwalitptl/clinic-requests/pkg/metrics"
)

// Sender delivers one push notification.
type Sender interface {
	PushNotification(ctx context.Context, n model.PushNotification) error
}

// Result is the tagged outcome of one dispatch attempt. It never reaches
// the coordinator.
type Result struct {
	EventID        string
	RequestID      model.ID
	OrganizationID model.ID
	Outcome        model.NotificationOutcome
	Err            error
}

type Options struct {
	Workers         int
	QueueSize       int
	Timeout         time.Duration
	BreakerFailures int
	BreakerTimeout  time.Duration
	// OnResult observes every result; tests use it to wait for delivery.
	OnResult func(Result)
}

// Dispatcher consumes lifecycle events and notifies the counterpart
// organization asynchronously. Failures are logged and counted only.
type Dispatcher struct {
	sender  Sender
	breaker *circuitbreaker.CircuitBreaker
	opts    Options
	metrics *metrics.Metrics
	logger  *logger.Logger

	mu     sync.RWMutex
	queue  chan model.LifecycleEvent
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(sender Sender, opts Options, m *metrics.Metrics, log *logger.Logger) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{
		sender: sender,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "push-notification",
			MaxFailures: opts.BreakerFailures,
			Timeout:     opts.BreakerTimeout,
		}),
		opts:    opts,
		metrics: m,
		logger:  log.With("notification"),
		queue:   make(chan model.LifecycleEvent, opts.QueueSize),
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
}

// Stop stops accepting events and waits for queued ones to drain.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnLifecycleEvent enqueues the event without blocking the caller.
func (d *Dispatcher) OnLifecycleEvent(_ context.Context, ev model.LifecycleEvent) {
	if ev.CounterpartOrganizationID.IsZero() {
		d.record(ev, model.OutcomeSkipped, errors.New("no counterpart organization"))
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.record(ev, model.OutcomeDropped, errors.New("dispatcher stopped"))
		return
	}
	select {
	case d.queue <- ev:
		d.metrics.NotificationQueue.Set(float64(len(d.queue)))
	default:
		d.record(ev, model.OutcomeDropped, errors.New("notification queue full"))
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.metrics.NotificationQueue.Set(float64(len(d.queue)))
		d.dispatch(ev)
	}
}

func (d *Dispatcher) dispatch(ev model.LifecycleEvent) {
	// detached from the request that produced the event
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.Timeout)
	defer cancel()

	n := Build(ev)
	err := d.breaker.Execute(func() error {
		return d.sender.PushNotification(ctx, n)
	})

	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		d.record(ev, model.OutcomeSkipped, err)
	case err != nil:
		d.record(ev, model.OutcomeFailed, err)
	default:
		d.record(ev, model.OutcomeDelivered, nil)
	}
}

func (d *Dispatcher) record(ev model.LifecycleEvent, outcome model.NotificationOutcome, err error) {
	res := Result{
		EventID:        ev.ID,
		RequestID:      ev.RequestID,
		OrganizationID: ev.CounterpartOrganizationID,
		Outcome:        outcome,
		Err:            err,
	}
	d.metrics.Notifications.WithLabelValues(string(outcome)).Inc()

	fields := []interface{}{
		"event_id", ev.ID,
		"request_id", ev.RequestID.String(),
		"organization_id", ev.CounterpartOrganizationID.String(),
		"outcome", string(outcome),
	}
	if err != nil {
		fields = append(fields, "error", err.Error())
	}
	switch outcome {
	case model.OutcomeDelivered:
		d.logger.Debug("notification delivered", fields...)
	case model.OutcomeSkipped:
		d.logger.Info("notification skipped", fields...)
	default:
		d.logger.Warn("notification not delivered", fields...)
	}

	if d.opts.OnResult != nil {
		d.opts.OnResult(res)
	}
}

// BreakerState exposes the breaker for readiness reporting.
func (d *Dispatcher) BreakerState() circuitbreaker.State { return d.breaker.State() }
