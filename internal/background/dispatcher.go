package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/mdrennan/bulwark/internal/models"
	"github.com/mdrennan/bulwark/internal/services"
)

// Dispatcher decouples admin notification delivery from the request path.
// Alerts are queued without blocking; a single worker delivers them. On
// shutdown the queue drains within a bounded grace period rather than being
// abandoned.
type Dispatcher struct {
	notifier     services.Notifier
	queue        chan *models.SecurityAlert
	logger       *slog.Logger
	drainTimeout time.Duration
	stopCh       chan struct{}
	doneCh       chan struct{}
}

// NewDispatcher creates a dispatcher with the given queue capacity
func NewDispatcher(notifier services.Notifier, queueSize int, drainTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		notifier:     notifier,
		queue:        make(chan *models.SecurityAlert, queueSize),
		logger:       logger,
		drainTimeout: drainTimeout,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Enqueue queues an alert for delivery without blocking. It reports false
// when the queue is full; the caller logs and moves on.
func (d *Dispatcher) Enqueue(alert *models.SecurityAlert) bool {
	select {
	case d.queue <- alert:
		return true
	default:
		return false
	}
}

// Start runs the delivery loop until Stop is called or ctx is cancelled
func (d *Dispatcher) Start(ctx context.Context) {
	defer close(d.doneCh)

	for {
		select {
		case alert := <-d.queue:
			d.deliver(alert)
		case <-d.stopCh:
			d.drain()
			return
		case <-ctx.Done():
			d.drain()
			return
		}
	}
}

// Stop signals shutdown and waits for the drain to finish
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

func (d *Dispatcher) deliver(alert *models.SecurityAlert) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.notifier.Notify(ctx, alert); err != nil {
		d.logger.Error("failed to deliver alert notification",
			slog.String("alert_type", alert.Type),
			slog.Any("error", err))
	}
}

// drain delivers queued alerts until empty or the grace period expires
func (d *Dispatcher) drain() {
	deadline := time.NewTimer(d.drainTimeout)
	defer deadline.Stop()

	for {
		select {
		case alert := <-d.queue:
			d.deliver(alert)
		case <-deadline.C:
			if remaining := len(d.queue); remaining > 0 {
				d.logger.Warn("drain grace period expired",
					slog.Int("abandoned", remaining))
			}
			return
		default:
			return
		}
	}
}
