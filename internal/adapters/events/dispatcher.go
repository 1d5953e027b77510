package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/ports"
)

type assignment struct {
	volunteer domain.SupportVolunteer
	session   domain.SupportSession
}

// Dispatcher decouples routing latency from notification delivery: the
// router enqueues onto a bounded channel and a dedicated worker drains it
// through the configured notifier backend. A full queue drops the
// notification rather than blocking the routing decision.
type Dispatcher struct {
	notifier ports.Notifier
	logger   *slog.Logger
	queue    chan assignment
	timeout  time.Duration
}

func NewDispatcher(notifier ports.Notifier, capacity int, logger *slog.Logger) *Dispatcher {
	if capacity <= 0 {
		capacity = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		notifier: notifier,
		logger: logger.With(
			"module", "events.dispatcher",
			"layer", "adapter",
		),
		queue:   make(chan assignment, capacity),
		timeout: 10 * time.Second,
	}
}

// Enqueue hands off an assignment notification. Returns false when the
// queue is full; the caller decides whether dropping is acceptable.
func (d *Dispatcher) Enqueue(volunteer domain.SupportVolunteer, session domain.SupportSession) bool {
	select {
	case d.queue <- assignment{volunteer: volunteer, session: session}:
		return true
	default:
		return false
	}
}

// Run drains the queue until context cancellation. Delivery failures are
// logged and dropped: notifications are fire-and-forget by contract.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-d.queue:
			deliverCtx, cancel := context.WithTimeout(ctx, d.timeout)
			err := d.notifier.NotifyAssigned(deliverCtx, item.volunteer, item.session)
			cancel()
			if err != nil {
				d.logger.WarnContext(ctx, "assignment notification failed",
					"operation", "notify_assigned",
					"outcome", "failure",
					"volunteer", item.volunteer.Address,
					"session_id", item.session.SessionID,
					"error", err,
				)
				continue
			}
			d.logger.InfoContext(ctx, "assignment notification delivered",
				"operation", "notify_assigned",
				"outcome", "success",
				"volunteer", item.volunteer.Address,
				"session_id", item.session.SessionID,
			)
		}
	}
}
