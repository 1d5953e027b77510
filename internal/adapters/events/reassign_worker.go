package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/application"
)

// ReassignWorker drives the periodic reassignment scan. The scan itself is
// idempotent (claims plus compare-and-swap transitions), so overlapping
// runs from multiple worker instances are safe.
type ReassignWorker struct {
	service  *application.Service
	logger   *slog.Logger
	interval time.Duration
}

func NewReassignWorker(service *application.Service, interval time.Duration, logger *slog.Logger) *ReassignWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReassignWorker{
		service: service,
		logger: logger.With(
			"module", "events.reassign_worker",
			"layer", "adapter",
		),
		interval: interval,
	}
}

// Run executes the scan loop until context cancellation.
func (w *ReassignWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.service.ReassignAbandonedSessions(ctx); err != nil {
			w.logger.ErrorContext(ctx, "reassignment scan failed",
				"operation", "reassign_scan",
				"outcome", "failure",
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
