package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/ports"
)

// VolunteerDirectory keeps a TTL-bounded snapshot of non-offline volunteers.
// The snapshot is replaced wholesale under the lock so readers never observe
// a partially refreshed list. It is an injected dependency: multiple routers
// may each own an independent directory.
type VolunteerDirectory struct {
	volunteers ports.VolunteerRepository
	ttl        time.Duration
	logger     *slog.Logger
	nowFn      func() time.Time

	mu          sync.RWMutex
	snapshot    []domain.SupportVolunteer
	lastRefresh time.Time
}

const defaultDirectoryTTL = 30 * time.Second

func NewVolunteerDirectory(volunteers ports.VolunteerRepository, ttl time.Duration, logger *slog.Logger) *VolunteerDirectory {
	if ttl <= 0 {
		ttl = defaultDirectoryTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VolunteerDirectory{
		volunteers: volunteers,
		ttl:        ttl,
		logger:     logger,
		nowFn:      time.Now,
	}
}

// Refresh replaces the snapshot from the persistence store. It is a no-op
// inside the TTL window, bounding read load on the store at the cost of
// serving capacity data up to one TTL stale. On store failure the previous
// snapshot stays in place.
func (d *VolunteerDirectory) Refresh(ctx context.Context) error {
	d.mu.RLock()
	fresh := d.nowFn().Sub(d.lastRefresh) < d.ttl
	d.mu.RUnlock()
	if fresh {
		return nil
	}

	records, err := d.volunteers.QueryAvailable(ctx)
	if err != nil {
		d.logger.WarnContext(ctx, "volunteer directory refresh failed; serving stale snapshot",
			"module", "application.directory",
			"operation", "refresh",
			"outcome", "failure",
			"error", err,
		)
		return err
	}

	valid := make([]domain.SupportVolunteer, 0, len(records))
	for _, v := range records {
		if v.Address == "" || v.MaxConcurrentSessions < 1 || v.Rating < 0 || v.Rating > 5 {
			d.logger.WarnContext(ctx, "skipping malformed volunteer record",
				"module", "application.directory",
				"operation", "refresh",
				"outcome", "skipped",
				"address", v.Address,
			)
			continue
		}
		if v.Status == domain.VolunteerOffline {
			continue
		}
		valid = append(valid, v)
	}

	d.mu.Lock()
	d.snapshot = valid
	d.lastRefresh = d.nowFn()
	d.mu.Unlock()
	return nil
}

// Snapshot returns the current volunteer list without I/O. Callers must not
// mutate the returned slice elements' shared fields; the slice header itself
// is a copy.
func (d *VolunteerDirectory) Snapshot() []domain.SupportVolunteer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.SupportVolunteer, len(d.snapshot))
	copy(out, d.snapshot)
	return out
}

// Invalidate forces the next Refresh to hit the store. Called after capacity
// reservations so load data does not lag a full TTL behind reality.
func (d *VolunteerDirectory) Invalidate() {
	d.mu.Lock()
	d.lastRefresh = time.Time{}
	d.mu.Unlock()
}
