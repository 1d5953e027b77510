package ports

import (
	"context"
	"time"

	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/domain"
)

// VolunteerRepository is the persistence contract for volunteer records.
// The authoritative record lives behind this interface; the directory cache
// only mirrors it.
type VolunteerRepository interface {
	// QueryAvailable returns every volunteer whose status is not offline.
	QueryAvailable(ctx context.Context) ([]domain.SupportVolunteer, error)
	Get(ctx context.Context, address string) (domain.SupportVolunteer, error)
	Upsert(ctx context.Context, volunteer domain.SupportVolunteer) error

	// ReserveSlot atomically adds sessionID to the volunteer's active set,
	// conditional on status=available and load below capacity. A rejected
	// reservation returns domain.ErrCapacityExhausted.
	ReserveSlot(ctx context.Context, address, sessionID string) error

	// ReleaseSlot removes sessionID from the volunteer's active set. Releasing
	// a slot that is not held is a no-op.
	ReleaseSlot(ctx context.Context, address, sessionID string) error

	// TouchLastActive stamps volunteer activity after an assignment commits.
	// Best-effort: callers log and swallow failures.
	TouchLastActive(ctx context.Context, address string, at time.Time) error

	// RecordResolution folds a resolved session into the volunteer's
	// throughput stats. Best-effort: callers log and swallow failures.
	RecordResolution(ctx context.Context, address string, resolution time.Duration, resolvedAt time.Time) error
}

// SessionRepository is the persistence contract for support sessions.
type SessionRepository interface {
	Create(ctx context.Context, session domain.SupportSession) error
	Update(ctx context.Context, session domain.SupportSession) error
	Get(ctx context.Context, sessionID string) (domain.SupportSession, error)

	// QueryWaiting returns waiting sessions older than the cutoff, ordered by
	// priority tier descending then start time ascending.
	QueryWaiting(ctx context.Context, olderThan time.Time) ([]domain.SupportSession, error)

	// QueryStalled returns assigned/active sessions whose volunteer has been
	// silent since before the cutoff.
	QueryStalled(ctx context.Context, silentSince time.Time) ([]domain.SupportSession, error)

	// TransitionStatus performs a compare-and-swap on the session status and
	// reports whether this caller won the transition. Losing the swap is the
	// signal that another path already claimed the session.
	TransitionStatus(ctx context.Context, sessionID string, from, to domain.SessionStatus) (bool, error)

	CountWaiting(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context) (map[domain.SessionStatus]int, error)
}

// SessionClaimStore grants short-lived exclusive claims on session ids so
// overlapping reassignment scans cannot double-assign the same session.
type SessionClaimStore interface {
	// Claim returns true when this caller acquired the claim.
	Claim(ctx context.Context, sessionID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, sessionID string) error
}

// Notifier delivers the volunteer-assignment side effect. Implementations
// must not block routing: delivery runs on the dispatcher worker.
type Notifier interface {
	NotifyAssigned(ctx context.Context, volunteer domain.SupportVolunteer, session domain.SupportSession) error
}
