package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/ports"
)

// Service is the router: it matches incoming support requests to the best
// available volunteer, reserves capacity, and owns the session lifecycle
// from intake through resolution or abandonment.
type Service struct {
	cfg           Config
	directory     *VolunteerDirectory
	volunteers    ports.VolunteerRepository
	sessions      ports.SessionRepository
	claims        ports.SessionClaimStore
	notifications NotificationQueue
	logger        *slog.Logger
	nowFn         func() time.Time
}

func NewService(deps Dependencies, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config
	if cfg.MaxWaitTime <= 0 {
		cfg.MaxWaitTime = 5 * time.Minute
	}
	if cfg.VolunteerSilenceTimeout <= 0 {
		cfg.VolunteerSilenceTimeout = 15 * time.Minute
	}
	if cfg.ExpertisePartialCredit <= 0 {
		cfg.ExpertisePartialCredit = 0.3
	}
	if cfg.MinimumScore <= 0 {
		cfg.MinimumScore = 0.3
	}
	if cfg.MaxReassignAttempts <= 0 {
		cfg.MaxReassignAttempts = 5
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 30 * time.Second
	}
	return &Service{
		cfg:           cfg,
		directory:     NewVolunteerDirectory(deps.Volunteers, cfg.DirectoryTTL, logger),
		volunteers:    deps.Volunteers,
		sessions:      deps.Sessions,
		claims:        deps.Claims,
		notifications: deps.Notifications,
		logger: logger.With(
			"module", "application.router",
			"layer", "application",
		),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// Initialize primes the volunteer directory. A cold cache is not fatal:
// routing degrades to the queue path until the first successful refresh.
func (s *Service) Initialize(ctx context.Context) error {
	if err := s.directory.Refresh(ctx); err != nil {
		s.logger.WarnContext(ctx, "initial directory refresh failed",
			"operation", "initialize",
			"outcome", "degraded",
			"error", err,
		)
	}
	return nil
}

// RouteRequest matches a request to a volunteer, or parks it in the wait
// queue when no candidate qualifies. The caller always receives either an
// assigned session, a waiting session, or an explicit error.
func (s *Service) RouteRequest(ctx context.Context, input RouteRequestInput) (domain.SupportSession, error) {
	req, err := s.buildRequest(input)
	if err != nil {
		return domain.SupportSession{}, err
	}

	sessionID := uuid.NewString()
	now := s.nowFn()

	volunteer, reserved := s.matchAndReserve(ctx, req, sessionID)
	if reserved {
		assignedAt := now
		session := domain.SupportSession{
			SessionID:        sessionID,
			Request:          req,
			VolunteerAddress: volunteer.Address,
			Status:           domain.SessionAssigned,
			StartTime:        now,
			AssignmentTime:   &assignedAt,
		}
		if err := s.sessions.Create(ctx, session); err != nil {
			// Hard write failure: compensate the reservation and surface the
			// error; a silently dropped support request is worse.
			if relErr := s.volunteers.ReleaseSlot(ctx, volunteer.Address, sessionID); relErr != nil {
				s.logger.ErrorContext(ctx, "slot release after failed session create",
					"operation", "route_request",
					"outcome", "failure",
					"volunteer", volunteer.Address,
					"session_id", sessionID,
					"error", relErr,
				)
			}
			return domain.SupportSession{}, fmt.Errorf("create session: %w", err)
		}
		s.afterAssignment(ctx, volunteer, session)
		return session, nil
	}

	session := domain.SupportSession{
		SessionID: sessionID,
		Request:   req,
		Status:    domain.SessionWaiting,
		StartTime: now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return domain.SupportSession{}, fmt.Errorf("create waiting session: %w", err)
	}
	s.logger.InfoContext(ctx, "request queued",
		"operation", "route_request",
		"outcome", "queued",
		"session_id", sessionID,
		"priority", req.Priority,
	)
	return session, nil
}

// FindBestVolunteer is the read-only probe of the matching path. It never
// raises on I/O trouble: matching failures degrade to "no volunteer".
func (s *Service) FindBestVolunteer(ctx context.Context, input RouteRequestInput) (*domain.SupportVolunteer, error) {
	req, err := s.buildRequest(input)
	if err != nil {
		return nil, err
	}
	_ = s.directory.Refresh(ctx)
	best, _, ok := SelectBest(req, s.directory.Snapshot(), s.cfg)
	if !ok {
		return nil, nil
	}
	return &best, nil
}

// matchAndReserve scores the cached candidates and attempts the atomic
// capacity reservation, moving to the next candidate whenever the
// reservation loses the race. No lock is held across the store call.
func (s *Service) matchAndReserve(ctx context.Context, req domain.SupportRequest, sessionID string) (domain.SupportVolunteer, bool) {
	if err := s.directory.Refresh(ctx); err != nil && len(s.directory.Snapshot()) == 0 {
		return domain.SupportVolunteer{}, false
	}
	candidates := s.directory.Snapshot()
	for len(candidates) > 0 {
		best, score, ok := SelectBest(req, candidates, s.cfg)
		if !ok {
			return domain.SupportVolunteer{}, false
		}
		err := s.volunteers.ReserveSlot(ctx, best.Address, sessionID)
		if err == nil {
			s.directory.Invalidate()
			s.logger.InfoContext(ctx, "capacity reserved",
				"operation", "reserve_slot",
				"outcome", "success",
				"volunteer", best.Address,
				"session_id", sessionID,
				"score", score,
			)
			return best, true
		}
		if errors.Is(err, domain.ErrCapacityExhausted) {
			// Lost the reservation race; drop this candidate and re-score.
			candidates = withoutVolunteer(candidates, best.Address)
			continue
		}
		s.logger.WarnContext(ctx, "reservation failed; degrading to queue",
			"operation", "reserve_slot",
			"outcome", "failure",
			"volunteer", best.Address,
			"error", err,
		)
		return domain.SupportVolunteer{}, false
	}
	return domain.SupportVolunteer{}, false
}

// afterAssignment runs the secondary effects of a committed assignment:
// the volunteer activity stamp (logged and swallowed on failure) and the
// fire-and-forget notification.
func (s *Service) afterAssignment(ctx context.Context, volunteer domain.SupportVolunteer, session domain.SupportSession) {
	if err := s.volunteers.TouchLastActive(ctx, volunteer.Address, s.nowFn()); err != nil {
		// Session is already committed; a stale activity stamp is a known
		// transient inconsistency, not a routing failure.
		s.logger.WarnContext(ctx, "volunteer activity update failed after assignment",
			"operation", "touch_last_active",
			"outcome", "failure",
			"volunteer", volunteer.Address,
			"session_id", session.SessionID,
			"error", err,
		)
	}
	if s.notifications != nil && !s.notifications.Enqueue(volunteer, session) {
		s.logger.WarnContext(ctx, "notification queue full; assignment notification dropped",
			"operation", "notify_assigned",
			"outcome", "dropped",
			"volunteer", volunteer.Address,
			"session_id", session.SessionID,
		)
	}
}

// GetRoutingStats aggregates cache and queue state. Statistics are telemetry:
// any failing query contributes zero instead of an error.
func (s *Service) GetRoutingStats(ctx context.Context) domain.RoutingStats {
	var stats domain.RoutingStats

	_ = s.directory.Refresh(ctx)
	for _, v := range s.directory.Snapshot() {
		if v.Status == domain.VolunteerAvailable {
			stats.AvailableVolunteers++
		}
	}

	if queued, err := s.sessions.CountWaiting(ctx); err == nil {
		stats.QueuedRequests = queued
	}

	now := s.nowFn()
	if waiting, err := s.sessions.QueryWaiting(ctx, now); err == nil && len(waiting) > 0 {
		var total time.Duration
		for _, w := range waiting {
			total += now.Sub(w.StartTime)
		}
		stats.AverageWaitTime = total / time.Duration(len(waiting))
	}

	if counts, err := s.sessions.CountByStatus(ctx); err == nil {
		routed := counts[domain.SessionAssigned] + counts[domain.SessionActive] + counts[domain.SessionResolved]
		total := routed
		for _, status := range []domain.SessionStatus{domain.SessionWaiting, domain.SessionAbandoned} {
			total += counts[status]
		}
		if total > 0 {
			stats.RoutingEfficiency = float64(routed) / float64(total)
		}
	}
	return stats
}

// GetSession returns the current session record.
func (s *Service) GetSession(ctx context.Context, sessionID string) (domain.SupportSession, error) {
	if strings.TrimSpace(sessionID) == "" {
		return domain.SupportSession{}, domain.ErrInvalidInput
	}
	return s.sessions.Get(ctx, sessionID)
}

// AcceptSession moves an assigned session to active when the volunteer
// picks it up.
func (s *Service) AcceptSession(ctx context.Context, sessionID string) (domain.SupportSession, error) {
	ok, err := s.sessions.TransitionStatus(ctx, sessionID, domain.SessionAssigned, domain.SessionActive)
	if err != nil {
		return domain.SupportSession{}, err
	}
	if !ok {
		return domain.SupportSession{}, domain.ErrInvalidTransition
	}
	return s.sessions.Get(ctx, sessionID)
}

// ResolveSession closes out an assigned or active session: the capacity slot
// is released, pop points are awarded by priority, and volunteer throughput
// stats are folded in as a best-effort secondary write.
func (s *Service) ResolveSession(ctx context.Context, sessionID string) (domain.SupportSession, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.SupportSession{}, err
	}
	if session.Status != domain.SessionAssigned && session.Status != domain.SessionActive {
		return domain.SupportSession{}, domain.ErrInvalidTransition
	}
	ok, err := s.sessions.TransitionStatus(ctx, sessionID, session.Status, domain.SessionResolved)
	if err != nil {
		return domain.SupportSession{}, err
	}
	if !ok {
		return domain.SupportSession{}, domain.ErrInvalidTransition
	}

	now := s.nowFn()
	session.Status = domain.SessionResolved
	session.ResolutionTime = &now
	session.PopPointsAwarded = popPointsFor(session.Request.Priority)
	if err := s.sessions.Update(ctx, session); err != nil {
		return domain.SupportSession{}, fmt.Errorf("persist resolution: %w", err)
	}

	if session.VolunteerAddress != "" {
		if err := s.volunteers.ReleaseSlot(ctx, session.VolunteerAddress, sessionID); err != nil {
			s.logger.WarnContext(ctx, "slot release on resolution failed",
				"operation", "resolve_session",
				"outcome", "degraded",
				"volunteer", session.VolunteerAddress,
				"session_id", sessionID,
				"error", err,
			)
		}
		resolution := now.Sub(session.StartTime)
		if err := s.volunteers.RecordResolution(ctx, session.VolunteerAddress, resolution, now); err != nil {
			s.logger.WarnContext(ctx, "volunteer stats update on resolution failed",
				"operation", "resolve_session",
				"outcome", "degraded",
				"volunteer", session.VolunteerAddress,
				"session_id", sessionID,
				"error", err,
			)
		}
		s.directory.Invalidate()
	}
	return session, nil
}

// CancelSession withdraws a waiting request. Cancelled sessions are skipped
// by the reassignment scan.
func (s *Service) CancelSession(ctx context.Context, sessionID string) (domain.SupportSession, error) {
	ok, err := s.sessions.TransitionStatus(ctx, sessionID, domain.SessionWaiting, domain.SessionCancelled)
	if err != nil {
		return domain.SupportSession{}, err
	}
	if !ok {
		return domain.SupportSession{}, domain.ErrInvalidTransition
	}
	return s.sessions.Get(ctx, sessionID)
}

func (s *Service) buildRequest(input RouteRequestInput) (domain.SupportRequest, error) {
	user := strings.TrimSpace(input.UserAddress)
	if user == "" {
		return domain.SupportRequest{}, domain.ErrInvalidInput
	}
	category, ok := domain.ParseCategory(strings.ToLower(strings.TrimSpace(input.Category)))
	if !ok {
		return domain.SupportRequest{}, domain.ErrInvalidInput
	}
	priority, ok := domain.ParsePriority(strings.ToLower(strings.TrimSpace(input.Priority)))
	if !ok {
		return domain.SupportRequest{}, domain.ErrInvalidInput
	}
	language := strings.TrimSpace(input.Language)
	if language == "" {
		return domain.SupportRequest{}, domain.ErrInvalidInput
	}
	if input.UserScore < 0 || input.UserScore > 100 {
		return domain.SupportRequest{}, domain.ErrInvalidInput
	}
	requestID := strings.TrimSpace(input.RequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return domain.SupportRequest{
		RequestID:      requestID,
		UserAddress:    user,
		Category:       category,
		Priority:       priority,
		InitialMessage: strings.TrimSpace(input.InitialMessage),
		Language:       language,
		UserScore:      input.UserScore,
		CreatedAt:      s.nowFn(),
	}, nil
}

func popPointsFor(priority domain.RequestPriority) int {
	switch priority {
	case domain.PriorityUrgent:
		return 40
	case domain.PriorityHigh:
		return 25
	case domain.PriorityMedium:
		return 15
	default:
		return 10
	}
}

func withoutVolunteer(candidates []domain.SupportVolunteer, address string) []domain.SupportVolunteer {
	out := make([]domain.SupportVolunteer, 0, len(candidates))
	for _, c := range candidates {
		if c.Address != address {
			out = append(out, c)
		}
	}
	return out
}
