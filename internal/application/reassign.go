package application

import (
	"context"
	"fmt"

	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/domain"
)

// ReassignAbandonedSessions drains the wait queue and recovers stalled
// assignments. The scan is idempotent under overlapping schedules: each
// session is guarded by a short-lived claim, and the status transition is a
// compare-and-swap immediately before capacity reservation.
func (s *Service) ReassignAbandonedSessions(ctx context.Context) (ReassignReport, error) {
	var report ReassignReport
	now := s.nowFn()

	waiting, err := s.sessions.QueryWaiting(ctx, now.Add(-s.cfg.MaxWaitTime))
	if err != nil {
		return report, fmt.Errorf("query waiting sessions: %w", err)
	}
	for _, session := range waiting {
		report.Scanned++
		s.reassignWaiting(ctx, session, &report)
	}

	stalled, err := s.sessions.QueryStalled(ctx, now.Add(-s.cfg.VolunteerSilenceTimeout))
	if err != nil {
		return report, fmt.Errorf("query stalled sessions: %w", err)
	}
	for _, session := range stalled {
		report.Scanned++
		s.requeueStalled(ctx, session, &report)
	}

	if report.Scanned > 0 {
		s.logger.InfoContext(ctx, "reassignment scan completed",
			"operation", "reassign_abandoned_sessions",
			"outcome", "success",
			"scanned", report.Scanned,
			"assigned", report.Assigned,
			"requeued", report.Requeued,
			"abandoned", report.Abandoned,
			"skipped", report.Skipped,
			"still_waiting", report.StillWaiting,
		)
	}
	return report, nil
}

func (s *Service) reassignWaiting(ctx context.Context, session domain.SupportSession, report *ReassignReport) {
	claimed, err := s.claims.Claim(ctx, session.SessionID, s.cfg.ClaimTTL)
	if err != nil || !claimed {
		report.Skipped++
		return
	}
	defer func() { _ = s.claims.Release(ctx, session.SessionID) }()

	// Re-read under the claim: a live route call or an earlier scan may have
	// already moved this session on (or the user cancelled it).
	current, err := s.sessions.Get(ctx, session.SessionID)
	if err != nil || current.Status != domain.SessionWaiting {
		report.Skipped++
		return
	}

	if current.ReassignAttempts >= s.cfg.MaxReassignAttempts {
		if ok, err := s.sessions.TransitionStatus(ctx, current.SessionID, domain.SessionWaiting, domain.SessionAbandoned); err == nil && ok {
			report.Abandoned++
			s.logger.WarnContext(ctx, "session permanently abandoned after retry cap",
				"operation", "reassign_waiting",
				"outcome", "abandoned",
				"session_id", current.SessionID,
				"attempts", current.ReassignAttempts,
			)
		} else {
			report.Skipped++
		}
		return
	}

	volunteer, reserved := s.matchAndReserve(ctx, current.Request, current.SessionID)
	if !reserved {
		current.ReassignAttempts++
		if err := s.sessions.Update(ctx, current); err != nil {
			s.logger.WarnContext(ctx, "attempt counter update failed",
				"operation", "reassign_waiting",
				"outcome", "degraded",
				"session_id", current.SessionID,
				"error", err,
			)
		}
		report.StillWaiting++
		return
	}

	ok, err := s.sessions.TransitionStatus(ctx, current.SessionID, domain.SessionWaiting, domain.SessionAssigned)
	if err != nil || !ok {
		// Another path won between our read and the swap; give the slot back.
		if relErr := s.volunteers.ReleaseSlot(ctx, volunteer.Address, current.SessionID); relErr != nil {
			s.logger.ErrorContext(ctx, "slot release after lost reassignment race",
				"operation", "reassign_waiting",
				"outcome", "failure",
				"volunteer", volunteer.Address,
				"session_id", current.SessionID,
				"error", relErr,
			)
		}
		report.Skipped++
		return
	}

	now := s.nowFn()
	current.Status = domain.SessionAssigned
	current.VolunteerAddress = volunteer.Address
	current.AssignmentTime = &now
	if err := s.sessions.Update(ctx, current); err != nil {
		s.logger.ErrorContext(ctx, "session update after reassignment failed",
			"operation", "reassign_waiting",
			"outcome", "failure",
			"session_id", current.SessionID,
			"error", err,
		)
		return
	}
	s.afterAssignment(ctx, volunteer, current)
	report.Assigned++
}

// requeueStalled returns a silent assigned/active session to the wait queue
// and immediately retries the match.
func (s *Service) requeueStalled(ctx context.Context, session domain.SupportSession, report *ReassignReport) {
	claimed, err := s.claims.Claim(ctx, session.SessionID, s.cfg.ClaimTTL)
	if err != nil || !claimed {
		report.Skipped++
		return
	}
	defer func() { _ = s.claims.Release(ctx, session.SessionID) }()

	current, err := s.sessions.Get(ctx, session.SessionID)
	if err != nil || (current.Status != domain.SessionAssigned && current.Status != domain.SessionActive) {
		report.Skipped++
		return
	}

	ok, err := s.sessions.TransitionStatus(ctx, current.SessionID, current.Status, domain.SessionWaiting)
	if err != nil || !ok {
		report.Skipped++
		return
	}
	if current.VolunteerAddress != "" {
		if relErr := s.volunteers.ReleaseSlot(ctx, current.VolunteerAddress, current.SessionID); relErr != nil {
			s.logger.WarnContext(ctx, "slot release on requeue failed",
				"operation", "requeue_stalled",
				"outcome", "degraded",
				"volunteer", current.VolunteerAddress,
				"session_id", current.SessionID,
				"error", relErr,
			)
		}
		s.directory.Invalidate()
	}

	current.Status = domain.SessionWaiting
	current.VolunteerAddress = ""
	current.AssignmentTime = nil
	current.ReassignAttempts++
	if err := s.sessions.Update(ctx, current); err != nil {
		s.logger.ErrorContext(ctx, "session update after requeue failed",
			"operation", "requeue_stalled",
			"outcome", "failure",
			"session_id", current.SessionID,
			"error", err,
		)
		return
	}
	report.Requeued++

	volunteer, reserved := s.matchAndReserve(ctx, current.Request, current.SessionID)
	if !reserved {
		report.StillWaiting++
		return
	}
	if ok, err := s.sessions.TransitionStatus(ctx, current.SessionID, domain.SessionWaiting, domain.SessionAssigned); err != nil || !ok {
		_ = s.volunteers.ReleaseSlot(ctx, volunteer.Address, current.SessionID)
		report.Skipped++
		return
	}
	now := s.nowFn()
	current.Status = domain.SessionAssigned
	current.VolunteerAddress = volunteer.Address
	current.AssignmentTime = &now
	if err := s.sessions.Update(ctx, current); err != nil {
		s.logger.ErrorContext(ctx, "session update after stalled reassignment failed",
			"operation", "requeue_stalled",
			"outcome", "failure",
			"session_id", current.SessionID,
			"error", err,
		)
		return
	}
	s.afterAssignment(ctx, volunteer, current)
	report.Assigned++
}
