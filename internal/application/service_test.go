package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/domain"
)

type captureQueue struct {
	sessions []domain.SupportSession
	full     bool
}

func (q *captureQueue) Enqueue(_ domain.SupportVolunteer, session domain.SupportSession) bool {
	if q.full {
		return false
	}
	q.sessions = append(q.sessions, session)
	return true
}

func newTestService(cfg Config) (*Service, *memory.Repositories, *captureQueue) {
	repos := memory.NewRepositories()
	queue := &captureQueue{}
	svc := NewService(Dependencies{
		Config:        cfg,
		Volunteers:    repos.Volunteers,
		Sessions:      repos.Sessions,
		Claims:        repos.Claims,
		Notifications: queue,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, repos, queue
}

func addVolunteer(t *testing.T, svc *Service, repos *memory.Repositories, v domain.SupportVolunteer) {
	t.Helper()
	if err := repos.Volunteers.Upsert(context.Background(), v); err != nil {
		t.Fatalf("upsert volunteer: %v", err)
	}
	svc.directory.Invalidate()
}

func routeInput() RouteRequestInput {
	return RouteRequestInput{
		UserAddress:    "0xuser",
		Category:       "technical",
		Priority:       "medium",
		InitialMessage: "cannot log in",
		Language:       "en",
		UserScore:      60,
	}
}

func TestRouteRequestAssignsBestCandidate(t *testing.T) {
	svc, repos, queue := newTestService(testConfig())
	addVolunteer(t, svc, repos, testVolunteer("0xv1"))

	session, err := svc.RouteRequest(context.Background(), routeInput())
	if err != nil {
		t.Fatalf("route request: %v", err)
	}
	if session.Status != domain.SessionAssigned {
		t.Fatalf("expected assigned session, got %s", session.Status)
	}
	if session.VolunteerAddress != "0xv1" {
		t.Fatalf("expected volunteer 0xv1, got %q", session.VolunteerAddress)
	}
	if session.AssignmentTime == nil {
		t.Fatalf("expected assignment time to be stamped")
	}

	v, err := repos.Volunteers.Get(context.Background(), "0xv1")
	if err != nil {
		t.Fatalf("get volunteer: %v", err)
	}
	if v.Load() != 1 || v.ActiveSessions[0] != session.SessionID {
		t.Fatalf("expected session recorded against volunteer, got %v", v.ActiveSessions)
	}
	if len(queue.sessions) != 1 || queue.sessions[0].SessionID != session.SessionID {
		t.Fatalf("expected one assignment notification, got %d", len(queue.sessions))
	}
}

func TestRouteRequestQueuesWhenNoCandidates(t *testing.T) {
	svc, _, queue := newTestService(testConfig())

	session, err := svc.RouteRequest(context.Background(), routeInput())
	if err != nil {
		t.Fatalf("route request: %v", err)
	}
	if session.Status != domain.SessionWaiting {
		t.Fatalf("expected waiting session, got %s", session.Status)
	}
	if session.VolunteerAddress != "" {
		t.Fatalf("waiting session should carry no volunteer, got %q", session.VolunteerAddress)
	}
	if len(queue.sessions) != 0 {
		t.Fatalf("no notification expected for queued requests")
	}
}

func TestRouteRequestNeverExceedsCapacity(t *testing.T) {
	svc, repos, _ := newTestService(testConfig())
	v := testVolunteer("0xv1")
	v.MaxConcurrentSessions = 1
	addVolunteer(t, svc, repos, v)

	first, err := svc.RouteRequest(context.Background(), routeInput())
	if err != nil {
		t.Fatalf("first route: %v", err)
	}
	if first.Status != domain.SessionAssigned {
		t.Fatalf("expected first request assigned, got %s", first.Status)
	}

	second, err := svc.RouteRequest(context.Background(), routeInput())
	if err != nil {
		t.Fatalf("second route: %v", err)
	}
	if second.Status != domain.SessionWaiting {
		t.Fatalf("expected second request queued, got %s", second.Status)
	}

	stored, _ := repos.Volunteers.Get(context.Background(), "0xv1")
	if stored.Load() > stored.MaxConcurrentSessions {
		t.Fatalf("capacity exceeded: load %d max %d", stored.Load(), stored.MaxConcurrentSessions)
	}
}

func TestConcurrentRouteRequestsRespectCapacity(t *testing.T) {
	svc, repos, _ := newTestService(testConfig())
	v := testVolunteer("0xv1")
	v.MaxConcurrentSessions = 1
	addVolunteer(t, svc, repos, v)

	const callers = 16
	sessions := make([]domain.SupportSession, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = svc.RouteRequest(context.Background(), routeInput())
		}(i)
	}
	wg.Wait()

	assigned := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		switch sessions[i].Status {
		case domain.SessionAssigned:
			assigned++
		case domain.SessionWaiting:
		default:
			t.Fatalf("caller %d: unexpected status %s", i, sessions[i].Status)
		}
	}
	if assigned != 1 {
		t.Fatalf("expected exactly one assignment for a single slot, got %d", assigned)
	}

	stored, err := repos.Volunteers.Get(context.Background(), "0xv1")
	if err != nil {
		t.Fatalf("get volunteer: %v", err)
	}
	if stored.Load() > stored.MaxConcurrentSessions {
		t.Fatalf("capacity exceeded under contention: load %d max %d", stored.Load(), stored.MaxConcurrentSessions)
	}
}

func TestRouteRequestRejectsInvalidInput(t *testing.T) {
	svc, _, _ := newTestService(testConfig())

	cases := []RouteRequestInput{
		{Category: "technical", Language: "en"},                               // missing user
		{UserAddress: "0xu", Category: "nonsense", Language: "en"},            // unknown category
		{UserAddress: "0xu", Category: "technical"},                           // missing language
		{UserAddress: "0xu", Category: "technical", Language: "en", UserScore: 101},
		{UserAddress: "0xu", Category: "technical", Priority: "asap", Language: "en"},
	}
	for i, input := range cases {
		if _, err := svc.RouteRequest(context.Background(), input); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestRouteRequestDefaultsPriorityToMedium(t *testing.T) {
	svc, _, _ := newTestService(testConfig())
	input := routeInput()
	input.Priority = ""

	session, err := svc.RouteRequest(context.Background(), input)
	if err != nil {
		t.Fatalf("route request: %v", err)
	}
	if session.Request.Priority != domain.PriorityMedium {
		t.Fatalf("expected medium default, got %s", session.Request.Priority)
	}
}

func TestFindBestVolunteerDoesNotReserve(t *testing.T) {
	svc, repos, _ := newTestService(testConfig())
	addVolunteer(t, svc, repos, testVolunteer("0xv1"))

	best, err := svc.FindBestVolunteer(context.Background(), routeInput())
	if err != nil {
		t.Fatalf("find best: %v", err)
	}
	if best == nil || best.Address != "0xv1" {
		t.Fatalf("expected 0xv1, got %+v", best)
	}
	stored, _ := repos.Volunteers.Get(context.Background(), "0xv1")
	if stored.Load() != 0 {
		t.Fatalf("probe must not reserve capacity, load=%d", stored.Load())
	}
}

func TestReassignPicksUpAgedWaitingSession(t *testing.T) {
	svc, repos, _ := newTestService(testConfig())
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc.nowFn = func() time.Time { return start }

	session, err := svc.RouteRequest(context.Background(), routeInput())
	if err != nil {
		t.Fatalf("route request: %v", err)
	}
	if session.Status != domain.SessionWaiting {
		t.Fatalf("expected waiting session, got %s", session.Status)
	}

	addVolunteer(t, svc, repos, testVolunteer("0xv1"))
	svc.nowFn = func() time.Time { return start.Add(6 * time.Minute) }

	report, err := svc.ReassignAbandonedSessions(context.Background())
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if report.Assigned != 1 {
		t.Fatalf("expected one assignment, report %+v", report)
	}

	got, err := svc.GetSession(context.Background(), session.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != domain.SessionAssigned || got.VolunteerAddress != "0xv1" {
		t.Fatalf("expected session assigned to 0xv1, got %s/%s", got.Status, got.VolunteerAddress)
	}
	if got.ReassignAttempts != 0 {
		t.Fatalf("successful reassignment should not burn an attempt, got %d", got.ReassignAttempts)
	}

	// A second scan finds nothing left to do.
	report, err = svc.ReassignAbandonedSessions(context.Background())
	if err != nil {
		t.Fatalf("second reassign: %v", err)
	}
	if report.Scanned != 0 {
		t.Fatalf("second scan should be a no-op, report %+v", report)
	}
	stored, _ := repos.Volunteers.Get(context.Background(), "0xv1")
	if stored.Load() != 1 {
		t.Fatalf("expected exactly one reserved slot, load=%d", stored.Load())
	}
}

func TestReassignIncrementsAttemptsWhenNoMatch(t *testing.T) {
	svc, _, _ := newTestService(testConfig())
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc.nowFn = func() time.Time { return start }

	session, err := svc.RouteRequest(context.Background(), routeInput())
	if err != nil {
		t.Fatalf("route request: %v", err)
	}

	svc.nowFn = func() time.Time { return start.Add(6 * time.Minute) }
	report, err := svc.ReassignAbandonedSessions(context.Background())
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if report.StillWaiting != 1 {
		t.Fatalf("expected session left waiting, report %+v", report)
	}
	got, _ := svc.GetSession(context.Background(), session.SessionID)
	if got.ReassignAttempts != 1 {
		t.Fatalf("expected one recorded attempt, got %d", got.ReassignAttempts)
	}
}

func TestReassignAbandonsAfterRetryCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReassignAttempts = 3
	svc, repos, _ := newTestService(cfg)
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc.nowFn = func() time.Time { return start.Add(10 * time.Minute) }

	session := domain.SupportSession{
		SessionID: "sess-capped",
		Request: domain.SupportRequest{
			RequestID:   "req-capped",
			UserAddress: "0xuser",
			Category:    domain.CategoryTechnical,
			Priority:    domain.PriorityHigh,
			Language:    "en",
		},
		Status:           domain.SessionWaiting,
		StartTime:        start,
		ReassignAttempts: 3,
	}
	if err := repos.Sessions.Create(context.Background(), session); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	report, err := svc.ReassignAbandonedSessions(context.Background())
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if report.Abandoned != 1 {
		t.Fatalf("expected abandonment, report %+v", report)
	}
	got, _ := svc.GetSession(context.Background(), "sess-capped")
	if got.Status != domain.SessionAbandoned {
		t.Fatalf("expected abandoned, got %s", got.Status)
	}

	// Terminal sessions stay terminal on later scans.
	report, _ = svc.ReassignAbandonedSessions(context.Background())
	if report.Scanned != 0 {
		t.Fatalf("abandoned session must not be rescanned, report %+v", report)
	}
}

func TestReassignRequeuesStalledAssignment(t *testing.T) {
	svc, repos, _ := newTestService(testConfig())
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc.nowFn = func() time.Time { return start }
	addVolunteer(t, svc, repos, testVolunteer("0xv1"))

	session, err := svc.RouteRequest(context.Background(), routeInput())
	if err != nil {
		t.Fatalf("route request: %v", err)
	}
	if session.Status != domain.SessionAssigned {
		t.Fatalf("expected assigned session, got %s", session.Status)
	}

	// 16 minutes of volunteer silence exceeds the 15 minute timeout.
	svc.nowFn = func() time.Time { return start.Add(16 * time.Minute) }
	report, err := svc.ReassignAbandonedSessions(context.Background())
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if report.Requeued != 1 {
		t.Fatalf("expected stalled session requeued, report %+v", report)
	}
	if report.Assigned != 1 {
		t.Fatalf("expected immediate re-match, report %+v", report)
	}

	got, _ := svc.GetSession(context.Background(), session.SessionID)
	if got.Status != domain.SessionAssigned {
		t.Fatalf("expected reassigned session, got %s", got.Status)
	}
	if got.ReassignAttempts != 1 {
		t.Fatalf("requeue should record an attempt, got %d", got.ReassignAttempts)
	}

	// The fresh activity stamp keeps the session out of the next scan.
	report, _ = svc.ReassignAbandonedSessions(context.Background())
	if report.Scanned != 0 {
		t.Fatalf("expected quiet second scan, report %+v", report)
	}
	stored, _ := repos.Volunteers.Get(context.Background(), "0xv1")
	if stored.Load() != 1 {
		t.Fatalf("expected a single held slot after requeue cycle, load=%d", stored.Load())
	}
}

func TestCancelledSessionIsSkippedByScan(t *testing.T) {
	svc, _, _ := newTestService(testConfig())
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc.nowFn = func() time.Time { return start }

	session, err := svc.RouteRequest(context.Background(), routeInput())
	if err != nil {
		t.Fatalf("route request: %v", err)
	}
	cancelled, err := svc.CancelSession(context.Background(), session.SessionID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.SessionCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	svc.nowFn = func() time.Time { return start.Add(10 * time.Minute) }
	report, err := svc.ReassignAbandonedSessions(context.Background())
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if report.Scanned != 0 {
		t.Fatalf("cancelled session must not be scanned, report %+v", report)
	}
}

func TestCancelRejectsAssignedSession(t *testing.T) {
	svc, repos, _ := newTestService(testConfig())
	addVolunteer(t, svc, repos, testVolunteer("0xv1"))

	session, err := svc.RouteRequest(context.Background(), routeInput())
	if err != nil {
		t.Fatalf("route request: %v", err)
	}
	if _, err := svc.CancelSession(context.Background(), session.SessionID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestAcceptAndResolveLifecycle(t *testing.T) {
	svc, repos, _ := newTestService(testConfig())
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc.nowFn = func() time.Time { return start }
	addVolunteer(t, svc, repos, testVolunteer("0xv1"))

	input := routeInput()
	input.Priority = "urgent"
	session, err := svc.RouteRequest(context.Background(), input)
	if err != nil {
		t.Fatalf("route request: %v", err)
	}

	accepted, err := svc.AcceptSession(context.Background(), session.SessionID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != domain.SessionActive {
		t.Fatalf("expected active, got %s", accepted.Status)
	}
	if _, err := svc.AcceptSession(context.Background(), session.SessionID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("double accept should fail, got %v", err)
	}

	svc.nowFn = func() time.Time { return start.Add(20 * time.Minute) }
	resolved, err := svc.ResolveSession(context.Background(), session.SessionID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != domain.SessionResolved {
		t.Fatalf("expected resolved, got %s", resolved.Status)
	}
	if resolved.PopPointsAwarded != 40 {
		t.Fatalf("expected urgent pop points 40, got %d", resolved.PopPointsAwarded)
	}
	if resolved.ResolutionTime == nil {
		t.Fatalf("expected resolution time stamped")
	}

	v, _ := repos.Volunteers.Get(context.Background(), "0xv1")
	if v.Load() != 0 {
		t.Fatalf("expected slot released on resolution, load=%d", v.Load())
	}
	if v.TotalSessions != 1 {
		t.Fatalf("expected throughput stat folded in, total=%d", v.TotalSessions)
	}
	if v.AvgResolutionTime != 20*time.Minute {
		t.Fatalf("unexpected resolution average %s", v.AvgResolutionTime)
	}

	if _, err := svc.ResolveSession(context.Background(), session.SessionID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("double resolve should fail, got %v", err)
	}
}

func TestResolveWaitingSessionRejected(t *testing.T) {
	svc, _, _ := newTestService(testConfig())
	session, err := svc.RouteRequest(context.Background(), routeInput())
	if err != nil {
		t.Fatalf("route request: %v", err)
	}
	if _, err := svc.ResolveSession(context.Background(), session.SessionID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestGetSessionValidation(t *testing.T) {
	svc, _, _ := newTestService(testConfig())
	if _, err := svc.GetSession(context.Background(), "  "); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.GetSession(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRoutingStatsReflectQueueAndDirectory(t *testing.T) {
	svc, repos, _ := newTestService(testConfig())
	v := testVolunteer("0xv1")
	v.MaxConcurrentSessions = 1
	addVolunteer(t, svc, repos, v)
	other := testVolunteer("0xv2")
	other.Status = domain.VolunteerAway
	addVolunteer(t, svc, repos, other)

	assigned, err := svc.RouteRequest(context.Background(), routeInput())
	if err != nil {
		t.Fatalf("route assigned: %v", err)
	}
	if assigned.Status != domain.SessionAssigned {
		t.Fatalf("expected assignment, got %s", assigned.Status)
	}

	// The only available volunteer is now at capacity; the next request queues.
	queued, err := svc.RouteRequest(context.Background(), routeInput())
	if err != nil {
		t.Fatalf("route queued: %v", err)
	}
	if queued.Status != domain.SessionWaiting {
		t.Fatalf("expected queued, got %s", queued.Status)
	}

	stats := svc.GetRoutingStats(context.Background())
	if stats.AvailableVolunteers != 1 {
		t.Fatalf("expected one available volunteer, got %d", stats.AvailableVolunteers)
	}
	if stats.QueuedRequests != 1 {
		t.Fatalf("expected one queued request, got %d", stats.QueuedRequests)
	}
	if stats.RoutingEfficiency != 0.5 {
		t.Fatalf("expected efficiency 0.5, got %f", stats.RoutingEfficiency)
	}
}

func TestNotificationQueueFullIsNonFatal(t *testing.T) {
	svc, repos, queue := newTestService(testConfig())
	queue.full = true
	addVolunteer(t, svc, repos, testVolunteer("0xv1"))

	session, err := svc.RouteRequest(context.Background(), routeInput())
	if err != nil {
		t.Fatalf("route request: %v", err)
	}
	if session.Status != domain.SessionAssigned {
		t.Fatalf("dropped notification must not affect routing, got %s", session.Status)
	}
}
