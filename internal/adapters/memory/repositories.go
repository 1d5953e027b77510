package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/domain"
)

// Repositories bundles the in-memory adapters used by tests and local runs.
type Repositories struct {
	Volunteers *VolunteerRepository
	Sessions   *SessionRepository
	Claims     *ClaimStore
}

func NewRepositories() *Repositories {
	volunteers := &VolunteerRepository{rows: map[string]domain.SupportVolunteer{}}
	sessions := &SessionRepository{rows: map[string]domain.SupportSession{}}
	sessions.BindVolunteers(volunteers)
	return &Repositories{
		Volunteers: volunteers,
		Sessions:   sessions,
		Claims:     &ClaimStore{claims: map[string]time.Time{}},
	}
}

type VolunteerRepository struct {
	mu   sync.Mutex
	rows map[string]domain.SupportVolunteer
}

func (r *VolunteerRepository) QueryAvailable(_ context.Context) ([]domain.SupportVolunteer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]domain.SupportVolunteer, 0, len(r.rows))
	for _, v := range r.rows {
		if v.Status == domain.VolunteerOffline {
			continue
		}
		items = append(items, cloneVolunteer(v))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Address < items[j].Address })
	return items, nil
}

func (r *VolunteerRepository) Get(_ context.Context, address string) (domain.SupportVolunteer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.rows[strings.TrimSpace(address)]
	if !ok {
		return domain.SupportVolunteer{}, domain.ErrNotFound
	}
	return cloneVolunteer(v), nil
}

func (r *VolunteerRepository) Upsert(_ context.Context, volunteer domain.SupportVolunteer) error {
	if strings.TrimSpace(volunteer.Address) == "" {
		return domain.ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[volunteer.Address] = cloneVolunteer(volunteer)
	return nil
}

func (r *VolunteerRepository) ReserveSlot(_ context.Context, address, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.rows[address]
	if !ok {
		return domain.ErrNotFound
	}
	if v.Status != domain.VolunteerAvailable || v.AtCapacity() {
		return domain.ErrCapacityExhausted
	}
	for _, id := range v.ActiveSessions {
		if id == sessionID {
			return nil
		}
	}
	v.ActiveSessions = append(append([]string{}, v.ActiveSessions...), sessionID)
	r.rows[address] = v
	return nil
}

func (r *VolunteerRepository) ReleaseSlot(_ context.Context, address, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.rows[address]
	if !ok {
		return domain.ErrNotFound
	}
	kept := make([]string, 0, len(v.ActiveSessions))
	for _, id := range v.ActiveSessions {
		if id != sessionID {
			kept = append(kept, id)
		}
	}
	v.ActiveSessions = kept
	r.rows[address] = v
	return nil
}

func (r *VolunteerRepository) TouchLastActive(_ context.Context, address string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.rows[address]
	if !ok {
		return domain.ErrNotFound
	}
	v.LastActive = at
	r.rows[address] = v
	return nil
}

func (r *VolunteerRepository) RecordResolution(_ context.Context, address string, resolution time.Duration, resolvedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.rows[address]
	if !ok {
		return domain.ErrNotFound
	}
	total := v.AvgResolutionTime*time.Duration(v.TotalSessions) + resolution
	v.TotalSessions++
	v.AvgResolutionTime = total / time.Duration(v.TotalSessions)
	v.LastActive = resolvedAt
	r.rows[address] = v
	return nil
}

func cloneVolunteer(v domain.SupportVolunteer) domain.SupportVolunteer {
	out := v
	out.Languages = append([]string{}, v.Languages...)
	out.ExpertiseCategories = append([]domain.RequestCategory{}, v.ExpertiseCategories...)
	out.ActiveSessions = append([]string{}, v.ActiveSessions...)
	return out
}

type SessionRepository struct {
	mu   sync.Mutex
	rows map[string]domain.SupportSession

	// volunteers, when set, lets QueryStalled consult volunteer activity the
	// way the SQL join does.
	volunteers *VolunteerRepository
}

// BindVolunteers wires volunteer activity lookups into stalled-session scans.
func (r *SessionRepository) BindVolunteers(volunteers *VolunteerRepository) {
	r.volunteers = volunteers
}

func (r *SessionRepository) Create(_ context.Context, session domain.SupportSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[session.SessionID]; ok {
		return domain.ErrConflict
	}
	r.rows[session.SessionID] = session
	return nil
}

func (r *SessionRepository) Update(_ context.Context, session domain.SupportSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[session.SessionID]; !ok {
		return domain.ErrNotFound
	}
	r.rows[session.SessionID] = session
	return nil
}

func (r *SessionRepository) Get(_ context.Context, sessionID string) (domain.SupportSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.rows[strings.TrimSpace(sessionID)]
	if !ok {
		return domain.SupportSession{}, domain.ErrNotFound
	}
	return session, nil
}

func (r *SessionRepository) QueryWaiting(_ context.Context, olderThan time.Time) ([]domain.SupportSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]domain.SupportSession, 0)
	for _, s := range r.rows {
		if s.Status != domain.SessionWaiting || !s.StartTime.Before(olderThan) {
			continue
		}
		items = append(items, s)
	}
	sort.Slice(items, func(i, j int) bool {
		ti, tj := items[i].Request.Priority.Tier(), items[j].Request.Priority.Tier()
		if ti != tj {
			return ti > tj
		}
		return items[i].StartTime.Before(items[j].StartTime)
	})
	return items, nil
}

func (r *SessionRepository) QueryStalled(ctx context.Context, silentSince time.Time) ([]domain.SupportSession, error) {
	r.mu.Lock()
	rows := make([]domain.SupportSession, 0)
	for _, s := range r.rows {
		if s.Status == domain.SessionAssigned || s.Status == domain.SessionActive {
			rows = append(rows, s)
		}
	}
	r.mu.Unlock()

	items := make([]domain.SupportSession, 0)
	for _, s := range rows {
		if s.VolunteerAddress == "" || r.volunteers == nil {
			continue
		}
		v, err := r.volunteers.Get(ctx, s.VolunteerAddress)
		if err != nil {
			continue
		}
		if v.LastActive.Before(silentSince) {
			items = append(items, s)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].StartTime.Before(items[j].StartTime) })
	return items, nil
}

func (r *SessionRepository) TransitionStatus(_ context.Context, sessionID string, from, to domain.SessionStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.rows[sessionID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if session.Status != from {
		return false, nil
	}
	session.Status = to
	r.rows[sessionID] = session
	return true, nil
}

func (r *SessionRepository) CountWaiting(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, s := range r.rows {
		if s.Status == domain.SessionWaiting {
			count++
		}
	}
	return count, nil
}

func (r *SessionRepository) CountByStatus(_ context.Context) (map[domain.SessionStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[domain.SessionStatus]int{}
	for _, s := range r.rows {
		counts[s.Status]++
	}
	return counts, nil
}

// ClaimStore is the single-process claim implementation. Production runs use
// the redis store so claims hold across router instances.
type ClaimStore struct {
	mu     sync.Mutex
	claims map[string]time.Time
}

func NewClaimStore() *ClaimStore {
	return &ClaimStore{claims: map[string]time.Time{}}
}

func (c *ClaimStore) Claim(_ context.Context, sessionID string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if expiry, ok := c.claims[sessionID]; ok && now.Before(expiry) {
		return false, nil
	}
	c.claims[sessionID] = now.Add(ttl)
	return true, nil
}

func (c *ClaimStore) Release(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claims, sessionID)
	return nil
}
