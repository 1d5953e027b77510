package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repositories struct {
	Volunteers *VolunteerRepository
	Sessions   *SessionRepository
}

func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Volunteers: &VolunteerRepository{db: db},
		Sessions:   &SessionRepository{db: db},
	}
}

type VolunteerRepository struct {
	db *gorm.DB
}

func (r *VolunteerRepository) QueryAvailable(ctx context.Context) ([]domain.SupportVolunteer, error) {
	var recs []volunteerModel
	if err := r.db.WithContext(ctx).
		Where("status <> ?", string(domain.VolunteerOffline)).
		Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]domain.SupportVolunteer, 0, len(recs))
	for _, rec := range recs {
		v, ok := toDomainVolunteer(rec)
		if !ok {
			slog.Default().WarnContext(ctx, "skipping malformed volunteer row",
				"module", "postgres",
				"layer", "adapter",
				"operation", "query_available",
				"outcome", "skipped",
				"address", rec.Address,
			)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *VolunteerRepository) Get(ctx context.Context, address string) (domain.SupportVolunteer, error) {
	var rec volunteerModel
	if err := r.db.WithContext(ctx).Where("address = ?", address).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.SupportVolunteer{}, domain.ErrNotFound
		}
		return domain.SupportVolunteer{}, err
	}
	v, ok := toDomainVolunteer(rec)
	if !ok {
		return domain.SupportVolunteer{}, domain.ErrNotFound
	}
	return v, nil
}

func (r *VolunteerRepository) Upsert(ctx context.Context, volunteer domain.SupportVolunteer) error {
	rec := toVolunteerModel(volunteer, time.Now().UTC())
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}},
			UpdateAll: true,
		}).
		Create(&rec).Error
}

// ReserveSlot is the atomic conditional capacity increment. The WHERE clause
// carries the capacity invariant so two concurrent reservations for the last
// slot cannot both succeed; the loser sees zero rows affected.
func (r *VolunteerRepository) ReserveSlot(ctx context.Context, address, sessionID string) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE support_volunteers
		SET active_sessions = CASE
		        WHEN active_sessions = '' THEN ?
		        ELSE active_sessions || ',' || ?
		    END,
		    active_session_count = active_session_count + 1,
		    updated_at = now()
		WHERE address = ?
		  AND status = ?
		  AND active_session_count < max_concurrent_sessions
		  AND position(? in active_sessions) = 0`,
		sessionID, sessionID, address, string(domain.VolunteerAvailable), sessionID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrCapacityExhausted
	}
	return nil
}

func (r *VolunteerRepository) ReleaseSlot(ctx context.Context, address, sessionID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec volunteerModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("address = ?", address).Take(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		held := splitCSV(rec.ActiveSessions)
		kept := make([]string, 0, len(held))
		for _, id := range held {
			if id != sessionID {
				kept = append(kept, id)
			}
		}
		if len(kept) == len(held) {
			return nil
		}
		return tx.Model(&volunteerModel{}).
			Where("address = ?", address).
			Updates(map[string]any{
				"active_sessions":      joinCSV(kept),
				"active_session_count": len(kept),
				"updated_at":           time.Now().UTC(),
			}).Error
	})
}

func (r *VolunteerRepository) TouchLastActive(ctx context.Context, address string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&volunteerModel{}).
		Where("address = ?", address).
		Updates(map[string]any{"last_active": at, "updated_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *VolunteerRepository) RecordResolution(ctx context.Context, address string, resolution time.Duration, resolvedAt time.Time) error {
	// Running average folded in SQL so concurrent resolutions do not clobber
	// each other's totals.
	res := r.db.WithContext(ctx).Exec(`
		UPDATE support_volunteers
		SET avg_resolution_seconds = (avg_resolution_seconds * total_sessions + ?) / (total_sessions + 1),
		    total_sessions = total_sessions + 1,
		    last_active = ?,
		    updated_at = ?
		WHERE address = ?`,
		int64(resolution.Seconds()), resolvedAt, resolvedAt, address)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type SessionRepository struct {
	db *gorm.DB
}

func (r *SessionRepository) Create(ctx context.Context, session domain.SupportSession) error {
	rec := toSessionModel(session, time.Now().UTC())
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

// sessionUpdateColumns enumerates every mutable column explicitly. A struct
// update would skip zero values, so a requeue clearing volunteer_address and
// assignment_time back to NULL would silently keep the stale assignment.
func sessionUpdateColumns(rec sessionModel) map[string]any {
	return map[string]any{
		"status":             rec.Status,
		"volunteer_address":  rec.VolunteerAddress,
		"assignment_time":    rec.AssignmentTime,
		"resolution_time":    rec.ResolutionTime,
		"reassign_attempts":  rec.ReassignAttempts,
		"pop_points_awarded": rec.PopPointsAwarded,
		"updated_at":         rec.UpdatedAt,
	}
}

func (r *SessionRepository) Update(ctx context.Context, session domain.SupportSession) error {
	rec := toSessionModel(session, time.Now().UTC())
	res := r.db.WithContext(ctx).Model(&sessionModel{}).
		Where("session_id = ?", session.SessionID).
		Updates(sessionUpdateColumns(rec))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, sessionID string) (domain.SupportSession, error) {
	var rec sessionModel
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.SupportSession{}, domain.ErrNotFound
		}
		return domain.SupportSession{}, err
	}
	return toDomainSession(rec), nil
}

func (r *SessionRepository) QueryWaiting(ctx context.Context, olderThan time.Time) ([]domain.SupportSession, error) {
	var recs []sessionModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND start_time < ?", string(domain.SessionWaiting), olderThan).
		Order("priority_tier DESC, start_time ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]domain.SupportSession, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toDomainSession(rec))
	}
	return out, nil
}

func (r *SessionRepository) QueryStalled(ctx context.Context, silentSince time.Time) ([]domain.SupportSession, error) {
	var recs []sessionModel
	if err := r.db.WithContext(ctx).
		Joins("JOIN support_volunteers v ON v.address = support_sessions.volunteer_address").
		Where("support_sessions.status IN ?", []string{string(domain.SessionAssigned), string(domain.SessionActive)}).
		Where("v.last_active < ?", silentSince).
		Order("support_sessions.start_time ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]domain.SupportSession, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toDomainSession(rec))
	}
	return out, nil
}

func (r *SessionRepository) TransitionStatus(ctx context.Context, sessionID string, from, to domain.SessionStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&sessionModel{}).
		Where("session_id = ? AND status = ?", sessionID, string(from)).
		Updates(map[string]any{"status": string(to), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *SessionRepository) CountWaiting(ctx context.Context) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&sessionModel{}).
		Where("status = ?", string(domain.SessionWaiting)).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *SessionRepository) CountByStatus(ctx context.Context) (map[domain.SessionStatus]int, error) {
	type row struct {
		Status string
		Total  int
	}
	var rows []row
	if err := r.db.WithContext(ctx).Model(&sessionModel{}).
		Select("status, count(*) as total").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[domain.SessionStatus]int, len(rows))
	for _, r := range rows {
		out[domain.SessionStatus(r.Status)] = r.Total
	}
	return out, nil
}
