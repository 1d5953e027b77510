package postgres

import (
	"strings"
	"time"

	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/domain"
)

// toDomainVolunteer maps a row to the domain shape. The bool is false for
// malformed rows (missing address, nonsensical numeric fields) so callers
// can skip the single record instead of failing the whole query.
func toDomainVolunteer(rec volunteerModel) (domain.SupportVolunteer, bool) {
	if strings.TrimSpace(rec.Address) == "" {
		return domain.SupportVolunteer{}, false
	}
	status, ok := domain.ParseVolunteerStatus(rec.Status)
	if !ok {
		return domain.SupportVolunteer{}, false
	}
	if rec.MaxConcurrentSessions < 1 || rec.Rating < 0 || rec.Rating > 5 || rec.AvgResponseSeconds < 0 {
		return domain.SupportVolunteer{}, false
	}

	categories := make([]domain.RequestCategory, 0)
	for _, raw := range splitCSV(rec.ExpertiseCategories) {
		if c, ok := domain.ParseCategory(raw); ok {
			categories = append(categories, c)
		}
	}
	var lastActive time.Time
	if rec.LastActive != nil {
		lastActive = *rec.LastActive
	}
	return domain.SupportVolunteer{
		Address:               rec.Address,
		DisplayName:           rec.DisplayName,
		Status:                status,
		Languages:             splitCSV(rec.Languages),
		ExpertiseCategories:   categories,
		Rating:                rec.Rating,
		TotalSessions:         rec.TotalSessions,
		AvgResponseTime:       time.Duration(rec.AvgResponseSeconds) * time.Second,
		AvgResolutionTime:     time.Duration(rec.AvgResolutionSeconds) * time.Second,
		ParticipationScore:    rec.ParticipationScore,
		LastActive:            lastActive,
		ActiveSessions:        splitCSV(rec.ActiveSessions),
		MaxConcurrentSessions: rec.MaxConcurrentSessions,
	}, true
}

func toVolunteerModel(v domain.SupportVolunteer, now time.Time) volunteerModel {
	categories := make([]string, 0, len(v.ExpertiseCategories))
	for _, c := range v.ExpertiseCategories {
		categories = append(categories, string(c))
	}
	var lastActive *time.Time
	if !v.LastActive.IsZero() {
		t := v.LastActive
		lastActive = &t
	}
	return volunteerModel{
		Address:               v.Address,
		DisplayName:           v.DisplayName,
		Status:                string(v.Status),
		Languages:             joinCSV(v.Languages),
		ExpertiseCategories:   joinCSV(categories),
		Rating:                v.Rating,
		TotalSessions:         v.TotalSessions,
		AvgResponseSeconds:    int64(v.AvgResponseTime.Seconds()),
		AvgResolutionSeconds:  int64(v.AvgResolutionTime.Seconds()),
		ParticipationScore:    v.ParticipationScore,
		LastActive:            lastActive,
		ActiveSessions:        joinCSV(v.ActiveSessions),
		ActiveSessionCount:    len(v.ActiveSessions),
		MaxConcurrentSessions: v.MaxConcurrentSessions,
		UpdatedAt:             now,
	}
}

func toDomainSession(rec sessionModel) domain.SupportSession {
	category, _ := domain.ParseCategory(rec.Category)
	priority, _ := domain.ParsePriority(rec.Priority)
	volunteer := ""
	if rec.VolunteerAddress != nil {
		volunteer = *rec.VolunteerAddress
	}
	return domain.SupportSession{
		SessionID: rec.SessionID,
		Request: domain.SupportRequest{
			RequestID:      rec.RequestID,
			UserAddress:    rec.UserAddress,
			Category:       category,
			Priority:       priority,
			InitialMessage: rec.InitialMessage,
			Language:       rec.Language,
			UserScore:      rec.UserScore,
			CreatedAt:      rec.RequestCreatedAt,
		},
		VolunteerAddress: volunteer,
		Status:           domain.SessionStatus(rec.Status),
		StartTime:        rec.StartTime,
		AssignmentTime:   rec.AssignmentTime,
		ResolutionTime:   rec.ResolutionTime,
		ReassignAttempts: rec.ReassignAttempts,
		PopPointsAwarded: rec.PopPointsAwarded,
	}
}

func toSessionModel(s domain.SupportSession, now time.Time) sessionModel {
	var volunteer *string
	if s.VolunteerAddress != "" {
		v := s.VolunteerAddress
		volunteer = &v
	}
	return sessionModel{
		SessionID:        s.SessionID,
		RequestID:        s.Request.RequestID,
		UserAddress:      s.Request.UserAddress,
		Category:         string(s.Request.Category),
		Priority:         string(s.Request.Priority),
		PriorityTier:     s.Request.Priority.Tier(),
		InitialMessage:   s.Request.InitialMessage,
		Language:         s.Request.Language,
		UserScore:        s.Request.UserScore,
		RequestCreatedAt: s.Request.CreatedAt,
		VolunteerAddress: volunteer,
		Status:           string(s.Status),
		StartTime:        s.StartTime,
		AssignmentTime:   s.AssignmentTime,
		ResolutionTime:   s.ResolutionTime,
		ReassignAttempts: s.ReassignAttempts,
		PopPointsAwarded: s.PopPointsAwarded,
		UpdatedAt:        now,
	}
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func joinCSV(items []string) string {
	return strings.Join(items, ",")
}
