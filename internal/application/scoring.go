package application

import (
	"sort"
	"time"

	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/domain"
)

// responseTimeReference normalizes average response time: a volunteer
// answering in two minutes scores 0.5 on that component.
const responseTimeReference = 2 * time.Minute

const (
	userScoreBoostFloor = 80
	userScoreBoostBonus = 0.1
)

// ScoreVolunteer computes the match score for one candidate. The second
// return value is false when the candidate is disqualified outright
// (not available, or at capacity). Pure: no I/O, no shared state.
func ScoreVolunteer(req domain.SupportRequest, v domain.SupportVolunteer, cfg Config) (float64, bool) {
	if v.Status != domain.VolunteerAvailable {
		return 0, false
	}
	if v.MaxConcurrentSessions < 1 || v.AtCapacity() {
		return 0, false
	}
	if _, ok := domain.ParseCategory(string(req.Category)); !ok {
		// Unknown categories never collect generalist credit.
		return 0, false
	}

	var score float64

	if v.SpeaksLanguage(req.Language) {
		score += cfg.LanguageWeight
	}

	if v.HasExpertise(req.Category) {
		score += cfg.ExpertiseWeight
	} else {
		score += cfg.ExpertisePartialCredit * cfg.ExpertiseWeight
	}

	score += (v.Rating / 5.0) * cfg.RatingWeight

	responseMinutes := v.AvgResponseTime.Seconds() / responseTimeReference.Seconds()
	score += (1.0 / (1.0 + responseMinutes)) * cfg.ResponseTimeWeight

	load := float64(v.Load()) / float64(v.MaxConcurrentSessions)
	score += (1.0 - load) * cfg.LoadWeight

	score *= req.Priority.Multiplier()

	if cfg.UserScoreBoost && req.UserScore >= userScoreBoostFloor {
		score += userScoreBoostBonus
	}

	return score, true
}

// SelectBest returns the highest-scoring qualified candidate at or above the
// minimum-score floor. Ties break on lower load, then higher rating, then
// address ordering so selection is reproducible.
func SelectBest(req domain.SupportRequest, candidates []domain.SupportVolunteer, cfg Config) (domain.SupportVolunteer, float64, bool) {
	type scored struct {
		volunteer domain.SupportVolunteer
		score     float64
	}
	qualified := make([]scored, 0, len(candidates))
	for _, v := range candidates {
		score, ok := ScoreVolunteer(req, v, cfg)
		if !ok || score < cfg.MinimumScore {
			continue
		}
		qualified = append(qualified, scored{volunteer: v, score: score})
	}
	if len(qualified) == 0 {
		return domain.SupportVolunteer{}, 0, false
	}
	sort.Slice(qualified, func(i, j int) bool {
		a, b := qualified[i], qualified[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.volunteer.Load() != b.volunteer.Load() {
			return a.volunteer.Load() < b.volunteer.Load()
		}
		if a.volunteer.Rating != b.volunteer.Rating {
			return a.volunteer.Rating > b.volunteer.Rating
		}
		return a.volunteer.Address < b.volunteer.Address
	})
	return qualified[0].volunteer, qualified[0].score, true
}
