package domain

import "time"

// RequestCategory is the closed set of support categories a request can carry.
// Scoring matches these against volunteer expertise; unknown values are
// rejected at intake so they can never silently collect generalist credit.
type RequestCategory string

const (
	CategoryTechnical RequestCategory = "technical"
	CategoryAccount   RequestCategory = "account"
	CategoryBilling   RequestCategory = "billing"
	CategoryContent   RequestCategory = "content"
	CategorySafety    RequestCategory = "safety"
	CategoryOther     RequestCategory = "other"
)

// RequestPriority orders requests into tiers and scales the match score.
type RequestPriority string

const (
	PriorityLow    RequestPriority = "low"
	PriorityMedium RequestPriority = "medium"
	PriorityHigh   RequestPriority = "high"
	PriorityUrgent RequestPriority = "urgent"
)

// Tier maps a priority to its queue ordering rank; higher drains first.
func (p RequestPriority) Tier() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// Multiplier is the score scaling applied after the weighted component sum.
func (p RequestPriority) Multiplier() float64 {
	switch p {
	case PriorityUrgent:
		return 1.5
	case PriorityHigh:
		return 1.2
	case PriorityLow:
		return 0.9
	default:
		return 1.0
	}
}

type VolunteerStatus string

const (
	VolunteerAvailable VolunteerStatus = "available"
	VolunteerBusy      VolunteerStatus = "busy"
	VolunteerAway      VolunteerStatus = "away"
	VolunteerOffline   VolunteerStatus = "offline"
)

type SessionStatus string

const (
	SessionWaiting   SessionStatus = "waiting"
	SessionAssigned  SessionStatus = "assigned"
	SessionActive    SessionStatus = "active"
	SessionResolved  SessionStatus = "resolved"
	SessionAbandoned SessionStatus = "abandoned"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether a session can no longer transition.
func (s SessionStatus) Terminal() bool {
	return s == SessionResolved || s == SessionAbandoned || s == SessionCancelled
}

// SupportRequest is immutable once created. It is produced by an external
// intake step and consumed exactly once by the router.
type SupportRequest struct {
	RequestID      string          `json:"request_id"`
	UserAddress    string          `json:"user_address"`
	Category       RequestCategory `json:"category"`
	Priority       RequestPriority `json:"priority"`
	InitialMessage string          `json:"initial_message"`
	Language       string          `json:"language"`
	UserScore      int             `json:"user_score"`
	CreatedAt      time.Time       `json:"created_at"`
}

// SupportVolunteer mirrors the authoritative volunteer record. The directory
// cache serves read-only copies; the persistence store owns mutation.
type SupportVolunteer struct {
	Address               string            `json:"address"`
	DisplayName           string            `json:"display_name"`
	Status                VolunteerStatus   `json:"status"`
	Languages             []string          `json:"languages"`
	ExpertiseCategories   []RequestCategory `json:"expertise_categories"`
	Rating                float64           `json:"rating"`
	TotalSessions         int               `json:"total_sessions"`
	AvgResponseTime       time.Duration     `json:"avg_response_time"`
	AvgResolutionTime     time.Duration     `json:"avg_resolution_time"`
	ParticipationScore    float64           `json:"participation_score"`
	LastActive            time.Time         `json:"last_active"`
	ActiveSessions        []string          `json:"active_sessions"`
	MaxConcurrentSessions int               `json:"max_concurrent_sessions"`
}

// Load is the number of sessions the volunteer currently holds.
func (v SupportVolunteer) Load() int { return len(v.ActiveSessions) }

// AtCapacity reports whether the volunteer cannot take another session.
func (v SupportVolunteer) AtCapacity() bool {
	return v.MaxConcurrentSessions > 0 && len(v.ActiveSessions) >= v.MaxConcurrentSessions
}

// SpeaksLanguage reports membership in the volunteer's language set.
func (v SupportVolunteer) SpeaksLanguage(lang string) bool {
	for _, l := range v.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// HasExpertise reports membership in the volunteer's expertise set.
func (v SupportVolunteer) HasExpertise(category RequestCategory) bool {
	for _, c := range v.ExpertiseCategories {
		if c == category {
			return true
		}
	}
	return false
}

// SupportSession tracks one request from intake through resolution or
// abandonment. The router exclusively owns its lifecycle transitions.
type SupportSession struct {
	SessionID        string         `json:"session_id"`
	Request          SupportRequest `json:"request"`
	VolunteerAddress string         `json:"volunteer_address,omitempty"`
	Status           SessionStatus  `json:"status"`
	StartTime        time.Time      `json:"start_time"`
	AssignmentTime   *time.Time     `json:"assignment_time,omitempty"`
	ResolutionTime   *time.Time     `json:"resolution_time,omitempty"`
	ReassignAttempts int            `json:"reassign_attempts"`
	PopPointsAwarded int            `json:"pop_points_awarded"`
}

// RoutingStats is the best-effort operational snapshot exposed to callers.
// Every field degrades to zero when the underlying query fails.
type RoutingStats struct {
	AvailableVolunteers int           `json:"available_volunteers"`
	QueuedRequests      int           `json:"queued_requests"`
	AverageWaitTime     time.Duration `json:"average_wait_time"`
	RoutingEfficiency   float64       `json:"routing_efficiency"`
}

// ParseCategory validates a raw category string against the closed enum.
func ParseCategory(raw string) (RequestCategory, bool) {
	switch RequestCategory(raw) {
	case CategoryTechnical, CategoryAccount, CategoryBilling, CategoryContent, CategorySafety, CategoryOther:
		return RequestCategory(raw), true
	}
	return "", false
}

// ParsePriority validates a raw priority string; empty defaults to medium.
func ParsePriority(raw string) (RequestPriority, bool) {
	switch RequestPriority(raw) {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return RequestPriority(raw), true
	case "":
		return PriorityMedium, true
	}
	return "", false
}

// ParseVolunteerStatus validates a raw volunteer status string.
func ParseVolunteerStatus(raw string) (VolunteerStatus, bool) {
	switch VolunteerStatus(raw) {
	case VolunteerAvailable, VolunteerBusy, VolunteerAway, VolunteerOffline:
		return VolunteerStatus(raw), true
	}
	return "", false
}
