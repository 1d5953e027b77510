package application

import (
	"time"

	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/ports"
)

// Config holds the per-router routing policy. Weights are relative, not
// probabilities: they do not need to sum to one.
type Config struct {
	MaxWaitTime             time.Duration
	VolunteerSilenceTimeout time.Duration

	LanguageWeight     float64
	ExpertiseWeight    float64
	RatingWeight       float64
	ResponseTimeWeight float64
	LoadWeight         float64

	// ExpertisePartialCredit is the fraction of expertise credit a volunteer
	// without the request's category still earns. Product decision carried
	// from the source behavior; kept configurable pending sign-off.
	ExpertisePartialCredit float64

	// MinimumScore is the floor below which a candidate is not a real match.
	MinimumScore float64

	UserScoreBoost bool

	DirectoryTTL        time.Duration
	MaxReassignAttempts int
	ClaimTTL            time.Duration
}

// Dependencies enumerates everything the router needs at construction.
type Dependencies struct {
	Config        Config
	Volunteers    ports.VolunteerRepository
	Sessions      ports.SessionRepository
	Claims        ports.SessionClaimStore
	Notifications NotificationQueue
}

// NotificationQueue accepts assignment notifications without blocking the
// routing decision. The events dispatcher is the production implementation.
type NotificationQueue interface {
	Enqueue(volunteer domain.SupportVolunteer, session domain.SupportSession) bool
}

// RouteRequestInput is the intake shape for a new support request.
type RouteRequestInput struct {
	RequestID      string `json:"request_id,omitempty"`
	UserAddress    string `json:"user_address"`
	Category       string `json:"category"`
	Priority       string `json:"priority,omitempty"`
	InitialMessage string `json:"initial_message"`
	Language       string `json:"language"`
	UserScore      int    `json:"user_score"`
}

// ReassignReport summarizes one reassignment scan for logging and tests.
type ReassignReport struct {
	Scanned      int `json:"scanned"`
	Assigned     int `json:"assigned"`
	Requeued     int `json:"requeued"`
	Abandoned    int `json:"abandoned"`
	Skipped      int `json:"skipped"`
	StillWaiting int `json:"still_waiting"`
}
