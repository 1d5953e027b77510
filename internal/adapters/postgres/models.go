package postgres

import "time"

type volunteerModel struct {
	Address               string     `gorm:"column:address;primaryKey"`
	DisplayName           string     `gorm:"column:display_name"`
	Status                string     `gorm:"column:status"`
	Languages             string     `gorm:"column:languages"`
	ExpertiseCategories   string     `gorm:"column:expertise_categories"`
	Rating                float64    `gorm:"column:rating"`
	TotalSessions         int        `gorm:"column:total_sessions"`
	AvgResponseSeconds    int64      `gorm:"column:avg_response_seconds"`
	AvgResolutionSeconds  int64      `gorm:"column:avg_resolution_seconds"`
	ParticipationScore    float64    `gorm:"column:participation_score"`
	LastActive            *time.Time `gorm:"column:last_active"`
	ActiveSessions        string     `gorm:"column:active_sessions"`
	ActiveSessionCount    int        `gorm:"column:active_session_count"`
	MaxConcurrentSessions int        `gorm:"column:max_concurrent_sessions"`
	UpdatedAt             time.Time  `gorm:"column:updated_at"`
}

func (volunteerModel) TableName() string { return "support_volunteers" }

type sessionModel struct {
	SessionID        string     `gorm:"column:session_id;primaryKey"`
	RequestID        string     `gorm:"column:request_id"`
	UserAddress      string     `gorm:"column:user_address"`
	Category         string     `gorm:"column:category"`
	Priority         string     `gorm:"column:priority"`
	PriorityTier     int        `gorm:"column:priority_tier"`
	InitialMessage   string     `gorm:"column:initial_message"`
	Language         string     `gorm:"column:language"`
	UserScore        int        `gorm:"column:user_score"`
	RequestCreatedAt time.Time  `gorm:"column:request_created_at"`
	VolunteerAddress *string    `gorm:"column:volunteer_address"`
	Status           string     `gorm:"column:status"`
	StartTime        time.Time  `gorm:"column:start_time"`
	AssignmentTime   *time.Time `gorm:"column:assignment_time"`
	ResolutionTime   *time.Time `gorm:"column:resolution_time"`
	ReassignAttempts int        `gorm:"column:reassign_attempts"`
	PopPointsAwarded int        `gorm:"column:pop_points_awarded"`
	UpdatedAt        time.Time  `gorm:"column:updated_at"`
}

func (sessionModel) TableName() string { return "support_sessions" }
