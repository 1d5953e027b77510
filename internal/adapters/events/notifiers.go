package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/domain"
)

const eventVolunteerAssigned = "support.routing.volunteer_assigned"

// assignedEvent is the wire payload shared by every notifier backend.
type assignedEvent struct {
	EventType        string    `json:"event_type"`
	SessionID        string    `json:"session_id"`
	RequestID        string    `json:"request_id"`
	VolunteerAddress string    `json:"volunteer_address"`
	VolunteerName    string    `json:"volunteer_name"`
	UserAddress      string    `json:"user_address"`
	Category         string    `json:"category"`
	Priority         string    `json:"priority"`
	Language         string    `json:"language"`
	AssignedAt       time.Time `json:"assigned_at"`
}

func buildAssignedEvent(volunteer domain.SupportVolunteer, session domain.SupportSession) assignedEvent {
	assignedAt := time.Now().UTC()
	if session.AssignmentTime != nil {
		assignedAt = *session.AssignmentTime
	}
	return assignedEvent{
		EventType:        eventVolunteerAssigned,
		SessionID:        session.SessionID,
		RequestID:        session.Request.RequestID,
		VolunteerAddress: volunteer.Address,
		VolunteerName:    volunteer.DisplayName,
		UserAddress:      session.Request.UserAddress,
		Category:         string(session.Request.Category),
		Priority:         string(session.Request.Priority),
		Language:         session.Request.Language,
		AssignedAt:       assignedAt,
	}
}

func marshalAssignedEvent(volunteer domain.SupportVolunteer, session domain.SupportSession) ([]byte, error) {
	return json.Marshal(buildAssignedEvent(volunteer, session))
}

// LoggingNotifier is the default backend for local runs and tests.
type LoggingNotifier struct {
	logger *slog.Logger
}

func NewLoggingNotifier(logger *slog.Logger) *LoggingNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingNotifier{logger: logger}
}

func (n *LoggingNotifier) NotifyAssigned(ctx context.Context, volunteer domain.SupportVolunteer, session domain.SupportSession) error {
	payload, err := marshalAssignedEvent(volunteer, session)
	if err != nil {
		return err
	}
	n.logger.InfoContext(ctx, "volunteer assignment event",
		"module", "events",
		"layer", "adapter",
		"event_type", eventVolunteerAssigned,
		"payload", string(payload),
	)
	return nil
}
