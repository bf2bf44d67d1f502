package model

import "github.com/google/uuid"

// ParticipantStatus tracks a user's assignment to a schedule.
type ParticipantStatus string

const (
	ParticipantAssigned       ParticipantStatus = "assigned"
	ParticipantInProgress     ParticipantStatus = "in_progress"
	ParticipantSuspended      ParticipantStatus = "suspended"
	ParticipantCompleted      ParticipantStatus = "completed"
	ParticipantForceSubmitted ParticipantStatus = "force_submitted"
)

// IsTerminal reports whether no further transition is allowed.
func (s ParticipantStatus) IsTerminal() bool {
	return s == ParticipantCompleted || s == ParticipantForceSubmitted
}

// rank orders statuses so transitions never regress.
func (s ParticipantStatus) rank() int {
	switch s {
	case ParticipantAssigned:
		return 0
	case ParticipantInProgress, ParticipantSuspended:
		return 1
	case ParticipantCompleted, ParticipantForceSubmitted:
		return 2
	default:
		return -1
	}
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Terminal states are final; otherwise the status may only move forward
// (in_progress and suspended may swap with each other).
func (s ParticipantStatus) CanTransitionTo(next ParticipantStatus) bool {
	if s.IsTerminal() || next.rank() < 0 {
		return false
	}
	return next.rank() >= s.rank()
}

// ScheduleParticipant joins a user to a schedule.
type ScheduleParticipant struct {
	ID         uuid.UUID         `json:"id"`
	ScheduleID uuid.UUID         `json:"schedule_id"`
	UserID     uuid.UUID         `json:"user_id"`
	Status     ParticipantStatus `json:"status"`
}
