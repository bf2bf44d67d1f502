package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActivityKind is the vocabulary of integrity violations.
type ActivityKind string

const (
	ActivityTabSwitch      ActivityKind = "tab_switch"
	ActivityScreenBlur     ActivityKind = "screen_blur"
	ActivityFullscreenExit ActivityKind = "fullscreen_exit"
	ActivityPrintScreen    ActivityKind = "print_screen"
	ActivityDevtools       ActivityKind = "devtools"
	ActivityCopyPaste      ActivityKind = "copy_paste"
	ActivityRightClick     ActivityKind = "right_click"
	ActivityMouseLeave     ActivityKind = "mouse_leave"
	ActivityWindowResize   ActivityKind = "window_resize"
)

// ActivityKinds lists every accepted kind.
var ActivityKinds = []ActivityKind{
	ActivityTabSwitch, ActivityScreenBlur, ActivityFullscreenExit, ActivityPrintScreen,
	ActivityDevtools, ActivityCopyPaste, ActivityRightClick, ActivityMouseLeave, ActivityWindowResize,
}

// Valid reports whether k is part of the vocabulary.
func (k ActivityKind) Valid() bool {
	for _, known := range ActivityKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Label returns the human label shown to proctors.
func (k ActivityKind) Label() string {
	switch k {
	case ActivityTabSwitch:
		return "Tab Switch"
	case ActivityScreenBlur:
		return "Layar Blur"
	case ActivityFullscreenExit:
		return "Keluar Fullscreen"
	case ActivityPrintScreen:
		return "Print Screen"
	case ActivityDevtools:
		return "DevTools"
	case ActivityCopyPaste:
		return "Copy/Paste"
	case ActivityRightClick:
		return "Klik Kanan"
	case ActivityMouseLeave:
		return "Mouse Keluar"
	case ActivityWindowResize:
		return "Resize Window"
	default:
		return string(k)
	}
}

// ActionTaken records the consequence of a logged activity.
type ActionTaken string

const (
	ActionStrike     ActionTaken = "strike"
	ActionTerminated ActionTaken = "terminated"
)

// ActivityLog is an append-only audit entry.
type ActivityLog struct {
	ID           uuid.UUID       `json:"id"`
	SessionID    *uuid.UUID      `json:"session_id,omitempty"`
	UserID       uuid.UUID       `json:"user_id"`
	ScheduleID   *uuid.UUID      `json:"schedule_id,omitempty"`
	ActivityType ActivityKind    `json:"activity_type"`
	ActionTaken  ActionTaken     `json:"action_taken"`
	Details      json.RawMessage `json:"details,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// LogActivityRequest is the payload of POST /test/activity.
type LogActivityRequest struct {
	SessionID    uuid.UUID       `json:"sessionId" binding:"required"`
	ScheduleID   uuid.UUID       `json:"scheduleId" binding:"required"`
	ActivityType ActivityKind    `json:"activityType" binding:"required,activity_kind"`
	Metadata     json.RawMessage `json:"metadata"`
}

// LogActivityResponse reports the strike outcome.
type LogActivityResponse struct {
	Success     bool `json:"success"`
	StrikeCount int  `json:"strikeCount"`
	Terminated  bool `json:"terminated"`
}
