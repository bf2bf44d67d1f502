// Package violation turns raw environment signals reported by an exam
// client into integrity violation kinds. It does no counting: strike
// escalation belongs to the session controller.
package violation

import (
	"strings"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Kind is a violation in the activity vocabulary.
type Kind = model.ActivityKind

// SignalType names a raw environment event.
type SignalType string

const (
	SignalVisibilityHidden  SignalType = "visibility_hidden"
	SignalVisibilityVisible SignalType = "visibility_visible"
	SignalBlur              SignalType = "blur"
	SignalFocus             SignalType = "focus"
	SignalFullscreenExit    SignalType = "fullscreen_exit"
	SignalFullscreenEnter   SignalType = "fullscreen_enter"
	SignalKeyDown           SignalType = "keydown"
	SignalContextMenu       SignalType = "context_menu"
)

// Signal is one physical event observed by the client.
type Signal struct {
	Type  SignalType `json:"type"`
	Key   string     `json:"key,omitempty"`
	Ctrl  bool       `json:"ctrl,omitempty"`
	Shift bool       `json:"shift,omitempty"`
	Alt   bool       `json:"alt,omitempty"`
	Meta  bool       `json:"meta,omitempty"`
}

// classify maps a signal to a kind without debouncing.
func classify(s Signal) (Kind, bool) {
	switch s.Type {
	case SignalVisibilityHidden:
		return model.ActivityTabSwitch, true
	case SignalBlur:
		return model.ActivityScreenBlur, true
	case SignalFullscreenExit:
		return model.ActivityFullscreenExit, true
	case SignalContextMenu:
		return model.ActivityRightClick, true
	case SignalKeyDown:
		return classifyKey(s)
	default:
		return "", false
	}
}

func classifyKey(s Signal) (Kind, bool) {
	if s.Key == "PrintScreen" {
		return model.ActivityPrintScreen, true
	}
	key := strings.ToLower(s.Key)
	if key == "f12" {
		return model.ActivityDevtools, true
	}
	// Ctrl+Shift+I/J/C on Windows and Linux, Cmd+Opt+I/J/C on macOS.
	if (s.Ctrl && s.Shift) || (s.Meta && s.Alt) {
		switch key {
		case "i", "j", "c":
			return model.ActivityDevtools, true
		}
	}
	if (s.Ctrl || s.Meta) && !s.Shift && !s.Alt {
		switch key {
		case "c", "x", "v":
			return model.ActivityCopyPaste, true
		}
	}
	return "", false
}
