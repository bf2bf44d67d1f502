package model

import (
	"time"

	"github.com/google/uuid"
)

// DefaultMaxStrikes applies when a schedule carries no strike limit.
const DefaultMaxStrikes = 3

// TestSchedule is an examination definition: a time window, a fixed
// duration and the entry token participants must present.
type TestSchedule struct {
	ID               uuid.UUID `json:"id"`
	Title            string    `json:"title"`
	Description      *string   `json:"description,omitempty"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	DurationMinutes  int       `json:"duration_minutes"`
	QuestionCount    int       `json:"question_count"`
	Token            string    `json:"-"`
	IsPublished      bool      `json:"is_published"`
	ShuffleQuestions bool      `json:"shuffle_questions"`
	ShuffleOptions   bool      `json:"shuffle_options"`
	MaxStrikes       int       `json:"max_strikes"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// StrikeLimit returns the effective strike threshold. fallback applies
// when the schedule carries no limit; a non-positive fallback means
// DefaultMaxStrikes.
func (s *TestSchedule) StrikeLimit(fallback int) int {
	if s.MaxStrikes > 0 {
		return s.MaxStrikes
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultMaxStrikes
}

// DurationSeconds is the full time budget of one attempt.
func (s *TestSchedule) DurationSeconds() int {
	return s.DurationMinutes * 60
}

// ScheduleRules is the integrity briefing shown before a session starts.
type ScheduleRules struct {
	ScheduleID      uuid.UUID `json:"schedule_id"`
	Title           string    `json:"title"`
	DurationMinutes int       `json:"duration_minutes"`
	QuestionCount   int       `json:"question_count"`
	MaxStrikes      int       `json:"max_strikes"`
	Rules           []string  `json:"rules"`
}

// Rules builds the briefing for this schedule.
func (s *TestSchedule) Rules(fallbackStrikes int) ScheduleRules {
	return ScheduleRules{
		ScheduleID:      s.ID,
		Title:           s.Title,
		DurationMinutes: s.DurationMinutes,
		QuestionCount:   s.QuestionCount,
		MaxStrikes:      s.StrikeLimit(fallbackStrikes),
		Rules: []string{
			"Tetap dalam mode layar penuh selama ujian berlangsung.",
			"Jangan berpindah tab atau jendela aplikasi.",
			"Salin, tempel, klik kanan, dan tangkapan layar tidak diperbolehkan.",
			"Setiap pelanggaran dihitung sebagai satu peringatan.",
			"Ujian dihentikan otomatis saat batas peringatan tercapai.",
		},
	}
}
