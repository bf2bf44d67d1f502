package examsession

import (
	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Snapshot is the full learner-facing view of the controller.
type Snapshot struct {
	State      State               `json:"state"`
	Failure    *Failure            `json:"failure,omitempty"`
	SessionID  uuid.UUID           `json:"session_id"`
	ScheduleID uuid.UUID           `json:"schedule_id"`
	Title      string              `json:"title"`
	Index      int                 `json:"index"`
	Total      int                 `json:"total"`
	Remaining  int                 `json:"remaining"`
	Strikes    int                 `json:"strikes"`
	MaxStrikes int                 `json:"max_strikes"`
	Answers    []AnswerView        `json:"answers"`
	Messages   []model.TestMessage `json:"messages"`
	Stats      Stats               `json:"stats"`
	Result     *model.TestResult   `json:"result,omitempty"`
}

// Stats summarizes progress through the question set.
type Stats struct {
	Total      int     `json:"total"`
	Answered   int     `json:"answered"`
	Unanswered int     `json:"unanswered"`
	Marked     int     `json:"marked"`
	Progress   float64 `json:"progress"`
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{
		State:      c.state,
		ScheduleID: c.scheduleID,
		Index:      c.index,
		Total:      len(c.questions),
		Strikes:    c.strikes,
		Result:     c.result,
		Stats:      c.statsLocked(),
	}
	if c.failure != nil {
		f := *c.failure
		s.Failure = &f
	}
	if c.session != nil {
		s.SessionID = c.session.ID
	}
	if c.schedule != nil {
		s.Title = c.schedule.Title
		s.MaxStrikes = c.schedule.StrikeLimit(c.opts.DefaultMaxStrikes)
	}
	for _, q := range c.questions {
		if e, ok := c.answers[q.ID]; ok {
			s.Answers = append(s.Answers, e.view(q.ID))
		}
	}
	cd, ib := c.countdown, c.inbox
	c.mu.Unlock()

	if cd != nil {
		s.Remaining = cd.Remaining()
	}
	if ib != nil {
		s.Messages = ib.Messages()
	}
	return s
}

// Questions returns the displayed question sequence without answer keys,
// options laid out in the session's stored option order.
func (c *Controller) Questions() []model.QuestionView {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.QuestionView, len(c.questions))
	for i := range c.questions {
		var order []int
		if c.session != nil {
			order = c.session.OptionsOrder[c.questions[i].ID]
		}
		out[i] = c.questions[i].View(order)
	}
	return out
}

// Stats returns the progress summary.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

func (c *Controller) statsLocked() Stats {
	st := Stats{Total: len(c.questions)}
	for _, q := range c.questions {
		e, ok := c.answers[q.ID]
		if !ok {
			continue
		}
		if len(e.answer) > 0 && string(e.answer) != "null" {
			st.Answered++
		}
		if e.isMarked {
			st.Marked++
		}
	}
	st.Unanswered = st.Total - st.Answered
	if st.Total > 0 {
		st.Progress = float64(st.Answered) * 100 / float64(st.Total)
	}
	return st
}
