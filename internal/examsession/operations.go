package examsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/store"
)

const (
	submitTimeout    = 30 * time.Second
	violationTimeout = 10 * time.Second
)

var nullAnswer = json.RawMessage("null")

// inputLocked checks that the controller accepts learner input. Caller
// holds c.mu.
func (c *Controller) inputLocked() error {
	if c.frozen || c.state.IsTerminal() {
		return ErrInputFrozen
	}
	if c.state != StateActive {
		return ErrInvalidState
	}
	return nil
}

// questionLocked resolves a question id. uuid.Nil means the current question.
func (c *Controller) questionLocked(questionID uuid.UUID) (uuid.UUID, error) {
	if questionID == uuid.Nil {
		if len(c.questions) == 0 {
			return uuid.Nil, ErrIndexOutOfRange
		}
		return c.questions[c.index].ID, nil
	}
	if _, ok := c.qIndex[questionID]; !ok {
		return uuid.Nil, ErrUnknownQuestion
	}
	return questionID, nil
}

func (e *answerEntry) view(questionID uuid.UUID) AnswerView {
	return AnswerView{QuestionID: questionID, Answer: e.answer, IsMarked: e.isMarked, Saved: e.saved}
}

// SubmitAnswer records an answer locally and persists it in the background.
// The returned view reflects the optimistic local state.
func (c *Controller) SubmitAnswer(questionID uuid.UUID, answer json.RawMessage) (AnswerView, error) {
	if len(answer) == 0 {
		answer = nullAnswer
	}

	c.mu.Lock()
	if err := c.inputLocked(); err != nil {
		c.mu.Unlock()
		return AnswerView{}, err
	}
	qid, err := c.questionLocked(questionID)
	if err != nil {
		c.mu.Unlock()
		return AnswerView{}, err
	}
	e := c.answers[qid]
	if e == nil {
		e = &answerEntry{}
		c.answers[qid] = e
	}
	e.answer = append(json.RawMessage(nil), answer...)
	e.seq++
	e.saved = false
	seq, sessionID, view := e.seq, c.session.ID, e.view(qid)
	c.mu.Unlock()

	c.emit(Event{Kind: EventAnswer, Answer: &view})
	c.writes.enqueue("save_answer", func(ctx context.Context) error {
		row, err := c.deps.Store.UpsertAnswer(ctx, model.AnswerWrite{
			SessionID:  sessionID,
			QuestionID: qid,
			Answer:     answer,
		})
		if err != nil {
			return err
		}
		c.confirmAnswer(qid, seq, row)
		return nil
	})
	return view, nil
}

// ToggleMark flips the review flag of a question independently of its
// answer. uuid.Nil means the current question.
func (c *Controller) ToggleMark(questionID uuid.UUID) (AnswerView, error) {
	c.mu.Lock()
	if err := c.inputLocked(); err != nil {
		c.mu.Unlock()
		return AnswerView{}, err
	}
	qid, err := c.questionLocked(questionID)
	if err != nil {
		c.mu.Unlock()
		return AnswerView{}, err
	}
	e := c.answers[qid]
	if e == nil {
		e = &answerEntry{answer: nullAnswer}
		c.answers[qid] = e
	}
	e.isMarked = !e.isMarked
	e.seq++
	e.saved = false
	marked := e.isMarked
	seq, sessionID, view := e.seq, c.session.ID, e.view(qid)
	c.mu.Unlock()

	c.emit(Event{Kind: EventAnswer, Answer: &view})
	c.writes.enqueue("toggle_mark", func(ctx context.Context) error {
		row, err := c.deps.Store.UpsertAnswer(ctx, model.AnswerWrite{
			SessionID:  sessionID,
			QuestionID: qid,
			IsMarked:   &marked,
		})
		if err != nil {
			return err
		}
		c.confirmAnswer(qid, seq, row)
		return nil
	})
	return view, nil
}

// confirmAnswer adopts a stored answer row unless a newer local change
// has been made since the write was queued.
func (c *Controller) confirmAnswer(questionID uuid.UUID, seq int, row *model.UserAnswer) {
	c.mu.Lock()
	e := c.answers[questionID]
	if e == nil || e.seq != seq {
		c.mu.Unlock()
		return
	}
	if row.Answer != nil {
		e.answer = row.Answer
	}
	e.isMarked = row.IsMarked
	e.saved = true
	view := e.view(questionID)
	c.mu.Unlock()

	c.emit(Event{Kind: EventAnswer, Answer: &view})
}

// GoTo moves the question pointer and persists it as the resume anchor.
func (c *Controller) GoTo(index int) error {
	c.mu.Lock()
	if err := c.inputLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if index < 0 || index >= len(c.questions) {
		c.mu.Unlock()
		return ErrIndexOutOfRange
	}
	c.index = index
	c.navPending++
	sessionID := c.session.ID
	c.mu.Unlock()

	c.emit(Event{Kind: EventNavigate, Index: intPtr(index)})
	queued := c.writes.enqueue("navigate", func(ctx context.Context) error {
		defer c.navigated()
		row, err := c.deps.Store.UpdateSession(ctx, sessionID, model.SessionUpdate{CurrentQuestionIndex: &index})
		if err != nil {
			return err
		}
		c.confirm(row)
		return nil
	})
	if !queued {
		c.navigated()
	}
	return nil
}

func (c *Controller) navigated() {
	c.mu.Lock()
	c.navPending--
	c.mu.Unlock()
}

// Next and Previous are GoTo relative to the current question.
func (c *Controller) Next() error     { return c.GoTo(c.currentIndex() + 1) }
func (c *Controller) Previous() error { return c.GoTo(c.currentIndex() - 1) }

func (c *Controller) currentIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// ReportViolation adds a strike through the activity path. Reaching the
// strike limit ends the attempt as ForceSubmitted. A strike expected to
// hit the limit freezes input and flushes local answers first, so the
// forced result scores what the learner sees.
func (c *Controller) ReportViolation(ctx context.Context, kind model.ActivityKind, metadata json.RawMessage) (*model.LogActivityResponse, error) {
	c.mu.Lock()
	if err := c.inputLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.strikes++
	local := c.strikes
	sessionID := c.session.ID
	final := local >= c.schedule.StrikeLimit(c.opts.DefaultMaxStrikes)
	if final {
		c.frozen = true
	}
	c.mu.Unlock()
	c.emit(Event{Kind: EventStrike, Strikes: intPtr(local)})

	if final {
		c.writes.wait()
		if err := c.flush(ctx, sessionID); err != nil {
			c.log.Warn().Err(err).Msg("Failed to flush answers before termination")
		}
	}

	resp, err := c.deps.Activity.Record(ctx, c.userID, model.LogActivityRequest{
		SessionID:    sessionID,
		ScheduleID:   c.scheduleID,
		ActivityType: kind,
		Metadata:     metadata,
	})
	if err != nil {
		c.mu.Lock()
		if c.strikes == local {
			c.strikes--
		}
		if final && c.inflight == nil && !c.state.IsTerminal() {
			c.frozen = false
		}
		c.mu.Unlock()
		if errors.Is(err, service.ErrSessionClosed) {
			c.refresh(ctx)
			return nil, ErrInputFrozen
		}
		c.log.Warn().Err(err).Str("activity", string(kind)).Msg("Failed to record violation")
		return nil, err
	}

	c.mu.Lock()
	if resp.StrikeCount > c.strikes {
		c.strikes = resp.StrikeCount
	}
	if final && !resp.Terminated && c.inflight == nil && !c.state.IsTerminal() {
		c.frozen = false
	}
	strikes := c.strikes
	c.mu.Unlock()
	c.emit(Event{Kind: EventStrike, Strikes: intPtr(strikes)})

	if resp.Terminated {
		c.log.Warn().Int("strikes", resp.StrikeCount).Msg("Strike limit reached, session terminated")
		res, err := c.deps.Store.GetResult(ctx, sessionID)
		if err != nil {
			res = nil
		}
		c.finish(StateForceSubmitted, res)
	}
	return resp, nil
}

// Violation is the detector callback. It reports in the background.
func (c *Controller) Violation(kind model.ActivityKind) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), violationTimeout)
		defer cancel()
		if _, err := c.ReportViolation(ctx, kind, nil); err != nil && !errors.Is(err, ErrInputFrozen) {
			c.emit(Event{Kind: EventError, Error: "Gagal mencatat pelanggaran"})
		}
	}()
}

// Submit ends the attempt normally. Concurrent calls, including the
// time-up path, share one submission and return the same result. A
// failed submission unfreezes input so the learner can retry.
func (c *Controller) Submit(ctx context.Context) (*model.TestResult, error) {
	return c.submit(ctx, false)
}

func (c *Controller) submit(ctx context.Context, forced bool) (*model.TestResult, error) {
	c.mu.Lock()
	if c.state.IsTerminal() {
		res := c.result
		c.mu.Unlock()
		if res != nil {
			return res, nil
		}
		return nil, ErrInputFrozen
	}
	if c.state != StateActive {
		c.mu.Unlock()
		return nil, ErrInvalidState
	}
	if call := c.inflight; call != nil {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.result, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &submitCall{done: make(chan struct{})}
	c.inflight = call
	c.frozen = true
	sessionID := c.session.ID
	c.mu.Unlock()

	call.result, call.err = c.runSubmit(ctx, sessionID, forced)
	if call.err == nil {
		state := StateCompleted
		if call.result.Status == model.ResultForceSubmitted {
			state = StateForceSubmitted
		}
		c.finish(state, call.result)
	}

	c.mu.Lock()
	c.inflight = nil
	if call.err != nil && !c.state.IsTerminal() {
		c.frozen = false
	}
	c.mu.Unlock()
	close(call.done)

	if call.err != nil {
		c.log.Error().Err(call.err).Msg("Submission failed")
		c.emit(Event{Kind: EventError, Error: "Gagal mengirim jawaban, silakan coba lagi"})
		return nil, call.err
	}
	return call.result, nil
}

// runSubmit drains queued writes, pushes any answer that is still ahead
// of the store and scores the session.
func (c *Controller) runSubmit(ctx context.Context, sessionID uuid.UUID, forced bool) (*model.TestResult, error) {
	c.writes.wait()
	if err := c.flush(ctx, sessionID); err != nil {
		return nil, err
	}
	return c.deps.Submissions.Submit(ctx, c.userID, model.SubmitRequest{
		SessionID:  sessionID,
		ScheduleID: c.scheduleID,
		Forced:     forced,
	})
}

// flush writes every unsaved local answer so the stored answers match the
// local map before scoring.
func (c *Controller) flush(ctx context.Context, sessionID uuid.UUID) error {
	type pending struct {
		questionID uuid.UUID
		seq        int
		write      model.AnswerWrite
	}
	c.mu.Lock()
	var writes []pending
	for qid, e := range c.answers {
		if e.saved {
			continue
		}
		marked := e.isMarked
		writes = append(writes, pending{
			questionID: qid,
			seq:        e.seq,
			write: model.AnswerWrite{
				SessionID:  sessionID,
				QuestionID: qid,
				Answer:     e.answer,
				IsMarked:   &marked,
			},
		})
	}
	c.mu.Unlock()

	for _, p := range writes {
		err := retryOnce(ctx, c.opts.RetryBackoff, func(ctx context.Context) error {
			row, err := c.deps.Store.UpsertAnswer(ctx, p.write)
			if err != nil {
				return err
			}
			c.confirmAnswer(p.questionID, p.seq, row)
			return nil
		})
		if err != nil && !errors.Is(err, store.ErrSessionClosed) {
			return fmt.Errorf("save answer %s: %w", p.questionID, err)
		}
	}
	return nil
}

func (c *Controller) timeUp() {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()
	c.log.Info().Msg("Time is up, submitting")
	if _, err := c.submit(ctx, false); err != nil && !errors.Is(err, ErrInputFrozen) && !errors.Is(err, ErrInvalidState) {
		c.log.Error().Err(err).Msg("Submission after time up failed")
	}
}

// checkpoint persists the countdown value.
func (c *Controller) checkpoint(ctx context.Context, remaining int) error {
	sessionID := c.SessionID()
	row, err := c.deps.Store.UpdateSession(ctx, sessionID, model.SessionUpdate{TimeRemainingSeconds: &remaining})
	if err != nil {
		if errors.Is(err, store.ErrSessionClosed) {
			go c.refresh(context.Background())
		}
		return err
	}
	c.confirm(row)
	return nil
}

func (c *Controller) onWriteError(name string, err error) {
	if errors.Is(err, store.ErrSessionClosed) {
		go c.refresh(context.Background())
		return
	}
	c.log.Warn().Err(err).Str("write", name).Msg("Background write failed")
	c.emit(Event{Kind: EventError, Error: "Gagal menyimpan perubahan"})
}

// DismissMessage removes a proctor message from the queue and marks it read.
func (c *Controller) DismissMessage(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	ib := c.inbox
	c.mu.Unlock()
	if ib == nil {
		return ErrInvalidState
	}
	return ib.Dismiss(ctx, id)
}
