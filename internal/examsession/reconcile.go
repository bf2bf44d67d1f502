package examsession

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/realtime"
)

const finalizeTimeout = 30 * time.Second

// listen routes realtime events for the session until ctx ends or the
// subscription closes.
func (c *Controller) listen(ctx context.Context, sub realtime.Subscription) {
	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case realtime.EventSessionUpdated:
				if ev.Session != nil {
					c.reconcile(ev.Session)
				}
			case realtime.EventMessageInserted:
				if ev.Message != nil {
					c.mu.Lock()
					ib := c.inbox
					c.mu.Unlock()
					if ib != nil {
						ib.Receive(*ev.Message)
					}
				}
			}
		}
	}
}

// confirm records a row returned by one of our own writes. Rows older
// than the last confirmed version are ignored.
func (c *Controller) confirm(row *model.TestSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.confirmed != nil && row.Version <= c.confirmed.Version {
		return
	}
	c.confirmed = row.Clone()
}

// refresh re-reads the session row and reconciles it.
func (c *Controller) refresh(ctx context.Context) {
	id := c.SessionID()
	if id == uuid.Nil {
		return
	}
	row, err := c.deps.Store.GetSession(ctx, id)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to refresh session")
		return
	}
	c.reconcile(row)
}

// reconcile applies a pushed session row. Only fields that changed since
// the last confirmed row are adopted, so local state that is ahead of the
// store is kept. Duplicate and stale deliveries carry a version at or
// below the confirmed one and are dropped.
func (c *Controller) reconcile(row *model.TestSession) {
	c.mu.Lock()
	if c.state != StateActive || c.session == nil || row.ID != c.session.ID {
		c.mu.Unlock()
		return
	}
	prev := c.confirmed
	if prev != nil && row.Version <= prev.Version {
		c.mu.Unlock()
		return
	}
	c.confirmed = row.Clone()

	if row.Status.IsTerminal() {
		submitting := c.inflight != nil
		c.mu.Unlock()
		if !submitting {
			c.endRemotely(row)
		}
		return
	}

	var events []Event
	if prev == nil || row.TimeRemainingSeconds != prev.TimeRemainingSeconds || !row.CheckpointedAt.Equal(prev.CheckpointedAt) {
		remaining := max(row.EffectiveRemaining(c.deps.Clock.Now()), 0)
		if c.countdown != nil {
			c.countdown.Override(remaining)
		}
		events = append(events, Event{Kind: EventTimeAdjusted, Remaining: intPtr(remaining)})
	}
	if prev == nil || row.StrikeCount != prev.StrikeCount {
		c.strikes = row.StrikeCount
		events = append(events, Event{Kind: EventStrike, Strikes: intPtr(row.StrikeCount)})
	}
	if c.navPending == 0 && (prev == nil || row.CurrentQuestionIndex != prev.CurrentQuestionIndex) &&
		row.CurrentQuestionIndex >= 0 && row.CurrentQuestionIndex < len(c.questions) {
		c.index = row.CurrentQuestionIndex
		events = append(events, Event{Kind: EventNavigate, Index: intPtr(row.CurrentQuestionIndex)})
	}
	c.session = row.Clone()
	c.mu.Unlock()

	for _, ev := range events {
		c.emit(ev)
	}
}

// endRemotely handles a terminal status written by another actor, such
// as a proctor force stop or the timeout sweeper.
func (c *Controller) endRemotely(row *model.TestSession) {
	c.mu.Lock()
	if c.state.IsTerminal() {
		c.mu.Unlock()
		return
	}
	c.frozen = true
	c.mu.Unlock()

	state := StateCompleted
	if row.Status == model.SessionForceSubmitted {
		state = StateForceSubmitted
	}
	c.log.Warn().Str("status", string(row.Status)).Msg("Session ended remotely")

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	res, err := c.deps.Submissions.Finalize(ctx, row, row.Status)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to load result of remotely ended session")
		res = nil
	}
	c.finish(state, res)
}
