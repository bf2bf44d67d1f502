package handler

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stemsi/exstem-proctor/internal/examsession"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/violation"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

var violationSignalHidden = violation.Signal{Type: violation.SignalVisibilityHidden}

type wsMessage struct {
	Event ws.Event        `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialStream(t *testing.T, f *fixture) *wsClient {
	t.Helper()
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/ws/v1/test/schedules/" + f.schedule.ID.String() + "/stream?token=" + f.userTok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(req ws.Request) {
	c.t.Helper()
	if err := c.conn.WriteJSON(req); err != nil {
		c.t.Fatalf("write %s: %v", req.Action, err)
	}
}

// until reads messages until match accepts one.
func (c *wsClient) until(what string, match func(wsMessage) bool) wsMessage {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var m wsMessage
		if err := c.conn.ReadJSON(&m); err != nil {
			c.t.Fatalf("waiting for %s: %v", what, err)
		}
		if match(m) {
			return m
		}
	}
}

func sessionEvent(m wsMessage) (examsession.Event, bool) {
	if m.Event != ws.EventSession {
		return examsession.Event{}, false
	}
	var ev examsession.Event
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		return examsession.Event{}, false
	}
	return ev, true
}

func TestExamStreamFullAttempt(t *testing.T) {
	f := newFixture(t, 3)
	c := dialStream(t, f)

	snap := c.until("snapshot", func(m wsMessage) bool { return m.Event == ws.EventSnapshot })
	var s examsession.Snapshot
	if err := json.Unmarshal(snap.Data, &s); err != nil {
		t.Fatal(err)
	}
	if s.State != examsession.StateTokenEntry {
		t.Fatalf("initial state = %s", s.State)
	}

	c.send(ws.Request{Action: ws.ActionToken, Token: "nope"})
	bad := c.until("token error", func(m wsMessage) bool { return m.Event == ws.EventError })
	if bad.Error != "Token tidak valid" {
		t.Errorf("token error = %q", bad.Error)
	}

	c.send(ws.Request{Action: ws.ActionToken, Token: "abc123"})
	c.until("rules", func(m wsMessage) bool { return m.Event == ws.EventRules })

	c.send(ws.Request{Action: ws.ActionAcknowledge})
	qm := c.until("questions", func(m wsMessage) bool { return m.Event == ws.EventQuestions })
	var views []model.QuestionView
	if err := json.Unmarshal(qm.Data, &views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 3 {
		t.Fatalf("questions = %d, want 3", len(views))
	}

	for _, v := range views {
		correct := -1
		for _, q := range f.questions {
			if q.ID == v.ID {
				correct = *q.CorrectAnswer
			}
		}
		c.send(ws.Request{Action: ws.ActionAnswer, QuestionID: v.ID, Answer: json.RawMessage(fmt.Sprintf(`{"value":%d}`, correct))})
	}

	c.send(ws.Request{Action: ws.ActionSignal, Signal: &violationSignalHidden})
	c.until("strike", func(m wsMessage) bool {
		ev, ok := sessionEvent(m)
		return ok && ev.Kind == examsession.EventStrike && ev.Strikes != nil && *ev.Strikes == 1
	})

	c.send(ws.Request{Action: ws.ActionSubmit})
	done := c.until("completed", func(m wsMessage) bool {
		ev, ok := sessionEvent(m)
		return ok && ev.Kind == examsession.EventState && ev.State == examsession.StateCompleted
	})
	ev, _ := sessionEvent(done)
	if ev.Result == nil || ev.Result.AnsweredQuestions != 3 || ev.Result.Score != 100 {
		t.Fatalf("result = %+v", ev.Result)
	}
	if f.mem.ResultCount() != 1 {
		t.Errorf("results = %d, want 1", f.mem.ResultCount())
	}

	c.send(ws.Request{Action: ws.ActionAnswer, QuestionID: views[0].ID, Answer: json.RawMessage(`{"value":3}`)})
	frozen := c.until("frozen error", func(m wsMessage) bool { return m.Event == ws.EventError })
	if frozen.Error == "" {
		t.Error("expected an error after submission")
	}
}

func TestExamStreamPing(t *testing.T) {
	f := newFixture(t, 3)
	c := dialStream(t, f)
	c.send(ws.Request{Action: ws.ActionPing})
	c.until("pong", func(m wsMessage) bool { return m.Event == ws.EventPong })

	c.send(ws.Request{Action: "teleport"})
	m := c.until("unknown action", func(m wsMessage) bool { return m.Event == ws.EventError })
	if !strings.Contains(m.Error, "teleport") {
		t.Errorf("error = %q", m.Error)
	}
}
