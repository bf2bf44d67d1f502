package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/examsession"
	"github.com/stemsi/exstem-proctor/internal/examutil"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/violation"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

const (
	outboundBuffer = 64
	signalBuffer   = 32
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler runs one exam session controller per WebSocket connection.
type WSHandler struct {
	deps         examsession.Deps
	opts         examsession.Options
	blurDebounce time.Duration
	log          zerolog.Logger
	upgrader     websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	deps examsession.Deps,
	opts examsession.Options,
	blurDebounce time.Duration,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		deps:         deps,
		opts:         opts,
		blurDebounce: blurDebounce,
		log:          log.With().Str("component", "ws_handler").Logger(),
		upgrader:     buildUpgrader(allowedOrigins),
	}
}

// outbound is a queued server message. build, when set, is evaluated on
// the write goroutine so it may read controller state.
type outbound struct {
	resp  ws.Response
	build func() ws.Response
}

// stream serializes writes to one connection.
type stream struct {
	conn *websocket.Conn
	out  chan outbound
	log  zerolog.Logger
}

// send queues a message without blocking. Messages are dropped while the
// client is not keeping up.
func (s *stream) send(m outbound) {
	select {
	case s.out <- m:
	default:
		s.log.Warn().Str("event", string(m.resp.Event)).Msg("Outbound queue full, dropping message")
	}
}

func (s *stream) fail(msg string) {
	s.send(outbound{resp: ws.Response{Event: ws.EventError, Error: msg}})
}

func (s *stream) writeLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-s.out:
			resp := m.resp
			if m.build != nil {
				resp = m.build()
			}
			if err := ws.WriteTyped(s.conn, resp); err != nil {
				s.log.Debug().Err(err).Msg("Write failed")
				return
			}
		}
	}
}

// ExamStream godoc
// WS /ws/v1/test/schedules/:schedule_id/stream
// Upgrades to WebSocket and drives the participant's exam session: entry,
// answers, navigation, violation signals, messages and submission.
func (h *WSHandler) ExamStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	scheduleID, ok := paramUUID(c, "schedule_id")
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("user_id", claims.UserID.String()).
		Str("schedule_id", scheduleID.String()).
		Logger()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	st := &stream{conn: conn, out: make(chan outbound, outboundBuffer), log: wsLog}
	writerDone := make(chan struct{})
	go st.writeLoop(ctx, writerDone)

	env := violation.NewChannelEnvironment(signalBuffer, func() error {
		st.send(outbound{resp: ws.Response{Event: ws.EventFullscreen}})
		return nil
	})
	ctrl := examsession.New(h.deps, h.opts, claims.UserID, scheduleID)
	detector := violation.New(env, h.deps.Clock, h.blurDebounce, ctrl.Violation)
	ctrl.AttachDetector(detector)
	go detector.Run(ctx)

	ctrl.OnEvent(func(ev examsession.Event) {
		st.send(outbound{resp: ws.Response{Event: ws.EventSession, Data: ev}})
		if ev.Kind == examsession.EventState && ev.State == examsession.StateActive {
			st.send(outbound{build: func() ws.Response {
				return ws.Response{Event: ws.EventQuestions, Data: ctrl.Questions()}
			}})
		}
	})
	defer func() {
		ctrl.Close()
		env.Close()
		cancel()
		<-writerDone
	}()

	wsLog.Info().Msg("Participant connected")
	if err := ctrl.Load(ctx); err != nil {
		wsLog.Info().Err(err).Msg("Exam session not started")
	}
	h.sendSnapshot(st, ctrl)

	for {
		var req ws.Request
		if err := ws.ReadJSON(conn, &req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}
		h.dispatch(ctx, st, env, ctrl, &req)
	}
}

func (h *WSHandler) sendSnapshot(st *stream, ctrl *examsession.Controller) {
	st.send(outbound{build: func() ws.Response {
		return ws.Response{Event: ws.EventSnapshot, Data: ctrl.Snapshot()}
	}})
}

func (h *WSHandler) dispatch(ctx context.Context, st *stream, env *violation.ChannelEnvironment, ctrl *examsession.Controller, req *ws.Request) {
	var err error
	switch req.Action {
	case ws.ActionToken:
		if err = ctrl.EnterToken(req.Token); err == nil {
			rules, rerr := ctrl.Rules()
			if rerr != nil {
				err = rerr
				break
			}
			st.send(outbound{resp: ws.Response{Event: ws.EventRules, Data: rules}})
		}
	case ws.ActionAcknowledge:
		err = ctrl.AcknowledgeRules(ctx)
	case ws.ActionAnswer:
		_, err = ctrl.SubmitAnswer(req.QuestionID, req.Answer)
	case ws.ActionMark:
		_, err = ctrl.ToggleMark(req.QuestionID)
	case ws.ActionNavigate:
		if req.Index == nil {
			st.fail("index wajib diisi")
			return
		}
		err = ctrl.GoTo(*req.Index)
	case ws.ActionNext:
		err = ctrl.Next()
	case ws.ActionPrevious:
		err = ctrl.Previous()
	case ws.ActionSignal:
		if req.Signal != nil && !env.Push(*req.Signal) {
			st.log.Warn().Str("signal", string(req.Signal.Type)).Msg("Signal dropped")
		}
	case ws.ActionDismiss:
		err = ctrl.DismissMessage(ctx, req.MessageID)
	case ws.ActionSubmit:
		// The outcome arrives as a session event; submit may wait on
		// pending writes, so the read loop must not block on it.
		go func() {
			if _, err := ctrl.Submit(ctx); err != nil {
				st.log.Warn().Err(err).Msg("Submit failed")
			}
		}()
	case ws.ActionSnapshot:
		h.sendSnapshot(st, ctrl)
	case ws.ActionPing:
		st.send(outbound{resp: ws.Response{Event: ws.EventPong}})
	default:
		st.log.Warn().Str("action", string(req.Action)).Msg("Unknown action")
		st.fail("unknown action: " + string(req.Action))
	}
	if err != nil {
		st.fail(streamErrorMessage(err))
	}
}

// streamErrorMessage turns a controller error into the inline message the
// client shows.
func streamErrorMessage(err error) string {
	switch {
	case errors.Is(err, examutil.ErrTokenEmpty):
		return response.GetMessage(response.ErrEntryTokenEmpty)
	case errors.Is(err, examutil.ErrTokenInvalid):
		return response.GetMessage(response.ErrEntryTokenInvalid)
	case errors.Is(err, examutil.ErrNotStarted):
		return response.GetMessage(response.ErrTestNotStarted)
	case errors.Is(err, examutil.ErrEnded):
		return response.GetMessage(response.ErrTestEnded)
	case errors.Is(err, examsession.ErrInputFrozen):
		return response.GetMessage(response.ErrSessionClosed)
	case errors.Is(err, examsession.ErrIndexOutOfRange):
		return response.GetMessage(response.ErrQuestionOutOfRange)
	case errors.Is(err, examsession.ErrUnknownQuestion):
		return response.GetMessage(response.ErrNotFound)
	case errors.Is(err, examsession.ErrInvalidState):
		return "Aksi tidak tersedia saat ini."
	default:
		return response.GetMessage(response.ErrInternal)
	}
}
