// Autopilot playback stream.
//
// GET /counterparts/{id}/autopilot/stream upgrades to a websocket, runs
// autopilot once, and reveals the generated messages one per interval. The
// client may send {"action":"pause"|"resume"|"stop"|"ping"} frames while the
// playback runs.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-auras-backend/internal/autopilot"
	"github.com/tbourn/go-auras-backend/internal/domain"
	"github.com/tbourn/go-auras-backend/internal/http/middleware"
	"github.com/tbourn/go-auras-backend/internal/services"
)

// Stream frame types.
const (
	FrameStarted = "started"
	FrameMessage = "message"
	FrameState   = "state"
	FramePong    = "pong"
	FrameResult  = "result"
	FrameError   = "error"
)

// StreamFrame is one server-to-client websocket message.
type StreamFrame struct {
	Type     string                     `json:"type"`
	Message  *domain.ChatMessage        `json:"message,omitempty"`
	Total    int                        `json:"total,omitempty"`
	Revealed int                        `json:"revealed,omitempty"`
	State    autopilot.State            `json:"state,omitempty"`
	Outcome  *services.AutopilotOutcome `json:"outcome,omitempty"`
	Error    *ErrorResponse             `json:"error,omitempty"`
}

// StreamCommand is one client-to-server websocket message.
type StreamCommand struct {
	Action string `json:"action"`
}

const streamWriteTimeout = 10 * time.Second

// StreamAutopilot godoc
// @ID          streamAutopilot
// @Summary     Run autopilot with paced playback
// @Description Websocket. Runs autopilot like POST /autopilot, then sends a "started" frame, one "message" frame per revealed message and a final "result" frame. Send {"action":"pause"}, {"action":"resume"} or {"action":"stop"} to control playback.
// @Tags        Counterparts
// @Param       X-User-Name  header  string  false  "Viewer display name"  example(Jamie)
// @Param       id           path    string  true   "Counterpart id"       example(2)
// @Success     101  {string}  string  "Switching Protocols"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Router      /counterparts/{id}/autopilot/stream [get]
func (h *Handlers) StreamAutopilot(c *gin.Context) {
	// The server write timeout would otherwise cut long playbacks.
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: h.OriginPatterns,
	})
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer ws.CloseNow()

	done := middleware.TrackStream()
	defer done()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	log := middleware.LoggerFrom(c)
	send := func(f StreamFrame) error {
		wctx, wcancel := context.WithTimeout(ctx, streamWriteTimeout)
		defer wcancel()
		return wsjson.Write(wctx, ws, f)
	}

	out, err := h.svc.RunAutopilot(ctx, viewer(c), c.Param("id"))
	if err != nil {
		status, code, msg := classify(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Msg("autopilot stream failed")
		}
		_ = send(StreamFrame{Type: FrameError, Error: &ErrorResponse{
			RequestID: middleware.RequestIDFrom(c),
			Code:      code,
			Message:   msg,
		}})
		closeStatus := websocket.StatusPolicyViolation
		if status >= http.StatusInternalServerError {
			closeStatus = websocket.StatusInternalError
		}
		ws.Close(closeStatus, code)
		return
	}
	out.Result.Messages = nonNil(out.Result.Messages)

	pb := autopilot.NewPlayback(out.Result.Messages, h.RevealInterval)
	if err := send(StreamFrame{Type: FrameStarted, Total: pb.Total()}); err != nil {
		return
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		h.readCommands(ctx, ws, pb, send)
	}()

	for m := range pb.Start(ctx) {
		msg := m
		if err := send(StreamFrame{Type: FrameMessage, Message: &msg}); err != nil {
			pb.Stop()
			break
		}
	}

	if ctx.Err() == nil {
		if err := send(StreamFrame{Type: FrameResult, State: pb.State(), Total: pb.Total(), Revealed: pb.Revealed(), Outcome: &out}); err != nil {
			log.Debug().Err(err).Msg("result frame not delivered")
		}
		ws.Close(websocket.StatusNormalClosure, "playback complete")
	}
	cancel()
	<-readerDone
}

// readCommands applies client commands to pb until ctx ends or the peer
// goes away. Frames that are not a JSON command are ignored.
func (h *Handlers) readCommands(ctx context.Context, ws *websocket.Conn, pb *autopilot.Playback, send func(StreamFrame) error) {
	defer pb.Stop()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		var cmd StreamCommand
		if json.Unmarshal(data, &cmd) != nil {
			continue
		}
		switch cmd.Action {
		case "pause":
			pb.Pause()
		case "resume":
			pb.Resume()
		case "stop":
			pb.Stop()
		case "ping":
			_ = send(StreamFrame{Type: FramePong})
			continue
		default:
			continue
		}
		_ = send(StreamFrame{Type: FrameState, State: pb.State()})
	}
}
