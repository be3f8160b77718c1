package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/zulandar/lifeline/internal/conversation"
)

// Frame types on the call socket.
const (
	frameTools      = "tools"
	frameSession    = "session"
	frameToolCall   = "tool_call"
	frameToolResult = "tool_result"
	frameEvent      = "event"
	frameError      = "error"
)

// clientFrame is a frame sent by the voice front end.
type clientFrame struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Content   string          `json:"content,omitempty"`
}

// serverFrame is a frame sent to the voice front end. A session frame
// without session_id means the call has no session yet.
type serverFrame struct {
	Type      string              `json:"type"`
	ID        string              `json:"id,omitempty"`
	SessionID string              `json:"session_id,omitempty"`
	Tools     []conversation.Tool `json:"tools,omitempty"`
	Result    map[string]any      `json:"result,omitempty"`
	Message   string              `json:"message,omitempty"`
}

// handleCall runs one call over a WebSocket. On connect the server sends the
// tool declarations, creates the placeholder session and reports it, then
// serves tool calls and speech events until the socket closes.
func (a *api) handleCall(c *gin.Context) {
	if !a.beginCall() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server shutting down"})
		return
	}
	defer a.active.Done()

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.log.WithError(err).Warn("server: websocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(a.readLimit)

	if !a.trackCall(conn) {
		goingAway(conn)
		return
	}
	defer a.untrackCall(conn)

	log := a.log.WithField("call_id", uuid.NewString())
	conv, err := conversation.New(conversation.Opts{
		Sessions:   a.ledger,
		Dispatcher: a.dispatcher,
		Recorder:   a.recorder,
		Logger:     log,
	})
	if err != nil {
		log.WithError(err).Error("server: conversation setup failed")
		_ = writeFrame(conn, serverFrame{Type: frameError, Message: err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := writeFrame(conn, serverFrame{Type: frameTools, Tools: conversation.Tools()}); err != nil {
		return
	}
	id := conv.Start(ctx)
	if err := writeFrame(conn, serverFrame{Type: frameSession, SessionID: id}); err != nil {
		return
	}
	log.WithField("session_id", id).Info("server: call connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Debug("server: call read ended")
			}
			break
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			if writeFrame(conn, serverFrame{Type: frameError, Message: "invalid frame: " + err.Error()}) != nil {
				break
			}
			continue
		}

		var reply *serverFrame
		switch frame.Type {
		case frameToolCall:
			result := conv.Invoke(ctx, frame.Name, frame.Arguments)
			reply = &serverFrame{Type: frameToolResult, ID: frame.ID, Result: result}
		case frameEvent:
			conv.HandleEvent(ctx, conversation.Event{
				Kind:    conversation.EventKind(frame.Kind),
				Content: frame.Content,
			})
		default:
			reply = &serverFrame{Type: frameError, ID: frame.ID, Message: "unknown frame type " + frame.Type}
		}
		if reply != nil {
			if err := writeFrame(conn, *reply); err != nil {
				break
			}
		}
	}

	log.WithField("session_id", conv.SessionID()).Info("server: call ended")
}

func writeFrame(conn *websocket.Conn, f serverFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(f)
}
