package review

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"review-montage/internal/api"
	"review-montage/internal/montage"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// Stream message types.
const (
	MessageState    = "state"
	MessageCommands = "commands"
	MessageProgress = "progress"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServerMessage is pushed to the page. Commands precede the state they lead
// to.
type ServerMessage struct {
	Type     string                  `json:"type"`
	Snapshot *montage.Snapshot       `json:"snapshot,omitempty"`
	Commands []montage.PlayerCommand `json:"commands,omitempty"`
}

// ClientMessage is sent by the page. Only progress reports are understood.
type ClientMessage struct {
	Type      string        `json:"type"`
	MonitorID api.MonitorID `json:"monitorId"`
	Seconds   float64       `json:"seconds"`
}

// Stream handles GET /montage/{session_id}/ws. It pushes every session
// update and accepts player progress reports until either side goes away.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))
	sess, err := h.svc.Session(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	log := h.log.With(slog.String("session_id", string(id)))
	log.Debug("stream opened")

	updates, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &streamClient{id: id, conn: conn, sess: sess, svc: h.svc, log: log}
	go c.readPump(ctx, cancel)
	c.writePump(ctx, updates)
	log.Debug("stream closed")
}

type streamClient struct {
	id   SessionID
	conn *websocket.Conn
	sess *montage.Session
	svc  *Service
	log  *slog.Logger
}

// readPump forwards progress reports to the session. It cancels the stream
// when the connection fails.
func (c *streamClient) readPump(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket read failed", slog.String("error", err.Error()))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != MessageProgress {
			c.log.Debug("ignoring client message", slog.String("message", string(data)))
			continue
		}
		if err := c.sess.ReportProgress(ctx, msg.MonitorID, msg.Seconds); err != nil {
			c.log.Debug("progress rejected",
				slog.Int64("monitor_id", int64(msg.MonitorID)),
				slog.String("error", err.Error()))
		}
	}
}

// writePump sends updates until the subscription ends or ctx is cancelled,
// then closes the connection.
func (c *streamClient) writePump(ctx context.Context, updates <-chan montage.Update) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session stream ended"))
				return
			}
			if len(u.Commands) > 0 {
				if err := c.conn.WriteJSON(ServerMessage{Type: MessageCommands, Commands: u.Commands}); err != nil {
					return
				}
			}
			snap := u.Snapshot
			if err := c.conn.WriteJSON(ServerMessage{Type: MessageState, Snapshot: &snap}); err != nil {
				return
			}
		case <-ticker.C:
			// An open stream keeps the session from being reaped.
			if _, err := c.svc.Session(c.id); err != nil {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
