package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/radbotlabs/radbot/internal/bus"
	"github.com/radbotlabs/radbot/pkg/models"
)

const (
	// writeWait bounds a single socket write.
	writeWait = 10 * time.Second

	// pongWait is how long a silent peer is tolerated.
	pongWait = 45 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = 30 * time.Second

	// maxFrameSize bounds inbound client frames.
	maxFrameSize = 1 << 20

	// sendBuffer is the outbound queue depth per connection. A client that
	// falls this far behind is closed and resynchronizes from history.
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientFrame is one inbound WS message.
type clientFrame struct {
	Type          string `json:"type"`
	Message       string `json:"message,omitempty"`
	Limit         int    `json:"limit,omitempty"`
	LastMessageID string `json:"lastMessageId,omitempty"`
}

// serverFrame is one outbound WS message.
type serverFrame struct {
	Type     string          `json:"type"`
	Content  any             `json:"content,omitempty"`
	Messages []*models.Event `json:"messages,omitempty"`
}

// wsConn is one live WebSocket attached to a session.
type wsConn struct {
	server    *Server
	sessionID string
	conn      *websocket.Conn
	sub       *bus.Subscriber

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// turnMu serializes turns started over this connection so the thinking
	// and ready statuses bracket one turn at a time.
	turnMu sync.Mutex
}

// handleWS upgrades the connection and attaches it to the session's event
// stream. The session is created on first contact, same as the chat path.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if _, err := s.sessions.GetOrCreate(r.Context(), sessionID, WebUserID); err != nil {
		writeError(w, http.StatusInternalServerError, "session: %v", err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "session_id", sessionID, "error", err)
		return
	}

	c := &wsConn{
		server:    s,
		sessionID: sessionID,
		conn:      conn,
		sub:       s.bus.Subscribe(sessionID),
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
	}
	s.logger.Info("ws connected", "session_id", sessionID, "remote", conn.RemoteAddr().String())

	go c.writeLoop()
	go c.pumpEvents()

	c.sendStatus("ready")
	c.readLoop()
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		c.server.bus.Unsubscribe(c.sub)
		close(c.done)
		c.conn.Close()
	})
}

// enqueue queues a frame without blocking. A full queue means the client is
// not keeping up; the connection is closed and the client recovers through
// history_request.
func (c *wsConn) enqueue(frame *serverFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		c.server.logger.Error("ws frame marshal failed", "error", err)
		return
	}
	select {
	case <-c.done:
	case c.send <- payload:
	default:
		c.server.logger.Warn("ws send queue full, closing", "session_id", c.sessionID)
		c.close()
	}
}

func (c *wsConn) sendStatus(status string) {
	c.enqueue(&serverFrame{Type: "status", Content: status})
}

func (c *wsConn) readLoop() {
	defer c.close()
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.sendStatus("error: invalid frame")
			continue
		}
		switch frame.Type {
		case "message":
			go c.runTurn(frame.Message)
		case "heartbeat":
			c.enqueue(&serverFrame{Type: "heartbeat"})
		case "history_request":
			c.sendHistory(frame.Limit)
		case "sync_request":
			c.sendSync(frame.LastMessageID)
		default:
			c.sendStatus("error: unknown frame type " + frame.Type)
		}
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// pumpEvents relays the session's live events. The subscriber channel closes
// when the bus drops this connection for falling behind.
func (c *wsConn) pumpEvents() {
	for ev := range c.sub.Events() {
		c.enqueue(&serverFrame{Type: "events", Content: []*models.Event{ev}})
		if ev.System != nil && ev.System.Kind == models.SystemReset {
			c.sendStatus("reset")
		}
	}
	c.close()
}

// runTurn executes one turn triggered over the socket. The resulting events
// arrive through the bus subscription; only the status bracket is sent here.
func (c *wsConn) runTurn(message string) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	c.sendStatus("thinking")
	_, err := c.server.runner.RunTurn(context.Background(), c.sessionID, message)
	if err != nil {
		c.server.logger.Warn("ws turn failed", "session_id", c.sessionID, "error", err)
		c.sendStatus("error: " + err.Error())
		return
	}
	c.sendStatus("ready")
}

// sendHistory replays the stored tail of the session.
func (c *wsConn) sendHistory(limit int) {
	sess, err := c.server.sessions.Get(context.Background(), c.sessionID)
	if err != nil {
		c.sendStatus("error: " + err.Error())
		return
	}
	events := wireEvents(sess.Events)
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	c.enqueue(&serverFrame{Type: "history", Messages: events})
}

// sendSync replays everything appended after the client's last seen event.
// An unknown id replays the full history; the client cannot be left with a
// gap.
func (c *wsConn) sendSync(lastMessageID string) {
	sess, err := c.server.sessions.Get(context.Background(), c.sessionID)
	if err != nil {
		c.sendStatus("error: " + err.Error())
		return
	}
	events := wireEvents(sess.Events)
	if lastMessageID != "" {
		for i, ev := range events {
			if ev.ID == lastMessageID {
				events = events[i+1:]
				break
			}
		}
	}
	c.enqueue(&serverFrame{Type: "sync_response", Messages: events})
}

// wireEvents filters and truncates stored events for the socket.
func wireEvents(stored []*models.Event) []*models.Event {
	out := []*models.Event{}
	for _, ev := range stored {
		if ev.ModelResponse != nil && ev.ModelResponse.Thought {
			continue
		}
		out = append(out, bus.TruncateForWire(ev))
	}
	return out
}
