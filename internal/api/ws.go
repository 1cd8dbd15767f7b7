package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/buulam/clapshot/internal/logger"
	"github.com/buulam/clapshot/internal/notify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsSession adapts one live WebSocket connection to notify.Session, the
// Notification Bus's delivery target (spec §4.H).
type wsSession struct {
	conn *websocket.Conn
	send chan notify.OutboundMessage
}

func (s *wsSession) Send(msg notify.OutboundMessage) error {
	select {
	case s.send <- msg:
		return nil
	default:
		return nil // slow consumer: drop rather than block the bus
	}
}

func (s *wsSession) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				logger.Error("api: marshal ws message: %v", err)
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *wsSession) readPump(userId, sessionId string, bus *notify.Bus) {
	defer func() {
		bus.UnregisterSession(userId, sessionId)
		close(s.send)
		s.conn.Close()
	}()
	s.conn.SetReadLimit(4096)
	_ = s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, _, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
	}
}

// serveWS upgrades the connection and registers it as a live session
// for ?user_id=, replaying any unseen persisted messages (P8) before
// handing off to the read/write pumps.
func (s *Server) serveWS(c *gin.Context) {
	userId := c.Query("user_id")
	if userId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("api: ws upgrade: %v", err)
		return
	}

	session := &wsSession{conn: conn, send: make(chan notify.OutboundMessage, 16)}
	sessionId := uuid.NewString()

	s.bus.RegisterSession(userId, sessionId, session)
	if err := s.bus.ReplayUnseen(userId); err != nil {
		logger.Warn("api: replay unseen for %s: %v", userId, err)
	}

	go session.writePump()
	session.readPump(userId, sessionId, s.bus)
}
