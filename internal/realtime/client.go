package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pulsefit/livestream/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SessionCoordinator is the slice of the coordinator the socket layer needs;
// satisfied by coordinator.Coordinator.
type SessionCoordinator interface {
	Join(ctx context.Context, sessionID, userID uuid.UUID) (*models.ViewerAttendance, error)
	Leave(ctx context.Context, sessionID, userID uuid.UUID) error
	PostChat(ctx context.Context, sessionID, userID uuid.UUID, body string, kind models.MessageKind) (*models.ChatMessage, error)
	ChatSince(ctx context.Context, sessionID uuid.UUID, afterSeq int64, limit int) ([]models.ChatMessage, error)
	ChatLatest(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error)
}

// replayTail caps the catch-up for clients connecting without a resume cursor.
const replayTail = 50

// Client represents a single WebSocket connection in a session room.
type Client struct {
	ID        string
	SessionID uuid.UUID
	UserID    uuid.UUID
	Role      string
	hub       *Hub
	coord     SessionCoordinator
	conn      *websocket.Conn
	send      chan WSMessage
	logger    *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop. The
// `since` query parameter is the chat resume cursor: missed messages with a
// greater sequence are replayed to this client before live fan-out.
func ServeWs(hub *Hub, coord SessionCoordinator, logger *zap.Logger, jwtValidate func(token string) (userID uuid.UUID, role string, err error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionIDStr := c.Query("session_id")
		token := c.Query("token")
		if sessionIDStr == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and token required"})
			return
		}
		sessionID, err := uuid.Parse(sessionIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
			return
		}
		userID, role, err := jwtValidate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		sinceRaw, hasCursor := c.GetQuery("since")
		since, _ := strconv.ParseInt(sinceRaw, 10, 64)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			UserID:    userID,
			Role:      role,
			hub:       hub,
			coord:     coord,
			conn:      conn,
			send:      make(chan WSMessage, 256),
			logger:    logger,
		}
		hub.Register(client)
		go client.writePump()
		client.replayChat(since, hasCursor)
		client.readPump()
	}
}

// replayChat sends messages missed since the resume cursor directly to this
// client, so a reconnecting subscriber loses nothing and sees no duplicates.
// Without a cursor only the recent tail is replayed.
func (c *Client) replayChat(since int64, hasCursor bool) {
	var msgs []models.ChatMessage
	var err error
	if hasCursor {
		msgs, err = c.coord.ChatSince(context.Background(), c.SessionID, since, 0)
	} else {
		msgs, err = c.coord.ChatLatest(context.Background(), c.SessionID, replayTail)
	}
	if err != nil {
		c.logger.Warn("chat replay failed", zap.Error(err), zap.String("session_id", c.SessionID.String()))
		return
	}
	for i := range msgs {
		data, err := json.Marshal(&msgs[i])
		if err != nil {
			continue
		}
		select {
		case c.send <- WSMessage{Event: "chat_message", Data: data}:
		default:
			return
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		// Socket teardown counts as a leave signal; duplicate leaves
		// are no-ops at the tracker.
		_ = c.coord.Leave(context.Background(), c.SessionID, c.UserID)
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		switch msg.Event {
		case "join":
			if _, err := c.coord.Join(context.Background(), c.SessionID, c.UserID); err != nil {
				c.sendError(err)
				continue
			}
			c.hub.BroadcastAndPublish(c.SessionID, "viewer_joined", map[string]string{
				"user_id": c.UserID.String(),
				"role":    c.Role,
			})
		case "leave":
			if err := c.coord.Leave(context.Background(), c.SessionID, c.UserID); err != nil {
				c.sendError(err)
				continue
			}
			c.hub.BroadcastAndPublish(c.SessionID, "viewer_left", map[string]string{
				"user_id": c.UserID.String(),
			})
		case "chat_message":
			var payload struct {
				Body string `json:"body"`
				Kind string `json:"kind"`
			}
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				continue
			}
			stored, err := c.coord.PostChat(context.Background(), c.SessionID, c.UserID, payload.Body, models.MessageKind(payload.Kind))
			if err != nil {
				c.sendError(err)
				continue
			}
			// Publish only: the Redis subscriber broadcasts once for
			// every instance, including this one.
			c.hub.PublishOnly(c.SessionID, "chat_message", stored)
		default:
			// ignore
		}
	}
}

func (c *Client) sendError(err error) {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	select {
	case c.send <- WSMessage{Event: "error", Data: data}:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
