package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"memechaos/internal/app"
	"memechaos/internal/domain"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Size of the send channel buffer
	sendBufferSize = 256

	// Time allowed for one player action to reach the repository
	actionTimeout = 10 * time.Second
)

// Client represents a WebSocket client connection
type Client struct {
	conn       *websocket.Conn
	session    *app.GameSession
	controller *app.Controller
	playerID   string
	send       chan []byte
	done       chan struct{}
	logger     *slog.Logger
	mu         sync.Mutex
	closed     bool
}

// NewClient creates a new WebSocket client
func NewClient(conn *websocket.Conn, session *app.GameSession, controller *app.Controller, playerID string, logger *slog.Logger) *Client {
	return &Client{
		conn:       conn,
		session:    session,
		controller: controller,
		playerID:   playerID,
		send:       make(chan []byte, sendBufferSize),
		done:       make(chan struct{}),
		logger:     logger.With("roomCode", session.GetRoomCode(), "playerID", playerID),
	}
}

// GetPlayerID returns the player ID for this client
func (c *Client) GetPlayerID() string {
	return c.playerID
}

// Send implements app.ClientConnection. Views are full state, so a client
// that cannot keep up is disconnected and catches up when it reconnects.
func (c *Client) Send(view *app.View) error {
	return c.write(NewServerMessage(MsgState, view))
}

func (c *Client) write(message *ServerMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	select {
	case c.send <- data:
		return nil
	default:
		c.logger.Warn("send buffer full, disconnecting client")
		c.closeLocked()
		return nil
	}
}

// Close implements app.ClientConnection. The read pump notices the closed
// connection and unregisters the client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.closed {
		return nil
	}

	c.closed = true
	close(c.done)
	return c.conn.Close()
}

// Run starts the client's read and write pumps
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

// readPump pumps messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		c.session.UnregisterClient(c.playerID, c)
		c.Close()
		c.logger.Info("websocket disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", "error", err)
			}
			break
		}

		c.handleMessage(message)
	}
}

// writePump pumps messages from the send channel to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// handleMessage processes an incoming message from the client
func (c *Client) handleMessage(data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(ErrCodeInvalidMessage, "Invalid message format")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	var err error
	switch msg.Type {
	case MsgStartGame:
		err = c.controller.StartGame(ctx, c.playerID)
	case MsgSubmitSituation:
		var p SubmitSituationPayload
		if !c.decode(msg.Payload, &p, true) {
			return
		}
		err = c.controller.SubmitSituation(ctx, c.playerID, p.Situation)
	case MsgPlayCard:
		var p PlayCardPayload
		if !c.decode(msg.Payload, &p, false) {
			return
		}
		if p.CardID == "" {
			c.sendError(ErrCodeInvalidMessage, "Card ID is required")
			return
		}
		err = c.controller.PlayCard(ctx, c.playerID, p.CardID)
	case MsgVote:
		var p VotePayload
		if !c.decode(msg.Payload, &p, false) {
			return
		}
		if p.PlayID == "" {
			c.sendError(ErrCodeInvalidMessage, "Play ID is required")
			return
		}
		err = c.controller.VoteForCard(ctx, c.playerID, p.PlayID)
	case MsgNextRound:
		err = c.controller.NextRound(ctx, c.playerID)
	case MsgPing:
		c.sendPong()
		return
	default:
		c.sendError(ErrCodeInvalidMessage, "Unknown message type")
		return
	}

	if err != nil {
		c.sendActionError(msg.Type, err)
	}
}

// decode unmarshals a payload, reporting malformed ones to the client
func (c *Client) decode(raw json.RawMessage, v any, optional bool) bool {
	if len(raw) == 0 {
		if optional {
			return true
		}
		c.sendError(ErrCodeInvalidMessage, "Payload is required")
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		c.sendError(ErrCodeInvalidMessage, "Invalid payload")
		return false
	}
	return true
}

func (c *Client) sendActionError(action MessageType, err error) {
	code := domain.Code(err)
	if code == ErrCodeInternalError || domain.Kind(err) == domain.ErrTransport {
		c.logger.Error("action failed", "action", action, "error", err)
		c.sendError(code, "Something went wrong, please try again")
		return
	}
	c.logger.Debug("action rejected", "action", action, "error", err)
	c.sendError(code, err.Error())
}

// sendError sends an error message to the client
func (c *Client) sendError(code, message string) {
	c.write(NewServerMessage(MsgError, &ErrorPayload{
		Code:    code,
		Message: message,
	}))
}

// sendPong sends a pong message in response to ping
func (c *Client) sendPong() {
	c.write(NewServerMessage(MsgPong, nil))
}
