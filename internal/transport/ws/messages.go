package ws

import (
	"encoding/json"
	"time"
)

// MessageType represents the type of WebSocket message
type MessageType string

// Client → Server message types
const (
	MsgStartGame       MessageType = "start_game"
	MsgSubmitSituation MessageType = "submit_situation"
	MsgPlayCard        MessageType = "play_card"
	MsgVote            MessageType = "vote"
	MsgNextRound       MessageType = "next_round"
	MsgPing            MessageType = "ping"
)

// Server → Client message types
const (
	MsgState MessageType = "state"
	MsgError MessageType = "error"
	MsgPong  MessageType = "pong"
)

// ClientMessage represents a message from client to server
type ClientMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage represents a message from server to client
type ServerMessage struct {
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// NewServerMessage creates a new server message with current timestamp
func NewServerMessage(msgType MessageType, payload any) *ServerMessage {
	return &ServerMessage{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Client message payloads

// SubmitSituationPayload is the payload for submit_situation. An empty
// situation asks the server to pick one.
type SubmitSituationPayload struct {
	Situation string `json:"situation"`
}

// PlayCardPayload is the payload for play_card
type PlayCardPayload struct {
	CardID string `json:"cardId"`
}

// VotePayload is the payload for vote
type VotePayload struct {
	PlayID string `json:"playId"`
}

// Server message payloads

// ErrorPayload is the payload for error message
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes not produced by the game itself
const (
	ErrCodeInvalidMessage = "INVALID_MESSAGE"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)
