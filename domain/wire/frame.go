// Package wire defines the JSON frames pushed to open connections.
// Field names are part of the client contract and must not change.
package wire

import (
	"encoding/json"
	"time"

	"chat-hub/domain"
)

const (
	TypeMessage    = "message"
	TypeUserJoined = "user_joined"
	TypeUserLeft   = "user_left"
	TypeTyping     = "typing"
	TypeError      = "error"
)

// Frame is the envelope for every event pushed over a connection.
type Frame struct {
	Success bool   `json:"success"`
	Type    string `json:"type"`
	Data    any    `json:"data,omitempty"`
}

type MessagePayload struct {
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Message   string    `json:"message"`
	MessageID string    `json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
}

type PresencePayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
}

type TypingPayload struct {
	ChatID   string `json:"chat_id"`
	SenderID string `json:"sender_id"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func EncodeMessage(m domain.Message) ([]byte, error) {
	return json.Marshal(Frame{
		Success: true,
		Type:    TypeMessage,
		Data: MessagePayload{
			ChatID:    string(m.ChatID),
			SenderID:  string(m.SenderID),
			Message:   m.Content,
			MessageID: m.ID.String(),
			CreatedAt: m.CreatedAt,
		},
	})
}

func EncodeUserJoined(userID domain.UserID, username string) ([]byte, error) {
	return json.Marshal(Frame{
		Success: true,
		Type:    TypeUserJoined,
		Data:    PresencePayload{UserID: string(userID), Username: username},
	})
}

func EncodeUserLeft(userID domain.UserID) ([]byte, error) {
	return json.Marshal(Frame{
		Success: true,
		Type:    TypeUserLeft,
		Data:    PresencePayload{UserID: string(userID)},
	})
}

func EncodeTyping(chatID domain.ChatID, senderID domain.UserID) ([]byte, error) {
	return json.Marshal(Frame{
		Success: true,
		Type:    TypeTyping,
		Data:    TypingPayload{ChatID: string(chatID), SenderID: string(senderID)},
	})
}

func EncodeError(msg string) ([]byte, error) {
	return json.Marshal(Frame{
		Success: false,
		Type:    TypeError,
		Data:    ErrorPayload{Message: msg},
	})
}

// Inbound is a client-to-server frame read off the socket.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// InboundSend is the payload of an inbound "message" frame. Field names
// match the HTTP send endpoint body.
type InboundSend struct {
	ChatID  string `json:"chat_id"`
	Message string `json:"message"`
}

// InboundTyping is the payload of an inbound "typing" frame.
type InboundTyping struct {
	ChatID string `json:"chat_id"`
}
