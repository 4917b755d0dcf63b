package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message represents an immutable chat event. Identity and CreatedAt are
// assigned by the store at persistence time, never by the caller.
type Message struct {
	ID        uuid.UUID // unique identifier
	ChatID    ChatID
	SenderID  UserID
	Content   string
	CreatedAt time.Time
}
