package domain

import "github.com/google/uuid"

// ConnectionID is unique per transport channel, not per user: one user may
// hold several simultaneous connections from different devices or tabs.
type ConnectionID string

func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}
