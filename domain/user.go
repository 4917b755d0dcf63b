// Package domain holds the core identities and records of the hub.
package domain

// UserID is an opaque identifier, stable for the session lifetime.
type UserID string

// OnlineUser is the presence-listing view of a connected user.
type OnlineUser struct {
	UserID   UserID
	Username string
}
