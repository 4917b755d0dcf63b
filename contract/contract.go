//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
	"time"

	"chat-hub/domain"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes, avoiding the need
// for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Connection is one live transport channel, owned by its session and
// registered (not owned) by the registry.
type Connection interface {
	ID() domain.ConnectionID
	UserID() domain.UserID
	Username() string
	CreatedAt() time.Time
	// Push enqueues an outbound frame without blocking. A full queue fails
	// with ErrBackpressure and forces the connection closed; a closed
	// connection fails with ErrSessionClosed.
	Push(frame []byte) error
}

type IRegistry interface {
	Register(userID domain.UserID, conn Connection) (first bool, err error)
	Deregister(connID domain.ConnectionID) (last bool, userID domain.UserID, err error)
	ConnectionsFor(userID domain.UserID) []Connection
	IsOnline(userID domain.UserID) bool
	OnlineUsers() []domain.OnlineUser
}

// MembershipResolver is the authoritative chat membership lookup. The
// router never trusts client-asserted membership.
type MembershipResolver interface {
	MembersOf(ctx context.Context, chatID domain.ChatID) ([]domain.UserID, error)
}

// MessageStore assigns durable identity to a message. A message is never
// delivered live unless Persist succeeded first.
type MessageStore interface {
	Persist(ctx context.Context, chatID domain.ChatID, senderID domain.UserID, content string) (domain.Message, error)
}

// IdentityVerifier validates the handshake credential, once per connection.
type IdentityVerifier interface {
	Verify(credential string) (domain.UserID, string, error)
}
