package runtime

import (
	"errors"
	"fmt"
	"log/slog"

	"chat-hub/contract"
	"chat-hub/domain"
	"chat-hub/domain/wire"
	errs "chat-hub/errors"
)

// PresenceTracker wraps registry mutations with presence-event emission.
// It is the sole owner of the joined/left semantics: exactly one
// user_joined per 0→1 connection transition and one user_left per 1→0.
type PresenceTracker struct {
	log      *slog.Logger
	registry contract.IRegistry
}

func NewPresenceTracker(log *slog.Logger, registry contract.IRegistry) *PresenceTracker {
	return &PresenceTracker{log: log, registry: registry}
}

// OnConnect registers the connection. On the user's first connection the
// user_joined frame goes to all other online users; the joining user's own
// connections are excluded.
func (t *PresenceTracker) OnConnect(conn contract.Connection) error {
	first, err := t.registry.Register(conn.UserID(), conn)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	frame, err := wire.EncodeUserJoined(conn.UserID(), conn.Username())
	if err != nil {
		t.log.Error("Encoding user_joined frame failed", "user", conn.UserID(), "err", err)
		return nil
	}
	t.broadcast(frame, conn.UserID())
	t.log.Info(fmt.Sprintf("User %s is now online", conn.UserID()))
	return nil
}

// OnDisconnect deregisters by connection id. An already-removed connection
// is non-fatal. On the user's last connection the user_left frame goes to
// all remaining online users.
func (t *PresenceTracker) OnDisconnect(connID domain.ConnectionID) {
	last, userID, err := t.registry.Deregister(connID)
	if err != nil {
		// Already closed elsewhere (e.g. backpressure removal racing the
		// read loop); nothing left to announce.
		t.log.Debug("Deregister skipped", "connection", connID, "err", err)
		return
	}
	if !last {
		return
	}

	frame, err := wire.EncodeUserLeft(userID)
	if err != nil {
		t.log.Error("Encoding user_left frame failed", "user", userID, "err", err)
		return
	}
	t.broadcast(frame, userID)
	t.log.Info(fmt.Sprintf("User %s is now offline", userID))
}

// broadcast pushes a frame to every connection of every online user except
// excluded. Delivery is best-effort with per-recipient isolation: one
// broken connection never aborts the others.
func (t *PresenceTracker) broadcast(frame []byte, excluded domain.UserID) {
	for _, u := range t.registry.OnlineUsers() {
		if u.UserID == excluded {
			continue
		}
		for _, conn := range t.registry.ConnectionsFor(u.UserID) {
			if err := conn.Push(frame); err != nil {
				if errors.Is(err, errs.ErrBackpressure) {
					t.log.Warn("Presence push dropped, connection saturated",
						"user", u.UserID, "connection", conn.ID())
					continue
				}
				t.log.Debug("Presence push failed", "user", u.UserID, "err", err)
			}
		}
	}
}
