package runtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"chat-hub/auth"
	"chat-hub/domain"
	"chat-hub/domain/wire"
	"chat-hub/repositories"
	"chat-hub/runtime/workers"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const hubTestSecret = "hub-scenario-signing-secret"

// TestHub_Full_Scenario drives the whole stack through fake transports:
// three users connect, two of them share a direct chat, one message flows,
// and a disconnect is announced. Storage is a real badger instance.
func TestHub_Full_Scenario(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLogger(nil))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	chatRepo := repositories.NewChatRepository(db, log)
	messageRepo := repositories.NewMessageRepository(db, log, nil)

	registry := NewRegistry()
	presence := NewPresenceTracker(log, registry)
	deliveries := make(chan workers.Delivery, 64)
	router := NewRouter(log, registry, chatRepo, messageRepo, nil, deliveries)
	verifier := auth.NewVerifier(hubTestSecret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker := workers.NewDeliveryWorker(log, registry, deliveries)
	go func() { _ = worker.Run(ctx) }()

	// Given a direct chat between alice and bob; clara is an outsider
	chat, err := chatRepo.CreateDirect(context.Background(), "alice", "bob")
	req.NoError(err)

	connect := func(userID, username string) (*Session, *fakeTransport, chan struct{}) {
		transport := newFakeTransport()
		session := NewSession(log, transport, verifier, presence, router, 16)
		token, err := auth.GenerateToken(domain.UserID(userID), username, hubTestSecret, time.Hour)
		req.NoError(err)
		req.NoError(session.Open(token))
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = session.Run(ctx)
		}()
		return session, transport, done
	}

	countFrames := func(transport *fakeTransport, frameType string) int {
		n := 0
		for _, raw := range transport.written() {
			if decodeFrame(t, raw).Type == frameType {
				n++
			}
		}
		return n
	}

	// When the three users connect one after the other
	_, aliceT, aliceDone := connect("alice", "Alice")
	_, bobT, bobDone := connect("bob", "Bob")
	_, claraT, claraDone := connect("clara", "Clara")

	// Then alice saw bob and clara join, bob saw clara
	req.Eventually(func() bool { return countFrames(aliceT, wire.TypeUserJoined) == 2 },
		time.Second, 10*time.Millisecond)
	req.Eventually(func() bool { return countFrames(bobT, wire.TypeUserJoined) == 1 },
		time.Second, 10*time.Millisecond)

	// When alice sends a message to the shared chat
	aliceT.in <- inboundMessageFrame(string(chat.ID), "hello bob")

	// Then alice gets her echo and bob the message; clara gets nothing
	req.Eventually(func() bool { return countFrames(aliceT, wire.TypeMessage) == 1 },
		time.Second, 10*time.Millisecond)
	req.Eventually(func() bool { return countFrames(bobT, wire.TypeMessage) == 1 },
		time.Second, 10*time.Millisecond)
	req.Zero(countFrames(claraT, wire.TypeMessage))

	// And the message is durably recorded
	history, _, err := messageRepo.History(chat.ID, nil)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal("hello bob", history[0].Content)

	// When clara disconnects
	claraT.Close()
	select {
	case <-claraDone:
	case <-time.After(time.Second):
		req.Fail("clara's session should have closed")
	}

	// Then the remaining users saw exactly one user_left
	req.Eventually(func() bool { return countFrames(aliceT, wire.TypeUserLeft) == 1 },
		time.Second, 10*time.Millisecond)
	req.Eventually(func() bool { return countFrames(bobT, wire.TypeUserLeft) == 1 },
		time.Second, 10*time.Millisecond)

	// When the server shuts down, the remaining sessions close too
	cancel()
	for _, done := range []chan struct{}{aliceDone, bobDone} {
		select {
		case <-done:
		case <-time.After(time.Second):
			req.Fail("session should close on server shutdown")
		}
	}
	req.Empty(registry.OnlineUsers())
}
