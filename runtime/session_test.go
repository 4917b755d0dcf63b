package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"chat-hub/domain"
	"chat-hub/domain/wire"
	errs "chat-hub/errors"
	"chat-hub/mocks"
	"chat-hub/runtime/workers"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// fakeTransport simulates the peer side of a connection: frames written
// into in are what the client sends, writes is what the client receives.
type fakeTransport struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 8), closed: make(chan struct{})}
}

func (ft *fakeTransport) ReadFrame() ([]byte, error) {
	select {
	case frame, ok := <-ft.in:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	case <-ft.closed:
		return nil, errors.New("use of closed transport")
	}
}

func (ft *fakeTransport) WriteFrame(frame []byte) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.writes = append(ft.writes, frame)
	return nil
}

func (ft *fakeTransport) Close() error {
	ft.once.Do(func() { close(ft.closed) })
	return nil
}

func (ft *fakeTransport) RemoteAddr() string { return "127.0.0.1:51234" }

func (ft *fakeTransport) written() [][]byte {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	out := make([][]byte, len(ft.writes))
	copy(out, ft.writes)
	return out
}

type sessionFixture struct {
	registry   *Registry
	presence   *PresenceTracker
	router     *Router
	membership *mocks.MockMembershipResolver
	store      *mocks.MockMessageStore
	verifier   *mocks.MockIdentityVerifier
}

func newSessionFixture(t *testing.T) sessionFixture {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	membership := mocks.NewMockMembershipResolver(ctrl)
	store := mocks.NewMockMessageStore(ctrl)
	verifier := mocks.NewMockIdentityVerifier(ctrl)

	registry := NewRegistry()
	presence := NewPresenceTracker(log, registry)
	deliveries := make(chan workers.Delivery, 16)
	router := NewRouter(log, registry, membership, store, nil, deliveries)

	ctx, cancel := context.WithCancel(context.Background())
	worker := workers.NewDeliveryWorker(log, registry, deliveries)
	go func() { _ = worker.Run(ctx) }()
	t.Cleanup(cancel)

	return sessionFixture{
		registry:   registry,
		presence:   presence,
		router:     router,
		membership: membership,
		store:      store,
		verifier:   verifier,
	}
}

func (f sessionFixture) newSession(transport Transport, queueSize int) *Session {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	return NewSession(log, transport, f.verifier, f.presence, f.router, queueSize)
}

func inboundMessageFrame(chatID, message string) []byte {
	return []byte(fmt.Sprintf(`{"type":"message","data":{"chat_id":%q,"message":%q}}`, chatID, message))
}

func TestSession_Open_Rejected_Credential(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	transport := newFakeTransport()
	session := f.newSession(transport, 8)

	// Given a credential the verifier refuses
	f.verifier.EXPECT().
		Verify("bad-token").
		Return(domain.UserID(""), "", errors.New("signature mismatch"))

	// When opening the session
	err := session.Open("bad-token")

	// Then it dies before ever being registered
	req.ErrorIs(err, errs.ErrAuthentication)
	req.Equal(StateClosed, session.State())
	req.Empty(f.registry.OnlineUsers())

	// And the client got an error frame before the transport closed
	writes := transport.written()
	req.Len(writes, 1)
	frame := decodeFrame(t, writes[0])
	req.False(frame.Success)
	req.Equal(wire.TypeError, frame.Type)

	select {
	case <-session.Done():
	default:
		req.Fail("Done must be closed after a rejected handshake")
	}
}

func TestSession_Open_Registers_Connection(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	transport := newFakeTransport()
	session := f.newSession(transport, 8)

	f.verifier.EXPECT().
		Verify("good-token").
		Return(domain.UserID("alice"), "Alice", nil)

	// When opening with a valid credential
	req.NoError(session.Open("good-token"))

	// Then the session is open and alice online
	req.Equal(StateOpen, session.State())
	req.Equal(domain.UserID("alice"), session.UserID())
	req.Equal("Alice", session.Username())
	req.True(f.registry.IsOnline("alice"))
}

func TestSession_Run_Forwards_Inbound_Message_And_Echoes(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	transport := newFakeTransport()
	session := f.newSession(transport, 8)

	f.verifier.EXPECT().Verify("good-token").Return(domain.UserID("alice"), "Alice", nil)
	f.membership.EXPECT().
		MembersOf(gomock.Any(), domain.ChatID("chat-1")).
		Return([]domain.UserID{"alice", "bob"}, nil)
	f.store.EXPECT().
		Persist(gomock.Any(), domain.ChatID("chat-1"), domain.UserID("alice"), "hello").
		Return(persistedMessage("chat-1", "alice", "hello"), nil)

	req.NoError(session.Open("good-token"))

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = session.Run(context.Background())
	}()

	// When the client sends a message frame
	transport.in <- inboundMessageFrame("chat-1", "hello")

	// Then the sender connection receives its own echo
	req.Eventually(func() bool {
		for _, raw := range transport.written() {
			if decodeFrame(t, raw).Type == wire.TypeMessage {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	// When the peer goes away
	transport.Close()

	select {
	case <-runDone:
	case <-time.After(time.Second):
		req.Fail("Run must return once the transport closed")
	}

	// Then the session closed and alice went offline
	req.Equal(StateClosed, session.State())
	req.False(f.registry.IsOnline("alice"))
}

func TestSession_Run_Reports_Send_Failure_On_Own_Connection(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	transport := newFakeTransport()
	session := f.newSession(transport, 8)

	f.verifier.EXPECT().Verify("good-token").Return(domain.UserID("alice"), "Alice", nil)
	f.membership.EXPECT().
		MembersOf(gomock.Any(), domain.ChatID("chat-1")).
		Return(nil, errs.ErrChatNotFound)

	req.NoError(session.Open("good-token"))

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = session.Run(context.Background())
	}()

	// When the client sends to a chat that does not exist
	transport.in <- inboundMessageFrame("chat-1", "hello?")

	// Then an error frame comes back on this session only
	req.Eventually(func() bool {
		for _, raw := range transport.written() {
			if decodeFrame(t, raw).Type == wire.TypeError {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	transport.Close()
	<-runDone
}

func TestSession_Push_Overflow_Forces_Close(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	transport := newFakeTransport()

	// Given an open session with a single-slot queue and no write loop
	session := f.newSession(transport, 1)
	f.verifier.EXPECT().Verify("good-token").Return(domain.UserID("alice"), "Alice", nil)
	req.NoError(session.Open("good-token"))

	// When pushing past capacity
	req.NoError(session.Push([]byte(`{"success":true}`)))
	err := session.Push([]byte(`{"success":true}`))

	// Then the overflowing push fails and the session is closing
	req.ErrorIs(err, errs.ErrBackpressure)
	req.Equal(StateClosing, session.State())
	req.ErrorIs(session.CloseReason(), errs.ErrBackpressure)

	// And later pushes are refused as closed
	req.ErrorIs(session.Push([]byte(`{}`)), errs.ErrSessionClosed)
}

func TestSession_Run_Cleans_Up_After_Early_Overflow(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	transport := newFakeTransport()

	// Given a session that overflowed between Open and Run
	session := f.newSession(transport, 1)
	f.verifier.EXPECT().Verify("good-token").Return(domain.UserID("alice"), "Alice", nil)
	req.NoError(session.Open("good-token"))
	req.NoError(session.Push([]byte(`{"success":true}`)))
	req.ErrorIs(session.Push([]byte(`{"success":true}`)), errs.ErrBackpressure)
	req.Equal(StateClosing, session.State())

	// When the handler still calls Run
	req.NoError(session.Run(context.Background()))

	// Then the connection is deregistered, not left online forever
	req.Equal(StateClosed, session.State())
	req.False(f.registry.IsOnline("alice"))
	select {
	case <-session.Done():
	default:
		req.Fail("Done must be closed once the session finished")
	}
}

func TestSession_Run_Stops_On_Context_Cancel(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	transport := newFakeTransport()
	session := f.newSession(transport, 8)

	f.verifier.EXPECT().Verify("good-token").Return(domain.UserID("alice"), "Alice", nil)
	req.NoError(session.Open("good-token"))

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = session.Run(ctx)
	}()

	// When the server shuts down
	cancel()

	select {
	case <-runDone:
	case <-time.After(time.Second):
		req.Fail("Run must return on context cancellation")
	}
	req.Equal(StateClosed, session.State())
	req.False(f.registry.IsOnline("alice"))
}

func TestSession_Run_Requires_Open_State(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	session := f.newSession(newFakeTransport(), 8)

	// When running a session that was never opened
	err := session.Run(context.Background())

	// Then it refuses instead of registering a ghost connection
	req.ErrorIs(err, errs.ErrSessionClosed)
}
