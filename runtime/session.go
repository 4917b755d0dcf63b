package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"chat-hub/contract"
	"chat-hub/domain"
	"chat-hub/domain/wire"
	errs "chat-hub/errors"
)

// Transport is one bidirectional frame channel. ReadFrame blocks until a
// frame arrives, the peer goes away, or Close is called; the idle-timeout
// policy is enforced by the implementation's read deadlines.
type Transport interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error
	RemoteAddr() string
}

type SessionState int32

const (
	StateConnecting SessionState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is the per-connection state machine:
// Connecting → Open → Closing → Closed.
//
// While Open it forwards inbound frames to the router and writes outbound
// pushes to the transport through a bounded queue. Overflow of that queue
// forces the session to Closing (close-on-overflow keeps ordering honest;
// silently dropping frames would not). Each physical reconnect is a brand
// new session; nothing here correlates it to a prior one.
type Session struct {
	id        domain.ConnectionID
	userID    domain.UserID
	username  string
	createdAt time.Time

	transport Transport
	verifier  contract.IdentityVerifier
	presence  *PresenceTracker
	router    *Router
	log       *slog.Logger

	out     chan []byte
	state   atomic.Int32
	closing chan struct{}
	done    chan struct{}
	once    sync.Once

	mu       sync.Mutex
	closeErr error
}

func NewSession(log *slog.Logger, transport Transport,
	verifier contract.IdentityVerifier, presence *PresenceTracker,
	router *Router, queueSize int) *Session {
	s := &Session{
		id:        domain.NewConnectionID(),
		createdAt: time.Now().UTC(),
		transport: transport,
		verifier:  verifier,
		presence:  presence,
		router:    router,
		log:       log,
		out:       make(chan []byte, queueSize),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *Session) ID() domain.ConnectionID { return s.id }
func (s *Session) UserID() domain.UserID   { return s.userID }
func (s *Session) Username() string        { return s.username }
func (s *Session) CreatedAt() time.Time    { return s.createdAt }

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Done is closed once the session reached Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// CloseReason reports why the session left Open; nil before that.
func (s *Session) CloseReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// Open verifies the handshake credential and registers the connection.
// On verification failure the session goes straight to Closed and is never
// registered; on registration failure (duplicate id) likewise.
func (s *Session) Open(credential string) error {
	if s.State() != StateConnecting {
		return errs.ErrSessionClosed
	}

	userID, username, err := s.verifier.Verify(credential)
	if err != nil {
		s.abortConnect(fmt.Errorf("%w: %v", errs.ErrAuthentication, err))
		return fmt.Errorf("%w: %v", errs.ErrAuthentication, err)
	}
	s.userID = userID
	s.username = username
	s.state.Store(int32(StateOpen))

	if err := s.presence.OnConnect(s); err != nil {
		s.abortConnect(err)
		return err
	}
	s.log.Info("Session open", "connection", s.id, "user", s.userID, "remote", s.transport.RemoteAddr())
	return nil
}

// abortConnect terminates a connection attempt before registration.
func (s *Session) abortConnect(reason error) {
	s.state.Store(int32(StateClosed))
	s.mu.Lock()
	s.closeErr = reason
	s.mu.Unlock()
	if frame, err := wire.EncodeError(reason.Error()); err == nil {
		_ = s.transport.WriteFrame(frame)
	}
	_ = s.transport.Close()
	close(s.done)
}

// Run drives the read and write loops until the session closes, then
// deregisters. Must be called once, after a successful Open. The loops run
// independently so a slow reader on one connection never blocks delivery
// to others.
func (s *Session) Run(ctx context.Context) error {
	switch s.State() {
	case StateOpen:
	case StateClosing:
		// The queue overflowed between Open and Run. The connection is
		// already registered, so it still needs the full teardown.
		s.finish()
		return nil
	default:
		return errs.ErrSessionClosed
	}

	// Server-initiated shutdown closes the session like any transport error.
	stop := context.AfterFunc(ctx, func() { s.beginClose(ctx.Err()) })
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.readLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.writeLoop()
	}()
	wg.Wait()

	s.finish()
	return nil
}

// finish deregisters the connection and moves the session to Closed.
func (s *Session) finish() {
	s.presence.OnDisconnect(s.id)
	s.state.Store(int32(StateClosed))
	close(s.done)
	s.log.Info("Session closed", "connection", s.id, "user", s.userID, "reason", s.CloseReason())
}

// Push enqueues an outbound frame without blocking. Only an Open session
// accepts pushes; a full queue forces the session to Closing and fails
// with ErrBackpressure, leaving other connections untouched.
func (s *Session) Push(frame []byte) error {
	if s.State() != StateOpen {
		return errs.ErrSessionClosed
	}
	select {
	case s.out <- frame:
		return nil
	default:
		s.beginClose(errs.ErrBackpressure)
		return errs.ErrBackpressure
	}
}

// beginClose moves Open → Closing exactly once and unblocks both loops:
// closing the transport kicks the reader, the closing channel kicks the
// writer.
func (s *Session) beginClose(reason error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.closeErr = reason
		s.mu.Unlock()
		s.state.Store(int32(StateClosing))
		close(s.closing)
		_ = s.transport.Close()
	})
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		frame, err := s.transport.ReadFrame()
		if err != nil {
			// Covers peer close, transport error, and idle timeout alike.
			s.beginClose(err)
			return
		}
		s.handleInbound(ctx, frame)
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.closing:
			// Pending frames past this point are discarded.
			return
		case frame := <-s.out:
			if err := s.transport.WriteFrame(frame); err != nil {
				s.beginClose(err)
				return
			}
		}
	}
}

// handleInbound dispatches one client frame. Send failures are reported
// back on this session only; they never touch other connections.
func (s *Session) handleInbound(ctx context.Context, raw []byte) {
	var in wire.Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		s.pushError("malformed frame")
		return
	}

	switch in.Type {
	case wire.TypeMessage:
		var send wire.InboundSend
		if err := json.Unmarshal(in.Data, &send); err != nil {
			s.pushError("malformed message payload")
			return
		}
		if _, err := s.router.Send(ctx, s.userID, domain.ChatID(send.ChatID), send.Message); err != nil {
			s.pushError(err.Error())
		}
	case wire.TypeTyping:
		var typing wire.InboundTyping
		if err := json.Unmarshal(in.Data, &typing); err != nil {
			return
		}
		// Fire-and-forget: a rejected indicator is not worth a reply.
		if err := s.router.Typing(ctx, s.userID, domain.ChatID(typing.ChatID)); err != nil {
			s.log.Debug("Typing indicator rejected", "connection", s.id, "err", err)
		}
	default:
		s.log.Debug("Unknown inbound frame type", "connection", s.id, "type", in.Type)
	}
}

func (s *Session) pushError(msg string) {
	frame, err := wire.EncodeError(msg)
	if err != nil {
		return
	}
	select {
	case s.out <- frame:
	default:
		// Error replies are droppable; no reason to close over one.
	}
}
