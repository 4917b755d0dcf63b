package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chat-hub/domain"
	"chat-hub/domain/wire"
	"chat-hub/mocks"
	"chat-hub/runtime"
	"chat-hub/runtime/workers"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestUpgrader_Origin_Allowlist(t *testing.T) {
	req := require.New(t)

	newRequest := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/chats/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	restricted := newUpgrader([]string{"https://app.example.com"}).(*websocket.Upgrader)
	req.True(restricted.CheckOrigin(newRequest("https://app.example.com")))
	req.True(restricted.CheckOrigin(newRequest("https://APP.example.com/")))
	req.False(restricted.CheckOrigin(newRequest("https://evil.example.com")))
	// Non-browser clients carry no Origin header
	req.True(restricted.CheckOrigin(newRequest("")))

	open := newUpgrader([]string{"*"}).(*websocket.Upgrader)
	req.True(open.CheckOrigin(newRequest("https://anywhere.example.com")))
}

type wsFixture struct {
	server     *httptest.Server
	membership *mocks.MockMembershipResolver
	store      *mocks.MockMessageStore
}

func newWsFixture(t *testing.T) wsFixture {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	membership := mocks.NewMockMembershipResolver(ctrl)
	store := mocks.NewMockMessageStore(ctrl)

	verifier := mocks.NewMockIdentityVerifier(ctrl)
	verifier.EXPECT().
		Verify(gomock.Any()).
		DoAndReturn(func(credential string) (domain.UserID, string, error) {
			// Tokens are "user:username" for the purpose of these tests
			parts := strings.SplitN(credential, ":", 2)
			return domain.UserID(parts[0]), parts[1], nil
		}).
		AnyTimes()

	registry := runtime.NewRegistry()
	presence := runtime.NewPresenceTracker(log, registry)
	deliveries := make(chan workers.Delivery, 16)
	router := runtime.NewRouter(log, registry, membership, store, nil, deliveries)

	ctx, cancel := context.WithCancel(context.Background())
	worker := workers.NewDeliveryWorker(log, registry, deliveries)
	go func() { _ = worker.Run(ctx) }()

	handler := NewHandler(ctx, log, verifier, presence, router,
		16, time.Minute, 4096, []string{"*"})
	server := httptest.NewServer(handler)

	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return wsFixture{server: server, membership: membership, store: store}
}

func (f wsFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wire.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame wire.Frame
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

func TestHandler_Missing_Token(t *testing.T) {
	req := require.New(t)
	f := newWsFixture(t)

	resp, err := http.Get(f.server.URL)
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_Socket_Roundtrip(t *testing.T) {
	req := require.New(t)
	f := newWsFixture(t)

	f.membership.EXPECT().
		MembersOf(gomock.Any(), domain.ChatID("chat-1")).
		Return([]domain.UserID{"alice", "bob"}, nil)
	f.store.EXPECT().
		Persist(gomock.Any(), domain.ChatID("chat-1"), domain.UserID("alice"), "hello over ws").
		DoAndReturn(func(_ context.Context, chatID domain.ChatID, senderID domain.UserID, content string) (domain.Message, error) {
			return domain.Message{
				ChatID: chatID, SenderID: senderID,
				Content: content, CreatedAt: time.Now().UTC(),
			}, nil
		})

	// Given bob already connected
	bob := f.dial(t, "bob:Bob")

	// When alice connects, bob is told she joined
	alice := f.dial(t, "alice:Alice")
	joined := readFrame(t, bob)
	req.Equal(wire.TypeUserJoined, joined.Type)
	req.Equal("alice", joined.Data.(map[string]any)["user_id"])

	// When alice sends a message over the socket
	req.NoError(alice.WriteJSON(map[string]any{
		"type": "message",
		"data": map[string]any{"chat_id": "chat-1", "message": "hello over ws"},
	}))

	// Then bob receives it and alice gets her echo
	delivered := readFrame(t, bob)
	req.Equal(wire.TypeMessage, delivered.Type)
	req.Equal("hello over ws", delivered.Data.(map[string]any)["message"])

	echo := readFrame(t, alice)
	req.Equal(wire.TypeMessage, echo.Type)

	// When alice disconnects, bob is told she left
	req.NoError(alice.Close())
	left := readFrame(t, bob)
	req.Equal(wire.TypeUserLeft, left.Type)
	req.Equal("alice", left.Data.(map[string]any)["user_id"])
}
