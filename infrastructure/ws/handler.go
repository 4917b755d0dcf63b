package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"chat-hub/contract"
	"chat-hub/runtime"
)

// Handler upgrades HTTP requests to socket sessions. The credential
// travels in the "token" query parameter, which is what the web client
// sends; a failed verification closes the attempt and nothing else.
//
// Sessions run under the server-lifetime context, not the request one: a
// hijacked connection outlives its upgrade request, and shutdown must be
// able to close every open session.
type Handler struct {
	baseCtx      context.Context
	log          *slog.Logger
	verifier     contract.IdentityVerifier
	presence     *runtime.PresenceTracker
	router       *runtime.Router
	queueSize    int
	idleTimeout  time.Duration
	maxFrameSize int64
	upgrader     websocketUpgrader
}

func NewHandler(baseCtx context.Context, log *slog.Logger, verifier contract.IdentityVerifier,
	presence *runtime.PresenceTracker, router *runtime.Router,
	queueSize int, idleTimeout time.Duration, maxFrameSize int64,
	allowedOrigins []string) *Handler {
	return &Handler{
		baseCtx:      baseCtx,
		log:          log,
		verifier:     verifier,
		presence:     presence,
		router:       router,
		queueSize:    queueSize,
		idleTimeout:  idleTimeout,
		maxFrameSize: maxFrameSize,
		upgrader:     newUpgrader(allowedOrigins),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	credential := r.URL.Query().Get("token")
	if credential == "" {
		// Some clients send it as a bearer header instead.
		credential = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if credential == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	transport := NewConn(conn, h.idleTimeout, h.maxFrameSize)
	session := runtime.NewSession(h.log, transport, h.verifier, h.presence, h.router, h.queueSize)
	if err := session.Open(credential); err != nil {
		h.log.Warn("Session rejected", "remote", r.RemoteAddr, "err", err)
		return
	}

	// Blocking here is fine: the server already runs one goroutine per
	// request, and returning earlier would cancel nothing useful.
	if err := session.Run(h.baseCtx); err != nil {
		h.log.Debug("Session run ended", "connection", session.ID(), "err", err)
	}
}
