package ws

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

type websocketUpgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request, responseHeader http.Header) (*websocket.Conn, error)
}

// newUpgrader builds an upgrader enforcing the configured origin
// allowlist. "*" in the list allows every origin; requests without an
// Origin header (non-browser clients) are always accepted.
func newUpgrader(allowedOrigins []string) websocketUpgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	allowAll := false
	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAll = true
			continue
		}
		allowed[strings.ToLower(strings.TrimSuffix(trimmed, "/"))] = struct{}{}
	}

	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowAll {
				return true
			}
			_, ok := allowed[strings.ToLower(strings.TrimSuffix(origin, "/"))]
			return ok
		},
	}
}
