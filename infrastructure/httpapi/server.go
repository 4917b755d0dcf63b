// Package httpapi exposes the REST surface of the hub: sending messages,
// chat CRUD, history, and the online-users listing. Routes and response
// envelopes follow the web client contract.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"chat-hub/contract"
	"chat-hub/services"
)

type Server struct {
	log      *slog.Logger
	service  services.IChatService
	verifier contract.IdentityVerifier
}

func NewServer(log *slog.Logger, service services.IChatService, verifier contract.IdentityVerifier) *Server {
	return &Server{log: log, service: service, verifier: verifier}
}

// Routes mounts every REST endpoint plus the provided websocket handler.
func (s *Server) Routes(wsHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /chats/ws", wsHandler)

	mux.Handle("POST /chats/send", s.authenticated(s.handleSend))
	mux.Handle("POST /chats/typing", s.authenticated(s.handleTyping))
	mux.Handle("GET /chats", s.authenticated(s.handleListChats))
	mux.Handle("GET /chats/{chatId}/messages", s.authenticated(s.handleHistory))
	mux.Handle("POST /chats", s.authenticated(s.handleCreateDirect))
	mux.Handle("POST /chats/group", s.authenticated(s.handleCreateGroup))
	mux.Handle("POST /chats/{chatId}/join", s.authenticated(s.handleJoin))
	mux.Handle("GET /users/online", s.authenticated(s.handleOnlineUsers))

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *Server) respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		s.log.Debug("Response encoding failed", "err", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Message: msg})
}
