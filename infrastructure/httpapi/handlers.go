package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"chat-hub/domain"
	errs "chat-hub/errors"

	"github.com/samber/lo"
)

type sendRequest struct {
	ChatID  string `json:"chat_id"`
	Message string `json:"message"`
}

type messageResponse struct {
	MessageID string    `json:"message_id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed body")
		return
	}

	msg, err := s.service.Send(r.Context(), callerID(r), domain.ChatID(req.ChatID), req.Message)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respond(w, http.StatusOK, toMessageResponse(msg))
}

type typingRequest struct {
	ChatID string `json:"chat_id"`
}

func (s *Server) handleTyping(w http.ResponseWriter, r *http.Request) {
	var req typingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if err := s.service.Typing(r.Context(), callerID(r), domain.ChatID(req.ChatID)); err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respond(w, http.StatusAccepted, nil)
}

type onlineUserResponse struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
}

func (s *Server) handleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	users := s.service.ListOnlineUsers()
	s.respond(w, http.StatusOK, lo.Map(users, func(u domain.OnlineUser, _ int) onlineUserResponse {
		return onlineUserResponse{UserID: string(u.UserID), Username: u.Username}
	}))
}

type historyResponse struct {
	Messages []messageResponse `json:"messages"`
	Cursor   *string           `json:"cursor,omitempty"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	chatID := domain.ChatID(r.PathValue("chatId"))

	var cursor *string
	if c := r.URL.Query().Get("cursor"); c != "" {
		cursor = &c
	}

	messages, next, err := s.service.History(chatID, cursor)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respond(w, http.StatusOK, historyResponse{
		Messages: lo.Map(messages, func(m domain.Message, _ int) messageResponse { return toMessageResponse(m) }),
		Cursor:   next,
	})
}

type chatResponse struct {
	ChatID  string   `json:"chat_id"`
	IsGroup bool     `json:"is_group"`
	Name    string   `json:"name,omitempty"`
	Members []string `json:"members"`
}

type createDirectRequest struct {
	RecipientID string `json:"recipient_id"`
}

func (s *Server) handleCreateDirect(w http.ResponseWriter, r *http.Request) {
	var req createDirectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RecipientID == "" {
		s.respondError(w, http.StatusBadRequest, "recipient_id is required")
		return
	}

	chat, err := s.service.CreateDirectChat(r.Context(), callerID(r), domain.UserID(req.RecipientID))
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respond(w, http.StatusOK, toChatResponse(chat))
}

type createGroupRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		s.respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	members := lo.Map(req.Members, func(m string, _ int) domain.UserID { return domain.UserID(m) })
	chat, err := s.service.CreateGroupChat(r.Context(), req.Name, callerID(r), members)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respond(w, http.StatusCreated, toChatResponse(chat))
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	chatID := domain.ChatID(r.PathValue("chatId"))
	chat, err := s.service.JoinChat(r.Context(), chatID, callerID(r))
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respond(w, http.StatusOK, toChatResponse(chat))
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.service.ListChats(r.Context(), callerID(r))
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respond(w, http.StatusOK, lo.Map(chats, func(c domain.Chat, _ int) chatResponse { return toChatResponse(c) }))
}

// statusFor maps the error taxonomy to HTTP: caller mistakes are 4xx,
// persistence trouble is the only 5xx a send can produce.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrChatNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrNotAMember):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func toMessageResponse(m domain.Message) messageResponse {
	return messageResponse{
		MessageID: m.ID.String(),
		ChatID:    string(m.ChatID),
		SenderID:  string(m.SenderID),
		Message:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

func toChatResponse(c domain.Chat) chatResponse {
	return chatResponse{
		ChatID:  string(c.ID),
		IsGroup: c.IsGroup,
		Name:    c.Name,
		Members: lo.Map(c.Members, func(m domain.UserID, _ int) string { return string(m) }),
	}
}
