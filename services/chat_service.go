package services

import (
	"context"

	"chat-hub/contract"
	"chat-hub/domain"
	"chat-hub/repositories"
	"chat-hub/runtime"
)

// IChatService is the surface the transport layer consumes. It hides the
// router/registry split from HTTP and socket handlers.
type IChatService interface {
	Send(ctx context.Context, senderID domain.UserID, chatID domain.ChatID, content string) (domain.Message, error)
	Typing(ctx context.Context, senderID domain.UserID, chatID domain.ChatID) error
	ListOnlineUsers() []domain.OnlineUser
	History(chatID domain.ChatID, cursor *string) ([]domain.Message, *string, error)
	CreateDirectChat(ctx context.Context, a, b domain.UserID) (domain.Chat, error)
	CreateGroupChat(ctx context.Context, name string, creator domain.UserID, members []domain.UserID) (domain.Chat, error)
	JoinChat(ctx context.Context, chatID domain.ChatID, userID domain.UserID) (domain.Chat, error)
	ListChats(ctx context.Context, userID domain.UserID) ([]domain.Chat, error)
}

type ChatService struct {
	router   *runtime.Router
	registry contract.IRegistry
	messages repositories.MessageRepository
	chats    repositories.ChatRepository
}

func NewChatService(router *runtime.Router, registry contract.IRegistry,
	messages repositories.MessageRepository, chats repositories.ChatRepository) *ChatService {
	return &ChatService{router: router, registry: registry, messages: messages, chats: chats}
}

func (s *ChatService) Send(ctx context.Context, senderID domain.UserID,
	chatID domain.ChatID, content string) (domain.Message, error) {
	return s.router.Send(ctx, senderID, chatID, content)
}

func (s *ChatService) Typing(ctx context.Context, senderID domain.UserID, chatID domain.ChatID) error {
	return s.router.Typing(ctx, senderID, chatID)
}

func (s *ChatService) ListOnlineUsers() []domain.OnlineUser {
	return s.registry.OnlineUsers()
}

func (s *ChatService) History(chatID domain.ChatID, cursor *string) ([]domain.Message, *string, error) {
	return s.messages.History(chatID, cursor)
}

func (s *ChatService) CreateDirectChat(ctx context.Context, a, b domain.UserID) (domain.Chat, error) {
	return s.chats.CreateDirect(ctx, a, b)
}

func (s *ChatService) CreateGroupChat(ctx context.Context, name string,
	creator domain.UserID, members []domain.UserID) (domain.Chat, error) {
	return s.chats.CreateGroup(ctx, name, creator, members)
}

func (s *ChatService) JoinChat(ctx context.Context, chatID domain.ChatID, userID domain.UserID) (domain.Chat, error) {
	return s.chats.Join(ctx, chatID, userID)
}

func (s *ChatService) ListChats(ctx context.Context, userID domain.UserID) ([]domain.Chat, error) {
	return s.chats.ChatsFor(ctx, userID)
}
