package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"chat-hub/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMessageRepository_Persist_And_History_Sorted(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repository := NewMessageRepository(db, slog.Default(), nil)
	ctx := context.Background()
	chatID := domain.ChatID(uuid.NewString())

	// Given three messages persisted in order
	var persisted []domain.Message
	for _, author := range []domain.UserID{"alice", "bob", "clara"} {
		msg, err := repository.Persist(ctx, chatID, author, fmt.Sprintf("hello from %s", author))
		req.NoError(err)
		req.NotEqual(uuid.Nil, msg.ID)
		req.False(msg.CreatedAt.IsZero())
		persisted = append(persisted, msg)
	}

	// When fetching the history
	fetched, _, err := repository.History(chatID, nil)
	req.NoError(err)

	// Then the messages come back newest first
	req.Len(fetched, len(persisted))
	req.Equal(domain.UserID("clara"), fetched[0].SenderID)
	req.Equal(domain.UserID("bob"), fetched[1].SenderID)
	req.Equal(domain.UserID("alice"), fetched[2].SenderID)
	req.Equal("hello from clara", fetched[0].Content)
}

func TestMessageRepository_History_Isolated_Per_Chat(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repository := NewMessageRepository(db, slog.Default(), nil)
	ctx := context.Background()

	chat1 := domain.ChatID("chat-1")
	chat2 := domain.ChatID("chat-2")
	_, err := repository.Persist(ctx, chat1, "alice", "for chat one")
	req.NoError(err)
	_, err = repository.Persist(ctx, chat2, "bob", "for chat two")
	req.NoError(err)

	// When fetching one chat's history
	fetched, _, err := repository.History(chat1, nil)
	req.NoError(err)

	// Then the other chat's messages never leak in
	req.Len(fetched, 1)
	req.Equal(chat1, fetched[0].ChatID)
}

func TestMessageRepository_Pagination(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)

	limit := 4
	repo := NewMessageRepository(db, slog.Default(), &limit)
	ctx := context.Background()
	chatID := domain.ChatID("chat-42")

	// 10 messages, oldest to newest
	for i := 1; i <= 10; i++ {
		_, err := repo.Persist(ctx, chatID, domain.UserID(fmt.Sprintf("user_%d", i)), fmt.Sprintf("Message %d", i))
		req.NoError(err)
	}

	// --- PAGE 1 ---
	msgs1, cursor1, err := repo.History(chatID, nil)
	req.NoError(err)
	req.Len(msgs1, 4)
	req.Equal(domain.UserID("user_10"), msgs1[0].SenderID) // Most recent
	req.Equal(domain.UserID("user_7"), msgs1[3].SenderID)
	req.NotEmpty(cursor1)

	// --- PAGE 2 ---
	msgs2, cursor2, err := repo.History(chatID, cursor1)
	req.NoError(err)
	req.Len(msgs2, 4)
	// No duplicate across pages: page 2 starts at message 6
	req.Equal(domain.UserID("user_6"), msgs2[0].SenderID)
	req.Equal(domain.UserID("user_3"), msgs2[3].SenderID)
	req.NotEmpty(cursor2)

	// --- PAGE 3 (End) ---
	msgs3, cursor3, err := repo.History(chatID, cursor2)
	req.NoError(err)
	req.Len(msgs3, 2)
	req.Equal(domain.UserID("user_2"), msgs3[0].SenderID)
	req.Equal(domain.UserID("user_1"), msgs3[1].SenderID)

	// Scanning past the end yields nothing
	msgs4, _, err := repo.History(chatID, cursor3)
	req.NoError(err)
	req.Empty(msgs4)
}

func TestMessageRepository_Empty_History(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repository := NewMessageRepository(db, slog.Default(), nil)

	// When fetching a chat with no messages
	fetched, cursor, err := repository.History("nowhere", nil)

	// Then the result is empty with no cursor
	req.NoError(err)
	req.Empty(fetched)
	req.Nil(cursor)
}
