package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"chat-hub/domain"
	errs "chat-hub/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// MessageRepository is the durable message store. It assigns message
// identity and creation time; the hub core treats both as opaque.
type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) MessageRepository {
	return MessageRepository{db: db, log: log, limitMessages: limitMessages}
}

type diskMessage struct {
	ID       uuid.UUID `json:"id"`
	ChatID   string    `json:"chat_id"`
	SenderID string    `json:"sender_id"`
	Content  string    `json:"content"`
	At       time.Time `json:"at"`
}

// Persist stores a message in BadgerDB and returns it with its durable
// identity. The key is formatted as "msg:{chat_id}:{timestamp_padded}:{uuid}" to:
//  1. Ensure chronological sorting using 19-digit zero padding (lexicographical order).
//  2. Prevent data loss by using UUID as a collision disconnector if two messages
//     arrive at the same nanosecond.
//
// Any failure is wrapped in ErrPersistence so the router can abort
// delivery without inspecting storage internals.
func (m MessageRepository) Persist(_ context.Context, chatID domain.ChatID,
	senderID domain.UserID, content string) (domain.Message, error) {
	msg := domain.Message{
		ID:        uuid.New(),
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	key := fmt.Sprintf("msg:%s:%019d:%s", msg.ChatID, msg.CreatedAt.UnixNano(), msg.ID)
	bytes, err := json.Marshal(toDiskMessage(msg))
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", errs.ErrPersistence, err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", errs.ErrPersistence, err)
	}
	return msg, nil
}

// History retrieves messages for a chat using a reverse prefix scan,
// newest first. Thanks to the padded timestamp in the key, messages are
// naturally sorted by time. The returned cursor resumes the scan on the
// next call; nil means the beginning (most recent page).
func (m MessageRepository) History(chatID domain.ChatID, cursor *string) ([]domain.Message, *string, error) {
	var byteMessages [][]byte
	var lastKey string

	err := m.db.View(func(txn *badger.Txn) error {
		prefixStr := fmt.Sprintf("msg:%s:", chatID)
		prefix := []byte(prefixStr)
		prefixLen := len(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Seek past the newest possible timestamp, then walk backwards
			seekKey = append(prefix, []byte("9999999999999999999")...)
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}

		it.Seek(seekKey)

		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(byteMessages) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", *m.limitMessages))
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[prefixLen:])
			err := item.Value(func(value []byte) error {
				byteMessages = append(byteMessages, append([]byte(nil), value...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	messages := make([]domain.Message, 0, len(byteMessages))
	for _, b := range byteMessages {
		var dm diskMessage
		if err = json.Unmarshal(b, &dm); err != nil {
			return nil, nil, err
		}
		messages = append(messages, fromDiskMessage(dm))
	}

	if len(messages) == 0 {
		return messages, nil, nil
	}
	return messages, lo.ToPtr(lastKey), nil
}

func toDiskMessage(m domain.Message) diskMessage {
	return diskMessage{
		ID:       m.ID,
		ChatID:   string(m.ChatID),
		SenderID: string(m.SenderID),
		Content:  m.Content,
		At:       m.CreatedAt,
	}
}

func fromDiskMessage(dm diskMessage) domain.Message {
	return domain.Message{
		ID:        dm.ID,
		ChatID:    domain.ChatID(dm.ChatID),
		SenderID:  domain.UserID(dm.SenderID),
		Content:   dm.Content,
		CreatedAt: dm.At,
	}
}
