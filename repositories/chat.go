package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"chat-hub/domain"
	errs "chat-hub/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ChatRepository owns chat membership. It is the authoritative
// MembershipResolver used by the router: a direct chat holds exactly its
// two members, a group chat its full member set. The same set is returned
// for both kinds, never a "other participants" view.
//
// Keys: "chat:{id}" holds the chat record, "chatmember:{user}:{chat}" is a
// secondary index for listing a user's chats.
type ChatRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewChatRepository(db *badger.DB, log *slog.Logger) ChatRepository {
	return ChatRepository{db: db, log: log}
}

type diskChat struct {
	ID      string   `json:"id"`
	IsGroup bool     `json:"is_group"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// MembersOf implements contract.MembershipResolver.
func (c ChatRepository) MembersOf(_ context.Context, chatID domain.ChatID) ([]domain.UserID, error) {
	chat, err := c.Get(chatID)
	if err != nil {
		return nil, err
	}
	return chat.Members, nil
}

func (c ChatRepository) Get(chatID domain.ChatID) (domain.Chat, error) {
	var chat domain.Chat
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		chat, err = getChat(txn, chatID)
		return err
	})
	if err != nil {
		return domain.Chat{}, err
	}
	return chat, nil
}

// CreateDirect creates a two-member chat, or returns the existing one if
// the pair already shares a direct chat. Scan and insert run in one
// transaction so concurrent calls for the same pair cannot both create.
func (c ChatRepository) CreateDirect(_ context.Context, a, b domain.UserID) (domain.Chat, error) {
	if a == b {
		return domain.Chat{}, fmt.Errorf("%w: a direct chat needs two distinct members", errs.ErrInvalidRequest)
	}

	var chat domain.Chat
	err := c.update(func(txn *badger.Txn) error {
		existing, err := c.chatsForIn(txn, a)
		if err != nil {
			return err
		}
		for _, candidate := range existing {
			if !candidate.IsGroup && candidate.HasMember(b) {
				chat = candidate
				return nil
			}
		}
		chat = domain.Chat{
			ID:      domain.ChatID(uuid.NewString()),
			IsGroup: false,
			Members: []domain.UserID{a, b},
		}
		return storeChat(txn, chat)
	})
	if err != nil {
		return domain.Chat{}, err
	}
	return chat, nil
}

// CreateGroup creates a group chat. The creator is always a member.
func (c ChatRepository) CreateGroup(_ context.Context, name string,
	creator domain.UserID, members []domain.UserID) (domain.Chat, error) {
	all := lo.Uniq(append([]domain.UserID{creator}, members...))
	chat := domain.Chat{
		ID:      domain.ChatID(uuid.NewString()),
		IsGroup: true,
		Name:    name,
		Members: all,
	}
	return chat, c.store(chat)
}

// Join adds a user to a group chat. Joining a direct chat is rejected.
// Read and write share one transaction so two concurrent joins cannot
// drop each other's member.
func (c ChatRepository) Join(_ context.Context, chatID domain.ChatID, userID domain.UserID) (domain.Chat, error) {
	var chat domain.Chat
	err := c.update(func(txn *badger.Txn) error {
		var err error
		chat, err = getChat(txn, chatID)
		if err != nil {
			return err
		}
		if !chat.IsGroup {
			return fmt.Errorf("%w: cannot join a direct chat", errs.ErrInvalidRequest)
		}
		if chat.HasMember(userID) {
			return nil
		}
		chat.Members = append(chat.Members, userID)
		return storeChat(txn, chat)
	})
	if err != nil {
		return domain.Chat{}, err
	}
	return chat, nil
}

// ChatsFor lists every chat the user is a member of.
func (c ChatRepository) ChatsFor(_ context.Context, userID domain.UserID) ([]domain.Chat, error) {
	return c.chatsFor(userID)
}

func (c ChatRepository) chatsFor(userID domain.UserID) ([]domain.Chat, error) {
	var chats []domain.Chat
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		chats, err = c.chatsForIn(txn, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return chats, nil
}

func (c ChatRepository) chatsForIn(txn *badger.Txn, userID domain.UserID) ([]domain.Chat, error) {
	var ids []domain.ChatID
	prefix := []byte(fmt.Sprintf("chatmember:%s:", userID))

	options := badger.DefaultIteratorOptions
	options.PrefetchValues = false
	it := txn.NewIterator(options)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := string(it.Item().Key())
		ids = append(ids, domain.ChatID(key[len(prefix):]))
	}

	chats := make([]domain.Chat, 0, len(ids))
	for _, id := range ids {
		chat, err := getChat(txn, id)
		if err != nil {
			// Index without a record means a torn write; skip, don't fail the listing
			c.log.Warn("Dangling chat member index", "chat", id, "user", userID)
			continue
		}
		chats = append(chats, chat)
	}
	return chats, nil
}

// update runs fn in one read-write transaction and retries when a
// concurrent commit touched the same keys.
func (c ChatRepository) update(fn func(txn *badger.Txn) error) error {
	for {
		err := c.db.Update(fn)
		if err == badger.ErrConflict {
			c.log.Debug("Chat transaction conflict, retrying")
			continue
		}
		return err
	}
}

func (c ChatRepository) store(chat domain.Chat) error {
	return c.update(func(txn *badger.Txn) error {
		return storeChat(txn, chat)
	})
}

func getChat(txn *badger.Txn, chatID domain.ChatID) (domain.Chat, error) {
	item, err := txn.Get(chatKey(chatID))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return domain.Chat{}, errs.ErrChatNotFound
		}
		return domain.Chat{}, err
	}
	var dc diskChat
	if err := item.Value(func(value []byte) error {
		return json.Unmarshal(value, &dc)
	}); err != nil {
		return domain.Chat{}, err
	}
	return fromDiskChat(dc), nil
}

func storeChat(txn *badger.Txn, chat domain.Chat) error {
	bytes, err := json.Marshal(toDiskChat(chat))
	if err != nil {
		return err
	}
	if err := txn.Set(chatKey(chat.ID), bytes); err != nil {
		return err
	}
	for _, member := range chat.Members {
		key := fmt.Sprintf("chatmember:%s:%s", member, chat.ID)
		if err := txn.Set([]byte(key), nil); err != nil {
			return err
		}
	}
	return nil
}

func chatKey(chatID domain.ChatID) []byte {
	return []byte(fmt.Sprintf("chat:%s", chatID))
}

func toDiskChat(chat domain.Chat) diskChat {
	return diskChat{
		ID:      string(chat.ID),
		IsGroup: chat.IsGroup,
		Name:    chat.Name,
		Members: lo.Map(chat.Members, func(m domain.UserID, _ int) string { return string(m) }),
	}
}

func fromDiskChat(dc diskChat) domain.Chat {
	return domain.Chat{
		ID:      domain.ChatID(dc.ID),
		IsGroup: dc.IsGroup,
		Name:    dc.Name,
		Members: lo.Map(dc.Members, func(m string, _ int) domain.UserID { return domain.UserID(m) }),
	}
}
