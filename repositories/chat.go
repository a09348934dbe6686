package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"agora/domain"
	"agora/errors"
)

type IChatRepository interface {
	Create(chat domain.Chat, members []uuid.UUID) error
	Get(id uuid.UUID) (domain.Chat, error)
	ListFor(agentID uuid.UUID) ([]domain.Chat, error)
	AddMember(chatID, agentID uuid.UUID) (domain.Membership, error)
	RemoveMember(chatID, agentID uuid.UUID) error
	Members(chatID uuid.UUID) ([]domain.Membership, error)
	IsMember(chatID, agentID uuid.UUID) (bool, error)
	Delete(chatID uuid.UUID) ([]uuid.UUID, error)
}

type ChatRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewChatRepository(db *badger.DB, log *slog.Logger) ChatRepository {
	return ChatRepository{db: db, log: log}
}

type storedChat struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Type      domain.ChatType `json:"type"`
	CreatorID uuid.UUID       `json:"creator_id"`
	CreatedAt time.Time       `json:"created_at"`
}

type storedMembership struct {
	ChatID   uuid.UUID `json:"chat_id"`
	AgentID  uuid.UUID `json:"agent_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// Create writes the chat row and every initial membership, creator
// included, in one transaction. Members must already be deduplicated;
// membership-count invariants are the service's responsibility.
func (r ChatRepository) Create(chat domain.Chat, members []uuid.UUID) error {
	chatBytes, err := json.Marshal(fromChat(chat))
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(chatKey(chat.ID)); err == nil {
			return fmt.Errorf("chat %s: %w", chat.ID, errors.ErrConflict)
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.Set(chatKey(chat.ID), chatBytes); err != nil {
			return err
		}
		for _, agentID := range members {
			if err := writeMembership(txn, chat.ID, agentID, chat.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeMembership(txn *badger.Txn, chatID, agentID uuid.UUID, joinedAt time.Time) error {
	bytes, err := json.Marshal(storedMembership{ChatID: chatID, AgentID: agentID, JoinedAt: joinedAt})
	if err != nil {
		return err
	}
	if err := txn.Set(memberKey(chatID, agentID), bytes); err != nil {
		return err
	}
	return txn.Set(agentChatKey(agentID, chatID), nil)
}

func (r ChatRepository) Get(id uuid.UUID) (domain.Chat, error) {
	var chat domain.Chat
	err := r.db.View(func(txn *badger.Txn) error {
		stored, err := readChat(txn, id)
		if err != nil {
			return err
		}
		chat = toChat(stored)
		return nil
	})
	return chat, err
}

func readChat(txn *badger.Txn, id uuid.UUID) (storedChat, error) {
	var stored storedChat
	item, err := txn.Get(chatKey(id))
	if err == badger.ErrKeyNotFound {
		return stored, fmt.Errorf("chat %s: %w", id, errors.ErrNotFound)
	}
	if err != nil {
		return stored, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &stored)
	})
	return stored, err
}

// ListFor resolves the reverse membership index into chat rows.
func (r ChatRepository) ListFor(agentID uuid.UUID) ([]domain.Chat, error) {
	var chats []domain.Chat
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := agentChatPrefix(agentID)
		prefixLen := len(prefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			chatID, err := uuid.Parse(string(it.Item().Key()[prefixLen:]))
			if err != nil {
				return err
			}
			stored, err := readChat(txn, chatID)
			if err != nil {
				return err
			}
			chats = append(chats, toChat(stored))
		}
		return nil
	})
	return chats, err
}

// AddMember fails with ErrNotFound for an unknown chat and ErrConflict
// for an existing membership. Runs under the chat's transaction scope so
// concurrent creator actions cannot lose updates.
func (r ChatRepository) AddMember(chatID, agentID uuid.UUID) (domain.Membership, error) {
	joinedAt := time.Now().UTC()
	err := r.db.Update(func(txn *badger.Txn) error {
		if _, err := readChat(txn, chatID); err != nil {
			return err
		}
		if _, err := txn.Get(memberKey(chatID, agentID)); err == nil {
			return fmt.Errorf("agent %s in chat %s: %w", agentID, chatID, errors.ErrConflict)
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return writeMembership(txn, chatID, agentID, joinedAt)
	})
	if err != nil {
		return domain.Membership{}, err
	}
	return domain.Membership{ChatID: chatID, AgentID: agentID, JoinedAt: joinedAt}, nil
}

func (r ChatRepository) RemoveMember(chatID, agentID uuid.UUID) error {
	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := readChat(txn, chatID); err != nil {
			return err
		}
		if _, err := txn.Get(memberKey(chatID, agentID)); err == badger.ErrKeyNotFound {
			return fmt.Errorf("agent %s in chat %s: %w", agentID, chatID, errors.ErrNotFound)
		} else if err != nil {
			return err
		}
		if err := txn.Delete(memberKey(chatID, agentID)); err != nil {
			return err
		}
		return txn.Delete(agentChatKey(agentID, chatID))
	})
}

func (r ChatRepository) Members(chatID uuid.UUID) ([]domain.Membership, error) {
	var stored []storedMembership
	err := r.db.View(func(txn *badger.Txn) error {
		if _, err := readChat(txn, chatID); err != nil {
			return err
		}
		prefix := memberPrefix(chatID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var m storedMembership
				if err := json.Unmarshal(val, &m); err != nil {
					return err
				}
				stored = append(stored, m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(stored, func(m storedMembership, _ int) domain.Membership {
		return domain.Membership{ChatID: m.ChatID, AgentID: m.AgentID, JoinedAt: m.JoinedAt}
	}), nil
}

func (r ChatRepository) IsMember(chatID, agentID uuid.UUID) (bool, error) {
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(memberKey(chatID, agentID))
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	return err == nil, err
}

// Delete removes the chat, its memberships, its sequence counter, and the
// message log in one transaction, and returns the former member ids so
// callers can broadcast the deletion. Reads for the chat id return
// ErrNotFound from here on.
func (r ChatRepository) Delete(chatID uuid.UUID) ([]uuid.UUID, error) {
	var members []uuid.UUID
	err := r.db.Update(func(txn *badger.Txn) error {
		if _, err := readChat(txn, chatID); err != nil {
			return err
		}

		prefix := memberPrefix(chatID)
		prefixLen := len(prefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		var memberKeys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			memberKeys = append(memberKeys, key)
			agentID, err := uuid.Parse(string(key[prefixLen:]))
			if err != nil {
				it.Close()
				return err
			}
			members = append(members, agentID)
		}
		it.Close()

		var msgKeys [][]byte
		var msgIDs []uuid.UUID
		msgPfx := msgPrefix(chatID)
		mit := txn.NewIterator(badger.DefaultIteratorOptions)
		for mit.Seek(msgPfx); mit.ValidForPrefix(msgPfx); mit.Next() {
			msgKeys = append(msgKeys, mit.Item().KeyCopy(nil))
			err := mit.Item().Value(func(val []byte) error {
				var m storedMessage
				if err := json.Unmarshal(val, &m); err != nil {
					return err
				}
				msgIDs = append(msgIDs, m.ID)
				return nil
			})
			if err != nil {
				mit.Close()
				return err
			}
		}
		mit.Close()

		for _, key := range memberKeys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		for _, agentID := range members {
			if err := txn.Delete(agentChatKey(agentID, chatID)); err != nil {
				return err
			}
		}
		for _, key := range msgKeys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		for _, id := range msgIDs {
			if err := txn.Delete(msgIDKey(id)); err != nil {
				return err
			}
		}
		if err := txn.Delete(seqKey(chatID)); err != nil {
			return err
		}
		return txn.Delete(chatKey(chatID))
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

func fromChat(chat domain.Chat) storedChat {
	return storedChat{
		ID:        chat.ID,
		Name:      chat.Name,
		Type:      chat.Type,
		CreatorID: chat.CreatorID,
		CreatedAt: chat.CreatedAt,
	}
}

func toChat(stored storedChat) domain.Chat {
	return domain.Chat{
		ID:        stored.ID,
		Name:      stored.Name,
		Type:      stored.Type,
		CreatorID: stored.CreatorID,
		CreatedAt: stored.CreatedAt,
	}
}
