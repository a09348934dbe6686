package repositories

import (
	"encoding/binary"
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

// maxAppendRetries bounds the optimistic-concurrency loop around the
// per-chat sequence allocation.
const maxAppendRetries = 32

type IMessageRepository interface {
	Append(cmd domain.SendMessageCommand) (domain.Message, error)
	Read(query domain.HistoryQuery) ([]domain.Message, error)
	Get(messageID uuid.UUID) (domain.Message, error)
	Tail(chatID uuid.UUID) (uint64, error)
}

type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) MessageRepository {
	return MessageRepository{db: db, log: log}
}

type storedMessage struct {
	ID       uuid.UUID   `json:"id"`
	ChatID   uuid.UUID   `json:"chat_id"`
	SenderID uuid.UUID   `json:"sender_id"`
	Content  string      `json:"content"`
	Mentions []uuid.UUID `json:"mentions,omitempty"`
	ParentID *uuid.UUID  `json:"parent_id,omitempty"`
	SentAt   time.Time   `json:"sent_at"`
	Seq      uint64      `json:"seq"`
}

// Append allocates the next sequence number for the chat and writes the
// message row in the same transaction. This is the single serialization
// point per chat: two concurrent senders conflict on seq:{chat}, one
// commit wins, the other retries with a fresh read. Sequence numbers come
// out strictly increasing with no gaps and no duplicates.
func (r MessageRepository) Append(cmd domain.SendMessageCommand) (domain.Message, error) {
	var message domain.Message
	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		err := r.db.Update(func(txn *badger.Txn) error {
			if _, err := readChat(txn, cmd.ChatID); err != nil {
				return err
			}

			seq, err := readSeq(txn, cmd.ChatID)
			if err != nil {
				return err
			}
			seq++

			message = domain.Message{
				ID:       uuid.New(),
				ChatID:   cmd.ChatID,
				SenderID: cmd.SenderID,
				Content:  cmd.Content,
				Mentions: cmd.Mentions,
				ParentID: cmd.ParentID,
				SentAt:   time.Now().UTC(),
				Seq:      seq,
			}
			bytes, err := json.Marshal(fromMessage(message))
			if err != nil {
				return err
			}

			key := msgKey(cmd.ChatID, seq)
			if err := txn.Set(key, bytes); err != nil {
				return err
			}
			if err := txn.Set(msgIDKey(message.ID), key); err != nil {
				return err
			}
			return txn.Set(seqKey(cmd.ChatID), encodeSeq(seq))
		})
		if err == badger.ErrConflict {
			r.log.Debug("sequence allocation conflict, retrying",
				"chat_id", cmd.ChatID, "attempt", attempt)
			continue
		}
		if err != nil {
			return domain.Message{}, err
		}
		return message, nil
	}
	return domain.Message{}, fmt.Errorf("chat %s: sequence allocation kept conflicting: %w",
		cmd.ChatID, errors.ErrConflict)
}

// Read returns messages with sequence strictly greater than FromSeq in
// ascending order, at most Limit rows. A limit of zero or less means the
// caller forgot to bound the page; default to a sane page.
func (r MessageRepository) Read(query domain.HistoryQuery) ([]domain.Message, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 100
	}
	var stored []storedMessage
	err := r.db.View(func(txn *badger.Txn) error {
		if _, err := readChat(txn, query.ChatID); err != nil {
			return err
		}
		prefix := msgPrefix(query.ChatID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(msgKey(query.ChatID, query.FromSeq+1)); it.ValidForPrefix(prefix); it.Next() {
			if len(stored) == limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var m storedMessage
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
	return lo.Map(stored, func(m storedMessage, _ int) domain.Message {
		return toMessage(m)
	}), nil
}

func (r MessageRepository) Get(messageID uuid.UUID) (domain.Message, error) {
	var message domain.Message
	err := r.db.View(func(txn *badger.Txn) error {
		idItem, err := txn.Get(msgIDKey(messageID))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("message %s: %w", messageID, errors.ErrNotFound)
		}
		if err != nil {
			return err
		}
		key, err := idItem.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("message %s: %w", messageID, errors.ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var m storedMessage
			if err := json.Unmarshal(val, &m); err != nil {
				return err
			}
			message = toMessage(m)
			return nil
		})
	})
	return message, err
}

// Tail returns the last allocated sequence number, zero for an empty log.
func (r MessageRepository) Tail(chatID uuid.UUID) (uint64, error) {
	var tail uint64
	err := r.db.View(func(txn *badger.Txn) error {
		if _, err := readChat(txn, chatID); err != nil {
			return err
		}
		var err error
		tail, err = readSeq(txn, chatID)
		return err
	})
	return tail, err
}

func readSeq(txn *badger.Txn, chatID uuid.UUID) (uint64, error) {
	item, err := txn.Get(seqKey(chatID))
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var seq uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt sequence counter for chat %s", chatID)
		}
		seq = binary.BigEndian.Uint64(val)
		return nil
	})
	return seq, err
}

func encodeSeq(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}

func fromMessage(message domain.Message) storedMessage {
	return storedMessage{
		ID:       message.ID,
		ChatID:   message.ChatID,
		SenderID: message.SenderID,
		Content:  message.Content,
		Mentions: message.Mentions,
		ParentID: message.ParentID,
		SentAt:   message.SentAt,
		Seq:      message.Seq,
	}
}

func toMessage(stored storedMessage) domain.Message {
	return domain.Message{
		ID:       stored.ID,
		ChatID:   stored.ChatID,
		SenderID: stored.SenderID,
		Content:  stored.Content,
		Mentions: stored.Mentions,
		ParentID: stored.ParentID,
		SentAt:   stored.SentAt,
		Seq:      stored.Seq,
	}
}
