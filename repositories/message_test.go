package repositories

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"agora/domain"
	"agora/errors"
)

func Test_Append_Assigns_Gapless_Sequence(t *testing.T) {
	req := require.New(t)
	db := testDB(t)
	chats := NewChatRepository(db, slog.Default())
	messages := NewMessageRepository(db, slog.Default())

	chat := newChat(uuid.New())
	req.NoError(chats.Create(chat, []uuid.UUID{chat.CreatorID}))

	for want := uint64(1); want <= 5; want++ {
		message, err := messages.Append(domain.SendMessageCommand{
			ChatID: chat.ID, SenderID: chat.CreatorID, Content: "hello",
		})
		req.NoError(err)
		req.Equal(want, message.Seq)
	}

	tail, err := messages.Tail(chat.ID)
	req.NoError(err)
	req.Equal(uint64(5), tail)
}

func Test_Concurrent_Appends_Never_Collide(t *testing.T) {
	req := require.New(t)
	db := testDB(t)
	chats := NewChatRepository(db, slog.Default())
	messages := NewMessageRepository(db, slog.Default())

	chat := newChat(uuid.New())
	req.NoError(chats.Create(chat, []uuid.UUID{chat.CreatorID}))

	// Given many senders racing on the same chat
	const senders = 16
	const perSender = 5
	var wg sync.WaitGroup
	seqs := make(chan uint64, senders*perSender)
	for range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perSender {
				message, err := messages.Append(domain.SendMessageCommand{
					ChatID: chat.ID, SenderID: uuid.New(), Content: "race",
				})
				if err == nil {
					seqs <- message.Seq
				}
			}
		}()
	}
	wg.Wait()
	close(seqs)

	// Then every allocated sequence is unique and the set is gapless
	seen := make(map[uint64]bool)
	var max uint64
	for seq := range seqs {
		req.False(seen[seq], "sequence %d allocated twice", seq)
		seen[seq] = true
		if seq > max {
			max = seq
		}
	}
	req.Equal(senders*perSender, len(seen))
	req.Equal(uint64(senders*perSender), max)
}

func Test_Read_Strictly_After_Watermark(t *testing.T) {
	req := require.New(t)
	db := testDB(t)
	chats := NewChatRepository(db, slog.Default())
	messages := NewMessageRepository(db, slog.Default())

	chat := newChat(uuid.New())
	req.NoError(chats.Create(chat, []uuid.UUID{chat.CreatorID}))
	for range 6 {
		_, err := messages.Append(domain.SendMessageCommand{
			ChatID: chat.ID, SenderID: chat.CreatorID, Content: "row",
		})
		req.NoError(err)
	}

	// When reading after sequence 2 with a page of 3
	page, err := messages.Read(domain.HistoryQuery{ChatID: chat.ID, FromSeq: 2, Limit: 3})
	req.NoError(err)

	// Then exactly 3, 4, 5 come back in order
	req.Equal([]uint64{3, 4, 5},
		lo.Map(page, func(m domain.Message, _ int) uint64 { return m.Seq }))

	// And reading past the tail is empty, not an error
	page, err = messages.Read(domain.HistoryQuery{ChatID: chat.ID, FromSeq: 6, Limit: 3})
	req.NoError(err)
	req.Empty(page)
}

func Test_Get_By_Message_ID(t *testing.T) {
	req := require.New(t)
	db := testDB(t)
	chats := NewChatRepository(db, slog.Default())
	messages := NewMessageRepository(db, slog.Default())

	chat := newChat(uuid.New())
	req.NoError(chats.Create(chat, []uuid.UUID{chat.CreatorID}))

	parent, err := messages.Append(domain.SendMessageCommand{
		ChatID: chat.ID, SenderID: chat.CreatorID, Content: "root",
	})
	req.NoError(err)

	reply, err := messages.Append(domain.SendMessageCommand{
		ChatID: chat.ID, SenderID: chat.CreatorID, Content: "reply",
		ParentID: &parent.ID,
	})
	req.NoError(err)

	fetched, err := messages.Get(reply.ID)
	req.NoError(err)
	req.Equal(reply.Seq, fetched.Seq)
	req.NotNil(fetched.ParentID)
	req.Equal(parent.ID, *fetched.ParentID)

	_, err = messages.Get(uuid.New())
	req.ErrorIs(err, errors.ErrNotFound)
}

func Test_Append_To_Unknown_Chat(t *testing.T) {
	req := require.New(t)
	messages := NewMessageRepository(testDB(t), slog.Default())

	_, err := messages.Append(domain.SendMessageCommand{
		ChatID: uuid.New(), SenderID: uuid.New(), Content: "void",
	})
	req.ErrorIs(err, errors.ErrNotFound)
}
