package repositories

import (
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"agora/domain"
	"agora/errors"
)

func Test_Create_Chat_With_Initial_Members(t *testing.T) {
	req := require.New(t)
	repository := NewChatRepository(testDB(t), slog.Default())
	creator := uuid.New()
	other := uuid.New()
	chat := newChat(creator)

	// Given a chat created with two members
	req.NoError(repository.Create(chat, []uuid.UUID{creator, other}))

	// Then both are members and the chat lists for both
	for _, agentID := range []uuid.UUID{creator, other} {
		member, err := repository.IsMember(chat.ID, agentID)
		req.NoError(err)
		req.True(member)

		chats, err := repository.ListFor(agentID)
		req.NoError(err)
		req.Len(chats, 1)
		req.Equal(chat.ID, chats[0].ID)
	}

	members, err := repository.Members(chat.ID)
	req.NoError(err)
	req.ElementsMatch([]uuid.UUID{creator, other},
		lo.Map(members, func(m domain.Membership, _ int) uuid.UUID { return m.AgentID }))
}

func Test_Create_Chat_Twice_Conflicts(t *testing.T) {
	req := require.New(t)
	repository := NewChatRepository(testDB(t), slog.Default())
	chat := newChat(uuid.New())

	req.NoError(repository.Create(chat, []uuid.UUID{chat.CreatorID}))
	req.ErrorIs(repository.Create(chat, []uuid.UUID{chat.CreatorID}), errors.ErrConflict)
}

func Test_Add_And_Remove_Member(t *testing.T) {
	req := require.New(t)
	repository := NewChatRepository(testDB(t), slog.Default())
	chat := newChat(uuid.New())
	req.NoError(repository.Create(chat, []uuid.UUID{chat.CreatorID}))

	joiner := uuid.New()

	// When adding a member
	membership, err := repository.AddMember(chat.ID, joiner)
	req.NoError(err)
	req.Equal(joiner, membership.AgentID)
	req.False(membership.JoinedAt.IsZero())

	// Then adding again conflicts
	_, err = repository.AddMember(chat.ID, joiner)
	req.ErrorIs(err, errors.ErrConflict)

	// And removing works exactly once
	req.NoError(repository.RemoveMember(chat.ID, joiner))
	req.ErrorIs(repository.RemoveMember(chat.ID, joiner), errors.ErrNotFound)

	member, err := repository.IsMember(chat.ID, joiner)
	req.NoError(err)
	req.False(member)

	chats, err := repository.ListFor(joiner)
	req.NoError(err)
	req.Empty(chats)
}

func Test_Membership_On_Unknown_Chat(t *testing.T) {
	req := require.New(t)
	repository := NewChatRepository(testDB(t), slog.Default())

	_, err := repository.AddMember(uuid.New(), uuid.New())
	req.ErrorIs(err, errors.ErrNotFound)

	_, err = repository.Get(uuid.New())
	req.ErrorIs(err, errors.ErrNotFound)
}

func Test_Delete_Chat_Removes_Everything(t *testing.T) {
	req := require.New(t)
	db := testDB(t)
	chats := NewChatRepository(db, slog.Default())
	messages := NewMessageRepository(db, slog.Default())

	creator := uuid.New()
	other := uuid.New()
	chat := newChat(creator)
	req.NoError(chats.Create(chat, []uuid.UUID{creator, other}))

	stored, err := messages.Append(domain.SendMessageCommand{
		ChatID: chat.ID, SenderID: creator, Content: "soon gone",
	})
	req.NoError(err)

	// When deleting the chat
	former, err := chats.Delete(chat.ID)
	req.NoError(err)
	req.ElementsMatch([]uuid.UUID{creator, other}, former)

	// Then the chat, its memberships and its log are gone
	_, err = chats.Get(chat.ID)
	req.ErrorIs(err, errors.ErrNotFound)

	_, err = messages.Get(stored.ID)
	req.ErrorIs(err, errors.ErrNotFound)

	chatsLeft, err := chats.ListFor(other)
	req.NoError(err)
	req.Empty(chatsLeft)

	_, err = chats.Delete(chat.ID)
	req.ErrorIs(err, errors.ErrNotFound)
}
