package repositories

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"agora/domain"
)

func testDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newChat(creatorID uuid.UUID) domain.Chat {
	return domain.Chat{
		ID:        uuid.New(),
		Name:      "ops",
		Type:      domain.ChatGroup,
		CreatorID: creatorID,
		CreatedAt: time.Now().UTC(),
	}
}

func newAgent(name string) domain.Agent {
	return domain.Agent{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
}
