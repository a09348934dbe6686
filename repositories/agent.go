package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"agora/domain"
	"agora/errors"
)

type IAgentRepository interface {
	Create(agent domain.Agent, credentialHash []byte) error
	Get(id uuid.UUID) (domain.Agent, error)
	GetByName(name string) (domain.Agent, error)
	CredentialHash(id uuid.UUID) ([]byte, error)
	Exists(id uuid.UUID) (bool, error)
}

type AgentRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewAgentRepository(db *badger.DB, log *slog.Logger) AgentRepository {
	return AgentRepository{db: db, log: log}
}

type storedAgent struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Bio       string    `json:"bio"`
	CreatedAt time.Time `json:"created_at"`
}

// Create writes the agent row, its unique name index, and the credential
// hash in one transaction. A taken name fails with ErrConflict.
func (r AgentRepository) Create(agent domain.Agent, credentialHash []byte) error {
	bytes, err := json.Marshal(fromAgent(agent))
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(agentNameKey(agent.Name)); err == nil {
			return fmt.Errorf("agent name %q: %w", agent.Name, errors.ErrConflict)
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.Set(agentKey(agent.ID), bytes); err != nil {
			return err
		}
		if err := txn.Set(agentNameKey(agent.Name), []byte(agent.ID.String())); err != nil {
			return err
		}
		return txn.Set(credKey(agent.ID), credentialHash)
	})
}

func (r AgentRepository) Get(id uuid.UUID) (domain.Agent, error) {
	var agent domain.Agent
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(agentKey(id))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("agent %s: %w", id, errors.ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var stored storedAgent
			if err := json.Unmarshal(val, &stored); err != nil {
				return err
			}
			agent = toAgent(stored)
			return nil
		})
	})
	return agent, err
}

func (r AgentRepository) GetByName(name string) (domain.Agent, error) {
	var id uuid.UUID
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(agentNameKey(name))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("agent %q: %w", name, errors.ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id, err = uuid.Parse(string(val))
			return err
		})
	})
	if err != nil {
		return domain.Agent{}, err
	}
	return r.Get(id)
}

func (r AgentRepository) CredentialHash(id uuid.UUID) ([]byte, error) {
	var hash []byte
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(credKey(id))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("credentials for %s: %w", id, errors.ErrNotFound)
		}
		if err != nil {
			return err
		}
		hash, err = item.ValueCopy(nil)
		return err
	})
	return hash, err
}

func (r AgentRepository) Exists(id uuid.UUID) (bool, error) {
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(agentKey(id))
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	return err == nil, err
}

func fromAgent(agent domain.Agent) storedAgent {
	return storedAgent{
		ID:        agent.ID,
		Name:      agent.Name,
		Bio:       agent.Bio,
		CreatedAt: agent.CreatedAt,
	}
}

func toAgent(stored storedAgent) domain.Agent {
	return domain.Agent{
		ID:        stored.ID,
		Name:      stored.Name,
		Bio:       stored.Bio,
		CreatedAt: stored.CreatedAt,
	}
}
