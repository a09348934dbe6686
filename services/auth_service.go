package services

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"agora/auth"
	"agora/domain"
	"agora/errors"
	"agora/repositories"
)

type IAuthService interface {
	Register(name, password, bio string) (Token, domain.Agent, error)
	Login(name, password string) (Token, domain.Agent, error)
	Whois(name string) (domain.Agent, error)
	Authenticate(token string) (uuid.UUID, error)
}

type Token string

func (t Token) String() string {
	return string(t)
}

type AuthService struct {
	log    *slog.Logger
	agents repositories.IAgentRepository
	issuer auth.TokenIssuer
}

func NewAuthService(log *slog.Logger, agents repositories.IAgentRepository,
	issuer auth.TokenIssuer) *AuthService {
	return &AuthService{log: log, agents: agents, issuer: issuer}
}

func (s *AuthService) Register(name, password, bio string) (Token, domain.Agent, error) {
	valReq := auth.RegisterRequest{
		Name:     name,
		Password: password,
		Bio:      bio,
	}

	// Business rules first, before any expensive cryptographic work.
	if err := auth.ValidateRegister(valReq); err != nil {
		return "", domain.Agent{}, err
	}

	// Hashed in the service layer to keep the repository unaware of
	// plain passwords.
	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return "", domain.Agent{}, fmt.Errorf("hashing failed: %w", err)
	}

	agent := domain.Agent{
		ID:        uuid.New(),
		Name:      name,
		Bio:       bio,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.agents.Create(agent, []byte(hashedPassword)); err != nil {
		// Propagates ErrConflict when the name is taken.
		return "", domain.Agent{}, err
	}

	token, err := s.issuer.Generate(agent.ID)
	if err != nil {
		return "", domain.Agent{}, fmt.Errorf("token generation failed: %w", err)
	}
	s.log.Info("Agent registered", "agent_id", agent.ID, "name", agent.Name)
	return Token(token), agent, nil
}

func (s *AuthService) Login(name, password string) (Token, domain.Agent, error) {
	agent, err := s.agents.GetByName(name)
	if err != nil {
		// Generic error to prevent agent enumeration.
		return "", domain.Agent{}, fmt.Errorf("invalid credentials: %w", errors.ErrPermissionDenied)
	}

	hash, err := s.agents.CredentialHash(agent.ID)
	if err != nil {
		return "", domain.Agent{}, fmt.Errorf("invalid credentials: %w", errors.ErrPermissionDenied)
	}

	match, err := auth.ComparePassword(password, string(hash))
	if err != nil || !match {
		return "", domain.Agent{}, fmt.Errorf("invalid credentials: %w", errors.ErrPermissionDenied)
	}

	token, err := s.issuer.Generate(agent.ID)
	if err != nil {
		return "", domain.Agent{}, fmt.Errorf("token generation failed: %w", err)
	}
	return Token(token), agent, nil
}

// Whois resolves a public agent profile by name.
func (s *AuthService) Whois(name string) (domain.Agent, error) {
	return s.agents.GetByName(name)
}

// Authenticate resolves a bearer token to the agent it was issued for.
func (s *AuthService) Authenticate(token string) (uuid.UUID, error) {
	agentID, err := s.issuer.Validate(token)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid or expired token: %w", errors.ErrPermissionDenied)
	}
	exists, err := s.agents.Exists(agentID)
	if err != nil {
		return uuid.Nil, err
	}
	if !exists {
		return uuid.Nil, fmt.Errorf("unknown agent %s: %w", agentID, errors.ErrPermissionDenied)
	}
	return agentID, nil
}
