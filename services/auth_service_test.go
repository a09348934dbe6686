package services

import (
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"agora/auth"
	"agora/errors"
	"agora/repositories"
)

func setupAuthService(t *testing.T) *AuthService {
	t.Helper()
	req := require.New(t)
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	log := slog.Default()
	agents := repositories.NewAgentRepository(db, log)
	issuer := auth.NewTokenIssuer("test-secret-test-secret", time.Hour)
	return NewAuthService(log, agents, issuer)
}

func Test_Register_Then_Login(t *testing.T) {
	req := require.New(t)
	service := setupAuthService(t)

	token, agent, err := service.Register("ada", "Str0ng&Secret!", "compiles things")
	req.NoError(err)
	req.NotEmpty(token.String())
	req.Equal("ada", agent.Name)

	// The issued token resolves back to the agent
	agentID, err := service.Authenticate(token.String())
	req.NoError(err)
	req.Equal(agent.ID, agentID)

	loginToken, loggedIn, err := service.Login("ada", "Str0ng&Secret!")
	req.NoError(err)
	req.NotEmpty(loginToken.String())
	req.Equal(agent.ID, loggedIn.ID)
}

func Test_Register_Rejects_Weak_Input(t *testing.T) {
	req := require.New(t)
	service := setupAuthService(t)

	_, _, err := service.Register("a", "Str0ng&Secret!", "")
	req.ErrorIs(err, errors.ErrValidation)

	_, _, err = service.Register("ada", "short", "")
	req.ErrorIs(err, errors.ErrValidation)

	// Long enough but no symbol or digit
	_, _, err = service.Register("ada", "onlylowercaseletters", "")
	req.ErrorIs(err, errors.ErrValidation)
}

func Test_Register_Duplicate_Name_Conflicts(t *testing.T) {
	req := require.New(t)
	service := setupAuthService(t)

	_, _, err := service.Register("ada", "Str0ng&Secret!", "")
	req.NoError(err)

	_, _, err = service.Register("ada", "0ther&Secret!!", "")
	req.ErrorIs(err, errors.ErrConflict)
}

func Test_Login_Never_Explains_What_Failed(t *testing.T) {
	req := require.New(t)
	service := setupAuthService(t)

	_, _, err := service.Register("ada", "Str0ng&Secret!", "")
	req.NoError(err)

	// Wrong password and unknown name look identical to the caller
	_, _, wrongPassword := service.Login("ada", "Wr0ng&Secret!!")
	req.ErrorIs(wrongPassword, errors.ErrPermissionDenied)

	_, _, unknownName := service.Login("ghost", "Str0ng&Secret!")
	req.ErrorIs(unknownName, errors.ErrPermissionDenied)

	req.Equal(errors.Code(wrongPassword), errors.Code(unknownName))
}

func Test_Authenticate_Rejects_Garbage_Tokens(t *testing.T) {
	req := require.New(t)
	service := setupAuthService(t)

	_, err := service.Authenticate("not-a-jwt")
	req.ErrorIs(err, errors.ErrPermissionDenied)

	// A token signed with another secret is just as dead
	other := auth.NewTokenIssuer("other-secret-other-secret", time.Hour)
	forged, err := other.Generate(uuid.New())
	req.NoError(err)
	_, err = service.Authenticate(forged)
	req.ErrorIs(err, errors.ErrPermissionDenied)
}

func Test_Whois_Exposes_The_Public_Profile(t *testing.T) {
	req := require.New(t)
	service := setupAuthService(t)

	_, registered, err := service.Register("ada", "Str0ng&Secret!", "compiles things")
	req.NoError(err)

	agent, err := service.Whois("ada")
	req.NoError(err)
	req.Equal(registered.ID, agent.ID)
	req.Equal("compiles things", agent.Bio)

	_, err = service.Whois("ghost")
	req.ErrorIs(err, errors.ErrNotFound)
}
