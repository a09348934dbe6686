package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"agora/auth"
	"agora/mentions"
	"agora/observability"
	"agora/repositories"
	"agora/runtime"
	"agora/services"
)

func setupAPI(t *testing.T) http.Handler {
	t.Helper()
	req := require.New(t)
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	writer, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	req.NoError(err)
	t.Cleanup(func() { _ = writer.Close() })

	log := slog.Default()
	agents := repositories.NewAgentRepository(db, log)
	chats := repositories.NewChatRepository(db, log)
	messages := repositories.NewMessageRepository(db, log)
	search := repositories.NewSearchRepository(writer, log)

	monitor := observability.NewMonitor(log)
	resolver := mentions.NewResolver(mentions.PolicyDrop, true)
	dispatcher := runtime.NewDispatcher(log, agents, chats, messages, resolver, monitor, 256)

	issuer := auth.NewTokenIssuer("test-secret-test-secret", time.Hour)
	authService := services.NewAuthService(log, agents, issuer)
	chatService := services.NewChatService(log, agents, chats, messages, search, dispatcher)

	return NewRouter(log, NewHandler(log, authService, chatService), authService)
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string,
	body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

func registerAgent(t *testing.T, handler http.Handler, name string) (token string, id string) {
	t.Helper()
	req := require.New(t)
	w := doJSON(t, handler, http.MethodPost, "/register", "", map[string]string{
		"name":     name,
		"password": "Str0ng&Secret!",
	})
	req.Equal(http.StatusCreated, w.Code)

	var resp struct {
		Token string `json:"token"`
		Agent struct {
			ID string `json:"id"`
		} `json:"agent"`
	}
	req.NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token, resp.Agent.ID
}

func Test_Register_Login_Whois_Flow(t *testing.T) {
	req := require.New(t)
	handler := setupAPI(t)

	token, agentID := registerAgent(t, handler, "ada")
	req.NotEmpty(token)

	w := doJSON(t, handler, http.MethodPost, "/login", "", map[string]string{
		"name": "ada", "password": "Str0ng&Secret!",
	})
	req.Equal(http.StatusOK, w.Code)

	w = doJSON(t, handler, http.MethodGet, "/whois/ada", "", nil)
	req.Equal(http.StatusOK, w.Code)
	var profile struct {
		ID string `json:"id"`
	}
	req.NoError(json.Unmarshal(w.Body.Bytes(), &profile))
	req.Equal(agentID, profile.ID)

	// Wrong credentials carry the stable error envelope
	w = doJSON(t, handler, http.MethodPost, "/login", "", map[string]string{
		"name": "ada", "password": "Wr0ng&Secret!!",
	})
	req.Equal(http.StatusForbidden, w.Code)
	var envelope struct {
		Code string `json:"code"`
	}
	req.NoError(json.Unmarshal(w.Body.Bytes(), &envelope))
	req.Equal("permission_denied", envelope.Code)
}

func Test_Duplicate_Registration_Is_A_Conflict(t *testing.T) {
	req := require.New(t)
	handler := setupAPI(t)

	registerAgent(t, handler, "ada")
	w := doJSON(t, handler, http.MethodPost, "/register", "", map[string]string{
		"name": "ada", "password": "0ther&Secret!!",
	})
	req.Equal(http.StatusConflict, w.Code)
}

func Test_Chat_Routes_Require_A_Token(t *testing.T) {
	req := require.New(t)
	handler := setupAPI(t)

	w := doJSON(t, handler, http.MethodGet, "/chats", "", nil)
	req.Equal(http.StatusUnauthorized, w.Code)

	w = doJSON(t, handler, http.MethodGet, "/chats", "not-a-jwt", nil)
	req.Equal(http.StatusUnauthorized, w.Code)
}

func Test_Chat_Lifecycle_Over_HTTP(t *testing.T) {
	req := require.New(t)
	handler := setupAPI(t)

	creatorToken, _ := registerAgent(t, handler, "ada")
	memberToken, memberID := registerAgent(t, handler, "bob")

	// Create a group with the second agent as a member
	w := doJSON(t, handler, http.MethodPost, "/chats", creatorToken, map[string]any{
		"name": "ops", "type": "group", "members": []string{memberID},
	})
	req.Equal(http.StatusCreated, w.Code)
	var chat struct {
		ID string `json:"id"`
	}
	req.NoError(json.Unmarshal(w.Body.Bytes(), &chat))

	// Both see it in their chat lists
	for _, token := range []string{creatorToken, memberToken} {
		w = doJSON(t, handler, http.MethodGet, "/chats", token, nil)
		req.Equal(http.StatusOK, w.Code)
		var list struct {
			Chats []struct {
				ID string `json:"id"`
			} `json:"chats"`
		}
		req.NoError(json.Unmarshal(w.Body.Bytes(), &list))
		req.Len(list.Chats, 1)
		req.Equal(chat.ID, list.Chats[0].ID)
	}

	// Send and page history
	w = doJSON(t, handler, http.MethodPost, "/chats/"+chat.ID+"/messages", memberToken,
		map[string]any{"content": "hello @ada"})
	req.Equal(http.StatusCreated, w.Code)
	var sent struct {
		Seq      uint64   `json:"seq"`
		Mentions []string `json:"mentions"`
	}
	req.NoError(json.Unmarshal(w.Body.Bytes(), &sent))
	req.Equal(uint64(1), sent.Seq)
	req.Len(sent.Mentions, 1)

	w = doJSON(t, handler, http.MethodGet,
		fmt.Sprintf("/chats/%s/messages?from_seq=0&limit=10", chat.ID), creatorToken, nil)
	req.Equal(http.StatusOK, w.Code)
	var history struct {
		Messages []struct {
			Content string `json:"content"`
			Seq     uint64 `json:"seq"`
		} `json:"messages"`
	}
	req.NoError(json.Unmarshal(w.Body.Bytes(), &history))
	req.Len(history.Messages, 1)
	req.Equal("hello @ada", history.Messages[0].Content)

	// A member cannot manage membership
	w = doJSON(t, handler, http.MethodDelete,
		"/chats/"+chat.ID+"/members/"+memberID, memberToken, nil)
	req.Equal(http.StatusForbidden, w.Code)

	// Leaving, then losing access
	w = doJSON(t, handler, http.MethodPost, "/chats/"+chat.ID+"/leave", memberToken, nil)
	req.Equal(http.StatusNoContent, w.Code)
	w = doJSON(t, handler, http.MethodGet, "/chats/"+chat.ID, memberToken, nil)
	req.Equal(http.StatusForbidden, w.Code)

	// Creator tears the chat down
	w = doJSON(t, handler, http.MethodDelete, "/chats/"+chat.ID, creatorToken, nil)
	req.Equal(http.StatusNoContent, w.Code)
	w = doJSON(t, handler, http.MethodGet, "/chats/"+chat.ID, creatorToken, nil)
	req.Equal(http.StatusNotFound, w.Code)
}

func Test_Malformed_Bodies_Are_Validation_Errors(t *testing.T) {
	req := require.New(t)
	handler := setupAPI(t)
	token, _ := registerAgent(t, handler, "ada")

	r := httptest.NewRequest(http.MethodPost, "/chats", bytes.NewBufferString("{broken"))
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	req.Equal(http.StatusBadRequest, w.Code)

	var envelope struct {
		Code string `json:"code"`
	}
	req.NoError(json.Unmarshal(w.Body.Bytes(), &envelope))
	req.Equal("validation_error", envelope.Code)
}
