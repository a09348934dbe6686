package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"agora/domain"
)

type registerRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
	Bio      string `json:"bio"`
}

type loginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string        `json:"token"`
	Agent agentResponse `json:"agent"`
}

type agentResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Bio       string    `json:"bio,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toAgentResponse(agent domain.Agent) agentResponse {
	return agentResponse{
		ID:        agent.ID.String(),
		Name:      agent.Name,
		Bio:       agent.Bio,
		CreatedAt: agent.CreatedAt,
	}
}

// Register creates an account and returns its first session token.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, err)
		return
	}
	token, agent, err := h.authSvc.Register(req.Name, req.Password, req.Bio)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, tokenResponse{Token: token.String(), Agent: toAgentResponse(agent)})
}

// Login exchanges credentials for a session token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, err)
		return
	}
	token, agent, err := h.authSvc.Login(req.Name, req.Password)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, tokenResponse{Token: token.String(), Agent: toAgentResponse(agent)})
}

// Whois resolves a public profile by agent name.
func (h *Handler) Whois(w http.ResponseWriter, r *http.Request) {
	agent, err := h.authSvc.Whois(chi.URLParam(r, "name"))
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, toAgentResponse(agent))
}
