package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nikhilbhutani/voicebridge/internal/auth"
	"github.com/nikhilbhutani/voicebridge/internal/conversation"
	"github.com/nikhilbhutani/voicebridge/internal/session"
)

type SessionHandler struct {
	sessions     *session.Manager
	systemPrompt string
}

func NewSessionHandler(sessions *session.Manager, systemPrompt string) *SessionHandler {
	return &SessionHandler{sessions: sessions, systemPrompt: systemPrompt}
}

type sessionResponse struct {
	ID        string                `json:"id"`
	History   *conversation.History `json:"history"`
	Busy      bool                  `json:"busy"`
	CreatedAt time.Time             `json:"created_at"`
}

func toSessionResponse(s *session.Session) sessionResponse {
	return sessionResponse{
		ID:        s.ID,
		History:   s.Snapshot(),
		Busy:      s.Busy(),
		CreatedAt: s.CreatedAt,
	}
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SystemPrompt *string `json:"system_prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	prompt := h.systemPrompt
	if req.SystemPrompt != nil {
		prompt = *req.SystemPrompt
	}

	s := h.sessions.Create(auth.SubjectFromContext(r.Context()), prompt)
	writeJSON(w, http.StatusCreated, toSessionResponse(s))
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(chi.URLParam(r, "id"), auth.SubjectFromContext(r.Context()))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.sessions.Delete(chi.URLParam(r, "id"), auth.SubjectFromContext(r.Context()))
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
