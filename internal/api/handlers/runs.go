package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/voicebridge/internal/audit"
	"github.com/nikhilbhutani/voicebridge/internal/auth"
)

type RunLister interface {
	ListRuns(ctx context.Context, q audit.RunQuery) ([]audit.RunRow, error)
}

type RunsHandler struct {
	runs RunLister
}

func NewRunsHandler(runs RunLister) *RunsHandler {
	return &RunsHandler{runs: runs}
}

// List returns the caller's recent pipeline runs, newest first.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := audit.RunQuery{Owner: auth.SubjectFromContext(r.Context())}
	if v := r.URL.Query().Get("session_id"); v != "" {
		if _, err := uuid.Parse(v); err != nil {
			writeError(w, http.StatusBadRequest, "session_id must be a UUID")
			return
		}
		q.SessionID = v
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		q.Limit = n
	}
	if v := r.URL.Query().Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		q.Since = &since
	}

	runs, err := h.runs.ListRuns(r.Context(), q)
	if err != nil {
		slog.Error("list runs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if runs == nil {
		runs = []audit.RunRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
