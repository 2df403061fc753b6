package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nikhilbhutani/voicebridge/internal/auth"
	"github.com/nikhilbhutani/voicebridge/internal/conversation"
	"github.com/nikhilbhutani/voicebridge/internal/multimodal/stt"
	"github.com/nikhilbhutani/voicebridge/internal/multimodal/tts"
	"github.com/nikhilbhutani/voicebridge/internal/pipeline"
	"github.com/nikhilbhutani/voicebridge/internal/session"
)

const maxAudioBytes = 25 << 20

// Pipeline is the orchestrator as the HTTP layer sees it.
type Pipeline interface {
	Run(ctx context.Context, history *conversation.History, audio stt.Audio) (*pipeline.Result, error)
	Narrate(ctx context.Context, text string, ref *tts.VoiceReference) ([]byte, error)
}

type VoiceHandler struct {
	sessions  *session.Manager
	pipeline  Pipeline
	queueWait time.Duration
}

func NewVoiceHandler(sessions *session.Manager, p Pipeline, queueWait time.Duration) *VoiceHandler {
	return &VoiceHandler{sessions: sessions, pipeline: p, queueWait: queueWait}
}

type turnResponse struct {
	RunID   string                `json:"run_id"`
	History *conversation.History `json:"history"`
	Reply   string                `json:"reply"`
	Audio   []byte                `json:"audio"`
	Error   *string               `json:"error"`
}

// Turn runs one voice turn against the session. The audio is the multipart
// field "audio" or a raw audio/* body.
func (h *VoiceHandler) Turn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	s, err := h.sessions.Get(sessionID, auth.SubjectFromContext(r.Context()))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	audio, err := readAudio(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// A started run is never cancelled by the client going away.
	runCtx := pipeline.WithSessionID(context.WithoutCancel(r.Context()), sessionID)
	runCtx = pipeline.WithOwner(runCtx, auth.SubjectFromContext(r.Context()))

	var res *pipeline.Result
	err = s.Exclusive(r.Context(), h.queueWait, func(history *conversation.History) error {
		var runErr error
		res, runErr = h.pipeline.Run(runCtx, history, audio)
		return runErr
	})

	switch {
	case errors.Is(err, session.ErrBusy):
		writeError(w, http.StatusConflict, "a turn is already in progress for this session")
		return
	case err != nil:
		var se *pipeline.StageError
		if errors.As(err, &se) {
			slog.Error("voice turn failed", "session_id", sessionID, "stage", se.Stage.String(), "error", se.Err)
		} else {
			slog.Error("voice turn failed", "session_id", sessionID, "error", err)
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := turnResponse{
		RunID:   res.RunID,
		History: res.History,
		Reply:   res.Reply,
		Audio:   res.Audio,
	}
	if res.Err != nil {
		msg := res.Err.Error()
		resp.Error = &msg
	}
	writeJSON(w, http.StatusOK, resp)
}

func readAudio(w http.ResponseWriter, r *http.Request) (stt.Audio, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBytes)

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return stt.Audio{}, errors.New("missing or invalid content type")
	}

	switch {
	case mediaType == "multipart/form-data":
		file, header, err := r.FormFile("audio")
		if err != nil {
			return stt.Audio{}, errors.New("audio field required")
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return stt.Audio{}, errors.New("could not read audio")
		}
		contentType := header.Header.Get("Content-Type")
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = mime.TypeByExtension(extOf(header.Filename))
		}
		return validAudio(data, contentType)
	case strings.HasPrefix(mediaType, "audio/"):
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return stt.Audio{}, errors.New("could not read audio")
		}
		return validAudio(data, mediaType)
	}
	return stt.Audio{}, errors.New("expected multipart/form-data or an audio/* body")
}

func validAudio(data []byte, contentType string) (stt.Audio, error) {
	if len(data) == 0 {
		return stt.Audio{}, errors.New("audio is empty")
	}
	return stt.Audio{Data: data, ContentType: contentType}, nil
}

func extOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}
