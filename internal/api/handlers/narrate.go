package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/nikhilbhutani/voicebridge/internal/auth"
	"github.com/nikhilbhutani/voicebridge/internal/multimodal/tts"
	"github.com/nikhilbhutani/voicebridge/internal/pipeline"
)

type narrateRequest struct {
	Text           string `json:"text"`
	ReferenceAudio []byte `json:"reference_audio"` // base64
	ReferenceText  string `json:"reference_text"`
}

// Narrate speaks caller-supplied text in one shot. Synthesis errors are
// reported as 422 with the engine's message.
func (h *VoiceHandler) Narrate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBytes)

	var req narrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text required")
		return
	}

	var ref *tts.VoiceReference
	if len(req.ReferenceAudio) > 0 {
		ref = &tts.VoiceReference{Audio: req.ReferenceAudio, Text: req.ReferenceText}
	}

	ctx := pipeline.WithOwner(r.Context(), auth.SubjectFromContext(r.Context()))
	audio, err := h.pipeline.Narrate(ctx, req.Text, ref)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}
