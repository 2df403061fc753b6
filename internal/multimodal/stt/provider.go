package stt

import (
	"context"
	"fmt"
)

// Audio is a playable audio resource captured by the front end.
type Audio struct {
	Data        []byte
	ContentType string // e.g. "audio/wav"; empty is treated as WAV
}

// Provider turns speech into text.
type Provider interface {
	Transcribe(ctx context.Context, audio Audio) (string, error)
	Name() string
}

// TranscriptionError is returned when the service rejects or fails a job.
type TranscriptionError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *TranscriptionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("transcription failed: %d %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("transcription failed: %d - %s", e.StatusCode, e.Message)
}
