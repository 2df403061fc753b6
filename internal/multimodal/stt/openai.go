package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nikhilbhutani/voicebridge/internal/storage"
)

// OpenAIConfig holds configuration for the Whisper backend.
type OpenAIConfig struct {
	APIKey   string
	BaseURL  string // default: "https://api.openai.com/v1"; any compatible server works
	Model    string // default: "whisper-1"
	Language string
}

// OpenAI transcribes by uploading the audio inline, so it needs no staging.
type OpenAI struct {
	client   *openai.Client
	model    string
	language string
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	return &OpenAI{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    cfg.Model,
		language: cfg.Language,
	}
}

func (o *OpenAI) Name() string { return "openai-whisper" }

func (o *OpenAI) Transcribe(ctx context.Context, audio Audio) (string, error) {
	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.model,
		FilePath: "audio" + storage.ExtensionFor(audio.ContentType),
		Reader:   bytes.NewReader(audio.Data),
		Language: o.language,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			te := &TranscriptionError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
			if apiErr.Code != nil {
				te.Code = fmt.Sprint(apiErr.Code)
			}
			return "", te
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return "", &TranscriptionError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
		}
		return "", fmt.Errorf("whisper request: %w", err)
	}
	return resp.Text, nil
}
