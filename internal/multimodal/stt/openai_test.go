package stt_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nikhilbhutani/voicebridge/internal/multimodal/stt"
)

func TestOpenAI_Transcribe(t *testing.T) {
	var gotModel, gotLanguage, gotFile string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")
		if _, header, err := r.FormFile("file"); err == nil {
			gotFile = header.Filename
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"text": "turn on the lights"})
	}))
	defer server.Close()

	client := stt.NewOpenAI(stt.OpenAIConfig{APIKey: "k", BaseURL: server.URL, Language: "en"})

	text, err := client.Transcribe(context.Background(), stt.Audio{Data: []byte("RIFF"), ContentType: "audio/mpeg"})
	if err != nil {
		t.Fatalf("Transcribe error: %v", err)
	}
	if text != "turn on the lights" {
		t.Errorf("text: got %q", text)
	}
	if gotModel != "whisper-1" {
		t.Errorf("model: got %s, want whisper-1", gotModel)
	}
	if gotLanguage != "en" {
		t.Errorf("language: got %s, want en", gotLanguage)
	}
	if gotFile != "audio.mp3" {
		t.Errorf("filename: got %s, want audio.mp3", gotFile)
	}
}

func TestOpenAI_TranscribeParameterisedContentType(t *testing.T) {
	var gotFile string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, header, err := r.FormFile("file"); err == nil {
			gotFile = header.Filename
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"text": "hello"})
	}))
	defer server.Close()

	client := stt.NewOpenAI(stt.OpenAIConfig{APIKey: "k", BaseURL: server.URL})

	if _, err := client.Transcribe(context.Background(), stt.Audio{Data: []byte("x"), ContentType: "Audio/WebM; codecs=opus"}); err != nil {
		t.Fatalf("Transcribe error: %v", err)
	}
	if gotFile != "audio.webm" {
		t.Errorf("filename: got %s, want audio.webm", gotFile)
	}
}

func TestOpenAI_TranscribeAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "invalid file format", "type": "invalid_request_error", "code": "bad_file"},
		})
	}))
	defer server.Close()

	client := stt.NewOpenAI(stt.OpenAIConfig{APIKey: "k", BaseURL: server.URL})

	_, err := client.Transcribe(context.Background(), stt.Audio{Data: []byte("x")})

	var te *stt.TranscriptionError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TranscriptionError, got %v", err)
	}
	if te.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode: got %d, want 400", te.StatusCode)
	}
	if te.Message != "invalid file format" {
		t.Errorf("Message: got %s", te.Message)
	}
}
