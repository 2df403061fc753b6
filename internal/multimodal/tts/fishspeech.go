package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// FishSpeechConfig holds configuration for a fish-speech style engine server.
type FishSpeechConfig struct {
	BaseURL string // default: "http://localhost:8080"
	APIKey  string
	Format  string // default: "wav"
}

// FishSpeech posts a msgpack request and decodes the response body as a
// sequence of msgpack-encoded events.
type FishSpeech struct {
	cfg        FishSpeechConfig
	httpClient *http.Client
}

func NewFishSpeech(cfg FishSpeechConfig) *FishSpeech {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Format == "" {
		cfg.Format = "wav"
	}
	return &FishSpeech{
		cfg: cfg,
		// No client timeout: the stream read is bounded by the caller's context.
		httpClient: &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 2 * time.Minute,
		}},
	}
}

func (f *FishSpeech) Name() string { return "fish-speech" }

type wireReference struct {
	Audio []byte `msgpack:"audio"`
	Text  string `msgpack:"text"`
}

type wireRequest struct {
	Text              string          `msgpack:"text"`
	ChunkLength       int             `msgpack:"chunk_length"`
	Format            string          `msgpack:"format"`
	References        []wireReference `msgpack:"references"`
	ReferenceID       *string         `msgpack:"reference_id"`
	Seed              *int            `msgpack:"seed"`
	UseMemoryCache    string          `msgpack:"use_memory_cache"`
	Normalize         bool            `msgpack:"normalize"`
	Streaming         bool            `msgpack:"streaming"`
	MaxNewTokens      int             `msgpack:"max_new_tokens"`
	TopP              float64         `msgpack:"top_p"`
	RepetitionPenalty float64         `msgpack:"repetition_penalty"`
	Temperature       float64         `msgpack:"temperature"`
}

type wireEvent struct {
	Code  string `msgpack:"code"`
	Audio []byte `msgpack:"audio"`
	Error string `msgpack:"error"`
}

func (f *FishSpeech) Inference(ctx context.Context, req Request) (EventStream, error) {
	body := wireRequest{
		Text:              req.Text,
		ChunkLength:       req.Params.ChunkLength,
		Format:            f.cfg.Format,
		References:        make([]wireReference, 0, len(req.References)),
		Seed:              req.Params.Seed,
		UseMemoryCache:    onOff(req.Params.UseCache),
		Normalize:         true,
		Streaming:         true,
		MaxNewTokens:      req.Params.MaxNewTokens,
		TopP:              req.Params.TopP,
		RepetitionPenalty: req.Params.RepetitionPenalty,
		Temperature:       req.Params.Temperature,
	}
	if req.ReferenceID != "" {
		id := req.ReferenceID
		body.ReferenceID = &id
	}
	for _, ref := range req.References {
		body.References = append(body.References, wireReference{Audio: ref.Audio, Text: ref.Text})
	}

	data, err := msgpack.Marshal(&body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.BaseURL+"/v1/tts/events", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/msgpack")
	httpReq.Header.Set("Accept", "application/msgpack")
	if f.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+f.cfg.APIKey)
	}

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("engine request: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &TransportError{Err: fmt.Errorf("engine responded %d: %s", resp.StatusCode, string(respBody))}
	}

	return &msgpackStream{body: resp.Body, dec: msgpack.NewDecoder(resp.Body)}, nil
}

type msgpackStream struct {
	body io.ReadCloser
	dec  *msgpack.Decoder
}

func (s *msgpackStream) Next() (Event, error) {
	var ev wireEvent
	if err := s.dec.Decode(&ev); err != nil {
		if errors.Is(err, io.EOF) {
			return Event{}, io.EOF
		}
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return Event{Code: Code(ev.Code), Audio: ev.Audio, Message: ev.Error}, nil
}

func (s *msgpackStream) Close() error {
	return s.body.Close()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
