package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/nikhilbhutani/voicebridge/internal/multimodal/tts"
)

type Synthesizer interface {
	Synthesize(ctx context.Context, text string, ref *tts.VoiceReference, params tts.Params) (*tts.Outcome, error)
}

// SynthesisCache remembers successful audio for seeded requests. Unseeded
// requests are not reproducible and always reach the engine.
type SynthesisCache struct {
	next  Synthesizer
	store Store
	ttl   time.Duration
}

func NewSynthesisCache(next Synthesizer, store Store, ttl time.Duration) *SynthesisCache {
	return &SynthesisCache{next: next, store: store, ttl: ttl}
}

func (c *SynthesisCache) Synthesize(ctx context.Context, text string, ref *tts.VoiceReference, params tts.Params) (*tts.Outcome, error) {
	if params.Seed == nil {
		return c.next.Synthesize(ctx, text, ref, params)
	}

	key, err := synthesisKey(text, ref, params)
	if err != nil {
		return c.next.Synthesize(ctx, text, ref, params)
	}

	audio, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		slog.Debug("synthesis cache hit", "key", key)
		return &tts.Outcome{Audio: audio}, nil
	case !errors.Is(err, ErrMiss):
		slog.Warn("synthesis cache unavailable", "error", err)
	}

	out, err := c.next.Synthesize(ctx, text, ref, params)
	if err != nil || out.Err != nil || len(out.Audio) == 0 {
		return out, err
	}

	if err := c.store.Set(context.WithoutCancel(ctx), key, out.Audio, c.ttl); err != nil {
		slog.Warn("synthesis cache write failed", "error", err)
	}
	return out, nil
}

type keyMaterial struct {
	Text    string     `msgpack:"t"`
	RefText string     `msgpack:"rt"`
	RefHash []byte     `msgpack:"ra"`
	Params  tts.Params `msgpack:"p"`
}

func synthesisKey(text string, ref *tts.VoiceReference, params tts.Params) (string, error) {
	km := keyMaterial{Text: text, Params: params}
	if ref != nil {
		sum := sha256.Sum256(ref.Audio)
		km.RefText = ref.Text
		km.RefHash = sum[:]
	}
	data, err := msgpack.Marshal(&km)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
