package tts

import (
	"fmt"
	"os"

	"github.com/nikhilbhutani/voicebridge/internal/config"
)

// Voice pairs a reference exemplar with the parameters it is rendered with.
type Voice struct {
	Reference *VoiceReference
	Params    Params
}

// DefaultChatParams are the fixed decoding parameters for voice-chat replies.
func DefaultChatParams() Params {
	return Params{
		MaxNewTokens:      0,
		ChunkLength:       200,
		TopP:              0.7,
		RepetitionPenalty: 1.2,
		Temperature:       0.7,
		UseCache:          true,
	}
}

// DefaultNarrationParams are the fixed decoding parameters for single-turn narration.
func DefaultNarrationParams() Params {
	p := DefaultChatParams()
	seed := 0
	p.Seed = &seed
	return p
}

// LoadVoice resolves a configured voice: the reference audio file is read
// eagerly and unset parameters keep their defaults.
func LoadVoice(spec config.VoiceSpec, defaults Params) (Voice, error) {
	v := Voice{Params: applyOverrides(defaults, spec.Params)}
	if spec.ReferenceAudio == "" {
		return v, nil
	}

	audio, err := os.ReadFile(spec.ReferenceAudio)
	if err != nil {
		return Voice{}, fmt.Errorf("read reference audio: %w", err)
	}
	v.Reference = &VoiceReference{Audio: audio, Text: spec.ReferenceText}
	return v, nil
}

func applyOverrides(p Params, o config.SynthesisParams) Params {
	if o.MaxNewTokens != nil {
		p.MaxNewTokens = *o.MaxNewTokens
	}
	if o.ChunkLength != nil {
		p.ChunkLength = *o.ChunkLength
	}
	if o.TopP != nil {
		p.TopP = *o.TopP
	}
	if o.RepetitionPenalty != nil {
		p.RepetitionPenalty = *o.RepetitionPenalty
	}
	if o.Temperature != nil {
		p.Temperature = *o.Temperature
	}
	if o.Seed != nil {
		seed := *o.Seed
		p.Seed = &seed
	}
	if o.UseCache != nil {
		p.UseCache = *o.UseCache
	}
	return p
}
