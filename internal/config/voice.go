package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// VoiceProfile holds the two configured voices: the fixed exemplar used in
// voice chat and the default one used for single-turn narration.
type VoiceProfile struct {
	Chat      VoiceSpec `yaml:"chat"`
	Narration VoiceSpec `yaml:"narration"`
}

type VoiceSpec struct {
	ReferenceAudio string          `yaml:"reference_audio"` // path to the sample audio file
	ReferenceText  string          `yaml:"reference_text"`
	Params         SynthesisParams `yaml:"params"`
}

// SynthesisParams uses pointers so a profile can override single fields.
type SynthesisParams struct {
	MaxNewTokens      *int     `yaml:"max_new_tokens"`
	ChunkLength       *int     `yaml:"chunk_length"`
	TopP              *float64 `yaml:"top_p"`
	RepetitionPenalty *float64 `yaml:"repetition_penalty"`
	Temperature       *float64 `yaml:"temperature"`
	Seed              *int     `yaml:"seed"`
	UseCache          *bool    `yaml:"use_cache"`
}

// LoadVoiceProfile reads a YAML voice profile. An empty path yields an empty
// profile so every voice falls back to the built-in defaults.
func LoadVoiceProfile(path string) (*VoiceProfile, error) {
	if path == "" {
		return &VoiceProfile{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading voice profile: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var profile VoiceProfile
	if err := yaml.Unmarshal([]byte(expanded), &profile); err != nil {
		return nil, fmt.Errorf("parsing voice profile: %w", err)
	}

	return &profile, nil
}
