// Package conversation holds the dialogue log a voice-chat session carries
// between pipeline runs.
package conversation

import (
	"encoding/json"
	"fmt"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Turn is a single utterance. Turns are values; a History never hands out
// references into its backing storage.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History is an ordered, append-only sequence of turns. Order is the prompt
// context for reply generation. History is not safe for concurrent use; a
// session grants one writer at a time.
type History struct {
	turns []Turn
}

func NewHistory(turns ...Turn) *History {
	h := &History{turns: make([]Turn, 0, len(turns)+2)}
	h.turns = append(h.turns, turns...)
	return h
}

// Append adds a turn at the end and returns it.
func (h *History) Append(role Role, content string) Turn {
	t := Turn{Role: role, Content: content}
	h.turns = append(h.turns, t)
	return t
}

func (h *History) Len() int {
	return len(h.turns)
}

// Turns returns a copy of the turns in insertion order.
func (h *History) Turns() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Last returns the most recent turn, if any.
func (h *History) Last() (Turn, bool) {
	if len(h.turns) == 0 {
		return Turn{}, false
	}
	return h.turns[len(h.turns)-1], true
}

func (h *History) Clone() *History {
	return NewHistory(h.turns...)
}

func (h *History) MarshalJSON() ([]byte, error) {
	if h.turns == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(h.turns)
}

func (h *History) UnmarshalJSON(data []byte) error {
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return err
	}
	for i, t := range turns {
		if !t.Role.Valid() {
			return fmt.Errorf("turn %d: invalid role %q", i, t.Role)
		}
	}
	h.turns = turns
	return nil
}
