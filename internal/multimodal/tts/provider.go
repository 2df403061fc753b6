package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// VoiceReference is an exemplar the engine clones the voice from.
type VoiceReference struct {
	Audio []byte `json:"audio"`
	Text  string `json:"text"`
}

// Params are the decoding parameters sent with every request.
type Params struct {
	MaxNewTokens      int     `json:"max_new_tokens"`
	ChunkLength       int     `json:"chunk_length"`
	TopP              float64 `json:"top_p"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	Temperature       float64 `json:"temperature"`
	Seed              *int    `json:"seed,omitempty"`
	UseCache          bool    `json:"use_cache"`
}

// Request is one synthesis call as seen by an Engine.
type Request struct {
	Text        string
	ReferenceID string
	References  []VoiceReference
	Params      Params
}

// Code tags an engine event.
type Code string

const (
	CodeHeader  Code = "header"
	CodeSegment Code = "segment"
	CodeFinal   Code = "final"
	CodeError   Code = "error"
)

// Event is one element of an engine's result stream. Audio is set on final
// (and possibly segment) events, Message on error events.
type Event struct {
	Code    Code
	Audio   []byte
	Message string
}

// Terminal reports whether the event ends a consumer's need to read further.
func (e Event) Terminal() bool {
	return e.Code == CodeFinal || e.Code == CodeError
}

// EventStream is a lazy, finite sequence of events. Next returns io.EOF once
// the stream is exhausted.
type EventStream interface {
	Next() (Event, error)
	Close() error
}

// Engine starts a streaming synthesis.
type Engine interface {
	Inference(ctx context.Context, req Request) (EventStream, error)
	Name() string
}

// TransportError means the engine could not be reached or its stream broke.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("synthesis transport: %v", e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// ReportedError carries an error the engine emitted as an event.
type ReportedError struct {
	Message string
}

func (e *ReportedError) Error() string { return e.Message }

// ErrNoResult matches streams that ended without a terminal event.
var ErrNoResult = errors.New("no audio generated")

// NoAudioMessage is the user-visible text for ErrNoResult, before localization.
const NoAudioMessage = "No audio generated"

type NoResultError struct {
	Message string
}

func (e *NoResultError) Error() string { return e.Message }

func (e *NoResultError) Is(target error) bool { return target == ErrNoResult }

// Outcome is the result of scanning a stream: exactly one of Audio and Err is set.
type Outcome struct {
	Audio []byte
	Err   error
}

// Localizer translates a user-visible message.
type Localizer func(message string) string

func identity(message string) string { return message }

type sliceStream struct {
	events []Event
	pos    int
}

// NewEventStream returns a stream over a fixed list of events.
func NewEventStream(events ...Event) EventStream {
	return &sliceStream{events: events}
}

func (s *sliceStream) Next() (Event, error) {
	if s.pos >= len(s.events) {
		return Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *sliceStream) Close() error { return nil }
