// Package pipeline turns a spoken utterance into a spoken reply: transcribe,
// reply, synthesize, in that order, with one history shared across runs.
//
// Transcription and reasoning fail fast: their errors are returned as a
// *StageError and no Result is produced. Appending the user turn is the
// commit point; a reasoning failure leaves it in place. Synthesis fails
// soft: its outcome, success or not, is carried in Result and both new
// turns stay committed.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/voicebridge/internal/conversation"
	"github.com/nikhilbhutani/voicebridge/internal/multimodal/stt"
	"github.com/nikhilbhutani/voicebridge/internal/multimodal/tts"
)

type Transcriber interface {
	Transcribe(ctx context.Context, audio stt.Audio) (string, error)
}

type Responder interface {
	Reply(ctx context.Context, history *conversation.History) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string, ref *tts.VoiceReference, params tts.Params) (*tts.Outcome, error)
}

// Result is what a run that got past reasoning returns. Exactly one of
// Audio and Err is set.
type Result struct {
	RunID   string
	History *conversation.History
	Reply   string
	Audio   []byte
	Err     error
}

type Timeouts struct {
	Transcription time.Duration
	Dialogue      time.Duration
	Synthesis     time.Duration
}

type Orchestrator struct {
	transcriber Transcriber
	responder   Responder
	synthesizer Synthesizer

	chat      tts.Voice
	narration tts.Voice
	timeouts  Timeouts
	hook      StageHook
	recorder  RunRecorder
}

type Option func(*Orchestrator)

// WithChatVoice sets the fixed voice replies are spoken in.
func WithChatVoice(v tts.Voice) Option {
	return func(o *Orchestrator) { o.chat = v }
}

// WithNarrationVoice sets the default voice for Narrate.
func WithNarrationVoice(v tts.Voice) Option {
	return func(o *Orchestrator) { o.narration = v }
}

func WithTimeouts(t Timeouts) Option {
	return func(o *Orchestrator) { o.timeouts = t }
}

func WithStageHook(h StageHook) Option {
	return func(o *Orchestrator) { o.hook = h }
}

func WithRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

func New(t Transcriber, r Responder, s Synthesizer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transcriber: t,
		responder:   r,
		synthesizer: s,
		chat:        tts.Voice{Params: tts.DefaultChatParams()},
		narration:   tts.Voice{Params: tts.DefaultNarrationParams()},
		recorder:    noopRecorder{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one voice turn against history, appending to it in place.
// The caller must hold the history exclusively for the duration of the call.
func (o *Orchestrator) Run(ctx context.Context, history *conversation.History, audio stt.Audio) (res *Result, err error) {
	runID := uuid.New().String()
	start := time.Now()
	log := slog.With("run_id", runID, "session_id", SessionIDFromContext(ctx))

	o.emit(runID, StageIdle)
	defer func() {
		o.emit(runID, StageDone)
		o.record(ctx, runID, ModeChat, start, res, err)
	}()

	o.emit(runID, StageTranscribing)
	transcript, err := withTimeout(ctx, o.timeouts.Transcription, func(ctx context.Context) (string, error) {
		return o.transcriber.Transcribe(ctx, audio)
	})
	if err != nil {
		log.Error("transcription failed", "error", err)
		return nil, &StageError{Stage: StageTranscribing, Err: err}
	}
	history.Append(conversation.RoleUser, transcript)

	o.emit(runID, StageReasoning)
	reply, err := withTimeout(ctx, o.timeouts.Dialogue, func(ctx context.Context) (string, error) {
		return o.responder.Reply(ctx, history)
	})
	if err != nil {
		log.Error("dialogue failed", "error", err)
		return nil, &StageError{Stage: StageReasoning, Err: err}
	}
	history.Append(conversation.RoleAssistant, reply)

	o.emit(runID, StageSynthesizing)
	out := o.synthesize(ctx, reply, o.chat.Reference, o.chat.Params)
	if out.Err != nil {
		log.Warn("synthesis returned no audio", "error", out.Err)
	} else {
		log.Info("run completed", "audio_bytes", len(out.Audio), "duration_ms", time.Since(start).Milliseconds())
	}

	return &Result{
		RunID:   runID,
		History: history,
		Reply:   reply,
		Audio:   out.Audio,
		Err:     out.Err,
	}, nil
}

// Narrate speaks text in a single turn. A nil ref selects the configured
// narration voice. No history is involved; exactly one of the returned audio
// and error is set, and the error is never a fault.
func (o *Orchestrator) Narrate(ctx context.Context, text string, ref *tts.VoiceReference) ([]byte, error) {
	runID := uuid.New().String()
	start := time.Now()

	if ref == nil {
		ref = o.narration.Reference
	}
	out := o.synthesize(ctx, text, ref, o.narration.Params)

	res := &Result{RunID: runID, Audio: out.Audio, Err: out.Err}
	o.record(ctx, runID, ModeNarration, start, res, nil)
	if out.Err != nil {
		slog.Warn("narration returned no audio", "run_id", runID, "error", out.Err)
	}
	return out.Audio, out.Err
}

// synthesize folds transport failures and timeouts into the outcome.
func (o *Orchestrator) synthesize(ctx context.Context, text string, ref *tts.VoiceReference, params tts.Params) *tts.Outcome {
	out, err := withTimeout(ctx, o.timeouts.Synthesis, func(ctx context.Context) (*tts.Outcome, error) {
		return o.synthesizer.Synthesize(ctx, text, ref, params)
	})
	if err != nil {
		var te *tts.TransportError
		if !errors.As(err, &te) {
			err = &tts.TransportError{Err: err}
		}
		return &tts.Outcome{Err: err}
	}
	if out == nil || (out.Audio == nil && out.Err == nil) {
		return &tts.Outcome{Err: &tts.NoResultError{Message: tts.NoAudioMessage}}
	}
	return out
}

func (o *Orchestrator) emit(runID string, s Stage) {
	slog.Debug("pipeline stage", "run_id", runID, "stage", s.String())
	if o.hook != nil {
		o.hook(runID, s)
	}
}

func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}
