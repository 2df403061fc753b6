package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type Mode string

const (
	ModeChat      Mode = "chat"
	ModeNarration Mode = "narration"
)

type Outcome string

const (
	OutcomeOK             Outcome = "ok"
	OutcomeSynthesisError Outcome = "synthesis_error"
	OutcomeFault          Outcome = "fault"
)

// RunRecord summarises a finished run. It holds no conversation content.
type RunRecord struct {
	RunID       string
	SessionID   string
	Owner       string
	Mode        Mode
	Outcome     Outcome
	FailedStage string
	Error       string
	AudioBytes  int
	Duration    time.Duration
}

type RunRecorder interface {
	RecordRun(ctx context.Context, rec RunRecord) error
}

type noopRecorder struct{}

func (noopRecorder) RecordRun(context.Context, RunRecord) error { return nil }

func (o *Orchestrator) record(ctx context.Context, runID string, mode Mode, start time.Time, res *Result, fault error) {
	rec := RunRecord{
		RunID:     runID,
		SessionID: SessionIDFromContext(ctx),
		Owner:     OwnerFromContext(ctx),
		Mode:      mode,
		Outcome:   OutcomeOK,
		Duration:  time.Since(start),
	}

	switch {
	case fault != nil:
		rec.Outcome = OutcomeFault
		rec.Error = fault.Error()
		var se *StageError
		if errors.As(fault, &se) {
			rec.FailedStage = se.Stage.String()
		}
	case res != nil && res.Err != nil:
		rec.Outcome = OutcomeSynthesisError
		rec.FailedStage = StageSynthesizing.String()
		rec.Error = res.Err.Error()
	case res != nil:
		rec.AudioBytes = len(res.Audio)
	}

	if err := o.recorder.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
		slog.Warn("record run failed", "run_id", runID, "error", err)
	}
}
