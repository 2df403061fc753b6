package pipeline

import "fmt"

// Stage is a state of a single run. A run only moves forward and always
// ends in Done.
type Stage int

const (
	StageIdle Stage = iota
	StageTranscribing
	StageReasoning
	StageSynthesizing
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageTranscribing:
		return "transcribing"
	case StageReasoning:
		return "reasoning"
	case StageSynthesizing:
		return "synthesizing"
	case StageDone:
		return "done"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// StageError is the fault raised when transcription or reasoning fails.
// No structured result accompanies it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageHook observes transitions. It is called synchronously from the run.
type StageHook func(runID string, stage Stage)
