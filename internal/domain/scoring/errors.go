package scoring

import (
	"errors"
	"fmt"
)

// Sentinel errors for the scoring pipeline.
var (
	ErrMalformedGrade = errors.New("invalid grading response format")
	ErrEmptyAudio     = errors.New("audio object is empty")
)

// Pipeline stages.
const (
	StageLookup     = "lookup"
	StageClaim      = "claim"
	StageFetchAudio = "fetch_audio"
	StageTranscribe = "transcribe"
	StageGrade      = "grade"
	StagePersist    = "persist"
)

// ProcessError describes a failed pipeline run. Unwrap returns the primary
// failure; CleanupErr records a failed attempt to mark the submission failed.
type ProcessError struct {
	SubmissionID string
	Stage        string
	Err          error
	CleanupErr   error
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("process %s: %s: %v", e.SubmissionID, e.Stage, e.Err)
	if e.CleanupErr != nil {
		msg += fmt.Sprintf(" (mark failed: %v)", e.CleanupErr)
	}
	return msg
}

func (e *ProcessError) Unwrap() error { return e.Err }
