// Package scoring turns an uploaded answer into a persisted score: it claims the
// submission, fetches its audio, transcribes and grades it with bounded retry,
// and records the terminal state.
package scoring

import (
	"context"

	"github.com/okian/roastboard/internal/domain/model"
)

// Transcriber converts audio into text. Implementations may be remote and flaky.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format model.AudioFormat) (string, error)
}

// Grader scores a transcript against the rubric.
type Grader interface {
	Grade(ctx context.Context, transcript string) (Grade, error)
}

// AudioSource reads a stored audio object fully into memory.
type AudioSource interface {
	ReadAll(ctx context.Context, key string) ([]byte, error)
}

// Store is the part of the submission store the pipeline writes through.
type Store interface {
	Get(ctx context.Context, id string) (model.Submission, error)
	GetByKey(ctx context.Context, key model.Key) (model.Submission, error)
	Claim(ctx context.Context, key model.Key) (model.Submission, error)
	Complete(ctx context.Context, key model.Key, result model.Result, audioKey string) error
	Fail(ctx context.Context, key model.Key, detail string) error
}

// Request identifies the submission to process. CreatedAtMillis is optional;
// when zero the submission is looked up by id alone.
type Request struct {
	ID              string
	CreatedAtMillis int64
}

// Outcome is the result returned to the caller of a successful run.
type Outcome struct {
	SubmissionID    string
	CreatedAtMillis int64
	Transcript      string
	Score           int
	Roast           string
	PrizeEligible   bool
}

func outcomeOf(s model.Submission) Outcome {
	o := Outcome{SubmissionID: s.ID, CreatedAtMillis: s.CreatedAtMillis}
	if s.Result != nil {
		o.Transcript = s.Result.Transcript
		o.Score = s.Result.Score
		o.Roast = s.Result.Commentary
		o.PrizeEligible = s.Result.PrizeEligible
	}
	return o
}
