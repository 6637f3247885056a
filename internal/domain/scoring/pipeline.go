package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/roastboard/internal/domain/model"
	"github.com/okian/roastboard/internal/domain/retry"
	"github.com/okian/roastboard/pkg/logger"
	"github.com/okian/roastboard/pkg/metrics"
)

// Pipeline outcomes recorded in metrics.
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeReplayed  = "replayed"
	outcomeSkipped   = "skipped"
	outcomeNotFound  = "not_found"
)

// Pipeline runs one submission through transcription and grading.
type Pipeline struct {
	store       Store
	audio       AudioSource
	transcriber Transcriber
	grader      Grader
	policy      retry.Policy
	newTimer    func() retry.Timer
	log         logger.Logger
}

// NewPipeline creates a Pipeline with the default 3 attempt, 1s base, factor 2 retry policy.
func NewPipeline(store Store, audio AudioSource, transcriber Transcriber, grader Grader, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       store,
		audio:       audio,
		transcriber: transcriber,
		grader:      grader,
		policy: retry.Policy{
			MaxAttempts: retry.DefaultMaxAttempts,
			BaseDelay:   retry.DefaultBaseDelay,
			Factor:      retry.DefaultFactor,
		},
		log: logger.Get().Named("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process executes the pipeline for req.
//
// A completed submission returns its stored outcome without doing any work. A
// submission that is already processing returns model.ErrAlreadyClaimed and a
// failed one returns model.ErrTerminal; neither is modified. Every other
// failure after the lookup attempts to leave the record failed before the
// *ProcessError is returned.
func (p *Pipeline) Process(ctx context.Context, req Request) (Outcome, error) {
	sub, err := p.lookup(ctx, req)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			metrics.RecordPipelineOutcome(outcomeNotFound)
		}
		return Outcome{}, &ProcessError{SubmissionID: req.ID, Stage: StageLookup, Err: err}
	}

	switch sub.Status {
	case model.StatusCompleted:
		metrics.RecordPipelineOutcome(outcomeReplayed)
		return outcomeOf(sub), nil
	case model.StatusProcessing:
		metrics.RecordPipelineOutcome(outcomeSkipped)
		return Outcome{}, &ProcessError{SubmissionID: sub.ID, Stage: StageClaim, Err: model.ErrAlreadyClaimed}
	case model.StatusFailed:
		metrics.RecordPipelineOutcome(outcomeSkipped)
		return Outcome{}, &ProcessError{SubmissionID: sub.ID, Stage: StageClaim, Err: fmt.Errorf("%w: %s", model.ErrTerminal, sub.ErrorDetail)}
	}

	key := sub.Key()
	id := logger.String("id", sub.ID)

	start := time.Now()
	if _, err := p.store.Claim(ctx, key); err != nil {
		if errors.Is(err, model.ErrAlreadyClaimed) {
			p.log.Info(ctx, "claim lost, skipping", id)
			metrics.RecordPipelineOutcome(outcomeSkipped)
			return Outcome{}, &ProcessError{SubmissionID: sub.ID, Stage: StageClaim, Err: err}
		}
		return Outcome{}, p.fail(ctx, sub, StageClaim, internal(err))
	}
	p.observe(ctx, sub.ID, StageClaim, start)

	start = time.Now()
	objectKey := sub.ObjectKey()
	audio, err := p.audio.ReadAll(ctx, objectKey)
	if err == nil && len(audio) == 0 {
		err = ErrEmptyAudio
	}
	if err != nil {
		return Outcome{}, p.fail(ctx, sub, StageFetchAudio, &model.UpstreamError{Stage: StageFetchAudio, Err: err})
	}
	p.observe(ctx, sub.ID, StageFetchAudio, start)

	start = time.Now()
	transcript, err := retry.Attempt(ctx, p.policyFor(ctx, sub.ID, StageTranscribe), func(ctx context.Context) (string, error) {
		return p.transcriber.Transcribe(ctx, audio, sub.AudioFormat)
	})
	// The buffer is only needed for transcription.
	audio = nil
	if err != nil {
		return Outcome{}, p.fail(ctx, sub, StageTranscribe, &model.UpstreamError{Stage: StageTranscribe, Err: err})
	}
	p.observe(ctx, sub.ID, StageTranscribe, start)

	start = time.Now()
	grade, err := retry.Attempt(ctx, p.policyFor(ctx, sub.ID, StageGrade), func(ctx context.Context) (Grade, error) {
		return p.grader.Grade(ctx, transcript)
	})
	if err != nil {
		return Outcome{}, p.fail(ctx, sub, StageGrade, &model.UpstreamError{Stage: StageGrade, Err: err})
	}
	p.observe(ctx, sub.ID, StageGrade, start)

	start = time.Now()
	result := model.NewResult(transcript, grade.Score, grade.Roast)
	if err := p.store.Complete(ctx, key, result, objectKey); err != nil {
		return Outcome{}, p.fail(ctx, sub, StagePersist, internal(err))
	}
	p.observe(ctx, sub.ID, StagePersist, start)

	metrics.RecordPipelineOutcome(outcomeCompleted)
	metrics.RecordScore(result.Score, result.PrizeEligible)
	p.log.Info(ctx, "submission scored", id,
		logger.Int("score", result.Score),
		logger.Float64("raw_score", grade.Score),
		logger.Bool("prize_eligible", result.PrizeEligible),
	)

	return Outcome{
		SubmissionID:    sub.ID,
		CreatedAtMillis: sub.CreatedAtMillis,
		Transcript:      result.Transcript,
		Score:           result.Score,
		Roast:           result.Commentary,
		PrizeEligible:   result.PrizeEligible,
	}, nil
}

func (p *Pipeline) lookup(ctx context.Context, req Request) (model.Submission, error) {
	if req.CreatedAtMillis != 0 {
		return p.store.GetByKey(ctx, model.Key{ID: req.ID, CreatedAtMillis: req.CreatedAtMillis})
	}
	return p.store.Get(ctx, req.ID)
}

// fail records the terminal failure. A failed cleanup is logged and attached
// to the returned error but never replaces cause.
func (p *Pipeline) fail(ctx context.Context, sub model.Submission, stage string, cause error) error {
	metrics.RecordPipelineOutcome(outcomeFailed)
	perr := &ProcessError{SubmissionID: sub.ID, Stage: stage, Err: cause}

	p.log.Error(ctx, "pipeline failed",
		logger.String("id", sub.ID),
		logger.String("stage", stage),
		logger.Int("attempts", retry.Attempts(cause)),
		logger.Error(cause),
	)

	if err := p.store.Fail(context.WithoutCancel(ctx), sub.Key(), cause.Error()); err != nil {
		perr.CleanupErr = err
		metrics.RecordCleanupFailure()
		p.log.Error(ctx, "failed to mark submission failed",
			logger.String("id", sub.ID),
			logger.String("cause", cause.Error()),
			logger.Error(err),
		)
	}
	return perr
}

func (p *Pipeline) policyFor(ctx context.Context, id, stage string) retry.Policy {
	pol := p.policy
	if p.newTimer != nil {
		pol.Timer = p.newTimer()
	}
	pol.OnRetry = func(attempt, maxAttempts int, delay time.Duration, err error) {
		metrics.RecordRetry(stage)
		p.log.Warn(ctx, fmt.Sprintf("retry %d/%d after %s", attempt, maxAttempts, delay),
			logger.String("id", id),
			logger.String("stage", stage),
			logger.Error(err),
		)
	}
	return pol
}

func (p *Pipeline) observe(ctx context.Context, id, stage string, start time.Time) {
	elapsed := time.Since(start)
	metrics.RecordStageLatency(stage, float64(elapsed.Microseconds())/1000)
	p.log.Debug(ctx, "stage done", logger.String("id", id), logger.String("stage", stage), logger.Duration("took", elapsed))
}

func internal(err error) error {
	if errors.Is(err, model.ErrInternal) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrInternal, err)
}
