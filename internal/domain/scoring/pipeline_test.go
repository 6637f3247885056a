package scoring_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/roastboard/internal/domain/model"
	"github.com/okian/roastboard/internal/domain/retry"
	"github.com/okian/roastboard/internal/domain/scoring"
	"github.com/okian/roastboard/pkg/logger"
)

// fakeStore enforces the lifecycle transitions the real stores enforce.
type fakeStore struct {
	mu      sync.Mutex
	subs    map[string]model.Submission
	failErr error
	claimed int
}

func newFakeStore(subs ...model.Submission) *fakeStore {
	f := &fakeStore{subs: make(map[string]model.Submission)}
	for _, s := range subs {
		f.subs[s.ID] = s
	}
	return f
}

func (f *fakeStore) Get(_ context.Context, id string) (model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok {
		return model.Submission{}, model.ErrNotFound
	}
	return s.Clone(), nil
}

func (f *fakeStore) GetByKey(ctx context.Context, key model.Key) (model.Submission, error) {
	s, err := f.Get(ctx, key.ID)
	if err != nil || s.CreatedAtMillis != key.CreatedAtMillis {
		return model.Submission{}, model.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) Claim(_ context.Context, key model.Key) (model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.subs[key.ID]
	if s.Status != model.StatusPending {
		return model.Submission{}, model.ErrAlreadyClaimed
	}
	f.claimed++
	s.Status = model.StatusProcessing
	f.subs[key.ID] = s
	return s.Clone(), nil
}

func (f *fakeStore) Complete(_ context.Context, key model.Key, r model.Result, audioKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.subs[key.ID]
	if err := model.ValidateTransition(s.Status, model.StatusCompleted); err != nil {
		return err
	}
	s.Status = model.StatusCompleted
	s.Result = &r
	s.AudioKey = audioKey
	f.subs[key.ID] = s
	return nil
}

func (f *fakeStore) Fail(_ context.Context, key model.Key, detail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	s := f.subs[key.ID]
	if err := model.ValidateTransition(s.Status, model.StatusFailed); err != nil {
		return err
	}
	s.Status = model.StatusFailed
	s.ErrorDetail = detail
	f.subs[key.ID] = s
	return nil
}

type fakeAudio struct {
	data map[string][]byte
	err  error
}

func (a fakeAudio) ReadAll(_ context.Context, key string) ([]byte, error) {
	if a.err != nil {
		return nil, a.err
	}
	b, ok := a.data[key]
	if !ok {
		return nil, fmt.Errorf("object %s missing", key)
	}
	return b, nil
}

type fakeTranscriber struct {
	calls int
	fails int
	text  string
}

func (t *fakeTranscriber) Transcribe(context.Context, []byte, model.AudioFormat) (string, error) {
	t.calls++
	if t.calls <= t.fails {
		return "", errors.New("whisper unavailable")
	}
	return t.text, nil
}

type fakeGrader struct {
	calls   int
	replies []func() (scoring.Grade, error)
}

func (g *fakeGrader) Grade(context.Context, string) (scoring.Grade, error) {
	g.calls++
	i := g.calls - 1
	if i >= len(g.replies) {
		i = len(g.replies) - 1
	}
	return g.replies[i]()
}

func gradeOf(score float64, roast string) func() (scoring.Grade, error) {
	return func() (scoring.Grade, error) { return scoring.Grade{Score: score, Roast: roast}, nil }
}

func reply(content string) func() (scoring.Grade, error) {
	return func() (scoring.Grade, error) { return scoring.ParseGrade(content) }
}

type timerSpy struct {
	mu     sync.Mutex
	delays []time.Duration
}

type spyTimer struct {
	spy *timerSpy
	c   chan time.Time
}

func (t *spyTimer) Start(d time.Duration) {
	t.spy.mu.Lock()
	t.spy.delays = append(t.spy.delays, d)
	t.spy.mu.Unlock()
	t.c <- time.Time{}
}
func (t *spyTimer) Stop()               {}
func (t *spyTimer) C() <-chan time.Time { return t.c }

func (s *timerSpy) factory() retry.Timer {
	return &spyTimer{spy: s, c: make(chan time.Time, 1)}
}

func pendingSubmission() model.Submission {
	return model.Submission{
		ID:              "sub-1",
		CreatedAtMillis: 1_760_000_000_000,
		SessionDate:     "2026-10-14",
		ParticipantName: "Ada",
		AudioFormat:     model.FormatWAV,
		AudioSizeBytes:  4,
		Status:          model.StatusPending,
	}
}

func TestPipeline_Process(t *testing.T) {
	Convey("Given a pipeline over a pending submission", t, func() {
		ctx := context.Background()
		sub := pendingSubmission()
		store := newFakeStore(sub)
		audio := fakeAudio{data: map[string][]byte{sub.ObjectKey(): []byte("RIFF")}}
		transcriber := &fakeTranscriber{text: "we met a partner"}
		grader := &fakeGrader{replies: []func() (scoring.Grade, error){gradeOf(142, "Booking next year already.")}}
		spy := &timerSpy{}
		build := func() *scoring.Pipeline {
			return scoring.NewPipeline(store, audio, transcriber, grader,
				scoring.WithRetryTimer(spy.factory),
				scoring.WithLogger(logger.Nop()),
			)
		}

		Convey("When every stage succeeds", func() {
			out, err := build().Process(ctx, scoring.Request{ID: sub.ID, CreatedAtMillis: sub.CreatedAtMillis})

			Convey("Then the clamped result should be persisted and returned", func() {
				So(err, ShouldBeNil)
				So(out.Score, ShouldEqual, 100)
				So(out.PrizeEligible, ShouldBeTrue)
				So(out.Transcript, ShouldEqual, "we met a partner")
				So(out.Roast, ShouldEqual, "Booking next year already.")

				stored, _ := store.Get(ctx, sub.ID)
				So(stored.Status, ShouldEqual, model.StatusCompleted)
				So(stored.Result.Score, ShouldEqual, 100)
				So(stored.AudioKey, ShouldEqual, "2026-10-14/sub-1.wav")
				So(stored.CheckInvariants(), ShouldBeNil)
			})
		})

		Convey("When the grade is below range", func() {
			grader.replies = []func() (scoring.Grade, error){gradeOf(-5, "Free coffee fan.")}
			out, err := build().Process(ctx, scoring.Request{ID: sub.ID})

			Convey("Then the score should be clamped to 0 and not prize eligible", func() {
				So(err, ShouldBeNil)
				So(out.Score, ShouldEqual, 0)
				So(out.PrizeEligible, ShouldBeFalse)
			})
		})

		Convey("When the grade sits on the prize threshold", func() {
			grader.replies = []func() (scoring.Grade, error){gradeOf(79, "Close.")}
			out79, _ := build().Process(ctx, scoring.Request{ID: sub.ID})

			other := pendingSubmission()
			other.ID = "sub-2"
			store.subs[other.ID] = other
			audio.data[other.ObjectKey()] = []byte("RIFF")
			grader.replies = []func() (scoring.Grade, error){gradeOf(80, "Made it.")}
			grader.calls = 0
			out80, _ := build().Process(ctx, scoring.Request{ID: other.ID})

			Convey("Then 79 should miss and 80 should win", func() {
				So(out79.PrizeEligible, ShouldBeFalse)
				So(out80.PrizeEligible, ShouldBeTrue)
			})
		})

		Convey("When transcription always fails", func() {
			transcriber.fails = 99
			_, err := build().Process(ctx, scoring.Request{ID: sub.ID})

			Convey("Then it should try 3 times with 1s and 2s delays and fail the submission", func() {
				So(transcriber.calls, ShouldEqual, 3)
				So(spy.delays, ShouldResemble, []time.Duration{time.Second, 2 * time.Second})
				So(errors.Is(err, model.ErrUpstream), ShouldBeTrue)

				var perr *scoring.ProcessError
				So(errors.As(err, &perr), ShouldBeTrue)
				So(perr.Stage, ShouldEqual, scoring.StageTranscribe)
				So(perr.SubmissionID, ShouldEqual, sub.ID)
				So(retry.Attempts(err), ShouldEqual, 3)

				stored, _ := store.Get(ctx, sub.ID)
				So(stored.Status, ShouldEqual, model.StatusFailed)
				So(stored.ErrorDetail, ShouldContainSubstring, "whisper unavailable")
				So(stored.Result, ShouldBeNil)
				So(grader.calls, ShouldEqual, 0)
			})
		})

		Convey("When transcription recovers, grading keeps its own budget", func() {
			transcriber.fails = 2
			grader.replies = []func() (scoring.Grade, error){
				reply(`{"score":"high","roast":"x"}`),
				reply(`{"score":70}`),
				reply(`{"score":70,"roast":"Solid."}`),
			}
			out, err := build().Process(ctx, scoring.Request{ID: sub.ID})

			Convey("Then malformed replies should be retried within grading's 3 attempts", func() {
				So(err, ShouldBeNil)
				So(transcriber.calls, ShouldEqual, 3)
				So(grader.calls, ShouldEqual, 3)
				So(out.Score, ShouldEqual, 70)
				So(spy.delays, ShouldResemble, []time.Duration{time.Second, 2 * time.Second, time.Second, 2 * time.Second})
			})
		})

		Convey("When grading is always malformed", func() {
			grader.replies = []func() (scoring.Grade, error){reply(`{"roast":"no score"}`)}
			_, err := build().Process(ctx, scoring.Request{ID: sub.ID})

			Convey("Then the submission should fail at the grade stage", func() {
				So(errors.Is(err, scoring.ErrMalformedGrade), ShouldBeTrue)
				So(grader.calls, ShouldEqual, 3)
				stored, _ := store.Get(ctx, sub.ID)
				So(stored.Status, ShouldEqual, model.StatusFailed)
			})
		})

		Convey("When the audio object cannot be fetched", func() {
			audio.err = errors.New("bucket offline")
			_, err := build().Process(ctx, scoring.Request{ID: sub.ID})

			Convey("Then it should fail without calling the model", func() {
				var perr *scoring.ProcessError
				So(errors.As(err, &perr), ShouldBeTrue)
				So(perr.Stage, ShouldEqual, scoring.StageFetchAudio)
				So(errors.Is(err, model.ErrUpstream), ShouldBeTrue)
				So(transcriber.calls, ShouldEqual, 0)
			})
		})

		Convey("When marking the submission failed also fails", func() {
			audio.err = errors.New("bucket offline")
			store.failErr = errors.New("store down")
			_, err := build().Process(ctx, scoring.Request{ID: sub.ID})

			Convey("Then the original failure should still be returned", func() {
				var perr *scoring.ProcessError
				So(errors.As(err, &perr), ShouldBeTrue)
				So(perr.Err.Error(), ShouldContainSubstring, "bucket offline")
				So(perr.CleanupErr.Error(), ShouldEqual, "store down")
				So(errors.Is(err, model.ErrUpstream), ShouldBeTrue)
			})
		})

		Convey("When the submission does not exist", func() {
			_, err := build().Process(ctx, scoring.Request{ID: "nope"})

			Convey("Then it should report not found", func() {
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When the creation timestamp does not match", func() {
			_, err := build().Process(ctx, scoring.Request{ID: sub.ID, CreatedAtMillis: 1})

			Convey("Then it should report not found and leave the record alone", func() {
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
				stored, _ := store.Get(ctx, sub.ID)
				So(stored.Status, ShouldEqual, model.StatusPending)
			})
		})

		Convey("When the submission was already completed", func() {
			_, err := build().Process(ctx, scoring.Request{ID: sub.ID})
			So(err, ShouldBeNil)
			again, err := build().Process(ctx, scoring.Request{ID: sub.ID})

			Convey("Then the stored outcome should be returned without new work", func() {
				So(err, ShouldBeNil)
				So(again.Score, ShouldEqual, 100)
				So(store.claimed, ShouldEqual, 1)
				So(transcriber.calls, ShouldEqual, 1)
			})
		})

		Convey("When the submission is already processing", func() {
			s := store.subs[sub.ID]
			s.Status = model.StatusProcessing
			store.subs[sub.ID] = s
			_, err := build().Process(ctx, scoring.Request{ID: sub.ID})

			Convey("Then it should be skipped as already claimed", func() {
				So(errors.Is(err, model.ErrAlreadyClaimed), ShouldBeTrue)
				stored, _ := store.Get(ctx, sub.ID)
				So(stored.Status, ShouldEqual, model.StatusProcessing)
			})
		})

		Convey("When the submission already failed", func() {
			s := store.subs[sub.ID]
			s.Status = model.StatusFailed
			s.ErrorDetail = "earlier"
			store.subs[sub.ID] = s
			_, err := build().Process(ctx, scoring.Request{ID: sub.ID})

			Convey("Then it should be terminal", func() {
				So(errors.Is(err, model.ErrTerminal), ShouldBeTrue)
			})
		})
	})
}

func TestPipeline_ConcurrentTriggers(t *testing.T) {
	Convey("Given two concurrent triggers for one submission", t, func() {
		sub := pendingSubmission()
		store := newFakeStore(sub)
		audio := fakeAudio{data: map[string][]byte{sub.ObjectKey(): []byte("RIFF")}}
		sim := scoring.NewSimulatedModel(scoring.WithLatencyRange(0, 0))
		p := scoring.NewPipeline(store, audio, sim, sim, scoring.WithLogger(logger.Nop()))

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = p.Process(context.Background(), scoring.Request{ID: sub.ID})
			}(i)
		}
		wg.Wait()

		Convey("Then exactly one run should claim it", func() {
			So(store.claimed, ShouldEqual, 1)
		})
	})
}
