package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/roastboard/internal/domain/model"
	"github.com/okian/roastboard/pkg/logger"
)

var t0 = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

func newSubmission(id string, offset time.Duration) model.Submission {
	created := t0.Add(offset)
	return model.Submission{
		ID:              id,
		CreatedAtMillis: created.UnixMilli(),
		SessionDate:     "2026-10-14",
		ParticipantName: "P " + id,
		AudioFormat:     model.FormatWebM,
		AudioSizeBytes:  100,
		Status:          model.StatusPending,
		CreatedAt:       created,
		UpdatedAt:       created,
		ExpiresAt:       created.Add(90 * 24 * time.Hour),
	}
}

func TestMemoryStore_Lifecycle(t *testing.T) {
	Convey("Given a memory store with one pending submission", t, func() {
		ctx := context.Background()
		clock := t0.Add(time.Minute)
		s := NewMemoryStore(WithClock(func() time.Time { return clock }), WithLogger(logger.Nop()))
		defer func() { _ = s.Close() }()
		sub := newSubmission("a", 0)
		So(s.Create(ctx, sub), ShouldBeNil)
		key := sub.Key()

		Convey("When creating the same id again", func() {
			err := s.Create(ctx, sub)

			Convey("Then it should conflict", func() {
				So(errors.Is(err, ErrConflict), ShouldBeTrue)
			})
		})

		Convey("When reading it back", func() {
			byID, err1 := s.Get(ctx, "a")
			byKey, err2 := s.GetByKey(ctx, key)
			_, err3 := s.GetByKey(ctx, model.Key{ID: "a", CreatedAtMillis: 1})
			_, err4 := s.Get(ctx, "zzz")

			Convey("Then both lookups should agree and unknown keys should be not found", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(byID, ShouldResemble, byKey)
				So(errors.Is(err3, ErrNotFound), ShouldBeTrue)
				So(errors.Is(err4, ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When claiming it twice", func() {
			claimed, err := s.Claim(ctx, key)
			_, err2 := s.Claim(ctx, key)

			Convey("Then only the first claim should win", func() {
				So(err, ShouldBeNil)
				So(claimed.Status, ShouldEqual, model.StatusProcessing)
				So(claimed.UpdatedAt, ShouldEqual, clock)
				So(errors.Is(err2, ErrAlreadyClaimed), ShouldBeTrue)
			})
		})

		Convey("When completing after a claim", func() {
			_, _ = s.Claim(ctx, key)
			err := s.Complete(ctx, key, model.Result{Transcript: "t", Score: 88, Commentary: "c", PrizeEligible: true}, "2026-10-14/a.webm")
			got, _ := s.Get(ctx, "a")

			Convey("Then all derived fields should be set together", func() {
				So(err, ShouldBeNil)
				So(got.Status, ShouldEqual, model.StatusCompleted)
				So(got.Result.Score, ShouldEqual, 88)
				So(got.AudioKey, ShouldEqual, "2026-10-14/a.webm")
				So(got.CompletedAt, ShouldEqual, clock)
				So(got.CheckInvariants(), ShouldBeNil)
			})

			Convey("Then the terminal state should be final", func() {
				So(errors.Is(s.Fail(ctx, key, "late"), ErrInvalidTransition), ShouldBeTrue)
				_, err := s.Claim(ctx, key)
				So(errors.Is(err, ErrAlreadyClaimed), ShouldBeTrue)
			})
		})

		Convey("When completing without a claim", func() {
			err := s.Complete(ctx, key, model.Result{Score: 50}, "k")

			Convey("Then it should be an invalid transition and change nothing", func() {
				So(errors.Is(err, ErrInvalidTransition), ShouldBeTrue)
				got, _ := s.Get(ctx, "a")
				So(got.Status, ShouldEqual, model.StatusPending)
				So(got.Result, ShouldBeNil)
			})
		})

		Convey("When failing from pending or processing", func() {
			So(s.Fail(ctx, key, "audio missing"), ShouldBeNil)
			got, _ := s.Get(ctx, "a")

			Convey("Then the error detail should be recorded without a result", func() {
				So(got.Status, ShouldEqual, model.StatusFailed)
				So(got.ErrorDetail, ShouldEqual, "audio missing")
				So(got.Result, ShouldBeNil)
			})
		})

		Convey("When a caller mutates a returned copy", func() {
			_, _ = s.Claim(ctx, key)
			_ = s.Complete(ctx, key, model.Result{Score: 10}, "k")
			got, _ := s.Get(ctx, "a")
			got.Result.Score = 99
			again, _ := s.Get(ctx, "a")

			Convey("Then the stored record should be unchanged", func() {
				So(again.Result.Score, ShouldEqual, 10)
			})
		})

		Convey("When the store is closed", func() {
			So(s.Close(), ShouldBeNil)

			Convey("Then calls should fail with ErrClosed", func() {
				So(errors.Is(s.Ping(ctx), ErrClosed), ShouldBeTrue)
				_, err := s.Get(ctx, "a")
				So(errors.Is(err, ErrClosed), ShouldBeTrue)
			})
		})
	})
}

func TestMemoryStore_ListAndPrune(t *testing.T) {
	Convey("Given submissions across states and days", t, func() {
		ctx := context.Background()
		s := NewMemoryStore(WithLogger(logger.Nop()))
		defer func() { _ = s.Close() }()

		scores := map[string]int{"a": 70, "b": 95, "c": 70, "d": 82}
		for i, id := range []string{"a", "b", "c", "d", "pending"} {
			sub := newSubmission(id, time.Duration(i)*time.Second)
			So(s.Create(ctx, sub), ShouldBeNil)
			if score, ok := scores[id]; ok {
				_, _ = s.Claim(ctx, sub.Key())
				So(s.Complete(ctx, sub.Key(), model.Result{Score: score}, ""), ShouldBeNil)
			}
		}
		other := newSubmission("other-day", 0)
		other.SessionDate = "2026-10-13"
		So(s.Create(ctx, other), ShouldBeNil)

		Convey("When listing a session", func() {
			subs, err := s.ListBySession(ctx, "2026-10-14")
			ids := make([]string, len(subs))
			for i, sub := range subs {
				ids[i] = sub.ID
			}

			Convey("Then it should include every status, score desc with ties by creation", func() {
				So(err, ShouldBeNil)
				So(ids, ShouldResemble, []string{"b", "d", "a", "c", "pending"})
			})
		})

		Convey("When counting by status", func() {
			counts, err := s.CountByStatus(ctx)

			Convey("Then totals should match", func() {
				So(err, ShouldBeNil)
				So(counts[model.StatusCompleted], ShouldEqual, 4)
				So(counts[model.StatusPending], ShouldEqual, 2)
			})
		})

		Convey("When pruning past the retention window", func() {
			n, err := s.PruneExpired(ctx, t0.Add(91*24*time.Hour))

			Convey("Then every submission should be gone", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 6)
				subs, _ := s.ListBySession(ctx, "2026-10-14")
				So(subs, ShouldBeEmpty)
				_, err := s.Get(ctx, "a")
				So(errors.Is(err, ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When pruning before expiry", func() {
			n, _ := s.PruneExpired(ctx, t0.Add(24*time.Hour))

			Convey("Then nothing should be removed", func() {
				So(n, ShouldEqual, 0)
			})
		})
	})
}

func TestMemoryStore_Janitor(t *testing.T) {
	Convey("Given a store with an expired submission and a fast janitor", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		s := NewMemoryStore(
			WithPruneInterval(5*time.Millisecond),
			WithMetricsUpdateInterval(5*time.Millisecond),
			WithClock(func() time.Time { return t0.Add(100 * 24 * time.Hour) }),
			WithLogger(logger.Nop()),
		)
		So(s.Create(ctx, newSubmission("old", 0)), ShouldBeNil)
		s.StartJanitor(ctx)

		Convey("Then it should be pruned in the background", func() {
			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				if _, err := s.Get(ctx, "old"); errors.Is(err, ErrNotFound) {
					break
				}
				time.Sleep(5 * time.Millisecond)
			}
			_, err := s.Get(ctx, "old")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
			So(s.Close(), ShouldBeNil)
		})
	})
}

func TestMemoryStore_ConcurrentClaims(t *testing.T) {
	Convey("Given many concurrent claims on pending submissions", t, func() {
		ctx := context.Background()
		s := NewMemoryStore(WithLogger(logger.Nop()))
		defer func() { _ = s.Close() }()
		const subs = 20
		for i := 0; i < subs; i++ {
			So(s.Create(ctx, newSubmission(fmt.Sprintf("s%d", i), time.Duration(i))), ShouldBeNil)
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < subs; i++ {
			sub := newSubmission(fmt.Sprintf("s%d", i), time.Duration(i))
			for j := 0; j < 5; j++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := s.Claim(ctx, sub.Key()); err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
		}
		wg.Wait()

		Convey("Then each submission should be claimed exactly once", func() {
			So(wins, ShouldEqual, subs)
		})
	})
}
