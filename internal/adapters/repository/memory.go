package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/roastboard/internal/domain/model"
	"github.com/okian/roastboard/pkg/logger"
	"github.com/okian/roastboard/pkg/metrics"
)

// MemoryStore is an in-process Store. Values are copied on the way in and
// out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	byKey    map[model.Key]model.Submission
	byID     map[string]model.Key
	sessions map[string][]model.Key // creation order
	closed   bool

	pruneInterval   time.Duration
	metricsInterval time.Duration
	now             func() time.Time
	log             logger.Logger

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store. Call StartJanitor to enable
// retention pruning and periodic status metrics.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		byKey:           make(map[model.Key]model.Submission),
		byID:            make(map[string]model.Key),
		sessions:        make(map[string][]model.Key),
		pruneInterval:   time.Hour,
		metricsInterval: 5 * time.Second,
		now:             time.Now,
		log:             logger.Get().Named("memory_store"),
		stopChan:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartJanitor starts the background pruning and metrics goroutines. They stop on ctx or Close.
func (s *MemoryStore) StartJanitor(ctx context.Context) {
	s.every(ctx, s.pruneInterval, func() {
		n, err := s.PruneExpired(ctx, s.now())
		if err != nil {
			return
		}
		if n > 0 {
			s.log.Info(ctx, "pruned expired submissions", logger.Int("count", n))
		}
	})
	s.every(ctx, s.metricsInterval, func() {
		s.updateMetrics(ctx)
	})
}

func (s *MemoryStore) every(ctx context.Context, interval time.Duration, fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

func (s *MemoryStore) updateMetrics(ctx context.Context) {
	counts, err := s.CountByStatus(ctx)
	if err != nil {
		return
	}
	for _, st := range model.Statuses() {
		metrics.UpdateRecordsByStatus(string(st), counts[st])
	}
}

// Close stops the background goroutines. Further calls return ErrClosed.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Ping reports whether the store accepts calls.
func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *MemoryStore) Create(_ context.Context, sub model.Submission) error {
	if sub.ID == "" {
		return fmt.Errorf("%w: empty submission id", model.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, exists := s.byID[sub.ID]; exists {
		return fmt.Errorf("%w: %s", ErrConflict, sub.ID)
	}
	key := sub.Key()
	s.byKey[key] = sub.Clone()
	s.byID[sub.ID] = key
	s.sessions[sub.SessionDate] = append(s.sessions[sub.SessionDate], key)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.Submission{}, ErrClosed
	}
	key, ok := s.byID[id]
	if !ok {
		return model.Submission{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.byKey[key].Clone(), nil
}

func (s *MemoryStore) GetByKey(_ context.Context, key model.Key) (model.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.Submission{}, ErrClosed
	}
	sub, ok := s.byKey[key]
	if !ok {
		return model.Submission{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return sub.Clone(), nil
}

func (s *MemoryStore) Claim(_ context.Context, key model.Key) (model.Submission, error) {
	var claimed model.Submission
	err := s.update(key, func(sub *model.Submission) error {
		if sub.Status != model.StatusPending {
			return fmt.Errorf("%w: %s is %s", ErrAlreadyClaimed, key.ID, sub.Status)
		}
		sub.Status = model.StatusProcessing
		claimed = sub.Clone()
		return nil
	})
	return claimed, err
}

func (s *MemoryStore) Complete(_ context.Context, key model.Key, result model.Result, audioKey string) error {
	return s.update(key, func(sub *model.Submission) error {
		if err := model.ValidateTransition(sub.Status, model.StatusCompleted); err != nil {
			return err
		}
		r := result
		sub.Status = model.StatusCompleted
		sub.Result = &r
		sub.AudioKey = audioKey
		sub.ErrorDetail = ""
		sub.CompletedAt = sub.UpdatedAt
		return nil
	})
}

func (s *MemoryStore) Fail(_ context.Context, key model.Key, detail string) error {
	return s.update(key, func(sub *model.Submission) error {
		if err := model.ValidateTransition(sub.Status, model.StatusFailed); err != nil {
			return err
		}
		sub.Status = model.StatusFailed
		sub.ErrorDetail = detail
		sub.Result = nil
		return nil
	})
}

// update applies fn to a working copy and stores it only if fn succeeds.
func (s *MemoryStore) update(key model.Key, fn func(*model.Submission) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	cur, ok := s.byKey[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	next := cur.Clone()
	next.UpdatedAt = s.now()
	if err := fn(&next); err != nil {
		return err
	}
	s.byKey[key] = next
	return nil
}

func (s *MemoryStore) ListBySession(_ context.Context, sessionDate string) ([]model.Submission, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	keys := s.sessions[sessionDate]
	out := make([]model.Submission, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.byKey[k].Clone())
	}
	s.mu.RUnlock()

	sortBySessionRank(out)
	return out, nil
}

func (s *MemoryStore) CountByStatus(_ context.Context) (map[model.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	counts := make(map[model.Status]int, len(model.Statuses()))
	for _, sub := range s.byKey {
		counts[sub.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) PruneExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	pruned := 0
	for date, keys := range s.sessions {
		kept := keys[:0]
		for _, k := range keys {
			sub := s.byKey[k]
			if !sub.ExpiresAt.IsZero() && !sub.ExpiresAt.After(now) {
				delete(s.byKey, k)
				delete(s.byID, k.ID)
				pruned++
				continue
			}
			kept = append(kept, k)
		}
		if len(kept) == 0 {
			delete(s.sessions, date)
		} else {
			s.sessions[date] = kept
		}
	}
	if pruned > 0 {
		metrics.RecordRecordsPruned(pruned)
	}
	return pruned, nil
}
