// Package service wires the booth's components from configuration and
// implements the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/okian/roastboard/internal/adapters/mq/queue"
	workerpool "github.com/okian/roastboard/internal/adapters/mq/worker"
	"github.com/okian/roastboard/internal/adapters/objectstore"
	openaiadapter "github.com/okian/roastboard/internal/adapters/openai"
	"github.com/okian/roastboard/internal/adapters/repository"
	"github.com/okian/roastboard/internal/adapters/repository/postgres"
	"github.com/okian/roastboard/internal/config"
	"github.com/okian/roastboard/internal/domain/dedupe"
	"github.com/okian/roastboard/internal/domain/model"
	"github.com/okian/roastboard/internal/domain/ranking"
	"github.com/okian/roastboard/internal/domain/retry"
	"github.com/okian/roastboard/internal/domain/scoring"
	"github.com/okian/roastboard/internal/domain/upload"
	"github.com/okian/roastboard/internal/domain/validation"
	"github.com/okian/roastboard/pkg/logger"
	"github.com/okian/roastboard/pkg/metrics"
)

const maintenanceMetricsInterval = 5 * time.Second

// ErrNotStarted is returned by operations called before Start.
var ErrNotStarted = errors.New("service not started")

// Service implements the API dependencies for the booth.
type Service struct {
	mu sync.RWMutex

	cfg       *config.Config
	overrides struct {
		workerCount int
		queueSize   int
		dedupeSize  int
	}

	// Core components
	store       repository.Store
	ownsStore   bool
	objects     *objectstore.FileStore
	signer      *upload.Signer
	issuer      *upload.Issuer
	pipeline    *scoring.Pipeline
	aggregator  *ranking.Aggregator
	deduper     dedupe.Deduper
	jobQueue    *queue.InMemoryQueue
	workerPool  *workerpool.Pool
	transcriber scoring.Transcriber
	grader      scoring.Grader
	loc         *time.Location

	// Test seams
	now      func() time.Time
	newTimer func() retry.Timer

	// State
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the configuration the components are built from.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithWorkerCount overrides the number of background scoring workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.overrides.workerCount = count
		}
	}
}

// WithQueueSize overrides the capacity of the scoring job queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.overrides.queueSize = size
		}
	}
}

// WithDedupeSize overrides the size of the in-flight job deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.overrides.dedupeSize = size
		}
	}
}

// WithStore replaces the configured submission store. The service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithModel replaces the configured transcription and grading capabilities.
func WithModel(t scoring.Transcriber, g scoring.Grader) Option {
	return func(s *Service) {
		if t != nil && g != nil {
			s.transcriber = t
			s.grader = g
		}
	}
}

// WithClock sets the time source for issued submissions and leaderboards.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRetryTimer sets the timer used between model retries.
func WithRetryTimer(newTimer func() retry.Timer) Option {
	return func(s *Service) {
		if newTimer != nil {
			s.newTimer = newTimer
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service. Components are built by Start.
func New(opts ...Option) *Service {
	s := &Service{
		cfg: config.New(),
		now: time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	// Work on a copy so overrides never leak into the caller's config.
	cfg := *s.cfg
	if s.overrides.workerCount > 0 {
		cfg.WorkerCount = s.overrides.workerCount
	}
	if s.overrides.queueSize > 0 {
		cfg.EventQueueSize = s.overrides.queueSize
	}
	if s.overrides.dedupeSize > 0 {
		cfg.DedupeSize = s.overrides.dedupeSize
	}
	s.cfg = &cfg

	return s
}

// Start builds and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	s.logger.Info(ctx, "starting roastboard service...")

	loc, err := s.cfg.Location()
	if err != nil {
		return fmt.Errorf("session timezone: %w", err)
	}
	s.loc = loc

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := s.build(ctx, runCtx); err != nil {
		cancel()
		s.closeStore(ctx)
		return err
	}
	s.cancel = cancel

	if s.workerPool != nil {
		s.workerPool.Start(runCtx)
	}

	s.started = true
	s.logger.Info(ctx, "roastboard service started",
		logger.String("store", s.cfg.StoreDriver),
		logger.String("model", s.cfg.ModelProvider),
		logger.String("timezone", loc.String()),
		logger.Bool("autoProcess", s.cfg.AutoProcess),
		logger.Int("workers", s.workerCount()),
		logger.Int("queueSize", s.cfg.EventQueueSize),
	)
	return nil
}

func (s *Service) build(ctx, runCtx context.Context) error {
	if err := s.buildStore(ctx, runCtx); err != nil {
		return err
	}

	objects, err := objectstore.NewFileStore(s.cfg.AudioDir)
	if err != nil {
		return fmt.Errorf("audio store: %w", err)
	}
	s.objects = objects

	signer, err := upload.NewSigner([]byte(s.cfg.UploadSecret), s.now)
	if err != nil {
		return fmt.Errorf("upload signer: %w", err)
	}
	s.signer = signer
	s.issuer = upload.NewIssuer(s.store, signer,
		upload.WithBaseURL(s.cfg.PublicBaseURL),
		upload.WithTTL(s.cfg.UploadURLTTL()),
		upload.WithRetention(s.cfg.Retention()),
		upload.WithLocation(s.loc),
		upload.WithClock(s.now),
		upload.WithLogger(s.logger.Named("upload")),
	)

	if s.transcriber == nil || s.grader == nil {
		s.buildModel()
	}
	pipelineOpts := []scoring.Option{
		scoring.WithRetryPolicy(s.cfg.RetryMaxAttempts, s.cfg.RetryBaseDelay(), s.cfg.RetryFactor),
		scoring.WithLogger(s.logger.Named("pipeline")),
	}
	if s.newTimer != nil {
		pipelineOpts = append(pipelineOpts, scoring.WithRetryTimer(s.newTimer))
	}
	s.pipeline = scoring.NewPipeline(s.store, objects, s.transcriber, s.grader, pipelineOpts...)

	s.aggregator = ranking.NewAggregator(s.store,
		ranking.WithDefaultLimit(s.cfg.LeaderboardDefaultLimit),
		ranking.WithCacheTTL(s.cfg.LeaderboardCacheTTL()),
		ranking.WithLocation(s.loc),
		ranking.WithClock(s.now),
		ranking.WithLogger(s.logger.Named("ranking")),
	)

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.cfg.DedupeSize))
	s.jobQueue = queue.NewInMemoryQueue(
		queue.WithCapacity(s.cfg.EventQueueSize),
		queue.WithDeduper(s.deduper),
	)
	if s.cfg.AutoProcess {
		s.workerPool = workerpool.NewPool(s.cfg.WorkerCount, s.jobQueue, s,
			workerpool.WithLogger(s.logger.Named("worker")),
		)
	}
	return nil
}

func (s *Service) buildStore(ctx, runCtx context.Context) error {
	if s.store == nil {
		switch s.cfg.StoreDriver {
		case config.StorePostgres:
			if s.cfg.RunMigrations {
				if err := postgres.Migrate(ctx, s.cfg.DatabaseURL, s.logger.Named("migrate")); err != nil {
					return err
				}
			}
			pool, err := postgres.Connect(ctx, s.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			s.store = postgres.NewStore(pool, postgres.WithClock(s.now))
			s.logger.Info(ctx, "using postgres store")
		default:
			s.store = repository.NewMemoryStore(
				repository.WithPruneInterval(s.cfg.PruneInterval()),
				repository.WithClock(s.now),
				repository.WithLogger(s.logger.Named("memory_store")),
			)
			s.logger.Info(ctx, "using memory store")
		}
		s.ownsStore = true
	}

	if ms, ok := s.store.(*repository.MemoryStore); ok {
		ms.StartJanitor(runCtx)
		return nil
	}
	s.startMaintenance(runCtx)
	return nil
}

func (s *Service) buildModel() {
	switch s.cfg.ModelProvider {
	case config.ProviderOpenAI:
		client := openaiadapter.New(s.cfg.OpenAIAPIKey, s.cfg.OpenAIBaseURL,
			openaiadapter.WithTranscriptionModel(s.cfg.TranscriptionModel),
			openaiadapter.WithLanguage(s.cfg.TranscriptionLanguage),
			openaiadapter.WithGradingModel(s.cfg.GradingModel),
			openaiadapter.WithTemperature(s.cfg.GradingTemperature),
			openaiadapter.WithLogger(s.logger.Named("openai")),
		)
		s.transcriber, s.grader = client, client
	default:
		sim := scoring.NewSimulatedModel(scoring.WithLatencyRange(
			time.Duration(s.cfg.SimulatedLatencyMinMS)*time.Millisecond,
			time.Duration(s.cfg.SimulatedLatencyMaxMS)*time.Millisecond,
		))
		s.transcriber, s.grader = sim, sim
	}
}

// startMaintenance prunes expired submissions and refreshes status gauges
// for stores without their own janitor.
func (s *Service) startMaintenance(ctx context.Context) {
	s.every(ctx, s.cfg.PruneInterval(), func() {
		n, err := s.store.PruneExpired(ctx, s.now())
		if err != nil {
			s.logger.Error(ctx, "prune expired submissions failed", logger.Error(err))
			return
		}
		if n > 0 {
			s.logger.Info(ctx, "pruned expired submissions", logger.Int("count", n))
		}
	})
	s.every(ctx, maintenanceMetricsInterval, func() {
		counts, err := s.store.CountByStatus(ctx)
		if err != nil {
			return
		}
		for _, st := range model.Statuses() {
			metrics.UpdateRecordsByStatus(string(st), counts[st])
		}
	})
}

func (s *Service) every(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// Stop gracefully shuts down the service. Jobs already running finish first.
func (s *Service) Stop() {
	ctx := context.Background()

	s.mu.RLock()
	started, pool, jobs := s.started, s.workerPool, s.jobQueue
	s.mu.RUnlock()
	if !started {
		return
	}

	s.logger.Info(ctx, "stopping roastboard service...")

	// Workers call back into the service, so drain them without holding mu.
	// The pool closes the queue before waiting on its workers.
	if pool != nil {
		if err := pool.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "worker pool shutdown incomplete", logger.Error(err))
		}
	} else if jobs != nil {
		_ = jobs.Close()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}

	s.cancel()
	s.wg.Wait()
	s.closeStore(ctx)

	s.workerPool = nil
	s.started = false
	s.logger.Info(ctx, "roastboard service stopped")
}

func (s *Service) closeStore(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil && !errors.Is(err, repository.ErrClosed) {
		s.logger.Error(ctx, "error closing store", logger.Error(err))
	}
	// A store built here is rebuilt on the next Start.
	if s.ownsStore {
		s.store = nil
		s.ownsStore = false
	}
}

// Issue creates a pending submission and returns its upload authorization.
func (s *Service) Issue(ctx context.Context, acc validation.Accepted) (upload.Authorization, error) {
	if !s.isStarted() {
		return upload.Authorization{}, ErrNotStarted
	}
	return s.issuer.Issue(ctx, acc)
}

// VerifyUpload checks that token authorizes an upload to key.
func (s *Service) VerifyUpload(token, key string) (upload.Capability, error) {
	if !s.isStarted() {
		return upload.Capability{}, ErrNotStarted
	}
	return s.signer.Verify(token, key)
}

// ReceiveUpload stores the audio body of a pending submission. With
// auto processing enabled the submission is queued for scoring afterwards.
func (s *Service) ReceiveUpload(ctx context.Context, c upload.Capability, body io.Reader) (objectstore.PutResult, error) {
	if !s.isStarted() {
		return objectstore.PutResult{}, ErrNotStarted
	}

	sub, err := s.store.Get(ctx, c.ID)
	if err != nil {
		return objectstore.PutResult{}, err
	}
	switch sub.Status {
	case model.StatusPending:
	case model.StatusFailed:
		return objectstore.PutResult{}, fmt.Errorf("%w: %s", model.ErrTerminal, sub.ID)
	default:
		return objectstore.PutResult{}, fmt.Errorf("%w: %s is %s", model.ErrAlreadyClaimed, sub.ID, sub.Status)
	}

	res, err := s.objects.Put(ctx, c.Key, c.ContentType, body, c.MaxBytes)
	if err != nil {
		return objectstore.PutResult{}, err
	}

	if s.cfg.AutoProcess {
		if !s.jobQueue.Enqueue(ctx, queue.Job{Key: sub.Key()}) {
			s.logger.Warn(ctx, "scoring job not queued",
				logger.String("id", sub.ID),
				logger.Int("queueLength", s.jobQueue.Len(ctx)),
			)
		}
		metrics.UpdateQueueSize(s.jobQueue.Len(ctx))
	}
	return res, nil
}

// Process runs the scoring pipeline and refreshes the submission's session board.
func (s *Service) Process(ctx context.Context, req scoring.Request) (scoring.Outcome, error) {
	if !s.isStarted() {
		return scoring.Outcome{}, ErrNotStarted
	}
	out, err := s.pipeline.Process(ctx, req)
	if err != nil {
		return out, err
	}
	s.aggregator.Invalidate(model.SessionDate(time.UnixMilli(out.CreatedAtMillis), s.loc))
	return out, nil
}

// Leaderboard returns the ranked board selected by q.
func (s *Service) Leaderboard(ctx context.Context, q ranking.Query) (ranking.Board, error) {
	if !s.isStarted() {
		return ranking.Board{}, ErrNotStarted
	}
	return s.aggregator.Leaderboard(ctx, q)
}

// Ready reports whether the store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	if !s.isStarted() {
		return ErrNotStarted
	}
	return s.store.Ping(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":     s.started,
		"store":       s.cfg.StoreDriver,
		"model":       s.cfg.ModelProvider,
		"autoProcess": s.cfg.AutoProcess,
		"workerCount": s.workerCount(),
		"queueSize":   s.cfg.EventQueueSize,
		"dedupeSize":  s.cfg.DedupeSize,
	}

	if s.started {
		queueLen := s.jobQueue.Len(ctx)
		stats["queueLength"] = queueLen
		stats["inFlight"] = s.deduper.Size()
		if s.workerPool != nil {
			stats["processed"] = s.workerPool.Processed()
		}

		if counts, err := s.store.CountByStatus(ctx); err == nil {
			byStatus := make(map[string]int, len(counts))
			total := 0
			for _, st := range model.Statuses() {
				byStatus[string(st)] = counts[st]
				total += counts[st]
			}
			stats["submissions"] = byStatus
			stats["totalSubmissions"] = total
		} else {
			s.logger.Warn(ctx, "stats: count by status failed", logger.Error(err))
		}

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateQueueCapacity(s.jobQueue.Capacity())
		metrics.UpdateWorkerCount(s.workerCount())
	}

	return stats
}

func (s *Service) isStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

func (s *Service) workerCount() int {
	if s.workerPool == nil {
		return 0
	}
	return s.workerPool.Size()
}
