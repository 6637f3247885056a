package ranking

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/okian/roastboard/internal/domain/model"
	"github.com/okian/roastboard/pkg/logger"
	"github.com/okian/roastboard/pkg/metrics"
)

// Defaults for the aggregator.
const (
	DefaultLimit     = 100
	DefaultCacheTTL  = 2 * time.Second
	defaultCacheSize = 64
)

// Reader lists every submission of a session date.
type Reader interface {
	ListBySession(ctx context.Context, sessionDate string) ([]model.Submission, error)
}

// Query selects a board. Empty SessionDate means today; zero Limit means the default.
type Query struct {
	SessionDate string
	Limit       int
}

// Aggregator serves leaderboards from a Reader with a short freshness cache.
// Only successfully computed standings are cached; a read error is returned
// as is and never answered from the cache.
type Aggregator struct {
	reader       Reader
	defaultLimit int
	cacheTTL     time.Duration
	cacheSize    int
	loc          *time.Location
	now          func() time.Time
	log          logger.Logger
	cache        *expirable.LRU[string, standings]
}

// NewAggregator creates an Aggregator.
func NewAggregator(reader Reader, opts ...Option) *Aggregator {
	a := &Aggregator{
		reader:       reader,
		defaultLimit: DefaultLimit,
		cacheTTL:     DefaultCacheTTL,
		cacheSize:    defaultCacheSize,
		loc:          time.UTC,
		now:          time.Now,
		log:          logger.Get().Named("ranking"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cacheTTL > 0 {
		a.cache = expirable.NewLRU[string, standings](a.cacheSize, nil, a.cacheTTL)
	}
	return a
}

// Today returns the current session date.
func (a *Aggregator) Today() string {
	return model.SessionDate(a.now(), a.loc)
}

// Leaderboard returns the ranked board selected by q.
func (a *Aggregator) Leaderboard(ctx context.Context, q Query) (Board, error) {
	date := q.SessionDate
	if date == "" {
		date = a.Today()
	}
	limit := q.Limit
	if limit <= 0 {
		limit = a.defaultLimit
	}

	if a.cache != nil {
		if st, ok := a.cache.Get(date); ok {
			metrics.RecordLeaderboardRequest(true)
			return st.board(date, limit, a.now()), nil
		}
	}
	metrics.RecordLeaderboardRequest(false)

	subs, err := a.reader.ListBySession(ctx, date)
	if err != nil {
		a.log.Error(ctx, "leaderboard read failed", logger.String("session_date", date), logger.Error(err))
		return Board{}, fmt.Errorf("list session %s: %w", date, err)
	}

	st := rank(subs, date)
	if a.cache != nil {
		a.cache.Add(date, st)
	}
	metrics.UpdateLeaderboardSize(date, len(st.entries))
	a.log.Debug(ctx, "leaderboard computed",
		logger.String("session_date", date),
		logger.Int("submissions", len(subs)),
		logger.Int("completed", len(st.entries)),
	)
	return st.board(date, limit, a.now()), nil
}

// Invalidate drops the cached standings of sessionDate.
func (a *Aggregator) Invalidate(sessionDate string) {
	if a.cache != nil {
		a.cache.Remove(sessionDate)
	}
}
