package boothsim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/roastboard/pkg/logger"
)

// Run executes a complete simulation and returns its statistics.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	cfg := config.withDefaults()
	if _, ok := contentTypes[cfg.Format]; !ok {
		return nil, fmt.Errorf("unsupported audio format %q", cfg.Format)
	}
	log := logger.Get().Named("boothsim")
	stats := &Stats{StartTime: time.Now(), Participants: cfg.Participants}

	log.Info(ctx, "starting booth simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("participants", cfg.Participants),
		logger.Int("workers", cfg.Workers),
		logger.String("format", cfg.Format),
		logger.Bool("skipProcess", cfg.SkipProcess),
	)

	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)

	// Step 1: Check service health
	if err := client.health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Run every participant through submit -> upload -> process
	participants := generateParticipants(cfg.Participants, cfg.Format)
	results := runParticipants(ctx, &cfg, client, participants, log)
	tally(stats, results, cfg.SkipProcess)
	if stats.Uploaded == 0 {
		return stats, fmt.Errorf("no participant completed an upload: %w", firstError(results))
	}

	// Step 3: Fetch the board and, with auto processing, wait for the scores
	board, err := awaitBoard(ctx, &cfg, client, results)
	if err != nil {
		return stats, fmt.Errorf("leaderboard retrieval failed: %w", err)
	}
	if cfg.SkipProcess {
		adoptBoardScores(results, board)
		tally(stats, results, false)
	}
	stats.BoardEntries = len(board.Leaderboard)

	// Step 4: Verify results
	if err := verifyBoard(results, board); err != nil {
		return stats, fmt.Errorf("result verification failed: %w", err)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, log, stats, board)
	return stats, nil
}

func runParticipants(ctx context.Context, cfg *Config, client *HTTPClient, participants []Participant, log logger.Logger) []Result {
	results := make([]Result, len(participants))
	indexes := make(chan int, cfg.Workers*2)

	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				results[i] = runParticipant(ctx, cfg, client, participants[i])
				if cfg.Verbose {
					r := results[i]
					log.Info(ctx, "participant finished",
						logger.String("name", r.Participant.Name),
						logger.String("responseId", r.ResponseID),
						logger.Int("score", r.Score),
						logger.Any("error", r.Err),
					)
				}
			}
		}()
	}

	go func() {
		defer close(indexes)
		for i := range participants {
			select {
			case <-ctx.Done():
				return
			case indexes <- i:
			}
		}
	}()

	wg.Wait()

	// Participants never dispatched because ctx ended.
	for i := range results {
		if results[i].Participant.Name == "" {
			results[i] = Result{Participant: participants[i], Err: ctx.Err()}
		}
	}
	return results
}

func runParticipant(ctx context.Context, cfg *Config, client *HTTPClient, p Participant) Result {
	r := Result{Participant: p}

	sub, err := client.submit(ctx, p)
	if err != nil {
		r.Err = err
		return r
	}
	r.ResponseID = sub.ResponseID

	if err := client.upload(ctx, sub.UploadURL, p); err != nil {
		r.Err = err
		return r
	}
	if cfg.SkipProcess {
		return r
	}

	out, err := client.process(ctx, sub.ResponseID, sub.Timestamp)
	if err != nil {
		r.Err = err
		return r
	}
	r.Score = out.Score
	r.Roast = out.Roast
	r.PrizeEligible = out.PrizeEligible
	return r
}

// awaitBoard fetches the leaderboard. With auto processing it polls until
// every uploaded participant appears or SettleWait elapses.
func awaitBoard(ctx context.Context, cfg *Config, client *HTTPClient, results []Result) (Leaderboard, error) {
	if !cfg.SkipProcess {
		return client.leaderboard(ctx, cfg.Limit)
	}

	deadline := time.Now().Add(cfg.SettleWait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		board, err := client.leaderboard(ctx, cfg.Limit)
		if err != nil {
			return Leaderboard{}, err
		}
		if missing(results, board) == 0 || time.Now().After(deadline) {
			return board, nil
		}
		select {
		case <-ctx.Done():
			return Leaderboard{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// missing counts uploaded participants not yet on the board.
func missing(results []Result, board Leaderboard) int {
	names := make(map[string]struct{}, len(board.Leaderboard))
	for _, e := range board.Leaderboard {
		names[e.Name] = struct{}{}
	}
	n := 0
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		if _, ok := names[r.Participant.Name]; !ok {
			n++
		}
	}
	return n
}

// adoptBoardScores fills in the scores of participants scored server-side.
func adoptBoardScores(results []Result, board Leaderboard) {
	byName := make(map[string]Entry, len(board.Leaderboard))
	for _, e := range board.Leaderboard {
		byName[e.Name] = e
	}
	for i := range results {
		if results[i].Err != nil {
			continue
		}
		e, ok := byName[results[i].Participant.Name]
		if !ok {
			results[i].Err = fmt.Errorf("%s was never scored", results[i].Participant.Name)
			continue
		}
		results[i].Score = e.Score
		results[i].Roast = e.Roast
		results[i].PrizeEligible = e.PrizeEligible
	}
}

func tally(stats *Stats, results []Result, uploadOnly bool) {
	stats.Submitted, stats.Uploaded, stats.Scored, stats.Failed, stats.PrizeEligible = 0, 0, 0, 0, 0
	for _, r := range results {
		if r.ResponseID != "" {
			stats.Submitted++
		}
		if r.Err != nil {
			stats.Failed++
			continue
		}
		stats.Uploaded++
		if uploadOnly {
			continue
		}
		stats.Scored++
		if r.PrizeEligible {
			stats.PrizeEligible++
		}
	}
}

func firstError(results []Result) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats, board Leaderboard) {
	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.Scored) / stats.Duration.Seconds()
	}

	log.Info(ctx, "final statistics",
		logger.Int("participants", stats.Participants),
		logger.Int("submitted", stats.Submitted),
		logger.Int("uploaded", stats.Uploaded),
		logger.Int("scored", stats.Scored),
		logger.Int("failed", stats.Failed),
		logger.Int("prizeEligible", stats.PrizeEligible),
		logger.Int("boardEntries", stats.BoardEntries),
		logger.Int("totalParticipants", board.TotalParticipants),
		logger.Int("averageScore", board.AverageScore),
		logger.String("sessionDate", board.SessionDate),
		logger.Duration("duration", stats.Duration),
		logger.Float64("scoredPerSecond", perSecond),
	)
	for _, e := range board.Top3 {
		log.Info(ctx, "top performer",
			logger.Int("rank", e.Rank),
			logger.String("name", e.Name),
			logger.Int("score", e.Score),
		)
	}
}
