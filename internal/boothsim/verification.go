package boothsim

import (
	"errors"
	"fmt"
	"math"
)

const (
	topN           = 3
	prizeThreshold = 80
)

// verifyBoard checks the board's internal consistency and that it agrees
// with the scores participants observed. Other visitors of the same session
// may share the board, so totals are checked as lower bounds unless the
// board holds only this run's participants.
func verifyBoard(results []Result, board Leaderboard) error {
	var errs []error

	for i, e := range board.Leaderboard {
		if e.Rank != i+1 {
			errs = append(errs, fmt.Errorf("entry %d has rank %d", i, e.Rank))
		}
		if i > 0 && e.Score > board.Leaderboard[i-1].Score {
			errs = append(errs, fmt.Errorf("rank %d score %d above rank %d score %d",
				e.Rank, e.Score, board.Leaderboard[i-1].Rank, board.Leaderboard[i-1].Score))
		}
		if e.PrizeEligible != (e.Score >= prizeThreshold) {
			errs = append(errs, fmt.Errorf("rank %d: prizeEligible %t for score %d", e.Rank, e.PrizeEligible, e.Score))
		}
	}

	wantTop := min(topN, board.TotalParticipants)
	if len(board.Top3) != wantTop {
		errs = append(errs, fmt.Errorf("top3 has %d entries, want %d", len(board.Top3), wantTop))
	}
	for i := 0; i < len(board.Top3) && i < len(board.Leaderboard); i++ {
		if board.Top3[i] != board.Leaderboard[i] {
			errs = append(errs, fmt.Errorf("top3[%d] differs from leaderboard[%d]", i, i))
		}
	}

	byName := make(map[string]Entry, len(board.Leaderboard))
	for _, e := range board.Leaderboard {
		byName[e.Name] = e
	}
	complete := len(board.Leaderboard) == board.TotalParticipants

	scored, sum := 0, 0
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		scored++
		sum += r.Score
		e, ok := byName[r.Participant.Name]
		if !ok {
			if complete {
				errs = append(errs, fmt.Errorf("%s missing from a complete board", r.Participant.Name))
			}
			continue
		}
		if e.Score != r.Score {
			errs = append(errs, fmt.Errorf("%s: board score %d, observed %d", r.Participant.Name, e.Score, r.Score))
		}
	}

	if board.TotalParticipants < scored {
		errs = append(errs, fmt.Errorf("totalParticipants %d below the %d scored participants", board.TotalParticipants, scored))
	}
	if board.TotalParticipants == scored && scored > 0 {
		want := int(math.Round(float64(sum) / float64(scored)))
		if board.AverageScore != want {
			errs = append(errs, fmt.Errorf("averageScore %d, want %d", board.AverageScore, want))
		}
	}

	return errors.Join(errs...)
}
