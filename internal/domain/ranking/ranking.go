// Package ranking computes the per-day leaderboard from completed submissions.
package ranking

import (
	"math"
	"sort"
	"time"

	"github.com/okian/roastboard/internal/domain/model"
)

// TopN is the size of the podium returned alongside every board.
const TopN = 3

// Entry is one ranked participant.
type Entry struct {
	Rank          int
	Name          string
	Score         int
	Roast         string
	Timestamp     time.Time
	PrizeEligible bool
}

// Board is a ranked view of one session date.
type Board struct {
	Leaderboard       []Entry
	Top3              []Entry
	TotalParticipants int
	AverageScore      int
	SessionDate       string
	LastUpdated       time.Time
}

// standings is the full ranked set of a session, before truncation.
type standings struct {
	entries []Entry
	average int
}

// Aggregate ranks the completed submissions of subs for sessionDate.
// Submissions of other states or dates are ignored. Equal scores keep the
// relative order of subs.
func Aggregate(subs []model.Submission, sessionDate string, limit int, now time.Time) Board {
	return rank(subs, sessionDate).board(sessionDate, limit, now)
}

func rank(subs []model.Submission, sessionDate string) standings {
	completed := make([]model.Submission, 0, len(subs))
	for _, s := range subs {
		if s.Status != model.StatusCompleted || s.Result == nil || s.SessionDate != sessionDate {
			continue
		}
		completed = append(completed, s)
	}

	sort.SliceStable(completed, func(i, j int) bool {
		return completed[i].Result.Score > completed[j].Result.Score
	})

	entries := make([]Entry, len(completed))
	sum := 0
	for i, s := range completed {
		sum += s.Result.Score
		entries[i] = Entry{
			Rank:          i + 1,
			Name:          s.ParticipantName,
			Score:         s.Result.Score,
			Roast:         s.Result.Commentary,
			Timestamp:     s.CreatedAt,
			PrizeEligible: s.Result.PrizeEligible,
		}
	}

	st := standings{entries: entries}
	if len(entries) > 0 {
		st.average = int(math.Round(float64(sum) / float64(len(entries))))
	}
	return st
}

func (st standings) board(sessionDate string, limit int, now time.Time) Board {
	n := len(st.entries)
	shown := n
	if limit >= 0 && limit < shown {
		shown = limit
	}
	top := n
	if top > TopN {
		top = TopN
	}

	b := Board{
		Leaderboard:       make([]Entry, shown),
		Top3:              make([]Entry, top),
		TotalParticipants: n,
		AverageScore:      st.average,
		SessionDate:       sessionDate,
		LastUpdated:       now.UTC(),
	}
	copy(b.Leaderboard, st.entries[:shown])
	copy(b.Top3, st.entries[:top])
	return b
}
