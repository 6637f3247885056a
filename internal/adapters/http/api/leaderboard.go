package api

import (
	"net/http"
	"strconv"

	"github.com/okian/roastboard/internal/domain/model"
	"github.com/okian/roastboard/internal/domain/ranking"
)

type leaderboardEntry struct {
	Rank          int    `json:"rank"`
	Name          string `json:"name"`
	Score         int    `json:"score"`
	Roast         string `json:"roast"`
	Timestamp     string `json:"timestamp"`
	PrizeEligible bool   `json:"prizeEligible"`
}

type leaderboardResponse struct {
	Leaderboard       []leaderboardEntry `json:"leaderboard"`
	Top3              []leaderboardEntry `json:"top3"`
	TotalParticipants int                `json:"totalParticipants"`
	AverageScore      int                `json:"averageScore"`
	SessionDate       string             `json:"sessionDate"`
	LastUpdated       string             `json:"lastUpdated"`
}

// LeaderboardHandler handles leaderboard requests.
type LeaderboardHandler struct {
	deps     LeaderboardDependencies
	maxLimit int
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps LeaderboardDependencies, maxLimit int) *LeaderboardHandler {
	return &LeaderboardHandler{
		deps:     deps,
		maxLimit: maxLimit,
	}
}

// HandleGetLeaderboard handles GET /leaderboard?sessionDate=YYYY-MM-DD&limit=N.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"
	q := ranking.Query{}

	if date := r.URL.Query().Get("sessionDate"); date != "" {
		if _, err := model.ParseSessionDate(date); err != nil {
			writeInvalid(w, "sessionDate must be formatted as YYYY-MM-DD")
			return
		}
		q.SessionDate = date
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			writeInvalid(w, "limit must be a positive integer")
			return
		}
		if n > h.maxLimit {
			writeInvalid(w, "limit must not exceed "+strconv.Itoa(h.maxLimit))
			return
		}
		q.Limit = n
	}

	board, err := h.deps.Leaderboard(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error", Wrap(op, err))
		return
	}

	w.Header().Set("Cache-Control", leaderboardCacheControl)
	writeJSON(w, http.StatusOK, leaderboardResponse{
		Leaderboard:       toEntries(board.Leaderboard),
		Top3:              toEntries(board.Top3),
		TotalParticipants: board.TotalParticipants,
		AverageScore:      board.AverageScore,
		SessionDate:       board.SessionDate,
		LastUpdated:       formatTimestamp(board.LastUpdated),
	})
}

func toEntries(in []ranking.Entry) []leaderboardEntry {
	out := make([]leaderboardEntry, len(in))
	for i, e := range in {
		out[i] = leaderboardEntry{
			Rank:          e.Rank,
			Name:          e.Name,
			Score:         e.Score,
			Roast:         e.Roast,
			Timestamp:     formatTimestamp(e.Timestamp),
			PrizeEligible: e.PrizeEligible,
		}
	}
	return out
}
