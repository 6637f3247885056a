package repository

import (
	"sort"

	"github.com/okian/roastboard/internal/domain/model"
)

// sortBySessionRank orders subs by score desc, then creation asc.
// Submissions without a result rank below every scored one.
func sortBySessionRank(subs []model.Submission) {
	score := func(s model.Submission) int {
		if s.Result == nil {
			return -1
		}
		return s.Result.Score
	}
	sort.SliceStable(subs, func(i, j int) bool {
		si, sj := score(subs[i]), score(subs[j])
		if si != sj {
			return si > sj
		}
		return subs[i].CreatedAtMillis < subs[j].CreatedAtMillis
	})
}
