// Package rank orders suspected leaks by kill priority.
//
// Scoring is deterministic: the same leaks, metadata, weights, and reference
// time always produce the same ordering. Missing metadata never disqualifies
// a candidate; each unknown factor simply contributes zero.
package rank

import (
	"sort"
	"time"

	"ptywatch/internal/classify"
	"ptywatch/internal/config"
	"ptywatch/internal/procinfo"
)

// Candidate is one suspected leak with its composite score.
type Candidate struct {
	Leak classify.Leak
	// Meta is zero-valued when HasMeta is false.
	Meta    procinfo.Meta
	HasMeta bool
	Score   float64
	// Rank is the 1-based position after sorting.
	Rank int
}

// Rank scores and orders leaks, highest priority first. Ties break toward
// the lower PID so repeated runs over identical input agree byte for byte.
// The input slice is not modified.
func Rank(leaks []classify.Leak, meta map[int]procinfo.Meta, w config.RankConfig, now time.Time) []Candidate {
	candidates := make([]Candidate, 0, len(leaks))
	for _, leak := range leaks {
		m, ok := meta[leak.Record.PID]
		candidates = append(candidates, Candidate{
			Leak:    leak,
			Meta:    m,
			HasMeta: ok,
			Score:   score(leak, m, ok, w, now),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Leak.Record.PID < candidates[j].Leak.Record.PID
	})

	for i := range candidates {
		candidates[i].Rank = i + 1
	}
	return candidates
}

func score(leak classify.Leak, m procinfo.Meta, hasMeta bool, w config.RankConfig, now time.Time) float64 {
	s := w.PTYCountWeight * float64(leak.Record.PTYCount())
	s += w.RuleWeight * float64(leak.Strength)

	if !hasMeta {
		return s
	}

	if !m.Started.IsZero() {
		ageHours := now.Sub(m.Started).Hours()
		if ageHours < 0 {
			ageHours = 0
		}
		s += w.RecencyWeight / (1 + ageHours)
	}
	if m.Orphaned() {
		s += w.OrphanWeight
	}
	idle := 1 - m.CPU/100
	if idle < 0 {
		idle = 0
	}
	s += w.IdleWeight * idle
	s += w.MemoryWeight * float64(m.RSSKB) / 1024

	return s
}
