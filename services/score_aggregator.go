// services/score_aggregator.go
package services

import (
	"sort"

	"trivia-settlement/models"
)

// RankEntries orders paid entries into a total rank order and annotates them
// with ranks starting at 1. Ordering: score descending, ties broken by the
// earliest ScoreUpdatedAt (first to reach a score wins it), entries with no
// score last in input order. Pure: the input slice is not modified.
//
// Deterministic for a fixed snapshot of inputs and never produces duplicate
// ranks, which is what makes publish-time and claim-time winner derivation
// byte-identical.
func RankEntries(entries []models.GameEntry) []models.GameEntry {
	ranked := make([]models.GameEntry, len(entries))
	copy(ranked, entries)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		switch {
		case a.Score == nil && b.Score == nil:
			return false // stable sort keeps insertion order
		case a.Score == nil:
			return false
		case b.Score == nil:
			return true
		case *a.Score != *b.Score:
			return *a.Score > *b.Score
		}
		// Equal scores: earlier timestamp wins. A missing timestamp loses.
		switch {
		case a.ScoreUpdatedAt == nil:
			return false
		case b.ScoreUpdatedAt == nil:
			return true
		default:
			return a.ScoreUpdatedAt.Before(*b.ScoreUpdatedAt)
		}
	})

	for i := range ranked {
		rank := i + 1
		ranked[i].Rank = &rank
	}
	return ranked
}
