package storage

import (
	"cmp"
	"slices"

	"github.com/poiesic/lattice/core"
)

// HopDiscount scales the importance of entities reached through one
// relationship from a seed.
const HopDiscount = 0.5

// MentionWeight is the contribution of one mention to a chunk's graph score.
// Mentions without an importance still count once.
func MentionWeight(importance int, hop bool) float64 {
	w := float64(max(importance, 1))
	if hop {
		w *= HopDiscount
	}
	return w
}

// SeedKeys normalizes and deduplicates seed entity names.
func SeedKeys(seeds []string) []string {
	keys := make([]string, 0, len(seeds))
	seen := make(map[string]bool, len(seeds))
	for _, seed := range seeds {
		key := core.EntityKey(seed)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys
}

// RankGraphScores orders chunk scores descending with ties broken by chunk
// ID and keeps at most limit entries.
func RankGraphScores(scores map[string]float64, limit int) []GraphMatch {
	if limit <= 0 {
		return []GraphMatch{}
	}
	matches := make([]GraphMatch, 0, len(scores))
	for id, score := range scores {
		matches = append(matches, GraphMatch{ChunkID: id, Score: score})
	}
	slices.SortFunc(matches, func(a, b GraphMatch) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		return cmp.Compare(a.ChunkID, b.ChunkID)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
