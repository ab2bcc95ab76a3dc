package search

import (
	"slices"
	"strings"

	"github.com/poiesic/lattice/core"
)

// DefaultRRFK is the reciprocal rank fusion constant.
const DefaultRRFK = 60

// Ranking is one ordered list of chunk IDs, best first.
type Ranking struct {
	Source core.Source
	IDs    []string
}

// Fused is a chunk's combined position across rankings.
type Fused struct {
	ChunkID string
	Score   float64
	Ranks   map[core.Source]int // 1-based rank per contributing source
	MinRank int
}

// Fuse combines rankings with reciprocal rank fusion: a chunk scores
// the sum of 1/(k+rank) over every ranking it appears in. Results are
// ordered by score, then by best rank, then by chunk ID. A chunk listed
// twice in one ranking counts at its first position only.
func Fuse(k int, rankings ...Ranking) []Fused {
	if k < 0 {
		k = DefaultRRFK
	}
	byID := make(map[string]*Fused)
	for _, ranking := range rankings {
		for i, id := range ranking.IDs {
			rank := i + 1
			f, ok := byID[id]
			if !ok {
				f = &Fused{ChunkID: id, Ranks: make(map[core.Source]int, len(rankings))}
				byID[id] = f
			}
			if _, seen := f.Ranks[ranking.Source]; seen {
				continue
			}
			f.Ranks[ranking.Source] = rank
			f.Score += 1 / float64(k+rank)
			if f.MinRank == 0 || rank < f.MinRank {
				f.MinRank = rank
			}
		}
	}

	fused := make([]Fused, 0, len(byID))
	for _, f := range byID {
		fused = append(fused, *f)
	}
	slices.SortFunc(fused, func(a, b Fused) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		case a.MinRank != b.MinRank:
			return a.MinRank - b.MinRank
		}
		return strings.Compare(a.ChunkID, b.ChunkID)
	})
	return fused
}

// provenance describes how a fused chunk was ranked.
func (f Fused) provenance(partial bool) core.Provenance {
	p := core.Provenance{
		VectorRank: f.Ranks[core.SourceVector],
		GraphRank:  f.Ranks[core.SourceGraph],
		Partial:    partial,
	}
	if p.VectorRank > 0 {
		p.Sources = append(p.Sources, core.SourceVector)
	}
	if p.GraphRank > 0 {
		p.Sources = append(p.Sources, core.SourceGraph)
	}
	return p
}
