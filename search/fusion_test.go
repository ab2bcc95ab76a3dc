package search

import (
	"testing"

	"github.com/poiesic/lattice/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(fused []Fused) []string {
	out := make([]string, len(fused))
	for i, f := range fused {
		out[i] = f.ChunkID
	}
	return out
}

func TestFuseSingleRanking(t *testing.T) {
	fused := Fuse(DefaultRRFK, Ranking{Source: core.SourceVector, IDs: []string{"b", "a"}})
	require.Len(t, fused, 2)
	assert.Equal(t, []string{"b", "a"}, ids(fused))
	assert.InDelta(t, 1.0/61, fused[0].Score, 1e-12)
	assert.InDelta(t, 1.0/62, fused[1].Score, 1e-12)
	assert.Equal(t, 1, fused[0].Ranks[core.SourceVector])
	assert.Zero(t, fused[0].Ranks[core.SourceGraph])
}

func TestFuseSumsAcrossRankings(t *testing.T) {
	fused := Fuse(DefaultRRFK,
		Ranking{Source: core.SourceVector, IDs: []string{"x", "both"}},
		Ranking{Source: core.SourceGraph, IDs: []string{"y", "both"}},
	)
	require.Len(t, fused, 3)
	assert.Equal(t, "both", fused[0].ChunkID)
	assert.InDelta(t, 2.0/62, fused[0].Score, 1e-12)
	assert.Equal(t, 2, fused[0].MinRank)
	assert.Equal(t, []string{"both", "x", "y"}, ids(fused))
}

func TestFuseTieBreaking(t *testing.T) {
	// With k=0 every chunk below scores exactly 1.
	fused := Fuse(0,
		Ranking{Source: core.SourceVector, IDs: []string{"z", "a"}},
		Ranking{Source: core.SourceGraph, IDs: []string{"w", "a"}},
	)
	require.Len(t, fused, 3)
	for _, f := range fused {
		assert.Equal(t, 1.0, f.Score)
	}
	assert.Equal(t, []string{"w", "z", "a"}, ids(fused))
}

func TestFuseCountsDuplicatesOnce(t *testing.T) {
	fused := Fuse(DefaultRRFK, Ranking{Source: core.SourceVector, IDs: []string{"a", "a", "b"}})
	require.Len(t, fused, 2)
	assert.InDelta(t, 1.0/61, fused[0].Score, 1e-12)
	assert.InDelta(t, 1.0/63, fused[1].Score, 1e-12)
}

func TestFuseIsMonotonicInRank(t *testing.T) {
	others := []string{"o1", "o2", "o3", "o4", "o5"}
	previous := 0.0
	for pos := len(others); pos >= 0; pos-- {
		vector := append([]string{}, others[:pos]...)
		vector = append(vector, "target")
		vector = append(vector, others[pos:]...)

		fused := Fuse(DefaultRRFK,
			Ranking{Source: core.SourceVector, IDs: vector},
			Ranking{Source: core.SourceGraph, IDs: []string{"o1", "target"}},
		)
		var score float64
		for _, f := range fused {
			if f.ChunkID == "target" {
				score = f.Score
			}
		}
		assert.Greater(t, score, previous, "moving target to rank %d", pos+1)
		previous = score
	}
}

func TestFuseEmpty(t *testing.T) {
	assert.Empty(t, Fuse(DefaultRRFK))
	assert.Empty(t, Fuse(DefaultRRFK, Ranking{Source: core.SourceGraph}))
}

func TestProvenance(t *testing.T) {
	fused := Fuse(DefaultRRFK,
		Ranking{Source: core.SourceVector, IDs: []string{"a"}},
		Ranking{Source: core.SourceGraph, IDs: []string{"b", "a"}},
	)
	p := fused[0].provenance(false)
	assert.Equal(t, []core.Source{core.SourceVector, core.SourceGraph}, p.Sources)
	assert.Equal(t, 1, p.VectorRank)
	assert.Equal(t, 2, p.GraphRank)
	assert.False(t, p.Partial)
}
