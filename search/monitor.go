package search

import (
	"github.com/poiesic/lattice/storage"
)

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
// Hooks are called from the goroutine running Search, in order.
type SearchMonitor interface {
	Start(query Query)
	AfterSeedExtraction(seeds []string, fromModel bool)
	AfterVectorSearch(matches []storage.VectorMatch, err error)
	AfterGraphSearch(matches []storage.GraphMatch, err error)
	AfterFusion(fused []Fused)
	Finish(results *Results)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ Query)                                      {}
func (n *noopMonitor) AfterSeedExtraction(_ []string, _ bool)             {}
func (n *noopMonitor) AfterVectorSearch(_ []storage.VectorMatch, _ error) {}
func (n *noopMonitor) AfterGraphSearch(_ []storage.GraphMatch, _ error)   {}
func (n *noopMonitor) AfterFusion(_ []Fused)                              {}
func (n *noopMonitor) Finish(_ *Results)                                  {}
