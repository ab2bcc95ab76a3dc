package ingestion

import (
	"context"
	"log/slog"
	"sync"

	"github.com/poiesic/lattice/ai"
	"github.com/poiesic/lattice/core"
	"golang.org/x/sync/semaphore"
)

// DefaultExtractConcurrency bounds concurrent extraction calls per document.
const DefaultExtractConcurrency = 4

// ExtractionResult is the outcome of entity extraction for one chunk.
// A non-nil Err means the chunk contributes nothing to the graph.
type ExtractionResult struct {
	Ordinal       int
	Entities      []core.Entity
	Relationships []core.Relationship
	Err           error
}

// extractAll runs the extractor over every chunk with at most concurrency
// calls in flight. Failures stay in their result and never stop the others.
func extractAll(ctx context.Context, extractor ai.EntityExtractor, chunks []*core.Chunk, concurrency int, logger *slog.Logger) []ExtractionResult {
	results := make([]ExtractionResult, len(chunks))
	sem := semaphore.NewWeighted(int64(max(concurrency, 1)))

	var wg sync.WaitGroup
	for i, chunk := range chunks {
		results[i].Ordinal = chunk.Ordinal
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i].Err = err
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			extraction, err := extractor.ExtractEntities(ctx, chunk.Text)
			if err != nil {
				logger.Warn("entity extraction failed", "chunk", chunk.ID, "err", err)
				results[i].Err = err
				return
			}
			if extraction == nil {
				return
			}
			results[i].Entities = toEntities(extraction.Entities)
			results[i].Relationships = toRelationships(extraction.Relationships)
		}()
	}
	wg.Wait()
	return results
}

// chunkGraphs pairs successful results with their chunks and counts failures.
func chunkGraphs(chunks []*core.Chunk, results []ExtractionResult) ([]core.ChunkGraph, int) {
	var graphs []core.ChunkGraph
	failures := 0
	for i, result := range results {
		if result.Err != nil {
			failures++
			continue
		}
		if len(result.Entities) == 0 {
			continue
		}
		graphs = append(graphs, core.ChunkGraph{
			ChunkID:       chunks[i].ID,
			Entities:      result.Entities,
			Relationships: result.Relationships,
		})
	}
	return graphs, failures
}

func toEntities(extracted []ai.ExtractedEntity) []core.Entity {
	entities := make([]core.Entity, 0, len(extracted))
	for _, e := range extracted {
		entities = append(entities, core.Entity{Name: e.Name, Type: e.Type, Importance: e.Importance})
	}
	return entities
}

func toRelationships(extracted []ai.ExtractedRelationship) []core.Relationship {
	if len(extracted) == 0 {
		return nil
	}
	relationships := make([]core.Relationship, 0, len(extracted))
	for _, r := range extracted {
		relationships = append(relationships, core.Relationship{Source: r.Source, Target: r.Target, Type: r.Type})
	}
	return relationships
}
