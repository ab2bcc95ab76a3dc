// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reindex

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/lattice/ai"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
	"github.com/sourcegraph/conc/pool"
)

// Config holds configuration for a reindex run.
type Config struct {
	// BatchSize is the number of chunks embedded per call
	BatchSize int

	// Concurrency is the number of batches in flight
	Concurrency int

	// ReportInterval is how often to report progress (number of chunks)
	ReportInterval int

	// Dimension is the expected vector width, 0 skips the check
	Dimension int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      32,
		Concurrency:    2,
		ReportInterval: 100,
	}
}

// Report summarizes a finished run.
type Report struct {
	ProjectID string
	Chunks    int
	Batches   int
	Elapsed   time.Duration
}

// Reindexer re-embeds the chunks of a project.
type Reindexer struct {
	vectors  storage.VectorStore
	embedder ai.Embedder
	config   *Config
	progress io.Writer
	logger   *slog.Logger
}

// NewReindexer creates a new reindexer.
// progress: where to write progress output, typically os.Stderr; nil discards it
func NewReindexer(vectors storage.VectorStore, embedder ai.Embedder, config *Config, progress io.Writer, logger *slog.Logger) (*Reindexer, error) {
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize < 1 || config.Concurrency < 1 {
		return nil, fmt.Errorf("%w: batch size and concurrency must be positive", core.ErrValidation)
	}
	if progress == nil {
		progress = io.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Reindexer{
		vectors:  vectors,
		embedder: embedder,
		config:   config,
		progress: progress,
		logger:   logger.With("component", "reindexer"),
	}, nil
}

// Run re-embeds every chunk of the project, optionally restricted to docIDs.
// The first failing batch cancels the batches still queued; batches already
// written keep their new vectors.
func (r *Reindexer) Run(ctx context.Context, projectID string, docIDs ...string) (*Report, error) {
	filter := storage.Filter{ProjectID: projectID, DocIDs: docIDs}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	logger := r.logger.With("project", projectID)

	chunks, err := r.vectors.Scan(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to scan chunks: %w", err)
	}

	report := &Report{ProjectID: projectID, Chunks: len(chunks)}
	if len(chunks) == 0 {
		fmt.Fprintf(r.progress, "No chunks found in project %s\n", projectID)
		return report, nil
	}

	work := batches(chunks, r.config.BatchSize)
	report.Batches = len(work)
	fmt.Fprintf(r.progress, "Starting reindex of %d chunks (batch size: %d)\n",
		len(chunks), r.config.BatchSize)
	logger.Info("reindex started", "chunks", len(chunks), "batches", len(work))

	tracker := NewProgressTracker(r.progress, len(chunks), r.config.ReportInterval)
	tracker.Start()

	processor := &batchProcessor{vectors: r.vectors, embedder: r.embedder, dimension: r.config.Dimension}
	p := pool.New().
		WithContext(ctx).
		WithMaxGoroutines(r.config.Concurrency).
		WithCancelOnError().
		WithFirstError()
	for _, batch := range work {
		p.Go(func(ctx context.Context) error {
			if err := processor.process(ctx, batch); err != nil {
				return err
			}
			tracker.Increment(len(batch))
			return nil
		})
	}
	err = p.Wait()
	tracker.Finish()
	report.Elapsed = tracker.Elapsed()

	if err != nil {
		logger.Error("reindex failed", "done", tracker.Current(), "err", err)
		return report, fmt.Errorf("failed to process batch: %w", err)
	}

	fmt.Fprintf(r.progress, "Reindex complete. Processed %d chunks in %v\n",
		len(chunks), report.Elapsed.Round(time.Millisecond))
	logger.Info("reindex finished", "chunks", len(chunks), "elapsed", report.Elapsed)
	return report, nil
}
