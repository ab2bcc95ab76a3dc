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

package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
)

// TaskCanceller stops in-flight ingestion of a document.
type TaskCanceller interface {
	CancelDocument(docID string) int
}

// DeleteResult reports what a deletion removed.
type DeleteResult struct {
	DocID          string
	VectorsRemoved int
	GraphRemoved   int
	FileRemoved    bool
}

// Deleter removes a document from every store.
//
// The vector records go first and are verified gone before the graph
// records are touched; the source file is removed last. A document whose
// deletion stopped part way can be deleted again.
type Deleter struct {
	stores    Stores
	locks     *Locks
	canceller TaskCanceller
	logger    *slog.Logger
}

// NewDeleter creates a deleter. locks should be shared with the pipeline
// writing the same stores; nil creates a private table. canceller may be nil.
func NewDeleter(stores Stores, locks *Locks, canceller TaskCanceller, logger *slog.Logger) (*Deleter, error) {
	if err := stores.validate(); err != nil {
		return nil, err
	}
	if locks == nil {
		locks = NewLocks()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deleter{
		stores:    stores,
		locks:     locks,
		canceller: canceller,
		logger:    logger.With("component", "deleter"),
	}, nil
}

// Delete runs the deletion protocol for one document:
//
//  1. delete the document's vector records
//  2. verify none remain, else fail with core.ErrConsistency and keep the file
//  3. delete the document's graph records
//  4. delete the source file
//
// The document then becomes a tombstone with status deleted. When only the
// file could not be removed, the tombstone is still written and the error
// wraps core.ErrOrphanedFile.
func (d *Deleter) Delete(ctx context.Context, projectID, docID string) (*DeleteResult, error) {
	scope := storage.DocScope{ProjectID: projectID, DocID: docID}
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	logger := d.logger.With("project", projectID, "doc", docID)

	if d.canceller != nil {
		if n := d.canceller.CancelDocument(docID); n > 0 {
			logger.Info("cancelled in-flight ingestion", "tasks", n)
		}
	}

	unlock := d.locks.Lock(docID)
	defer unlock()

	doc, err := d.stores.Documents.Get(ctx, projectID, docID)
	if err != nil {
		return nil, err
	}
	result := &DeleteResult{DocID: docID}
	if doc.Status == core.StatusDeleted {
		return result, nil
	}

	result.VectorsRemoved, err = d.stores.Vectors.Delete(ctx, scope)
	if err != nil {
		return result, fmt.Errorf("deleting vectors: %w", err)
	}
	remaining, err := d.stores.Vectors.Count(ctx, scope.Filter())
	if err != nil {
		return result, fmt.Errorf("verifying vector deletion: %w", err)
	}
	if remaining > 0 {
		logger.Error("vector records survived deletion", "remaining", remaining)
		return result, fmt.Errorf("%w: %d vector records remain for document %s", core.ErrConsistency, remaining, docID)
	}

	result.GraphRemoved, err = d.stores.Graph.Delete(ctx, scope)
	if err != nil {
		return result, fmt.Errorf("deleting graph records: %w", err)
	}

	var fileErr error
	if doc.StoragePath != "" {
		if err := d.stores.Files.Delete(ctx, doc.StoragePath); err != nil {
			logger.Error("source file orphaned", "path", doc.StoragePath, "err", err)
			fileErr = fmt.Errorf("%w: %s: %w", core.ErrOrphanedFile, doc.StoragePath, err)
		} else {
			result.FileRemoved = true
		}
	}

	doc.Status = core.StatusDeleted
	doc.Briefing = nil
	doc.ChunkCount = 0
	if err := d.stores.Documents.Update(ctx, doc); err != nil {
		return result, fmt.Errorf("writing tombstone: %w", err)
	}

	logger.Info("document deleted",
		"vectors", result.VectorsRemoved,
		"graph", result.GraphRemoved,
		"file", result.FileRemoved)
	return result, fileErr
}
