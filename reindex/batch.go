package reindex

import (
	"context"
	"fmt"

	"github.com/poiesic/lattice/ai"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
)

// batchProcessor re-embeds one batch of chunks and writes them back.
type batchProcessor struct {
	vectors   storage.VectorStore
	embedder  ai.Embedder
	dimension int
}

// process embeds the chunk texts, normalizes the vectors and upserts the
// chunks. A batch is written only when every vector in it is valid.
func (bp *batchProcessor) process(ctx context.Context, chunks []*core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	embeddings, err := bp.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding batch: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: expected %d, got %d", len(chunks), len(embeddings))
	}

	updated := make([]*core.Chunk, len(chunks))
	for i, chunk := range chunks {
		if bp.dimension > 0 && len(embeddings[i]) != bp.dimension {
			return fmt.Errorf("%w: chunk %s got %d, want %d",
				core.ErrDimensionMismatch, chunk.ID, len(embeddings[i]), bp.dimension)
		}
		next := *chunk
		next.Vector = core.NormalizeVector(embeddings[i])
		updated[i] = &next
	}

	if err := bp.vectors.Upsert(ctx, updated...); err != nil {
		return fmt.Errorf("upserting batch: %w", err)
	}
	return nil
}

// batches splits chunks into consecutive slices of at most size.
func batches(chunks []*core.Chunk, size int) [][]*core.Chunk {
	out := make([][]*core.Chunk, 0, (len(chunks)+size-1)/size)
	for start := 0; start < len(chunks); start += size {
		out = append(out, chunks[start:min(start+size, len(chunks))])
	}
	return out
}
