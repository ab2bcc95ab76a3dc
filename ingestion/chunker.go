package ingestion

import (
	"strings"
	"unicode"

	"github.com/poiesic/lattice/core"
)

// Default chunking parameters, in runes.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunker splits text into overlapping windows of runes.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker returns a chunker producing windows of at most size runes
// where each window starts exactly overlap runes before the previous end.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size < 1 || overlap < 0 || overlap >= size {
		return nil, ErrInvalidChunking
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split cuts text into chunks. A window that would end mid-text is pulled
// back to the last paragraph break, or failing that the last sentence end,
// found in its final quarter. Text without such boundaries yields
// ceil((L-overlap)/(size-overlap)) chunks.
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for {
		end := min(start+c.size, n)
		if end < n {
			end = c.boundary(runes, start, end)
		}
		if chunk := string(runes[start:end]); strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
		if end >= n {
			return chunks
		}
		start = end - c.overlap
	}
}

// boundary picks the cut point for the window [start, end). The cut never
// moves below start+overlap+1 so the next window always advances.
func (c *Chunker) boundary(runes []rune, start, end int) int {
	floor := max(end-c.size/4, start+c.overlap+1)
	if floor >= end {
		return end
	}
	for i := end - 1; i > floor; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}
	for i := end - 1; i > floor; i-- {
		if unicode.IsSpace(runes[i]) && isSentenceEnd(runes[i-1]) {
			return i + 1
		}
	}
	return end
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// buildChunks turns chunk texts into unembedded chunks of the document.
func buildChunks(doc *core.Document, texts []string) []*core.Chunk {
	chunks := make([]*core.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = &core.Chunk{
			ID:        core.ChunkID(doc.ID, i),
			DocID:     doc.ID,
			ProjectID: doc.ProjectID,
			Ordinal:   i,
			Text:      text,
		}
	}
	return chunks
}
