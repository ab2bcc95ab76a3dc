package core

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a content-derived identifier for graph nodes.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// DocumentStatus is the lifecycle state of an uploaded document.
type DocumentStatus string

const (
	StatusUploading DocumentStatus = "uploading"
	StatusParsing   DocumentStatus = "parsing"
	StatusChunking  DocumentStatus = "chunking"
	StatusEmbedding DocumentStatus = "embedding"
	StatusStoring   DocumentStatus = "storing"
	StatusReady     DocumentStatus = "ready"
	StatusFailed    DocumentStatus = "failed"
	StatusDeleted   DocumentStatus = "deleted"
)

// Terminal reports whether no further pipeline transitions follow this status.
func (s DocumentStatus) Terminal() bool {
	return s == StatusReady || s == StatusFailed || s == StatusDeleted
}

// Stage names a step of the ingestion pipeline. Stages are finer grained
// than document statuses: entity extraction runs while the document is
// still reported as embedding.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageParsing    Stage = "parsing"
	StageChunking   Stage = "chunking"
	StageEmbedding  Stage = "embedding"
	StageExtracting Stage = "extracting"
	StageStoring    Stage = "storing"
	StageReady      Stage = "ready"
	StageFailed     Stage = "failed"
	StageCancelled  Stage = "cancelled"
)

// Progress returns the percentage reported to callers while a task sits in the stage.
func (s Stage) Progress() int {
	switch s {
	case StageQueued:
		return 0
	case StageParsing:
		return 5
	case StageChunking:
		return 15
	case StageEmbedding:
		return 30
	case StageExtracting:
		return 50
	case StageStoring:
		return 70
	case StageReady:
		return 100
	}
	return 0
}

// Project is the isolation boundary for documents, chunks and graph nodes.
type Project struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Briefing is the LLM generated overview attached to a ready document.
type Briefing struct {
	Summary     string
	Topics      []string
	Questions   []string
	GeneratedAt time.Time
}

// Document tracks one uploaded file through ingestion and deletion.
type Document struct {
	ID                 string
	ProjectID          string
	Filename           string
	Status             DocumentStatus
	FailedStage        Stage  // Set when Status is StatusFailed
	Error              string // Human readable failure message
	UploadedAt         time.Time
	UpdatedAt          time.Time
	ChunkCount         int
	CharCount          int
	ExtractionFailures int    // Chunks whose entity extraction failed
	GraphError         string // Last graph write failure, empty when the graph is in sync
	StoragePath        string
	Briefing           *Briefing
}

// Chunk is an ordered window of document text and its embedding.
type Chunk struct {
	ID        string
	DocID     string
	ProjectID string
	Ordinal   int
	Text      string
	Vector    []float32
}

// ChunkID builds the stable identifier of the ordinal-th chunk of a document.
// Ordinals are zero padded so lexical order follows document order.
func ChunkID(docID string, ordinal int) string {
	return fmt.Sprintf("%s-%05d", docID, ordinal)
}

// SplitChunkID recovers the document and ordinal from a chunk ID.
func SplitChunkID(id string) (docID string, ordinal int, ok bool) {
	i := strings.LastIndexByte(id, '-')
	if i < 1 || i == len(id)-1 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil || n < 0 {
		return "", 0, false
	}
	return id[:i], n, true
}

// Entity is a named thing the LLM found in chunk text.
type Entity struct {
	Name       string
	Type       string
	Importance int // Score from 1-10
}

// Key returns the normalized lookup key of the entity within a project.
func (e Entity) Key() string {
	return EntityKey(e.Name)
}

// EntityKey normalizes an entity name for graph lookups.
func EntityKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Relationship is a typed edge between two entities of the same chunk.
type Relationship struct {
	Source string
	Target string
	Type   string
}

// ChunkGraph holds the entities and relationships extracted from one chunk.
type ChunkGraph struct {
	ChunkID       string
	Entities      []Entity
	Relationships []Relationship
}

// Source identifies which ranking contributed a retrieval hit.
type Source string

const (
	SourceVector Source = "vector"
	SourceGraph  Source = "graph"
)

// Provenance explains how a hit was ranked.
type Provenance struct {
	Sources    []Source
	VectorRank int  // 1-based, 0 when absent from the vector ranking
	GraphRank  int  // 1-based, 0 when absent from the graph ranking
	Partial    bool // One of the rankings could not be computed
}

// SearchResult is one fused retrieval hit.
type SearchResult struct {
	Chunk      *Chunk
	Score      float64
	Provenance Provenance
}
