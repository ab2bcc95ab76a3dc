package api

import (
	"time"

	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/ingestion"
)

// Response is the envelope of every successful reply.
type Response struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse is the body of every failed reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func success(message string, data any) Response {
	return Response{Message: message, Data: data}
}

type CreateProjectRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

type SearchRequest struct {
	Query     string   `json:"query" validate:"required,max=4000"`
	SourceIDs []string `json:"source_ids" validate:"omitempty,dive,required"`
	TopK      int      `json:"top_k" validate:"min=0,max=100"`
}

type ProjectResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func toProject(p *core.Project) ProjectResponse {
	return ProjectResponse{ID: p.ID, Name: p.Name, CreatedAt: p.CreatedAt}
}

type BriefingResponse struct {
	Summary     string    `json:"summary"`
	Topics      []string  `json:"topics"`
	Questions   []string  `json:"questions"`
	GeneratedAt time.Time `json:"generated_at"`
}

type DocumentResponse struct {
	ID                 string            `json:"id"`
	ProjectID          string            `json:"project_id"`
	Filename           string            `json:"filename"`
	Status             string            `json:"status"`
	FailedStage        string            `json:"failed_stage,omitempty"`
	Error              string            `json:"error,omitempty"`
	UploadedAt         time.Time         `json:"uploaded_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	ChunkCount         int               `json:"chunk_count"`
	CharCount          int               `json:"char_count"`
	ExtractionFailures int               `json:"extraction_failures"`
	GraphError         string            `json:"graph_error,omitempty"`
	Briefing           *BriefingResponse `json:"briefing,omitempty"`
}

func toDocument(d *core.Document) DocumentResponse {
	out := DocumentResponse{
		ID:                 d.ID,
		ProjectID:          d.ProjectID,
		Filename:           d.Filename,
		Status:             string(d.Status),
		FailedStage:        string(d.FailedStage),
		Error:              d.Error,
		UploadedAt:         d.UploadedAt,
		UpdatedAt:          d.UpdatedAt,
		ChunkCount:         d.ChunkCount,
		CharCount:          d.CharCount,
		ExtractionFailures: d.ExtractionFailures,
		GraphError:         d.GraphError,
	}
	if b := d.Briefing; b != nil {
		out.Briefing = &BriefingResponse{
			Summary:     b.Summary,
			Topics:      b.Topics,
			Questions:   b.Questions,
			GeneratedAt: b.GeneratedAt,
		}
	}
	return out
}

type TaskResponse struct {
	TaskID          string    `json:"task_id"`
	DocID           string    `json:"doc_id"`
	ProjectID       string    `json:"project_id"`
	Status          string    `json:"status,omitempty"`
	Stage           string    `json:"stage,omitempty"`
	ProgressPercent int       `json:"progress_percent"`
	Error           string    `json:"error,omitempty"`
	UpdatedAt       time.Time `json:"updated_at,omitzero"`
}

func toTaskStatus(s ingestion.TaskStatus) TaskResponse {
	return TaskResponse{
		TaskID:          s.TaskID,
		DocID:           s.DocID,
		ProjectID:       s.ProjectID,
		Status:          string(s.Status),
		Stage:           string(s.Stage),
		ProgressPercent: s.ProgressPercent,
		Error:           s.Error,
		UpdatedAt:       s.UpdatedAt,
	}
}

type ProvenanceResponse struct {
	Sources    []string `json:"sources"`
	VectorRank int      `json:"vector_rank,omitempty"`
	GraphRank  int      `json:"graph_rank,omitempty"`
	Partial    bool     `json:"partial"`
}

type HitResponse struct {
	ChunkID    string             `json:"chunk_id"`
	DocID      string             `json:"doc_id"`
	Ordinal    int                `json:"ordinal"`
	Text       string             `json:"text"`
	Score      float64            `json:"score"`
	Provenance ProvenanceResponse `json:"provenance"`
}

type SearchResponse struct {
	Hits     []HitResponse `json:"hits"`
	Degraded []string      `json:"degraded,omitempty"`
}

func toHit(r *core.SearchResult) HitResponse {
	sources := make([]string, len(r.Provenance.Sources))
	for i, s := range r.Provenance.Sources {
		sources[i] = string(s)
	}
	return HitResponse{
		ChunkID: r.Chunk.ID,
		DocID:   r.Chunk.DocID,
		Ordinal: r.Chunk.Ordinal,
		Text:    r.Chunk.Text,
		Score:   r.Score,
		Provenance: ProvenanceResponse{
			Sources:    sources,
			VectorRank: r.Provenance.VectorRank,
			GraphRank:  r.Provenance.GraphRank,
			Partial:    r.Provenance.Partial,
		},
	}
}

type DeleteResponse struct {
	DocID          string `json:"doc_id"`
	VectorsRemoved int    `json:"vectors_removed"`
	GraphRemoved   int    `json:"graph_removed"`
	FileRemoved    bool   `json:"file_removed"`
	Warning        string `json:"warning,omitempty"`
}

type BreakerResponse struct {
	Dependency          string    `json:"dependency"`
	State               string    `json:"state"`
	ConsecutiveFailures uint32    `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitzero"`
}

type PoolResponse struct {
	Name   string `json:"name"`
	Max    int32  `json:"max"`
	Total  int32  `json:"total"`
	Leased int32  `json:"leased"`
	Idle   int32  `json:"idle"`
}

type HealthResponse struct {
	Healthy  bool              `json:"healthy"`
	Breakers []BreakerResponse `json:"breakers"`
	Pools    []PoolResponse    `json:"pools"`
}
