package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/lattice/ai"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
)

// Briefing limits.
const (
	DefaultBriefingBudget = 8000 // characters of document text sent to the model
	briefingMaxTokens     = 1024
	maxBriefingTopics     = 7
	maxBriefingQuestions  = 3
)

// ErrEmptyBriefing is returned when the model produced no summary.
var ErrEmptyBriefing = errors.New("briefing has no summary")

const briefingPromptTemplate = `Read the beginning of a document and write a short briefing about it.

Output ONLY valid JSON of the form:
{"summary": "...", "topics": ["..."], "questions": ["..."]}

Rules:
- "summary" is two to four sentences describing what the document covers.
- "topics" lists 5 to 7 short noun phrases naming the main subjects.
- "questions" lists exactly 3 questions a reader could answer from the document.
- Do not include any text outside the JSON object.

Filename: %s

Document:
%s`

type briefingResponse struct {
	Summary   string   `json:"summary"`
	Topics    []string `json:"topics"`
	Questions []string `json:"questions"`
}

// briefer generates document briefings after ingestion finishes.
type briefer struct {
	generator ai.Generator
	documents storage.DocumentRepository
	locks     *Locks
	budget    int
	now       func() time.Time
	logger    *slog.Logger
}

// excerpt truncates text to the first budget characters.
func excerpt(text string, budget int) string {
	runes := []rune(text)
	if budget > 0 && len(runes) > budget {
		runes = runes[:budget]
	}
	return string(runes)
}

func buildBriefingPrompt(filename, text string) string {
	return fmt.Sprintf(briefingPromptTemplate, filename, text)
}

// generate asks the model for a briefing of text.
func (b *briefer) generate(ctx context.Context, filename, text string) (*core.Briefing, error) {
	prompt := buildBriefingPrompt(filename, excerpt(text, b.budget))
	out, err := b.generator.Generate(ctx, prompt, briefingMaxTokens)
	if err != nil {
		return nil, err
	}

	var resp briefingResponse
	if err := json.Unmarshal([]byte(ai.CleanJSON(out)), &resp); err != nil {
		return nil, fmt.Errorf("parsing briefing: %w", err)
	}
	summary := strings.TrimSpace(resp.Summary)
	if summary == "" {
		return nil, ErrEmptyBriefing
	}
	return &core.Briefing{
		Summary:     summary,
		Topics:      trimList(resp.Topics, maxBriefingTopics),
		Questions:   trimList(resp.Questions, maxBriefingQuestions),
		GeneratedAt: b.now(),
	}, nil
}

// attach generates and stores the briefing of a ready document. Failures
// are logged and never change the document status.
func (b *briefer) attach(ctx context.Context, projectID, docID, filename, text string) {
	logger := b.logger.With("doc", docID)
	briefing, err := b.generate(ctx, filename, text)
	if err != nil {
		logger.Warn("briefing generation failed", "err", err)
		return
	}

	unlock := b.locks.Lock(docID)
	defer unlock()
	doc, err := b.documents.Get(ctx, projectID, docID)
	if err != nil {
		logger.Warn("loading document for briefing", "err", err)
		return
	}
	if doc.Status != core.StatusReady {
		logger.Debug("document no longer ready, dropping briefing", "status", doc.Status)
		return
	}
	doc.Briefing = briefing
	if err := b.documents.Update(ctx, doc); err != nil {
		logger.Warn("storing briefing", "err", err)
		return
	}
	logger.Debug("briefing stored", "topics", len(briefing.Topics), "questions", len(briefing.Questions))
}

// trimList drops blank entries and keeps at most limit items.
func trimList(items []string, limit int) []string {
	out := make([]string, 0, min(len(items), limit))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
		if len(out) == limit {
			break
		}
	}
	return out
}
