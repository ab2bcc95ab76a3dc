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

package openai

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"

	"github.com/poiesic/lattice/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// maxParseAttempts bounds how often a malformed JSON answer is regenerated.
// Transport errors are never retried here.
const maxParseAttempts = 3

// EntityExtractor implements ai.EntityExtractor using OpenAI-compatible chat APIs.
type EntityExtractor struct {
	client        llms.Model
	minImportance int
	logger        *slog.Logger
}

// entity and relationship match the structure expected from the LLM.
type entity struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Importance int    `json:"importance"`
}

type relationship struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// analysis is the wrapper structure for the LLM's JSON response.
type analysis struct {
	Entities      []entity       `json:"entities"`
	Relationships []relationship `json:"relationships"`
}

// newEntityExtractor is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newEntityExtractor(config *ai.Config) (*EntityExtractor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := newChatClient(config)
	if err != nil {
		return nil, err
	}

	return &EntityExtractor{
		client:        client,
		minImportance: config.MinImportance,
		logger:        slog.Default().With("component", "openai-extractor"),
	}, nil
}

func newChatClient(config *ai.Config) (*openai.LLM, error) {
	return openai.New(
		openai.WithBaseURL(config.ChatHost),
		openai.WithToken(config.APIKey),
		openai.WithModel(config.ChatModel),
	)
}

// NewEntityExtractor creates a new entity extractor using the provided configuration.
//
// Returns ai.EntityExtractor interface to enforce abstraction.
func NewEntityExtractor(config *ai.Config) (ai.EntityExtractor, error) {
	return newEntityExtractor(config)
}

// ExtractEntities extracts entities and relationships from text using an LLM.
// Entities below the minimum importance are dropped, as are relationships
// whose endpoints were dropped.
func (e *EntityExtractor) ExtractEntities(ctx context.Context, text string) (*ai.Extraction, error) {
	text = scrubString(text)
	if text == "" {
		return &ai.Extraction{}, nil
	}

	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(buildExtractionPrompt())},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(text)},
		},
	}

	var result analysis
	var lastErr error
	for attempt := 0; attempt < maxParseAttempts; attempt++ {
		response, err := e.client.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			e.logger.Error("failed to generate content", "attempt", attempt+1, "err", err)
			return nil, err
		}

		if len(response.Choices) < 1 {
			e.logger.Debug("no choices returned from model")
			return &ai.Extraction{}, nil
		}

		responseText := ai.CleanJSON(response.Choices[0].Content)
		if err := json.Unmarshal([]byte(responseText), &result); err != nil {
			lastErr = err
			e.logger.Warn("error parsing extraction response",
				"attempt", attempt+1,
				"response", responseText,
				"err", err)
			continue
		}

		lastErr = nil
		break
	}

	if lastErr != nil {
		e.logger.Error("failed to parse extraction response after retries", "err", lastErr)
		return nil, lastErr
	}

	return e.filter(result), nil
}

func (e *EntityExtractor) filter(result analysis) *ai.Extraction {
	kept := make(map[string]bool, len(result.Entities))
	extraction := &ai.Extraction{
		Entities: make([]ai.ExtractedEntity, 0, len(result.Entities)),
	}
	for _, ent := range result.Entities {
		name := strings.ToLower(strings.TrimSpace(ent.Name))
		if name == "" || ent.Importance < e.minImportance {
			continue
		}
		kept[name] = true
		extraction.Entities = append(extraction.Entities, ai.ExtractedEntity{
			Name:       name,
			Type:       strings.ReplaceAll(strings.TrimSpace(ent.Type), " ", "_"),
			Importance: ent.Importance,
		})
	}

	slices.SortFunc(extraction.Entities, func(a, b ai.ExtractedEntity) int {
		return b.Importance - a.Importance
	})

	for _, rel := range result.Relationships {
		source := strings.ToLower(strings.TrimSpace(rel.Source))
		target := strings.ToLower(strings.TrimSpace(rel.Target))
		if !kept[source] || !kept[target] || source == target {
			continue
		}
		extraction.Relationships = append(extraction.Relationships, ai.ExtractedRelationship{
			Source: source,
			Target: target,
			Type:   strings.ReplaceAll(strings.TrimSpace(rel.Type), " ", "_"),
		})
	}

	e.logger.Debug("extracted entities",
		"total", len(result.Entities),
		"filtered", len(extraction.Entities),
		"relationships", len(extraction.Relationships))
	return extraction
}
