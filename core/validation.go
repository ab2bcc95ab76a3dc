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

package core

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SupportedExtensions lists the file extensions the parser understands.
var SupportedExtensions = []string{".pdf", ".md", ".markdown", ".txt"}

// ValidateProject validates a Project according to domain rules.
//
// Validation rules:
//   - ID must not be empty
//   - Name must not be empty
func ValidateProject(project *Project) error {
	if project == nil {
		return fmt.Errorf("%w: project is nil", ErrInvalidProject)
	}
	if project.ID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidProject, ErrProjectRequired)
	}
	if strings.TrimSpace(project.Name) == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidProject)
	}
	return nil
}

// ValidateDocument validates a Document according to domain rules.
//
// Validation rules:
//   - ID and ProjectID must not be empty
//   - Filename must carry a supported extension
//
// NOT validated (populated by the pipeline):
//   - ChunkCount, CharCount, Briefing
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}
	if doc.ID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrDocumentRequired)
	}
	if doc.ProjectID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrProjectRequired)
	}
	return ValidateFilename(doc.Filename)
}

// ValidateChunk validates a Chunk before it is written to a vector store.
// Every chunk must carry both its project and document.
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}
	if chunk.ID == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidChunk)
	}
	if chunk.ProjectID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrProjectRequired)
	}
	if chunk.DocID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrDocumentRequired)
	}
	if len(chunk.Vector) == 0 {
		return fmt.Errorf("%w: vector cannot be empty", ErrInvalidChunk)
	}
	return nil
}

// ValidateFilename checks that the file extension is one the parser supports.
func ValidateFilename(filename string) error {
	if strings.TrimSpace(filename) == "" {
		return fmt.Errorf("%w: filename cannot be empty", ErrValidation)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	for _, supported := range SupportedExtensions {
		if ext == supported {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
}
