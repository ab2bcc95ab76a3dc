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
	"errors"
	"fmt"
)

// Error taxonomy shared by every package. Callers match with errors.Is.
var (
	// ErrValidation indicates bad caller input.
	ErrValidation = errors.New("validation error")

	// ErrIngestion indicates a pipeline stage failed.
	ErrIngestion = errors.New("ingestion error")

	// ErrConsistency indicates the deletion protocol found records left behind.
	ErrConsistency = errors.New("consistency error")

	// ErrCircuitOpen indicates a dependency is presumed down and the call was not attempted.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrPoolExhausted indicates no connection became available before the acquire timeout.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrRateLimited indicates a token bucket refused the request.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrLLMService indicates the language or embedding model failed.
	ErrLLMService = errors.New("llm service error")
)

// Specific failures. Each wraps one of the taxonomy errors above.
var (
	ErrProjectRequired   = fmt.Errorf("%w: project id is required", ErrValidation)
	ErrDocumentRequired  = fmt.Errorf("%w: document id is required", ErrValidation)
	ErrEmptyContent      = fmt.Errorf("%w: content cannot be empty", ErrValidation)
	ErrEmptyQuery        = fmt.Errorf("%w: query cannot be empty", ErrValidation)
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported file format", ErrValidation)
	ErrInvalidDocument   = fmt.Errorf("%w: invalid document", ErrValidation)
	ErrInvalidChunk      = fmt.Errorf("%w: invalid chunk", ErrValidation)
	ErrInvalidProject    = fmt.Errorf("%w: invalid project", ErrValidation)

	// ErrDimensionMismatch is fatal for the document being ingested.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrOrphanedFile indicates indexes were purged but the source file could not be removed.
	ErrOrphanedFile = errors.New("source file orphaned")

	// ErrInvalidLength indicates an encoded slice carried a negative length.
	ErrInvalidLength = errors.New("invalid encoded length")
)

// StageError records which ingestion stage failed for a document.
type StageError struct {
	Stage Stage
	DocID string
	Err   error
}

// NewStageError wraps err as a failure of stage for the document.
func NewStageError(stage Stage, docID string, err error) *StageError {
	return &StageError{Stage: stage, DocID: docID, Err: err}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("ingestion of %s failed at %s: %v", e.DocID, e.Stage, e.Err)
}

// Unwrap exposes both ErrIngestion and the underlying cause.
func (e *StageError) Unwrap() []error {
	return []error{ErrIngestion, e.Err}
}
