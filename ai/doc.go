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


// Package ai provides abstractions for the model services lattice depends on.
//
// This package defines interfaces for AI operations including text embeddings,
// entity extraction and free-form generation. Ingestion and retrieval depend
// on these abstractions rather than on concrete model clients.
//
// # Design Principles
//
// The package is designed around four interfaces:
//
//   - Embedder: Generates vector embeddings from text
//   - EntityExtractor: Extracts entities and relationships from text
//   - Generator: Completes a prompt within a token budget
//   - AIProvider: Aggregates AI services for convenient initialization
//
// # Implementation Packages
//
//   - ai/openai: Production implementation using OpenAI-compatible APIs
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// # Constructor Return Type Pattern
//
// Public constructors (openai.NewProvider, openai.NewEmbedder, etc.) return
// INTERFACE types to enforce abstraction and prevent accidental coupling to
// concrete implementations.
//
//	provider, err := openai.NewProvider(config)  // returns ai.AIProvider
//
// Test utility constructors (mock.NewMockEmbedder, mock.NewMockEntityExtractor)
// return CONCRETE types to enable test assertions and behavior injection.
//
//	mockEmbed := mock.NewMockEmbedder()
//	mockEmbed.EmbedTextsFunc = func(...) { ... }
//	count := mockEmbed.CallCount()
//
// # Model Output
//
// Chat models frequently wrap JSON in prose or code fences. CleanJSON strips
// both and repairs unquoted keys before the response is decoded.
package ai
