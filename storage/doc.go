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

// Package storage provides the storage abstraction layer for lattice.
//
// This package defines the store contracts that decouple the ingestion pipeline
// and the retriever from any particular backend. A deployment pairs one
// VectorStore with one GraphStore and keeps document metadata in a
// DocumentRepository and source files in a FileStore.
//
// # Constructor Return Type Pattern
//
// Public constructors return the interface, not the concrete type:
//
//	vectors, err := badger.NewVectorStore(backend)  // returns storage.VectorStore
//
// Internal package constructors may return concrete types since they're only
// used within the implementation package.
//
// # Architecture
//
//   - VectorStore: chunk embeddings with project and document filters
//   - GraphStore: entities, mentions and relationships ranked from seed entities
//   - DocumentRepository / ProjectRepository: metadata records
//   - FileStore: uploaded source files
//
// Implementations live in subpackages: badger (embedded, all contracts),
// pgvector (PostgreSQL vector store), sqlite (graph store) and files (local disk).
//
// # Project Isolation
//
// Every read takes a Filter and every delete takes a DocScope. Both require a
// project ID and implementations reject calls without one with an error
// wrapping core.ErrValidation.
//
// # Thread Safety
//
// All implementations must be thread-safe and support concurrent access from
// multiple goroutines.
package storage
