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

// Package search provides hybrid vector and graph retrieval.
//
// The Retriever type runs two rankings concurrently:
//   - Vector search using the query embedding
//   - Graph search seeded with entities extracted from the query
//
// The rankings are combined with reciprocal rank fusion. When one ranking
// fails the other is used alone and the results are flagged as partial.
package search
