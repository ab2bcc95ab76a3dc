// Package ingestion turns uploaded documents into searchable chunks.
//
// The Pipeline type accepts uploads and processes them in the background:
//   - Parsing PDF, Markdown and plain text into text
//   - Chunking the text into overlapping windows
//   - Embedding every chunk
//   - Extracting entities and relationships per chunk, best effort
//   - Persisting chunks to the vector store and entities to the graph store
//
// Callers poll the Task returned by Ingest. Briefings are generated once a
// document is ready and never affect its status.
//
// The Deleter removes a document from every store in a fixed order and
// shares the pipeline's per-document locks so deletion never interleaves
// with an in-flight write.
package ingestion
