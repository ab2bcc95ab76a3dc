// Package reindex re-embeds the stored chunks of a project, typically after
// the embedding model changed.
//
// Chunks are read back from the vector store, embedded again in batches,
// normalized to unit length and upserted in place. Chunk text, ordinals and
// graph records are left untouched.
package reindex
