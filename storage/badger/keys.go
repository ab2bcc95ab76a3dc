package badger

import (
	"encoding/binary"

	"github.com/poiesic/lattice/core"
)

// Key prefixes for different data types. Every string identifier is hashed
// to a fixed-width ID so composite keys can be split by offset.
const (
	projectPrefix    = "prj:"
	documentPrefix   = "doc:"
	chunkPrefix      = "vec:"
	chunkDocPrefix   = "vecd:"
	mentionPrefix    = "grm:"
	mentionDocPrefix = "grmd:"
	edgePrefix       = "gre:"
	edgeDocPrefix    = "gred:"
	idWidth          = 8
)

// makeKey appends the hashed parts to prefix in BigEndian order so that
// lexicographic sort groups keys by their leading parts.
func makeKey(prefix string, parts ...string) []byte {
	buf := make([]byte, len(prefix)+idWidth*len(parts))
	offset := copy(buf, prefix)
	for _, part := range parts {
		binary.BigEndian.PutUint64(buf[offset:], uint64(core.IDFromContent(part)))
		offset += idWidth
	}
	return buf
}

// keyPart returns the raw bytes of the i-th hashed part of key.
func keyPart(prefix string, key []byte, i int) []byte {
	start := len(prefix) + i*idWidth
	return key[start : start+idWidth]
}

// joinKey builds a key from a prefix and already hashed parts.
func joinKey(prefix string, parts ...[]byte) []byte {
	buf := make([]byte, 0, len(prefix)+idWidth*len(parts))
	buf = append(buf, prefix...)
	for _, part := range parts {
		buf = append(buf, part...)
	}
	return buf
}

// makeProjectKey: prj:project
func makeProjectKey(projectID string) []byte {
	return makeKey(projectPrefix, projectID)
}

// makeDocumentKey: doc:project:doc
func makeDocumentKey(projectID, docID string) []byte {
	return makeKey(documentPrefix, projectID, docID)
}

// makeChunkKey: vec:project:chunk
func makeChunkKey(projectID, chunkID string) []byte {
	return makeKey(chunkPrefix, projectID, chunkID)
}

// makeChunkDocKey: vecd:project:doc:chunk
func makeChunkDocKey(projectID, docID, chunkID string) []byte {
	return makeKey(chunkDocPrefix, projectID, docID, chunkID)
}

// makeMentionKey: grm:project:entity:chunk
func makeMentionKey(projectID, entity, chunkID string) []byte {
	return makeKey(mentionPrefix, projectID, entity, chunkID)
}

// makeMentionDocKey: grmd:project:doc:entity:chunk
func makeMentionDocKey(projectID, docID, entity, chunkID string) []byte {
	return makeKey(mentionDocPrefix, projectID, docID, entity, chunkID)
}

// makeEdgeKey: gre:project:from:to:doc
func makeEdgeKey(projectID, from, to, docID string) []byte {
	return makeKey(edgePrefix, projectID, from, to, docID)
}

// makeEdgeDocKey: gred:project:doc:source:target
func makeEdgeDocKey(projectID, docID, source, target string) []byte {
	return makeKey(edgeDocPrefix, projectID, docID, source, target)
}
