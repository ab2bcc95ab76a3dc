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

package storage

import (
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/lattice/core"
)

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, core.IDMUS.Size(id))
	core.IDMUS.Marshal(id, buf)
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	id, _, err := core.IDMUS.Unmarshal(data)
	return id, err
}

// MarshalProject serializes a Project to bytes.
func MarshalProject(project *core.Project) []byte {
	buf := make([]byte, core.ProjectMUS.Size(*project))
	core.ProjectMUS.Marshal(*project, buf)
	return buf
}

// UnmarshalProject deserializes a Project from bytes.
func UnmarshalProject(data []byte) (*core.Project, error) {
	project, _, err := core.ProjectMUS.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(doc *core.Document) []byte {
	buf := make([]byte, core.DocumentMUS.Size(*doc))
	core.DocumentMUS.Marshal(*doc, buf)
	return buf
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	doc, _, err := core.DocumentMUS.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// MarshalChunk serializes a Chunk to bytes.
func MarshalChunk(chunk *core.Chunk) []byte {
	buf := make([]byte, core.ChunkMUS.Size(*chunk))
	core.ChunkMUS.Marshal(*chunk, buf)
	return buf
}

// UnmarshalChunk deserializes a Chunk from bytes.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	chunk, _, err := core.ChunkMUS.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

// Mention records that a chunk of a document mentions an entity.
type Mention struct {
	DocID      string
	ChunkID    string
	Entity     string
	Type       string
	Importance int
}

// Edge records a relationship stated by a document.
type Edge struct {
	DocID  string
	Source string
	Target string
	Type   string
}

// MarshalMention serializes a Mention to bytes.
func MarshalMention(m *Mention) []byte {
	size := ord.String.Size(m.DocID) + ord.String.Size(m.ChunkID) +
		ord.String.Size(m.Entity) + ord.String.Size(m.Type) +
		varint.Int64.Size(int64(m.Importance))
	buf := make([]byte, size)
	n := ord.String.Marshal(m.DocID, buf)
	n += ord.String.Marshal(m.ChunkID, buf[n:])
	n += ord.String.Marshal(m.Entity, buf[n:])
	n += ord.String.Marshal(m.Type, buf[n:])
	varint.Int64.Marshal(int64(m.Importance), buf[n:])
	return buf
}

// UnmarshalMention deserializes a Mention from bytes.
func UnmarshalMention(data []byte) (*Mention, error) {
	var (
		m      Mention
		n, n1  int
		err    error
		weight int64
	)
	for _, s := range []*string{&m.DocID, &m.ChunkID, &m.Entity, &m.Type} {
		*s, n1, err = ord.String.Unmarshal(data[n:])
		n += n1
		if err != nil {
			return nil, err
		}
	}
	weight, _, err = varint.Int64.Unmarshal(data[n:])
	if err != nil {
		return nil, err
	}
	m.Importance = int(weight)
	return &m, nil
}

// MarshalEdge serializes an Edge to bytes.
func MarshalEdge(e *Edge) []byte {
	fields := []string{e.DocID, e.Source, e.Target, e.Type}
	size := 0
	for _, f := range fields {
		size += ord.String.Size(f)
	}
	buf := make([]byte, size)
	n := 0
	for _, f := range fields {
		n += ord.String.Marshal(f, buf[n:])
	}
	return buf
}

// UnmarshalEdge deserializes an Edge from bytes.
func UnmarshalEdge(data []byte) (*Edge, error) {
	var (
		e     Edge
		n, n1 int
		err   error
	)
	for _, s := range []*string{&e.DocID, &e.Source, &e.Target, &e.Type} {
		*s, n1, err = ord.String.Unmarshal(data[n:])
		n += n1
		if err != nil {
			return nil, err
		}
	}
	return &e, nil
}
