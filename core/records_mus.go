package core

import (
	"math"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
)

// Binary codecs for the records persisted by the embedded store. Each
// serializer follows the mus-go contract: Marshal writes into a buffer of
// at least Size bytes and returns the bytes written, Unmarshal returns the
// decoded value and the bytes consumed.

var (
	IDMUS       = idMUS{}
	ProjectMUS  = projectMUS{}
	DocumentMUS = documentMUS{}
	ChunkMUS    = chunkMUS{}
)

type idMUS struct{}

func (idMUS) Marshal(v ID, bs []byte) (n int) {
	return varint.Uint64.Marshal(uint64(v), bs)
}

func (idMUS) Unmarshal(bs []byte) (v ID, n int, err error) {
	u, n, err := varint.Uint64.Unmarshal(bs)
	return ID(u), n, err
}

func (idMUS) Size(v ID) (size int) {
	return varint.Uint64.Size(uint64(v))
}

// timeMUS stores times as UTC microseconds. The zero time is written as 0.
type timeMUS struct{}

func (timeMUS) Marshal(t time.Time, bs []byte) (n int) {
	return varint.Int64.Marshal(timeToMicros(t), bs)
}

func (timeMUS) Unmarshal(bs []byte) (t time.Time, n int, err error) {
	v, n, err := varint.Int64.Unmarshal(bs)
	if err != nil {
		return
	}
	if v == 0 {
		return time.Time{}, n, nil
	}
	return time.UnixMicro(v).UTC(), n, nil
}

func (timeMUS) Size(t time.Time) (size int) {
	return varint.Int64.Size(timeToMicros(t))
}

func timeToMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

type intMUS struct{}

func (intMUS) Marshal(v int, bs []byte) (n int) {
	return varint.Int64.Marshal(int64(v), bs)
}

func (intMUS) Unmarshal(bs []byte) (v int, n int, err error) {
	i, n, err := varint.Int64.Unmarshal(bs)
	return int(i), n, err
}

func (intMUS) Size(v int) (size int) {
	return varint.Int64.Size(int64(v))
}

type stringsMUS struct{}

func (stringsMUS) Marshal(v []string, bs []byte) (n int) {
	n = intMUS{}.Marshal(len(v), bs)
	for _, s := range v {
		n += ord.String.Marshal(s, bs[n:])
	}
	return
}

func (stringsMUS) Unmarshal(bs []byte) (v []string, n int, err error) {
	length, n, err := intMUS{}.Unmarshal(bs)
	if err != nil {
		return
	}
	if length < 0 {
		return nil, n, ErrInvalidLength
	}
	v = make([]string, length)
	var n1 int
	for i := range v {
		v[i], n1, err = ord.String.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	return
}

func (stringsMUS) Size(v []string) (size int) {
	size = intMUS{}.Size(len(v))
	for _, s := range v {
		size += ord.String.Size(s)
	}
	return
}

// vectorMUS writes each component as the varint of its IEEE 754 bits.
type vectorMUS struct{}

func (vectorMUS) Marshal(v []float32, bs []byte) (n int) {
	n = intMUS{}.Marshal(len(v), bs)
	for _, f := range v {
		n += varint.Uint32.Marshal(math.Float32bits(f), bs[n:])
	}
	return
}

func (vectorMUS) Unmarshal(bs []byte) (v []float32, n int, err error) {
	length, n, err := intMUS{}.Unmarshal(bs)
	if err != nil {
		return
	}
	if length < 0 {
		return nil, n, ErrInvalidLength
	}
	v = make([]float32, length)
	var (
		bits uint32
		n1   int
	)
	for i := range v {
		bits, n1, err = varint.Uint32.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
		v[i] = math.Float32frombits(bits)
	}
	return
}

func (vectorMUS) Size(v []float32) (size int) {
	size = intMUS{}.Size(len(v))
	for _, f := range v {
		size += varint.Uint32.Size(math.Float32bits(f))
	}
	return
}

type projectMUS struct{}

func (projectMUS) Marshal(p Project, bs []byte) (n int) {
	n = ord.String.Marshal(p.ID, bs)
	n += ord.String.Marshal(p.Name, bs[n:])
	n += timeMUS{}.Marshal(p.CreatedAt, bs[n:])
	return
}

func (projectMUS) Unmarshal(bs []byte) (p Project, n int, err error) {
	var n1 int
	p.ID, n1, err = ord.String.Unmarshal(bs)
	n += n1
	if err != nil {
		return
	}
	p.Name, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	p.CreatedAt, n1, err = timeMUS{}.Unmarshal(bs[n:])
	n += n1
	return
}

func (projectMUS) Size(p Project) (size int) {
	size = ord.String.Size(p.ID)
	size += ord.String.Size(p.Name)
	return size + timeMUS{}.Size(p.CreatedAt)
}

type briefingMUS struct{}

func (briefingMUS) Marshal(b *Briefing, bs []byte) (n int) {
	n = ord.Bool.Marshal(b != nil, bs)
	if b == nil {
		return
	}
	n += ord.String.Marshal(b.Summary, bs[n:])
	n += stringsMUS{}.Marshal(b.Topics, bs[n:])
	n += stringsMUS{}.Marshal(b.Questions, bs[n:])
	n += timeMUS{}.Marshal(b.GeneratedAt, bs[n:])
	return
}

func (briefingMUS) Unmarshal(bs []byte) (b *Briefing, n int, err error) {
	present, n, err := ord.Bool.Unmarshal(bs)
	if err != nil || !present {
		return
	}
	b = &Briefing{}
	var n1 int
	b.Summary, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	b.Topics, n1, err = stringsMUS{}.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	b.Questions, n1, err = stringsMUS{}.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	b.GeneratedAt, n1, err = timeMUS{}.Unmarshal(bs[n:])
	n += n1
	return
}

func (briefingMUS) Size(b *Briefing) (size int) {
	size = ord.Bool.Size(b != nil)
	if b == nil {
		return
	}
	size += ord.String.Size(b.Summary)
	size += stringsMUS{}.Size(b.Topics)
	size += stringsMUS{}.Size(b.Questions)
	return size + timeMUS{}.Size(b.GeneratedAt)
}

type documentMUS struct{}

func (documentMUS) Marshal(d Document, bs []byte) (n int) {
	n = ord.String.Marshal(d.ID, bs)
	n += ord.String.Marshal(d.ProjectID, bs[n:])
	n += ord.String.Marshal(d.Filename, bs[n:])
	n += ord.String.Marshal(string(d.Status), bs[n:])
	n += ord.String.Marshal(string(d.FailedStage), bs[n:])
	n += ord.String.Marshal(d.Error, bs[n:])
	n += timeMUS{}.Marshal(d.UploadedAt, bs[n:])
	n += timeMUS{}.Marshal(d.UpdatedAt, bs[n:])
	n += intMUS{}.Marshal(d.ChunkCount, bs[n:])
	n += intMUS{}.Marshal(d.CharCount, bs[n:])
	n += intMUS{}.Marshal(d.ExtractionFailures, bs[n:])
	n += ord.String.Marshal(d.GraphError, bs[n:])
	n += ord.String.Marshal(d.StoragePath, bs[n:])
	n += briefingMUS{}.Marshal(d.Briefing, bs[n:])
	return
}

func (documentMUS) Unmarshal(bs []byte) (d Document, n int, err error) {
	var (
		n1          int
		status      string
		failedStage string
	)
	strs := []*string{&d.ID, &d.ProjectID, &d.Filename, &status, &failedStage, &d.Error}
	for _, s := range strs {
		*s, n1, err = ord.String.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	d.Status = DocumentStatus(status)
	d.FailedStage = Stage(failedStage)
	d.UploadedAt, n1, err = timeMUS{}.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	d.UpdatedAt, n1, err = timeMUS{}.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	for _, i := range []*int{&d.ChunkCount, &d.CharCount, &d.ExtractionFailures} {
		*i, n1, err = intMUS{}.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	d.GraphError, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	d.StoragePath, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	d.Briefing, n1, err = briefingMUS{}.Unmarshal(bs[n:])
	n += n1
	return
}

func (documentMUS) Size(d Document) (size int) {
	size = ord.String.Size(d.ID)
	size += ord.String.Size(d.ProjectID)
	size += ord.String.Size(d.Filename)
	size += ord.String.Size(string(d.Status))
	size += ord.String.Size(string(d.FailedStage))
	size += ord.String.Size(d.Error)
	size += timeMUS{}.Size(d.UploadedAt)
	size += timeMUS{}.Size(d.UpdatedAt)
	size += intMUS{}.Size(d.ChunkCount)
	size += intMUS{}.Size(d.CharCount)
	size += intMUS{}.Size(d.ExtractionFailures)
	size += ord.String.Size(d.GraphError)
	size += ord.String.Size(d.StoragePath)
	return size + briefingMUS{}.Size(d.Briefing)
}

type chunkMUS struct{}

func (chunkMUS) Marshal(c Chunk, bs []byte) (n int) {
	n = ord.String.Marshal(c.ID, bs)
	n += ord.String.Marshal(c.DocID, bs[n:])
	n += ord.String.Marshal(c.ProjectID, bs[n:])
	n += intMUS{}.Marshal(c.Ordinal, bs[n:])
	n += ord.String.Marshal(c.Text, bs[n:])
	n += vectorMUS{}.Marshal(c.Vector, bs[n:])
	return
}

func (chunkMUS) Unmarshal(bs []byte) (c Chunk, n int, err error) {
	var n1 int
	for _, s := range []*string{&c.ID, &c.DocID, &c.ProjectID} {
		*s, n1, err = ord.String.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	c.Ordinal, n1, err = intMUS{}.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	c.Text, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	c.Vector, n1, err = vectorMUS{}.Unmarshal(bs[n:])
	n += n1
	return
}

func (chunkMUS) Size(c Chunk) (size int) {
	size = ord.String.Size(c.ID)
	size += ord.String.Size(c.DocID)
	size += ord.String.Size(c.ProjectID)
	size += intMUS{}.Size(c.Ordinal)
	size += ord.String.Size(c.Text)
	return size + vectorMUS{}.Size(c.Vector)
}
