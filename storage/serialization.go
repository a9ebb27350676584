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
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/grimoire/core"
)

// serializer is the subset of the mus-go serializer contract the record
// codecs rely on.
type serializer[T any] interface {
	Marshal(v T, bs []byte) (n int)
	Unmarshal(bs []byte) (v T, n int, err error)
	Size(v T) (size int)
}

type encoder struct {
	bs []byte
	n  int
}

func put[T any](e *encoder, s serializer[T], v T) {
	e.n += s.Marshal(v, e.bs[e.n:])
}

type decoder struct {
	bs  []byte
	n   int
	err error
}

func get[T any](d *decoder, s serializer[T]) T {
	var v T
	if d.err != nil {
		return v
	}
	v, n, err := s.Unmarshal(d.bs[d.n:])
	d.n += n
	if err != nil {
		d.err = fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return v
}

// Time is stored as Unix microseconds.
type timeSer struct{}

func (timeSer) Marshal(t time.Time, bs []byte) int { return varint.Int64.Marshal(t.UnixMicro(), bs) }
func (timeSer) Size(t time.Time) int               { return varint.Int64.Size(t.UnixMicro()) }
func (timeSer) Unmarshal(bs []byte) (time.Time, int, error) {
	v, n, err := varint.Int64.Unmarshal(bs)
	if err != nil {
		return time.Time{}, n, err
	}
	return time.UnixMicro(v).UTC(), n, nil
}

type intSer struct{}

func (intSer) Marshal(v int, bs []byte) int { return varint.Int64.Marshal(int64(v), bs) }
func (intSer) Size(v int) int               { return varint.Int64.Size(int64(v)) }
func (intSer) Unmarshal(bs []byte) (int, int, error) {
	v, n, err := varint.Int64.Unmarshal(bs)
	return int(v), n, err
}

type idSer struct{}

func (idSer) Marshal(v core.ID, bs []byte) int { return varint.Uint64.Marshal(uint64(v), bs) }
func (idSer) Size(v core.ID) int               { return varint.Uint64.Size(uint64(v)) }
func (idSer) Unmarshal(bs []byte) (core.ID, int, error) {
	v, n, err := varint.Uint64.Unmarshal(bs)
	return core.ID(v), n, err
}

// Vectors are a length prefix followed by little-endian float32 bits.
type vectorSer struct{}

func (vectorSer) Marshal(v []float32, bs []byte) int {
	n := intSer{}.Marshal(len(v), bs)
	for _, f := range v {
		binary.LittleEndian.PutUint32(bs[n:], math.Float32bits(f))
		n += 4
	}
	return n
}

func (vectorSer) Size(v []float32) int { return intSer{}.Size(len(v)) + 4*len(v) }

func (vectorSer) Unmarshal(bs []byte) ([]float32, int, error) {
	length, n, err := intSer{}.Unmarshal(bs)
	if err != nil {
		return nil, n, err
	}
	if length < 0 || len(bs)-n < 4*length {
		return nil, n, ErrTruncatedData
	}
	if length == 0 {
		return nil, n, nil
	}
	v := make([]float32, length)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(bs[n:]))
		n += 4
	}
	return v, n, nil
}

type stringsSer struct{}

func (stringsSer) Marshal(v []string, bs []byte) int {
	n := intSer{}.Marshal(len(v), bs)
	for _, s := range v {
		n += ord.String.Marshal(s, bs[n:])
	}
	return n
}

func (stringsSer) Size(v []string) int {
	size := intSer{}.Size(len(v))
	for _, s := range v {
		size += ord.String.Size(s)
	}
	return size
}

func (stringsSer) Unmarshal(bs []byte) ([]string, int, error) {
	length, n, err := intSer{}.Unmarshal(bs)
	if err != nil {
		return nil, n, err
	}
	if length < 0 || length > len(bs) {
		return nil, n, ErrTruncatedData
	}
	var v []string
	for range length {
		s, m, err := ord.String.Unmarshal(bs[n:])
		n += m
		if err != nil {
			return nil, n, err
		}
		v = append(v, s)
	}
	return v, n, nil
}

// Tags are written as alternating keys and values in key order so equal
// maps encode to equal bytes.
type tagsSer struct{}

func flattenTags(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	flat := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		flat = append(flat, k, tags[k])
	}
	return flat
}

func (tagsSer) Marshal(v map[string]string, bs []byte) int {
	return stringsSer{}.Marshal(flattenTags(v), bs)
}

func (tagsSer) Size(v map[string]string) int { return stringsSer{}.Size(flattenTags(v)) }

func (tagsSer) Unmarshal(bs []byte) (map[string]string, int, error) {
	flat, n, err := stringsSer{}.Unmarshal(bs)
	if err != nil {
		return nil, n, err
	}
	if len(flat)%2 != 0 {
		return nil, n, ErrTruncatedData
	}
	if len(flat) == 0 {
		return nil, n, nil
	}
	tags := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		tags[flat[i]] = flat[i+1]
	}
	return tags, n, nil
}

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, idSer{}.Size(id))
	idSer{}.Marshal(id, buf)
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	id, _, err := idSer{}.Unmarshal(data)
	return id, err
}

// MarshalDocument serializes DocumentMetadata to bytes.
func MarshalDocument(doc *core.DocumentMetadata) []byte {
	kind := string(doc.Kind)
	size := idSer{}.Size(doc.Id) +
		ord.String.Size(doc.RulesetID) +
		ord.String.Size(kind) +
		ord.String.Size(doc.Path) +
		ord.String.Size(doc.ContentHash) +
		varint.Uint64.Size(doc.Revision) +
		timeSer{}.Size(doc.FirstSeenAt) +
		timeSer{}.Size(doc.LastScannedAt) +
		timeSer{}.Size(doc.UpdatedAt)
	e := &encoder{bs: make([]byte, size)}
	put[core.ID](e, idSer{}, doc.Id)
	put[string](e, ord.String, doc.RulesetID)
	put[string](e, ord.String, kind)
	put[string](e, ord.String, doc.Path)
	put[string](e, ord.String, doc.ContentHash)
	put[uint64](e, varint.Uint64, doc.Revision)
	put[time.Time](e, timeSer{}, doc.FirstSeenAt)
	put[time.Time](e, timeSer{}, doc.LastScannedAt)
	put[time.Time](e, timeSer{}, doc.UpdatedAt)
	return e.bs[:e.n]
}

// UnmarshalDocument deserializes DocumentMetadata from bytes.
func UnmarshalDocument(data []byte) (*core.DocumentMetadata, error) {
	d := &decoder{bs: data}
	doc := &core.DocumentMetadata{
		Id:            get[core.ID](d, idSer{}),
		RulesetID:     get[string](d, ord.String),
		Kind:          core.DocumentKind(get[string](d, ord.String)),
		Path:          get[string](d, ord.String),
		ContentHash:   get[string](d, ord.String),
		Revision:      get[uint64](d, varint.Uint64),
		FirstSeenAt:   get[time.Time](d, timeSer{}),
		LastScannedAt: get[time.Time](d, timeSer{}),
		UpdatedAt:     get[time.Time](d, timeSer{}),
	}
	if d.err != nil {
		return nil, d.err
	}
	return doc, nil
}

// MarshalVectorRecord serializes a VectorRecord to bytes.
func MarshalVectorRecord(record *core.VectorRecord) []byte {
	size := ord.String.Size(record.Key) +
		idSer{}.Size(record.DocumentID) +
		intSer{}.Size(record.ChunkIndex) +
		intSer{}.Size(record.ChunkCount) +
		varint.Uint64.Size(record.Revision) +
		ord.String.Size(record.ContentHash) +
		ord.String.Size(record.Text) +
		vectorSer{}.Size(record.Vector) +
		tagsSer{}.Size(record.Tags) +
		timeSer{}.Size(record.UpdatedAt)
	e := &encoder{bs: make([]byte, size)}
	put[string](e, ord.String, record.Key)
	put[core.ID](e, idSer{}, record.DocumentID)
	put[int](e, intSer{}, record.ChunkIndex)
	put[int](e, intSer{}, record.ChunkCount)
	put[uint64](e, varint.Uint64, record.Revision)
	put[string](e, ord.String, record.ContentHash)
	put[string](e, ord.String, record.Text)
	put[[]float32](e, vectorSer{}, record.Vector)
	put[map[string]string](e, tagsSer{}, record.Tags)
	put[time.Time](e, timeSer{}, record.UpdatedAt)
	return e.bs[:e.n]
}

// UnmarshalVectorRecord deserializes a VectorRecord from bytes.
func UnmarshalVectorRecord(data []byte) (*core.VectorRecord, error) {
	d := &decoder{bs: data}
	record := &core.VectorRecord{
		Key:         get[string](d, ord.String),
		DocumentID:  get[core.ID](d, idSer{}),
		ChunkIndex:  get[int](d, intSer{}),
		ChunkCount:  get[int](d, intSer{}),
		Revision:    get[uint64](d, varint.Uint64),
		ContentHash: get[string](d, ord.String),
		Text:        get[string](d, ord.String),
		Vector:      get[[]float32](d, vectorSer{}),
		Tags:        get[map[string]string](d, tagsSer{}),
		UpdatedAt:   get[time.Time](d, timeSer{}),
	}
	if d.err != nil {
		return nil, d.err
	}
	return record, nil
}

// MarshalSchema serializes an IndexSchema to bytes.
func MarshalSchema(schema core.IndexSchema) []byte {
	size := ord.String.Size(schema.Collection) +
		ord.String.Size(schema.Model) +
		intSer{}.Size(schema.Dimension) +
		stringsSer{}.Size(schema.FilterableTags)
	e := &encoder{bs: make([]byte, size)}
	put[string](e, ord.String, schema.Collection)
	put[string](e, ord.String, schema.Model)
	put[int](e, intSer{}, schema.Dimension)
	put[[]string](e, stringsSer{}, schema.FilterableTags)
	return e.bs[:e.n]
}

// UnmarshalSchema deserializes an IndexSchema from bytes.
func UnmarshalSchema(data []byte) (core.IndexSchema, error) {
	d := &decoder{bs: data}
	schema := core.IndexSchema{
		Collection:     get[string](d, ord.String),
		Model:          get[string](d, ord.String),
		Dimension:      get[int](d, intSer{}),
		FilterableTags: get[[]string](d, stringsSer{}),
	}
	return schema, d.err
}

// MarshalCheckpoint serializes a Checkpoint to bytes.
func MarshalCheckpoint(checkpoint *core.Checkpoint) []byte {
	size := ord.String.Size(checkpoint.ProcessorType) +
		timeSer{}.Size(checkpoint.LastRunAt) +
		ord.String.Size(checkpoint.Detail) +
		timeSer{}.Size(checkpoint.UpdatedAt)
	e := &encoder{bs: make([]byte, size)}
	put[string](e, ord.String, checkpoint.ProcessorType)
	put[time.Time](e, timeSer{}, checkpoint.LastRunAt)
	put[string](e, ord.String, checkpoint.Detail)
	put[time.Time](e, timeSer{}, checkpoint.UpdatedAt)
	return e.bs[:e.n]
}

// UnmarshalCheckpoint deserializes a Checkpoint from bytes.
func UnmarshalCheckpoint(data []byte) (*core.Checkpoint, error) {
	d := &decoder{bs: data}
	checkpoint := &core.Checkpoint{
		ProcessorType: get[string](d, ord.String),
		LastRunAt:     get[time.Time](d, timeSer{}),
		Detail:        get[string](d, ord.String),
		UpdatedAt:     get[time.Time](d, timeSer{}),
	}
	if d.err != nil {
		return nil, d.err
	}
	return checkpoint, nil
}
