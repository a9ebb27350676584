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
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for domain entities.
// Document IDs are derived from the document's relative path so they stay
// stable while the document's content changes.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// DocumentKind classifies a source document.
type DocumentKind string

const (
	// DocumentKindRulebook is a game rulebook. It is currently the only kind
	// produced by the change detector.
	DocumentKindRulebook DocumentKind = "rulebook"
	// DocumentKindTranscript is a session transcript.
	DocumentKindTranscript DocumentKind = "transcript"
)

// DocumentKindConversation tags vector records produced from live conversation turns.
const DocumentKindConversation DocumentKind = "conversation"

// DocumentFormat identifies how a document's bytes are encoded.
type DocumentFormat int

const (
	FormatUnknown DocumentFormat = iota
	FormatPlainText
	FormatMarkdown
	FormatPDF
	FormatWord

	// formatCount must stay last.
	formatCount
)

// Formats returns every supported document format.
func Formats() []DocumentFormat {
	formats := make([]DocumentFormat, 0, formatCount-1)
	for f := FormatPlainText; f < formatCount; f++ {
		formats = append(formats, f)
	}
	return formats
}

func (f DocumentFormat) String() string {
	switch f {
	case FormatPlainText:
		return "text"
	case FormatMarkdown:
		return "markdown"
	case FormatPDF:
		return "pdf"
	case FormatWord:
		return "word"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// IsBinary reports whether documents of this format carry a binary payload
// worth retaining for later display.
func (f DocumentFormat) IsBinary() bool {
	return f == FormatPDF || f == FormatWord
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Roles returns every known conversation role.
func Roles() []Role {
	return []Role{RoleUser, RoleAssistant}
}

// DocumentMetadata is the change detector's record of a source file.
type DocumentMetadata struct {
	Id            ID
	RulesetID     string
	Kind          DocumentKind
	Path          string // relative to the source root, unique
	ContentHash   string
	Revision      uint64 // incremented every time ContentHash changes
	FirstSeenAt   time.Time
	LastScannedAt time.Time
	UpdatedAt     time.Time
}

// TextChunk is a bounded, semantically coherent segment of a document.
type TextChunk struct {
	Id         string
	DocumentID ID
	Index      int
	Text       string
	Vector     []float32 // populated once embedded
}

// VectorRecord is a single entry in the vector index.
type VectorRecord struct {
	Key         string
	DocumentID  ID
	ChunkIndex  int
	ChunkCount  int
	Revision    uint64
	ContentHash string
	Text        string
	Vector      []float32
	Tags        map[string]string
	UpdatedAt   time.Time
}

// IndexSchema describes a vector index collection. Model and Dimension are
// fixed for the lifetime of the collection; FilterableTags lists every tag
// key a record may carry.
type IndexSchema struct {
	Collection     string
	Model          string
	Dimension      int
	FilterableTags []string
}

// Declares reports whether tag is a filterable tag of the schema.
func (s IndexSchema) Declares(tag string) bool {
	for _, t := range s.FilterableTags {
		if t == tag {
			return true
		}
	}
	return false
}

// SearchResult represents a vector index match with its relevance score.
type SearchResult struct {
	Record *VectorRecord
	Score  float32
}

// Checkpoint records the last run of a background processor.
type Checkpoint struct {
	ProcessorType string
	LastRunAt     time.Time
	Detail        string
	UpdatedAt     time.Time
}

// DocumentKey returns the vector index key of a document chunk.
func DocumentKey(documentID ID, chunkIndex int) string {
	return fmt.Sprintf("doc:%d:%d", documentID, chunkIndex)
}

// DocumentKeyPrefix returns the key prefix shared by all chunks of a document.
func DocumentKeyPrefix(documentID ID) string {
	return fmt.Sprintf("doc:%d:", documentID)
}

// MessageKey returns the vector index key of a conversation message.
func MessageKey(messageID int64) string {
	return fmt.Sprintf("msg:%d", messageID)
}
