package core

import "time"

// Routing keys. Conversation messages append the role, see
// ConversationMessageReadyForEmbedding.RoutingKey.
const (
	RouteCrackDocument        = "document.crack"
	RouteDocumentCracked      = "document.cracked"
	RouteReadyForChunking     = "document.chunk"
	RouteChunkReadyForEmbed   = "chunk.embed"
	RouteConversationEmbedTag = "conversation.embed"
)

// Message is a pipeline message. The routing key is resolved from the
// message itself before it is published.
type Message interface {
	RoutingKey() string
	Validate() error
}

// DocumentRef is the context every document message carries so a stage can
// act without querying another stage's state.
type DocumentRef struct {
	DocumentID   ID           `json:"document_id"`
	RulesetID    string       `json:"ruleset_id"`
	Kind         DocumentKind `json:"kind"`
	FileName     string       `json:"file_name"`
	RelativePath string       `json:"relative_path"`
	ContentHash  string       `json:"content_hash"`
	Revision     uint64       `json:"revision"`
}

// CrackDocument asks the cracker to extract a document's text.
type CrackDocument struct {
	DocumentRef
	RequestedAt time.Time `json:"requested_at"`
}

func (m CrackDocument) RoutingKey() string { return RouteCrackDocument }

func (m CrackDocument) Validate() error { return ValidateDocumentRef(m.DocumentRef) }

// DocumentCracked announces that a document's text was extracted. BlobKey is
// set when the raw binary was retained.
type DocumentCracked struct {
	DocumentRef
	Format     string `json:"format"`
	TextLength int    `json:"text_length"`
	BlobKey    string `json:"blob_key,omitempty"`
}

func (m DocumentCracked) RoutingKey() string { return RouteDocumentCracked }

func (m DocumentCracked) Validate() error { return ValidateDocumentRef(m.DocumentRef) }

// ReadyForChunking carries extracted text to the chunker.
type ReadyForChunking struct {
	DocumentRef
	Text string `json:"text"`
}

func (m ReadyForChunking) RoutingKey() string { return RouteReadyForChunking }

func (m ReadyForChunking) Validate() error {
	if err := ValidateDocumentRef(m.DocumentRef); err != nil {
		return err
	}
	if m.Text == "" {
		return invalid(ErrEmptyContent)
	}
	return nil
}

// ChunkReadyForEmbedding carries one chunk to the embedding stage. A message
// with ChunkCount 0 carries no chunk: it announces that the revision has no
// indexable text and retires the document's older chunks.
type ChunkReadyForEmbedding struct {
	DocumentRef
	ChunkID    string `json:"chunk_id"`
	ChunkIndex int    `json:"chunk_index"`
	ChunkCount int    `json:"chunk_count"`
	Text       string `json:"text"`
}

func (m ChunkReadyForEmbedding) RoutingKey() string { return RouteChunkReadyForEmbed }

// Empty reports whether the message retires the document instead of
// carrying a chunk.
func (m ChunkReadyForEmbedding) Empty() bool { return m.ChunkCount == 0 }

func (m ChunkReadyForEmbedding) Validate() error {
	if err := ValidateDocumentRef(m.DocumentRef); err != nil {
		return err
	}
	if m.Empty() {
		if m.ChunkIndex != 0 || m.Text != "" {
			return invalid(ErrInvalidChunkIndex)
		}
		return nil
	}
	if m.ChunkIndex < 0 || m.ChunkIndex >= m.ChunkCount {
		return invalid(ErrInvalidChunkIndex)
	}
	if m.Text == "" {
		return invalid(ErrEmptyContent)
	}
	return nil
}

// ConversationMessageReadyForEmbedding carries one conversation turn. Turns
// are routed to role-specific worker pools.
type ConversationMessageReadyForEmbedding struct {
	MessageID int64     `json:"message_id"`
	GameID    int64     `json:"game_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	SentAt    time.Time `json:"sent_at"`
}

func (m ConversationMessageReadyForEmbedding) RoutingKey() string {
	return ConversationRoutingKey(m.Role)
}

func (m ConversationMessageReadyForEmbedding) Validate() error {
	if m.MessageID <= 0 {
		return invalid(ErrMissingMessageID)
	}
	if m.GameID <= 0 {
		return invalid(ErrMissingGameID)
	}
	if err := ValidateRole(m.Role); err != nil {
		return invalid(err)
	}
	if m.Content == "" {
		return invalid(ErrEmptyContent)
	}
	return nil
}

// ConversationRoutingKey returns the routing key bound by workers of role.
func ConversationRoutingKey(role Role) string {
	return RouteConversationEmbedTag + "." + string(role)
}

// LogAttrs returns the identity fields logged with every failure.
func (r DocumentRef) LogAttrs() []any {
	return []any{"document_id", r.DocumentID, "path", r.RelativePath, "revision", r.Revision}
}

// LogAttrs returns the identity fields logged with every failure.
func (m ConversationMessageReadyForEmbedding) LogAttrs() []any {
	return []any{"message_id", m.MessageID, "game_id", m.GameID, "role", m.Role}
}
