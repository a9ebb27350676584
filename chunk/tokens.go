package chunk

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/poiesic/grimoire/core"
)

// DefaultEncoding is the tiktoken encoding used by OpenAI embedding models.
const DefaultEncoding = "cl100k_base"

// TokenCounter measures text against the embedding model's token budget.
// Implementations must be safe for concurrent use.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts BPE tokens.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding. The BPE ranks are downloaded
// on first use and cached under TIKTOKEN_CACHE_DIR.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("loading tiktoken encoding %s: %w: %w", encoding, core.ErrConfiguration, err)
	}
	return &TiktokenCounter{encoding: enc}, nil
}

// Count implements TokenCounter.
func (c *TiktokenCounter) Count(text string) int {
	return len(c.encoding.EncodeOrdinary(text))
}

// WordCounter approximates tokens by counting whitespace separated words.
type WordCounter struct{}

// Count implements TokenCounter.
func (WordCounter) Count(text string) int {
	return len(strings.Fields(text))
}
