package chunk

import (
	"fmt"

	"github.com/poiesic/grimoire/core"
)

var (
	// ErrNoSentences indicates the text contained nothing to chunk.
	ErrNoSentences = fmt.Errorf("text contains no sentences: %w", core.ErrMalformed)

	// ErrInvalidConfig indicates chunker settings that cannot work.
	ErrInvalidConfig = fmt.Errorf("invalid chunker configuration: %w", core.ErrConfiguration)
)
