package crack

import (
	"bytes"
	"context"
	"strings"
)

// extractText passes text and markdown through. Content with NUL bytes is
// binary and rejected; invalid UTF-8 sequences are replaced.
func extractText(_ context.Context, data []byte) (string, error) {
	if bytes.IndexByte(data, 0) >= 0 {
		return "", ErrCorruptDocument
	}
	text := strings.ToValidUTF8(string(data), "\uFFFD")
	text = strings.TrimPrefix(text, "\uFEFF")
	return strings.ReplaceAll(text, "\r\n", "\n"), nil
}
