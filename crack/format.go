package crack

import (
	"context"
	"path"
	"strings"

	"github.com/poiesic/grimoire/core"
)

var formatsByExtension = map[string]core.DocumentFormat{
	".txt":      core.FormatPlainText,
	".text":     core.FormatPlainText,
	".md":       core.FormatMarkdown,
	".markdown": core.FormatMarkdown,
	".pdf":      core.FormatPDF,
	".docx":     core.FormatWord,
}

// FormatFor maps a file name to its document format, ignoring case.
// Unknown extensions return core.FormatUnknown.
func FormatFor(name string) core.DocumentFormat {
	if f, ok := formatsByExtension[strings.ToLower(path.Ext(name))]; ok {
		return f
	}
	return core.FormatUnknown
}

// Extensions returns every file extension with a known format.
func Extensions() []string {
	exts := make([]string, 0, len(formatsByExtension))
	for ext := range formatsByExtension {
		exts = append(exts, ext)
	}
	return exts
}

// Extractor turns a document's bytes into plain text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, data []byte) (string, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(ctx context.Context, data []byte) (string, error) {
	return f(ctx, data)
}
