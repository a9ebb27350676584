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

package crack

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/poiesic/grimoire/core"
)

// Config configures a Cracker.
type Config struct {
	// Roots are searched in order for a document's relative path.
	Roots []string
	// PDFToText is the pdftotext binary; DefaultPDFToText when empty.
	PDFToText string
	// Runner executes external tools; ExecRunner when nil.
	Runner CommandRunner
}

// Result is the outcome of cracking one document.
type Result struct {
	Format core.DocumentFormat
	Text   string
	// Raw holds the original bytes for binary formats, nil otherwise.
	Raw []byte
}

// Cracker extracts text from source documents.
type Cracker struct {
	roots      []string
	extractors map[core.DocumentFormat]Extractor
	logger     *slog.Logger
}

// New creates a Cracker with an extractor for every core.DocumentFormat.
func New(config Config, logger *slog.Logger) (*Cracker, error) {
	if len(config.Roots) == 0 {
		return nil, fmt.Errorf("at least one source root is required: %w", core.ErrConfiguration)
	}
	if config.PDFToText == "" {
		config.PDFToText = DefaultPDFToText
	}
	if config.Runner == nil {
		config.Runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cracker{
		roots:      config.Roots,
		extractors: extractorTable(config),
		logger:     logger.With("component", "cracker"),
	}, nil
}

func extractorTable(config Config) map[core.DocumentFormat]Extractor {
	return map[core.DocumentFormat]Extractor{
		core.FormatPlainText: ExtractorFunc(extractText),
		core.FormatMarkdown:  ExtractorFunc(extractText),
		core.FormatPDF:       &PDFExtractor{Runner: config.Runner, Binary: config.PDFToText},
		core.FormatWord:      ExtractorFunc(extractWord),
	}
}

// Crack reads relPath from the first root that has it and extracts its text.
// Unsupported, corrupt and empty documents fail with core.ErrMalformed, a
// missing file with core.ErrNotFound.
func (c *Cracker) Crack(ctx context.Context, relPath string) (*Result, error) {
	format := FormatFor(relPath)
	extractor, ok := c.extractors[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, relPath)
	}

	data, err := c.read(relPath)
	if err != nil {
		return nil, err
	}

	text, err := extractor.Extract(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", relPath, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, relPath)
	}

	c.logger.Debug("document cracked", "path", relPath, "format", format, "length", len(text))

	result := &Result{Format: format, Text: text}
	if format.IsBinary() {
		result.Raw = data
	}
	return result, nil
}

func (c *Cracker) read(relPath string) ([]byte, error) {
	local, err := localize(relPath)
	if err != nil {
		return nil, err
	}
	for _, root := range c.roots {
		data, err := os.ReadFile(filepath.Join(root, local))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrFileNotFound, relPath)
}

// localize converts a slash separated relative path to a local path,
// rejecting absolute paths and anything that climbs out of the root.
func localize(relPath string) (string, error) {
	local := filepath.FromSlash(relPath)
	if relPath == "" || !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, relPath)
	}
	return filepath.Clean(local), nil
}
