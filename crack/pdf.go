package crack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// DefaultPDFToText is the pdftotext binary looked up on PATH.
const DefaultPDFToText = "pdftotext"

var pdfMagic = []byte("%PDF-")

// CommandRunner runs an external command and returns its standard output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
		}
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%s: %w: %s", name, err, bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, err
	}
	return out, nil
}

// PDFExtractor extracts text with poppler's pdftotext.
type PDFExtractor struct {
	Runner CommandRunner
	Binary string
}

// Extract writes data to a temporary file and runs pdftotext on it.
func (p *PDFExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	if !bytes.HasPrefix(data, pdfMagic) {
		return "", fmt.Errorf("%w: missing PDF header", ErrCorruptDocument)
	}

	tmp, err := os.CreateTemp("", "grimoire-*.pdf")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	out, err := p.Runner.Run(ctx, p.Binary, "-enc", "UTF-8", "-layout", tmp.Name(), "-")
	if err != nil {
		switch {
		case errors.Is(err, ErrToolNotFound), ctx.Err() != nil:
			return "", err
		default:
			// pdftotext exits non-zero on files it cannot parse
			return "", fmt.Errorf("%w: pdftotext failed: %w", ErrCorruptDocument, err)
		}
	}
	return string(bytes.ReplaceAll(out, []byte("\f"), []byte("\n\n"))), nil
}
