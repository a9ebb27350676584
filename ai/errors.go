package ai

import (
	"fmt"

	"github.com/poiesic/grimoire/core"
)

var (
	// ErrBackendUnavailable indicates the embedding backend failed or
	// returned an unusable response.
	ErrBackendUnavailable = fmt.Errorf("embedding backend unavailable: %w", core.ErrTransient)

	// ErrDimensionMismatch indicates the backend returned a vector whose
	// length differs from the configured dimensionality.
	ErrDimensionMismatch = fmt.Errorf("embedding dimension mismatch: %w", core.ErrConfiguration)
)
