package ingestion

import (
	"fmt"

	"github.com/poiesic/grimoire/core"
)

var (
	// ErrBrokerRequired is returned when a broker is not provided.
	ErrBrokerRequired = fmt.Errorf("broker required: %w", core.ErrConfiguration)

	// ErrIndexRequired is returned when a vector index is not provided.
	ErrIndexRequired = fmt.Errorf("vector index required: %w", core.ErrConfiguration)

	// ErrDependencyMissing is returned when a stage lacks a collaborator it needs.
	ErrDependencyMissing = fmt.Errorf("stage dependency missing: %w", core.ErrConfiguration)

	// ErrUnknownStage is returned for a stage name the pipeline does not define.
	ErrUnknownStage = fmt.Errorf("unknown stage: %w", core.ErrConfiguration)

	// ErrMisrouted is returned when a conversation message reaches a worker
	// of another role.
	ErrMisrouted = fmt.Errorf("message routed to the wrong role: %w", core.ErrMalformed)
)
