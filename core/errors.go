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

import "errors"

// Failure classes. Every package wraps one of these so callers can decide
// between dropping, retrying and aborting with errors.Is.
var (
	// ErrNotFound indicates a missing file, directory or record.
	ErrNotFound = errors.New("not found")

	// ErrMalformed indicates invalid message fields or corrupt content.
	// Retrying cannot fix it.
	ErrMalformed = errors.New("malformed")

	// ErrTransient indicates an unavailable broker, backend or store.
	ErrTransient = errors.New("transient failure")

	// ErrConfiguration indicates missing settings or a schema mismatch.
	ErrConfiguration = errors.New("configuration error")
)

// Domain validation errors
var (
	// ErrInvalidMessage indicates a pipeline message failed validation.
	ErrInvalidMessage = errors.New("invalid pipeline message")

	// ErrMissingDocumentID indicates a zero document ID.
	ErrMissingDocumentID = errors.New("document id is required")

	// ErrMissingMessageID indicates a message ID <= 0.
	ErrMissingMessageID = errors.New("message id must be positive")

	// ErrMissingGameID indicates a game ID <= 0.
	ErrMissingGameID = errors.New("game id must be positive")

	// ErrMissingPath indicates an empty relative path.
	ErrMissingPath = errors.New("relative path is required")

	// ErrEmptyContent indicates the text payload is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrInvalidRole indicates an unknown conversation role.
	ErrInvalidRole = errors.New("invalid role")

	// ErrInvalidChunkIndex indicates a chunk index outside [0, ChunkCount).
	ErrInvalidChunkIndex = errors.New("invalid chunk index")
)
