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

import "fmt"

// ValidateDocumentRef validates the identity fields of a document message.
//
// Validation rules:
//   - DocumentID must not be zero
//   - RelativePath must not be empty
//
// Validation failures wrap ErrMalformed: a structurally invalid message is
// dropped, never redelivered.
func ValidateDocumentRef(ref DocumentRef) error {
	if ref.DocumentID == 0 {
		return invalid(ErrMissingDocumentID)
	}
	if ref.RelativePath == "" {
		return invalid(ErrMissingPath)
	}
	return nil
}

// ValidateRole validates that a Role has a known value.
func ValidateRole(role Role) error {
	switch role {
	case RoleUser, RoleAssistant:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidRole, role)
}

// ParseRole converts a string into a Role.
func ParseRole(s string) (Role, error) {
	role := Role(s)
	if err := ValidateRole(role); err != nil {
		return "", err
	}
	return role, nil
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w: %w", ErrMalformed, ErrInvalidMessage, err)
}
