// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security provides the shared authentication error taxonomy,
// the escalating challenge lockout and the authentication audit log.
package security

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

var (
	// ErrValidation marks malformed input. The same stage is retried.
	ErrValidation = errors.New("invalid input")

	// ErrCredentialMismatch is returned when the identifier/secret pair or the
	// recovery code-word does not match. It deliberately does not say which.
	ErrCredentialMismatch = errors.New("credentials do not match")

	// ErrRiskRejected is returned when the typing-rhythm check rejects a login.
	ErrRiskRejected = errors.New("typing profile rejected")

	// ErrChallengeMismatch is the single generic card-challenge failure.
	// Sequence and passkey mismatches are indistinguishable.
	ErrChallengeMismatch = errors.New("incorrect sequence or passkey")

	// ErrLockedOut is terminal for the session: retry after 24 hours.
	ErrLockedOut = errors.New("trying limit reached: retry after 24 hours")

	// ErrAborted means the operator cancelled. It is never counted as a failure.
	ErrAborted = errors.New("cancelled by operator")

	// ErrDuplicateIdentifier is a storage uniqueness violation on the username.
	ErrDuplicateIdentifier = errors.New("username already exists")

	// ErrDuplicatePasskey is a storage uniqueness violation on the passkey.
	ErrDuplicatePasskey = errors.New("passkey already in use")

	// ErrNotFound is returned by stores when no identity matches.
	ErrNotFound = errors.New("identity not found")
)

// ValidationError describes why an input field was rejected.
// It matches ErrValidation with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is reports ErrValidation as the category of every ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
