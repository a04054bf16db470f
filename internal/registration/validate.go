// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package registration

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/trisecure/internal/passkey"
	"github.com/jeranaias/trisecure/internal/security"
)

// =============================================================================
// FIELD VALIDATORS
// =============================================================================

// DateLayout is the accepted date-of-birth format (dd/mm/yyyy).
const DateLayout = "2/1/2006"

// ValidateDOB checks a dd/mm/yyyy date that is a real calendar day no later
// than the current year.
func ValidateDOB(s string, now time.Time) error {
	s = strings.TrimSpace(s)
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return security.NewValidationError("date of birth", "use dd/mm/yyyy")
	}
	if t.Year() > now.Year() {
		return security.NewValidationError("date of birth", "year is in the future")
	}
	return nil
}

// ValidatePhone checks an 11-digit number starting with 01 whose third digit
// is 3-9.
func ValidatePhone(s string) error {
	s = strings.TrimSpace(s)
	if len(s) != 11 {
		return security.NewValidationError("phone", "must be 11 digits")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return security.NewValidationError("phone", "digits only")
		}
	}
	if !strings.HasPrefix(s, "01") || s[2] < '3' {
		return security.NewValidationError("phone", "must start with 013-019")
	}
	return nil
}

// ValidateCredentials rejects empty usernames or secrets.
func ValidateCredentials(username, secret string) error {
	if strings.TrimSpace(username) == "" {
		return security.NewValidationError("username", "must not be empty")
	}
	if secret == "" {
		return security.NewValidationError("password", "must not be empty")
	}
	return nil
}

// =============================================================================
// IDENTITY IDS
// =============================================================================

// IDLength is the length of generated identity IDs.
const IDLength = 7

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewIdentityID returns a random 7-character uppercase alphanumeric ID.
func NewIdentityID(src passkey.IntSource) string {
	b := make([]byte, IDLength)
	for i := range b {
		b[i] = idAlphabet[src.IntN(len(idAlphabet))]
	}
	return string(b)
}

func attemptsLeft(used, max int) string {
	left := max - used
	if left == 1 {
		return "1 attempt left"
	}
	return fmt.Sprintf("%d attempts left", left)
}
