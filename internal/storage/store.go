// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"time"
)

// =============================================================================
// RECORD TYPES
// =============================================================================

// Identity is one enrolled principal.
type Identity struct {
	ID          string    `json:"id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	DateOfBirth string    `json:"dob"`
	Phone       string    `json:"phone"`
	CodeWord    string    `json:"code_word"`
	Username    string    `json:"username"`
	Secret      string    `json:"-"` // compared verbatim
	CreatedAt   time.Time `json:"created_at"`

	Typing  *TypingProfile  `json:"typing,omitempty"`
	Passkey *PasskeyProfile `json:"passkey,omitempty"`
}

// DisplayName joins the first and last names.
func (i *Identity) DisplayName() string {
	if i.LastName == "" {
		return i.FirstName
	}
	return i.FirstName + " " + i.LastName
}

// TypingProfile is the keystroke baseline captured on first login.
type TypingProfile struct {
	BaselineWPM       int     `json:"baseline_wpm"`
	BaselineIntervals []int64 `json:"baseline_intervals"`
}

// Recorded reports whether a usable baseline exists. A zero WPM counts as
// absent.
func (p *TypingProfile) Recorded() bool {
	return p != nil && p.BaselineWPM > 0
}

// PasskeyProfile is the card-challenge secret created at setup.
type PasskeyProfile struct {
	Passkey  string         `json:"passkey"`
	Sequence []string       `json:"sequence"`
	Values   map[string]int `json:"values"`
}

// ObservedValue pairs a card with the passkey digit at its position.
type ObservedValue struct {
	Card  string `json:"card"`
	Digit int    `json:"digit"`
}

// =============================================================================
// STORE CONTRACT
// =============================================================================

// Store persists identities and their profile sub-records.
//
// Lookups that find nothing return security.ErrNotFound. CreateIdentity is an
// atomic insert-if-absent keyed on username and ID; the loser of a race gets
// security.ErrDuplicateIdentifier. SetPasskeyProfile returns
// security.ErrDuplicatePasskey when the passkey is already taken.
type Store interface {
	FindIdentity(ctx context.Context, username string) (*Identity, error)
	FindByCredentials(ctx context.Context, username, secret string) (*Identity, error)
	CreateIdentity(ctx context.Context, id *Identity) error
	IdentityIDExists(ctx context.Context, id string) (bool, error)

	// SetTypingProfile stores the baseline only if none is recorded yet.
	// It reports whether the profile was written.
	SetTypingProfile(ctx context.Context, username string, p TypingProfile) (bool, error)
	SetPasskeyProfile(ctx context.Context, username string, p PasskeyProfile) error
	PasskeyExists(ctx context.Context, candidate string) (bool, error)
	RecordObservedValues(ctx context.Context, username string, values []ObservedValue) error

	Close() error
}
