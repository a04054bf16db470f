// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package passkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jeranaias/trisecure/internal/security"
	"github.com/jeranaias/trisecure/internal/storage"
)

// =============================================================================
// DERIVATION
// =============================================================================

// InsertPositions is the number of places the random digit can go.
const InsertPositions = SelectionSize + 1

// Transform maps a card value to its passkey digit: (3x+1) mod 10.
func Transform(x int) int {
	y := 3*x + 1
	if y >= 10 {
		y %= 10
	}
	return y
}

// BaseString derives the seven-digit base from a selection and assignment.
func BaseString(selection []Card, values ValueAssignment) (string, error) {
	if len(selection) != SelectionSize {
		return "", security.NewValidationError("selection", fmt.Sprintf("pick exactly %d cards", SelectionSize))
	}
	var sb strings.Builder
	for _, c := range selection {
		x, ok := values[c]
		if !ok {
			return "", security.NewValidationError("card", fmt.Sprintf("%s has no value", c))
		}
		sb.WriteByte(byte('0' + Transform(x)))
	}
	return sb.String(), nil
}

// Insert places digit at pos (0..len(base)) in base.
func Insert(base string, digit, pos int) string {
	if pos < 0 {
		pos = 0
	}
	if pos > len(base) {
		pos = len(base)
	}
	return base[:pos] + string(rune('0'+digit%10)) + base[pos:]
}

// Derive is BaseString followed by Insert.
func Derive(selection []Card, values ValueAssignment, digit, pos int) (string, error) {
	base, err := BaseString(selection, values)
	if err != nil {
		return "", err
	}
	return Insert(base, digit, pos), nil
}

// =============================================================================
// SETUP
// =============================================================================

// Deriver creates passkey profiles, avoiding collisions with existing ones.
type Deriver struct {
	store  storage.Store
	src    IntSource
	logger *slog.Logger
	audit  *security.AuditLogger
}

// DeriverOption configures a Deriver.
type DeriverOption func(*Deriver)

// WithSource overrides the random source.
func WithSource(src IntSource) DeriverOption {
	return func(d *Deriver) { d.src = src }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) DeriverOption {
	return func(d *Deriver) { d.logger = l }
}

// WithAudit records setup events.
func WithAudit(a *security.AuditLogger) DeriverOption {
	return func(d *Deriver) { d.audit = a }
}

// NewDeriver returns a Deriver backed by store.
func NewDeriver(store storage.Store, opts ...DeriverOption) *Deriver {
	d := &Deriver{store: store, src: DefaultSource(), logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetupResult is a persisted profile plus what the operator must be shown.
type SetupResult struct {
	Profile  storage.PasskeyProfile
	Values   ValueAssignment
	Mnemonic string
}

// Setup draws a value assignment, derives a unique passkey for selection and
// persists the profile.
//
// On collision only the inserted digit moves (+1 mod 10); when all ten digits
// collide at a position, the next position is tried. A store-level duplicate
// (lost race) is retried once with the next candidate.
func (d *Deriver) Setup(ctx context.Context, username string, selection []Card) (*SetupResult, error) {
	values := NewValueAssignment(d.src)
	base, err := BaseString(selection, values)
	if err != nil {
		return nil, err
	}

	digit := d.src.IntN(10)
	start := d.src.IntN(InsertPositions)
	raced := false

	for p := 0; p < InsertPositions; p++ {
		pos := (start + p) % InsertPositions
		for step := 0; step < 10; step++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			candidate := Insert(base, (digit+step)%10, pos)

			exists, err := d.store.PasskeyExists(ctx, candidate)
			if err != nil {
				return nil, fmt.Errorf("passkey lookup: %w", err)
			}
			if exists {
				d.logger.Debug("passkey candidate collided", "position", pos, "attempt", step)
				continue
			}

			profile := storage.PasskeyProfile{
				Passkey:  candidate,
				Sequence: Strings(selection),
				Values:   values.ToMap(),
			}
			err = d.store.SetPasskeyProfile(ctx, username, profile)
			if errors.Is(err, security.ErrDuplicatePasskey) && !raced {
				raced = true
				d.logger.Warn("passkey insert lost a race, retrying once")
				continue
			}
			if err != nil {
				d.log(username, false, err)
				return nil, err
			}

			d.log(username, true, nil)
			return &SetupResult{Profile: profile, Values: values, Mnemonic: Mnemonic(selection)}, nil
		}
	}

	d.log(username, false, security.ErrDuplicatePasskey)
	return nil, security.ErrDuplicatePasskey
}

func (d *Deriver) log(username string, success bool, err error) {
	if !d.audit.IsEnabled() {
		return
	}
	ev := security.AuditEvent{
		EventType: "PASSKEY_SETUP",
		Subject:   security.MaskIdentifier(username),
		Stage:     "challenge",
		Success:   success,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if logErr := d.audit.Log(ev); logErr != nil {
		d.logger.Warn("audit write failed", "error", logErr)
	}
}
