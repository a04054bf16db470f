// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package passkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/trisecure/internal/security"
	"github.com/jeranaias/trisecure/internal/storage"
)

// =============================================================================
// STATES
// =============================================================================

// State is a challenge-verifier state.
type State int

const (
	StateAwaitingSelection State = iota
	StateAwaitingPasskeyEntry
	StateGranted
	StateRejected
	StateLocked
	StateLockedOut
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAwaitingSelection:
		return "AwaitingSelection"
	case StateAwaitingPasskeyEntry:
		return "AwaitingPasskeyEntry"
	case StateGranted:
		return "Granted"
	case StateRejected:
		return "Rejected"
	case StateLocked:
		return "Locked"
	case StateLockedOut:
		return "LockedOut"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Transition is one entry of the verifier's outcome trail.
type Transition struct {
	State State
	Wait  time.Duration // set for StateLocked
}

func (t Transition) String() string {
	if t.State == StateLocked {
		return fmt.Sprintf("Locked(%d)", int(t.Wait.Seconds()))
	}
	return t.State.String()
}

// ErrWrongState is returned when an operation does not fit the current state.
var ErrWrongState = errors.New("challenge is not expecting this input")

// =============================================================================
// VERIFIER
// =============================================================================

// Verifier runs the verify-mode card challenge for one session.
type Verifier struct {
	mu sync.Mutex

	store    storage.Store
	username string
	profile  storage.PasskeyProfile
	lockout  *security.EscalatingLockout
	src      IntSource
	logger   *slog.Logger
	onLock   func(time.Duration)

	state     State
	presented []Card
	selection []Card
	trail     []Transition
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierSource overrides the shuffle source.
func WithVerifierSource(src IntSource) VerifierOption {
	return func(v *Verifier) { v.src = src }
}

// WithLockout supplies the session lockout. By default each verifier gets its
// own EscalatingLockout with default policy.
func WithLockout(l *security.EscalatingLockout) VerifierOption {
	return func(v *Verifier) { v.lockout = l }
}

// WithVerifierLogger sets the structured logger.
func WithVerifierLogger(l *slog.Logger) VerifierOption {
	return func(v *Verifier) { v.logger = l }
}

// WithLockNotify is called before each blocking lock wait.
func WithLockNotify(fn func(time.Duration)) VerifierOption {
	return func(v *Verifier) { v.onLock = fn }
}

// NewVerifier prepares a challenge against identity's stored passkey profile.
func NewVerifier(store storage.Store, identity *storage.Identity, opts ...VerifierOption) (*Verifier, error) {
	if identity == nil || identity.Passkey == nil {
		return nil, errors.New("identity has no passkey profile")
	}
	v := &Verifier{
		store:    store,
		username: identity.Username,
		profile:  *identity.Passkey,
		src:      DefaultSource(),
		logger:   slog.Default(),
		state:    StateAwaitingSelection,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.lockout == nil {
		v.lockout = security.NewEscalatingLockout()
	}
	return v, nil
}

// Begin starts an attempt and returns the freshly shuffled deck to present.
func (v *Verifier) Begin() ([]Card, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch v.state {
	case StateLockedOut:
		return nil, security.ErrLockedOut
	case StateGranted:
		return nil, ErrWrongState
	}
	v.presented = Shuffle(v.src)
	v.selection = nil
	v.state = StateAwaitingSelection
	return append([]Card(nil), v.presented...), nil
}

// SubmitSelection records the operator's seven cards. Malformed selections
// (wrong count, duplicates, names outside the deck) return a ValidationError,
// leave the state unchanged and do not count as a failed attempt.
func (v *Verifier) SubmitSelection(names []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != StateAwaitingSelection {
		return ErrWrongState
	}
	cards, err := ValidateSelection(names)
	if err != nil {
		return err
	}
	v.selection = cards
	v.state = StateAwaitingPasskeyEntry
	return nil
}

// SubmitPasskey compares the attempt with the stored profile.
//
// It returns nil when granted, security.ErrChallengeMismatch on an ordinary
// failure, and security.ErrLockedOut once the lockout is exhausted. When a
// failure completes a lock cycle, SubmitPasskey blocks for the lock duration
// before returning.
func (v *Verifier) SubmitPasskey(ctx context.Context, entered string) error {
	v.mu.Lock()
	if v.state != StateAwaitingPasskeyEntry {
		v.mu.Unlock()
		return ErrWrongState
	}

	v.recordObserved(ctx)

	if v.matches(entered) {
		v.state = StateGranted
		v.trail = append(v.trail, Transition{State: StateGranted})
		v.mu.Unlock()
		return nil
	}

	step := v.lockout.RecordFailure()
	switch step.Verdict {
	case security.VerdictLockedOut:
		v.state = StateLockedOut
		v.trail = append(v.trail, Transition{State: StateLockedOut})
		v.mu.Unlock()
		return security.ErrLockedOut

	case security.VerdictLocked:
		v.trail = append(v.trail,
			Transition{State: StateRejected},
			Transition{State: StateLocked, Wait: step.Wait},
		)
		v.state = StateLocked
		onLock := v.onLock
		v.mu.Unlock()

		if onLock != nil {
			onLock(step.Wait)
		}
		if err := v.lockout.Wait(ctx, step.Wait); err != nil {
			return fmt.Errorf("%w: %v", security.ErrAborted, err)
		}

		v.mu.Lock()
		v.state = StateRejected
		v.mu.Unlock()
		return security.ErrChallengeMismatch

	default:
		v.state = StateRejected
		v.trail = append(v.trail, Transition{State: StateRejected})
		v.mu.Unlock()
		return security.ErrChallengeMismatch
	}
}

// Attempt runs Begin, SubmitSelection and SubmitPasskey in one call.
func (v *Verifier) Attempt(ctx context.Context, names []string, entered string) error {
	if _, err := v.Begin(); err != nil {
		return err
	}
	if err := v.SubmitSelection(names); err != nil {
		return err
	}
	return v.SubmitPasskey(ctx, entered)
}

// State returns the current state.
func (v *Verifier) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Trail returns every outcome recorded so far.
func (v *Verifier) Trail() []Transition {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Transition(nil), v.trail...)
}

// Failures returns the failure count of this session.
func (v *Verifier) Failures() int {
	return v.lockout.Failures()
}

// matches requires both halves; callers only learn the combined result.
func (v *Verifier) matches(entered string) bool {
	seqOK := len(v.selection) == len(v.profile.Sequence)
	if seqOK {
		for i, c := range v.selection {
			if !strings.EqualFold(strings.TrimSpace(string(c)), strings.TrimSpace(v.profile.Sequence[i])) {
				seqOK = false
				break
			}
		}
	}
	keyOK := entered == v.profile.Passkey
	return seqOK && keyOK
}

// recordObserved writes the debug mapping. Errors never affect acceptance.
func (v *Verifier) recordObserved(ctx context.Context) {
	obs := ObservedValues(v.profile)
	if err := v.store.RecordObservedValues(ctx, v.username, obs); err != nil {
		v.logger.Warn("failed to record observed values", "error", err)
	}
}

// ObservedValues pairs each stored sequence card with the passkey digit at
// the same index (first seven digits).
func ObservedValues(p storage.PasskeyProfile) []storage.ObservedValue {
	n := len(p.Sequence)
	if n > SelectionSize {
		n = SelectionSize
	}
	if n > len(p.Passkey) {
		n = len(p.Passkey)
	}
	out := make([]storage.ObservedValue, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, storage.ObservedValue{Card: p.Sequence[i], Digit: int(p.Passkey[i] - '0')})
	}
	return out
}
