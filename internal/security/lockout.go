// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security provides the shared authentication error taxonomy,
// the escalating challenge lockout and the authentication audit log.
//
// This file implements the escalating lockout that guards the card challenge.
//
// # Lockout Policy
//
//   - Every 3rd consecutive failure starts a lock cycle
//   - Lock cycles block the caller for 60s, then 120s, then 180s, ...
//   - The 3rd lock cycle ends the session: retry after 24 hours
//   - State is session-scoped and never persisted
package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"
)

// =============================================================================
// LOCKOUT CONSTANTS
// =============================================================================

const (
	// DefaultFailuresPerCycle is the number of failures that starts a lock cycle.
	DefaultFailuresPerCycle = 3

	// DefaultBaseLock is the first lock duration.
	DefaultBaseLock = 60 * time.Second

	// DefaultLockStep is added to the lock duration after every cycle.
	DefaultLockStep = 60 * time.Second

	// DefaultMaxLockCycles is the cycle count that terminates the session.
	DefaultMaxLockCycles = 3

	// LockedOutRetryAfter is how long a locked-out principal is told to wait.
	LockedOutRetryAfter = 24 * time.Hour
)

// =============================================================================
// LOCKOUT VERDICT
// =============================================================================

// LockoutVerdict is the consequence of a recorded failure.
type LockoutVerdict int

const (
	// VerdictRetry allows an immediate new attempt.
	VerdictRetry LockoutVerdict = iota

	// VerdictLocked requires the caller to wait before the next attempt.
	VerdictLocked

	// VerdictLockedOut terminates the session.
	VerdictLockedOut
)

// String returns the verdict name.
func (v LockoutVerdict) String() string {
	switch v {
	case VerdictRetry:
		return "retry"
	case VerdictLocked:
		return "locked"
	case VerdictLockedOut:
		return "locked_out"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// LockoutStep describes the state after one recorded failure.
type LockoutStep struct {
	Verdict  LockoutVerdict
	Wait     time.Duration // only set for VerdictLocked
	Failures int
	Cycles   int
}

// =============================================================================
// ESCALATING LOCKOUT
// =============================================================================

// LockoutPolicy holds the escalation parameters.
type LockoutPolicy struct {
	FailuresPerCycle int
	BaseLock         time.Duration
	Step             time.Duration
	MaxCycles        int
}

// DefaultLockoutPolicy returns 3 failures per cycle, 60s base, +60s per cycle, 3 cycles.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		FailuresPerCycle: DefaultFailuresPerCycle,
		BaseLock:         DefaultBaseLock,
		Step:             DefaultLockStep,
		MaxCycles:        DefaultMaxLockCycles,
	}
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// EscalatingLockout tracks failures for a single verification session.
// A new value must be created per session; counters are never shared.
type EscalatingLockout struct {
	mu sync.Mutex

	policy LockoutPolicy

	failCount   int
	lockCycles  int
	currentLock time.Duration
	terminated  bool

	sleep       SleepFunc
	auditLogger *AuditLogger
	subject     string
}

// LockoutOption configures an EscalatingLockout.
type LockoutOption func(*EscalatingLockout)

// WithLockoutPolicy replaces the default policy. Non-positive fields keep their defaults.
func WithLockoutPolicy(p LockoutPolicy) LockoutOption {
	return func(l *EscalatingLockout) {
		if p.FailuresPerCycle > 0 {
			l.policy.FailuresPerCycle = p.FailuresPerCycle
		}
		if p.BaseLock > 0 {
			l.policy.BaseLock = p.BaseLock
		}
		if p.Step >= 0 {
			l.policy.Step = p.Step
		}
		if p.MaxCycles > 0 {
			l.policy.MaxCycles = p.MaxCycles
		}
	}
}

// WithSleep overrides the wait implementation (tests use a recorder).
func WithSleep(fn SleepFunc) LockoutOption {
	return func(l *EscalatingLockout) {
		if fn != nil {
			l.sleep = fn
		}
	}
}

// WithLockoutAudit sets the audit logger and the subject recorded with each event.
func WithLockoutAudit(logger *AuditLogger, subject string) LockoutOption {
	return func(l *EscalatingLockout) {
		l.auditLogger = logger
		l.subject = subject
	}
}

// NewEscalatingLockout creates a lockout with the default policy.
func NewEscalatingLockout(opts ...LockoutOption) *EscalatingLockout {
	l := &EscalatingLockout{
		policy: DefaultLockoutPolicy(),
		sleep:  ContextSleep,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.currentLock = l.policy.BaseLock
	return l
}

// RecordFailure counts a failure and returns what the caller must do next.
func (l *EscalatingLockout) RecordFailure() LockoutStep {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.terminated {
		return l.stepLocked(VerdictLockedOut, 0)
	}

	l.failCount++
	l.logEvent("CHALLENGE_FAILURE", map[string]string{
		"fail_count": fmt.Sprintf("%d", l.failCount),
	})

	if l.failCount%l.policy.FailuresPerCycle != 0 {
		return l.stepLocked(VerdictRetry, 0)
	}

	l.lockCycles++
	if l.lockCycles >= l.policy.MaxCycles {
		l.terminated = true
		l.logEvent("CHALLENGE_LOCKED_OUT", map[string]string{
			"lock_cycles": fmt.Sprintf("%d", l.lockCycles),
			"retry_after": LockedOutRetryAfter.String(),
		})
		return l.stepLocked(VerdictLockedOut, 0)
	}

	wait := l.currentLock
	l.currentLock += l.policy.Step
	l.logEvent("CHALLENGE_LOCK", map[string]string{
		"duration":    wait.String(),
		"lock_cycles": fmt.Sprintf("%d", l.lockCycles),
	})
	return l.stepLocked(VerdictLocked, wait)
}

// Wait blocks the calling flow for d. The wait ends early only if ctx is done.
func (l *EscalatingLockout) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return l.sleep(ctx, d)
}

// Terminated reports whether the session hit the cycle limit.
func (l *EscalatingLockout) Terminated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.terminated
}

// Failures returns the failure count for this session.
func (l *EscalatingLockout) Failures() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failCount
}

// Cycles returns the completed lock cycles.
func (l *EscalatingLockout) Cycles() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lockCycles
}

// NextLock returns the duration the next lock cycle would impose.
func (l *EscalatingLockout) NextLock() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentLock
}

func (l *EscalatingLockout) stepLocked(v LockoutVerdict, wait time.Duration) LockoutStep {
	return LockoutStep{
		Verdict:  v,
		Wait:     wait,
		Failures: l.failCount,
		Cycles:   l.lockCycles,
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// ContextSleep waits for d, returning ctx.Err() if ctx finishes first.
func ContextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *EscalatingLockout) logEvent(eventType string, metadata map[string]string) {
	if l.auditLogger == nil || !l.auditLogger.IsEnabled() {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		Subject:   MaskIdentifier(l.subject),
		Success:   false,
		Metadata:  metadata,
	}

	if err := l.auditLogger.Log(event); err != nil {
		fmt.Fprintf(os.Stderr, "AUDIT ERROR: failed to log lockout event %s: %v\n", eventType, err)
	}
}

// MaskIdentifier hashes an identifier for logs so usernames never appear in clear.
func MaskIdentifier(id string) string {
	if id == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(id))
	return "hash:" + hex.EncodeToString(hash[:])[:12]
}
