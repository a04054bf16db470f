// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registration enrols a new identity: personal details, phone
// verification by one-time code, recovery code-word and credentials.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jeranaias/trisecure/internal/metrics"
	"github.com/jeranaias/trisecure/internal/otp"
	"github.com/jeranaias/trisecure/internal/passkey"
	"github.com/jeranaias/trisecure/internal/security"
	"github.com/jeranaias/trisecure/internal/storage"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Prompter reads answers from the operator. Implementations return
// security.ErrAborted when the operator cancels.
type Prompter interface {
	Ask(ctx context.Context, label string) (string, error)
	AskSecret(ctx context.Context, label string) (string, error)
	Say(msg string)
}

// DefaultFieldAttempts is how often a malformed field may be re-entered.
const DefaultFieldAttempts = 3

// maxIDDraws bounds ID regeneration on collision.
const maxIDDraws = 16

// =============================================================================
// REGISTRAR
// =============================================================================

// Registrar runs the enrolment flow.
type Registrar struct {
	store    storage.Store
	otp      *otp.Service
	src      passkey.IntSource
	now      func() time.Time
	attempts int
	logger   *slog.Logger
	audit    *security.AuditLogger
	metrics  *metrics.Metrics
}

// Option configures a Registrar.
type Option func(*Registrar)

// WithOTP enables phone verification through svc. Without it the one-time
// code step is skipped.
func WithOTP(svc *otp.Service) Option { return func(r *Registrar) { r.otp = svc } }

// WithSource overrides the ID randomness.
func WithSource(src passkey.IntSource) Option { return func(r *Registrar) { r.src = src } }

// WithClock overrides the clock used for date checks and timestamps.
func WithClock(now func() time.Time) Option { return func(r *Registrar) { r.now = now } }

// WithFieldAttempts sets the per-field retry budget.
func WithFieldAttempts(n int) Option {
	return func(r *Registrar) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(r *Registrar) { r.logger = l } }

// WithAudit records registration events.
func WithAudit(a *security.AuditLogger) Option { return func(r *Registrar) { r.audit = a } }

// WithMetrics counts registrations.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Registrar) { r.metrics = m } }

// New creates a Registrar writing to store.
func New(store storage.Store, opts ...Option) *Registrar {
	r := &Registrar{
		store:    store,
		src:      passkey.DefaultSource(),
		now:      time.Now,
		attempts: DefaultFieldAttempts,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register collects the fields, verifies the phone and inserts the identity.
// Exhausting a field's attempts returns a wrapped security.ErrValidation; a
// taken username returns security.ErrDuplicateIdentifier.
func (r *Registrar) Register(ctx context.Context, p Prompter) (*storage.Identity, error) {
	id, err := r.register(ctx, p)
	r.record(id, err)
	return id, err
}

func (r *Registrar) register(ctx context.Context, p Prompter) (*storage.Identity, error) {
	first, err := p.Ask(ctx, "First Name")
	if err != nil {
		return nil, err
	}
	last, err := p.Ask(ctx, "Last Name")
	if err != nil {
		return nil, err
	}

	dob, err := r.askValid(ctx, p, "Date of Birth (dd/mm/yyyy)", func(s string) error {
		return ValidateDOB(s, r.now())
	})
	if err != nil {
		return nil, err
	}
	phone, err := r.askValid(ctx, p, "Phone Number", ValidatePhone)
	if err != nil {
		return nil, err
	}

	if r.otp != nil {
		err := r.otp.DeliverAndCollect(ctx, phone, func(ctx context.Context, attempt int) (string, error) {
			if attempt > 1 {
				p.Say("Wrong code. " + attemptsLeft(attempt-1, r.otp.MaxAttempts()))
			}
			return p.Ask(ctx, "Enter one-time code")
		})
		if err != nil {
			return nil, err
		}
	}

	codeWord, err := p.Ask(ctx, "Code Word (for recovery)")
	if err != nil {
		return nil, err
	}
	username, err := p.Ask(ctx, "Choose a Username")
	if err != nil {
		return nil, err
	}
	secret, err := p.AskSecret(ctx, "Choose a Password")
	if err != nil {
		return nil, err
	}
	username = strings.TrimSpace(username)
	secret = strings.TrimSpace(secret)
	if err := ValidateCredentials(username, secret); err != nil {
		return nil, err
	}

	if _, err := r.store.FindIdentity(ctx, username); err == nil {
		return nil, security.ErrDuplicateIdentifier
	} else if !errors.Is(err, security.ErrNotFound) {
		return nil, err
	}

	identityID, err := r.newID(ctx)
	if err != nil {
		return nil, err
	}

	identity := &storage.Identity{
		ID:          identityID,
		FirstName:   strings.TrimSpace(first),
		LastName:    strings.TrimSpace(last),
		DateOfBirth: strings.TrimSpace(dob),
		Phone:       strings.TrimSpace(phone),
		CodeWord:    strings.TrimSpace(codeWord),
		Username:    username,
		Secret:      secret,
		CreatedAt:   r.now().UTC(),
	}
	if err := r.store.CreateIdentity(ctx, identity); err != nil {
		return nil, err
	}
	return identity, nil
}

// askValid re-prompts until check passes or the attempts run out.
func (r *Registrar) askValid(ctx context.Context, p Prompter, label string, check func(string) error) (string, error) {
	var lastErr error
	for i := 1; i <= r.attempts; i++ {
		answer, err := p.Ask(ctx, label)
		if err != nil {
			return "", err
		}
		if lastErr = check(answer); lastErr == nil {
			return strings.TrimSpace(answer), nil
		}
		if i < r.attempts {
			p.Say(fmt.Sprintf("%v. %s", lastErr, attemptsLeft(i, r.attempts)))
		}
	}
	return "", fmt.Errorf("registration cancelled: %w", lastErr)
}

func (r *Registrar) newID(ctx context.Context) (string, error) {
	for i := 0; i < maxIDDraws; i++ {
		id := NewIdentityID(r.src)
		taken, err := r.store.IdentityIDExists(ctx, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("could not draw a free identity ID after %d tries", maxIDDraws)
}

func (r *Registrar) record(id *storage.Identity, err error) {
	outcome := "registered"
	switch {
	case err == nil:
	case errors.Is(err, security.ErrAborted):
		outcome = "aborted"
	case errors.Is(err, security.ErrDuplicateIdentifier):
		outcome = "duplicate"
	default:
		outcome = "rejected"
	}
	r.metrics.Registration(outcome)

	if err != nil {
		r.logger.Info("registration ended", "outcome", outcome, "error", err)
	} else {
		r.logger.Info("registration complete", "id", id.ID)
	}

	if !r.audit.IsEnabled() {
		return
	}
	ev := security.AuditEvent{EventType: "REGISTRATION", Stage: "registration", Success: err == nil,
		Metadata: map[string]string{"outcome": outcome}}
	if id != nil {
		ev.Subject = security.MaskIdentifier(id.Username)
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if logErr := r.audit.Log(ev); logErr != nil {
		r.logger.Warn("audit write failed", "error", logErr)
	}
}
