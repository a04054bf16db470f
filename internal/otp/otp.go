// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package otp delivers short one-time codes and collects the operator's
// answer.
//
// Codes are time-based (pquerna/otp/totp) over a fresh random secret per
// challenge, so nothing needs to be stored between delivery and comparison.
// Deliveries per destination are rate limited.
package otp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/time/rate"

	"github.com/jeranaias/trisecure/internal/security"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultDigits is the code length.
	DefaultDigits = 4

	// DefaultMaxAttempts is how many answers are accepted per delivery.
	DefaultMaxAttempts = 3

	// DefaultPeriod is the code validity window.
	DefaultPeriod = 5 * time.Minute

	// DefaultResendInterval is the minimum gap between deliveries to one
	// destination.
	DefaultResendInterval = 30 * time.Second

	issuer = "trisecure"
)

// ErrRateLimited is returned when a destination is asked for codes too often.
var ErrRateLimited = errors.New("too many one-time codes requested, try again later")

// =============================================================================
// COLLABORATORS
// =============================================================================

// Sender delivers a code to a destination (phone number, address).
type Sender interface {
	Send(ctx context.Context, destination, code string) error
}

// Collector asks the operator for the code they received. It returns
// security.ErrAborted when the operator cancels.
type Collector func(ctx context.Context, attempt int) (string, error)

// ConsoleSender prints codes to a writer. Stands in for an SMS gateway.
type ConsoleSender struct {
	Out io.Writer
}

// Send writes the code and a masked destination.
func (c ConsoleSender) Send(_ context.Context, destination, code string) error {
	_, err := fmt.Fprintf(c.Out, "One-time code sent to %s: %s\n", MaskDestination(destination), code)
	return err
}

// MaskDestination keeps the first three and last three characters.
func MaskDestination(dest string) string {
	r := []rune(dest)
	if len(r) <= 6 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:3]) + strings.Repeat("*", len(r)-6) + string(r[len(r)-3:])
}

// =============================================================================
// SERVICE
// =============================================================================

// Service issues and checks one-time codes.
type Service struct {
	sender      Sender
	digits      int
	period      time.Duration
	maxAttempts int
	resendEvery time.Duration
	now         func() time.Time
	logger      *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option configures a Service.
type Option func(*Service)

// WithDigits sets the code length.
func WithDigits(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.digits = n
		}
	}
}

// WithMaxAttempts sets how many answers are accepted per delivery.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithPeriod sets the code validity window.
func WithPeriod(d time.Duration) Option {
	return func(s *Service) {
		if d >= time.Second {
			s.period = d
		}
	}
}

// WithResendInterval sets the per-destination delivery rate. Zero disables
// the limit.
func WithResendInterval(d time.Duration) Option {
	return func(s *Service) { s.resendEvery = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service that delivers through sender.
func NewService(sender Sender, opts ...Option) *Service {
	s := &Service{
		sender:      sender,
		digits:      DefaultDigits,
		period:      DefaultPeriod,
		maxAttempts: DefaultMaxAttempts,
		resendEvery: DefaultResendInterval,
		now:         time.Now,
		logger:      slog.Default(),
		limiters:    make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Challenge is one issued code. The secret never leaves the process.
type Challenge struct {
	destination string
	secret      string
	issuedAt    time.Time
}

func (s *Service) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    uint(s.period / time.Second),
		Skew:      1,
		Digits:    otp.Digits(s.digits),
		Algorithm: otp.AlgorithmSHA1,
	}
}

// Issue creates a code for destination and returns it with its challenge.
func (s *Service) Issue(destination string) (*Challenge, string, error) {
	if !s.allow(destination) {
		return nil, "", ErrRateLimited
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: destination,
		Period:      uint(s.period / time.Second),
		Digits:      otp.Digits(s.digits),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to create one-time secret: %w", err)
	}

	ch := &Challenge{destination: destination, secret: key.Secret(), issuedAt: s.now()}
	code, err := totp.GenerateCodeCustom(ch.secret, ch.issuedAt, s.validateOpts())
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate one-time code: %w", err)
	}
	return ch, code, nil
}

// Check compares a candidate code with the challenge.
func (s *Service) Check(ch *Challenge, candidate string) bool {
	if ch == nil {
		return false
	}
	ok, err := totp.ValidateCustom(strings.TrimSpace(candidate), ch.secret, s.now(), s.validateOpts())
	return err == nil && ok
}

// DeliverAndCollect sends a fresh code to destination and gives the operator
// up to maxAttempts answers. It returns nil on a match,
// security.ErrAborted when the operator cancels, and a wrapped
// security.ErrCredentialMismatch when the attempts run out.
func (s *Service) DeliverAndCollect(ctx context.Context, destination string, collect Collector) error {
	ch, code, err := s.Issue(destination)
	if err != nil {
		return err
	}
	if err := s.sender.Send(ctx, destination, code); err != nil {
		return fmt.Errorf("failed to deliver one-time code: %w", err)
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		candidate, err := collect(ctx, attempt)
		if err != nil {
			return err
		}
		if s.Check(ch, candidate) {
			return nil
		}
		s.logger.Debug("one-time code mismatch", "attempt", attempt, "max", s.maxAttempts)
	}
	return fmt.Errorf("%w: one-time code attempts exhausted", security.ErrCredentialMismatch)
}

// MaxAttempts returns the per-delivery answer limit.
func (s *Service) MaxAttempts() int { return s.maxAttempts }

func (s *Service) allow(destination string) bool {
	if s.resendEvery <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.limiters[destination]
	if !ok {
		l = rate.NewLimiter(rate.Every(s.resendEvery), 1)
		s.limiters[destination] = l
	}
	return l.AllowN(s.now(), 1)
}
