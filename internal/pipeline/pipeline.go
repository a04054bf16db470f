// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/trisecure/internal/logging"
	"github.com/jeranaias/trisecure/internal/metrics"
	"github.com/jeranaias/trisecure/internal/otp"
	"github.com/jeranaias/trisecure/internal/passkey"
	"github.com/jeranaias/trisecure/internal/security"
	"github.com/jeranaias/trisecure/internal/storage"
	"github.com/jeranaias/trisecure/internal/typing"
)

// =============================================================================
// OUTCOMES
// =============================================================================

// Decision is the final result of a session.
type Decision int

const (
	Rejected Decision = iota
	Granted
	Aborted
	LockedOut
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case Granted:
		return "granted"
	case Rejected:
		return "rejected"
	case Aborted:
		return "aborted"
	case LockedOut:
		return "locked_out"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Stage names a pipeline stage.
type Stage string

const (
	StageCredentials Stage = "credentials"
	StageCodeWord    Stage = "code_word"
	StageOneTimeCode Stage = "one_time_code"
	StageTyping      Stage = "typing"
	StageChallenge   Stage = "challenge"
)

// Result is the outcome of Run.
type Result struct {
	SessionID string
	Decision  Decision
	Identity  *storage.Identity // set when Granted
	Stage     Stage             // last stage reached
	Err       error             // cause when not Granted

	Typing       *typing.Assessment
	PasskeySetup *passkey.SetupResult // set when the challenge ran in setup mode
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// Terminal is the operator-facing side of a session. Every method returns
// security.ErrAborted when the operator cancels.
type Terminal interface {
	// CaptureKeystrokes reads one field with per-key timing.
	CaptureKeystrokes(ctx context.Context, label string, masked bool) (typing.Sample, error)
	Ask(ctx context.Context, label string) (string, error)
	AskSecret(ctx context.Context, label string) (string, error)
	// PickCards shows deck and returns the names picked, in order.
	PickCards(ctx context.Context, label string, deck []passkey.Card) ([]string, error)
	Say(msg string)
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Stages toggles the optional stages. Credentials always run.
type Stages struct {
	CodeWord    bool
	OneTimeCode bool
	Typing      bool
	Challenge   bool
}

// DefaultStages enables everything except the one-time code.
func DefaultStages() Stages {
	return Stages{CodeWord: true, Typing: true, Challenge: true}
}

// DefaultAttempts is the retry budget for the credential and code-word stages.
const DefaultAttempts = 3

// Pipeline runs authentication sessions against one store.
type Pipeline struct {
	store    storage.Store
	term     Terminal
	stages   Stages
	attempts int
	profiler *typing.Profiler
	policy   security.LockoutPolicy
	sleep    security.SleepFunc
	otp      *otp.Service
	src      passkey.IntSource
	logger   *slog.Logger
	audit    *security.AuditLogger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStages selects the optional stages.
func WithStages(s Stages) Option { return func(p *Pipeline) { p.stages = s } }

// WithAttempts sets the credential and code-word retry budget.
func WithAttempts(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.attempts = n
		}
	}
}

// WithProfiler sets the typing thresholds.
func WithProfiler(pr *typing.Profiler) Option { return func(p *Pipeline) { p.profiler = pr } }

// WithLockoutPolicy sets the card-challenge lockout policy.
func WithLockoutPolicy(pol security.LockoutPolicy) Option {
	return func(p *Pipeline) { p.policy = pol }
}

// WithSleep replaces the blocking lock wait.
func WithSleep(fn security.SleepFunc) Option { return func(p *Pipeline) { p.sleep = fn } }

// WithOTP supplies the one-time code service used when the stage is enabled.
func WithOTP(svc *otp.Service) Option { return func(p *Pipeline) { p.otp = svc } }

// WithSource overrides randomness for shuffles and passkey setup.
func WithSource(src passkey.IntSource) Option { return func(p *Pipeline) { p.src = src } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithAudit records session events.
func WithAudit(a *security.AuditLogger) Option { return func(p *Pipeline) { p.audit = a } }

// WithMetrics counts stage and session outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// New creates a Pipeline.
func New(store storage.Store, term Terminal, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    store,
		term:     term,
		stages:   DefaultStages(),
		attempts: DefaultAttempts,
		profiler: typing.NewProfiler(typing.DefaultTolerance, typing.DefaultMinStdDevMs),
		policy:   security.DefaultLockoutPolicy(),
		sleep:    security.ContextSleep,
		src:      passkey.DefaultSource(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// =============================================================================
// RUN
// =============================================================================

// session carries per-run state; nothing in it outlives Run.
type session struct {
	id       string
	identity *storage.Identity
	username typing.Sample
	password typing.Sample
	result   Result
}

// Run drives one session through the enabled stages, stopping at the first
// terminal outcome.
func (p *Pipeline) Run(ctx context.Context) Result {
	s := &session{id: uuid.NewString()}
	s.result.SessionID = s.id
	ctx = logging.WithSessionID(logging.WithLogger(ctx, p.logger), s.id)
	start := p.now()

	steps := []struct {
		stage   Stage
		enabled bool
		run     func(context.Context, *session) error
	}{
		{StageCredentials, true, p.credentials},
		{StageCodeWord, p.stages.CodeWord, p.codeWord},
		{StageOneTimeCode, p.stages.OneTimeCode, p.oneTimeCode},
		{StageTyping, p.stages.Typing, p.typingRisk},
		{StageChallenge, p.stages.Challenge, p.challenge},
	}

	for _, step := range steps {
		if !step.enabled {
			continue
		}
		s.result.Stage = step.stage
		err := step.run(ctx, s)
		p.stageOutcome(ctx, s, step.stage, err)
		if err != nil {
			return p.finish(ctx, s, classify(err), err, start)
		}
	}

	s.result.Identity = s.identity
	return p.finish(ctx, s, Granted, nil, start)
}

// classify maps a stage error to a session decision.
func classify(err error) Decision {
	switch {
	case errors.Is(err, security.ErrLockedOut):
		return LockedOut
	case errors.Is(err, security.ErrAborted),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return Aborted
	default:
		return Rejected
	}
}

func (p *Pipeline) stageOutcome(ctx context.Context, s *session, stage Stage, err error) {
	outcome := "passed"
	if err != nil {
		outcome = classify(err).String()
	}
	p.metrics.Stage(string(stage), outcome)
	logging.L(ctx).Debug("stage finished", "stage", stage, "outcome", outcome)
	p.auditEvent(s, "AUTH_STAGE", string(stage), err == nil, err, map[string]string{"outcome": outcome})
}

func (p *Pipeline) finish(ctx context.Context, s *session, d Decision, err error, start time.Time) Result {
	s.result.Decision = d
	s.result.Err = err
	if d != Granted {
		s.result.Identity = nil
	}

	p.metrics.Session(d.String())
	logging.L(ctx).Info("authentication finished",
		"decision", d.String(),
		"stage", s.result.Stage,
		"duration", p.now().Sub(start).Round(time.Millisecond),
	)
	p.auditEvent(s, "AUTH_"+strings.ToUpper(d.String()), string(s.result.Stage), d == Granted, err, nil)
	return s.result
}

func (p *Pipeline) auditEvent(s *session, eventType, stage string, success bool, err error, meta map[string]string) {
	if !p.audit.IsEnabled() {
		return
	}
	ev := security.AuditEvent{
		EventType: eventType,
		SessionID: s.id,
		Stage:     stage,
		Success:   success,
		Metadata:  meta,
	}
	if s.identity != nil {
		ev.Subject = security.MaskIdentifier(s.identity.Username)
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if logErr := p.audit.Log(ev); logErr != nil {
		p.logger.Warn("audit write failed", "error", logErr)
	}
}
