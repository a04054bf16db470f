// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jeranaias/trisecure/internal/config"
	"github.com/jeranaias/trisecure/internal/logging"
	"github.com/jeranaias/trisecure/internal/metrics"
	"github.com/jeranaias/trisecure/internal/otp"
	"github.com/jeranaias/trisecure/internal/pipeline"
	"github.com/jeranaias/trisecure/internal/registration"
	"github.com/jeranaias/trisecure/internal/security"
	"github.com/jeranaias/trisecure/internal/storage"
	"github.com/jeranaias/trisecure/internal/typing"
)

// app holds everything a command needs, built from configuration.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   storage.Store
	audit   *security.AuditLogger
	metrics *metrics.Metrics
}

// loadConfig honours --config, otherwise the default location.
func loadConfig(args Args) (*config.Config, error) {
	if args.ConfigPath != "" {
		return config.LoadFromPath(args.ConfigPath)
	}
	return config.Load()
}

// newLogger builds the slog logger; --verbose and --quiet override the level.
func newLogger(cfg *config.Config, args Args) *slog.Logger {
	level := cfg.Logging.Level
	switch {
	case args.Verbose:
		level = "debug"
	case args.Quiet:
		level = "error"
	}
	return logging.New(level, cfg.Logging.Format, os.Stderr)
}

func openApp(ctx context.Context, args Args) (*app, error) {
	cfg, err := loadConfig(args)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		logger:  newLogger(cfg, args),
		metrics: metrics.New(),
	}

	opts := storage.Options{
		Backend: strings.ToLower(cfg.Storage.Backend),
		Path:    cfg.Storage.Path,
		DSN:     cfg.Storage.DSN,
	}
	if opts.Path == "" {
		opts.Path = config.DefaultDatabasePath()
	}
	a.store, err = storage.Open(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Storage.Backend, err)
	}
	a.logger.Debug("store opened", "backend", opts.Backend)

	if cfg.Audit.Enabled {
		a.audit, err = security.NewAuditLogger(cfg.Audit.Path)
		if err != nil {
			a.logger.Warn("audit log unavailable", "error", err)
		} else {
			a.logger.Debug("audit log opened", "path", a.audit.Path())
			a.audit.SetOnFailure(func(err error) {
				a.logger.Error("audit write failed", "error", err)
			})
		}
	}
	return a, nil
}

// otpService returns the one-time code service, delivering to the console.
func (a *app) otpService() *otp.Service {
	c := a.cfg.OTP
	return otp.NewService(otp.ConsoleSender{Out: stdout},
		otp.WithDigits(c.Digits),
		otp.WithMaxAttempts(c.MaxAttempts),
		otp.WithPeriod(time.Duration(c.PeriodSecs)*time.Second),
		otp.WithResendInterval(time.Duration(c.ResendIntervalSec)*time.Second),
		otp.WithLogger(a.logger),
	)
}

func (a *app) lockoutPolicy() security.LockoutPolicy {
	c := a.cfg.Challenge
	return security.LockoutPolicy{
		FailuresPerCycle: c.FailuresPerLock,
		BaseLock:         time.Duration(c.BaseLockSecs) * time.Second,
		Step:             time.Duration(c.LockStepSecs) * time.Second,
		MaxCycles:        c.MaxLocks,
	}
}

func (a *app) pipeline(term pipeline.Terminal) *pipeline.Pipeline {
	p := a.cfg.Pipeline
	opts := []pipeline.Option{
		pipeline.WithStages(pipeline.Stages{
			CodeWord:    p.CodeWord,
			OneTimeCode: p.OneTimeCode,
			Typing:      p.Typing,
			Challenge:   p.Challenge,
		}),
		pipeline.WithAttempts(p.Attempts),
		pipeline.WithProfiler(typing.NewProfiler(a.cfg.Typing.ToleranceWPM, a.cfg.Typing.MinStdDevMs)),
		pipeline.WithLockoutPolicy(a.lockoutPolicy()),
		pipeline.WithLogger(a.logger),
		pipeline.WithAudit(a.audit),
		pipeline.WithMetrics(a.metrics),
	}
	if p.OneTimeCode {
		opts = append(opts, pipeline.WithOTP(a.otpService()))
	}
	return pipeline.New(a.store, term, opts...)
}

func (a *app) registrar() *registration.Registrar {
	opts := []registration.Option{
		registration.WithFieldAttempts(a.cfg.Pipeline.Attempts),
		registration.WithLogger(a.logger),
		registration.WithAudit(a.audit),
		registration.WithMetrics(a.metrics),
	}
	if a.cfg.OTP.Registration {
		opts = append(opts, registration.WithOTP(a.otpService()))
	}
	return registration.New(a.store, opts...)
}

// Close flushes metrics and releases the store and audit log.
func (a *app) Close() {
	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := a.metrics.WriteTextfile(path); err != nil {
			a.logger.Warn("failed to write metrics", "path", path, "error", err)
		}
	}
	if a.audit != nil {
		if n := a.audit.FailureCount(); n > 0 {
			a.logger.Warn("audit log has unwritten events", "path", a.audit.Path(), "consecutive_failures", n)
		}
		if err := a.audit.Close(); err != nil {
			a.logger.Warn("failed to close audit log", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close store", "error", err)
		}
	}
}
