// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/trisecure/internal/logging"
	"github.com/jeranaias/trisecure/internal/passkey"
	"github.com/jeranaias/trisecure/internal/security"
	"github.com/jeranaias/trisecure/internal/storage"
	"github.com/jeranaias/trisecure/internal/typing"
)

// =============================================================================
// STAGE 1: CREDENTIALS
// =============================================================================

func (p *Pipeline) credentials(ctx context.Context, s *session) error {
	for attempt := 1; attempt <= p.attempts; attempt++ {
		user, err := p.term.CaptureKeystrokes(ctx, "Username", false)
		if err != nil {
			return err
		}
		pass, err := p.term.CaptureKeystrokes(ctx, "Password", true)
		if err != nil {
			return err
		}

		identity, err := p.store.FindByCredentials(ctx, user.Text, pass.Text)
		if err == nil {
			s.identity = identity
			s.username, s.password = user, pass
			return nil
		}
		if !errors.Is(err, security.ErrNotFound) {
			return err
		}
		if attempt < p.attempts {
			p.term.Say(fmt.Sprintf("Invalid username or password. Attempts left: %d", p.attempts-attempt))
		}
	}
	p.term.Say("Invalid username or password.")
	return security.ErrCredentialMismatch
}

// =============================================================================
// STAGE 2: RECOVERY CODE-WORD
// =============================================================================

var folder = cases.Fold()

// NormalizeCodeWord trims, NFKC-normalises and case-folds a code word.
func NormalizeCodeWord(s string) string {
	return folder.String(norm.NFKC.String(strings.TrimSpace(s)))
}

func (p *Pipeline) codeWord(ctx context.Context, s *session) error {
	want := NormalizeCodeWord(s.identity.CodeWord)
	for attempt := 1; attempt <= p.attempts; attempt++ {
		answer, err := p.term.Ask(ctx, "What is your code word?")
		if err != nil {
			return err
		}
		if NormalizeCodeWord(answer) == want {
			return nil
		}
		if attempt < p.attempts {
			p.term.Say(fmt.Sprintf("Wrong code word. Attempts left: %d", p.attempts-attempt))
		}
	}
	p.term.Say("Wrong code word.")
	return security.ErrCredentialMismatch
}

// =============================================================================
// OPTIONAL: ONE-TIME CODE
// =============================================================================

func (p *Pipeline) oneTimeCode(ctx context.Context, s *session) error {
	if p.otp == nil {
		return errors.New("one-time code stage enabled without a delivery service")
	}
	return p.otp.DeliverAndCollect(ctx, s.identity.Phone, func(ctx context.Context, attempt int) (string, error) {
		if attempt > 1 {
			p.term.Say("Wrong one-time code.")
		}
		return p.term.Ask(ctx, "Enter one-time code")
	})
}

// =============================================================================
// STAGE 3: TYPING RISK
// =============================================================================

func (p *Pipeline) typingRisk(ctx context.Context, s *session) error {
	a := p.profiler.Assess(s.identity.Typing, s.username, s.password)
	s.result.Typing = &a
	p.metrics.ObserveWPM(a.WPM)

	if !a.Decision.Accepted() {
		p.term.Say(a.Reason() + ". Access denied.")
		return fmt.Errorf("%w: %s", security.ErrRiskRejected, a.Decision)
	}

	if a.Decision == typing.DecisionRecord {
		written, err := p.store.SetTypingProfile(ctx, s.identity.Username, storage.TypingProfile{
			BaselineWPM:       a.WPM,
			BaselineIntervals: a.Intervals,
		})
		if err != nil {
			return fmt.Errorf("failed to store typing profile: %w", err)
		}
		if written {
			s.identity.Typing = &storage.TypingProfile{BaselineWPM: a.WPM, BaselineIntervals: a.Intervals}
		}
	}
	logging.L(ctx).Debug("typing assessed", "decision", a.Decision.String(), "wpm", a.WPM)
	p.term.Say(a.Reason() + ".")
	return nil
}

// =============================================================================
// STAGE 4: CARD CHALLENGE
// =============================================================================

func (p *Pipeline) challenge(ctx context.Context, s *session) error {
	if s.identity.Passkey == nil {
		return p.setupPasskey(ctx, s)
	}
	return p.verifyPasskey(ctx, s)
}

func (p *Pipeline) setupPasskey(ctx context.Context, s *session) error {
	p.term.Say("No passkey yet. Pick 7 different cards in an order you will remember.")
	deck := passkey.Deck()

	var selection []passkey.Card
	for selection == nil {
		names, err := p.term.PickCards(ctx, "Select 7 cards in order", deck)
		if err != nil {
			return err
		}
		cards, err := passkey.ValidateSelection(names)
		if err != nil {
			p.term.Say(err.Error())
			continue
		}
		selection = cards
	}

	deriver := passkey.NewDeriver(p.store,
		passkey.WithSource(p.src),
		passkey.WithLogger(logging.L(ctx)),
		passkey.WithAudit(p.audit),
	)
	res, err := deriver.Setup(ctx, s.identity.Username, selection)
	if err != nil {
		return err
	}
	s.result.PasskeySetup = res
	s.identity.Passkey = &res.Profile
	p.term.Say(fmt.Sprintf("Your passkey is %s (cards: %s). Keep both secret.", res.Profile.Passkey, res.Mnemonic))
	return nil
}

func (p *Pipeline) verifyPasskey(ctx context.Context, s *session) error {
	lockout := security.NewEscalatingLockout(
		security.WithLockoutPolicy(p.policy),
		security.WithSleep(p.sleep),
		security.WithLockoutAudit(p.audit, s.identity.Username),
	)
	v, err := passkey.NewVerifier(p.store, s.identity,
		passkey.WithLockout(lockout),
		passkey.WithVerifierSource(p.src),
		passkey.WithVerifierLogger(logging.L(ctx)),
		passkey.WithLockNotify(func(d time.Duration) {
			p.metrics.Lock(security.VerdictLocked.String())
			p.term.Say(fmt.Sprintf("Too many failed attempts. Locked for %s.", d))
		}),
	)
	if err != nil {
		return err
	}

	for {
		deck, err := v.Begin()
		if err != nil {
			return err
		}

		for {
			names, err := p.term.PickCards(ctx, "Re-select your 7 cards in order", deck)
			if err != nil {
				return err
			}
			err = v.SubmitSelection(names)
			if err == nil {
				break
			}
			if !errors.Is(err, security.ErrValidation) {
				return err
			}
			p.term.Say(err.Error())
		}

		entered, err := p.term.AskSecret(ctx, "Enter your passkey")
		if err != nil {
			return err
		}

		err = v.SubmitPasskey(ctx, strings.TrimSpace(entered))
		switch {
		case err == nil:
			p.term.Say("Card challenge passed.")
			return nil
		case errors.Is(err, security.ErrChallengeMismatch):
			p.term.Say("Incorrect sequence or passkey.")
		case errors.Is(err, security.ErrLockedOut):
			p.metrics.Lock(security.VerdictLockedOut.String())
			p.term.Say("Trying limit reached. Retry after 24 hours.")
			return err
		default:
			return err
		}
	}
}
