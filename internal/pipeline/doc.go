// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pipeline runs one login session through the authentication stages.
//
// Stages, in order:
//
//  1. credentials   username and password, captured with keystroke timing
//  2. code_word     recovery code word (optional)
//  3. one_time_code code sent to the registered phone (optional, off by default)
//  4. typing        speed and rhythm against the stored typing profile (optional)
//  5. challenge     card challenge; first run sets up the passkey (optional)
//
// The first failing stage ends the session. Every session ends in exactly one
// Decision: Granted, Rejected, Aborted or LockedOut. Lockout counters live in
// the session and are never shared between runs.
//
// Usage:
//
//	p := pipeline.New(store, term,
//	    pipeline.WithLogger(logger),
//	    pipeline.WithAudit(audit),
//	    pipeline.WithMetrics(m),
//	)
//	res := p.Run(ctx)
//	if res.Decision == pipeline.Granted {
//	    fmt.Println("welcome", res.Identity.DisplayName())
//	}
package pipeline
