// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package typing captures keystroke timing and scores typing rhythm.
//
// A Recorder turns raw key events into a Sample (text, inter-key intervals in
// milliseconds, total duration). The Profiler compares a login's combined
// username+password sample with the stored TypingProfile:
//
//   - no stored baseline: record the sample and accept
//   - WPM outside baseline ± tolerance: reject
//   - 3+ intervals with population stddev below the floor: reject as automation
//
// Usage:
//
//	p := typing.NewProfiler(25, 8)
//	a := p.Assess(identity.Typing, userSample, passSample)
//	if !a.Decision.Accepted() {
//	    return security.ErrRiskRejected
//	}
package typing
