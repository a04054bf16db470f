// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package typing

import (
	"fmt"
	"math"

	"github.com/jeranaias/trisecure/internal/storage"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultTolerance is the accepted WPM deviation from the baseline.
	DefaultTolerance = 25

	// DefaultMinStdDevMs is the interval standard deviation below which a
	// sample is treated as automated.
	DefaultMinStdDevMs = 8.0

	// MinIntervalsForStdDev is the sample size required for the automation check.
	MinIntervalsForStdDev = 3
)

// =============================================================================
// MEASUREMENTS
// =============================================================================

// ComputeWPM converts characters typed over a duration into words per minute,
// counting five characters per word. Returns 0 when durationSeconds <= 0.
func ComputeWPM(totalChars int, durationSeconds float64) int {
	if durationSeconds <= 0 {
		return 0
	}
	words := float64(totalChars) / 5.0
	minutes := durationSeconds / 60.0
	return int(math.Round(words / minutes))
}

// PopulationStdDev returns the population standard deviation of the samples.
func PopulationStdDev(samples []int64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	mean := sum / float64(len(samples))

	var sq float64
	for _, s := range samples {
		d := float64(s) - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(samples)))
}

// =============================================================================
// ASSESSMENT
// =============================================================================

// Decision is the outcome of a typing-risk check.
type Decision int

const (
	// DecisionRecord means no baseline existed; the sample becomes the baseline.
	DecisionRecord Decision = iota
	// DecisionAccept means the sample matches the stored baseline.
	DecisionAccept
	// DecisionSpeedMismatch means WPM fell outside the tolerance window.
	DecisionSpeedMismatch
	// DecisionAutomation means the keystroke rhythm is too uniform to be human.
	DecisionAutomation
)

// String returns the decision name used in audit events.
func (d Decision) String() string {
	switch d {
	case DecisionRecord:
		return "record"
	case DecisionAccept:
		return "accept"
	case DecisionSpeedMismatch:
		return "speed_mismatch"
	case DecisionAutomation:
		return "automation"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Accepted reports whether the login may continue.
func (d Decision) Accepted() bool {
	return d == DecisionRecord || d == DecisionAccept
}

// Assessment is the measured login sample plus the decision.
type Assessment struct {
	Decision    Decision
	WPM         int
	BaselineWPM int
	Intervals   []int64
	StdDevMs    float64 // NaN when fewer than MinIntervalsForStdDev intervals
}

// Reason renders a user-facing explanation.
func (a Assessment) Reason() string {
	switch a.Decision {
	case DecisionRecord:
		return fmt.Sprintf("typing profile recorded: %d wpm", a.WPM)
	case DecisionAccept:
		return "typing profile matched"
	case DecisionSpeedMismatch:
		return fmt.Sprintf("typing speed mismatch: recorded %d wpm, now %d wpm", a.BaselineWPM, a.WPM)
	case DecisionAutomation:
		return "keystroke timing looks artificial"
	default:
		return a.Decision.String()
	}
}

// Profiler scores login typing rhythm against a stored profile.
type Profiler struct {
	Tolerance   int
	MinStdDevMs float64
}

// NewProfiler returns a profiler with the given thresholds. Non-positive
// values fall back to the defaults.
func NewProfiler(tolerance int, minStdDevMs float64) *Profiler {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if minStdDevMs <= 0 {
		minStdDevMs = DefaultMinStdDevMs
	}
	return &Profiler{Tolerance: tolerance, MinStdDevMs: minStdDevMs}
}

// Measure combines the username and password samples: total characters over
// the summed durations, intervals username-first.
func Measure(username, password Sample) (wpm int, intervals []int64) {
	chars := username.Chars() + password.Chars()
	seconds := (username.Duration + password.Duration).Seconds()

	intervals = make([]int64, 0, len(username.Intervals)+len(password.Intervals))
	intervals = append(intervals, username.Intervals...)
	intervals = append(intervals, password.Intervals...)
	return ComputeWPM(chars, seconds), intervals
}

// Assess decides whether a login sample is acceptable. A missing baseline
// (nil or zero WPM) always yields DecisionRecord without comparison.
func (p *Profiler) Assess(baseline *storage.TypingProfile, username, password Sample) Assessment {
	wpm, intervals := Measure(username, password)
	a := Assessment{WPM: wpm, Intervals: intervals, StdDevMs: math.NaN()}

	if !baseline.Recorded() {
		a.Decision = DecisionRecord
		return a
	}
	a.BaselineWPM = baseline.BaselineWPM

	if wpm < baseline.BaselineWPM-p.Tolerance || wpm > baseline.BaselineWPM+p.Tolerance {
		a.Decision = DecisionSpeedMismatch
		return a
	}

	if len(intervals) >= MinIntervalsForStdDev {
		a.StdDevMs = PopulationStdDev(intervals)
		if a.StdDevMs < p.MinStdDevMs {
			a.Decision = DecisionAutomation
			return a
		}
	}

	a.Decision = DecisionAccept
	return a
}
