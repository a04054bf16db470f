// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package typing

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/trisecure/internal/security"
	"github.com/jeranaias/trisecure/internal/storage"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// sampleWith types text with explicit millisecond gaps between keystrokes.
func sampleWith(text string, gaps ...int64) Sample {
	stamps := []time.Time{t0}
	at := t0
	for _, g := range gaps {
		at = at.Add(time.Duration(g) * time.Millisecond)
		stamps = append(stamps, at)
	}
	return BuildSample(text, stamps)
}

// =============================================================================
// WPM / STDDEV
// =============================================================================

func TestComputeWPM(t *testing.T) {
	tests := []struct {
		chars   int
		seconds float64
		want    int
	}{
		{0, 10, 0},
		{50, 0, 0},
		{50, -1, 0},
		{50, 60, 10},
		{13, 3.2, 49},
		{25, 30, 10},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ComputeWPM(tt.chars, tt.seconds), "ComputeWPM(%d, %v)", tt.chars, tt.seconds)
	}
}

func TestPopulationStdDev(t *testing.T) {
	assert.Equal(t, 0.0, PopulationStdDev(nil))
	assert.Equal(t, 0.0, PopulationStdDev([]int64{300, 300, 300}))
	assert.InDelta(t, 2.0, PopulationStdDev([]int64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-9)
}

// =============================================================================
// RECORDER
// =============================================================================

func TestRecorder_BackspaceDropsTimestamp(t *testing.T) {
	events := []KeyEvent{
		{Kind: KeyRune, Rune: 'a', At: t0},
		{Kind: KeyRune, Rune: 'b', At: t0.Add(100 * time.Millisecond)},
		{Kind: KeyRune, Rune: 'x', At: t0.Add(200 * time.Millisecond)},
		{Kind: KeyBackspace, At: t0.Add(300 * time.Millisecond)},
		{Kind: KeyRune, Rune: 'c', At: t0.Add(450 * time.Millisecond)},
		{Kind: KeyEnter, At: t0.Add(500 * time.Millisecond)},
	}

	s, err := Replay(events)
	require.NoError(t, err)
	assert.Equal(t, "abc", s.Text)
	assert.Equal(t, []int64{100, 350}, s.Intervals)
	assert.Equal(t, 450*time.Millisecond, s.Duration)
}

func TestRecorder_BackspaceOnEmpty(t *testing.T) {
	r := NewRecorder()
	done, err := r.Feed(KeyEvent{Kind: KeyBackspace, At: t0})
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 0, r.Len())

	s := r.Sample()
	assert.Empty(t, s.Text)
	assert.Empty(t, s.Intervals)
	assert.Equal(t, time.Duration(0), s.Duration)
}

func TestRecorder_Interrupt(t *testing.T) {
	events := append(EventsFor("ab", t0, 100*time.Millisecond)[:2], KeyEvent{Kind: KeyInterrupt})
	_, err := Replay(events)
	assert.True(t, errors.Is(err, security.ErrAborted))
}

func TestEventsFor(t *testing.T) {
	s, err := Replay(EventsFor("hello", t0, 100*time.Millisecond, 200*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, "hello", s.Text)
	assert.Equal(t, []int64{100, 200, 200, 200}, s.Intervals)
	assert.Equal(t, 700*time.Millisecond, s.Duration)
}

func TestClassifyByte(t *testing.T) {
	assert.Equal(t, KeyEnter, ClassifyByte('\r'))
	assert.Equal(t, KeyEnter, ClassifyByte('\n'))
	assert.Equal(t, KeyBackspace, ClassifyByte(0x7f))
	assert.Equal(t, KeyBackspace, ClassifyByte(0x08))
	assert.Equal(t, KeyInterrupt, ClassifyByte(0x03))
	assert.Equal(t, KeyRune, ClassifyByte('z'))
}

// =============================================================================
// PROFILER
// =============================================================================

// humanSamples yields 13 chars over 3.2s (49 wpm) with alternating gaps.
func humanSamples() (Sample, Sample) {
	user := sampleWith("alice", 200, 400, 200, 400)
	pass := sampleWith("secret12", 200, 400, 200, 400, 200, 400, 200)
	return user, pass
}

// botSamples yields 13 chars with perfectly even 300ms gaps (47 wpm).
func botSamples() (Sample, Sample) {
	user := sampleWith("alice", 300, 300, 300, 300)
	pass := sampleWith("secret12", 300, 300, 300, 300, 300, 300, 300)
	return user, pass
}

func TestMeasure_CombinesFields(t *testing.T) {
	user, pass := humanSamples()
	wpm, intervals := Measure(user, pass)
	assert.Equal(t, 49, wpm)
	assert.Len(t, intervals, 11)
	assert.Equal(t, user.Intervals, intervals[:4])
}

func TestProfiler_FirstLoginRecords(t *testing.T) {
	p := NewProfiler(0, 0)
	user, pass := botSamples()

	for _, baseline := range []*storage.TypingProfile{nil, {BaselineWPM: 0}} {
		a := p.Assess(baseline, user, pass)
		assert.Equal(t, DecisionRecord, a.Decision)
		assert.True(t, a.Decision.Accepted())
		assert.Equal(t, 47, a.WPM)
		assert.True(t, math.IsNaN(a.StdDevMs))
	}
}

func TestProfiler_SpeedMismatch(t *testing.T) {
	p := NewProfiler(DefaultTolerance, DefaultMinStdDevMs)
	user, pass := humanSamples()

	a := p.Assess(&storage.TypingProfile{BaselineWPM: 19}, user, pass)
	assert.Equal(t, DecisionSpeedMismatch, a.Decision)
	assert.False(t, a.Decision.Accepted())
	assert.Contains(t, a.Reason(), "recorded 19 wpm, now 49 wpm")

	a = p.Assess(&storage.TypingProfile{BaselineWPM: 75}, user, pass)
	assert.Equal(t, DecisionSpeedMismatch, a.Decision)
}

func TestProfiler_WithinToleranceAccepted(t *testing.T) {
	p := NewProfiler(DefaultTolerance, DefaultMinStdDevMs)
	user, pass := humanSamples()

	for _, base := range []int{24, 49, 74} {
		a := p.Assess(&storage.TypingProfile{BaselineWPM: base}, user, pass)
		assert.Equal(t, DecisionAccept, a.Decision, "baseline %d", base)
		assert.Greater(t, a.StdDevMs, DefaultMinStdDevMs)
	}
}

func TestProfiler_AutomationDetected(t *testing.T) {
	p := NewProfiler(DefaultTolerance, DefaultMinStdDevMs)
	user, pass := botSamples()

	a := p.Assess(&storage.TypingProfile{BaselineWPM: 50}, user, pass)
	assert.Equal(t, DecisionAutomation, a.Decision)
	assert.Equal(t, 0.0, a.StdDevMs)
	assert.Equal(t, "automation", a.Decision.String())
}

func TestProfiler_FewIntervalsSkipAutomationCheck(t *testing.T) {
	p := NewProfiler(DefaultTolerance, DefaultMinStdDevMs)
	user := sampleWith("ab", 300)
	pass := sampleWith("cd", 300)

	// 4 chars over 0.6s = 80 wpm, only two intervals.
	a := p.Assess(&storage.TypingProfile{BaselineWPM: 80}, user, pass)
	assert.Equal(t, DecisionAccept, a.Decision)
	assert.True(t, math.IsNaN(a.StdDevMs))
}
