// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package typing

import (
	"time"

	"github.com/jeranaias/trisecure/internal/security"
)

// =============================================================================
// KEY EVENTS
// =============================================================================

// KeyKind classifies a captured key press.
type KeyKind int

const (
	// KeyRune is a printable character.
	KeyRune KeyKind = iota
	// KeyBackspace erases the most recent character.
	KeyBackspace
	// KeyEnter finishes the field.
	KeyEnter
	// KeyInterrupt aborts capture (Ctrl-C).
	KeyInterrupt
)

// KeyEvent is one key press with the instant it was read.
type KeyEvent struct {
	Kind KeyKind
	Rune rune
	At   time.Time
}

// ClassifyByte maps a raw terminal byte to a key kind.
// Both DEL (0x7f) and BS (0x08) count as backspace.
func ClassifyByte(b byte) KeyKind {
	switch b {
	case '\r', '\n':
		return KeyEnter
	case 0x7f, 0x08:
		return KeyBackspace
	case 0x03:
		return KeyInterrupt
	default:
		return KeyRune
	}
}

// =============================================================================
// SAMPLE
// =============================================================================

// Sample is the captured text of one field with its keystroke timing.
type Sample struct {
	Text      string
	Intervals []int64       // whole milliseconds between consecutive kept keystrokes
	Duration  time.Duration // last kept keystroke minus first; 0 with fewer than 2
}

// Chars returns the number of characters typed.
func (s Sample) Chars() int {
	return len([]rune(s.Text))
}

// =============================================================================
// RECORDER
// =============================================================================

// Recorder accumulates key events for a single input field.
// Backspace removes the latest character together with its timestamp, so the
// sample always mirrors what is on screen.
type Recorder struct {
	chars  []rune
	stamps []time.Time
	done   bool
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Feed applies one event. It returns done=true after Enter, and
// security.ErrAborted after an interrupt.
func (r *Recorder) Feed(ev KeyEvent) (done bool, err error) {
	if r.done {
		return true, nil
	}

	switch ev.Kind {
	case KeyEnter:
		r.done = true
		return true, nil
	case KeyInterrupt:
		return false, security.ErrAborted
	case KeyBackspace:
		if n := len(r.chars); n > 0 {
			r.chars = r.chars[:n-1]
			r.stamps = r.stamps[:n-1]
		}
	default:
		r.chars = append(r.chars, ev.Rune)
		r.stamps = append(r.stamps, ev.At)
	}
	return false, nil
}

// Len returns the number of characters currently held.
func (r *Recorder) Len() int {
	return len(r.chars)
}

// Sample returns the text, intervals and duration captured so far.
func (r *Recorder) Sample() Sample {
	return BuildSample(string(r.chars), r.stamps)
}

// BuildSample derives intervals and duration from per-character timestamps.
func BuildSample(text string, stamps []time.Time) Sample {
	s := Sample{Text: text, Intervals: []int64{}}
	for i := 1; i < len(stamps); i++ {
		s.Intervals = append(s.Intervals, stamps[i].Sub(stamps[i-1]).Milliseconds())
	}
	if len(stamps) >= 2 {
		s.Duration = stamps[len(stamps)-1].Sub(stamps[0])
	}
	return s
}

// Replay feeds a whole event list and returns the resulting sample.
// It stops at the first Enter.
func Replay(events []KeyEvent) (Sample, error) {
	r := NewRecorder()
	for _, ev := range events {
		done, err := r.Feed(ev)
		if err != nil {
			return Sample{}, err
		}
		if done {
			break
		}
	}
	return r.Sample(), nil
}

// EventsFor builds events that type text with the given gaps between
// keystrokes, starting at start. gaps[i] is the pause before character i+1;
// missing gaps reuse the last one. Intended for tests and simulations.
func EventsFor(text string, start time.Time, gaps ...time.Duration) []KeyEvent {
	events := make([]KeyEvent, 0, len(text)+1)
	at := start
	for i, ch := range []rune(text) {
		if i > 0 && len(gaps) > 0 {
			g := gaps[len(gaps)-1]
			if i-1 < len(gaps) {
				g = gaps[i-1]
			}
			at = at.Add(g)
		}
		events = append(events, KeyEvent{Kind: KeyRune, Rune: ch, At: at})
	}
	return append(events, KeyEvent{Kind: KeyEnter, At: at})
}
