// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/muesli/termenv"
	"github.com/peterh/liner"
	"golang.org/x/term"

	"github.com/jeranaias/trisecure/internal/passkey"
	"github.com/jeranaias/trisecure/internal/security"
	"github.com/jeranaias/trisecure/internal/typing"
)

// =============================================================================
// TTY DETECTION
// =============================================================================

// IsTTY returns true if stdin is a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// IsStdoutTTY returns true if stdout is a terminal.
func IsStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// TTYRequiredError is returned when an operation needs an interactive terminal.
type TTYRequiredError struct {
	Operation string
}

func (e *TTYRequiredError) Error() string {
	return "stdin is not a terminal; cannot " + e.Operation + " interactively"
}

// RequiresTTY returns an error if stdin is not a terminal.
func RequiresTTY(operation string) error {
	if !IsTTY() {
		return &TTYRequiredError{Operation: operation}
	}
	return nil
}

// =============================================================================
// COLOR OUTPUT CONTROL
// =============================================================================

var (
	colorsEnabled     bool
	colorsEnabledOnce sync.Once
)

// ColorsEnabled respects NO_COLOR and FORCE_COLOR, then falls back to TTY
// detection. See https://no-color.org/.
func ColorsEnabled() bool {
	colorsEnabledOnce.Do(func() {
		switch {
		case os.Getenv("NO_COLOR") != "":
			colorsEnabled = false
		case os.Getenv("FORCE_COLOR") != "":
			colorsEnabled = true
		default:
			colorsEnabled = IsStdoutTTY()
		}
	})
	return colorsEnabled
}

// GetColorProfile returns Ascii when colors are off, otherwise the
// profile termenv detects.
func GetColorProfile() termenv.Profile {
	if !ColorsEnabled() {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}

// =============================================================================
// CONSOLE
// =============================================================================

// Console is the interactive terminal used by login and registration.
// On a TTY, fields with keystroke timing are read in raw mode and plain
// prompts go through liner. Otherwise every read comes from one buffered
// stdin reader, which keeps piped scripts usable (timing is then meaningless).
type Console struct {
	in     *os.File
	out    io.Writer
	reader *bufio.Reader
	tty    bool
	now    func() time.Time
}

// NewConsole returns a console on stdin/stdout.
func NewConsole() *Console {
	return &Console{
		in:     os.Stdin,
		out:    os.Stdout,
		reader: bufio.NewReader(os.Stdin),
		tty:    IsTTY(),
		now:    time.Now,
	}
}

// CaptureKeystrokes reads one field and records when each key arrived.
func (c *Console) CaptureKeystrokes(ctx context.Context, label string, masked bool) (typing.Sample, error) {
	if err := ctx.Err(); err != nil {
		return typing.Sample{}, err
	}
	fmt.Fprint(c.out, PromptStyle.Render(label+": "))

	if !c.tty {
		return CaptureFrom(ctx, c.reader, io.Discard, masked, c.now)
	}

	fd := int(c.in.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return typing.Sample{}, fmt.Errorf("failed to enter raw mode: %w", err)
	}
	defer term.Restore(fd, state)

	// Unbuffered so no keystroke is read ahead of its timestamp.
	s, err := CaptureFrom(ctx, runeReader{c.in}, c.out, masked, c.now)
	fmt.Fprint(c.out, "\r\n")
	return s, err
}

// CaptureFrom feeds runes from r into a typing.Recorder until Enter.
// Printable runes are echoed (as '*' when masked); other control
// characters and terminal escape sequences such as arrow keys are ignored.
// EOF before Enter finishes the field, or aborts it when nothing was typed.
func CaptureFrom(ctx context.Context, r io.RuneReader, echo io.Writer, masked bool, now func() time.Time) (typing.Sample, error) {
	rec := typing.NewRecorder()
	var (
		pending    rune
		hasPending bool
	)
	for {
		if err := ctx.Err(); err != nil {
			return typing.Sample{}, err
		}
		var (
			ch  rune
			err error
		)
		if hasPending {
			ch, hasPending = pending, false
		} else {
			ch, _, err = r.ReadRune()
		}
		if err == nil && ch == keyEscape {
			pending, hasPending, err = skipEscape(r)
			if err == nil {
				continue
			}
		}
		if errors.Is(err, io.EOF) {
			if rec.Len() > 0 {
				return rec.Sample(), nil
			}
			return typing.Sample{}, security.ErrAborted
		}
		if err != nil {
			return typing.Sample{}, err
		}

		ev := typing.KeyEvent{Kind: typing.KeyRune, Rune: ch, At: now()}
		if ch < utf8.RuneSelf {
			ev.Kind = typing.ClassifyByte(byte(ch))
		}
		if ev.Kind == typing.KeyRune && unicode.IsControl(ch) {
			continue
		}

		before := rec.Len()
		done, err := rec.Feed(ev)
		if err != nil {
			return typing.Sample{}, err
		}
		if done {
			return rec.Sample(), nil
		}

		switch {
		case ev.Kind == typing.KeyBackspace && rec.Len() < before:
			fmt.Fprint(echo, "\b \b")
		case ev.Kind == typing.KeyRune && masked:
			fmt.Fprint(echo, "*")
		case ev.Kind == typing.KeyRune:
			fmt.Fprint(echo, string(ch))
		}
	}
}

const keyEscape = 0x1b

// skipEscape consumes the rest of an escape sequence after ESC. CSI
// sequences (ESC [) run to a final byte in 0x40-0x7e; SS3 sequences (ESC O)
// carry one more byte. Any other rune after a lone ESC is handed back to
// be processed normally.
func skipEscape(r io.RuneReader) (rune, bool, error) {
	ch, _, err := r.ReadRune()
	if err != nil {
		return 0, false, err
	}
	switch ch {
	case '[':
		for {
			b, _, err := r.ReadRune()
			if err != nil {
				return 0, false, err
			}
			if b >= 0x40 && b <= 0x7e {
				return 0, false, nil
			}
		}
	case 'O':
		_, _, err := r.ReadRune()
		return 0, false, err
	default:
		return ch, true, nil
	}
}

// runeReader decodes UTF-8 from an unbuffered file one byte at a time.
type runeReader struct{ f *os.File }

func (r runeReader) ReadRune() (rune, int, error) {
	var buf [utf8.UTFMax]byte
	if _, err := io.ReadFull(r.f, buf[:1]); err != nil {
		return 0, 0, err
	}
	n := 1
	for !utf8.FullRune(buf[:n]) && n < utf8.UTFMax {
		if _, err := io.ReadFull(r.f, buf[n:n+1]); err != nil {
			return 0, 0, err
		}
		n++
	}
	ch, size := utf8.DecodeRune(buf[:n])
	return ch, size, nil
}

// Ask reads one line.
func (c *Console) Ask(ctx context.Context, label string) (string, error) {
	return c.prompt(ctx, label, false)
}

// AskSecret reads one line without echo.
func (c *Console) AskSecret(ctx context.Context, label string) (string, error) {
	return c.prompt(ctx, label, true)
}

func (c *Console) prompt(ctx context.Context, label string, secret bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if !c.tty {
		fmt.Fprint(c.out, label+": ")
		line, err := c.reader.ReadString('\n')
		if err != nil && line == "" {
			return "", security.ErrAborted
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	var (
		s   string
		err error
	)
	if secret {
		s, err = line.PasswordPrompt(label + ": ")
	} else {
		s, err = line.Prompt(label + ": ")
	}
	if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
		return "", security.ErrAborted
	}
	return s, err
}

// PickCards shows the deck and reads the selection.
func (c *Console) PickCards(ctx context.Context, label string, deck []passkey.Card) ([]string, error) {
	fmt.Fprintln(c.out, SectionStyle.Render(label))
	fmt.Fprintln(c.out, RenderDeck(deck))
	fmt.Fprintln(c.out, DimStyle.Render("Enter 7 card names or numbers, separated by spaces or commas."))

	answer, err := c.Ask(ctx, "Cards")
	if err != nil {
		return nil, err
	}
	return ParseCardTokens(answer, deck), nil
}

// Say prints a status line.
func (c *Console) Say(msg string) {
	fmt.Fprintln(c.out, InfoStyle.Render(msg))
}

// ParseCardTokens splits a selection on spaces and commas. Numbers pick the
// card at that 1-based position of deck; anything else passes through as a
// name for passkey.ValidateSelection.
func ParseCardTokens(input string, deck []passkey.Card) []string {
	fields := strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		if n, err := strconv.Atoi(f); err == nil && n >= 1 && n <= len(deck) {
			names = append(names, string(deck[n-1]))
			continue
		}
		names = append(names, f)
	}
	return names
}
