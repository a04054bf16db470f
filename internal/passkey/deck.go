// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package passkey

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jeranaias/trisecure/internal/security"
)

// =============================================================================
// DECK
// =============================================================================

// Card is one of the nine deck names.
type Card string

// The fixed deck, in presentation order.
const (
	Spade   Card = "Spade"
	Heart   Card = "Heart"
	Diamond Card = "Diamond"
	Club    Card = "Club"
	Ace     Card = "Ace"
	King    Card = "King"
	Queen   Card = "Queen"
	Jack    Card = "Jack"
	Joker   Card = "Joker"
)

// SelectionSize is the number of cards an operator picks.
const SelectionSize = 7

// Deck returns the nine cards in their fixed order.
func Deck() []Card {
	return []Card{Spade, Heart, Diamond, Club, Ace, King, Queen, Jack, Joker}
}

var titleCaser = cases.Title(language.English)

// ParseCard normalises a typed card name ("  joker " -> Joker).
func ParseCard(name string) (Card, error) {
	c := Card(titleCaser.String(strings.TrimSpace(name)))
	for _, d := range Deck() {
		if c == d {
			return c, nil
		}
	}
	return "", security.NewValidationError("card", fmt.Sprintf("%q is not in the deck", strings.TrimSpace(name)))
}

// Strings converts cards to plain names for storage.
func Strings(cards []Card) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = string(c)
	}
	return out
}

// =============================================================================
// RANDOMNESS
// =============================================================================

// IntSource supplies uniform integers in [0, n). *rand.Rand from math/rand/v2
// satisfies it.
type IntSource interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// DefaultSource draws from the runtime-seeded global generator.
func DefaultSource() IntSource { return globalSource{} }

// Shuffle returns the deck in a fresh random order.
func Shuffle(src IntSource) []Card {
	cards := Deck()
	for i := len(cards) - 1; i > 0; i-- {
		j := src.IntN(i + 1)
		cards[i], cards[j] = cards[j], cards[i]
	}
	return cards
}

// =============================================================================
// VALUE ASSIGNMENT
// =============================================================================

// ValueAssignment binds each deck card to a distinct digit. Exactly one digit
// of 0-9 is unused.
type ValueAssignment map[Card]int

// NewValueAssignment samples nine of the ten digits without replacement and
// binds them to the deck in order.
func NewValueAssignment(src IntSource) ValueAssignment {
	digits := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	for i := len(digits) - 1; i > 0; i-- {
		j := src.IntN(i + 1)
		digits[i], digits[j] = digits[j], digits[i]
	}
	va := make(ValueAssignment, 9)
	for i, c := range Deck() {
		va[c] = digits[i]
	}
	return va
}

// ToMap converts the assignment to plain names for storage.
func (va ValueAssignment) ToMap() map[string]int {
	out := make(map[string]int, len(va))
	for c, v := range va {
		out[string(c)] = v
	}
	return out
}

// Validate checks that every deck card has a distinct digit in 0-9.
func (va ValueAssignment) Validate() error {
	seen := make(map[int]bool, len(va))
	for _, c := range Deck() {
		v, ok := va[c]
		if !ok {
			return security.NewValidationError("values", fmt.Sprintf("no digit for %s", c))
		}
		if v < 0 || v > 9 || seen[v] {
			return security.NewValidationError("values", "digits must be distinct and in 0-9")
		}
		seen[v] = true
	}
	return nil
}

// =============================================================================
// SELECTION
// =============================================================================

// ValidateSelection parses exactly seven distinct deck names.
func ValidateSelection(names []string) ([]Card, error) {
	b := NewSelectionBuilder()
	for _, n := range names {
		if err := b.Add(n); err != nil {
			return nil, err
		}
	}
	if !b.Complete() {
		return nil, security.NewValidationError("selection", fmt.Sprintf("pick exactly %d cards", SelectionSize))
	}
	return b.Cards(), nil
}

// SelectionBuilder accepts one card at a time, rejecting duplicates and
// unknown names without losing earlier picks.
type SelectionBuilder struct {
	cards []Card
	seen  map[Card]bool
}

// NewSelectionBuilder returns an empty builder.
func NewSelectionBuilder() *SelectionBuilder {
	return &SelectionBuilder{seen: make(map[Card]bool, SelectionSize)}
}

// Add appends a card.
func (b *SelectionBuilder) Add(name string) error {
	if b.Complete() {
		return security.NewValidationError("selection", fmt.Sprintf("already holds %d cards", SelectionSize))
	}
	c, err := ParseCard(name)
	if err != nil {
		return err
	}
	if b.seen[c] {
		return security.NewValidationError("card", fmt.Sprintf("%s already selected", c))
	}
	b.seen[c] = true
	b.cards = append(b.cards, c)
	return nil
}

// Complete reports whether seven cards are held.
func (b *SelectionBuilder) Complete() bool { return len(b.cards) == SelectionSize }

// Len returns the number of cards held.
func (b *SelectionBuilder) Len() int { return len(b.cards) }

// Cards returns a copy of the picks in order.
func (b *SelectionBuilder) Cards() []Card { return append([]Card(nil), b.cards...) }

// Mnemonic abbreviates a selection for display in lower case: the first
// letter of each card, two letters for cards starting with J.
func Mnemonic(selection []Card) string {
	var sb strings.Builder
	for _, c := range selection {
		r := []rune(strings.ToLower(string(c)))
		switch {
		case len(r) == 0:
		case r[0] == 'j' && len(r) > 1:
			sb.WriteString(string(r[:2]))
		default:
			sb.WriteRune(r[0])
		}
	}
	return sb.String()
}
