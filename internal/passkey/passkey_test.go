// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package passkey

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/trisecure/internal/security"
	"github.com/jeranaias/trisecure/internal/storage"
)

// =============================================================================
// HELPERS
// =============================================================================

type constSource int

func (c constSource) IntN(n int) int { return int(c) % n }

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

var fixedValues = ValueAssignment{
	Spade: 3, Heart: 7, Diamond: 0, Club: 9, Ace: 1,
	King: 5, Queen: 8, Jack: 2, Joker: 6,
}

var fixedSelection = []Card{Spade, Heart, Joker, Ace, Club, Queen, Jack}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func newUser(t *testing.T, store storage.Store, username string) {
	t.Helper()
	require.NoError(t, store.CreateIdentity(context.Background(), &storage.Identity{
		ID: "ID" + username, Username: username, Secret: "pw", CodeWord: "blue",
	}))
}

// =============================================================================
// DECK / SELECTION
// =============================================================================

func TestParseCard(t *testing.T) {
	c, err := ParseCard("  joker ")
	require.NoError(t, err)
	assert.Equal(t, Joker, c)

	c, err = ParseCard("DIAMOND")
	require.NoError(t, err)
	assert.Equal(t, Diamond, c)

	_, err = ParseCard("Ten")
	assert.True(t, errors.Is(err, security.ErrValidation))
}

func TestValidateSelection(t *testing.T) {
	cards, err := ValidateSelection([]string{"spade", "heart", "joker", "ace", "club", "queen", "jack"})
	require.NoError(t, err)
	assert.Equal(t, fixedSelection, cards)

	_, err = ValidateSelection([]string{"Spade", "Spade", "Joker", "Ace", "Club", "Queen", "Jack"})
	assert.True(t, errors.Is(err, security.ErrValidation), "duplicate card")

	_, err = ValidateSelection([]string{"Spade", "Heart", "Joker", "Ace", "Club", "Queen"})
	assert.True(t, errors.Is(err, security.ErrValidation), "six cards")

	_, err = ValidateSelection([]string{"Spade", "Heart", "Joker", "Ace", "Club", "Queen", "Jack", "King"})
	assert.True(t, errors.Is(err, security.ErrValidation), "eight cards")
}

func TestSelectionBuilder_KeepsPicksOnError(t *testing.T) {
	b := NewSelectionBuilder()
	require.NoError(t, b.Add("Spade"))
	assert.Error(t, b.Add("spade"))
	assert.Error(t, b.Add("Ten"))
	assert.Equal(t, 1, b.Len())
	assert.False(t, b.Complete())
}

func TestShuffle_IsPermutationOfDeck(t *testing.T) {
	src := seeded(7)
	for i := 0; i < 20; i++ {
		assert.ElementsMatch(t, Deck(), Shuffle(src))
	}
}

func TestNewValueAssignment(t *testing.T) {
	src := seeded(42)
	for i := 0; i < 50; i++ {
		va := NewValueAssignment(src)
		require.Len(t, va, 9)
		require.NoError(t, va.Validate())
	}
	assert.Error(t, ValueAssignment{Spade: 1}.Validate())
}

func TestMnemonic(t *testing.T) {
	assert.Equal(t, "shjoacqja", Mnemonic(fixedSelection))
	assert.Equal(t, "dk", Mnemonic([]Card{Diamond, King}))
	assert.Equal(t, "jajo", Mnemonic([]Card{Jack, Joker}))
}

// =============================================================================
// DERIVATION
// =============================================================================

func TestTransform(t *testing.T) {
	want := []int{1, 4, 7, 0, 3, 6, 9, 2, 5, 8}
	for x, y := range want {
		assert.Equal(t, y, Transform(x), "Transform(%d)", x)
	}
}

func TestBaseStringAndInsert(t *testing.T) {
	base, err := BaseString(fixedSelection, fixedValues)
	require.NoError(t, err)
	assert.Equal(t, "0294857", base)

	assert.Equal(t, "50294857", Insert(base, 5, 0))
	assert.Equal(t, "02948575", Insert(base, 5, 7))
	assert.Equal(t, "02994857", Insert(base, 9, 3))

	_, err = BaseString(fixedSelection[:6], fixedValues)
	assert.True(t, errors.Is(err, security.ErrValidation))
}

func TestDerive_AlwaysEightDigits(t *testing.T) {
	src := seeded(99)
	for i := 0; i < 500; i++ {
		deck := Shuffle(src)
		values := NewValueAssignment(src)
		pk, err := Derive(deck[:SelectionSize], values, src.IntN(10), src.IntN(InsertPositions))
		require.NoError(t, err)
		require.Len(t, pk, 8)
		require.True(t, isDigits(pk), pk)
	}
}

func TestDerive_Deterministic(t *testing.T) {
	a, err := BaseString(fixedSelection, fixedValues)
	require.NoError(t, err)
	b, err := BaseString(fixedSelection, fixedValues)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	pk, err := Derive(fixedSelection, fixedValues, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, "02494857", pk)
	assert.Equal(t, a, pk[:2]+pk[3:], "removing the inserted digit restores the base")
}

// =============================================================================
// SETUP
// =============================================================================

type collidingStore struct {
	*storage.MemoryStore
	collisions int // first N lookups report a collision; <0 means always
	lookups    int
	raceFails  int // first N inserts report a duplicate
	inserts    int
}

func (s *collidingStore) PasskeyExists(ctx context.Context, c string) (bool, error) {
	s.lookups++
	if s.collisions < 0 || s.lookups <= s.collisions {
		return true, nil
	}
	return s.MemoryStore.PasskeyExists(ctx, c)
}

func (s *collidingStore) SetPasskeyProfile(ctx context.Context, u string, p storage.PasskeyProfile) error {
	s.inserts++
	if s.inserts <= s.raceFails {
		return security.ErrDuplicatePasskey
	}
	return s.MemoryStore.SetPasskeyProfile(ctx, u, p)
}

func TestSetup_PersistsProfile(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	newUser(t, store, "ada")

	res, err := NewDeriver(store, WithSource(seeded(1))).Setup(ctx, "ada", fixedSelection)
	require.NoError(t, err)
	assert.Len(t, res.Profile.Passkey, 8)
	assert.Equal(t, "shjoacqja", res.Mnemonic)
	require.NoError(t, res.Values.Validate())

	id, err := store.FindIdentity(ctx, "ada")
	require.NoError(t, err)
	require.NotNil(t, id.Passkey)
	assert.Equal(t, res.Profile.Passkey, id.Passkey.Passkey)
	assert.Equal(t, Strings(fixedSelection), id.Passkey.Sequence)
	assert.Equal(t, res.Values.ToMap(), id.Passkey.Values)

	base, err := BaseString(fixedSelection, res.Values)
	require.NoError(t, err)
	pk := res.Profile.Passkey
	found := false
	for pos := 0; pos < InsertPositions; pos++ {
		if pk[:pos]+pk[pos+1:] == base {
			found = true
		}
	}
	assert.True(t, found, "passkey is the base plus one inserted digit")
}

func TestSetup_CollisionMovesInsertedDigit(t *testing.T) {
	ctx := context.Background()
	store := &collidingStore{MemoryStore: storage.NewMemoryStore(), collisions: 3}
	newUser(t, store, "ada")

	res, err := NewDeriver(store, WithSource(constSource(0))).Setup(ctx, "ada", fixedSelection)
	require.NoError(t, err)

	base, err := BaseString(fixedSelection, res.Values)
	require.NoError(t, err)
	assert.Equal(t, Insert(base, 3, 0), res.Profile.Passkey)
	assert.Equal(t, 4, store.lookups)
}

func TestSetup_CollisionMovesToNextPosition(t *testing.T) {
	ctx := context.Background()
	store := &collidingStore{MemoryStore: storage.NewMemoryStore(), collisions: 10}
	newUser(t, store, "ada")

	res, err := NewDeriver(store, WithSource(constSource(0))).Setup(ctx, "ada", fixedSelection)
	require.NoError(t, err)

	base, err := BaseString(fixedSelection, res.Values)
	require.NoError(t, err)
	assert.Equal(t, Insert(base, 0, 1), res.Profile.Passkey)
}

func TestSetup_Exhausted(t *testing.T) {
	store := &collidingStore{MemoryStore: storage.NewMemoryStore(), collisions: -1}
	newUser(t, store, "ada")

	_, err := NewDeriver(store, WithSource(constSource(0))).Setup(context.Background(), "ada", fixedSelection)
	assert.True(t, errors.Is(err, security.ErrDuplicatePasskey))
	assert.Equal(t, 80, store.lookups)
	assert.Equal(t, 0, store.inserts)
}

func TestSetup_LostRaceRetriedOnce(t *testing.T) {
	ctx := context.Background()

	store := &collidingStore{MemoryStore: storage.NewMemoryStore(), raceFails: 1}
	newUser(t, store, "ada")
	res, err := NewDeriver(store, WithSource(constSource(0))).Setup(ctx, "ada", fixedSelection)
	require.NoError(t, err)
	base, _ := BaseString(fixedSelection, res.Values)
	assert.Equal(t, Insert(base, 1, 0), res.Profile.Passkey)
	assert.Equal(t, 2, store.inserts)

	store = &collidingStore{MemoryStore: storage.NewMemoryStore(), raceFails: 5}
	newUser(t, store, "ada")
	_, err = NewDeriver(store, WithSource(constSource(0))).Setup(ctx, "ada", fixedSelection)
	assert.True(t, errors.Is(err, security.ErrDuplicatePasskey))
	assert.Equal(t, 2, store.inserts)
}

func TestSetup_InvalidSelection(t *testing.T) {
	store := storage.NewMemoryStore()
	newUser(t, store, "ada")
	_, err := NewDeriver(store).Setup(context.Background(), "ada", fixedSelection[:3])
	assert.True(t, errors.Is(err, security.ErrValidation))
}
