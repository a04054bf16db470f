// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/trisecure/internal/security"
)

// =============================================================================
// CONTRACT HARNESS
// =============================================================================

type storeFactory func(t *testing.T) Store

func backends(t *testing.T) map[string]storeFactory {
	t.Helper()
	b := map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "trisecure.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	if dsn := os.Getenv("TRISECURE_TEST_POSTGRES_DSN"); dsn != "" {
		b["postgres"] = func(t *testing.T) Store {
			s, err := OpenPostgres(context.Background(), dsn)
			require.NoError(t, err)
			_, err = s.db.Exec(`TRUNCATE observed_values, identities`)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}
	}
	return b
}

func sampleIdentity(username, id string) *Identity {
	return &Identity{
		ID:          id,
		FirstName:   "Ada",
		LastName:    "Lovelace",
		DateOfBirth: "10/12/1990",
		Phone:       "01712345678",
		CodeWord:    "Blue Heron",
		Username:    username,
		Secret:      "s3cret!",
	}
}

func samplePasskey(passkey string) PasskeyProfile {
	return PasskeyProfile{
		Passkey:  passkey,
		Sequence: []string{"Spade", "Heart", "Joker", "Ace", "Club", "Queen", "Jack"},
		Values: map[string]int{
			"Spade": 3, "Heart": 7, "Diamond": 0, "Club": 9, "Ace": 1,
			"King": 5, "Queen": 8, "Jack": 2, "Joker": 6,
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

// =============================================================================
// IDENTITY
// =============================================================================

func TestStore_CreateAndFind(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateIdentity(ctx, sampleIdentity("ada", "AB12CD3")))

		got, err := s.FindIdentity(ctx, "ada")
		require.NoError(t, err)
		assert.Equal(t, "AB12CD3", got.ID)
		assert.Equal(t, "Ada Lovelace", got.DisplayName())
		assert.Equal(t, "Blue Heron", got.CodeWord)
		assert.Nil(t, got.Typing)
		assert.Nil(t, got.Passkey)
		assert.False(t, got.CreatedAt.IsZero())

		exists, err := s.IdentityIDExists(ctx, "AB12CD3")
		require.NoError(t, err)
		assert.True(t, exists)

		_, err = s.FindIdentity(ctx, "nobody")
		assert.True(t, errors.Is(err, security.ErrNotFound))
	})
}

func TestStore_FindByCredentials(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateIdentity(ctx, sampleIdentity("ada", "AB12CD3")))

		got, err := s.FindByCredentials(ctx, "ada", "s3cret!")
		require.NoError(t, err)
		assert.Equal(t, "ada", got.Username)

		_, err = s.FindByCredentials(ctx, "ada", "S3cret!")
		assert.True(t, errors.Is(err, security.ErrNotFound), "secret comparison is exact")
	})
}

func TestStore_DuplicateIdentifier(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateIdentity(ctx, sampleIdentity("ada", "AB12CD3")))

		err := s.CreateIdentity(ctx, sampleIdentity("ada", "ZZ99ZZ9"))
		assert.True(t, errors.Is(err, security.ErrDuplicateIdentifier))

		err = s.CreateIdentity(ctx, sampleIdentity("grace", "AB12CD3"))
		assert.True(t, errors.Is(err, security.ErrDuplicateIdentifier))
	})
}

func TestStore_ConcurrentRegistrationOneWinner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const racers = 8

		var wg sync.WaitGroup
		errs := make([]error, racers)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = s.CreateIdentity(ctx, sampleIdentity("ada", fmt.Sprintf("ID%05d", i)))
			}(i)
		}
		wg.Wait()

		var ok, dup int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, security.ErrDuplicateIdentifier):
				dup++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, racers-1, dup)
	})
}

func TestStore_RejectsEmptyFields(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		bad := sampleIdentity("", "AB12CD3")
		assert.True(t, errors.Is(s.CreateIdentity(ctx, bad), security.ErrValidation))

		bad = sampleIdentity("ada", "AB12CD3")
		bad.Secret = ""
		assert.True(t, errors.Is(s.CreateIdentity(ctx, bad), security.ErrValidation))
	})
}

// =============================================================================
// PROFILES
// =============================================================================

func TestStore_TypingProfileNeverOverwritten(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateIdentity(ctx, sampleIdentity("ada", "AB12CD3")))

		written, err := s.SetTypingProfile(ctx, "ada", TypingProfile{BaselineWPM: 42, BaselineIntervals: []int64{120, 180, 95}})
		require.NoError(t, err)
		assert.True(t, written)

		written, err = s.SetTypingProfile(ctx, "ada", TypingProfile{BaselineWPM: 90})
		require.NoError(t, err)
		assert.False(t, written)

		got, err := s.FindIdentity(ctx, "ada")
		require.NoError(t, err)
		require.True(t, got.Typing.Recorded())
		assert.Equal(t, 42, got.Typing.BaselineWPM)
		assert.Equal(t, []int64{120, 180, 95}, got.Typing.BaselineIntervals)

		_, err = s.SetTypingProfile(ctx, "nobody", TypingProfile{BaselineWPM: 10})
		assert.True(t, errors.Is(err, security.ErrNotFound))
	})
}

func TestStore_ZeroBaselineCanBeReplaced(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateIdentity(ctx, sampleIdentity("ada", "AB12CD3")))

		written, err := s.SetTypingProfile(ctx, "ada", TypingProfile{BaselineWPM: 0})
		require.NoError(t, err)
		assert.True(t, written)

		written, err = s.SetTypingProfile(ctx, "ada", TypingProfile{BaselineWPM: 55})
		require.NoError(t, err)
		assert.True(t, written)
	})
}

func TestStore_PasskeyProfile(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateIdentity(ctx, sampleIdentity("ada", "AB12CD3")))
		require.NoError(t, s.CreateIdentity(ctx, sampleIdentity("grace", "EF45GH6")))

		require.NoError(t, s.SetPasskeyProfile(ctx, "ada", samplePasskey("40715283")))

		exists, err := s.PasskeyExists(ctx, "40715283")
		require.NoError(t, err)
		assert.True(t, exists)

		got, err := s.FindIdentity(ctx, "ada")
		require.NoError(t, err)
		require.NotNil(t, got.Passkey)
		assert.Equal(t, "40715283", got.Passkey.Passkey)
		assert.Equal(t, samplePasskey("").Sequence, got.Passkey.Sequence)
		assert.Equal(t, 6, got.Passkey.Values["Joker"])

		err = s.SetPasskeyProfile(ctx, "grace", samplePasskey("40715283"))
		assert.True(t, errors.Is(err, security.ErrDuplicatePasskey), "passkeys are globally unique")

		err = s.SetPasskeyProfile(ctx, "ada", samplePasskey("11111111"))
		assert.True(t, errors.Is(err, security.ErrDuplicatePasskey), "profile is created once")
	})
}

func TestStore_PasskeyValidation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateIdentity(ctx, sampleIdentity("ada", "AB12CD3")))

		for _, bad := range []string{"1234567", "123456789", "1234567a"} {
			err := s.SetPasskeyProfile(ctx, "ada", samplePasskey(bad))
			assert.True(t, errors.Is(err, security.ErrValidation), bad)
		}

		p := samplePasskey("12345678")
		p.Sequence[1] = p.Sequence[0]
		assert.True(t, errors.Is(s.SetPasskeyProfile(ctx, "ada", p), security.ErrValidation))
	})
}

func TestStore_RecordObservedValues(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateIdentity(ctx, sampleIdentity("ada", "AB12CD3")))

		obs := []ObservedValue{{Card: "Spade", Digit: 4}, {Card: "Heart", Digit: 0}}
		require.NoError(t, s.RecordObservedValues(ctx, "ada", obs))
		require.NoError(t, s.RecordObservedValues(ctx, "ada", obs[:1]))

		err := s.RecordObservedValues(ctx, "nobody", obs)
		assert.True(t, errors.Is(err, security.ErrNotFound))
	})
}

func TestSQLiteStore_ObservedValuesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "db", "trisecure.db"))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, int64(2), s.SchemaVersion())
	require.NoError(t, s.CreateIdentity(ctx, sampleIdentity("ada", "AB12CD3")))

	_, err = s.ObservedValues(ctx, "ada")
	assert.True(t, errors.Is(err, security.ErrNotFound))

	obs := []ObservedValue{{Card: "Joker", Digit: 9}}
	require.NoError(t, s.RecordObservedValues(ctx, "ada", obs))
	got, err := s.ObservedValues(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, obs, got)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trisecure.db")

	s, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.CreateIdentity(ctx, sampleIdentity("ada", "AB12CD3")))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.FindIdentity(ctx, "ada")
	assert.NoError(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, Options{Path: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Options{Backend: BackendPostgres})
	assert.Error(t, err)
	_, err = Open(ctx, Options{Backend: "redis"})
	assert.Error(t, err)
}
