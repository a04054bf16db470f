// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/jeranaias/trisecure/internal/security"
)

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore persists identities in a single SQLite file.
type SQLiteStore struct {
	db      *sql.DB
	path    string
	version int64
}

// NewSQLiteStore opens (creating if needed) the database at path and applies
// migrations. Use ":memory:" for a private in-memory database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path cannot be empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; also keeps ":memory:" on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	version, err := Migrate(ctx, db, goose.DialectSQLite3)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, path: path, version: version}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// SchemaVersion returns the migration version applied at open.
func (s *SQLiteStore) SchemaVersion() int64 { return s.version }

const sqliteSelect = `
	SELECT id, username, first_name, last_name, dob, phone, code_word, secret,
		typing_wpm, typing_intervals, passkey, card_sequence, card_values, created_at
	FROM identities`

func (s *SQLiteStore) FindIdentity(ctx context.Context, username string) (*Identity, error) {
	return s.scanIdentity(s.db.QueryRowContext(ctx, sqliteSelect+` WHERE username = ?`, username))
}

func (s *SQLiteStore) FindByCredentials(ctx context.Context, username, secret string) (*Identity, error) {
	return s.scanIdentity(s.db.QueryRowContext(ctx,
		sqliteSelect+` WHERE username = ? AND secret = ?`, username, secret))
}

func (s *SQLiteStore) CreateIdentity(ctx context.Context, id *Identity) error {
	if err := validateIdentity(id); err != nil {
		return err
	}
	created := id.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (id, username, first_name, last_name, dob, phone, code_word, secret, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.ID, id.Username, id.FirstName, id.LastName, id.DateOfBirth, id.Phone, id.CodeWord,
		id.Secret, created.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return security.ErrDuplicateIdentifier
		}
		return fmt.Errorf("failed to insert identity: %w", err)
	}
	return nil
}

func (s *SQLiteStore) IdentityIDExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM identities WHERE id = ?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) SetTypingProfile(ctx context.Context, username string, p TypingProfile) (bool, error) {
	intervals, err := encodeJSON(nonNilInts(p.BaselineIntervals))
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE identities SET typing_wpm = ?, typing_intervals = ?
		WHERE username = ? AND typing_wpm = 0`,
		p.BaselineWPM, intervals, username,
	)
	if err != nil {
		return false, fmt.Errorf("failed to store typing profile: %w", err)
	}
	return s.updated(ctx, res, username)
}

func (s *SQLiteStore) SetPasskeyProfile(ctx context.Context, username string, p PasskeyProfile) error {
	if err := validatePasskeyProfile(p); err != nil {
		return err
	}
	seq, err := encodeJSON(p.Sequence)
	if err != nil {
		return err
	}
	values, err := encodeJSON(p.Values)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE identities SET passkey = ?, card_sequence = ?, card_values = ?
		WHERE username = ? AND passkey IS NULL`,
		p.Passkey, seq, values, username,
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return security.ErrDuplicatePasskey
		}
		return fmt.Errorf("failed to store passkey profile: %w", err)
	}
	ok, err := s.updated(ctx, res, username)
	if err != nil {
		return err
	}
	if !ok {
		return security.ErrDuplicatePasskey
	}
	return nil
}

func (s *SQLiteStore) PasskeyExists(ctx context.Context, candidate string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM identities WHERE passkey = ?`, candidate).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) RecordObservedValues(ctx context.Context, username string, values []ObservedValue) error {
	data, err := encodeJSON(values)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO observed_values (username, observed, recorded_at) VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET observed = excluded.observed, recorded_at = excluded.recorded_at`,
		username, data, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isSQLiteConstraint(err) {
			return security.ErrNotFound
		}
		return fmt.Errorf("failed to record observed values: %w", err)
	}
	return nil
}

// ObservedValues returns the last observed-value record for a user.
func (s *SQLiteStore) ObservedValues(ctx context.Context, username string) ([]ObservedValue, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT observed FROM observed_values WHERE username = ?`, username).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, security.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var out []ObservedValue
	if err := decodeJSON(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// updated turns a conditional UPDATE result into (written, error), returning
// ErrNotFound when the row does not exist at all.
func (s *SQLiteStore) updated(ctx context.Context, res sql.Result, username string) (bool, error) {
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows > 0 {
		return true, nil
	}
	if _, err := s.FindIdentity(ctx, username); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteStore) scanIdentity(row *sql.Row) (*Identity, error) {
	var (
		id        Identity
		wpm       int
		intervals string
		passkey   sql.NullString
		seq       string
		values    string
		created   string
	)
	err := row.Scan(&id.ID, &id.Username, &id.FirstName, &id.LastName, &id.DateOfBirth, &id.Phone,
		&id.CodeWord, &id.Secret, &wpm, &intervals, &passkey, &seq, &values, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, security.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		id.CreatedAt = t
	}
	if wpm > 0 {
		id.Typing = &TypingProfile{BaselineWPM: wpm}
		if err := decodeJSON(intervals, &id.Typing.BaselineIntervals); err != nil {
			return nil, fmt.Errorf("corrupt typing intervals for %s: %w", id.Username, err)
		}
	}
	if passkey.Valid && passkey.String != "" {
		id.Passkey = &PasskeyProfile{Passkey: passkey.String}
		if err := decodeJSON(seq, &id.Passkey.Sequence); err != nil {
			return nil, fmt.Errorf("corrupt card sequence for %s: %w", id.Username, err)
		}
		if err := decodeJSON(values, &id.Passkey.Values); err != nil {
			return nil, fmt.Errorf("corrupt card values for %s: %w", id.Username, err)
		}
	}
	return &id, nil
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isSQLiteConstraint(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return strings.Contains(err.Error(), "constraint failed")
}

func nonNilInts(v []int64) []int64 {
	if v == nil {
		return []int64{}
	}
	return v
}
