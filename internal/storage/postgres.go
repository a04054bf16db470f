// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/jeranaias/trisecure/internal/security"
)

// =============================================================================
// POSTGRES STORE
// =============================================================================

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// PostgresStore persists identities in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to dsn, verifies the connection and applies
// migrations.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := Migrate(ctx, db, goose.DialectPostgres); err != nil {
		db.Close()
		return nil, err
	}
	return NewPostgresStore(db), nil
}

// NewPostgresStore wraps an already-migrated database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const pgSelect = `
	SELECT id, username, first_name, last_name, dob, phone, code_word, secret,
		typing_wpm, typing_intervals, passkey, card_sequence, card_values, created_at
	FROM identities`

func (p *PostgresStore) FindIdentity(ctx context.Context, username string) (*Identity, error) {
	return p.scanIdentity(p.db.QueryRowContext(ctx, pgSelect+` WHERE username = $1`, username))
}

func (p *PostgresStore) FindByCredentials(ctx context.Context, username, secret string) (*Identity, error) {
	return p.scanIdentity(p.db.QueryRowContext(ctx,
		pgSelect+` WHERE username = $1 AND secret = $2`, username, secret))
}

func (p *PostgresStore) CreateIdentity(ctx context.Context, id *Identity) error {
	if err := validateIdentity(id); err != nil {
		return err
	}
	created := id.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO identities (id, username, first_name, last_name, dob, phone, code_word, secret, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id.ID, id.Username, id.FirstName, id.LastName, id.DateOfBirth, id.Phone, id.CodeWord,
		id.Secret, created,
	)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return security.ErrDuplicateIdentifier
		}
		return err
	}
	return nil
}

func (p *PostgresStore) IdentityIDExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM identities WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) SetTypingProfile(ctx context.Context, username string, tp TypingProfile) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE identities SET typing_wpm = $1, typing_intervals = $2
		WHERE username = $3 AND typing_wpm = 0`,
		tp.BaselineWPM, pq.Array(nonNilInts(tp.BaselineIntervals)), username,
	)
	if err != nil {
		return false, err
	}
	return p.updated(ctx, res, username)
}

func (p *PostgresStore) SetPasskeyProfile(ctx context.Context, username string, pk PasskeyProfile) error {
	if err := validatePasskeyProfile(pk); err != nil {
		return err
	}
	values, err := json.Marshal(pk.Values)
	if err != nil {
		return err
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE identities SET passkey = $1, card_sequence = $2, card_values = $3
		WHERE username = $4 AND passkey IS NULL`,
		pk.Passkey, pq.Array(pk.Sequence), values, username,
	)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return security.ErrDuplicatePasskey
		}
		return err
	}
	ok, err := p.updated(ctx, res, username)
	if err != nil {
		return err
	}
	if !ok {
		return security.ErrDuplicatePasskey
	}
	return nil
}

func (p *PostgresStore) PasskeyExists(ctx context.Context, candidate string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM identities WHERE passkey = $1)`, candidate).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) RecordObservedValues(ctx context.Context, username string, values []ObservedValue) error {
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO observed_values (username, observed, recorded_at) VALUES ($1, $2, NOW())
		ON CONFLICT (username) DO UPDATE SET observed = EXCLUDED.observed, recorded_at = EXCLUDED.recorded_at`,
		username, data,
	)
	if err != nil {
		if pqCode(err) == pqForeignKeyViolation {
			return security.ErrNotFound
		}
		return err
	}
	return nil
}

// Close closes the database pool.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func (p *PostgresStore) updated(ctx context.Context, res sql.Result, username string) (bool, error) {
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows > 0 {
		return true, nil
	}
	if _, err := p.FindIdentity(ctx, username); err != nil {
		return false, err
	}
	return false, nil
}

func (p *PostgresStore) scanIdentity(row *sql.Row) (*Identity, error) {
	var (
		id        Identity
		wpm       int
		intervals []int64
		passkey   sql.NullString
		seq       []string
		values    []byte
	)
	err := row.Scan(&id.ID, &id.Username, &id.FirstName, &id.LastName, &id.DateOfBirth, &id.Phone,
		&id.CodeWord, &id.Secret, &wpm, pq.Array(&intervals), &passkey, pq.Array(&seq), &values, &id.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, security.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if wpm > 0 {
		id.Typing = &TypingProfile{BaselineWPM: wpm, BaselineIntervals: intervals}
	}
	if passkey.Valid && passkey.String != "" {
		id.Passkey = &PasskeyProfile{Passkey: passkey.String, Sequence: seq}
		if len(values) > 0 {
			if err := json.Unmarshal(values, &id.Passkey.Values); err != nil {
				return nil, fmt.Errorf("corrupt card values for %s: %w", id.Username, err)
			}
		}
	}
	return &id, nil
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
