// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists identities and their typing and passkey profiles.
//
// # Key Types
//
//   - Store: the contract the authentication stages depend on
//   - Identity: one enrolled principal
//   - TypingProfile / PasskeyProfile: lazily created sub-records
//
// # Backends
//
//   - SQLiteStore: modernc.org/sqlite, the default (~/.trisecure/trisecure.db)
//   - PostgresStore: lib/pq
//   - MemoryStore: process memory, for tests
//
// Schemas are embedded goose migrations applied on open. Username, identity
// ID and passkey carry UNIQUE constraints, so inserts are atomic
// insert-if-absent and racing registrations yield exactly one winner.
//
// # Usage
//
//	store, err := storage.Open(ctx, storage.Options{Backend: "sqlite", Path: dbPath})
//	id, err := store.FindByCredentials(ctx, username, secret)
package storage
