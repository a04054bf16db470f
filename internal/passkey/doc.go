// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package passkey implements the poker-card passkey: setup-time derivation
// and the verify-time challenge.
//
// Setup binds nine of the ten digits to the nine deck cards, turns the
// operator's seven-card selection into a seven-digit base through
// (3x+1) mod 10, and inserts one random digit at a random position. The
// resulting eight digits are globally unique.
//
// Verification reshuffles the deck for every attempt. The re-selected
// sequence and the typed passkey must both match; the caller only ever sees
// security.ErrChallengeMismatch. Every third failure blocks for an escalating
// lock, and the ninth failure ends the session with security.ErrLockedOut.
package passkey
