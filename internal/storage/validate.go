// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jeranaias/trisecure/internal/security"
)

// PasskeyLength is the number of digits in a stored passkey.
const PasskeyLength = 8

// SequenceLength is the number of cards in a stored sequence.
const SequenceLength = 7

func validateIdentity(id *Identity) error {
	if id == nil {
		return security.NewValidationError("identity", "missing")
	}
	if strings.TrimSpace(id.Username) == "" {
		return security.NewValidationError("username", "must not be empty")
	}
	if id.Secret == "" {
		return security.NewValidationError("password", "must not be empty")
	}
	if id.ID == "" {
		return security.NewValidationError("id", "must not be empty")
	}
	return nil
}

func validatePasskeyProfile(p PasskeyProfile) error {
	if len(p.Passkey) != PasskeyLength {
		return security.NewValidationError("passkey", fmt.Sprintf("must be %d digits", PasskeyLength))
	}
	if _, err := strconv.ParseUint(p.Passkey, 10, 64); err != nil {
		return security.NewValidationError("passkey", "must be digits only")
	}
	if len(p.Sequence) != SequenceLength {
		return security.NewValidationError("sequence", fmt.Sprintf("must hold %d cards", SequenceLength))
	}
	seen := make(map[string]bool, len(p.Sequence))
	for _, c := range p.Sequence {
		if seen[c] {
			return security.NewValidationError("sequence", "cards must be distinct")
		}
		seen[c] = true
	}
	return nil
}

// encodeJSON and decodeJSON move composite columns in and out of TEXT fields.
func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
