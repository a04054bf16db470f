// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogger_RedactsMetadata(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterAuditLogger(&buf)

	require.NoError(t, logger.Log(AuditEvent{
		EventType: "PASSKEY_SETUP",
		SessionID: "sess-1",
		Success:   true,
		Error:     "store rejected 40715283",
		Metadata: map[string]string{
			"note":  "password=hunter2",
			"phone": "01712345678",
		},
	}))

	out := buf.String()
	assert.NotContains(t, out, "40715283")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "01712345678")
	assert.Contains(t, out, "[PASSKEY_REDACTED]")
}

func TestAuditLogger_DoesNotMutateCallerMetadata(t *testing.T) {
	logger := NewWriterAuditLogger(&bytes.Buffer{})
	meta := map[string]string{"passkey": "12345678"}

	require.NoError(t, logger.Log(AuditEvent{EventType: "E", Metadata: meta}))
	assert.Equal(t, "12345678", meta["passkey"])
}

func TestAuditLogger_FileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewAuditLogger(path)
	require.NoError(t, err)

	require.NoError(t, logger.Log(AuditEvent{EventType: "AUTH_GRANTED", SessionID: "s1", Success: true}))
	require.NoError(t, logger.Log(AuditEvent{EventType: "AUTH_REJECTED", SessionID: "s2", Error: "bad"}))
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	events, err := ReadEvents(data)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "AUTH_GRANTED", events[0].EventType)
	assert.False(t, events[1].Success)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestAuditLogger_ClosedIsDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewAuditLogger(path)
	require.NoError(t, err)
	assert.True(t, logger.IsEnabled())
	assert.Equal(t, path, logger.Path())

	require.NoError(t, logger.Close())
	assert.False(t, logger.IsEnabled())
	require.NoError(t, logger.Log(AuditEvent{EventType: "E"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)

	var nilLogger *AuditLogger
	assert.False(t, nilLogger.IsEnabled())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestAuditLogger_FailureCallback(t *testing.T) {
	logger := NewWriterAuditLogger(failingWriter{})
	var got error
	logger.SetOnFailure(func(err error) { got = err })

	err := logger.Log(AuditEvent{EventType: "E"})
	require.Error(t, err)
	assert.Equal(t, 1, logger.FailureCount())
	assert.ErrorContains(t, got, "disk full")
}

func TestValidationError_IsErrValidation(t *testing.T) {
	err := NewValidationError("phone", "must be 11 digits")
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "invalid phone: must be 11 digits", err.Error())
}
