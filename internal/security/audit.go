// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security provides audit logging with secret redaction for
// authentication events.
package security

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// DefaultMaxFileSize is the default max file size before rotation (10MB).
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// AuditFileName is the default audit log file name inside the data directory.
const AuditFileName = "audit.log"

// =============================================================================
// AUDIT EVENT
// =============================================================================

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	SessionID string            `json:"session_id,omitempty"`
	Subject   string            `json:"subject,omitempty"` // masked identifier
	Stage     string            `json:"stage,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// =============================================================================
// REDACTION
// =============================================================================

// redactor replaces matches of pattern with a fixed marker.
type redactor struct {
	pattern *regexp.Regexp
	replace string
}

var redactors = []redactor{
	{regexp.MustCompile(`\b[0-9]{8}\b`), "[PASSKEY_REDACTED]"},
	{regexp.MustCompile(`(?i)(password|secret|code_word|codeword)\s*[=:]\s*\S+`), "[SECRET_REDACTED]"},
	{regexp.MustCompile(`\b01[3-9][0-9]{8}\b`), "[PHONE_REDACTED]"},
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

// AuditFailureCallback is called synchronously when a write fails.
type AuditFailureCallback func(err error)

// AuditLogger writes redacted JSON-lines audit events. It is safe for
// concurrent use.
type AuditLogger struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	out     io.Writer
	maxSize int64

	failureCount int
	onFailure    AuditFailureCallback
}

// DefaultAuditPath returns ~/.trisecure/audit.log.
func DefaultAuditPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return AuditFileName
	}
	return filepath.Join(home, ".trisecure", AuditFileName)
}

// NewAuditLogger creates a new audit logger appending to path.
func NewAuditLogger(path string) (*AuditLogger, error) {
	if path == "" {
		path = DefaultAuditPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &AuditLogger{
		path:    path,
		file:    file,
		out:     file,
		maxSize: DefaultMaxFileSize,
	}, nil
}

// NewWriterAuditLogger logs to an arbitrary writer. Rotation is disabled.
func NewWriterAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{out: w}
}

// Log writes one event. Metadata values and the error are redacted first.
func (l *AuditLogger) Log(event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil {
		return nil
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Error != "" {
		event.Error = redact(event.Error)
	}
	if event.Metadata != nil {
		redacted := make(map[string]string, len(event.Metadata))
		for k, v := range event.Metadata {
			redacted[k] = redact(v)
		}
		event.Metadata = redacted
	}

	if err := l.checkRotationLocked(); err != nil {
		l.handleFailureLocked(err)
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	line = append(line, '\n')

	if _, err := l.out.Write(line); err != nil {
		writeErr := fmt.Errorf("failed to write audit log: %w", err)
		l.handleFailureLocked(writeErr)
		return writeErr
	}
	if l.file != nil {
		if err := l.file.Sync(); err != nil {
			syncErr := fmt.Errorf("failed to sync audit log: %w", err)
			l.handleFailureLocked(syncErr)
			return syncErr
		}
	}

	l.failureCount = 0
	return nil
}

// redact masks passkeys, secrets and phone numbers in input.
func redact(input string) string {
	for _, r := range redactors {
		input = r.pattern.ReplaceAllString(input, r.replace)
	}
	return input
}

// IsEnabled reports whether events are written. A nil or closed logger is
// disabled.
func (l *AuditLogger) IsEnabled() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out != nil
}

// SetOnFailure registers the write-failure callback.
func (l *AuditLogger) SetOnFailure(cb AuditFailureCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onFailure = cb
}

// FailureCount returns the number of consecutive write failures.
func (l *AuditLogger) FailureCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failureCount
}

// Path returns the log file path, or "" for writer-backed loggers.
func (l *AuditLogger) Path() string {
	return l.path
}

// Close closes the underlying file.
func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.out = nil
	return err
}

func (l *AuditLogger) handleFailureLocked(err error) {
	l.failureCount++
	fmt.Fprintf(os.Stderr, "[AUDIT FAILURE #%d] %v\n", l.failureCount, err)
	if l.onFailure != nil {
		l.onFailure(err)
	}
}

// checkRotationLocked renames the file to path.<timestamp> once it exceeds maxSize.
func (l *AuditLogger) checkRotationLocked() error {
	if l.file == nil || l.maxSize <= 0 {
		return nil
	}
	info, err := l.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat audit log: %w", err)
	}
	if info.Size() < l.maxSize {
		return nil
	}

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log for rotation: %w", err)
	}
	rotated := l.path + "." + time.Now().Format("20060102-150405")
	if err := os.Rename(l.path, rotated); err != nil {
		return fmt.Errorf("failed to rotate audit log: %w", err)
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		l.file, l.out = nil, nil
		return fmt.Errorf("failed to reopen audit log: %w", err)
	}
	l.file, l.out = file, file
	return nil
}

// ReadEvents decodes a JSON-lines audit stream. Used by tests and tooling.
func ReadEvents(data []byte) ([]AuditEvent, error) {
	var events []AuditEvent
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var ev AuditEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("decode audit line: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}
