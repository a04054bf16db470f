// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jeranaias/trisecure/internal/config"
	"github.com/jeranaias/trisecure/internal/security"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution or a granted login
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitAuthError indicates a rejected login or registration
	ExitAuthError = 4
	// ExitLockedOut indicates the card challenge locked the session out
	ExitLockedOut = 5
	// ExitAborted indicates the operator cancelled
	ExitAborted = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError represents a CLI command error with context.
type CommandError struct {
	Command string
	Action  string
	Reason  string
	Err     error
}

func (e *CommandError) Error() string {
	action := e.Command
	if e.Action != "" {
		action += " " + e.Action
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", action, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", action, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// UsageError represents bad command-line input.
type UsageError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *UsageError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// NewCommandError creates a new command error.
func NewCommandError(command, action, reason string, err error) error {
	return &CommandError{Command: command, Action: action, Reason: reason, Err: err}
}

// ErrMissingArgument creates an error for missing required arguments.
func ErrMissingArgument(argName, usage string) error {
	return &UsageError{Field: argName, Reason: "required argument missing", Example: usage}
}

// ErrInvalidFormat creates an error for invalid format.
func ErrInvalidFormat(field, value, expected string) error {
	return &UsageError{Field: field, Value: value, Reason: "invalid format", Example: expected}
}

// =============================================================================
// ERROR DISPLAY
// =============================================================================

// DisplayError prints err in the human or JSON format.
func DisplayError(err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		displayErrorJSON(err)
		return
	}
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
	fmt.Fprintln(stdout)
}

func displayErrorJSON(err error) {
	output := map[string]any{
		"error":      err.Error(),
		"success":    false,
		"exit_code":  GetExitCode(err),
		"error_type": errorType(err),
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(output)
}

func errorType(err error) string {
	var usage *UsageError
	var cfgErrs config.ValidateErrors
	switch {
	case errors.As(err, &usage):
		return "usage_error"
	case errors.As(err, &cfgErrs):
		return "config_error"
	case errors.Is(err, security.ErrLockedOut):
		return "locked_out"
	case errors.Is(err, security.ErrAborted), errors.Is(err, context.Canceled):
		return "aborted"
	case errors.Is(err, security.ErrCredentialMismatch),
		errors.Is(err, security.ErrRiskRejected),
		errors.Is(err, security.ErrChallengeMismatch),
		errors.Is(err, security.ErrValidation),
		errors.Is(err, security.ErrDuplicateIdentifier):
		return "auth_error"
	default:
		return "generic_error"
	}
}

// GetExitCode maps an error to a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	switch errorType(err) {
	case "usage_error":
		return ExitUsageError
	case "config_error":
		return ExitConfigError
	case "locked_out":
		return ExitLockedOut
	case "aborted":
		return ExitAborted
	case "auth_error":
		return ExitAuthError
	default:
		return ExitGeneralError
	}
}
