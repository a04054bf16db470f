// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and the console front end for
// trisecure.
//
// # Key Types
//
//   - Command: enumeration of the available commands
//   - Args: parsed global flags plus the raw command arguments
//   - Console: the interactive terminal, with raw-mode keystroke capture
//   - CommandError / UsageError: errors mapped to exit codes
//
// # Usage
//
//	cmd, args := cli.Parse()
//	if err := cli.Run(cmd, args); err != nil {
//	    cli.DisplayError(err, args.JSON)
//	    os.Exit(cli.GetExitCode(err))
//	}
//
// # Commands
//
//   - login (default): run the authentication pipeline
//   - register: create an account
//   - config: show, get, set and initialise configuration
//   - audit: review recent authentication events
//   - version, help
//
// Exit codes distinguish a rejected login (4) from a lockout (5) and an
// operator abort (130).
package cli
