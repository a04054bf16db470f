// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// stdout is where handlers print; tests swap it.
var stdout io.Writer = os.Stdout

// Command represents the CLI command to execute.
type Command int

const (
	CmdLogin Command = iota
	CmdRegister
	CmdConfig
	CmdAudit
	CmdVersion
	CmdHelp
	CmdUnknown
)

// String returns the command name.
func (c Command) String() string {
	switch c {
	case CmdLogin:
		return "login"
	case CmdRegister:
		return "register"
	case CmdConfig:
		return "config"
	case CmdAudit:
		return "audit"
	case CmdVersion:
		return "version"
	case CmdHelp:
		return "help"
	default:
		return "unknown"
	}
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string // --config FILE
	Verbose    bool
	Quiet      bool
	JSON       bool

	// Command-specific
	Name       string // command word as typed
	Subcommand string
	Raw        []string
}

const usageText = `trisecure - multi-factor terminal authentication

Usage:
  trisecure register                 Create an account
  trisecure login                    Authenticate (default)
  trisecure config [subcommand]      Configuration
  trisecure audit show [--lines N]   Recent authentication events
  trisecure version                  Show version
  trisecure help                     Show this help

Login stages:
  1. username and password (keystroke timing captured)
  2. recovery code word
  3. one-time code to the registered phone (off by default)
  4. typing speed and rhythm check
  5. card challenge: re-select your 7 cards, then enter your passkey

Config Commands:
  trisecure config show              Show effective configuration
  trisecure config path              Show config file path
  trisecure config keys              List all keys
  trisecure config get KEY           Show one value (e.g. typing.tolerance_wpm)
  trisecure config set KEY VALUE     Change a value and save
  trisecure config init              Write the default config file

Global Flags:
  --config FILE   Use FILE instead of ~/.trisecure/config.toml
  -v, --verbose   Debug logging
  -q, --quiet     Minimal output
  --json          JSON output for config and audit commands

Environment:
  TRISECURE_<SECTION>_<KEY> overrides any config value,
  e.g. TRISECURE_STORAGE_BACKEND=memory, TRISECURE_TYPING_TOLERANCE_WPM=30

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage() {
	fmt.Fprintf(stdout, usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Fprintf(stdout, "trisecure version %s\n", Version)
	fmt.Fprintf(stdout, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(stdout, "  Build date: %s\n", BuildDate)
	fmt.Fprintf(stdout, "  Go:         %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Parse parses os.Args.
func Parse() (Command, Args) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs parses an argument list and returns the command and args.
func ParseArgs(argv []string) (Command, Args) {
	remaining, parsed := parseGlobalFlags(argv)

	if len(remaining) == 0 {
		return CmdLogin, parsed
	}

	parsed.Name = remaining[0]
	remaining = remaining[1:]
	parsed.Raw = remaining
	if len(remaining) > 0 {
		parsed.Subcommand = strings.ToLower(remaining[0])
	}

	switch strings.ToLower(parsed.Name) {
	case "login", "signin":
		return CmdLogin, parsed
	case "register", "signup":
		return CmdRegister, parsed
	case "config":
		return CmdConfig, parsed
	case "audit":
		return CmdAudit, parsed
	case "version", "--version", "-V":
		return CmdVersion, parsed
	case "help", "--help", "-h":
		return CmdHelp, parsed
	default:
		return CmdUnknown, parsed
	}
}

// parseGlobalFlags extracts global flags from anywhere in argv.
func parseGlobalFlags(argv []string) ([]string, Args) {
	var args Args
	var remaining []string

	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		switch {
		case arg == "-v" || arg == "--verbose":
			args.Verbose = true
		case arg == "-q" || arg == "--quiet":
			args.Quiet = true
		case arg == "--json":
			args.JSON = true
		case arg == "--config" && i+1 < len(argv):
			args.ConfigPath = argv[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			args.ConfigPath = strings.TrimPrefix(arg, "--config=")
		default:
			remaining = append(remaining, arg)
		}
	}
	return remaining, args
}

// Run dispatches a parsed command.
func Run(cmd Command, args Args) error {
	switch cmd {
	case CmdLogin:
		return HandleLogin(args)
	case CmdRegister:
		return HandleRegister(args)
	case CmdConfig:
		return HandleConfig(args)
	case CmdAudit:
		return HandleAudit(args)
	case CmdVersion:
		PrintVersion()
		return nil
	case CmdHelp:
		PrintUsage()
		return nil
	default:
		return NewCommandError(args.Name, "", "unknown command; run 'trisecure help'", nil)
	}
}
