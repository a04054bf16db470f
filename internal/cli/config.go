// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command implementation.
//
// Command: config [subcommand]
//
// Subcommands:
//   show (default)      Display effective configuration (file + environment)
//   path                Show configuration file path
//   keys                List every key
//   get <key>           Show one value
//   set <key> <value>   Change a value in the file
//   init [--force]      Write the default configuration
//
// Examples:
//   trisecure config set typing.tolerance_wpm 30
//   trisecure config set pipeline.one_time_code true
//   trisecure config set storage.backend postgres
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jeranaias/trisecure/internal/config"
)

// HandleConfig handles the config command.
func HandleConfig(args Args) error {
	p := NewArgParser(args.Raw)
	sub := p.Subcommand()
	if sub == "" {
		sub = "show"
	}

	switch sub {
	case "show":
		return configShow(args)
	case "path":
		path, err := configFilePath(args)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, path)
		return nil
	case "keys":
		for _, k := range config.Keys() {
			fmt.Fprintln(stdout, k)
		}
		return nil
	case "get":
		if err := p.expectPositional(2, "trisecure config get typing.tolerance_wpm"); err != nil {
			return err
		}
		return configGet(args, p.Positional(1))
	case "set":
		if err := p.expectPositional(3, "trisecure config set typing.tolerance_wpm 30"); err != nil {
			return err
		}
		return configSet(args, p.Positional(1), p.Positional(2))
	case "init":
		return configInit(args, p.BoolFlag("force"))
	default:
		return NewCommandError("config", sub, "unknown subcommand", nil)
	}
}

func configFilePath(args Args) (string, error) {
	if args.ConfigPath != "" {
		return args.ConfigPath, nil
	}
	return config.ConfigPath()
}

func configShow(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	if args.JSON {
		safe := *cfg
		if safe.Storage.DSN != "" {
			safe.Storage.DSN = "[REDACTED]"
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(safe)
	}
	fmt.Fprint(stdout, cfg.String())
	return nil
}

func configGet(args Args, key string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	v, err := cfg.Get(key)
	if err != nil {
		return &UsageError{Field: "key", Value: key, Reason: err.Error(), Example: "trisecure config keys"}
	}
	if key == "storage.dsn" && v != "" {
		v = "[REDACTED]"
	}
	fmt.Fprintln(stdout, v)
	return nil
}

// configSet edits the file itself; environment overrides are not persisted.
func configSet(args Args, key, value string) error {
	path, err := configFilePath(args)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if _, statErr := os.Stat(path); statErr == nil {
		if err := config.LoadTOML(cfg, path); err != nil {
			return err
		}
	}
	if err := cfg.Set(key, value); err != nil {
		return &UsageError{Field: "key", Value: key, Reason: err.Error(), Example: "trisecure config keys"}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.SaveTOML(cfg, path); err != nil {
		return err
	}
	if !args.Quiet {
		fmt.Fprintln(stdout, SuccessStyle.Render("Saved"), DimStyle.Render(key+" = "+value))
	}
	return nil
}

func configInit(args Args, force bool) error {
	path, err := configFilePath(args)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(path); statErr == nil && !force {
		return NewCommandError("config", "init", path+" already exists (use --force to overwrite)", nil)
	} else if statErr != nil && !errors.Is(statErr, os.ErrNotExist) {
		return statErr
	}
	if err := config.SaveTOML(config.Default(), path); err != nil {
		return err
	}
	if !args.Quiet {
		fmt.Fprintln(stdout, SuccessStyle.Render("Wrote"), path)
	}
	return nil
}
