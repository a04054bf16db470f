// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and validates trisecure configuration.
//
// # Configuration Precedence
//
// Values are resolved in this order, later sources winning:
//   - Built-in defaults (Default)
//   - ~/.trisecure/config.toml
//   - A .env file in the same directory
//   - Environment variables (TRISECURE_<SECTION>_<KEY>)
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	profiler := typing.NewProfiler(cfg.Typing.ToleranceWPM, cfg.Typing.MinStdDevMs)
//
// Keys use the TOML names in dot notation with Get and Set:
//
//	cfg.Set("typing.tolerance_wpm", "30")
package config
