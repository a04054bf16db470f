// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

// =============================================================================
// DEFAULTS AND LOADING
// =============================================================================

func TestConfig_Default(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Pipeline.CodeWord)
	assert.False(t, cfg.Pipeline.OneTimeCode)
	assert.True(t, cfg.Pipeline.Typing)
	assert.True(t, cfg.Pipeline.Challenge)
	assert.Equal(t, 3, cfg.Pipeline.Attempts)
	assert.Equal(t, 25, cfg.Typing.ToleranceWPM)
	assert.Equal(t, 8.0, cfg.Typing.MinStdDevMs)
	assert.Equal(t, 60, cfg.Challenge.BaseLockSecs)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
}

func TestLoadFromPath_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
[typing]
min_stddev_ms = 10.0

[pipeline]
one_time_code = true
`)
	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 10.0, cfg.Typing.MinStdDevMs)
	assert.Equal(t, 25, cfg.Typing.ToleranceWPM)
	assert.True(t, cfg.Pipeline.OneTimeCode)
	assert.True(t, cfg.Pipeline.CodeWord)
}

func TestLoadFromPath_UnknownKey(t *testing.T) {
	path := writeConfig(t, "[typing]\ntolerance = 5\n")
	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "typing.tolerance")
}

func TestLoadFromPath_InvalidValues(t *testing.T) {
	path := writeConfig(t, "[storage]\nbackend = \"mysql\"\n")
	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend")
}

func TestLoadFromPath_TightensPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	path := writeConfig(t, "")
	require.NoError(t, os.Chmod(path, 0644))

	_, err := LoadFromPath(path)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("USERPROFILE", os.Getenv("HOME"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("TRISECURE_TYPING_TOLERANCE_WPM", "30")
	t.Setenv("TRISECURE_PIPELINE_ONE_TIME_CODE", "true")
	t.Setenv("TRISECURE_STORAGE_BACKEND", "memory")
	t.Setenv("TRISECURE_LOG_FORMAT", "json")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnvOverrides())
	assert.Equal(t, 30, cfg.Typing.ToleranceWPM)
	assert.True(t, cfg.Pipeline.OneTimeCode)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 8.0, cfg.Typing.MinStdDevMs, "unset variables leave fields alone")
}

func TestApplyEnvOverrides_BeatsFile(t *testing.T) {
	t.Setenv("TRISECURE_CHALLENGE_BASE_LOCK_SECS", "5")
	path := writeConfig(t, "[challenge]\nbase_lock_secs = 90\n")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Challenge.BaseLockSecs)
}

func TestEnvFile_BetweenFileAndProcessEnv(t *testing.T) {
	path := writeConfig(t, "[typing]\ntolerance_wpm = 40\n[challenge]\nmax_locks = 2\n")
	dotenv := "# local overrides\nTRISECURE_TYPING_TOLERANCE_WPM=35\nTRISECURE_CHALLENGE_MAX_LOCKS=4\nUNRELATED=x\n"
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), EnvFileName), []byte(dotenv), 0600))
	t.Setenv("TRISECURE_CHALLENGE_MAX_LOCKS", "5")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 35, cfg.Typing.ToleranceWPM, "env file beats the TOML file")
	assert.Equal(t, 5, cfg.Challenge.MaxLocks, "process env beats the env file")
}

func TestApplyEnvFile_Missing(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnvFile(filepath.Join(t.TempDir(), EnvFileName)))
	assert.Equal(t, Default(), cfg)
}

func TestApplyEnvOverrides_BadValue(t *testing.T) {
	t.Setenv("TRISECURE_TYPING_TOLERANCE_WPM", "fast")
	err := Default().ApplyEnvOverrides()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestConfig_ValidateCollectsAll(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.Attempts = 0
	cfg.Typing.MinStdDevMs = 0
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 3)
	assert.Equal(t, "pipeline.attempts", verrs[0].Field)
	assert.Equal(t, "typing.min_stddev_ms", verrs[1].Field)
	assert.Equal(t, "logging.level", verrs[2].Field)
}

func TestConfig_ValidatePostgresNeedsDSN(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "postgres"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.dsn")

	cfg.Storage.DSN = "postgres://localhost/trisecure"
	assert.NoError(t, cfg.Validate())
}

// =============================================================================
// SAVE, GET/SET
// =============================================================================

func TestSaveTOML_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.Typing.ToleranceWPM = 40
	cfg.Storage.Path = "/var/lib/trisecure/db"

	require.NoError(t, SaveTOML(cfg, path))
	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}

func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	v, err := cfg.Get("typing.tolerance_wpm")
	require.NoError(t, err)
	assert.Equal(t, 25, v)

	require.NoError(t, cfg.Set("typing.tolerance_wpm", "35"))
	require.NoError(t, cfg.Set("pipeline.one_time_code", "true"))
	require.NoError(t, cfg.Set("typing.min_stddev_ms", 12.5))
	require.NoError(t, cfg.Set("storage.backend", "memory"))
	assert.Equal(t, 35, cfg.Typing.ToleranceWPM)
	assert.True(t, cfg.Pipeline.OneTimeCode)
	assert.Equal(t, 12.5, cfg.Typing.MinStdDevMs)
	assert.Equal(t, "memory", cfg.Storage.Backend)

	assert.Error(t, cfg.Set("typing.tolerance_wpm", "x"))
	assert.Error(t, cfg.Set("pipeline.typing", "maybe"))
	_, err = cfg.Get("typing")
	assert.Error(t, err)
	_, err = cfg.Get("nosuch.key")
	assert.Error(t, err)
	_, err = cfg.Get("typing.nosuch")
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "typing.tolerance_wpm")
	assert.Contains(t, keys, "storage.dsn")
	assert.Contains(t, keys, "challenge.max_locks")

	cfg := Default()
	for _, k := range keys {
		_, err := cfg.Get(k)
		assert.NoError(t, err, k)
	}
}

func TestConfig_StringRedactsDSN(t *testing.T) {
	cfg := Default()
	cfg.Storage.DSN = "postgres://user:hunter2@db/trisecure"
	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "[REDACTED]")
	assert.Equal(t, "postgres://user:hunter2@db/trisecure", cfg.Storage.DSN)
}
