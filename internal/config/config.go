// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/jeranaias/trisecure/internal/util"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TRISECURE_"

// EnvFileName is a dotenv file read from the config directory before the
// process environment.
const EnvFileName = ".env"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete trisecure configuration.
type Config struct {
	Pipeline  PipelineConfig  `toml:"pipeline" json:"pipeline" envPrefix:"PIPELINE_"`
	Typing    TypingConfig    `toml:"typing" json:"typing" envPrefix:"TYPING_"`
	Challenge ChallengeConfig `toml:"challenge" json:"challenge" envPrefix:"CHALLENGE_"`
	OTP       OTPConfig       `toml:"otp" json:"otp" envPrefix:"OTP_"`
	Storage   StorageConfig   `toml:"storage" json:"storage" envPrefix:"STORAGE_"`
	Logging   LoggingConfig   `toml:"logging" json:"logging" envPrefix:"LOG_"`
	Audit     AuditConfig     `toml:"audit" json:"audit" envPrefix:"AUDIT_"`
	Metrics   MetricsConfig   `toml:"metrics" json:"metrics" envPrefix:"METRICS_"`
}

// PipelineConfig toggles the optional login stages.
type PipelineConfig struct {
	CodeWord    bool `toml:"code_word" json:"code_word" env:"CODE_WORD"`
	OneTimeCode bool `toml:"one_time_code" json:"one_time_code" env:"ONE_TIME_CODE"`
	Typing      bool `toml:"typing" json:"typing" env:"TYPING"`
	Challenge   bool `toml:"challenge" json:"challenge" env:"CHALLENGE"`
	// Attempts is the retry budget for credentials and code word.
	Attempts int `toml:"attempts" json:"attempts" env:"ATTEMPTS"`
}

// TypingConfig holds the typing-risk thresholds.
type TypingConfig struct {
	ToleranceWPM int     `toml:"tolerance_wpm" json:"tolerance_wpm" env:"TOLERANCE_WPM"`
	MinStdDevMs  float64 `toml:"min_stddev_ms" json:"min_stddev_ms" env:"MIN_STDDEV_MS"`
}

// ChallengeConfig holds the card-challenge lockout policy.
type ChallengeConfig struct {
	FailuresPerLock int `toml:"failures_per_lock" json:"failures_per_lock" env:"FAILURES_PER_LOCK"`
	BaseLockSecs    int `toml:"base_lock_secs" json:"base_lock_secs" env:"BASE_LOCK_SECS"`
	LockStepSecs    int `toml:"lock_step_secs" json:"lock_step_secs" env:"LOCK_STEP_SECS"`
	// MaxLocks is the number of lock cycles before the session is locked out.
	MaxLocks int `toml:"max_locks" json:"max_locks" env:"MAX_LOCKS"`
}

// OTPConfig configures one-time code delivery.
type OTPConfig struct {
	Digits            int `toml:"digits" json:"digits" env:"DIGITS"`
	MaxAttempts       int `toml:"max_attempts" json:"max_attempts" env:"MAX_ATTEMPTS"`
	PeriodSecs        int `toml:"period_secs" json:"period_secs" env:"PERIOD_SECS"`
	ResendIntervalSec int `toml:"resend_interval_secs" json:"resend_interval_secs" env:"RESEND_INTERVAL_SECS"`
	// Registration requires a one-time code during registration.
	Registration bool `toml:"registration" json:"registration" env:"REGISTRATION"`
}

// StorageConfig selects the identity store.
type StorageConfig struct {
	// Backend is "sqlite", "postgres" or "memory".
	Backend string `toml:"backend" json:"backend" env:"BACKEND"`
	// Path is the sqlite database file (empty = ~/.trisecure/trisecure.db).
	Path string `toml:"path" json:"path" env:"PATH"`
	// DSN is the postgres connection string.
	DSN string `toml:"dsn" json:"dsn" env:"DSN"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `toml:"level" json:"level" env:"LEVEL"`
	Format string `toml:"format" json:"format" env:"FORMAT"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" env:"ENABLED"`
	// Path is the audit log file (empty = ~/.trisecure/audit.log).
	Path string `toml:"path" json:"path" env:"PATH"`
}

// MetricsConfig configures the prometheus textfile export.
type MetricsConfig struct {
	// Textfile is written after each command when set.
	Textfile string `toml:"textfile" json:"textfile" env:"TEXTFILE"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			CodeWord:  true,
			Typing:    true,
			Challenge: true,
			Attempts:  3,
		},
		Typing: TypingConfig{
			ToleranceWPM: 25,
			MinStdDevMs:  8,
		},
		Challenge: ChallengeConfig{
			FailuresPerLock: 3,
			BaseLockSecs:    60,
			LockStepSecs:    60,
			MaxLocks:        3,
		},
		OTP: OTPConfig{
			Digits:            4,
			MaxAttempts:       3,
			PeriodSecs:        300,
			ResendIntervalSec: 30,
		},
		Storage: StorageConfig{
			Backend: "sqlite",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Audit: AuditConfig{
			Enabled: true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the trisecure configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".trisecure"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DefaultDatabasePath returns the sqlite file used when storage.path is empty.
func DefaultDatabasePath() string {
	dir, err := ConfigDir()
	if err != nil {
		return "trisecure.db"
	}
	return filepath.Join(dir, "trisecure.db")
}

// ensureSecurePermissions tightens the config file to 0600; it may hold a DSN.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the default config file if present, applies environment
// overrides and validates the result. A missing file yields the defaults.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		return finish(Default(), filepath.Dir(path))
	}
	return LoadFromPath(path)
}

// LoadFromPath loads a TOML file over the defaults, then applies environment
// overrides and validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return finish(cfg, filepath.Dir(path))
}

// LoadTOML decodes a TOML file into cfg. Keys absent from the file keep
// their current values.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// finish layers dir/.env, then the process environment, then validates.
func finish(cfg *Config, dir string) (*Config, error) {
	if err := cfg.ApplyEnvFile(filepath.Join(dir, EnvFileName)); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies TRISECURE_* environment variables over the
// current values, e.g. TRISECURE_TYPING_TOLERANCE_WPM=30 or
// TRISECURE_STORAGE_BACKEND=postgres. Unset variables leave fields untouched.
func (c *Config) ApplyEnvOverrides() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ApplyEnvFile applies TRISECURE_* entries from a dotenv file. A missing
// file is not an error.
func (c *Config) ApplyEnvFile(path string) error {
	vars, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix, Environment: vars}); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# trisecure configuration file\n")
	buf.WriteString("# Environment variables TRISECURE_<SECTION>_<KEY> override these values.\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every section and returns all problems at once.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Pipeline.Attempts < 1 || c.Pipeline.Attempts > 10 {
		add("pipeline.attempts", "must be between 1 and 10, got %d", c.Pipeline.Attempts)
	}

	if c.Typing.ToleranceWPM < 1 || c.Typing.ToleranceWPM > 200 {
		add("typing.tolerance_wpm", "must be between 1 and 200, got %d", c.Typing.ToleranceWPM)
	}
	if c.Typing.MinStdDevMs <= 0 || c.Typing.MinStdDevMs > 1000 {
		add("typing.min_stddev_ms", "must be between 0 and 1000, got %g", c.Typing.MinStdDevMs)
	}

	if c.Challenge.FailuresPerLock < 1 {
		add("challenge.failures_per_lock", "must be at least 1, got %d", c.Challenge.FailuresPerLock)
	}
	if c.Challenge.BaseLockSecs < 1 {
		add("challenge.base_lock_secs", "must be at least 1, got %d", c.Challenge.BaseLockSecs)
	}
	if c.Challenge.LockStepSecs < 0 {
		add("challenge.lock_step_secs", "cannot be negative, got %d", c.Challenge.LockStepSecs)
	}
	if c.Challenge.MaxLocks < 1 {
		add("challenge.max_locks", "must be at least 1, got %d", c.Challenge.MaxLocks)
	}

	if c.OTP.Digits < 4 || c.OTP.Digits > 8 {
		add("otp.digits", "must be between 4 and 8, got %d", c.OTP.Digits)
	}
	if c.OTP.MaxAttempts < 1 {
		add("otp.max_attempts", "must be at least 1, got %d", c.OTP.MaxAttempts)
	}
	if c.OTP.PeriodSecs < 30 {
		add("otp.period_secs", "must be at least 30, got %d", c.OTP.PeriodSecs)
	}
	if c.OTP.ResendIntervalSec < 0 {
		add("otp.resend_interval_secs", "cannot be negative, got %d", c.OTP.ResendIntervalSec)
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "sqlite", "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			add("storage.dsn", "required when backend is postgres")
		}
	default:
		add("storage.backend", "invalid backend '%s', must be one of: sqlite, postgres, memory", c.Storage.Backend)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		add("logging.format", "invalid format '%s', must be one of: text, json", c.Logging.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using its TOML key path (e.g. "typing.tolerance_wpm").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a configuration value using its TOML key path. String values
// are converted to the field's type.
func (c *Config) Set(key string, value any) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return reflect.Value{}, fmt.Errorf("invalid key %q, expected section.key", key)
	}

	section, ok := fieldByTag(reflect.ValueOf(c).Elem(), parts[0])
	if !ok {
		return reflect.Value{}, fmt.Errorf("unknown section: %s", parts[0])
	}
	field, ok := fieldByTag(section, parts[1])
	if !ok {
		return reflect.Value{}, fmt.Errorf("unknown field: %s", key)
	}
	return field, nil
}

// fieldByTag finds a struct field by its toml tag name.
func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if tomlName(t.Field(i)) == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func tomlName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
	return name
}

// setFieldValue sets a reflect.Value from an interface value with type conversion.
func setFieldValue(field reflect.Value, value any) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			boolVal, err := strconv.ParseBool(strings.ToLower(strVal))
			if err != nil {
				return fmt.Errorf("invalid boolean value: %v", err)
			}
			field.SetBool(boolVal)
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Keys returns every configuration key in dot notation, sorted.
func Keys() []string {
	var keys []string
	root := reflect.TypeOf(Config{})
	for i := 0; i < root.NumField(); i++ {
		section := root.Field(i)
		for j := 0; j < section.Type.NumField(); j++ {
			keys = append(keys, tomlName(section)+"."+tomlName(section.Type.Field(j)))
		}
	}
	sort.Strings(keys)
	return keys
}

// String renders the effective configuration as TOML with secrets redacted.
func (c *Config) String() string {
	safe := *c
	if safe.Storage.DSN != "" {
		safe.Storage.DSN = "[REDACTED]"
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(safe); err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return buf.String()
}
