package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/randomizedcoder/go-specinvoke/internal/invoke"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	if len(cfg.Commands) == 0 {
		errs = append(errs, ValidationError{
			Field:   "commands",
			Message: "at least one command template is required",
		})
	}
	for i, c := range cfg.Commands {
		if strings.TrimSpace(c) == "" {
			errs = append(errs, ValidationError{
				Field:   "commands",
				Message: fmt.Sprintf("command %d is empty", i),
			})
		}
	}

	if cfg.Copies < 1 {
		errs = append(errs, ValidationError{
			Field:   "copies",
			Message: "must be at least 1",
		})
	}

	if !filepath.IsAbs(cfg.Shell) {
		errs = append(errs, ValidationError{
			Field:   "shell",
			Message: fmt.Sprintf("must be an absolute path (got %q)", cfg.Shell),
		})
	}

	if cfg.CopyToken == "" {
		errs = append(errs, ValidationError{
			Field:   "copy_token",
			Message: "must not be empty",
		})
	}
	if cfg.BindToken == "" {
		errs = append(errs, ValidationError{
			Field:   "bind_token",
			Message: "must not be empty",
		})
	}
	if cfg.CopyToken != "" && cfg.CopyToken == cfg.BindToken {
		errs = append(errs, ValidationError{
			Field:   "bind_token",
			Message: "must differ from copy_token",
		})
	}

	if _, err := invoke.ParseStdinPolicy(cfg.Stdin); err != nil {
		errs = append(errs, ValidationError{
			Field:   "stdin",
			Message: err.Error(),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	if cfg.PollInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "poll_interval",
			Message: "must be positive",
		})
	}
	if cfg.StopTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "stop_timeout",
			Message: "must not be negative",
		})
	}

	if cfg.Calibrate && cfg.CalibrationTrials < 1 {
		errs = append(errs, ValidationError{
			Field:   "calibration_trials",
			Message: "must be at least 1 when calibration is enabled",
		})
	}

	if cfg.TUIEnabled && cfg.DryRun {
		errs = append(errs, ValidationError{
			Field:   "tui_enabled",
			Message: "dashboard has nothing to show in dry-run mode",
		})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// StdinPolicy returns the parsed stdin policy. Call after Validate.
func (c *Config) StdinPolicy() invoke.StdinPolicy {
	p, _ := invoke.ParseStdinPolicy(c.Stdin)
	return p
}
