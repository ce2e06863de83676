// Package config provides configuration management for specinvoke.
package config

import (
	"time"

	"github.com/randomizedcoder/go-specinvoke/internal/subst"
)

// Config holds all configuration options for a launch run.
type Config struct {
	// Launch
	Commands []string `json:"commands"` // command templates, one per positional argument
	Copies   int      `json:"copies"`
	Shell    string   `json:"shell"`
	Dir      string   `json:"dir"`
	Binds    []string `json:"binds"` // assigned to copies round robin
	DryRun   bool     `json:"dry_run"`
	Helper   string   `json:"helper"` // child trampoline; empty = look beside the driver

	// Substitution
	CopyToken string `json:"copy_token"`
	BindToken string `json:"bind_token"`

	// Redirection
	Redirect bool   `json:"redirect"`
	Stdin    string `json:"stdin"` // null, zerofile, close
	Input    string `json:"input"`
	Output   string `json:"output"`
	Error    string `json:"error"`

	// Reaping
	PollInterval time.Duration `json:"poll_interval"`
	StopTimeout  time.Duration `json:"stop_timeout"`

	// Timer
	Calibrate         bool `json:"calibrate"`
	CalibrationTrials int  `json:"calibration_trials"`

	// Observability
	LaunchLog   string `json:"launch_log"` // "" or "-" = stdout
	MetricsAddr string `json:"metrics_addr"`
	MetricsFile string `json:"metrics_file"`
	Verbose     bool   `json:"verbose"`
	LogFormat   string `json:"log_format"` // json, text
	TUIEnabled  bool   `json:"tui_enabled"`

	// Diagnostic modes
	SkipPreflight bool `json:"skip_preflight"`
	PrintVersion  bool `json:"print_version"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Launch
		Copies: 1,
		Shell:  "/bin/sh",

		// Substitution
		CopyToken: subst.DefaultCopyToken,
		BindToken: subst.DefaultBindToken,

		// Redirection
		Redirect: true,
		Stdin:    "null",

		// Reaping
		PollInterval: 10 * time.Millisecond,
		StopTimeout:  5 * time.Second,

		// Timer
		Calibrate:         true,
		CalibrationTrials: 1000,

		// Observability
		MetricsAddr: "", // disabled
		LogFormat:   "text",
		TUIEnabled:  false,
	}
}

// Bind returns the bind target for copy n, or "" when no binds are configured.
func (c *Config) Bind(n int) string {
	if len(c.Binds) == 0 {
		return ""
	}
	return c.Binds[n%len(c.Binds)]
}

// TotalCopies is the number of children the run will launch.
func (c *Config) TotalCopies() int {
	return c.Copies * len(c.Commands)
}
