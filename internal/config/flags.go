package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// bindList is a custom flag type for -bind. Values may repeat or be comma separated.
type bindList []string

func (b *bindList) String() string {
	return strings.Join(*b, ",")
}

func (b *bindList) Set(value string) error {
	for _, v := range strings.Split(value, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			*b = append(*b, v)
		}
	}
	return nil
}

// ParseFlags parses os.Args and returns a Config.
func ParseFlags() (*Config, error) {
	return ParseArgs(os.Args[1:], os.Stderr)
}

// ParseArgs parses args (without the program name). Usage text goes to usageOut.
func ParseArgs(args []string, usageOut io.Writer) (*Config, error) {
	cfg := DefaultConfig()
	var binds bindList

	fs := flag.NewFlagSet("specinvoke", flag.ContinueOnError)
	fs.SetOutput(usageOut)

	// Custom usage message
	fs.Usage = func() {
		fmt.Fprintf(usageOut, `specinvoke - launch benchmark copies as shell children and reap them

Usage:
  specinvoke [flags] <command-template>...

Launch Flags:
`)
		printFlagCategory(fs, usageOut, []string{"copies", "shell", "dir", "bind", "dry-run", "helper"})

		fmt.Fprintf(usageOut, "\nSubstitution:\n")
		printFlagCategory(fs, usageOut, []string{"copy-token", "bind-token"})

		fmt.Fprintf(usageOut, "\nRedirection:\n")
		printFlagCategory(fs, usageOut, []string{"redirect", "stdin", "i", "o", "e"})

		fmt.Fprintf(usageOut, "\nReaping:\n")
		printFlagCategory(fs, usageOut, []string{"poll", "stop-timeout"})

		fmt.Fprintf(usageOut, "\nTimer:\n")
		printFlagCategory(fs, usageOut, []string{"calibrate", "calibration-trials"})

		fmt.Fprintf(usageOut, "\nObservability:\n")
		printFlagCategory(fs, usageOut, []string{"launch-log", "metrics", "metrics-file", "v", "log-format", "tui"})

		fmt.Fprintf(usageOut, "\nDiagnostics:\n")
		printFlagCategory(fs, usageOut, []string{"skip-preflight", "version"})

		fmt.Fprintf(usageOut, `
Tokens:
  $SPECCOPYNUM is replaced with the copy number, $BIND with the copy's bind
  target, in the command and in the -dir, -i, -o and -e paths. Quote templates
  so the invoking shell does not expand them.

Examples:
  # Four copies of a benchmark, one output file each
  specinvoke -copies 4 -o 'out.$SPECCOPYNUM' './bench --copy=$SPECCOPYNUM'

  # Pin copies to CPUs round robin
  specinvoke -copies 8 -bind 0,1,2,3 'taskset -c $BIND ./bench'

  # Show what would run
  specinvoke -dry-run -copies 2 'echo $SPECCOPYNUM'

`)
	}

	// Launch
	fs.IntVar(&cfg.Copies, "copies", cfg.Copies, "Copies of each command to launch")
	fs.StringVar(&cfg.Shell, "shell", cfg.Shell, "Absolute path of the shell that runs each command")
	fs.StringVar(&cfg.Dir, "dir", cfg.Dir, "Working directory for every copy")
	fs.Var(&binds, "bind", "Bind targets assigned to copies round robin (comma list, can repeat)")
	fs.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "Print commands instead of running them")
	fs.StringVar(&cfg.Helper, "helper", cfg.Helper, "Child trampoline executable (default: specinvoke-child beside this binary, else specinvoke itself)")

	// Substitution
	fs.StringVar(&cfg.CopyToken, "copy-token", cfg.CopyToken, "Token replaced with the copy number")
	fs.StringVar(&cfg.BindToken, "bind-token", cfg.BindToken, "Token replaced with the bind target")

	// Redirection
	fs.BoolVar(&cfg.Redirect, "redirect", cfg.Redirect, "Redirect child stdin/stdout/stderr (default: true, use -redirect=false to inherit)")
	fs.StringVar(&cfg.Stdin, "stdin", cfg.Stdin, `Child stdin without -i: "null", "zerofile" or "close"`)
	fs.StringVar(&cfg.Input, "i", cfg.Input, "Input file for every copy")
	fs.StringVar(&cfg.Output, "o", cfg.Output, "Output file for every copy")
	fs.StringVar(&cfg.Error, "e", cfg.Error, "Error file for every copy (appended)")

	// Reaping
	fs.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "Longest wait between reap attempts when no SIGCHLD arrives")
	fs.DurationVar(&cfg.StopTimeout, "stop-timeout", cfg.StopTimeout, "Grace period for children after SIGTERM on shutdown")

	// Timer
	fs.BoolVar(&cfg.Calibrate, "calibrate", cfg.Calibrate, "Measure timer resolution at startup")
	fs.IntVar(&cfg.CalibrationTrials, "calibration-trials", cfg.CalibrationTrials, "Timer calibration trials")

	// Observability
	fs.StringVar(&cfg.LaunchLog, "launch-log", cfg.LaunchLog, `Launch log file ("-" or empty = stdout)`)
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address (empty = disabled)")
	fs.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "Write final metrics in Prometheus text format to this file")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Live dashboard of outstanding copies (needs a terminal)")

	// Diagnostics
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
	fs.BoolVar(&cfg.PrintVersion, "version", cfg.PrintVersion, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.Binds = binds
	cfg.Commands = fs.Args()

	return cfg, nil
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	for _, name := range names {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
			fmt.Fprintf(w, " (default %s)", f.DefValue)
		}
		fmt.Fprintln(w)
	}
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
			return "duration"
		}
	}

	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
