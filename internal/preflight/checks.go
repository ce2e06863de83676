// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"math"
	"os"

	sys "golang.org/x/sys/unix"
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// Params describes the run being checked.
type Params struct {
	Copies int      // total children across all commands
	Shell  string   // absolute shell path
	Dirs   []string // working directories; empty entries are skipped
	DryRun bool     // no processes will be created
}

// RunAll executes all preflight checks.
func RunAll(p Params) *Result {
	result := &Result{
		Checks: make([]Check, 0, 4+len(p.Dirs)),
		Passed: true,
	}

	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	if !p.DryRun {
		add(checkFileDescriptors(p.Copies))
		add(checkProcessLimit(p.Copies))
		add(checkShell(p.Shell))
		add(checkHelper())
	}
	for _, dir := range p.Dirs {
		if dir != "" {
			add(checkDirectory(dir))
		}
	}

	return result
}

// rlimitValue converts a limit to int, capping "unlimited" at MaxInt32.
func rlimitValue(v uint64) int {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}

// checkFileDescriptors verifies the parent can create its children.
func checkFileDescriptors(copies int) Check {
	var limit sys.Rlimit
	if err := sys.Getrlimit(sys.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	// Process creation briefly holds a descriptor per child; the rest is
	// logging, the launch log and the metrics listener.
	required := copies + 64
	actual := rlimitValue(limit.Cur)

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d copies)", actual, required, copies),
	}
}

// checkProcessLimit verifies sufficient process slots are available.
func checkProcessLimit(copies int) Check {
	var limit sys.Rlimit
	if err := sys.Getrlimit(sys.RLIMIT_NPROC, &limit); err != nil {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	required := copies + 50
	actual := rlimitValue(limit.Cur)

	return Check{
		Name:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, required),
	}
}

// checkShell verifies the shell exists and is executable.
func checkShell(path string) Check {
	info, err := os.Stat(path)
	if err != nil {
		return Check{
			Name:    "shell",
			Passed:  false,
			Message: fmt.Sprintf("not found at %s: %v", path, err),
		}
	}
	if info.IsDir() {
		return Check{
			Name:    "shell",
			Passed:  false,
			Message: fmt.Sprintf("%s is a directory", path),
		}
	}
	if err := sys.Access(path, sys.X_OK); err != nil {
		return Check{
			Name:    "shell",
			Passed:  false,
			Message: fmt.Sprintf("%s is not executable: %v", path, err),
		}
	}

	return Check{
		Name:    "shell",
		Passed:  true,
		Message: fmt.Sprintf("found at %s", path),
	}
}

// checkHelper verifies the running executable can be started again as the
// child trampoline.
func checkHelper() Check {
	exe, err := os.Executable()
	if err != nil {
		return Check{
			Name:    "child_helper",
			Passed:  false,
			Message: fmt.Sprintf("cannot locate own executable: %v", err),
		}
	}
	if err := sys.Access(exe, sys.X_OK); err != nil {
		return Check{
			Name:    "child_helper",
			Passed:  false,
			Message: fmt.Sprintf("%s is not executable: %v", exe, err),
		}
	}
	return Check{
		Name:    "child_helper",
		Passed:  true,
		Message: exe,
	}
}

// checkDirectory verifies a working directory exists. A missing directory
// would make every child exit 1.
func checkDirectory(dir string) Check {
	info, err := os.Stat(dir)
	if err != nil {
		return Check{
			Name:    "working_directory",
			Passed:  false,
			Message: fmt.Sprintf("%s: %v", dir, err),
		}
	}
	if !info.IsDir() {
		return Check{
			Name:    "working_directory",
			Passed:  false,
			Message: fmt.Sprintf("%s is not a directory", dir),
		}
	}
	return Check{
		Name:    "working_directory",
		Passed:  true,
		Message: dir,
	}
}

// PrintResults prints the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "shell":
		return "pass an absolute path to an executable shell with -shell"
	case "child_helper":
		return "run specinvoke from a path it can re-execute (not a deleted or noexec file)"
	case "working_directory":
		return "create the directory or fix -dir"
	default:
		return "see documentation"
	}
}
