//go:build linux

package invoke

import (
	"encoding/json"
	"fmt"
	"os"

	sys "golang.org/x/sys/unix"
)

// MaybeRunChild turns the current process into a benchmark child when it
// was started by Invoke, and never returns in that case. Otherwise it is a
// no-op. Call it before anything else in main.
func MaybeRunChild() {
	raw, ok := os.LookupEnv(childEnvKey)
	if !ok {
		return
	}
	os.Exit(runChild(raw))
}

// runChild returns only when the child cannot become the shell.
func runChild(raw string) int {
	var plan childPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		fmt.Fprintf(os.Stderr, "can't decode child plan: %v\n", err)
		return ExitChildFatal
	}
	if len(plan.Argv) == 0 {
		fmt.Fprintln(os.Stderr, "can't exec: empty argument vector")
		return ExitChildFatal
	}

	if plan.Dir != "" {
		if err := sys.Chdir(plan.Dir); err != nil {
			fmt.Fprintf(os.Stderr, "can't change directory to '%s': %s\n", plan.Dir, describe(err))
			return ExitChildFatal
		}
	}

	if plan.Redirect {
		if err := plan.redirect(); err != nil {
			// stderr may already point at the error file here
			fmt.Fprintln(os.Stderr, err)
			return ExitChildFatal
		}
	}

	err := sys.Exec(plan.Argv[0], plan.Argv, withoutPlan(os.Environ()))
	fmt.Fprintf(os.Stderr, "can't exec '%s': %s\n", plan.Argv[0], describe(err))
	return ExitExecFailure
}

// redirect attaches fds 2, 0 and 1, in that order.
func (p childPlan) redirect() error {
	if p.Error != "" {
		if err := attach(p.Error, sys.O_WRONLY|sys.O_CREAT|sys.O_APPEND, 0o644, 2); err != nil {
			return fmt.Errorf("can't open error file '%s': %s", p.Error, describe(err))
		}
	}

	switch {
	case p.Input != "":
		if err := attach(p.Input, sys.O_RDONLY, 0, 0); err != nil {
			return fmt.Errorf("can't open input file '%s': %s", p.Input, describe(err))
		}
	case p.Stdin == StdinNull:
		if err := attach("/dev/null", sys.O_RDONLY, 0, 0); err != nil {
			return fmt.Errorf("can't open /dev/null for stdin: %s", describe(err))
		}
	case p.Stdin == StdinZeroFile:
		name := zeroFileName(p.CopyNum, os.Getpid())
		if err := attach(name, sys.O_RDWR|sys.O_CREAT|sys.O_TRUNC, 0o666, 0); err != nil {
			return fmt.Errorf("can't create %s for stdin: %s", name, describe(err))
		}
		_ = sys.Unlink(name)
	default:
		if err := sys.Dup3(2, 0, 0); err != nil {
			return fmt.Errorf("can't duplicate stderr onto stdin: %s", describe(err))
		}
	}

	if p.Output != "" {
		if err := attach(p.Output, sys.O_WRONLY|sys.O_CREAT|sys.O_TRUNC, 0o644, 1); err != nil {
			return fmt.Errorf("can't open output file '%s': %s", p.Output, describe(err))
		}
	} else if err := sys.Dup3(2, 1, 0); err != nil {
		return fmt.Errorf("can't duplicate stderr onto stdout: %s", describe(err))
	}

	return nil
}

// attach opens path and installs it as descriptor target.
func attach(path string, flags int, mode uint32, target int) error {
	fd, err := sys.Open(path, flags|sys.O_CLOEXEC, mode)
	if err != nil {
		return err
	}
	if fd == target {
		_, err = sys.FcntlInt(uintptr(fd), sys.F_SETFD, 0)
		return err
	}
	defer sys.Close(fd)
	return sys.Dup3(fd, target, 0)
}

// zeroFileName names the empty stdin file for one copy.
func zeroFileName(copyNum uint, pid int) string {
	return fmt.Sprintf("spec_empty_file.%d.%d", copyNum, pid)
}
