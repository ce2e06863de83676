// Package invoke launches benchmark copies as shell children and reaps them.
//
// A RuntimeState is built once at startup and passed to every Invoke call.
// Children are started through a re-exec trampoline: a helper executable
// (the standalone specinvoke-child, or else the current executable) is
// started with a child plan in its environment, performs chdir and descriptor
// redirection, then replaces itself with the shell. Programs that use this
// package must call MaybeRunChild at the top of main (and TestMain).
package invoke

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/randomizedcoder/go-specinvoke/internal/subst"
)

// Exit codes used by the launcher.
const (
	// ExitChildFatal is used by a child that could not chdir or open a descriptor.
	ExitChildFatal = 1

	// ExitForkFailure is used by the parent when it cannot create a child.
	ExitForkFailure = 2

	// ExitExecFailure is used by a child whose shell could not be executed.
	ExitExecFailure = 127
)

// DefaultShell runs every command template.
const DefaultShell = "/bin/sh"

// Observer is notified after each successful launch.
type Observer interface {
	ChildStarted(cp *CopyInfo)
}

// Options configures NewRuntimeState. Zero values select defaults.
type Options struct {
	Shell    string
	Out      io.Writer // launch-log lines; default os.Stdout
	Stderr   io.Writer // fatal diagnostics; default os.Stderr
	DryRun   bool
	Redirect bool
	Stdin    StdinPolicy

	CopyToken string
	BindToken string

	// Helper is the executable used as the child trampoline; default os.Executable().
	Helper string

	Logger   *slog.Logger
	Observer Observer

	// ExitFunc terminates the process; default os.Exit.
	ExitFunc func(code int)
	// Cleanup runs before ExitFunc.
	Cleanup func()
}

// RuntimeState is the per-process launcher state.
type RuntimeState struct {
	Shell    string
	Out      io.Writer
	Stderr   io.Writer
	DryRun   bool
	Redirect bool
	Stdin    StdinPolicy

	CopyToken string
	BindToken string
	Helper    string

	logger   *slog.Logger
	observer Observer
	exitFunc func(code int)
	cleanup  func()
}

// NewRuntimeState validates opts and fills in defaults.
func NewRuntimeState(opts Options) (*RuntimeState, error) {
	st := &RuntimeState{
		Shell:     opts.Shell,
		Out:       opts.Out,
		Stderr:    opts.Stderr,
		DryRun:    opts.DryRun,
		Redirect:  opts.Redirect,
		Stdin:     opts.Stdin,
		CopyToken: opts.CopyToken,
		BindToken: opts.BindToken,
		Helper:    opts.Helper,
		logger:    opts.Logger,
		observer:  opts.Observer,
		exitFunc:  opts.ExitFunc,
		cleanup:   opts.Cleanup,
	}

	if st.Shell == "" {
		st.Shell = DefaultShell
	}
	if st.Out == nil {
		st.Out = os.Stdout
	}
	if st.Stderr == nil {
		st.Stderr = os.Stderr
	}
	if st.CopyToken == "" {
		st.CopyToken = subst.DefaultCopyToken
	}
	if st.BindToken == "" {
		st.BindToken = subst.DefaultBindToken
	}
	if st.logger == nil {
		st.logger = slog.Default()
	}
	if st.exitFunc == nil {
		st.exitFunc = os.Exit
	}
	if st.Helper == "" && !st.DryRun {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("invoke: locate helper executable: %w", err)
		}
		st.Helper = exe
	}

	switch st.Stdin {
	case StdinNull, StdinZeroFile, StdinErrorStream:
	default:
		return nil, errors.New("invoke: invalid stdin policy")
	}

	return st, nil
}

// Argv builds a fresh shell argument vector for one command.
func (st *RuntimeState) Argv(command string) []string {
	return []string{st.Shell, "-c", command}
}

// Exit is the single exit path for unrecoverable conditions.
// With a test ExitFunc it can return; callers must stop after it.
func (st *RuntimeState) Exit(code int) {
	st.logger.Debug("specinvoke_exit", "code", code)
	if st.cleanup != nil {
		st.cleanup()
	}
	st.exitFunc(code)
}

func (st *RuntimeState) params(cp *CopyInfo) subst.Params {
	return subst.Params{
		CopyToken: st.CopyToken,
		CopyNum:   cp.Num,
		BindToken: st.BindToken,
		Bind:      cp.Bind,
		HasBind:   cp.Bind != "",
	}
}

// ForCopy returns a copy of ci with the copy number and bind target
// substituted into Dir and the redirection paths. The template is left for
// Invoke; ci itself is not modified.
func (st *RuntimeState) ForCopy(ci *CommandInfo, cp *CopyInfo) *CommandInfo {
	p := st.params(cp)
	return &CommandInfo{
		Template: ci.Template,
		Dir:      subst.Expand(ci.Dir, p),
		Input:    subst.Expand(ci.Input, p),
		Output:   subst.Expand(ci.Output, p),
		Error:    subst.Expand(ci.Error, p),
	}
}

// HelperName is the standalone trampoline binary built from cmd/specinvoke-child.
const HelperName = "specinvoke-child"

// FindHelper returns the standalone trampoline installed in the same
// directory as exe, or "" when there is none and exe has to re-execute
// itself. The standalone binary links only this package, so each copy
// reaches its shell sooner.
func FindHelper(exe string) string {
	path := filepath.Join(filepath.Dir(exe), HelperName)
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() || fi.Mode().Perm()&0o111 == 0 {
		return ""
	}
	return path
}
