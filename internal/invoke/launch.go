package invoke

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/randomizedcoder/go-specinvoke/internal/subst"
	"github.com/randomizedcoder/go-specinvoke/internal/timer"
)

// childEnvKey carries the serialized childPlan to the trampoline.
const childEnvKey = "SPECINVOKE_CHILD_PLAN"

// childArgv0 is what the trampoline shows in ps until it execs the shell.
const childArgv0 = "specinvoke-child"

// childPlan is everything the trampoline needs to become the benchmark child.
type childPlan struct {
	Argv     []string    `json:"argv"`
	Dir      string      `json:"dir,omitempty"`
	CopyNum  uint        `json:"copy_num"`
	Redirect bool        `json:"redirect"`
	Stdin    StdinPolicy `json:"stdin"`
	Input    string      `json:"input,omitempty"`
	Output   string      `json:"output,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// Invoke starts one copy of ci and returns its pid.
//
// The start time is captured before the child is created. On success the
// parent writes one launch-log line to st.Out. A failure to create the child
// at all is fatal to the caller: it goes through st.Exit(ExitForkFailure).
// In dry-run mode no process is created and the returned pid is 0.
func Invoke(cp *CopyInfo, ci *CommandInfo, env []string, st *RuntimeState) (int, error) {
	cp.Phase = PhasePreparing

	dir := cp.Dir
	if dir == "" {
		dir = ci.Dir
	}

	cp.Command = subst.Expand(ci.Template, st.params(cp))

	if st.DryRun {
		return st.dryInvoke(cp, dir)
	}

	plan := childPlan{
		Argv:     st.Argv(cp.Command),
		Dir:      dir,
		CopyNum:  cp.Num,
		Redirect: st.Redirect,
		Stdin:    st.Stdin,
		Input:    ci.Input,
		Output:   ci.Output,
		Error:    ci.Error,
	}
	childEnv, err := plan.environ(env)
	if err != nil {
		return 0, fmt.Errorf("invoke: encode child plan: %w", err)
	}

	attr := &os.ProcAttr{
		Env:   childEnv,
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr},
	}

	cp.Start = timer.Now()
	proc, err := os.StartProcess(st.Helper, []string{childArgv0}, attr)
	if err != nil {
		fmt.Fprintf(st.Stderr, "Can't fork: %s\n", describe(err))
		st.Exit(ExitForkFailure)
		return 0, fmt.Errorf("invoke: start copy %d: %w", cp.Num, err)
	}

	cp.Pid = proc.Pid
	// The pid is reaped with wait4(-1); drop the os.Process handle.
	_ = proc.Release()
	cp.Phase = PhaseParentTracking

	fmt.Fprintf(st.Out, "child started: %d, %d, %d, pid=%d, '%s'\n",
		cp.Num, cp.Start.Sec, cp.Start.Nsec, cp.Pid, cp.Command)

	st.logger.Debug("child_launched",
		"copy", cp.Num,
		"pid", cp.Pid,
		"dir", dir,
		"start", cp.Start.String(),
	)

	if st.observer != nil {
		st.observer.ChildStarted(cp)
	}

	return cp.Pid, nil
}

// dryInvoke reports what would run without creating a process.
func (st *RuntimeState) dryInvoke(cp *CopyInfo, dir string) (int, error) {
	cp.Start = timer.Now()
	cp.Pid = 0

	fmt.Fprintf(st.Out, "dry run: %d, '%s -c %s'\n", cp.Num, st.Shell, cp.Command)

	st.logger.Debug("dry_run",
		"copy", cp.Num,
		"dir", dir,
		"command", cp.Command,
	)
	return 0, nil
}

// environ returns env (or the current environment when env is nil) with the
// plan appended.
func (p childPlan) environ(env []string) ([]string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	if env == nil {
		env = os.Environ()
	}
	out := withoutPlan(env)
	return append(out, childEnvKey+"="+string(data)), nil
}

// withoutPlan copies env, dropping any child plan entry.
func withoutPlan(env []string) []string {
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if strings.HasPrefix(kv, childEnvKey+"=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}
