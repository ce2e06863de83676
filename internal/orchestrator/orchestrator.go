// Package orchestrator drives a specinvoke run: launch every copy, then
// reap every copy.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	sys "golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-specinvoke/internal/config"
	"github.com/randomizedcoder/go-specinvoke/internal/invoke"
	"github.com/randomizedcoder/go-specinvoke/internal/metrics"
	"github.com/randomizedcoder/go-specinvoke/internal/preflight"
	"github.com/randomizedcoder/go-specinvoke/internal/subst"
	"github.com/randomizedcoder/go-specinvoke/internal/timer"
	"github.com/randomizedcoder/go-specinvoke/internal/tui"
)

// ErrPreflight is returned when a startup check fails.
var ErrPreflight = errors.New("preflight checks failed (use -skip-preflight to override)")

// Options wires an Orchestrator. Config and Metrics are required.
type Options struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Collector

	Out    io.Writer // launch log; default os.Stdout
	Stderr io.Writer // preflight report and fatal diagnostics; default os.Stderr

	// UI receives dashboard messages when the TUI is running.
	UI tui.Sender

	// Env is passed to every child; nil means the current environment.
	Env []string

	// Helper and ExitFunc are passed through to invoke.Options.
	Helper   string
	ExitFunc func(code int)

	// Cleanup runs on a fatal exit after outstanding children are killed and
	// before ExitFunc. The caller releases what it owns here (terminal,
	// servers, files) since ExitFunc may not return.
	Cleanup func()
}

// Result describes a finished run.
type Result struct {
	Launched    int
	Reaped      int
	Failed      int
	Interrupted bool
	Calibration *timer.Calibration
	Copies      []*invoke.CopyInfo
}

// Orchestrator coordinates the launcher core with metrics, logging and the TUI.
type Orchestrator struct {
	config  *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
	out     io.Writer
	stderr  io.Writer
	ui      tui.Sender
	env     []string

	helper   string
	exitFunc func(code int)
	cleanup  func()

	outstanding map[int]*invoke.CopyInfo
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		config:      opts.Config,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		out:         opts.Out,
		stderr:      opts.Stderr,
		ui:          opts.UI,
		env:         opts.Env,
		helper:      opts.Helper,
		exitFunc:    opts.ExitFunc,
		cleanup:     opts.Cleanup,
		outstanding: make(map[int]*invoke.CopyInfo),
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.out == nil {
		o.out = os.Stdout
	}
	if o.stderr == nil {
		o.stderr = os.Stderr
	}
	return o
}

// Run launches Copies copies of every command and reaps them all. When ctx
// is cancelled, launching stops and outstanding children are terminated.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	cfg := o.config
	res := &Result{}

	if !cfg.SkipPreflight {
		pf := preflight.RunAll(preflight.Params{
			Copies: cfg.TotalCopies(),
			Shell:  cfg.Shell,
			Dirs:   o.copyDirs(),
			DryRun: cfg.DryRun,
		})
		if !pf.Passed {
			preflight.PrintResults(o.stderr, pf)
			return res, ErrPreflight
		}
		if cfg.Verbose {
			preflight.PrintResults(o.stderr, pf)
		}
	}

	if cfg.Calibrate {
		cal := o.calibrate()
		res.Calibration = &cal
	}

	st, err := invoke.NewRuntimeState(invoke.Options{
		Shell:     cfg.Shell,
		Out:       o.out,
		Stderr:    o.stderr,
		DryRun:    cfg.DryRun,
		Redirect:  cfg.Redirect,
		Stdin:     cfg.StdinPolicy(),
		CopyToken: cfg.CopyToken,
		BindToken: cfg.BindToken,
		Helper:    o.helper,
		Logger:    o.logger,
		Observer:  o,
		ExitFunc:  o.exitFunc,
		Cleanup:   o.terminateAll,
	})
	if err != nil {
		return res, fmt.Errorf("runtime state: %w", err)
	}

	o.logger.Info("launch_starting",
		"commands", len(cfg.Commands),
		"copies", cfg.Copies,
		"total", cfg.TotalCopies(),
		"shell", st.Shell,
		"dry_run", st.DryRun,
	)

	if err := o.launchAll(ctx, st, res); err != nil {
		o.reapAll(ctx, res)
		return res, err
	}

	if !cfg.DryRun {
		o.reapAll(ctx, res)
	}

	o.send(tui.DoneMsg{})
	o.logger.Info("run_complete",
		"launched", res.Launched,
		"reaped", res.Reaped,
		"failed", res.Failed,
		"interrupted", res.Interrupted,
	)
	return res, nil
}

// copyDirs lists the distinct working directories the copies will run in.
func (o *Orchestrator) copyDirs() []string {
	cfg := o.config
	if cfg.Dir == "" {
		return nil
	}

	seen := make(map[string]bool)
	var dirs []string
	for n := 0; n < cfg.Copies; n++ {
		bind := cfg.Bind(n)
		dir := subst.Expand(cfg.Dir, subst.Params{
			CopyToken: cfg.CopyToken,
			CopyNum:   uint(n),
			BindToken: cfg.BindToken,
			Bind:      bind,
			HasBind:   bind != "",
		})
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// calibrate measures the microsecond clock and publishes the result.
func (o *Orchestrator) calibrate() timer.Calibration {
	cal := timer.Calibrate(timer.MicroNow, o.config.CalibrationTrials)

	o.logger.Info("timer_calibrated",
		"trials", cal.Trials,
		"mean_resolution", cal.MeanResolution.String(),
		"mean_iterations", cal.MeanIterations,
		"p99_resolution", cal.P99Resolution.String(),
	)
	o.metrics.RecordCalibration(cal)
	o.send(tui.CalibrationMsg{Calibration: cal})
	return cal
}

// launchAll starts every copy of every command in order.
func (o *Orchestrator) launchAll(ctx context.Context, st *invoke.RuntimeState, res *Result) error {
	cfg := o.config

	for _, template := range cfg.Commands {
		ci := &invoke.CommandInfo{
			Template: template,
			Dir:      cfg.Dir,
			Input:    cfg.Input,
			Output:   cfg.Output,
			Error:    cfg.Error,
		}

		for n := 0; n < cfg.Copies; n++ {
			if ctx.Err() != nil {
				o.logger.Info("launch_cancelled", "launched", res.Launched, "target", cfg.TotalCopies())
				res.Interrupted = true
				return nil
			}

			cp := &invoke.CopyInfo{Num: uint(n), Bind: cfg.Bind(n)}
			pid, err := invoke.Invoke(cp, st.ForCopy(ci, cp), o.env, st)
			if err != nil {
				return err
			}

			res.Copies = append(res.Copies, cp)
			res.Launched++
			if pid != 0 {
				o.outstanding[pid] = cp
			}
		}
	}
	return nil
}

// reapAll collects outstanding children until none are left.
func (o *Orchestrator) reapAll(ctx context.Context, res *Result) {
	for len(o.outstanding) > 0 {
		done, err := invoke.WaitContext(ctx, o.config.PollInterval)
		switch {
		case err == nil:
			o.finish(done, res)
		case errors.Is(err, invoke.ErrNoChildren):
			o.logger.Warn("children_vanished", "outstanding", len(o.outstanding))
			return
		case ctx.Err() != nil:
			res.Interrupted = true
			o.stop(res)
			return
		default:
			o.logger.Error("reap_failed", "error", err)
			o.stop(res)
			return
		}
	}
}

// stop sends SIGTERM to every outstanding child, waits up to StopTimeout,
// then sends SIGKILL to whatever is left and reaps it.
func (o *Orchestrator) stop(res *Result) {
	o.logger.Info("stopping_children", "outstanding", len(o.outstanding))
	o.signalAll(sys.SIGTERM)

	ctx, cancel := context.WithTimeout(context.Background(), o.config.StopTimeout)
	defer cancel()
	o.drain(ctx, res)

	if len(o.outstanding) == 0 {
		return
	}

	o.logger.Warn("stop_timeout", "outstanding", len(o.outstanding), "timeout", o.config.StopTimeout.String())
	o.signalAll(sys.SIGKILL)
	o.drain(context.Background(), res)
}

// drain reaps until nothing is outstanding or ctx is done.
func (o *Orchestrator) drain(ctx context.Context, res *Result) {
	for len(o.outstanding) > 0 {
		done, err := invoke.WaitContext(ctx, o.config.PollInterval)
		if err != nil {
			return
		}
		o.finish(done, res)
	}
}

func (o *Orchestrator) signalAll(sig sys.Signal) {
	for pid := range o.outstanding {
		if err := sys.Kill(pid, sig); err != nil && err != sys.ESRCH {
			o.logger.Warn("signal_failed", "pid", pid, "signal", sig.String(), "error", err)
		}
	}
}

// terminateAll is the exit-routine cleanup: kill every child still tracked,
// then hand over to the caller's cleanup.
func (o *Orchestrator) terminateAll() {
	o.signalAll(sys.SIGKILL)
	if o.cleanup != nil {
		o.cleanup()
	}
}

// finish records one completion against its copy.
func (o *Orchestrator) finish(done invoke.Completion, res *Result) {
	cp, ok := o.outstanding[done.Pid]
	if !ok {
		o.logger.Warn("unknown_child_reaped", "pid", done.Pid, "rc", done.ExitCode())
		return
	}
	delete(o.outstanding, done.Pid)

	cp.Finish(done)
	rc := done.ExitCode()
	elapsed := cp.Elapsed()

	fmt.Fprintf(o.out, "child finished: %d, %d, %d, sec=%d, nsec=%d, pid=%d, rc=%d\n",
		cp.Num, cp.End.Sec, cp.End.Nsec, elapsed.Sec, elapsed.Nsec, cp.Pid, rc)

	res.Reaped++
	if rc != 0 {
		res.Failed++
	}

	o.metrics.ChildReaped(cp)
	o.send(tui.ReapedMsg{
		Num:      cp.Num,
		Pid:      cp.Pid,
		ExitCode: rc,
		Elapsed:  cp.End.Sub(cp.Start),
	})

	o.logger.Debug("child_reaped",
		"copy", cp.Num,
		"pid", cp.Pid,
		"rc", rc,
		"elapsed", elapsed.String(),
	)
}

// ChildStarted fans a launch out to metrics and the dashboard.
func (o *Orchestrator) ChildStarted(cp *invoke.CopyInfo) {
	o.metrics.ChildStarted(cp)
	o.send(tui.LaunchedMsg{
		Num:     cp.Num,
		Pid:     cp.Pid,
		Command: cp.Command,
		Start:   cp.Start.Time(),
	})
}

func (o *Orchestrator) send(msg any) {
	if o.ui != nil {
		o.ui.Send(msg)
	}
}

// Outstanding returns the number of children launched but not yet reaped.
func (o *Orchestrator) Outstanding() int {
	return len(o.outstanding)
}

// =============================================================================
// Exit Summary
// =============================================================================

// PrintExitSummary writes a human-readable summary of the run to w.
func PrintExitSummary(w io.Writer, s *metrics.Summary, metricsAddr string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintln(w, "                       specinvoke Exit Summary")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "Run Duration:           %s\n", formatDuration(s.Duration))
	fmt.Fprintf(w, "Total Starts:           %d\n", s.TotalStarts)
	fmt.Fprintf(w, "Peak Outstanding:       %d\n", s.PeakRunning)
	fmt.Fprintf(w, "Still Outstanding:      %d\n", s.Outstanding)
	fmt.Fprintln(w)

	if s.RuntimeSamples > 0 {
		fmt.Fprintln(w, "Runtime Distribution:")
		fmt.Fprintf(w, "  P50 (median):         %s\n", s.RuntimeP50.Round(time.Millisecond))
		fmt.Fprintf(w, "  P95:                  %s\n", s.RuntimeP95.Round(time.Millisecond))
		fmt.Fprintf(w, "  P99:                  %s\n", s.RuntimeP99.Round(time.Millisecond))
		fmt.Fprintln(w)
	}

	if len(s.ExitCodes) > 0 {
		fmt.Fprintln(w, "Exit Codes:")
		for _, code := range sortedCodes(s.ExitCodes) {
			fmt.Fprintf(w, "  %3d %-16s %d\n", code, exitCodeLabel(code), s.ExitCodes[code])
		}
		fmt.Fprintln(w)
	}

	if metricsAddr != "" {
		fmt.Fprintf(w, "Metrics endpoint was: http://%s/metrics\n", metricsAddr)
	}
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
}

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case invoke.ExitChildFatal:
		return "(error)"
	case invoke.ExitExecFailure:
		return "(exec failed)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}

func sortedCodes(codes map[int]int64) []int {
	out := make([]int, 0, len(codes))
	for code := range codes {
		out = append(out, code)
	}
	sort.Ints(out)
	return out
}
