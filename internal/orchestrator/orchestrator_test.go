package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-specinvoke/internal/config"
	"github.com/randomizedcoder/go-specinvoke/internal/invoke"
	"github.com/randomizedcoder/go-specinvoke/internal/logging"
	"github.com/randomizedcoder/go-specinvoke/internal/metrics"
	"github.com/randomizedcoder/go-specinvoke/internal/tui"
)

func TestMain(m *testing.M) {
	invoke.MaybeRunChild()
	os.Exit(m.Run())
}

// =============================================================================
// Helpers
// =============================================================================

var (
	startedLine  = regexp.MustCompile(`^child started: (\d+), \d+, \d+, pid=(\d+), '(.*)'$`)
	finishedLine = regexp.MustCompile(`^child finished: (\d+), \d+, \d+, sec=\d+, nsec=\d+, pid=(\d+), rc=(-?\d+)$`)
)

type recorder struct {
	msgs []tea.Msg
}

func (r *recorder) Send(msg tea.Msg) { r.msgs = append(r.msgs, msg) }

func (r *recorder) count(match func(tea.Msg) bool) int {
	n := 0
	for _, m := range r.msgs {
		if match(m) {
			n++
		}
	}
	return n
}

type harness struct {
	cfg       *config.Config
	out       bytes.Buffer
	stderr    bytes.Buffer
	collector *metrics.Collector
	ui        *recorder
}

func newHarness(t *testing.T, commands ...string) *harness {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Commands = commands
	cfg.Dir = dir
	cfg.Error = filepath.Join(dir, "err.log")
	cfg.PollInterval = time.Millisecond
	cfg.StopTimeout = 2 * time.Second
	cfg.Calibrate = false
	cfg.SkipPreflight = true

	return &harness{
		cfg: cfg,
		collector: metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
			Shell:        cfg.Shell,
			TargetCopies: cfg.TotalCopies(),
		}, prometheus.NewRegistry()),
		ui: &recorder{},
	}
}

func (h *harness) run(t *testing.T, ctx context.Context) (*Result, error) {
	t.Helper()

	o := New(Options{
		Config:  h.cfg,
		Logger:  logging.Discard(),
		Metrics: h.collector,
		Out:     &h.out,
		Stderr:  &h.stderr,
		UI:      h.ui,
		ExitFunc: func(code int) {
			t.Errorf("unexpected exit(%d)", code)
		},
	})
	res, err := o.Run(ctx)
	if o.Outstanding() != 0 {
		t.Errorf("Outstanding after Run = %d, want 0", o.Outstanding())
	}
	return res, err
}

func (h *harness) lines() []string {
	return strings.Split(strings.TrimRight(h.out.String(), "\n"), "\n")
}

func (h *harness) errLog(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(h.cfg.Error)
	if err != nil {
		t.Fatalf("read error log: %v", err)
	}
	return string(data)
}

// =============================================================================
// Tests: Run
// =============================================================================

func TestRun_LaunchesAndReapsEveryCopy(t *testing.T) {
	h := newHarness(t, "echo first copy=$SPECCOPYNUM bind=$BIND", "echo second copy=$SPECCOPYNUM")
	h.cfg.Copies = 3
	h.cfg.Binds = []string{"a", "b"}

	res, err := h.run(t, context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Launched != 6 || res.Reaped != 6 || res.Failed != 0 || res.Interrupted {
		t.Errorf("result = %+v", res)
	}
	if len(res.Copies) != 6 {
		t.Fatalf("copies = %d, want 6", len(res.Copies))
	}
	for _, cp := range res.Copies {
		if cp.Phase != invoke.PhaseReaped {
			t.Errorf("copy %d phase = %s, want reaped", cp.Num, cp.Phase)
		}
		if cp.End.Before(cp.Start) {
			t.Errorf("copy %d ended before it started", cp.Num)
		}
	}

	started, finished := 0, 0
	for _, line := range h.lines() {
		switch {
		case startedLine.MatchString(line):
			started++
		case finishedLine.MatchString(line):
			finished++
			if m := finishedLine.FindStringSubmatch(line); m[3] != "0" {
				t.Errorf("non-zero rc in %q", line)
			}
		default:
			t.Errorf("unexpected launch log line %q", line)
		}
	}
	if started != 6 || finished != 6 {
		t.Errorf("started = %d, finished = %d, want 6/6", started, finished)
	}

	log := h.errLog(t)
	for _, want := range []string{
		"first copy=0 bind=a",
		"first copy=1 bind=b",
		"first copy=2 bind=a",
		"second copy=2",
	} {
		if !strings.Contains(log, want) {
			t.Errorf("error log missing %q:\n%s", want, log)
		}
	}

	s := h.collector.GenerateSummary()
	if s.TotalStarts != 6 || s.ExitCodes[0] != 6 || s.Outstanding != 0 {
		t.Errorf("summary = %+v", s)
	}
}

func TestRun_PerCopyOutputFiles(t *testing.T) {
	h := newHarness(t, "echo copy $SPECCOPYNUM")
	h.cfg.Copies = 2
	h.cfg.Output = "out.$SPECCOPYNUM"
	h.cfg.Error = "err.$SPECCOPYNUM"

	res, err := h.run(t, context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reaped != 2 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}

	for _, tc := range []struct {
		name string
		want string
	}{
		{"out.0", "copy 0\n"},
		{"out.1", "copy 1\n"},
		{"err.0", ""},
		{"err.1", ""},
	} {
		data, err := os.ReadFile(filepath.Join(h.cfg.Dir, tc.name))
		if err != nil {
			t.Errorf("read %s: %v", tc.name, err)
			continue
		}
		if string(data) != tc.want {
			t.Errorf("%s = %q, want %q", tc.name, data, tc.want)
		}
	}

	if _, err := os.Stat(filepath.Join(h.cfg.Dir, "out.$SPECCOPYNUM")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("literal template file exists (err = %v)", err)
	}
}

func TestRun_FailuresAreCounted(t *testing.T) {
	h := newHarness(t, "exit $SPECCOPYNUM")
	h.cfg.Copies = 3

	res, err := h.run(t, context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reaped != 3 || res.Failed != 2 {
		t.Errorf("Reaped = %d, Failed = %d, want 3/2", res.Reaped, res.Failed)
	}

	s := h.collector.GenerateSummary()
	for code := 0; code < 3; code++ {
		if s.ExitCodes[code] != 1 {
			t.Errorf("ExitCodes[%d] = %d, want 1", code, s.ExitCodes[code])
		}
	}
}

func TestRun_DryRun(t *testing.T) {
	h := newHarness(t, "./bench $SPECCOPYNUM")
	h.cfg.Copies = 2
	h.cfg.DryRun = true

	res, err := h.run(t, context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Launched != 2 || res.Reaped != 0 {
		t.Errorf("Launched = %d, Reaped = %d, want 2/0", res.Launched, res.Reaped)
	}

	want := []string{
		"dry run: 0, '/bin/sh -c ./bench 0'",
		"dry run: 1, '/bin/sh -c ./bench 1'",
	}
	got := h.lines()
	if len(got) != len(want) {
		t.Fatalf("lines = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRun_CancelStopsChildren(t *testing.T) {
	h := newHarness(t, "exec sleep 30")
	h.cfg.Copies = 2

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	res, err := h.run(t, ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Run took %v after cancel", elapsed)
	}
	if !res.Interrupted {
		t.Error("Interrupted should be set")
	}
	if res.Reaped != 2 || res.Failed != 2 {
		t.Errorf("Reaped = %d, Failed = %d, want 2/2", res.Reaped, res.Failed)
	}
	for _, cp := range res.Copies {
		if rc := invoke.ExitCode(cp.Status); rc != 143 {
			t.Errorf("copy %d rc = %d, want 143 (SIGTERM)", cp.Num, rc)
		}
	}
}

func TestRun_CancelledBeforeLaunch(t *testing.T) {
	h := newHarness(t, "true")
	h.cfg.Copies = 4

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.run(t, ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Launched != 0 || !res.Interrupted {
		t.Errorf("result = %+v", res)
	}
}

func TestRun_PreflightFailure(t *testing.T) {
	h := newHarness(t, "true")
	h.cfg.SkipPreflight = false
	h.cfg.Dir = filepath.Join(h.cfg.Dir, "missing")

	res, err := h.run(t, context.Background())
	if !errors.Is(err, ErrPreflight) {
		t.Fatalf("err = %v, want ErrPreflight", err)
	}
	if res.Launched != 0 {
		t.Errorf("Launched = %d, want 0", res.Launched)
	}
	if !strings.Contains(h.stderr.String(), "Preflight checks:") {
		t.Errorf("stderr = %q", h.stderr.String())
	}
}

func TestRun_ForkFailureRunsCleanup(t *testing.T) {
	h := newHarness(t, "true")
	h.cfg.Copies = 2

	var order []string
	o := New(Options{
		Config:  h.cfg,
		Logger:  logging.Discard(),
		Metrics: h.collector,
		Out:     &h.out,
		Stderr:  &h.stderr,
		Helper:  "/nonexistent/helper",
		Cleanup: func() { order = append(order, "cleanup") },
		ExitFunc: func(code int) {
			order = append(order, fmt.Sprintf("exit %d", code))
		},
	})

	res, err := o.Run(context.Background())
	if err == nil {
		t.Fatal("Run should fail when no child can be created")
	}
	if res.Launched != 0 {
		t.Errorf("Launched = %d, want 0", res.Launched)
	}
	if strings.Join(order, ",") != "cleanup,exit 2" {
		t.Errorf("order = %v, want cleanup before exit 2", order)
	}
	if !strings.HasPrefix(h.stderr.String(), "Can't fork: ") {
		t.Errorf("stderr = %q", h.stderr.String())
	}
}

func TestCopyDirs(t *testing.T) {
	tests := []struct {
		name  string
		dir   string
		binds []string
		want  []string
	}{
		{"unset", "", nil, nil},
		{"shared", "/work", nil, []string{"/work"}},
		{"per copy", "/work/$SPECCOPYNUM", nil, []string{"/work/0", "/work/1", "/work/2"}},
		{"per bind", "/work/$BIND", []string{"a", "b"}, []string{"/work/a", "/work/b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Commands = []string{"true"}
			cfg.Copies = 3
			cfg.Dir = tt.dir
			cfg.Binds = tt.binds

			got := New(Options{Config: cfg}).copyDirs()
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("copyDirs = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRun_CalibrationAndDashboard(t *testing.T) {
	h := newHarness(t, "true")
	h.cfg.Copies = 2
	h.cfg.Calibrate = true
	h.cfg.CalibrationTrials = 10

	res, err := h.run(t, context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Calibration == nil || res.Calibration.MeanResolution <= 0 {
		t.Fatalf("Calibration = %+v", res.Calibration)
	}

	counts := map[string]int{
		"calibration": h.ui.count(func(m tea.Msg) bool { _, ok := m.(tui.CalibrationMsg); return ok }),
		"launched":    h.ui.count(func(m tea.Msg) bool { _, ok := m.(tui.LaunchedMsg); return ok }),
		"reaped":      h.ui.count(func(m tea.Msg) bool { _, ok := m.(tui.ReapedMsg); return ok }),
		"done":        h.ui.count(func(m tea.Msg) bool { _, ok := m.(tui.DoneMsg); return ok }),
	}
	want := map[string]int{"calibration": 1, "launched": 2, "reaped": 2, "done": 1}
	for k, v := range want {
		if counts[k] != v {
			t.Errorf("%s messages = %d, want %d", k, counts[k], v)
		}
	}

	if _, ok := h.ui.msgs[len(h.ui.msgs)-1].(tui.DoneMsg); !ok {
		t.Errorf("last message = %T, want DoneMsg", h.ui.msgs[len(h.ui.msgs)-1])
	}
}

// =============================================================================
// Tests: Exit Summary
// =============================================================================

func TestPrintExitSummary(t *testing.T) {
	var buf bytes.Buffer
	PrintExitSummary(&buf, &metrics.Summary{
		Duration:       65 * time.Second,
		TotalStarts:    4,
		PeakRunning:    3,
		ExitCodes:      map[int]int64{143: 1, 0: 3},
		RuntimeSamples: 4,
		RuntimeP50:     1500 * time.Millisecond,
	}, "0.0.0.0:9100")

	out := buf.String()
	for _, want := range []string{
		"specinvoke Exit Summary",
		"Run Duration:           00:01:05",
		"Total Starts:           4",
		"Peak Outstanding:       3",
		"P50 (median):         1.5s",
		"http://0.0.0.0:9100/metrics",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	clean := strings.Index(out, "(clean)")
	term := strings.Index(out, "(SIGTERM)")
	if clean < 0 || term < 0 || clean > term {
		t.Errorf("exit codes should be listed in ascending order:\n%s", out)
	}
}

func TestPrintExitSummary_NoMetricsAddr(t *testing.T) {
	var buf bytes.Buffer
	PrintExitSummary(&buf, &metrics.Summary{}, "")
	if strings.Contains(buf.String(), "Metrics endpoint") {
		t.Error("metrics endpoint line should be omitted")
	}
	if strings.Contains(buf.String(), "Runtime Distribution") {
		t.Error("runtime distribution should be omitted without samples")
	}
}

func TestExitCodeLabel(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{0, "(clean)"},
		{1, "(error)"},
		{127, "(exec failed)"},
		{137, "(SIGKILL)"},
		{143, "(SIGTERM)"},
		{42, ""},
	}
	for _, tt := range tests {
		if got := exitCodeLabel(tt.code); got != tt.want {
			t.Errorf("exitCodeLabel(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
