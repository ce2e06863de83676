package invoke

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	sys "golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-specinvoke/internal/timer"
)

// =============================================================================
// Tests: RuntimeState
// =============================================================================

func TestNewRuntimeState_Defaults(t *testing.T) {
	st, err := NewRuntimeState(Options{})
	if err != nil {
		t.Fatalf("NewRuntimeState: %v", err)
	}

	if st.Shell != DefaultShell {
		t.Errorf("Shell = %q, want %q", st.Shell, DefaultShell)
	}
	if st.Out != os.Stdout || st.Stderr != os.Stderr {
		t.Error("Out and Stderr should default to the process streams")
	}
	if st.CopyToken != "$SPECCOPYNUM" || st.BindToken != "$BIND" {
		t.Errorf("tokens = %q/%q", st.CopyToken, st.BindToken)
	}
	if st.Helper == "" {
		t.Error("Helper should default to the running executable")
	}
	if st.Stdin != StdinNull {
		t.Errorf("Stdin = %v, want null", st.Stdin)
	}
}

func TestNewRuntimeState_DryRunNeedsNoHelper(t *testing.T) {
	st, err := NewRuntimeState(Options{DryRun: true})
	if err != nil {
		t.Fatalf("NewRuntimeState: %v", err)
	}
	if st.Helper != "" {
		t.Errorf("Helper = %q, want empty in dry run", st.Helper)
	}
}

func TestNewRuntimeState_InvalidStdin(t *testing.T) {
	if _, err := NewRuntimeState(Options{Stdin: StdinPolicy(42)}); err == nil {
		t.Error("expected error for unknown stdin policy")
	}
}

func TestRuntimeState_ArgvIsFresh(t *testing.T) {
	st, err := NewRuntimeState(Options{Shell: "/bin/bash", DryRun: true})
	if err != nil {
		t.Fatal(err)
	}

	a := st.Argv("echo a")
	b := st.Argv("echo b")
	a[2] = "clobbered"

	want := []string{"/bin/bash", "-c", "echo b"}
	for i := range want {
		if b[i] != want[i] {
			t.Errorf("b[%d] = %q, want %q", i, b[i], want[i])
		}
	}
}

func TestRuntimeState_ExitRunsCleanupFirst(t *testing.T) {
	var order []string
	st, err := NewRuntimeState(Options{
		DryRun:   true,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Cleanup:  func() { order = append(order, "cleanup") },
		ExitFunc: func(code int) { order = append(order, fmt.Sprintf("exit %d", code)) },
	})
	if err != nil {
		t.Fatal(err)
	}

	st.Exit(ExitForkFailure)

	if len(order) != 2 || order[0] != "cleanup" || order[1] != "exit 2" {
		t.Errorf("order = %v", order)
	}
}

func TestRuntimeState_ForCopy(t *testing.T) {
	st, err := NewRuntimeState(Options{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}

	ci := &CommandInfo{
		Template: "./bench $SPECCOPYNUM",
		Dir:      "/run/$SPECCOPYNUM",
		Input:    "in.$BIND",
		Output:   "out.$SPECCOPYNUM",
		Error:    "err.log",
	}

	tests := []struct {
		name string
		cp   *CopyInfo
		want CommandInfo
	}{
		{"no bind", &CopyInfo{Num: 0}, CommandInfo{
			Template: ci.Template, Dir: "/run/0", Input: "in.$BIND", Output: "out.0", Error: "err.log",
		}},
		{"bound", &CopyInfo{Num: 7, Bind: "cpu3"}, CommandInfo{
			Template: ci.Template, Dir: "/run/7", Input: "in.cpu3", Output: "out.7", Error: "err.log",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := st.ForCopy(ci, tt.cp); *got != tt.want {
				t.Errorf("ForCopy = %+v, want %+v", *got, tt.want)
			}
		})
	}

	if ci.Output != "out.$SPECCOPYNUM" || ci.Dir != "/run/$SPECCOPYNUM" {
		t.Errorf("ForCopy modified its input: %+v", *ci)
	}
}

func TestFindHelper(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "specinvoke")

	if got := FindHelper(exe); got != "" {
		t.Errorf("FindHelper without a helper = %q, want empty", got)
	}

	helper := filepath.Join(dir, HelperName)
	if err := os.WriteFile(helper, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := FindHelper(exe); got != "" {
		t.Errorf("FindHelper with a non-executable helper = %q, want empty", got)
	}

	if err := os.Chmod(helper, 0o755); err != nil {
		t.Fatal(err)
	}
	if got := FindHelper(exe); got != helper {
		t.Errorf("FindHelper = %q, want %q", got, helper)
	}
}

// =============================================================================
// Tests: Policies and phases
// =============================================================================

func TestParseStdinPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    StdinPolicy
		wantErr bool
	}{
		{"null", StdinNull, false},
		{"devnull", StdinNull, false},
		{"ZEROFILE", StdinZeroFile, false},
		{"zero", StdinZeroFile, false},
		{"close", StdinErrorStream, false},
		{"stderr", StdinErrorStream, false},
		{"", StdinNull, true},
		{"pipe", StdinNull, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStdinPolicy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStdinPolicy_StringRoundTrip(t *testing.T) {
	for _, p := range []StdinPolicy{StdinNull, StdinZeroFile, StdinErrorStream} {
		got, err := ParseStdinPolicy(p.String())
		if err != nil || got != p {
			t.Errorf("ParseStdinPolicy(%q) = %v, %v", p.String(), got, err)
		}
	}
	if StdinPolicy(9).String() != "unknown" {
		t.Error("out-of-range policy should print unknown")
	}
}

func TestPhase_String(t *testing.T) {
	tests := []struct {
		phase       Phase
		want        string
		outstanding bool
	}{
		{PhasePreparing, "preparing", false},
		{PhaseChildExecuting, "child_executing", false},
		{PhaseParentTracking, "parent_tracking", true},
		{PhaseReaped, "reaped", false},
		{Phase(99), "unknown", false},
	}

	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.want {
			t.Errorf("Phase(%d).String() = %q, want %q", tt.phase, got, tt.want)
		}
		if got := tt.phase.IsOutstanding(); got != tt.outstanding {
			t.Errorf("Phase(%d).IsOutstanding() = %v", tt.phase, got)
		}
	}
}

// =============================================================================
// Tests: Status decoding
// =============================================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		ws   sys.WaitStatus
		want int
	}{
		{"exit 0", sys.WaitStatus(0), 0},
		{"exit 3", sys.WaitStatus(3 << 8), 3},
		{"exit 127", sys.WaitStatus(127 << 8), 127},
		{"SIGKILL", sys.WaitStatus(9), 137},
		{"SIGTERM", sys.WaitStatus(15), 143},
		{"stopped", sys.WaitStatus(0x7f | 19<<8), -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.ws); got != tt.want {
				t.Errorf("ExitCode(%#x) = %d, want %d", uint32(tt.ws), got, tt.want)
			}
		})
	}
}

func TestCopyInfo_FinishAndElapsed(t *testing.T) {
	cp := &CopyInfo{
		Phase: PhaseParentTracking,
		Start: timer.Timestamp{Sec: 10, Nsec: 900_000_000},
	}
	if !cp.Elapsed().IsZero() {
		t.Error("Elapsed before reaping should be zero")
	}

	cp.Finish(Completion{
		Pid:    cp.Pid,
		Status: sys.WaitStatus(2 << 8),
		End:    timer.Timestamp{Sec: 12, Nsec: 100_000_000},
	})

	if cp.Phase != PhaseReaped {
		t.Errorf("Phase = %v, want reaped", cp.Phase)
	}
	if got := ExitCode(cp.Status); got != 2 {
		t.Errorf("exit code = %d, want 2", got)
	}
	want := timer.Timestamp{Sec: 1, Nsec: 200_000_000}
	if got := cp.Elapsed(); got != want {
		t.Errorf("Elapsed = %v, want %v", got, want)
	}
}

func TestDescribe(t *testing.T) {
	wrapped := &os.PathError{Op: "fork/exec", Path: "/x", Err: syscall.ENOENT}
	want := fmt.Sprintf("%s(%d)", syscall.ENOENT.Error(), int(syscall.ENOENT))
	if got := describe(wrapped); got != want {
		t.Errorf("describe(PathError) = %q, want %q", got, want)
	}

	if got := describe(errors.New("boom")); got != "boom(0)" {
		t.Errorf("describe(plain) = %q, want boom(0)", got)
	}
}

func TestZeroFileName(t *testing.T) {
	if got := zeroFileName(3, 4242); got != "spec_empty_file.3.4242" {
		t.Errorf("zeroFileName = %q", got)
	}
}

func TestWithoutPlan(t *testing.T) {
	env := []string{"A=1", childEnvKey + "={}", "B=2"}
	got := withoutPlan(env)
	if len(got) != 2 || got[0] != "A=1" || got[1] != "B=2" {
		t.Errorf("withoutPlan = %v", got)
	}
}
