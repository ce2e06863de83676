// Package main provides the specinvoke CLI entry point.
//
// specinvoke launches copies of benchmark commands as shell children, with
// per-copy working directory, redirection and placeholder substitution, and
// reaps every copy it started.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/go-specinvoke/internal/config"
	"github.com/randomizedcoder/go-specinvoke/internal/invoke"
	"github.com/randomizedcoder/go-specinvoke/internal/logging"
	"github.com/randomizedcoder/go-specinvoke/internal/metrics"
	"github.com/randomizedcoder/go-specinvoke/internal/orchestrator"
	"github.com/randomizedcoder/go-specinvoke/internal/tui"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/specinvoke
var version = "dev"

// Process exit codes. invoke.ExitForkFailure (2) is used directly by the
// launcher when a child cannot be created.
const (
	exitOK          = 0
	exitError       = 1
	exitChildFailed = 3
	exitInterrupted = 130
)

func main() {
	invoke.MaybeRunChild()
	os.Exit(run())
}

func run() int {
	cfg, err := config.ParseFlags()
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return exitError
	}

	if cfg.PrintVersion {
		fmt.Printf("specinvoke %s\n", version)
		return exitOK
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return exitError
	}

	useTUI := cfg.TUIEnabled && isatty.IsTerminal(os.Stdout.Fd())
	if cfg.TUIEnabled && !useTUI {
		fmt.Fprintln(os.Stderr, "stdout is not a terminal; dashboard disabled")
	}

	// The dashboard owns the terminal, so logs are suppressed while it runs.
	var logger *slog.Logger
	if useTUI {
		logger = logging.NewLoggerWithWriter(io.Discard, "json", "info", false)
	} else {
		logger = logging.NewLogger(cfg.LogFormat, "info", cfg.Verbose)
	}
	logger = logger.With("run_id", uuid.NewString())
	logging.SetDefault(logger)

	// A fork failure exits from inside the orchestrator, so everything that
	// must be released goes through release rather than plain defers.
	var release teardown
	defer release.run()

	launchOut, closeOut, err := openLaunchLog(cfg.LaunchLog, useTUI)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening launch log: %v\n", err)
		return exitError
	}
	release.add(closeOut)
	launchLog := logging.NewLaunchLog(launchOut, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version:      version,
		Shell:        cfg.Shell,
		TargetCopies: cfg.TotalCopies(),
	}, registry)

	var server *metrics.Server
	if cfg.MetricsAddr != "" {
		server = metrics.NewServer(cfg.MetricsAddr, registry, logger)
		if err := server.Start(); err != nil {
			logger.Error("metrics_server_failed", "error", err)
			return exitError
		}
		release.add(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				logger.Warn("metrics_server_shutdown_error", "error", err)
			}
		})
	}

	// An empty helper makes invoke re-execute this binary.
	helper := cfg.Helper
	if helper == "" {
		if exe, err := os.Executable(); err == nil {
			helper = invoke.FindHelper(exe)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting",
		"version", version,
		"commands", len(cfg.Commands),
		"copies", cfg.Copies,
		"shell", cfg.Shell,
		"dry_run", cfg.DryRun,
		"helper", helper,
		"metrics_addr", cfg.MetricsAddr,
	)

	opts := orchestrator.Options{
		Config:  cfg,
		Logger:  logger,
		Metrics: collector,
		Out:     launchLog,
		Helper:  helper,
		Cleanup: release.run,
	}

	var program *tea.Program
	uiDone := make(chan struct{})
	if useTUI {
		program = tea.NewProgram(tui.New(tui.Config{
			TargetCopies: cfg.TotalCopies(),
			Shell:        cfg.Shell,
			MetricsAddr:  metricsAddr(server),
			LogSource:    launchLog,
		}), tea.WithAltScreen())
		opts.UI = program

		runCtx, cancel := context.WithCancel(ctx)
		ctx = runCtx
		go func() {
			defer close(uiDone)
			if _, err := program.Run(); err != nil {
				logger.Error("tui_failed", "error", err)
			}
			// Quitting the dashboard stops the run.
			cancel()
		}()
		release.add(func() {
			select {
			case <-uiDone:
				return
			default:
			}
			// Restores the terminal when the run dies with the dashboard up.
			program.Kill()
			select {
			case <-uiDone:
			case <-time.After(2 * time.Second):
			}
		})
	} else {
		close(uiDone)
	}

	res, err := orchestrator.New(opts).Run(ctx)

	tui.SendQuit(senderOf(program))
	<-uiDone

	if cfg.MetricsFile != "" {
		if werr := metrics.WriteTextfile(cfg.MetricsFile, registry); werr != nil {
			fmt.Fprintf(os.Stderr, "Error writing metrics file: %v\n", werr)
		}
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}

	if !cfg.DryRun {
		orchestrator.PrintExitSummary(os.Stderr, collector.GenerateSummary(), metricsAddr(server))
	}

	switch {
	case res.Interrupted:
		return exitInterrupted
	case res.Failed > 0:
		return exitChildFailed
	default:
		return exitOK
	}
}

// teardown runs release steps once, newest first, on either the normal
// return path or a fatal exit.
type teardown struct {
	once  sync.Once
	steps []func()
}

func (t *teardown) add(step func()) {
	t.steps = append(t.steps, step)
}

func (t *teardown) run() {
	t.once.Do(func() {
		for i := len(t.steps) - 1; i >= 0; i-- {
			t.steps[i]()
		}
	})
}

// openLaunchLog returns the launch-log destination. With the dashboard
// running, stdout lines are only kept in memory.
func openLaunchLog(path string, useTUI bool) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		if useTUI {
			return io.Discard, func() {}, nil
		}
		return os.Stdout, func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func metricsAddr(s *metrics.Server) string {
	if s == nil {
		return ""
	}
	return s.Addr()
}

// senderOf avoids handing tui.SendQuit a typed nil.
func senderOf(p *tea.Program) tui.Sender {
	if p == nil {
		return nil
	}
	return p
}
