package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/socmon/internal/aggregate"
	"codeberg.org/mutker/socmon/internal/config"
	"codeberg.org/mutker/socmon/internal/dashboard"
	"codeberg.org/mutker/socmon/internal/errors"
	"codeberg.org/mutker/socmon/internal/host"
	"codeberg.org/mutker/socmon/internal/logger"
	"codeberg.org/mutker/socmon/internal/pid"
	"codeberg.org/mutker/socmon/internal/pipeline"
	"codeberg.org/mutker/socmon/internal/powermetrics"
	"codeberg.org/mutker/socmon/internal/snapshot"
	"codeberg.org/mutker/socmon/internal/soc"
	"codeberg.org/mutker/socmon/internal/supervisor"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"
)

const (
	exitOK = iota
	_
	exitConfig
	exitSpawn
	exitFailed
	exitAlreadyRunning
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if errors.Is(err, config.ErrHelp) {
		config.Usage(os.Stdout)
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "socmon: %v\n\n", err)
		config.Usage(os.Stderr)
		return exitConfig
	}
	if cfg.Version {
		fmt.Printf("socmon %s\n", version)
		return exitOK
	}

	headless := cfg.Headless || !term.IsTerminal(int(os.Stdout.Fd()))

	logOut, closeLog, err := openLog(cfg, headless)
	if err != nil {
		fmt.Fprintf(os.Stderr, "socmon: %v\n", err)
		return exitConfig
	}
	defer closeLog()

	if err := logger.Init(logger.Options{Level: cfg.LogLevel, Output: logOut, Console: headless}); err != nil {
		fmt.Fprintf(os.Stderr, "socmon: %v\n", err)
		return exitConfig
	}
	logger.Debug().Str("config_file", cfg.ConfigFile).Msg("Config loaded")

	lock := pid.New("")
	if err := lock.Write(); err != nil {
		if errors.HasCode(err, errors.ErrAlreadyRunning) {
			fmt.Fprintf(os.Stderr, "socmon: %v\n", err)
			return exitAlreadyRunning
		}
		logger.Warn().Err(err).Msg("Failed to write PID file")
	}
	defer func() {
		if err := lock.Remove(); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	info := soc.Detect(ctx)
	logger.Info().Str("chip", info.Name).Int("e_cores", info.ECores).Int("p_cores", info.PCores).Msg("Detected SoC")

	elevate := !cfg.NoSudo && os.Geteuid() != 0
	if elevate && term.IsTerminal(int(os.Stdin.Fd())) {
		if err := authorize(); err != nil {
			fmt.Fprintf(os.Stderr, "socmon: sudo: %v\n", err)
			return exitSpawn
		}
	}

	store := snapshot.NewStore()
	driver := newDriver(cfg, store, elevate)

	runErr := make(chan error, 1)
	go func() {
		runErr <- driver.Run(ctx)
	}()

	if headless {
		rendered := make(chan struct{})
		go func() {
			defer close(rendered)
			dashboard.NewHeadless(store, logger.Default(), cfg.IntervalDuration()).Run(ctx)
		}()
		err = <-runErr
		cancel()
		<-rendered
	} else {
		err = runDashboard(cancel, cfg, info, store, runErr)
	}

	stats := driver.Stats()
	logger.Info().
		Uint64("samples", stats.Samples).
		Uint64("malformed", stats.Malformed).
		Uint64("restarts", stats.Restarts).
		Str("state", driver.State().String()).
		Msg("Exiting")

	return exitCode(err)
}

func newDriver(cfg *config.Config, store *snapshot.Store, elevate bool) *pipeline.Driver {
	binary := cfg.Powermetrics
	if binary == "" {
		binary = powermetrics.DefaultBinary
	}

	sup := supervisor.New(supervisor.Options{
		Launcher: supervisor.ExecLauncher{
			Binary:   binary,
			Samplers: powermetrics.DefaultSamplers,
			Interval: cfg.IntervalDuration(),
			Elevate:  elevate,
		},
		MaxCount:   cfg.MaxCount,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger.Default(),
	})

	parser := powermetrics.NewParser(powermetrics.Options{Interval: cfg.IntervalDuration()})
	agg := aggregate.New(cfg.AvgDuration())

	return pipeline.New(sup, parser, agg, store,
		pipeline.WithEnricher(host.NewReader(host.WithLogger(logger.Default()))),
		pipeline.WithLogger(logger.Default()),
	)
}

// authorize caches sudo credentials while the terminal is still free to
// prompt. The child later runs sudo -n from a background process group.
func authorize() error {
	cmd := exec.Command("sudo", "-v")
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// runDashboard shows the UI until the user quits or the pipeline stops,
// and returns the pipeline's result once the child is reclaimed.
func runDashboard(cancel context.CancelFunc, cfg *config.Config, info soc.Info, store *snapshot.Store, runErr <-chan error) error {
	model := dashboard.New(dashboard.Options{
		Source:    store,
		Info:      info,
		Color:     cfg.Color,
		ShowCores: cfg.ShowCores,
		Interval:  cfg.IntervalDuration(),
		AvgWindow: cfg.AvgDuration(),
		Quit:      cancel,
	})
	program := tea.NewProgram(model, tea.WithAltScreen())

	var pipelineErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		pipelineErr = <-runErr
		program.Send(dashboard.DoneMsg{Err: pipelineErr})
	}()

	if _, err := program.Run(); err != nil {
		logger.Error().Err(err).Msg("Dashboard failed")
	}
	cancel()
	<-done

	if pipelineErr != nil {
		fmt.Fprintf(os.Stderr, "socmon: %v\n", pipelineErr)
	}

	return pipelineErr
}

// openLog picks the log destination: stderr when nothing is drawn,
// otherwise the log file so lines do not tear the dashboard.
func openLog(cfg *config.Config, headless bool) (io.Writer, func(), error) {
	if headless {
		return os.Stderr, func() {}, nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	return f, func() { _ = f.Close() }, nil
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case supervisor.IsSpawnError(err):
		return exitSpawn
	default:
		return exitFailed
	}
}
