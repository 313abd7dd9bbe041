// Package main is the entry point for the telemetry worker process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"fancontrol/internal/config"
	"fancontrol/internal/ipc"
	"fancontrol/internal/logger"
	"fancontrol/internal/msr"
	"fancontrol/internal/pidlock"
	"fancontrol/internal/sensor"
	"fancontrol/internal/worker"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const lockName = "fancontrol-worker"

func main() {
	var (
		configPath  = flag.String("config", "conf/fancontrol/fancontrol.json", "Path to configuration file")
		loggingPath = flag.String("logging", "conf/fancontrol/logging.json", "Path to logging configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("fanworker %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// A second instance exits immediately, silently, before touching any
	// hardware or log file.
	lock, err := pidlock.Acquire(lockName)
	if err != nil {
		if errors.Is(err, pidlock.ErrAlreadyRunning) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Failed to acquire instance lock: %v\n", err)
		os.Exit(1)
	}
	defer lock.Release()

	cfg := config.DefaultConfig()
	if loaded, err := config.Load(*configPath); err == nil {
		cfg = loaded
	} else if !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCfg := logger.DefaultConfig()
	if lc, err := config.LoadLogging(*loggingPath); err == nil {
		logCfg = *lc
	}
	if err := logger.Init(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log := logger.WithComponent("main")

	// Last-resort handler: log with full detail before the process dies.
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Unhandled failure, worker exiting")
			lock.Release()
			os.Exit(1)
		}
	}()

	log.Info().
		Str("version", version).
		Str("config", *configPath).
		Msg("Starting telemetry worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := sensor.NewHostBackend(ctx)
	defer backend.Close()

	// The MSR fallback is best effort: without the device (missing kernel
	// module, no privileges) the primary path serves alone.
	var pkgTemp *msr.PackageTemp
	if reader, err := msr.Open(); err == nil {
		pkgTemp = msr.NewPackageTemp(reader)
		defer pkgTemp.Close()
		log.Info().Float64("tjmax", pkgTemp.TjMax()).Msg("MSR fallback available")
	} else {
		log.Info().Err(err).Msg("MSR fallback unavailable")
	}

	w := worker.New(cfg.Worker, backend, pkgTemp, nil)
	if err := w.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to start worker")
		os.Exit(1)
	}
	defer w.Stop()

	server := ipc.NewServer(cfg.Worker.Endpoint, w)
	if err := server.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to start IPC server")
		os.Exit(1)
	}
	defer server.Stop()

	// Logging tweaks (level, console) land without a worker restart.
	if watcher, err := config.NewLoggingWatcher(*loggingPath, func(lc *logger.Config) {
		if err := logger.Init(*lc); err != nil {
			log.Error().Err(err).Msg("Failed to apply logging configuration")
		}
	}); err == nil {
		if err := watcher.Start(); err == nil {
			defer watcher.Stop()
		}
	} else {
		log.Debug().Err(err).Msg("Logging watcher unavailable")
	}

	// Optional positional argument: the controlling process's pid.
	if arg := flag.Arg(0); arg != "" {
		pid, err := strconv.Atoi(arg)
		if err != nil || pid <= 0 {
			log.Warn().Str("arg", arg).Msg("Ignoring invalid parent pid argument")
		} else if err := w.RegisterParent(pid); err != nil {
			log.Warn().Err(err).Int("pid", pid).Msg("Parent pid not registered")
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Signal received, shutting down")
	case <-w.Done():
		log.Info().Str("state", w.State().String()).Msg("Worker requested termination")
	}

	log.Info().Msg("Telemetry worker stopped")
}
