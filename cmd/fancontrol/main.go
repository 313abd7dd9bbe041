// Package main is the entry point for the controlling process: it owns
// the fan control engine and manages the telemetry worker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"fancontrol/internal/config"
	"fancontrol/internal/engine"
	"fancontrol/internal/fans"
	"fancontrol/internal/history"
	"fancontrol/internal/logger"
	"fancontrol/internal/pidlock"
	"fancontrol/internal/preset"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const lockName = "fancontrol"

func main() {
	var (
		configPath  = flag.String("config", "conf/fancontrol/fancontrol.json", "Path to configuration file")
		loggingPath = flag.String("logging", "conf/fancontrol/logging.json", "Path to logging configuration file")
		workerPath  = flag.String("worker", defaultWorkerPath(), "Path to the telemetry worker binary")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("fancontrol %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	lock, err := pidlock.Acquire(lockName)
	if err != nil {
		if errors.Is(err, pidlock.ErrAlreadyRunning) {
			fmt.Fprintln(os.Stderr, "fancontrol is already running")
			os.Exit(1)
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
	log.Info().
		Str("version", version).
		Str("config", *configPath).
		Msg("Starting fancontrol")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl, err := fans.Detect()
	if err != nil {
		log.Warn().Err(err).Msg("No fan hardware detected, running dry")
		ctrl = fans.NewDryRun()
	}

	link := newWorkerLink(cfg.Worker.Endpoint, *workerPath)
	if err := link.Connect(); err != nil {
		log.Error().Err(err).Msg("Failed to reach telemetry worker")
		os.Exit(1)
	}
	defer link.Close()

	store := preset.NewFileStore(cfg.Engine.PresetsPath)

	eng := engine.New(cfg.Engine, ctrl, link, store, nil)

	if cfg.Engine.HistoryDBPath != "" {
		if repo, err := history.Open(cfg.Engine.HistoryDBPath); err == nil {
			if cfg.Engine.HistoryRetention > 0 {
				if err := repo.Prune(cfg.Engine.HistoryRetention); err != nil {
					log.Warn().Err(err).Msg("Cycle history pruning failed")
				}
			}
			eng.SetRecorder(repo)
			defer repo.Close()
		} else {
			log.Warn().Err(err).Msg("Cycle history disabled")
		}
	}

	restoreLastPreset(eng, store, log)

	if err := eng.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to start engine")
		os.Exit(1)
	}
	defer eng.Stop()

	// Hot reload: tuning changes land without a restart.
	if watcher, err := config.NewConfigWatcher(*configPath, func(c *config.Config) {
		eng.UpdateSettings(c.Engine)
	}); err == nil {
		if err := watcher.Start(); err == nil {
			defer watcher.Stop()
		}
	} else {
		log.Debug().Err(err).Msg("Config watcher unavailable")
	}

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

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Signal received, shutting down")

	eng.Stop()
	if !eng.RestoreAutoControl() {
		log.Warn().Msg("Could not restore automatic fan control")
	}

	// The worker stays up; it reattaches when the next controlling
	// process starts, or expires on its own after the orphan timeout.
	log.Info().Msg("fancontrol stopped")
}

// restoreLastPreset reapplies the preset in use when the previous
// session ended. "Max" maps straight to ApplyMaxCooling; anything else
// goes through the normal apply/verify path.
func restoreLastPreset(eng *engine.Engine, store preset.Store, log zerolog.Logger) {
	name, err := store.LastUsed()
	if err != nil || name == "" {
		return
	}

	if name == preset.MaxPresetName {
		eng.ApplyMaxCooling()
		return
	}

	p, found, err := store.Find(name)
	if err != nil || !found {
		log.Warn().Str("preset", name).Msg("Last-used preset not found")
		return
	}
	if err := eng.ApplyPreset(p); err != nil {
		log.Warn().Err(err).Str("preset", name).Msg("Last-used preset not restored")
	}
}
