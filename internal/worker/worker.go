// Package worker implements the telemetry worker: fault-contained sensor
// polling, the CPU temperature fallback path, staleness accounting and the
// orphan-aware process lifecycle.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"fancontrol/internal/config"
	"fancontrol/internal/logger"
	"fancontrol/internal/msr"
	"fancontrol/internal/sample"
	"fancontrol/internal/sensor"
)

// ConnState is the worker's relationship to its controlling process.
type ConnState int

const (
	// StateAttached: a live parent is registered.
	StateAttached ConnState = iota
	// StateOrphaned: no live parent is registered; the worker keeps
	// serving until the activity timeout.
	StateOrphaned
	// StateExpired: orphaned past the activity timeout; terminating.
	StateExpired
)

// String returns the state name used in logs.
func (s ConnState) String() string {
	switch s {
	case StateAttached:
		return "attached"
	case StateOrphaned:
		return "orphaned"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Worker owns the sample cache and every background loop. All shared
// mutable state lives here, guarded, instead of package-level fields.
type Worker struct {
	cfg     config.WorkerConfig
	backend sensor.Backend
	pkgTemp *msr.PackageTemp // nil when the MSR capability is unavailable
	clk     clock.Clock
	log     zerolog.Logger

	// Sample cache: replaced wholesale under mu, never mutated in place.
	mu    sync.RWMutex
	cur   *sample.Sample
	ready bool

	// CPU temperature fallback state.
	primaryFailures int
	fallbackActive  bool

	// Per-device failure bookkeeping.
	failedMu    sync.Mutex
	failed      map[string]error
	logLimiter  *rateLimiter
	reinitFired bool

	// Lifecycle state.
	lifeMu       sync.Mutex
	connState    ConnState
	parentPid    int
	lastActivity clockTime

	shutdownOnce sync.Once
	shutdownCh   chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type clockTime struct {
	set bool
	at  int64 // unix nanos from the injected clock
}

// New creates a worker. pkgTemp may be nil; the fallback path is then
// disabled and the primary reading is reported as-is.
func New(cfg config.WorkerConfig, backend sensor.Backend, pkgTemp *msr.PackageTemp, clk clock.Clock) *Worker {
	if clk == nil {
		clk = clock.New()
	}
	return &Worker{
		cfg:     cfg,
		backend: backend,
		pkgTemp: pkgTemp,
		clk:     clk,
		log:     logger.WithComponent("worker"),
		cur:     sample.New(),
		failed:  make(map[string]error),
		// Orphaned until a parent registers, so a worker nobody ever
		// attaches to still expires on the activity timeout.
		connState:  StateOrphaned,
		logLimiter: newRateLimiter(clk),
		shutdownCh: make(chan struct{}),
	}
}

// Start launches the poll loop, parent monitor and orphan watchdog.
func (w *Worker) Start(ctx context.Context) error {
	if w.cfg.PollInterval <= 0 {
		return fmt.Errorf("invalid poll interval: %v", w.cfg.PollInterval)
	}

	ctx, w.cancel = context.WithCancel(ctx)

	w.noteActivityLocked()

	w.wg.Add(3)
	go w.pollLoop(ctx)
	go w.parentMonitor(ctx)
	go w.orphanWatchdog(ctx)
	return nil
}

// Stop cancels all loops and waits for them to finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// Done is closed when the worker decided to terminate (SHUTDOWN request
// or orphan expiry).
func (w *Worker) Done() <-chan struct{} {
	return w.shutdownCh
}

// SampleSnapshot implements ipc.Handler.
func (w *Worker) SampleSnapshot() (*sample.Sample, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur, w.ready
}

// RegisterParent implements ipc.Handler: (re)attaches the worker to pid
// and restarts the liveness clock for it.
func (w *Worker) RegisterParent(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	alive, err := process.PidExists(int32(pid))
	if err != nil || !alive {
		return fmt.Errorf("pid %d does not exist", pid)
	}

	w.lifeMu.Lock()
	w.parentPid = pid
	w.connState = StateAttached
	w.noteActivityUnsafe()
	w.lifeMu.Unlock()

	w.log.Info().Int("parent_pid", pid).Msg("Parent registered")
	return nil
}

// RequestShutdown implements ipc.Handler.
func (w *Worker) RequestShutdown() {
	w.log.Info().Msg("Shutdown requested")
	w.shutdownOnce.Do(func() { close(w.shutdownCh) })
}

// NoteActivity implements ipc.Handler: any client request resets the
// orphan clock, and reattaches an orphaned worker once a parent pid is
// known. Without one the worker stays orphaned so its lifetime remains
// bounded.
func (w *Worker) NoteActivity() {
	w.lifeMu.Lock()
	defer w.lifeMu.Unlock()
	w.noteActivityUnsafe()
	if w.connState == StateOrphaned && w.parentPid != 0 {
		w.connState = StateAttached
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() ConnState {
	w.lifeMu.Lock()
	defer w.lifeMu.Unlock()
	return w.connState
}

// FallbackActive reports whether the MSR fallback currently supplies the
// CPU temperature. Exposed for diagnostics.
func (w *Worker) FallbackActive() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.fallbackActive
}

// FailedDevices returns the devices whose most recent refresh failed.
func (w *Worker) FailedDevices() []string {
	w.failedMu.Lock()
	defer w.failedMu.Unlock()
	names := make([]string, 0, len(w.failed))
	for name := range w.failed {
		names = append(names, name)
	}
	return names
}

func (w *Worker) noteActivityLocked() {
	w.lifeMu.Lock()
	defer w.lifeMu.Unlock()
	w.noteActivityUnsafe()
}

func (w *Worker) noteActivityUnsafe() {
	w.lastActivity = clockTime{set: true, at: w.clk.Now().UnixNano()}
}

func (w *Worker) parentMonitor(ctx context.Context) {
	defer w.wg.Done()

	ticker := w.clk.Ticker(w.cfg.ParentCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.checkParent()
		}
	}
}

func (w *Worker) checkParent() {
	w.lifeMu.Lock()
	pid := w.parentPid
	state := w.connState
	w.lifeMu.Unlock()

	if pid == 0 || state != StateAttached {
		return
	}

	alive, err := process.PidExists(int32(pid))
	if err == nil && alive {
		return
	}

	w.lifeMu.Lock()
	// Keep serving and polling: a restarted controlling process will
	// reattach via SET_PARENT before the orphan timeout.
	if w.connState == StateAttached && w.parentPid == pid {
		w.connState = StateOrphaned
		w.noteActivityUnsafe()
	}
	w.lifeMu.Unlock()

	w.log.Warn().Int("parent_pid", pid).Msg("Parent process exited, worker orphaned")
}

func (w *Worker) orphanWatchdog(ctx context.Context) {
	defer w.wg.Done()

	ticker := w.clk.Ticker(w.cfg.OrphanCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.checkOrphanExpiry() {
				return
			}
		}
	}
}

func (w *Worker) checkOrphanExpiry() bool {
	w.lifeMu.Lock()
	expired := w.connState == StateOrphaned &&
		w.lastActivity.set &&
		w.clk.Now().UnixNano()-w.lastActivity.at > w.cfg.OrphanTimeout.Nanoseconds()
	if expired {
		w.connState = StateExpired
	}
	w.lifeMu.Unlock()

	if !expired {
		return false
	}

	w.log.Warn().
		Dur("timeout", w.cfg.OrphanTimeout).
		Msg("Orphaned past activity timeout, terminating")
	w.shutdownOnce.Do(func() { close(w.shutdownCh) })
	return true
}
