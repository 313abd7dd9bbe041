package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fancontrol/internal/ipc"
	"fancontrol/internal/logger"
	"fancontrol/internal/sample"
)

const (
	dialTimeout    = 2 * time.Second
	spawnRetries   = 10
	spawnRetryWait = 500 * time.Millisecond
)

// workerLink keeps the IPC channel to the telemetry worker alive. If the
// channel dies it reconnects, and if the worker process is gone it
// respawns it and re-registers this process as the parent.
type workerLink struct {
	endpoint   string
	workerPath string
	parentPid  int
	log        zerolog.Logger

	mu     sync.Mutex
	client *ipc.Client
}

func newWorkerLink(endpoint, workerPath string) *workerLink {
	return &workerLink{
		endpoint:   endpoint,
		workerPath: workerPath,
		parentPid:  os.Getpid(),
		log:        logger.WithComponent("worker-link"),
	}
}

// Connect establishes the channel, spawning the worker when needed.
func (l *workerLink) Connect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connectLocked()
}

// Sample implements engine.SampleSource with one transparent reconnect
// attempt per call.
func (l *workerLink) Sample() (*sample.Sample, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.client == nil {
		if err := l.connectLocked(); err != nil {
			return nil, err
		}
	}

	s, err := l.client.GetSample()
	if err == nil {
		return s, nil
	}

	l.log.Warn().Err(err).Msg("IPC channel lost, reconnecting")
	l.client.Close()
	l.client = nil
	if cerr := l.connectLocked(); cerr != nil {
		return nil, fmt.Errorf("worker unreachable: %w", err)
	}
	return l.client.GetSample()
}

// Close closes the channel. The worker stays alive and becomes orphaned;
// a restarted controlling process will reattach.
func (l *workerLink) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		l.client.Close()
		l.client = nil
	}
}

func (l *workerLink) connectLocked() error {
	if c, err := ipc.Dial(l.endpoint, dialTimeout); err == nil {
		return l.attach(c)
	}

	l.log.Info().Str("path", l.workerPath).Msg("Worker not reachable, spawning")
	cmd := exec.Command(l.workerPath, strconv.Itoa(l.parentPid))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to spawn worker: %w", err)
	}
	go cmd.Wait() // reap

	var lastErr error
	for i := 0; i < spawnRetries; i++ {
		time.Sleep(spawnRetryWait)
		c, err := ipc.Dial(l.endpoint, dialTimeout)
		if err == nil {
			return l.attach(c)
		}
		lastErr = err
	}
	return fmt.Errorf("worker did not come up: %w", lastErr)
}

func (l *workerLink) attach(c *ipc.Client) error {
	if err := c.Ping(); err != nil {
		c.Close()
		return err
	}
	if err := c.SetParent(l.parentPid); err != nil {
		c.Close()
		return err
	}
	l.client = c
	l.log.Info().Str("endpoint", l.endpoint).Msg("Attached to worker")
	return nil
}

// defaultWorkerPath looks for the worker binary next to this executable.
func defaultWorkerPath() string {
	name := "fanworker"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	exe, err := os.Executable()
	if err != nil {
		return name
	}
	return filepath.Join(filepath.Dir(exe), name)
}
