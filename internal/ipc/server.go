package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"fancontrol/internal/logger"
	"fancontrol/internal/sample"
)

// Handler is the worker-side surface the server drives.
type Handler interface {
	// SampleSnapshot returns the current cache and whether at least one
	// full poll cycle has completed.
	SampleSnapshot() (*sample.Sample, bool)
	// RegisterParent (re)registers the controlling process.
	RegisterParent(pid int) error
	// RequestShutdown asks the worker to terminate gracefully.
	RequestShutdown()
	// NoteActivity records client activity for the orphan watchdog.
	NoteActivity()
}

const acceptRetryBackoff = time.Second

// Server accepts one client connection at a time on a named endpoint and
// serves the request/response protocol until its context is cancelled.
type Server struct {
	endpoint string
	handler  Handler

	mu       sync.Mutex
	listener net.Listener
	running  bool
	wg       sync.WaitGroup
}

// NewServer creates a server for the named endpoint.
func NewServer(endpoint string, h Handler) *Server {
	return &Server{endpoint: endpoint, handler: h}
}

// Start binds the endpoint and runs the accept loop in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	l, err := listen(s.endpoint)
	if err != nil {
		return err
	}
	s.listener = l
	s.running = true

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

// Stop closes the listener and waits for the serving goroutine.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	l := s.listener
	s.mu.Unlock()

	l.Close()
	s.wg.Wait()
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	log := logger.WithComponent("ipc-server")
	log.Info().Str("endpoint", s.endpoint).Msg("IPC server listening")

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Info().Msg("IPC server stopped")
				return
			}
			log.Error().Err(err).Msg("Accept failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(acceptRetryBackoff):
			}
			continue
		}

		// One controlling process at a time: the next connection is not
		// accepted until this one disconnects.
		s.serve(ctx, conn)
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := logger.WithComponent("ipc-server")
	log.Debug().Msg("Client connected")

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		req := strings.TrimSpace(scanner.Text())
		s.handler.NoteActivity()

		resp, shutdown := s.dispatch(req)
		if _, err := conn.Write(append([]byte(resp), '\n')); err != nil {
			log.Warn().Err(err).Msg("Failed to write response")
			return
		}
		if shutdown {
			s.handler.RequestShutdown()
			return
		}
	}

	// Client disconnect is expected; loop back to accepting.
	log.Debug().Msg("Client disconnected")
}

func (s *Server) dispatch(req string) (resp string, shutdown bool) {
	switch {
	case req == ReqPing:
		return RespPong, false

	case req == ReqGet:
		snap, ready := s.handler.SampleSnapshot()
		if !ready {
			snap = snap.Clone()
			snap.IsFresh = false
			snap.StaleCount = NotReadyStaleCount
		}
		data, err := json.Marshal(snap)
		if err != nil {
			log := logger.WithComponent("ipc-server")
			log.Error().Err(err).Msg("Failed to marshal sample")
			return RespUnknown, false
		}
		return string(data), false

	case strings.HasPrefix(req, ReqSetParent+" "):
		arg := strings.TrimSpace(strings.TrimPrefix(req, ReqSetParent+" "))
		pid, err := strconv.Atoi(arg)
		if err != nil || pid <= 0 {
			return RespInvalidPid, false
		}
		if err := s.handler.RegisterParent(pid); err != nil {
			return RespInvalidPid, false
		}
		return RespOK, false

	case req == ReqShutdown:
		return RespOK, true

	default:
		return RespUnknown, false
	}
}
