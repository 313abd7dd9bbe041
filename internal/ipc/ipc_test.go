//go:build !windows

package ipc

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"fancontrol/internal/sample"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeHandler struct {
	mu        sync.Mutex
	s         *sample.Sample
	ready     bool
	parent    int
	parentErr error
	shutdowns int
	activity  int
}

func (h *fakeHandler) SampleSnapshot() (*sample.Sample, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.s, h.ready
}

func (h *fakeHandler) RegisterParent(pid int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.parentErr != nil {
		return h.parentErr
	}
	h.parent = pid
	return nil
}

func (h *fakeHandler) RequestShutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdowns++
}

func (h *fakeHandler) NoteActivity() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activity++
}

func startTestServer(t *testing.T, h Handler) (string, *Server) {
	t.Helper()
	endpoint := fmt.Sprintf("fancontrol-test-%d-%s", os.Getpid(), t.Name())

	srv := NewServer(endpoint, h)
	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Start(ctx); err != nil {
		cancel()
		t.Fatalf("server start failed: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		srv.Stop()
	})
	return endpoint, srv
}

func TestPingPong(t *testing.T) {
	endpoint, _ := startTestServer(t, &fakeHandler{s: sample.New()})

	c, err := Dial(endpoint, time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer c.Close()

	if err := c.Ping(); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}

func TestGetBeforeFirstCycleForcesNotReady(t *testing.T) {
	s := sample.New()
	s.IsFresh = true
	s.CpuTemperature = 61.5
	h := &fakeHandler{s: s, ready: false}
	endpoint, _ := startTestServer(t, h)

	c, err := Dial(endpoint, time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer c.Close()

	got, err := c.GetSample()
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.IsFresh || got.StaleCount != NotReadyStaleCount {
		t.Errorf("before first cycle: fresh=%v stale=%d; want false/%d",
			got.IsFresh, got.StaleCount, NotReadyStaleCount)
	}
	// Other fields still carry the cached values.
	if got.CpuTemperature != 61.5 {
		t.Errorf("CpuTemperature = %.1f; want 61.5", got.CpuTemperature)
	}

	h.mu.Lock()
	h.ready = true
	h.mu.Unlock()

	got, err = c.GetSample()
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.IsFresh || got.StaleCount != 0 {
		t.Errorf("after first cycle: fresh=%v stale=%d; want true/0", got.IsFresh, got.StaleCount)
	}
}

func TestSetParent(t *testing.T) {
	h := &fakeHandler{s: sample.New()}
	endpoint, _ := startTestServer(t, h)

	c, err := Dial(endpoint, time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer c.Close()

	if err := c.SetParent(1234); err != nil {
		t.Fatalf("set parent failed: %v", err)
	}
	h.mu.Lock()
	parent := h.parent
	h.mu.Unlock()
	if parent != 1234 {
		t.Errorf("registered parent = %d; want 1234", parent)
	}

	if err := c.SetParent(-1); err == nil {
		t.Error("negative pid accepted; want ERROR:INVALID_PID")
	}
}

func TestRawProtocolResponses(t *testing.T) {
	h := &fakeHandler{s: sample.New()}
	endpoint, _ := startTestServer(t, h)

	conn, err := dial(endpoint, time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	reader := bufio.NewReader(conn)

	roundTrip := func(req string) string {
		t.Helper()
		if _, err := conn.Write([]byte(req + "\n")); err != nil {
			t.Fatalf("write %q failed: %v", req, err)
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read after %q failed: %v", req, err)
		}
		return line[:len(line)-1]
	}

	if got := roundTrip("PING"); got != RespPong {
		t.Errorf("PING -> %q; want %q", got, RespPong)
	}
	if got := roundTrip("BOGUS"); got != RespUnknown {
		t.Errorf("BOGUS -> %q; want %q", got, RespUnknown)
	}
	if got := roundTrip("SET_PARENT abc"); got != RespInvalidPid {
		t.Errorf("SET_PARENT abc -> %q; want %q", got, RespInvalidPid)
	}
	if got := roundTrip("SET_PARENT 0"); got != RespInvalidPid {
		t.Errorf("SET_PARENT 0 -> %q; want %q", got, RespInvalidPid)
	}

	h.mu.Lock()
	activity := h.activity
	h.mu.Unlock()
	if activity < 4 {
		t.Errorf("activity notes = %d; want one per request", activity)
	}
}

func TestShutdownRequest(t *testing.T) {
	h := &fakeHandler{s: sample.New()}
	endpoint, _ := startTestServer(t, h)

	c, err := Dial(endpoint, time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer c.Close()

	if err := c.Shutdown(); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		h.mu.Lock()
		n := h.shutdowns
		h.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("shutdown requests = %d; want 1", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReconnectAfterDisconnect(t *testing.T) {
	h := &fakeHandler{s: sample.New()}
	endpoint, _ := startTestServer(t, h)

	c1, err := Dial(endpoint, time.Second)
	if err != nil {
		t.Fatalf("first dial failed: %v", err)
	}
	if err := c1.Ping(); err != nil {
		t.Fatalf("first ping failed: %v", err)
	}
	c1.Close()

	// The accept loop must come back for the next controlling process.
	c2, err := Dial(endpoint, time.Second)
	if err != nil {
		t.Fatalf("second dial failed: %v", err)
	}
	defer c2.Close()
	if err := c2.Ping(); err != nil {
		t.Errorf("second ping failed: %v", err)
	}
}
