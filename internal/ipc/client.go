package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"fancontrol/internal/sample"
)

const defaultRequestTimeout = 5 * time.Second

// Client is the controlling process's connection to the worker. Safe for
// concurrent use; requests are serialized over the single stream.
type Client struct {
	endpoint string

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to the worker's endpoint.
func Dial(endpoint string, timeout time.Duration) (*Client, error) {
	conn, err := dial(endpoint, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to worker: %w", err)
	}
	return &Client{
		endpoint: endpoint,
		conn:     conn,
		reader:   bufio.NewReader(conn),
	}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) roundTrip(req string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return "", fmt.Errorf("client closed")
	}

	deadline := time.Now().Add(defaultRequestTimeout)
	c.conn.SetDeadline(deadline)

	if _, err := c.conn.Write(append([]byte(req), '\n')); err != nil {
		return "", fmt.Errorf("ipc write: %w", err)
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("ipc read: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Ping checks worker liveness.
func (c *Client) Ping() error {
	resp, err := c.roundTrip(ReqPing)
	if err != nil {
		return err
	}
	if resp != RespPong {
		return fmt.Errorf("unexpected ping response %q", resp)
	}
	return nil
}

// GetSample fetches the worker's current telemetry snapshot.
func (c *Client) GetSample() (*sample.Sample, error) {
	resp, err := c.roundTrip(ReqGet)
	if err != nil {
		return nil, err
	}
	s := sample.New()
	if err := json.Unmarshal([]byte(resp), s); err != nil {
		return nil, fmt.Errorf("failed to parse sample: %w", err)
	}
	return s, nil
}

// SetParent registers pid as the worker's controlling process.
func (c *Client) SetParent(pid int) error {
	resp, err := c.roundTrip(fmt.Sprintf("%s %d", ReqSetParent, pid))
	if err != nil {
		return err
	}
	if resp != RespOK {
		return fmt.Errorf("set parent rejected: %s", resp)
	}
	return nil
}

// Shutdown requests graceful worker termination.
func (c *Client) Shutdown() error {
	resp, err := c.roundTrip(ReqShutdown)
	if err != nil {
		return err
	}
	if resp != RespOK {
		return fmt.Errorf("unexpected shutdown response %q", resp)
	}
	return nil
}
