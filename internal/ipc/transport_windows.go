//go:build windows

package ipc

import (
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

const pipePrefix = `\\.\pipe\`

// listen binds a named pipe. The default pipe security descriptor limits
// access to the creating user's session.
func listen(endpoint string) (net.Listener, error) {
	return winio.ListenPipe(pipePrefix+endpoint, nil)
}

func dial(endpoint string, timeout time.Duration) (net.Conn, error) {
	return winio.DialPipe(pipePrefix+endpoint, &timeout)
}
