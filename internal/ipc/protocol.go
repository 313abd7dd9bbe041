// Package ipc implements the line-oriented control channel between the
// telemetry worker and its single controlling process.
package ipc

// Wire protocol: one UTF-8 line per request, one line per response.
const (
	ReqPing      = "PING"
	ReqGet       = "GET"
	ReqSetParent = "SET_PARENT"
	ReqShutdown  = "SHUTDOWN"

	RespPong       = "PONG"
	RespOK         = "OK"
	RespUnknown    = "UNKNOWN"
	RespInvalidPid = "ERROR:INVALID_PID"
)

// NotReadyStaleCount is forced into GET responses before the worker has
// completed its first successful poll cycle.
const NotReadyStaleCount = 999
