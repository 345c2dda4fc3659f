package transport

import (
	"errors"
	"fmt"
)

// ConnectKind classifies why a connection attempt failed.
type ConnectKind int

const (
	// ConnectUnreachable means the endpoint could not be reached.
	ConnectUnreachable ConnectKind = iota

	// ConnectRejected means the endpoint refused the session, typically a
	// failed auth handshake. Not retried by the reconnect loop.
	ConnectRejected

	// ConnectTimeout means the attempt did not complete in time.
	ConnectTimeout
)

func (k ConnectKind) String() string {
	switch k {
	case ConnectUnreachable:
		return "unreachable"
	case ConnectRejected:
		return "rejected"
	case ConnectTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ConnectError is returned when establishing a session fails.
type ConnectError struct {
	Kind ConnectKind
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connect failed: %s", e.Kind)
	}
	return fmt.Sprintf("connect failed (%s): %v", e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

var (
	// ErrNotConnected is returned by Send while the session is not in the
	// Connected state. Callers fail fast rather than queueing.
	ErrNotConnected = errors.New("session not connected")

	// ErrReplyTimeout is returned when the console does not answer a
	// request within the reply timeout.
	ErrReplyTimeout = errors.New("timeout awaiting reply")

	// ErrConnectionClosed is returned when the underlying connection goes
	// away while a request is in flight.
	ErrConnectionClosed = errors.New("connection closed")
)

// SendError wraps a failure to deliver one operation. The send is never
// retried by the transport; recovery is the reconnect loop's job.
type SendError struct {
	Path string
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %q failed: %v", e.Path, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
