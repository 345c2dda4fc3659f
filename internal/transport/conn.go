// Package transport manages the logical connection to a mixer-control
// endpoint: connect, disconnect, reconnect with bounded backoff, and a
// serialized operation channel toward the console.
package transport

import (
	"context"
	"fmt"
)

// Operation is one value write against a console path.
type Operation struct {
	Path  string
	Value any
}

// Ack is the console's confirmation of an operation, carrying the value
// as confirmed by the console.
type Ack struct {
	Path  string
	Value any
}

// Update is a raw value-change notification received from the console.
type Update struct {
	Path  string
	Value any
}

// MessageError is the "error" field in a message received from the API.
type MessageError struct {
	Code    int    `mapstructure:"code"`
	Message string `mapstructure:"message"`
}

func (e MessageError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Code, e.Message)
}

// Message is an unmarshalled message received from the console.
type Message struct {
	MsgID   string       `mapstructure:"msgID"`
	Method  string       `mapstructure:"method"`
	Path    string       `mapstructure:"path"`
	Payload any          `mapstructure:"payload"`
	Success bool         `mapstructure:"success"`
	Error   MessageError `mapstructure:"error"`
}

// Conn is one established wire connection to the console.
//
// Updates delivers raw value-change notifications; the channel is closed
// when the connection is lost, which is how the Session learns about it.
type Conn interface {
	Request(ctx context.Context, req Request) (Message, error)
	Updates() <-chan Update
	Close() error
}

// Dialer establishes Conns. The production implementation is
// WebSocketDialer; tests substitute fakes.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}
