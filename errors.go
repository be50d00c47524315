package modbus

import (
	"errors"
	"fmt"
)

var (
	// ErrNotOpen is returned by Write on a port that is not open.
	ErrNotOpen = errors.New("port is not open")
	// ErrFrameTooShort is returned by Write when the buffer cannot hold
	// SlaveID, FuncCode and the two reserved trailing bytes.
	ErrFrameTooShort = errors.New("frame too short")
	// ErrNotConnected is returned by a transporter used before Connect.
	ErrNotConnected = errors.New("transporter is not connected")
	// ErrResponseTimeout is reported by the poller when no frame arrived in time.
	ErrResponseTimeout = errors.New("response timeout")
	// ErrBridgeClosed is returned by Serve after Close.
	ErrBridgeClosed = errors.New("bridge closed")
)

// ConnectionError is returned by Open when the transport cannot be established.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
