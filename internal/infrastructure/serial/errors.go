package serial

import "errors"

// Sentinel errors for the serial transport.
var (
	// ErrNotConnected is returned by Send while no port is open.
	ErrNotConnected = errors.New("serial: not connected")

	// ErrQueueFull is returned by Send when the writer cannot keep up.
	ErrQueueFull = errors.New("serial: write queue full")

	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("serial: transport closed")

	// ErrNoPort is returned by New when no device path is configured.
	ErrNoPort = errors.New("serial: port is required")
)
