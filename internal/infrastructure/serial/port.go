package serial

import (
	"fmt"
	"io"
	"time"

	bugserial "go.bug.st/serial"
)

// Port is the subset of go.bug.st/serial.Port used by the transport.
type Port interface {
	io.ReadWriteCloser
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Opener opens a Port. It is replaced in tests.
type Opener func(name string, baudRate int) (Port, error)

// OpenPort opens a real serial device at 8N1.
func OpenPort(name string, baudRate int) (Port, error) {
	p, err := bugserial.Open(name, &bugserial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   bugserial.NoParity,
		StopBits: bugserial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	return p, nil
}

// ListPorts returns the serial device names present on the system.
func ListPorts() ([]string, error) {
	ports, err := bugserial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	return ports, nil
}
