package modem

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

var (
	// ErrNoDialer is returned when a driver component is constructed
	// without a Dialer.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrPortBusy is returned when a port is already owned by another
	// operation.
	ErrPortBusy = errors.New("port busy")

	// ErrNotListening is returned when pause or resume targets a port
	// without an active listener.
	ErrNotListening = errors.New("port not listening")
)

// Transport is an established bidirectional byte stream to a modem.
// Implementations include real serial ports and scripted in-memory fakes
// used by tests. Reads are expected to time out (returning n == 0 and a nil
// error) rather than block forever, so callers can poll for pending bytes.
type Transport interface {
	io.ReadWriteCloser

	// ResetBuffers discards unread input and unsent output.
	ResetBuffers() error

	// SetReadTimeout bounds how long a single Read may block.
	SetReadTimeout(d time.Duration) error
}

// Dialer opens a Transport to the modem on a named port.
type Dialer interface {
	Dial(portName string, baudRate int) (Transport, error)
}

// Port configuration shared by every open: 8-N-1 framing, DTR and RTS
// asserted, pollInterval between pending-byte reads.
const (
	listenReadTimeout = 1500 * time.Millisecond
	pollInterval      = 50 * time.Millisecond
	settleDelay       = 300 * time.Millisecond
)

// SerialDialer opens real serial ports via go.bug.st/serial.
type SerialDialer struct{}

// Dial opens portName at baudRate with 8-N-1 framing and both control lines
// asserted.
func (SerialDialer) Dial(portName string, baudRate int) (Transport, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", portName, err)
	}
	if err := port.SetDTR(true); err != nil {
		port.Close()
		return nil, fmt.Errorf("set DTR on %s: %w", portName, err)
	}
	if err := port.SetRTS(true); err != nil {
		port.Close()
		return nil, fmt.Errorf("set RTS on %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(listenReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", portName, err)
	}
	return &serialTransport{port: port}, nil
}

type serialTransport struct {
	port serial.Port
}

func (t *serialTransport) Read(p []byte) (int, error)  { return t.port.Read(p) }
func (t *serialTransport) Write(p []byte) (int, error) { return t.port.Write(p) }
func (t *serialTransport) Close() error                { return t.port.Close() }

func (t *serialTransport) ResetBuffers() error {
	if err := t.port.ResetInputBuffer(); err != nil {
		return err
	}
	return t.port.ResetOutputBuffer()
}

func (t *serialTransport) SetReadTimeout(d time.Duration) error {
	return t.port.SetReadTimeout(d)
}

// ListPorts enumerates serial ports in OS order.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	return ports, nil
}

// PortLister abstracts port enumeration so the scanner can be tested
// without hardware.
type PortLister func() ([]string, error)
