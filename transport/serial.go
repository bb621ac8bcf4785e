package transport

import (
	"context"
	"errors"
	"fmt"

	"go.bug.st/serial"
)

const DefaultBaudRate = 921600

var (
	ErrPortNameRequired = errors.New("transport: serial port name is required")
	ErrNilContext       = errors.New("transport: context is nil")
)

// DefaultMode is the module's factory UART setting, 921600 8E1.
func DefaultMode() *serial.Mode {
	return &serial.Mode{
		BaudRate: DefaultBaudRate,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	}
}

// SerialDialer opens the module's UART with go.bug.st/serial.
type SerialDialer struct {
	PortName string

	// BaudRate overrides the baud rate of Mode when non zero
	BaudRate int

	// Mode defaults to DefaultMode when nil
	Mode *serial.Mode
}

func (d SerialDialer) mode() *serial.Mode {
	mode := DefaultMode()
	if d.Mode != nil {
		m := *d.Mode
		mode = &m
	}
	if d.BaudRate > 0 {
		mode.BaudRate = d.BaudRate
	}
	return mode
}

//nolint:staticcheck // a nil context is reported rather than dereferenced
func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	if d.PortName == "" {
		return nil, ErrPortNameRequired
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	port, err := serial.Open(d.PortName, d.mode())
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", d.PortName, err)
	}

	return port, nil
}

// Ports lists the serial ports present on the host.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}

var _ Dialer = SerialDialer{}
