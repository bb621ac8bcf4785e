package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

var ErrAddrRequired = errors.New("transport: tcp address is required")

// TCPDialer connects to a module exposed over TCP, such as the emulator or
// a serial to network bridge.
type TCPDialer struct {
	Addr    string
	Timeout time.Duration
}

func (d TCPDialer) Dial(ctx context.Context) (Transport, error) {
	if d.Addr == "" {
		return nil, ErrAddrRequired
	}

	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.Addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", d.Addr, err)
	}

	return conn, nil
}

var _ Dialer = TCPDialer{}
