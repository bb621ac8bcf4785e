package transport

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=transport

import (
	"context"
	"io"
)

// Transport is an established, bidirectional byte stream to a Calypso
// module.
//
// A Transport is assumed to be already connected. Typical implementations
// are a serial port, a TCP connection to the emulator, or an in-memory fake
// used in tests.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport. Once a Transport is obtained the Dialer is no
// longer needed.
type Dialer interface {
	// Dial may block and should respect cancellation and deadlines of ctx.
	Dial(ctx context.Context) (Transport, error)
}
