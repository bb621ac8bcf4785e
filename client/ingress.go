package client

import (
	"bytes"
	"context"
	"io"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/luma/calypso/protocol"
)

const readChunkSize = 256

// Ingress reads the module's byte stream, splits it into lines and routes
// every line exactly once: to the pending exchange, to the event bus, or
// to the noise counter.
type Ingress struct {
	r    io.Reader
	conn *Conn

	// buf holds one partial line of at most limit bytes plus its CR
	buf        []byte
	limit      int
	discarding bool

	running atomic.Bool
	log     *zap.Logger
}

// Run reads until the transport fails, the connection is closed or ctx is
// cancelled. A transport failure is returned as a *TransportError and fails
// the connection. Cancelling ctx closes the connection but cannot interrupt
// a blocked read, so callers should also close the transport.
func (i *Ingress) Run(ctx context.Context) error {
	if !i.running.CAS(false, true) {
		return ErrIngressRunning
	}

	errc := make(chan error, 1)
	go func() {
		errc <- i.readLoop()
	}()

	select {
	case err := <-errc:
		terr := &TransportError{Op: "read", Err: err}
		i.conn.shutdown(terr)
		return terr

	case <-i.conn.dead:
		return i.conn.Err()

	case <-ctx.Done():
		i.log.Info("Context cancelled, exiting...")
		i.conn.shutdown(ErrClosed)
		return ctx.Err()
	}
}

func (i *Ingress) readLoop() error {
	chunk := make([]byte, readChunkSize)

	for {
		n, err := i.r.Read(chunk)
		if n > 0 {
			i.feed(chunk[:n])
		}

		if err != nil {
			if err == io.EOF {
				i.log.Info("Transport closed")
			} else {
				i.log.Warn("Failed to read from transport", zap.Error(err))
			}
			return err
		}

		select {
		case <-i.conn.dead:
			return ErrClosed
		default:
		}
	}
}

// feed appends data to the line buffer and dispatches every complete line.
// A line that outgrows the buffer is reported once and then skipped up to
// its line feed.
func (i *Ingress) feed(data []byte) {
	for len(data) > 0 {
		idx := bytes.IndexByte(data, '\n')

		if idx < 0 {
			if i.discarding {
				return
			}
			if i.lineSize(data) > i.limit {
				i.overflow(len(i.buf) + len(data))
				i.discarding = true
				return
			}
			i.buf = append(i.buf, data...)
			return
		}

		part := data[:idx]
		data = data[idx+1:]

		if i.discarding {
			i.discarding = false
			continue
		}

		if i.lineSize(part) > i.limit {
			i.overflow(len(i.buf) + len(part))
			continue
		}

		i.buf = append(i.buf, part...)
		line := string(protocol.RemoveTrailingCR(i.buf))
		i.buf = i.buf[:0]

		i.dispatch(line)
	}
}

// lineSize is the length of the buffered line extended by tail, not
// counting a trailing CR.
func (i *Ingress) lineSize(tail []byte) int {
	n := len(i.buf) + len(tail)

	last := tail
	if len(last) == 0 {
		last = i.buf
	}
	if len(last) > 0 && last[len(last)-1] == '\r' {
		n--
	}
	return n
}

func (i *Ingress) overflow(size int) {
	i.buf = i.buf[:0]
	i.conn.stats.overflows.Inc()

	i.log.Warn("Line exceeds ingress buffer, discarding",
		zap.Int("size", size),
		zap.Int("limit", i.limit),
	)

	i.conn.fail(&FramingError{Size: size, Limit: i.limit, Err: ErrLineOverflow})
}

func (i *Ingress) dispatch(line string) {
	if line == "" {
		return
	}
	i.conn.stats.lines.Inc()

	if i.conn.offer(line) {
		return
	}

	if ev, ok := protocol.ClassifyEvent(line); ok {
		i.conn.publish(ev)
		return
	}

	i.conn.stats.noise.Inc()
	i.log.Debug("Discarding unrecognised line", zap.String("line", line))
}
