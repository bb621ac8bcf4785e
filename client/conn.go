package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/calypso/events"
	"github.com/luma/calypso/protocol"
)

// State of the dispatcher.
type State int

const (
	Idle State = iota
	Awaiting
)

func (s State) String() string {
	if s == Awaiting {
		return "awaiting"
	}
	return "idle"
}

// Stats are cumulative counters of the ingress loop and the dispatcher.
type Stats struct {
	Lines     uint64 `json:"lines"`
	Events    uint64 `json:"events"`
	Noise     uint64 `json:"noise"`
	Overflows uint64 `json:"overflows"`
	Timeouts  uint64 `json:"timeouts"`
	Dropped   uint64 `json:"dropped"`
}

type counters struct {
	lines     atomic.Uint64
	events    atomic.Uint64
	noise     atomic.Uint64
	overflows atomic.Uint64
	timeouts  atomic.Uint64
	dropped   atomic.Uint64
}

type result struct {
	resp *protocol.Response
	err  error
}

// exchange is the single pending command. It is resolved exactly once by
// sending on result, always while holding Conn.mu.
type exchange struct {
	cmd      *protocol.Command
	deadline time.Time
	bodies   []string
	result   chan result
}

// Conn is the dispatcher half of a connection. It writes commands and waits
// for the Ingress to resolve them.
type Conn struct {
	w     io.Writer
	codec protocol.Codec
	opts  Options
	bus   *events.Bus
	stats counters

	mu      sync.Mutex
	pending *exchange
	deadErr error

	// dead will be closed when the connection can no longer be used
	dead     chan struct{}
	deadOnce sync.Once

	now func() time.Time
	log *zap.Logger
}

// Split builds the two halves of a connection over one logical channel. r
// and w may be distinct handles but must reach the same module. The
// returned Ingress must be Run for any Send to complete.
func Split(r io.Reader, w io.Writer, opts Options) (*Ingress, *Conn) {
	opts.setDefaults()

	conn := &Conn{
		w:     w,
		codec: *opts.Codec,
		opts:  opts,
		bus: events.New(events.Options{
			Capacity:       opts.URCCapacity,
			MaxSubscribers: opts.URCSubscribers,
			Policy:         opts.URCPolicy,
			BlockTimeout:   opts.URCBlockTimeout,
		}),
		dead: make(chan struct{}),
		now:  time.Now,
		log:  opts.Log.Named("client"),
	}

	ingress := &Ingress{
		r:     r,
		conn:  conn,
		buf:   make([]byte, 0, opts.IngressBufferSize+1),
		limit: opts.IngressBufferSize,
		log:   opts.Log.Named("ingress"),
	}

	return ingress, conn
}

// Send encodes cmd, writes it and waits for its terminator line. Encoding
// errors are returned before anything is written. While an exchange is in
// flight Send fails with ErrNotReady.
func (c *Conn) Send(ctx context.Context, cmd *protocol.Command) (*protocol.Response, error) {
	if cmd == nil {
		return nil, &protocol.EncodingError{Position: -1, Err: protocol.ErrInvalidPrefix}
	}

	line, err := c.codec.Encode(cmd)
	if err != nil {
		return nil, err
	}

	timeout := cmd.Timeout()
	if timeout <= 0 {
		timeout = c.opts.DefaultTimeout
	}

	// nothing is written for a caller that already gave up
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	ex, err := c.begin(cmd, timeout)
	if err != nil {
		return nil, err
	}

	log := c.log.With(zap.String("prefix", cmd.Prefix()))
	log.Debug("Sending command", zap.ByteString("line", line))

	if _, err := c.w.Write(line); err != nil {
		terr := &TransportError{Op: "write", Err: err}
		c.shutdown(terr)
		return nil, c.collect(ex)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ex.result:
		return r.resp, r.err

	case <-timer.C:
		return c.expire(ex, fmt.Errorf("%w: %s after %s", ErrTimeout, cmd.Prefix(), timeout))

	case <-ctx.Done():
		return c.expire(ex, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err()))
	}
}

// Subscribe registers a consumer of unsolicited events.
func (c *Conn) Subscribe() (*events.Subscription, error) {
	return c.bus.Subscribe()
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != nil {
		return Awaiting
	}
	return Idle
}

func (c *Conn) Stats() Stats {
	return Stats{
		Lines:     c.stats.lines.Load(),
		Events:    c.stats.events.Load(),
		Noise:     c.stats.noise.Load(),
		Overflows: c.stats.overflows.Load(),
		Timeouts:  c.stats.timeouts.Load(),
		Dropped:   c.stats.dropped.Load(),
	}
}

// Done is closed once the connection is unusable.
func (c *Conn) Done() <-chan struct{} {
	return c.dead
}

// Err returns the error that ended the connection, or nil while it is
// usable.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadErr
}

// Close fails any pending exchange and every later Send with ErrClosed. It
// does not close the underlying transport.
func (c *Conn) Close() error {
	c.shutdown(ErrClosed)
	return nil
}

func (c *Conn) begin(cmd *protocol.Command, timeout time.Duration) (*exchange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deadErr != nil {
		return nil, c.deadErr
	}

	if c.pending != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotReady, c.pending.cmd.Prefix())
	}

	c.pending = &exchange{
		cmd:      cmd,
		deadline: c.now().Add(timeout),
		result:   make(chan result, 1),
	}

	return c.pending, nil
}

// expire abandons ex with err unless the ingress resolved it first, in which
// case that result wins.
func (c *Conn) expire(ex *exchange, err error) (*protocol.Response, error) {
	c.mu.Lock()
	if c.pending == ex {
		c.pending = nil
		c.mu.Unlock()

		if errors.Is(err, ErrTimeout) {
			c.stats.timeouts.Inc()
		}
		c.log.Debug("Exchange abandoned", zap.String("prefix", ex.cmd.Prefix()), zap.Error(err))
		return nil, err
	}
	c.mu.Unlock()

	r := <-ex.result
	return r.resp, r.err
}

func (c *Conn) collect(ex *exchange) error {
	r := <-ex.result
	return r.err
}

// resolve must be called with c.mu held.
func (c *Conn) resolve(ex *exchange, resp *protocol.Response, err error) {
	if c.pending == ex {
		c.pending = nil
	}
	ex.result <- result{resp: resp, err: err}
}

// offer hands a line to the pending exchange. It returns true if the line
// was consumed. A line arriving after the deadline times the exchange out
// and is left for the event classifier.
func (c *Conn) offer(raw string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ex := c.pending
	if ex == nil {
		return false
	}

	if c.now().After(ex.deadline) {
		c.stats.timeouts.Inc()
		c.resolve(ex, nil, fmt.Errorf("%w: %s", ErrTimeout, ex.cmd.Prefix()))
		return false
	}

	line := protocol.ParseLine(raw)

	switch line.Class {
	case protocol.LineSuccess:
		resp, err := c.codec.DecodeResponse(ex.cmd.Response(), ex.bodies)
		c.resolve(ex, resp, err)
		return true

	case protocol.LineError:
		merr, err := protocol.ParseModuleError(line)
		if err != nil {
			c.resolve(ex, nil, &FramingError{Err: err})
			return true
		}
		c.resolve(ex, nil, merr)
		return true

	case protocol.LineData:
		if schema := ex.cmd.Response(); schema != nil && line.Token == schema.Token {
			ex.bodies = append(ex.bodies, line.Body)
			return true
		}
	}

	return false
}

// fail resolves the pending exchange, if any, with err.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != nil {
		c.resolve(c.pending, nil, err)
	}
}

func (c *Conn) publish(ev protocol.Event) {
	c.stats.events.Inc()

	err := c.bus.Publish(ev)
	if err == nil || errors.Is(err, events.ErrClosed) {
		return
	}

	dropped := multierr.Errors(err)
	c.stats.dropped.Add(uint64(len(dropped)))
	c.log.Debug("Event dropped",
		zap.Stringer("kind", ev.Kind),
		zap.Int("subscribers", len(dropped)),
		zap.Stringer("policy", c.bus.Policy()),
	)
}

// shutdown marks the connection dead. The first error wins.
func (c *Conn) shutdown(err error) {
	c.deadOnce.Do(func() {
		c.mu.Lock()
		c.deadErr = err
		if c.pending != nil {
			c.resolve(c.pending, nil, err)
		}
		c.mu.Unlock()

		close(c.dead)
		c.bus.Close()

		if !errors.Is(err, ErrClosed) {
			c.log.Warn("Connection failed", zap.Error(err))
		}
	})
}
