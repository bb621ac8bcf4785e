// Package emulator serves a software Calypso module over TCP. Every
// connection behaves like the module's UART: it receives AT command lines
// and answers with data, terminator and event lines.
package emulator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/calypso/protocol"
	"github.com/luma/calypso/storage"
)

var (
	ErrSessionClosed = errors.New("emulator: session is closed")
	ErrNotStarted    = errors.New("emulator: server is not started")
)

type Server struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr         string
	reuseport    bool
	numListeners int
	listeners    []*listener

	module    *Module
	store     storage.Store
	ownsStore bool

	log *zap.Logger
}

func New(options Options) (*Server, error) {
	options.setDefaults()

	store, ownsStore := options.Store, false
	if store == nil {
		store, ownsStore = storage.NewInmemoryStore(), true
	}

	log := options.Log.Named("emulator")

	module, err := NewModule(store, options.Networks, options.Silent, log.Named("module"))
	if err != nil {
		return nil, err
	}

	return &Server{
		addr:         net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		reuseport:    options.Reuseport,
		numListeners: options.NumListeners,
		listeners:    make([]*listener, 0, options.NumListeners),
		module:       module,
		store:        store,
		ownsStore:    ownsStore,
		log:          log,
	}, nil
}

// Start opens every listener before it returns, then accepts connections
// in the background until Close is called or ctx is cancelled.
func (s *Server) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	s.cancel = cancel

	s.log.Info("Starting tcp listeners", zap.Int("count", s.numListeners), zap.String("addr", s.addr))

	addr := s.addr
	for i := 0; i < s.numListeners; i++ {
		ln, err := s.listen(addr)
		if err != nil {
			s.Close()
			return fmt.Errorf("emulator: listen on %s: %w", addr, err)
		}

		// with port 0 every listener shares the port picked by the first
		addr = ln.Addr().String()

		s.startListener(ctx, ln)
	}

	return nil
}

func (s *Server) listen(addr string) (net.Listener, error) {
	if s.reuseport {
		return reuseport.Listen("tcp", addr)
	}
	return net.Listen("tcp", addr)
}

// Addr is the address of the first listener.
func (s *Server) Addr() (string, error) {
	if len(s.listeners) == 0 {
		return "", ErrNotStarted
	}
	return s.listeners[0].ln.Addr().String(), nil
}

func (s *Server) Module() *Module { return s.module }

func (s *Server) startListener(ctx context.Context, ln net.Listener) {
	l := &listener{
		ctx:      ctx,
		ln:       ln,
		module:   s.module,
		sessions: make(map[*session]struct{}),
		log:      s.log.Named("listener").With(zap.Int("listener", len(s.listeners))),
	}
	s.listeners = append(s.listeners, l)

	updates, stop := s.store.ListenToUpdates()

	s.stopWaiter.Add(2)
	go func() {
		defer s.stopWaiter.Done()
		defer stop()
		l.broadcast(updates)
	}()

	go func() {
		defer s.stopWaiter.Done()

		if err := l.serve(); err != nil {
			// the remaining listeners keep serving
			l.log.Error("Failed to accept", zap.Error(err))
		}
	}()
}

// Close immediately closes all listeners and sessions.
func (s *Server) Close() (err error) {
	s.log.Info("Stopping emulator")
	if s.cancel != nil {
		s.cancel()
	}

	for _, l := range s.listeners {
		err = multierr.Append(err, l.Close())
	}

	s.stopWaiter.Wait()
	s.log.Info("Listeners stopped")

	if s.ownsStore {
		err = multierr.Append(err, s.store.Close())
	}

	return err
}

type listener struct {
	ctx    context.Context
	ln     net.Listener
	module *Module

	mu       sync.Mutex
	sessions map[*session]struct{}

	log *zap.Logger
}

func (l *listener) serve() error {
	var loopWaiter sync.WaitGroup
	defer loopWaiter.Wait()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || l.ctx.Err() != nil {
				// closed while waiting for new connections
				return nil
			}
			return err
		}

		sess := newSession(l.ctx, conn, l.module, l.log.Named("session"))
		l.addSession(sess)

		loopWaiter.Add(1)
		go func() {
			defer loopWaiter.Done()
			defer l.removeSession(sess)
			sess.Start()
		}()
	}
}

// broadcast writes every store update as an event to every session.
func (l *listener) broadcast(updates <-chan *storage.Update) {
	for {
		select {
		case <-l.ctx.Done():
			return

		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := l.WriteEvent(customEvent(update)); err != nil {
				l.log.Warn("Failed to broadcast update", zap.String("key", update.Key), zap.Error(err))
			}
		}
	}
}

func (l *listener) WriteEvent(line string) (err error) {
	l.mu.Lock()
	sessions := make([]*session, 0, len(l.sessions))
	for sess := range l.sessions {
		sessions = append(sessions, sess)
	}
	l.mu.Unlock()

	for _, sess := range sessions {
		err = multierr.Append(err, protocol.WriteString(sess, line))
	}

	return err
}

func (l *listener) Close() error {
	err := l.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	l.mu.Lock()
	sessions := make([]*session, 0, len(l.sessions))
	for sess := range l.sessions {
		sessions = append(sessions, sess)
	}
	l.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}

	return err
}

func (l *listener) addSession(sess *session) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sessions[sess] = struct{}{}
}

func (l *listener) removeSession(sess *session) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.sessions, sess)
}

// session is one connected host. Replies and broadcast events go through
// a single write queue so their lines never interleave.
type session struct {
	ctx        context.Context
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup

	// stopWatch releases the server shutdown hook
	stopWatch func() bool

	conn   net.Conn
	module *Module

	writeQueue chan []byte

	log *zap.Logger
}

func newSession(parentCtx context.Context, conn net.Conn, module *Module, log *zap.Logger) *session {
	ctx, cancel := context.WithCancel(parentCtx)

	return &session{
		ctx:        ctx,
		cancel:     cancel,
		stopWatch:  context.AfterFunc(parentCtx, func() { conn.Close() }),
		conn:       conn,
		module:     module,
		writeQueue: make(chan []byte, writeQueueSize),
		log:        log.With(zap.String("remote", conn.RemoteAddr().String())),
	}
}

// Close stops both loops. Closing the connection unblocks a pending read.
func (s *session) Close() error {
	s.cancel()
	return s.conn.Close()
}

// Start runs the read and write loops until the host disconnects or the
// session is closed.
func (s *session) Start() {
	s.log.Info("Session started")

	s.loopWaiter.Add(2)

	go func() {
		defer s.loopWaiter.Done()
		defer s.cancel()
		s.ReadLoop()
	}()

	go func() {
		defer s.loopWaiter.Done()
		s.WriteLoop()
	}()

	s.loopWaiter.Wait()
	s.stopWatch()
	s.conn.Close()

	s.log.Info("Session ended")
}

func (s *session) ReadLoop() {
	log := s.log.Named("readLoop")
	reader := bufio.NewReaderSize(s.conn, protocol.MaxLineSize)

	for s.isRunning() {
		req, err := protocol.ReadRequest(reader)
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedLine) || errors.Is(err, protocol.ErrRequestTooShort) {
				log.Debug("Rejecting request", zap.Error(err))
				if err := protocol.WriteError(s, CodeUnknownCommand, "malformed command"); err != nil {
					return
				}
				continue
			}

			if !errors.Is(err, io.EOF) && s.isRunning() {
				log.Warn("Failed to read request", zap.Error(err))
			}
			return
		}

		log.Debug("Request", zap.String("prefix", req.Prefix), zap.String("body", req.Body))

		reply := s.module.Handle(s.ctx, req)
		if err := reply.Write(s); err != nil {
			log.Warn("Failed to reply", zap.String("prefix", req.Prefix), zap.Error(err))
			return
		}
	}
}

func (s *session) WriteLoop() {
	log := s.log.Named("writeLoop")

	for {
		select {
		case <-s.ctx.Done():
			s.drain(log)
			return

		case data := <-s.writeQueue:
			if _, err := s.conn.Write(data); err != nil {
				log.Warn("Failed to write from write queue", zap.Error(err))
				s.cancel()
				return
			}
		}
	}
}

// drain flushes what the read loop queued before it stopped.
func (s *session) drain(log *zap.Logger) {
	for {
		select {
		case data := <-s.writeQueue:
			if _, err := s.conn.Write(data); err != nil {
				log.Debug("Dropping queued lines", zap.Error(err))
				return
			}
		default:
			return
		}
	}
}

// Write queues a copy of data for the write loop.
func (s *session) Write(data []byte) (int, error) {
	select {
	case s.writeQueue <- append([]byte(nil), data...):
		return len(data), nil
	case <-s.ctx.Done():
		return 0, ErrSessionClosed
	}
}

// isRunning returns true if Close has not been called
func (s *session) isRunning() bool {
	select {
	case <-s.ctx.Done():
		return false

	default:
		return true
	}
}
