package events

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/luma/calypso/protocol"
)

const (
	DefaultCapacity       = 128
	DefaultMaxSubscribers = 3
	DefaultBlockTimeout   = 50 * time.Millisecond
)

var (
	ErrClosed             = errors.New("event bus is closed")
	ErrTooManySubscribers = errors.New("event bus has no free subscriber slot")
	ErrDropped            = errors.New("event dropped")
	ErrUnknownPolicy      = errors.New("unknown overflow policy")
)

// Policy decides what Publish does when a subscriber queue is full.
type Policy int

const (
	// DropOldest evicts the oldest queued event to make room
	DropOldest Policy = iota
	// DropNewest discards the event being published
	DropNewest
	// Block waits for room, at most BlockTimeout, then drops the new event
	Block
)

func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	case Block:
		return "block"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy accepts the names returned by Policy.String.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop-oldest", "oldest":
		return DropOldest, nil
	case "drop-newest", "newest":
		return DropNewest, nil
	case "block":
		return Block, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

type Options struct {
	// Capacity is the queue length of every subscription
	Capacity int

	MaxSubscribers int
	Policy         Policy

	// BlockTimeout bounds how long Publish waits under the Block policy
	BlockTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.Capacity <= 0 {
		o.Capacity = DefaultCapacity
	}
	if o.MaxSubscribers <= 0 {
		o.MaxSubscribers = DefaultMaxSubscribers
	}
	if o.BlockTimeout <= 0 {
		o.BlockTimeout = DefaultBlockTimeout
	}
}

// Bus fans events out to a bounded number of subscribers, each with its own
// bounded queue. Publish never waits longer than the block timeout.
type Bus struct {
	opts Options

	mu     sync.Mutex
	subs   []*Subscription
	nextID int

	// stop will be closed when Close() is called
	stop     chan struct{}
	stopOnce sync.Once
}

func New(opts Options) *Bus {
	opts.setDefaults()

	return &Bus{
		opts: opts,
		subs: make([]*Subscription, 0, opts.MaxSubscribers),
		stop: make(chan struct{}),
	}
}

func (b *Bus) Policy() Policy { return b.opts.Policy }

// Subscribe registers a new consumer. It fails once MaxSubscribers are
// registered.
func (b *Bus) Subscribe() (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.isRunning() {
		return nil, ErrClosed
	}

	if len(b.subs) >= b.opts.MaxSubscribers {
		return nil, fmt.Errorf("%w: limit %d", ErrTooManySubscribers, b.opts.MaxSubscribers)
	}

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		bus:    b,
		events: make(chan protocol.Event, b.opts.Capacity),
	}
	b.subs = append(b.subs, sub)

	return sub, nil
}

// Subscribers returns the number of registered subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers ev to every subscriber. Drops are reported as one
// error per affected subscriber, combined with multierr.
func (b *Bus) Publish(ev protocol.Event) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.isRunning() {
		return ErrClosed
	}

	for _, sub := range b.subs {
		if !b.deliver(sub, ev) {
			if !b.isRunning() {
				return ErrClosed
			}
			sub.dropped.Inc()
			err = multierr.Append(err, fmt.Errorf("subscriber %d: %w", sub.id, ErrDropped))
		}
	}

	return err
}

// deliver returns false if an event was lost. Callers hold b.mu, so this is
// the only producer for sub.events.
func (b *Bus) deliver(sub *Subscription, ev protocol.Event) bool {
	select {
	case sub.events <- ev:
		return true
	default:
	}

	switch b.opts.Policy {
	case DropNewest:
		return false

	case Block:
		timer := time.NewTimer(b.opts.BlockTimeout)
		defer timer.Stop()

		select {
		case sub.events <- ev:
			return true
		case <-timer.C:
			return false
		case <-b.stop:
			return false
		}

	default:
		select {
		case <-sub.events:
		default:
		}

		select {
		case sub.events <- ev:
		default:
		}

		// the oldest event was evicted either way
		return false
	}
}

// Close closes every subscription channel. It is safe to call more than once.
// A Publish blocked on a full queue gives up as soon as Close is called.
func (b *Bus) Close() error {
	// stop is closed before taking mu, which a blocked Publish holds
	b.stopOnce.Do(func() { close(b.stop) })

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		sub.closeChan()
	}
	b.subs = nil

	return nil
}

// isRunning returns true if Close has not been called
func (b *Bus) isRunning() bool {
	select {
	case <-b.stop:
		return false

	default:
		return true
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	sub.closeChan()
}

// Subscription is one consumer's queue.
type Subscription struct {
	id     int
	bus    *Bus
	events chan protocol.Event

	dropped atomic.Uint64
	once    sync.Once
}

func (s *Subscription) ID() int { return s.id }

// Events is closed when the subscription or the bus is closed.
func (s *Subscription) Events() <-chan protocol.Event {
	return s.events
}

// Dropped counts events this subscriber lost to the overflow policy.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close releases the subscriber slot.
func (s *Subscription) Close() error {
	s.bus.remove(s)
	return nil
}

func (s *Subscription) closeChan() {
	s.once.Do(func() { close(s.events) })
}
