package frame

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// ErrSlotClosed is returned by Publish once the slot has been closed.
var ErrSlotClosed = errors.New("frame slot is closed")

// Stats are the lifetime counters of a Slot.
type Stats struct {
	Published uint64
	Consumed  uint64
	// Dropped counts frames that were replaced before the consumer took them.
	Dropped uint64
	// ConsecutiveDrops is the current streak of replaced frames; it resets on every take.
	ConsecutiveDrops uint64
	LastConsumedSeq  uint64
	Closed           bool
}

// Slot is a single-frame mailbox between a producer that must never block and one consumer.
// Publishing over an unconsumed frame replaces it: the consumer always sees the newest frame and
// never a queue of stale ones.
type Slot struct {
	width, height int
	clock         clock.Clock

	mu               sync.Mutex
	pending          *Pair
	seq              uint64
	lastConsumedSeq  uint64
	consecutiveDrops uint64
	closed           bool

	// ready holds at most one wakeup token. A token may be stale if the consumer took the frame
	// without waiting; waiters re-check pending after every wakeup.
	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	published atomic.Uint64
	consumed  atomic.Uint64
	dropped   atomic.Uint64
}

// NewSlot returns an open slot that accepts frames of width x height. A zero size accepts any
// resolution. A nil clock means the wall clock.
func NewSlot(width, height int, clk clock.Clock) *Slot {
	if clk == nil {
		clk = clock.New()
	}
	return &Slot{
		width:  width,
		height: height,
		clock:  clk,
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Publish stores p as the latest frame, replacing any frame the consumer has not taken yet, and
// wakes a waiting consumer. It never blocks on the consumer. After Close it returns
// ErrSlotClosed and discards p.
func (s *Slot) Publish(p *Pair) error {
	if p == nil {
		return errors.New("cannot publish a nil frame")
	}
	if err := p.CheckResolution(s.width, s.height); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSlotClosed
	}
	if s.pending != nil {
		s.consecutiveDrops++
		s.dropped.Inc()
	}
	s.seq++
	p.Seq = s.seq
	s.pending = p
	s.published.Inc()
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return nil
}

// WaitAndTake waits up to timeout for a frame and takes it out of the slot. It returns false if
// the timeout elapsed with no frame, or immediately once ctx is done or the slot is closed. A
// non-positive timeout only checks for a frame already waiting.
func (s *Slot) WaitAndTake(ctx context.Context, timeout time.Duration) (*Pair, bool) {
	if p, ok := s.take(); ok {
		return p, true
	}
	if timeout <= 0 {
		return nil, false
	}

	timer := s.clock.Timer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-s.done:
			return nil, false
		case <-timer.C:
			// A publish racing with the deadline still counts.
			return s.take()
		case <-s.ready:
			if p, ok := s.take(); ok {
				return p, true
			}
		}
	}
}

func (s *Slot) take() (*Pair, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pending == nil {
		return nil, false
	}
	p := s.pending
	s.pending = nil
	s.lastConsumedSeq = p.Seq
	s.consecutiveDrops = 0
	s.consumed.Inc()
	return p, true
}

// Close revokes the producer and discards the buffered frame. A waiting consumer returns at once.
// It is idempotent.
func (s *Slot) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		if s.pending != nil {
			s.dropped.Inc()
		}
		s.pending = nil
		s.mu.Unlock()
		close(s.done)
	})
}

// Done is closed when the slot is closed.
func (s *Slot) Done() <-chan struct{} {
	return s.done
}

// Stats returns a snapshot of the slot counters.
func (s *Slot) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Published:        s.published.Load(),
		Consumed:         s.consumed.Load(),
		Dropped:          s.dropped.Load(),
		ConsecutiveDrops: s.consecutiveDrops,
		LastConsumedSeq:  s.lastConsumedSeq,
		Closed:           s.closed,
	}
}
