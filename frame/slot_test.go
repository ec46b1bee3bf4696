package frame

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/fusion/rimage"
)

func makePair(t *testing.T, width, height int, marker rimage.Depth) *Pair {
	t.Helper()
	dm := rimage.NewEmptyDepthMap(width, height)
	dm.Set(0, 0, marker)
	p, err := NewPair(dm, nil, time.Now())
	test.That(t, err, test.ShouldBeNil)
	return p
}

func TestNewPair(t *testing.T) {
	_, err := NewPair(nil, nil, time.Now())
	test.That(t, err, test.ShouldNotBeNil)

	dm := rimage.NewEmptyDepthMap(4, 3)
	_, err = NewPair(dm, rimage.NewImage(3, 3), time.Now())
	test.That(t, errors.Is(err, ErrResolutionMismatch), test.ShouldBeTrue)

	p, err := NewPair(dm, rimage.NewImage(4, 3), time.Now())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.HasColor(), test.ShouldBeTrue)
	test.That(t, p.CheckResolution(4, 3), test.ShouldBeNil)
	test.That(t, p.CheckResolution(0, 0), test.ShouldBeNil)
	test.That(t, errors.Is(p.CheckResolution(640, 480), ErrResolutionMismatch), test.ShouldBeTrue)
}

func TestLatestWins(t *testing.T) {
	slot := NewSlot(4, 4, nil)
	for i := 1; i <= 5; i++ {
		test.That(t, slot.Publish(makePair(t, 4, 4, rimage.Depth(i))), test.ShouldBeNil)
	}

	p, ok := slot.WaitAndTake(context.Background(), time.Second)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, p.Depth.GetDepth(0, 0), test.ShouldEqual, rimage.Depth(5))
	test.That(t, p.Seq, test.ShouldEqual, 5)

	// Nothing else is buffered.
	_, ok = slot.WaitAndTake(context.Background(), 0)
	test.That(t, ok, test.ShouldBeFalse)

	stats := slot.Stats()
	test.That(t, stats.Published, test.ShouldEqual, 5)
	test.That(t, stats.Dropped, test.ShouldEqual, 4)
	test.That(t, stats.Consumed, test.ShouldEqual, 1)
	test.That(t, stats.ConsecutiveDrops, test.ShouldEqual, 0)
	test.That(t, stats.LastConsumedSeq, test.ShouldEqual, 5)
}

func TestWaitTimeoutBounds(t *testing.T) {
	slot := NewSlot(0, 0, nil)
	timeout := 50 * time.Millisecond

	start := time.Now()
	_, ok := slot.WaitAndTake(context.Background(), timeout)
	elapsed := time.Since(start)
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, elapsed, test.ShouldBeGreaterThanOrEqualTo, timeout)
	test.That(t, elapsed, test.ShouldBeLessThan, timeout+40*time.Millisecond)
}

func TestWaitWakesOnPublish(t *testing.T) {
	slot := NewSlot(2, 2, nil)
	go func() {
		time.Sleep(20 * time.Millisecond)
		test.That(t, slot.Publish(makePair(t, 2, 2, 7)), test.ShouldBeNil)
	}()

	start := time.Now()
	p, ok := slot.WaitAndTake(context.Background(), 5*time.Second)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, p.Depth.GetDepth(0, 0), test.ShouldEqual, rimage.Depth(7))
	test.That(t, time.Since(start), test.ShouldBeLessThan, time.Second)
}

func TestStaleWakeupKeepsWaiting(t *testing.T) {
	slot := NewSlot(2, 2, nil)
	test.That(t, slot.Publish(makePair(t, 2, 2, 1)), test.ShouldBeNil)
	// Take through the fast path so the wakeup token is left behind.
	_, ok := slot.WaitAndTake(context.Background(), time.Second)
	test.That(t, ok, test.ShouldBeTrue)

	start := time.Now()
	_, ok = slot.WaitAndTake(context.Background(), 30*time.Millisecond)
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, time.Since(start), test.ShouldBeGreaterThanOrEqualTo, 30*time.Millisecond)
}

func TestCloseInterruptsWait(t *testing.T) {
	slot := NewSlot(2, 2, nil)
	test.That(t, slot.Publish(makePair(t, 2, 2, 1)), test.ShouldBeNil)
	_, ok := slot.WaitAndTake(context.Background(), 0)
	test.That(t, ok, test.ShouldBeTrue)

	result := make(chan time.Duration, 1)
	go func() {
		start := time.Now()
		_, ok := slot.WaitAndTake(context.Background(), 10*time.Second)
		test.That(t, ok, test.ShouldBeFalse)
		result <- time.Since(start)
	}()
	time.Sleep(20 * time.Millisecond)
	slot.Close()

	select {
	case elapsed := <-result:
		test.That(t, elapsed, test.ShouldBeLessThan, time.Second)
	case <-time.After(5 * time.Second):
		t.Fatal("wait was not interrupted by close")
	}
	<-slot.Done()
}

func TestCloseRevokesProducer(t *testing.T) {
	slot := NewSlot(2, 2, nil)
	test.That(t, slot.Publish(makePair(t, 2, 2, 1)), test.ShouldBeNil)
	slot.Close()
	slot.Close()

	// The buffered frame is discarded.
	_, ok := slot.WaitAndTake(context.Background(), time.Second)
	test.That(t, ok, test.ShouldBeFalse)

	err := slot.Publish(makePair(t, 2, 2, 2))
	test.That(t, errors.Is(err, ErrSlotClosed), test.ShouldBeTrue)

	stats := slot.Stats()
	test.That(t, stats.Closed, test.ShouldBeTrue)
	test.That(t, stats.Published, test.ShouldEqual, 1)
	test.That(t, stats.Dropped, test.ShouldEqual, 1)
}

func TestContextInterruptsWait(t *testing.T) {
	slot := NewSlot(0, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, ok := slot.WaitAndTake(ctx, 10*time.Second)
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, time.Since(start), test.ShouldBeLessThan, time.Second)
}

func TestPublishRejectsBadFrames(t *testing.T) {
	slot := NewSlot(4, 4, nil)
	test.That(t, slot.Publish(nil), test.ShouldNotBeNil)
	err := slot.Publish(makePair(t, 2, 2, 1))
	test.That(t, errors.Is(err, ErrResolutionMismatch), test.ShouldBeTrue)
	test.That(t, slot.Stats().Published, test.ShouldEqual, 0)
}

func TestConcurrentProducerNeverBlocks(t *testing.T) {
	slot := NewSlot(2, 2, nil)
	const frames = 500

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= frames; i++ {
			test.That(t, slot.Publish(makePair(t, 2, 2, rimage.Depth(i))), test.ShouldBeNil)
		}
	}()

	var last rimage.Depth
	taken := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		p, ok := slot.WaitAndTake(context.Background(), 10*time.Millisecond)
		if ok {
			// Frames only ever move forward.
			test.That(t, p.Depth.GetDepth(0, 0), test.ShouldBeGreaterThan, last)
			last = p.Depth.GetDepth(0, 0)
			taken++
		}
		select {
		case <-done:
			if _, ok := slot.WaitAndTake(context.Background(), 0); ok {
				taken++
			}
			stats := slot.Stats()
			test.That(t, stats.Published, test.ShouldEqual, frames)
			test.That(t, stats.Consumed, test.ShouldEqual, taken)
			test.That(t, stats.Consumed+stats.Dropped, test.ShouldEqual, frames)
			return
		default:
		}
	}
}
