package lib

import (
	"container/heap"
	"sync"
	"time"
)

// VirtualClock is a logical clock advanced explicitly by the caller. All
// timer-driven behavior (retransmission deadlines, TIME-WAIT expiry, channel
// delivery) is scheduled against it, which makes timing deterministic: a
// deadline fires only inside Advance, never concurrently with a Deliver.
type VirtualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers deadlineHeap
	nextID uint64
}

// Deadline is a scheduled callback. It fires at most once; Cancel before
// firing guarantees it never runs.
type Deadline struct {
	clock     *VirtualClock
	at        time.Time
	id        uint64 // schedule order, breaks ties between equal deadlines
	fire      func()
	index     int // heap index, -1 once removed
	cancelled bool
	fired     bool
}

// NewVirtualClock creates a clock starting at an arbitrary fixed epoch.
func NewVirtualClock() *VirtualClock {
	return &VirtualClock{now: time.Unix(0, 0)}
}

// Now returns the current virtual time.
func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Schedule registers fn to run d from now. The returned Deadline can be
// cancelled until it fires.
func (c *VirtualClock) Schedule(d time.Duration, fn func()) *Deadline {
	c.mu.Lock()
	defer c.mu.Unlock()
	dl := &Deadline{
		clock: c,
		at:    c.now.Add(d),
		id:    c.nextID,
		fire:  fn,
	}
	c.nextID++
	heap.Push(&c.timers, dl)
	return dl
}

// Cancel marks the deadline dead. It is a no-op if the deadline already
// fired. Because firing only happens inside Advance on the caller's
// goroutine, cancellation is race-free: an acknowledgment processed before
// Advance reaches the deadline always wins.
func (d *Deadline) Cancel() {
	d.clock.mu.Lock()
	defer d.clock.mu.Unlock()
	d.cancelled = true
}

// Fired reports whether the deadline has already run.
func (d *Deadline) Fired() bool {
	d.clock.mu.Lock()
	defer d.clock.mu.Unlock()
	return d.fired
}

// When returns the absolute virtual time the deadline is set for.
func (d *Deadline) When() time.Time {
	return d.at
}

// Advance moves the clock forward by step, firing every due deadline in
// timestamp order (schedule order between equal timestamps).
func (c *VirtualClock) Advance(step time.Duration) {
	c.mu.Lock()
	target := c.now.Add(step)
	for {
		due := c.popDueLocked(target)
		if due == nil {
			break
		}
		// release the lock while the callback runs so that it may
		// schedule or cancel other deadlines
		c.mu.Unlock()
		due.fire()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// popDueLocked removes and returns the next live deadline at or before
// target, advancing c.now to its timestamp. Returns nil when none is due.
func (c *VirtualClock) popDueLocked(target time.Time) *Deadline {
	for c.timers.Len() > 0 {
		next := c.timers[0]
		if next.at.After(target) {
			return nil
		}
		heap.Pop(&c.timers)
		if next.cancelled {
			continue
		}
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		return next
	}
	return nil
}

// deadlineHeap orders deadlines by time, then schedule order.
type deadlineHeap []*Deadline

func (h deadlineHeap) Len() int { return len(h) }

func (h deadlineHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].id < h[j].id
	}
	return h[i].at.Before(h[j].at)
}

func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x interface{}) {
	dl := x.(*Deadline)
	dl.index = len(*h)
	*h = append(*h, dl)
}

func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	dl := old[n-1]
	old[n-1] = nil
	dl.index = -1
	*h = old[:n-1]
	return dl
}
