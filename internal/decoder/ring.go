package decoder

import (
	"sync"
	"time"
)

// ring is a bounded packet queue measured in bytes. Pop is gated until the
// received-packet counter reaches threshold or input is marked done.
type ring struct {
	mu   sync.Mutex
	cond *sync.Cond

	packets  [][]byte
	size     int
	capacity int

	threshold int
	received  int
	done      bool
	stopped   bool
}

func newRing(capacity int, threshold int) *ring {
	r := &ring{capacity: capacity, threshold: threshold}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// push enqueues packet, waiting up to timeout for room. It reports whether
// the packet was accepted.
func (r *ring) push(packet []byte, timeout time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(packet) > r.capacity {
		return false
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
		timer := time.AfterFunc(timeout, func() {
			r.mu.Lock()
			r.cond.Broadcast()
			r.mu.Unlock()
		})
		defer timer.Stop()
	}

	for r.size+len(packet) > r.capacity && !r.stopped && !r.done {
		if timeout <= 0 || !time.Now().Before(deadline) {
			return false
		}
		r.cond.Wait()
	}
	if r.stopped || r.done {
		return false
	}

	r.packets = append(r.packets, packet)
	r.size += len(packet)
	r.received++
	r.cond.Broadcast()
	return true
}

// pop blocks until a packet may be played. ok is false once the ring is
// stopped, or drained after markDone.
func (r *ring) pop() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if r.stopped {
			return nil, false
		}
		if len(r.packets) > 0 && r.gateOpen() {
			packet := r.packets[0]
			r.packets[0] = nil
			r.packets = r.packets[1:]
			r.size -= len(packet)
			r.cond.Broadcast()
			return packet, true
		}
		if r.done && len(r.packets) == 0 {
			return nil, false
		}
		r.cond.Wait()
	}
}

// gateOpen reports whether playback may start. Caller holds mu.
func (r *ring) gateOpen() bool {
	return r.threshold <= 0 || r.received >= r.threshold || r.done
}

func (r *ring) markDone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = true
	r.cond.Broadcast()
}

// stop discards every buffered packet and releases all waiters.
func (r *ring) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	r.packets = nil
	r.size = 0
	r.cond.Broadcast()
}

func (r *ring) setThreshold(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threshold = n
	r.cond.Broadcast()
}

func (r *ring) stats() (buffered int, received int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size, r.received
}
