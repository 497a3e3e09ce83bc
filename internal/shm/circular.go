// Package shm implements the buffer substrate that readers use to hand
// bytes from producer workers to a consumer without copying: a
// CircularBuffer and an indexed BufferArray.
//
// The original implementation backs these with POSIX shared memory so
// that separate OS processes can address the same bytes (CPython's GIL
// rules out real thread parallelism). Go has true parallel goroutines,
// so blobfetch keeps the identical producer/consumer coordinate
// protocol but backs it with a plain heap []byte and atomic int64
// coordinates instead of a shared-memory segment — see SPEC_FULL.md §4.2
// and §9 for the rationale. Every invariant (single producer advances
// stop, single consumer advances start, 0 <= stop-start <= capacity,
// the -1 close sentinel, wrap-at-capacity splitting) is unchanged.
package shm

import (
	"fmt"
	"sync/atomic"
)

// Closed is the sentinel value for start that signals the consumer has
// terminated and the producer must stop.
const Closed = -1

// CircularBuffer is a single-producer/single-consumer ring buffer.
// Producer and consumer each advance their own coordinate
// (stop and start respectively); both coordinates only ever increase
// (modulo capacity for addressing), so no locking is required beyond
// the atomicity of the coordinate stores themselves.
type CircularBuffer struct {
	buf      []byte
	capacity int64
	start    atomic.Int64
	stop     atomic.Int64
}

// NewCircularBuffer allocates a buffer of the given capacity in bytes.
func NewCircularBuffer(capacity int64) (*CircularBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("shm: circular buffer capacity must be > 0")
	}
	return &CircularBuffer{
		buf:      make([]byte, capacity),
		capacity: capacity,
	}, nil
}

// Capacity returns the buffer's size in bytes.
func (c *CircularBuffer) Capacity() int64 { return c.capacity }

// Start returns the consumer's current coordinate.
func (c *CircularBuffer) Start() int64 { return c.start.Load() }

// SetStart advances the consumer's coordinate. Pass Closed to signal
// producer shutdown.
func (c *CircularBuffer) SetStart(v int64) { c.start.Store(v) }

// Stop returns the producer's current coordinate.
func (c *CircularBuffer) Stop() int64 { return c.stop.Load() }

// SetStop advances the producer's coordinate.
func (c *CircularBuffer) SetStop(v int64) { c.stop.Store(v) }

// circularCoords maps a logical [a, b) slice to physical offsets,
// reporting whether the slice wraps around the end of the backing
// array.
func (c *CircularBuffer) circularCoords(a, b int64) (start, stop int64, wraps bool, err error) {
	if b-a > c.capacity {
		return 0, 0, false, fmt.Errorf("shm: slice of %d bytes exceeds capacity %d", b-a, c.capacity)
	}
	start = a % c.capacity
	stop = b % c.capacity
	wraps = stop <= start || (a != b && start == stop)
	return start, stop, wraps, nil
}

// Read returns a view of the logical slice [a, b). If the slice wraps
// past the end of the backing array, only the prefix up to the end of
// the array is returned; the caller is expected to issue a second Read
// call for the wrapped tail.
func (c *CircularBuffer) Read(a, b int64) ([]byte, error) {
	if a == b {
		return nil, fmt.Errorf("shm: zero length slice not allowed")
	}
	start, stop, wraps, err := c.circularCoords(a, b)
	if err != nil {
		return nil, err
	}
	if wraps {
		return c.buf[start:c.capacity], nil
	}
	return c.buf[start:stop], nil
}

// Write stores data at the logical slice [a, a+len(data)). If the
// write wraps past the end of the backing array, the source bytes are
// split at capacity-physicalStart.
func (c *CircularBuffer) Write(a int64, data []byte) error {
	b := a + int64(len(data))
	if a == b {
		return nil
	}
	start, stop, wraps, err := c.circularCoords(a, b)
	if err != nil {
		return err
	}
	if wraps {
		wrapLength := c.capacity - start
		copy(c.buf[start:c.capacity], data[:wrapLength])
		copy(c.buf[:int64(len(data))-wrapLength], data[wrapLength:])
		return nil
	}
	copy(c.buf[start:stop], data)
	return nil
}

// WriteAt returns a writable view of the logical slice [a, b) when the
// slice does not wrap, for callers (e.g. range fetchers writing
// directly into a part's region) that want to avoid an intermediate
// copy. Wrapping slices fall back to an error — callers needing wrap
// support should use Write.
func (c *CircularBuffer) WriteAt(a, b int64) ([]byte, error) {
	if a == b {
		return nil, fmt.Errorf("shm: zero length slice not allowed")
	}
	// §4.2.1: the producer must never advance past the consumer's start
	// by more than capacity. A caller asking to write past that bound is
	// violating the single-producer protocol, not hitting a normal
	// backpressure wait, so this is refused rather than silently allowed.
	if b-c.start.Load() > c.capacity {
		return nil, fmt.Errorf("shm: WriteAt [%d, %d) would overrun start %d by more than capacity %d", a, b, c.start.Load(), c.capacity)
	}
	start, _, _, err := c.circularCoords(a, b)
	if err != nil {
		return nil, err
	}
	if start+(b-a) > c.capacity {
		return nil, fmt.Errorf("shm: WriteAt does not support wrapping slices")
	}
	return c.buf[start : start+(b-a)], nil
}
