package shmring

import (
	"sync/atomic"
)

// Ring is a single-producer, single-consumer byte ring.
//
// Both cursors are monotonic 32-bit counters; they are masked into buf on
// access, so wr-rd is always the unread byte count, even across wrap.
type Ring struct {
	buf  []byte
	mask uint32
	rd   atomic.Uint32 // consumer index (monotonic)
	wr   atomic.Uint32 // producer index (monotonic)

	readable chan struct{} // 0->>0 available edge
	writable chan struct{} // full->not full edge
}

// IsPow2 reports whether size is a usable ring size (power of two >= 2).
func IsPow2(size int) bool {
	return size >= 2 && (size&(size-1)) == 0
}

// New allocates a ring. It panics unless size is a power of two >= 2;
// callers taking size from configuration should check IsPow2 first.
func New(size int) *Ring {
	if !IsPow2(size) {
		panic("shmring: size must be power of two >= 2")
	}
	return &Ring{
		buf:      make([]byte, size),
		mask:     uint32(size - 1),
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
	}
}

func (r *Ring) size() uint32 { return uint32(len(r.buf)) }

// Cap returns the ring capacity in bytes.
func (r *Ring) Cap() int { return len(r.buf) }

// Producer side

func (r *Ring) Space() int {
	rd := r.rd.Load()
	wr := r.wr.Load()
	return int(r.size() - (wr - rd))
}

func (r *Ring) Available() int {
	rd := r.rd.Load()
	wr := r.wr.Load()
	return int(wr - rd)
}

// WriteFrom copies as much of src as fits and returns the count written.
func (r *Ring) WriteFrom(src []byte) (n int) {
	if len(src) == 0 {
		return 0
	}
	rd := r.rd.Load()
	wr := r.wr.Load()
	beforeAvail := wr - rd
	space := int(r.size() - beforeAvail)
	if space <= 0 {
		return 0
	}
	if len(src) < space {
		space = len(src)
	}
	n = space

	size := r.size()
	wrIdx := wr & r.mask
	first := int(size - wrIdx)
	if first > n {
		first = n
	}
	copy(r.buf[wrIdx:wrIdx+uint32(first)], src[:first])
	if second := n - first; second > 0 {
		copy(r.buf[:second], src[first:n])
	}
	r.wr.Store(wr + uint32(n)) // release

	if beforeAvail == 0 {
		select {
		case r.readable <- struct{}{}:
		default:
		}
	}
	return n
}

// Consumer side

// ReadInto copies up to len(dst) unread bytes and advances the read cursor.
func (r *Ring) ReadInto(dst []byte) (n int) {
	n = r.PeekInto(dst)
	if n > 0 {
		r.Discard(n)
	}
	return n
}

// PeekInto copies up to len(dst) unread bytes without consuming them.
func (r *Ring) PeekInto(dst []byte) (n int) {
	if len(dst) == 0 {
		return 0
	}
	rd := r.rd.Load()
	wr := r.wr.Load() // acquire
	avail := int(wr - rd)
	if avail <= 0 {
		return 0
	}
	if len(dst) < avail {
		avail = len(dst)
	}
	n = avail

	size := r.size()
	rdIdx := rd & r.mask
	first := int(size - rdIdx)
	if first > n {
		first = n
	}
	copy(dst[:first], r.buf[rdIdx:rdIdx+uint32(first)])
	if second := n - first; second > 0 {
		copy(dst[first:n], r.buf[:second])
	}
	return n
}

// Discard advances the read cursor by up to n bytes and returns the count
// actually skipped. The read cursor never passes the write cursor.
func (r *Ring) Discard(n int) int {
	if n <= 0 {
		return 0
	}
	rd := r.rd.Load()
	wr := r.wr.Load()
	avail := int(wr - rd)
	if n > avail {
		n = avail
	}
	if n == 0 {
		return 0
	}
	r.rd.Store(rd + uint32(n)) // release

	if wr-rd == r.size() {
		select {
		case r.writable <- struct{}{}:
		default:
		}
	}
	return n
}

// Reset empties the ring. Not safe against a concurrent producer or consumer.
func (r *Ring) Reset() {
	r.rd.Store(0)
	r.wr.Store(0)
}

func (r *Ring) Watermarks() (rd, wr uint32) {
	return r.rd.Load(), r.wr.Load()
}

func (r *Ring) Readable() <-chan struct{} { return r.readable }
func (r *Ring) Writable() <-chan struct{} { return r.writable }
