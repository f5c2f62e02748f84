// Package outbox queues length-prefixed text records for the serial
// transmitter. Each record is stored as [len][payload...] where len counts
// itself, so a record of n payload bytes occupies n+1 ring bytes.
package outbox

import (
	"sync"

	"sensorlink/errcode"
	"sensorlink/x/shmring"
)

// MaxRecord is the largest encoded record (length byte included).
const MaxRecord = 255

// Transmitter takes one popped record at a time.
type Transmitter interface {
	Busy() bool
	Start(p []byte) error
}

type Queue struct {
	mu      sync.Mutex
	r       *shmring.Ring
	tx      Transmitter
	scratch [MaxRecord]byte

	pushed, popped uint32
}

// New returns an empty queue of the given capacity, which must be a power of
// two. tx may be nil when only PopInto is used.
func New(capacity int, tx Transmitter) (*Queue, error) {
	if !shmring.IsPow2(capacity) {
		return nil, errcode.New(errcode.InvalidParams, "outbox.new", "capacity must be a power of two")
	}
	return &Queue{r: shmring.New(capacity), tx: tx}, nil
}

// Push appends one record. A record that does not fit is an overflow; the
// producer is expected to check Space first.
func (q *Queue) Push(msg []byte) error {
	const op = "outbox.push"
	enc := len(msg) + 1
	if enc > MaxRecord {
		return errcode.New(errcode.InvalidParams, op, "record too long")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if enc > q.r.Space() {
		return errcode.New(errcode.Overflow, op, "no space")
	}
	q.r.WriteFrom([]byte{byte(enc)})
	q.r.WriteFrom(msg)
	q.pushed++
	return nil
}

// Pop hands the oldest record to the transmitter. It reports false when the
// transmitter is busy or the queue is empty. The record is consumed only
// once the transmitter has accepted it.
func (q *Queue) Pop() (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tx == nil {
		_, ok := q.takeLocked()
		return ok, nil
	}
	if q.tx.Busy() {
		return false, nil
	}
	n, ok := q.peekLenLocked()
	if !ok {
		return false, nil
	}
	rec := q.scratch[:n+1]
	if q.r.PeekInto(rec) != len(rec) {
		return false, errcode.New(errcode.ProtocolViolation, "outbox.pop", "truncated record")
	}
	if err := q.tx.Start(rec[1:]); err != nil {
		return false, err
	}
	q.r.Discard(len(rec))
	q.popped++
	return true, nil
}

// PopInto copies the oldest record into dst instead of transmitting it.
// dst must hold the whole payload.
func (q *Queue) PopInto(dst []byte) (int, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n, ok := q.peekLenLocked(); ok && n > len(dst) {
		return 0, false, errcode.New(errcode.InvalidParams, "outbox.pop", "destination too small")
	}
	p, ok := q.takeLocked()
	if !ok {
		return 0, false, nil
	}
	return copy(dst, p), true, nil
}

func (q *Queue) peekLenLocked() (int, bool) {
	var hdr [1]byte
	if q.r.PeekInto(hdr[:]) == 0 {
		return 0, false
	}
	return int(hdr[0]) - 1, true
}

// takeLocked consumes one record into scratch.
func (q *Queue) takeLocked() ([]byte, bool) {
	if q.tx != nil && q.tx.Busy() {
		return nil, false
	}
	n, ok := q.peekLenLocked()
	if !ok {
		return nil, false
	}
	q.r.Discard(1)
	got := q.r.ReadInto(q.scratch[:n])
	q.popped++
	return q.scratch[:got], true
}

// Space returns the free bytes.
func (q *Queue) Space() int { return q.r.Space() }

// Len returns the unread bytes, length prefixes included.
func (q *Queue) Len() int { return q.r.Available() }

// Writable signals when a full queue frees space.
func (q *Queue) Writable() <-chan struct{} { return q.r.Writable() }

// Stats returns the records pushed and popped since construction.
func (q *Queue) Stats() (pushed, popped uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushed, q.popped
}
