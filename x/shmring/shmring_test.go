package shmring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIO models partial producer progress (accept up to k bytes).
type fakeIO struct{ k int }

func (f fakeIO) write(p []byte) int {
	if len(p) > f.k {
		return f.k
	}
	return len(p)
}

func TestOrderAcrossWrapWithPartialProgress(t *testing.T) {
	r := New(64)
	prod := fakeIO{k: 7}

	const N = 2000
	src := make([]byte, N)
	for i := range src {
		src[i] = byte(i)
	}

	p := src
	dst := make([]byte, 0, N)
	for len(dst) < N {
		if len(p) > 0 {
			if step := prod.write(p); step > 0 {
				step = r.WriteFrom(p[:step])
				p = p[step:]
			}
		}
		var tmp [17]byte
		n := r.ReadInto(tmp[:])
		dst = append(dst, tmp[:n]...)
	}
	assert.Equal(t, src, dst)
}

func TestNewRejectsNonPowerOfTwo(t *testing.T) {
	for _, sz := range []int{0, 1, 3, 6, 100} {
		assert.False(t, IsPow2(sz), "size %d", sz)
		assert.Panics(t, func() { New(sz) }, "size %d", sz)
	}
	assert.True(t, IsPow2(128))
}

func TestSpaceAvailableAcrossCursorWrap(t *testing.T) {
	r := New(8)
	// Push both cursors near the 32-bit wrap point.
	r.rd.Store(^uint32(0) - 2)
	r.wr.Store(^uint32(0) - 2)
	require.Equal(t, 8, r.Space())

	n := r.WriteFrom([]byte{1, 2, 3, 4, 5, 6})
	require.Equal(t, 6, n)
	assert.Equal(t, 2, r.Space())
	assert.Equal(t, 6, r.Available())

	out := make([]byte, 6)
	require.Equal(t, 6, r.ReadInto(out))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, out)
	assert.Equal(t, 8, r.Space())
}

func TestFullRingIsNotEmpty(t *testing.T) {
	r := New(4)
	require.Equal(t, 4, r.WriteFrom([]byte{9, 8, 7, 6, 5}))
	assert.Equal(t, 0, r.Space())
	assert.Equal(t, 4, r.Available())
	assert.Equal(t, 0, r.WriteFrom([]byte{1}))
}

func TestPeekDoesNotConsume(t *testing.T) {
	r := New(8)
	r.WriteFrom([]byte("abc"))
	b := make([]byte, 2)
	require.Equal(t, 2, r.PeekInto(b))
	assert.Equal(t, "ab", string(b))
	assert.Equal(t, 3, r.Available())
	assert.Equal(t, 1, r.Discard(1))
	assert.Equal(t, 2, r.Discard(10), "discard stops at write cursor")
	assert.Equal(t, 0, r.Available())
}

func TestReadableWritableEdges(t *testing.T) {
	r := New(4)
	select {
	case <-r.Readable():
		t.Fatal("unexpected Readable on empty ring")
	default:
	}
	require.Equal(t, 3, r.WriteFrom([]byte{1, 2, 3}))
	select {
	case <-r.Readable():
	default:
		t.Fatal("expected Readable")
	}
	select {
	case <-r.Readable():
		t.Fatal("unexpected extra Readable")
	default:
	}

	require.Equal(t, 1, r.WriteFrom([]byte{4}))
	r.ReadInto(make([]byte, 1))
	select {
	case <-r.Writable():
	default:
		t.Fatal("expected Writable after leaving full")
	}
}
