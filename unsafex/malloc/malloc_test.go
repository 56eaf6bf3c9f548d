/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package malloc

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/brkmalloc/unsafex/brk"
)

func newTestAllocator(t *testing.T, capacity int) (*Allocator, *brk.Segment) {
	t.Helper()
	seg := brk.NewBytes(capacity)
	return NewAllocator(seg, nil), seg
}

func newTestLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func fill(b []byte, seed byte) {
	for i := range b {
		b[i] = seed + byte(i)
	}
}

func TestAllocRoundTrip(t *testing.T) {
	a, _ := newTestAllocator(t, 1<<20)
	for _, size := range []int{1, 7, 8, 25, 100, 4096, 65537} {
		p, err := a.Alloc(size)
		require.NoError(t, err, "size=%d", size)
		require.False(t, p.IsNil())

		b := a.Bytes(p)
		assert.Equal(t, size, len(b))
		assert.Equal(t, size, cap(b))
		fill(b, byte(size))

		want := make([]byte, size)
		fill(want, byte(size))
		assert.Equal(t, want, a.Bytes(p), "size=%d", size)
		assert.Equal(t, size, a.UsableSize(p))
	}
	require.NoError(t, a.Check())
}

func TestAllocFirstCallGrows(t *testing.T) {
	a, seg := newTestAllocator(t, 1024)
	p, err := a.Alloc(25)
	require.NoError(t, err)
	assert.Equal(t, HeaderSize, p.Addr())
	assert.Equal(t, HeaderSize+25, seg.Brk())

	s := a.Stats()
	assert.Equal(t, 1, s.Blocks)
	assert.Equal(t, 1, s.Grows)
	assert.Equal(t, 0, s.Reuses)
}

func TestAllocStartsAtCurrentBreak(t *testing.T) {
	seg := brk.NewBytes(1024)
	_, err := seg.Sbrk(100)
	require.NoError(t, err)

	a := NewAllocator(seg, nil)
	p := a.Malloc(8)
	assert.Equal(t, 100+HeaderSize, p.Addr())
	require.NoError(t, a.Check())
}

func TestAllocZeroSize(t *testing.T) {
	a, _ := newTestAllocator(t, 1024)
	p, err := a.Alloc(0)
	require.NoError(t, err)
	assert.False(t, p.IsNil())
	assert.Equal(t, 0, a.UsableSize(p))

	q := a.Malloc(0)
	assert.NotEqual(t, p, q)
	assert.Equal(t, p.Addr()+HeaderSize, q.Addr())
}

func TestAllocInvalidSize(t *testing.T) {
	a, seg := newTestAllocator(t, 1024)
	_, err := a.Alloc(-1)
	assert.ErrorIs(t, err, ErrInvalidSize)
	assert.True(t, a.Malloc(-5).IsNil())
	assert.Equal(t, 0, seg.Brk())
}

func TestReuseFirstFit(t *testing.T) {
	a, seg := newTestAllocator(t, 4096)
	small := a.Malloc(10)
	big := a.Malloc(50)
	mid := a.Malloc(30)
	fill(a.Bytes(big), 'a')
	a.Free(big)
	a.Free(mid)
	brkBefore := seg.Brk()

	// the 50 byte block comes first in creation order
	p := a.Malloc(20)
	assert.Equal(t, big, p)
	assert.Equal(t, 50, a.UsableSize(p), "reused block is not split")
	want := make([]byte, 50)
	fill(want, 'a')
	assert.Equal(t, want, a.Bytes(p), "reused block is not cleared")

	// the next fit is the 30 byte block
	q := a.Malloc(30)
	assert.Equal(t, mid, q)

	// nothing left to reuse
	r := a.Malloc(1)
	assert.NotEqual(t, small, r)
	assert.Greater(t, seg.Brk(), brkBefore)

	s := a.Stats()
	assert.Equal(t, 4, s.Blocks)
	assert.Equal(t, 2, s.Reuses)
	assert.Equal(t, 4, s.Grows)
	require.NoError(t, a.Check())
}

func TestReuseTags(t *testing.T) {
	a, _ := newTestAllocator(t, 1024)
	p := a.Malloc(16)
	tags := func() (out []Tag) {
		a.Walk(func(b Block) bool {
			out = append(out, b.Tag)
			return true
		})
		return out
	}
	assert.Equal(t, []Tag{TagFreshlyCarved}, tags())
	a.Free(p)
	assert.Equal(t, []Tag{TagReleased}, tags())
	a.Malloc(16)
	assert.Equal(t, []Tag{TagReused}, tags())
	a.Free(p)
	assert.Equal(t, []Tag{TagReleased}, tags())
	a.Malloc(1)
	assert.Equal(t, []Tag{TagReused}, tags())
}

func TestReleaseNil(t *testing.T) {
	a, _ := newTestAllocator(t, 1024)
	assert.NoError(t, a.Release(Nil))
	assert.NotPanics(t, func() { a.Free(Nil) })
	assert.Equal(t, 0, a.Stats().Frees)
}

func TestDoubleFree(t *testing.T) {
	a, _ := newTestAllocator(t, 1024)
	p := a.Malloc(32)
	require.NoError(t, a.Release(p))
	err := a.Release(p)
	assert.ErrorIs(t, err, ErrDoubleFree)

	var f *Fault
	func() {
		defer func() {
			r := recover()
			require.NotNil(t, r)
			var ok bool
			f, ok = r.(*Fault)
			require.True(t, ok, "panic value %T", r)
		}()
		a.Free(p)
	}()
	assert.Equal(t, "free", f.Op)
	assert.Equal(t, p.Addr(), f.Addr)
	assert.ErrorIs(t, f, ErrDoubleFree)
	assert.Equal(t, 1, a.Stats().Frees)
}

func TestOnFault(t *testing.T) {
	var faults []*Fault
	a := NewAllocator(brk.NewBytes(1024), &Option{OnFault: func(f *Fault) {
		faults = append(faults, f)
	}})
	p := a.Malloc(8)
	a.Free(p)
	a.Free(p)
	assert.True(t, a.Realloc(p, 100).IsNil())
	require.Len(t, faults, 2)
	assert.Equal(t, "free", faults[0].Op)
	assert.Equal(t, "realloc", faults[1].Op)
	for _, f := range faults {
		assert.ErrorIs(t, f, ErrDoubleFree)
	}
}

func TestReleaseForeignPointer(t *testing.T) {
	a, _ := newTestAllocator(t, 1024)
	p := a.Malloc(8)

	other, _ := newTestAllocator(t, 1024)
	other.Malloc(8)
	q := other.Malloc(8)

	tests := []struct {
		name string
		p    Ptr
	}{
		{"unknown_index", q},
		{"wrong_address", Ptr{ref: p.ref, addr: p.addr + 1}},
		{"past_chain", Ptr{ref: 1000, addr: 24}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, a.Release(tt.p), ErrCorrupted)
			_, err := a.Resize(tt.p, 100)
			assert.ErrorIs(t, err, ErrCorrupted)
			assert.Panics(t, func() { a.Free(tt.p) })
			assert.Panics(t, func() { a.Bytes(tt.p) })
		})
	}
}

func TestCorruptedHeader(t *testing.T) {
	t.Run("overwritten_slot", func(t *testing.T) {
		a, seg := newTestAllocator(t, 1024)
		p := a.Malloc(8)
		q := a.Malloc(8)
		// an overrun from p into the header slot of q
		copy(seg.Bytes(p.Addr(), 8+4), "AAAAAAAAAAAA")
		assert.ErrorIs(t, a.Release(q), ErrCorrupted)
		assert.ErrorIs(t, a.Check(), ErrCorrupted)
		assert.NoError(t, a.Release(p))
	})
	t.Run("bad_tag_in_slot", func(t *testing.T) {
		a, seg := newTestAllocator(t, 1024)
		p := a.Malloc(8)
		copy(seg.Bytes(p.Addr()-HeaderSize+slotTag, 4), []byte{1, 2, 3, 4})
		err := a.Release(p)
		assert.ErrorIs(t, err, ErrCorrupted)
		assert.Contains(t, err.Error(), "Tag(0x4030201)")
	})
	t.Run("bad_tag_in_record", func(t *testing.T) {
		a, _ := newTestAllocator(t, 1024)
		p := a.Malloc(8)
		a.headers[0].tag = 0xdeadbeef
		_, err := a.Resize(p, 4)
		assert.ErrorIs(t, err, ErrCorrupted)
	})
	t.Run("scanner", func(t *testing.T) {
		a, _ := newTestAllocator(t, 1024)
		p := a.Malloc(8)
		a.Free(p)
		a.headers[0].tag = 0
		_, err := a.Alloc(4)
		assert.ErrorIs(t, err, ErrCorrupted)
		assert.Panics(t, func() { a.Malloc(4) })
	})
}

func TestResize(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		a, _ := newTestAllocator(t, 1024)
		p, err := a.Resize(Nil, 40)
		require.NoError(t, err)
		assert.Equal(t, HeaderSize, p.Addr())
		assert.Equal(t, 40, a.UsableSize(p))
		assert.Equal(t, 1, a.Stats().Grows)
	})
	t.Run("fits", func(t *testing.T) {
		a, seg := newTestAllocator(t, 1024)
		p := a.Malloc(40)
		brkBefore := seg.Brk()
		for _, n := range []int{0, 10, 40} {
			np, err := a.Resize(p, n)
			require.NoError(t, err)
			assert.Equal(t, p, np)
			assert.Equal(t, 40, a.UsableSize(np), "no shrink")
		}
		assert.Equal(t, brkBefore, seg.Brk())
	})
	t.Run("grows", func(t *testing.T) {
		a, _ := newTestAllocator(t, 1024)
		p := a.Malloc(30)
		fill(a.Bytes(p), 'x')
		want := append([]byte(nil), a.Bytes(p)...)

		np, err := a.Resize(p, 50)
		require.NoError(t, err)
		assert.NotEqual(t, p, np)
		assert.Greater(t, np.Addr(), p.Addr())
		assert.Equal(t, want, a.Bytes(np)[:30])
		assert.Equal(t, 50, a.UsableSize(np))
		assert.ErrorIs(t, a.Release(p), ErrDoubleFree, "old block released")
	})
	t.Run("into_released_block", func(t *testing.T) {
		a, _ := newTestAllocator(t, 1024)
		big := a.Malloc(100)
		p := a.Malloc(10)
		a.Free(big)
		copy(a.Bytes(p), "0123456789")

		np := a.Realloc(p, 60)
		assert.Equal(t, big, np)
		assert.Equal(t, "0123456789", string(a.Bytes(np)[:10]))
	})
	t.Run("out_of_memory", func(t *testing.T) {
		a, seg := newTestAllocator(t, 100)
		p := a.Malloc(30)
		copy(a.Bytes(p), "keep")
		brkBefore := seg.Brk()

		np, err := a.Resize(p, 80)
		assert.ErrorIs(t, err, ErrOutOfMemory)
		assert.True(t, np.IsNil())
		assert.True(t, a.Realloc(p, 80).IsNil())
		assert.Equal(t, brkBefore, seg.Brk())
		assert.Equal(t, "keep", string(a.Bytes(p)[:4]))
		assert.NoError(t, a.Release(p), "original block still live")
	})
	t.Run("negative", func(t *testing.T) {
		a, _ := newTestAllocator(t, 1024)
		p := a.Malloc(8)
		_, err := a.Resize(p, -1)
		assert.ErrorIs(t, err, ErrInvalidSize)
		assert.NotPanics(t, func() { assert.True(t, a.Realloc(p, -1).IsNil()) })
		assert.NoError(t, a.Release(p))
	})
	t.Run("released", func(t *testing.T) {
		a, _ := newTestAllocator(t, 1024)
		p := a.Malloc(8)
		a.Free(p)
		_, err := a.Resize(p, 4)
		assert.ErrorIs(t, err, ErrDoubleFree)
		assert.Panics(t, func() { a.Realloc(p, 16) })
	})
}

func TestAllocZeroed(t *testing.T) {
	a, _ := newTestAllocator(t, 1024)
	dirty := a.Malloc(40)
	fill(a.Bytes(dirty), 1)
	a.Free(dirty)

	p, err := a.AllocZeroed(5, 4)
	require.NoError(t, err)
	assert.Equal(t, dirty, p, "reuses the released block")
	assert.Equal(t, make([]byte, 40), a.Bytes(p), "whole capacity zeroed")

	q := a.Calloc(3, 7)
	assert.Equal(t, make([]byte, 21), a.Bytes(q))

	z := a.Calloc(0, 100)
	assert.False(t, z.IsNil())
	assert.Equal(t, 0, a.UsableSize(z))

	_, err = a.AllocZeroed(-1, 4)
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = a.AllocZeroed(4, -1)
	assert.ErrorIs(t, err, ErrInvalidSize)
	assert.True(t, a.Calloc(math.MaxInt/2+1, 3).IsNil(), "product wraps negative")
	assert.True(t, a.Calloc(100, 100).IsNil(), "out of memory")
}

func TestOutOfMemory(t *testing.T) {
	a, seg := newTestAllocator(t, 200)
	p := a.Malloc(100)
	require.False(t, p.IsNil())
	before := a.Stats()

	_, err := a.Alloc(100)
	assert.ErrorIs(t, err, ErrOutOfMemory)
	assert.ErrorIs(t, err, brk.ErrNoMemory)
	assert.True(t, a.Malloc(100).IsNil())
	assert.Equal(t, before, a.Stats(), "no partial mutation")
	assert.Equal(t, 100+HeaderSize, seg.Brk())

	// a smaller retry fits exactly
	q, err := a.Alloc(200 - 2*HeaderSize - 100)
	require.NoError(t, err)
	assert.False(t, q.IsNil())
	assert.Equal(t, 200, seg.Brk())
	require.NoError(t, a.Check())
}

func TestMonotonicAddresses(t *testing.T) {
	a, _ := newTestAllocator(t, 1<<16)
	var addrs []int
	a.Malloc(7)
	for i := 0; i < 50; i++ {
		p := a.Malloc(i*3 + 1)
		if i%3 == 0 {
			a.Free(p)
		}
	}
	a.Walk(func(b Block) bool {
		addrs = append(addrs, b.Ptr.Addr())
		return true
	})
	require.NotEmpty(t, addrs)
	for i := 1; i < len(addrs); i++ {
		assert.Greater(t, addrs[i], addrs[i-1])
	}
	require.NoError(t, a.Check())
}

func TestWalkStops(t *testing.T) {
	a, _ := newTestAllocator(t, 1024)
	for i := 0; i < 5; i++ {
		a.Malloc(8)
	}
	n := 0
	a.Walk(func(b Block) bool {
		n++
		return n < 2
	})
	assert.Equal(t, 2, n)
}

func TestStats(t *testing.T) {
	a, seg := newTestAllocator(t, 1024)
	assert.Equal(t, Stats{}, a.Stats())
	p := a.Malloc(10)
	a.Malloc(20)
	a.Free(p)

	assert.Equal(t, Stats{
		Blocks:     2,
		FreeBlocks: 1,
		InUseBytes: 20,
		FreeBytes:  10,
		HeapBytes:  2*HeaderSize + 30,
		Grows:      2,
		Frees:      1,
	}, a.Stats())
	assert.Equal(t, seg.Brk(), a.Stats().HeapBytes)
}

func TestCheckEmpty(t *testing.T) {
	a, _ := newTestAllocator(t, 1024)
	assert.NoError(t, a.Check())
}

func TestCheckDetectsBrokenChain(t *testing.T) {
	a, _ := newTestAllocator(t, 1024)
	a.Malloc(8)
	a.Malloc(8)
	a.Malloc(8)

	a.headers[1].free = true
	a.writeHeader(1)
	assert.ErrorIs(t, a.Check(), ErrCorrupted, "free flag without Released tag")
	a.headers[1].free = false
	a.writeHeader(1)
	require.NoError(t, a.Check())

	a.headers[0].next = 2
	a.writeHeader(0)
	assert.ErrorIs(t, a.Check(), ErrCorrupted, "skipped header")
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	a := NewAllocator(brk.NewBytes(1024), &Option{
		Logger:  newTestLogger(&buf),
		OnFault: func(*Fault) {},
	})
	p := a.Malloc(8)
	a.Free(p)
	a.Malloc(8)
	a.Free(p)
	a.Free(p)

	out := buf.String()
	assert.Contains(t, out, "malloc: grow heap")
	assert.Contains(t, out, "malloc: reuse block")
	assert.Contains(t, out, "malloc: heap invariant violated")
}

func TestTagString(t *testing.T) {
	assert.Equal(t, "FreshlyCarved", TagFreshlyCarved.String())
	assert.Equal(t, "Reused", TagReused.String())
	assert.Equal(t, "Released", TagReleased.String())
	assert.Equal(t, "Tag(0x1)", Tag(1).String())
	assert.False(t, Tag(0).Valid())
}

func TestFaultError(t *testing.T) {
	f := &Fault{Op: "free", Addr: 0x18, Err: ErrDoubleFree}
	assert.Equal(t, "free(0x18): malloc: double free", f.Error())
	assert.True(t, errors.Is(f, ErrDoubleFree))
	assert.True(t, isFatal(f))
	assert.False(t, isFatal(ErrOutOfMemory))
}
