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
	"fmt"
	"io"
	"log/slog"
)

// Grower is the heap growth primitive the allocator is built on.
// *brk.Segment implements it.
type Grower interface {
	// Sbrk advances the break by incr bytes and returns the previous break.
	// A failed call must leave the break untouched.
	Sbrk(incr int) (int, error)

	// Bytes returns the n bytes at off, which must be below the break.
	Bytes(off, n int) []byte
}

// Option configures an Allocator.
type Option struct {
	// Logger receives debug records for growth and reuse and error records
	// for faults. nil discards them.
	Logger *slog.Logger

	// OnFault handles invariant violations detected by Malloc, Free,
	// Realloc and Calloc.
	// nil means panic with the *Fault, which aborts the process unless the
	// caller recovers it.
	OnFault func(f *Fault)
}

// DefaultOption returns the default values of Option.
func DefaultOption() *Option {
	return &Option{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Ptr is a handle to a payload region. It carries the index of the block
// header alongside the payload address, so the header is found without
// pointer arithmetic. The zero value is the null pointer.
type Ptr struct {
	ref  uint32 // header index + 1, 0 for Nil
	addr int
}

// Nil is the null pointer.
var Nil Ptr

// IsNil reports whether p is the null pointer.
func (p Ptr) IsNil() bool {
	return p.ref == 0
}

// Addr returns the segment offset of the payload.
func (p Ptr) Addr() int {
	return p.addr
}

func (p Ptr) String() string {
	if p.IsNil() {
		return "nil"
	}
	return fmt.Sprintf("%#x", p.addr)
}

// Allocator is a first-fit allocator over a single growing segment.
//
// Every block ever carved stays in the chain for the life of the allocator;
// release only flips its free flag. Blocks are neither split nor coalesced
// and memory is never given back to the segment.
//
// Allocator is not thread safe.
type Allocator struct {
	seg Grower

	// headers is the chain arena in creation order.
	headers []header
	head    int32 // chainHead, noNext until the first allocation
	tail    int32

	stats Stats

	logger  *slog.Logger
	onFault func(*Fault)
}

// NewAllocator creates an allocator carving blocks out of seg, starting at
// its current break. o may be nil.
func NewAllocator(seg Grower, o *Option) *Allocator {
	if o == nil {
		o = DefaultOption()
	}
	a := &Allocator{
		seg:     seg,
		head:    noNext,
		tail:    noNext,
		logger:  o.Logger,
		onFault: o.OnFault,
	}
	if a.logger == nil {
		a.logger = DefaultOption().Logger
	}
	return a
}

// Alloc returns a block of at least size bytes. Free blocks are reused
// first-fit in creation order, as they are, without splitting; the segment
// is grown only when none fits.
func (a *Allocator) Alloc(size int) (Ptr, error) {
	if size < 0 {
		return Nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if a.head != noNext {
		idx, ok, err := a.findReusable(size)
		if err != nil {
			return Nil, err
		}
		if ok {
			h := &a.headers[idx]
			h.free, h.tag = false, TagReused
			a.writeHeader(idx)
			a.stats.Reuses++
			a.logger.Debug("malloc: reuse block", "size", size, "addr", h.addr(), "capacity", h.size)
			return a.ptr(idx), nil
		}
	}
	idx, err := a.growHeap(size)
	if err != nil {
		return Nil, err
	}
	return a.ptr(idx), nil
}

// Release marks the block of p as free. Releasing Nil is a no-op.
// It returns ErrDoubleFree if the block is already free and ErrCorrupted if
// its header failed validation.
func (a *Allocator) Release(p Ptr) error {
	if p.IsNil() {
		return nil
	}
	idx, err := a.lookup(p)
	if err != nil {
		return err
	}
	h := &a.headers[idx]
	if h.free || h.tag == TagReleased {
		return fmt.Errorf("%w: block at %#x", ErrDoubleFree, p.addr)
	}
	h.free, h.tag = true, TagReleased
	a.writeHeader(idx)
	a.stats.Frees++
	return nil
}

// Resize returns a block of at least newSize bytes holding the content of
// p. Resizing Nil is Alloc. A block whose capacity already covers newSize
// is returned unchanged; otherwise the content is copied into a new block
// and p is released. If the new block cannot be allocated p is left
// untouched.
func (a *Allocator) Resize(p Ptr, newSize int) (Ptr, error) {
	if p.IsNil() {
		return a.Alloc(newSize)
	}
	if newSize < 0 {
		return Nil, fmt.Errorf("%w: %d", ErrInvalidSize, newSize)
	}
	idx, err := a.lookup(p)
	if err != nil {
		return Nil, err
	}
	if a.headers[idx].free {
		return Nil, fmt.Errorf("%w: block at %#x", ErrDoubleFree, p.addr)
	}
	oldSize := a.headers[idx].size
	if oldSize >= newSize {
		return p, nil
	}
	np, err := a.Alloc(newSize)
	if err != nil {
		return Nil, err
	}
	copy(a.seg.Bytes(np.addr, oldSize), a.seg.Bytes(p.addr, oldSize))
	if err := a.Release(p); err != nil {
		return Nil, err
	}
	return np, nil
}

// AllocZeroed returns a zero-filled block of count*size bytes. The product
// is not checked for overflow; a result that wraps negative fails with
// ErrInvalidSize.
func (a *Allocator) AllocZeroed(count, size int) (Ptr, error) {
	if count < 0 || size < 0 {
		return Nil, fmt.Errorf("%w: %d*%d", ErrInvalidSize, count, size)
	}
	p, err := a.Alloc(count * size)
	if err != nil {
		return Nil, err
	}
	clear(a.seg.Bytes(p.addr, a.headers[p.ref-1].size))
	return p, nil
}

// Malloc is Alloc returning Nil when no block can be provided. A corrupted
// chain met while scanning is sent to the fault handler.
func (a *Allocator) Malloc(size int) Ptr {
	p, err := a.Alloc(size)
	if err != nil && isFatal(err) {
		a.fault("malloc", p, err)
	}
	return p
}

// Free is Release with invariant violations sent to the fault handler.
func (a *Allocator) Free(p Ptr) {
	if err := a.Release(p); err != nil {
		a.fault("free", p, err)
	}
}

// Realloc is Resize returning Nil when the block cannot be grown. Invariant
// violations are sent to the fault handler.
func (a *Allocator) Realloc(p Ptr, newSize int) Ptr {
	np, err := a.Resize(p, newSize)
	if err != nil && isFatal(err) {
		a.fault("realloc", p, err)
	}
	return np
}

// Calloc is AllocZeroed returning Nil when no block can be provided.
func (a *Allocator) Calloc(count, size int) Ptr {
	p, err := a.AllocZeroed(count, size)
	if err != nil && isFatal(err) {
		a.fault("calloc", p, err)
	}
	return p
}

// Bytes returns the payload of p, len and cap equal to the block capacity.
// Bytes(Nil) is nil. Panics if p does not belong to this allocator.
func (a *Allocator) Bytes(p Ptr) []byte {
	if p.IsNil() {
		return nil
	}
	idx, err := a.lookup(p)
	if err != nil {
		panic(err)
	}
	return a.seg.Bytes(p.addr, a.headers[idx].size)
}

// UsableSize returns the capacity of the block of p, 0 for Nil.
// Panics if p does not belong to this allocator.
func (a *Allocator) UsableSize(p Ptr) int {
	return len(a.Bytes(p))
}

func (a *Allocator) ptr(idx int32) Ptr {
	return Ptr{ref: uint32(idx) + 1, addr: a.headers[idx].addr()}
}

// lookup returns the index of the header of p after validating it.
func (a *Allocator) lookup(p Ptr) (int32, error) {
	idx := int64(p.ref) - 1
	if idx < 0 || idx >= int64(len(a.headers)) {
		return noNext, fmt.Errorf("%w: pointer %v not in heap", ErrCorrupted, p)
	}
	h := &a.headers[idx]
	if h.addr() != p.addr {
		return noNext, fmt.Errorf("%w: pointer %v does not match header at %#x", ErrCorrupted, p, h.off)
	}
	if err := verifyHeader(a.seg.Bytes(h.off, HeaderSize), int32(idx), h); err != nil {
		return noNext, err
	}
	return int32(idx), nil
}

func (a *Allocator) writeHeader(idx int32) {
	h := &a.headers[idx]
	encodeHeader(a.seg.Bytes(h.off, HeaderSize), idx, h)
}

func (a *Allocator) fault(op string, p Ptr, err error) {
	f := &Fault{Op: op, Addr: p.addr, Err: err}
	a.logger.Error("malloc: heap invariant violated", "op", op, "addr", p.addr, "err", err)
	if a.onFault != nil {
		a.onFault(f)
		return
	}
	panic(f)
}
