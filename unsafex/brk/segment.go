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

// Package brk provides a data segment that grows like the classic program
// break: a single reservation of address space whose in-use prefix only
// ever moves forward.
//
// Segment is not thread safe.
package brk

import (
	"errors"
	"fmt"

	"github.com/bytedance/gopkg/lang/dirtmake"
)

// ErrNoMemory is returned by Sbrk when the segment cannot be extended.
var ErrNoMemory = errors.New("brk: cannot grow segment")

// Segment is a contiguous reservation of `capacity` bytes with a break
// offset. Bytes below the break are usable, bytes above it are not.
type Segment struct {
	// mem is the whole reservation, len(mem) == capacity.
	mem []byte

	// brk is the current break, 0 <= brk <= len(mem).
	brk int

	// commit makes mem[committed:to] accessible and returns the new
	// committed end. nil when the whole reservation is always accessible.
	commit    func(from, to int) (int, error)
	committed int

	release func() error
}

// NewBytes returns a segment backed by a heap buffer of the given capacity.
// The buffer is not zeroed.
func NewBytes(capacity int) *Segment {
	if capacity < 0 {
		capacity = 0
	}
	return &Segment{mem: dirtmake.Bytes(capacity, capacity)}
}

// Sbrk advances the break by incr bytes and returns the previous break.
// Sbrk(0) returns the current break. On failure the break is left untouched
// and the returned error wraps ErrNoMemory.
func (s *Segment) Sbrk(incr int) (int, error) {
	old := s.brk
	if incr < 0 || incr > len(s.mem)-old {
		return old, fmt.Errorf("%w: sbrk(%d) at break %d, capacity %d", ErrNoMemory, incr, old, len(s.mem))
	}
	nbrk := old + incr
	if s.commit != nil && nbrk > s.committed {
		committed, err := s.commit(s.committed, nbrk)
		if err != nil {
			return old, fmt.Errorf("%w: commit [%d,%d): %v", ErrNoMemory, s.committed, nbrk, err)
		}
		s.committed = committed
	}
	s.brk = nbrk
	return old, nil
}

// Brk returns the current break.
func (s *Segment) Brk() int {
	return s.brk
}

// Cap returns the size of the reservation.
func (s *Segment) Cap() int {
	return len(s.mem)
}

// Bytes returns the n bytes at off. The returned slice is capped so that
// appending to it never writes past off+n.
// Panics if the range is not entirely below the break.
func (s *Segment) Bytes(off, n int) []byte {
	if off < 0 || n < 0 || off > s.brk-n {
		panic(fmt.Sprintf("brk: range [%d,%d) beyond break %d", off, off+n, s.brk))
	}
	return s.mem[off : off+n : off+n]
}

// Release gives the reservation back to the OS. The segment must not be
// used afterwards.
func (s *Segment) Release() error {
	var err error
	if s.release != nil {
		err = s.release()
	}
	s.mem, s.brk, s.committed = nil, 0, 0
	s.commit, s.release = nil, nil
	return err
}
