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

import "fmt"

// Stats is a snapshot of allocator state.
type Stats struct {
	Blocks     int // headers ever created
	FreeBlocks int // blocks currently released
	InUseBytes int // payload capacity of blocks handed out
	FreeBytes  int // payload capacity of released blocks
	HeapBytes  int // segment bytes carved, headers included

	Grows  int // allocations served by growing the segment
	Reuses int // allocations served by a released block
	Frees  int // successful releases
}

// Stats walks the chain and returns a snapshot.
func (a *Allocator) Stats() Stats {
	s := Stats{Grows: a.stats.Grows, Reuses: a.stats.Reuses, Frees: a.stats.Frees}
	for idx := a.head; idx != noNext; idx = a.headers[idx].next {
		h := &a.headers[idx]
		s.Blocks++
		s.HeapBytes += HeaderSize + h.size
		if h.free {
			s.FreeBlocks++
			s.FreeBytes += h.size
		} else {
			s.InUseBytes += h.size
		}
	}
	return s
}

// Block describes one chain entry for Walk.
type Block struct {
	Ptr  Ptr
	Size int
	Free bool
	Tag  Tag
}

func (b Block) String() string {
	state := "used"
	if b.Free {
		state = "free"
	}
	return fmt.Sprintf("%v size=%d %s %v", b.Ptr, b.Size, state, b.Tag)
}

// Walk calls fn for every block in chain order until fn returns false.
func (a *Allocator) Walk(fn func(b Block) bool) {
	for idx := a.head; idx != noNext; idx = a.headers[idx].next {
		h := &a.headers[idx]
		if !fn(Block{Ptr: a.ptr(idx), Size: h.size, Free: h.free, Tag: h.tag}) {
			return
		}
	}
}

// Check verifies the whole chain: every header carries a known tag that
// agrees with its flag and its slot in the segment, every index is visited
// once, and blocks sit back to back at strictly increasing addresses.
func (a *Allocator) Check() error {
	if a.head == noNext {
		if len(a.headers) != 0 || a.tail != noNext {
			return fmt.Errorf("%w: empty chain with %d headers", ErrCorrupted, len(a.headers))
		}
		return nil
	}
	var (
		visited int
		last    int32 = noNext
		nextOff       = a.headers[a.head].off
	)
	for idx := a.head; idx != noNext; idx = a.headers[idx].next {
		if int(idx) != visited || visited >= len(a.headers) {
			return fmt.Errorf("%w: chain out of creation order at header %d", ErrCorrupted, idx)
		}
		h := &a.headers[idx]
		if err := verifyHeader(a.seg.Bytes(h.off, HeaderSize), idx, h); err != nil {
			return err
		}
		if h.free != (h.tag == TagReleased) {
			return fmt.Errorf("%w: header %d free=%v with tag %v", ErrCorrupted, idx, h.free, h.tag)
		}
		if h.off != nextOff {
			return fmt.Errorf("%w: header %d at %#x, want %#x", ErrCorrupted, idx, h.off, nextOff)
		}
		nextOff = h.addr() + h.size
		last = idx
		visited++
	}
	if visited != len(a.headers) || last != a.tail {
		return fmt.Errorf("%w: chain visits %d of %d headers", ErrCorrupted, visited, len(a.headers))
	}
	return nil
}
