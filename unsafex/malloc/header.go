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
	"encoding/binary"
	"fmt"
)

// HeaderSize is the number of bytes reserved in the segment immediately
// before every payload.
const HeaderSize = 24

// Tag is the debug state of a block header.
type Tag uint32

const (
	// TagFreshlyCarved marks a block handed out for the first time.
	TagFreshlyCarved Tag = 0x12345678
	// TagReused marks a block handed out again after being released.
	TagReused Tag = 0x77777777
	// TagReleased marks a block that is currently free.
	TagReleased Tag = 0x55555555
)

// Valid reports whether t is one of the three known states.
func (t Tag) Valid() bool {
	switch t {
	case TagFreshlyCarved, TagReused, TagReleased:
		return true
	}
	return false
}

func (t Tag) String() string {
	switch t {
	case TagFreshlyCarved:
		return "FreshlyCarved"
	case TagReused:
		return "Reused"
	case TagReleased:
		return "Released"
	}
	return fmt.Sprintf("Tag(%#x)", uint32(t))
}

const noNext = -1

// header is the arena record of one block. Records are addressed by their
// index in Allocator.headers and are never removed.
type header struct {
	size int   // payload capacity, excludes HeaderSize
	next int32 // index of the header created after this one, noNext if tail
	free bool
	tag  Tag
	off  int // segment offset of the header slot, payload starts at off+HeaderSize
}

func (h *header) addr() int {
	return h.off + HeaderSize
}

// header slot layout in the segment, little endian:
//
//	[0:8]   size
//	[8:12]  index
//	[12:16] free (0 or 1)
//	[16:20] tag
//	[20:24] next index
const (
	slotSize  = 0
	slotIndex = 8
	slotFree  = 12
	slotTag   = 16
	slotNext  = 20
)

func encodeHeader(b []byte, idx int32, h *header) {
	_ = b[HeaderSize-1]
	binary.LittleEndian.PutUint64(b[slotSize:], uint64(h.size))
	binary.LittleEndian.PutUint32(b[slotIndex:], uint32(idx))
	free := uint32(0)
	if h.free {
		free = 1
	}
	binary.LittleEndian.PutUint32(b[slotFree:], free)
	binary.LittleEndian.PutUint32(b[slotTag:], uint32(h.tag))
	binary.LittleEndian.PutUint32(b[slotNext:], uint32(h.next))
}

// verifyHeader checks that the record carries a known tag and that the
// slot in the segment still agrees with it.
func verifyHeader(b []byte, idx int32, h *header) error {
	if !h.tag.Valid() {
		return fmt.Errorf("%w: header %d has tag %v", ErrCorrupted, idx, h.tag)
	}
	_ = b[HeaderSize-1]
	tag := Tag(binary.LittleEndian.Uint32(b[slotTag:]))
	if !tag.Valid() {
		return fmt.Errorf("%w: header slot at %d has tag %v", ErrCorrupted, h.off, tag)
	}
	free := binary.LittleEndian.Uint32(b[slotFree:])
	switch {
	case tag != h.tag,
		binary.LittleEndian.Uint64(b[slotSize:]) != uint64(h.size),
		binary.LittleEndian.Uint32(b[slotIndex:]) != uint32(idx),
		binary.LittleEndian.Uint32(b[slotNext:]) != uint32(h.next),
		free > 1, (free == 1) != h.free:
		return fmt.Errorf("%w: header slot at %d was overwritten", ErrCorrupted, h.off)
	}
	return nil
}
