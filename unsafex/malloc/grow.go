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
	"math"
)

// growHeap carves a new block of size bytes at the break and appends its
// header to the chain. Nothing is mutated when the segment refuses to grow.
func (a *Allocator) growHeap(size int) (int32, error) {
	if len(a.headers) >= math.MaxInt32 {
		return noNext, fmt.Errorf("%w: header arena full", ErrOutOfMemory)
	}
	off, err := a.seg.Sbrk(size + HeaderSize)
	if err != nil {
		return noNext, fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	}
	idx := int32(len(a.headers))
	a.headers = append(a.headers, header{
		size: size,
		next: noNext,
		tag:  TagFreshlyCarved,
		off:  off,
	})
	if a.tail == noNext {
		a.head = idx
	} else {
		a.headers[a.tail].next = idx
		a.writeHeader(a.tail)
	}
	a.tail = idx
	a.writeHeader(idx)

	a.stats.Grows++
	a.logger.Debug("malloc: grow heap", "size", size, "addr", off+HeaderSize, "break", off+size+HeaderSize)
	return idx, nil
}
