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

// findReusable walks the chain oldest first and returns the first free
// block whose capacity is at least minSize. The cost is linear in the
// number of blocks ever carved.
func (a *Allocator) findReusable(minSize int) (int32, bool, error) {
	for idx := a.head; idx != noNext; idx = a.headers[idx].next {
		h := &a.headers[idx]
		if !h.tag.Valid() {
			return noNext, false, fmt.Errorf("%w: header %d has tag %v", ErrCorrupted, idx, h.tag)
		}
		if h.free && h.size >= minSize {
			if err := verifyHeader(a.seg.Bytes(h.off, HeaderSize), idx, h); err != nil {
				return noNext, false, err
			}
			return idx, true, nil
		}
	}
	return noNext, false, nil
}
