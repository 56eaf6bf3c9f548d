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
	"errors"
	"fmt"
)

var (
	// ErrOutOfMemory indicates the segment refused to grow.
	ErrOutOfMemory = errors.New("malloc: out of memory")

	// ErrInvalidSize indicates a negative allocation size.
	ErrInvalidSize = errors.New("malloc: invalid size")

	// ErrDoubleFree indicates a release of a block that is already free.
	ErrDoubleFree = errors.New("malloc: double free")

	// ErrCorrupted indicates a header that failed validation, or a pointer
	// that does not refer to a header of this allocator.
	ErrCorrupted = errors.New("malloc: heap corrupted")
)

// Fault is an invariant violation detected by the C-style entry points.
// The default fault handler panics with a *Fault.
type Fault struct {
	Op   string // "malloc", "free", "realloc" or "calloc"
	Addr int    // payload address of the offending pointer, 0 if none
	Err  error  // wraps ErrDoubleFree or ErrCorrupted
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s(%#x): %v", f.Op, f.Addr, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// isFatal reports whether err is an invariant violation rather than a
// resource or argument error.
func isFatal(err error) bool {
	return errors.Is(err, ErrDoubleFree) || errors.Is(err, ErrCorrupted)
}
