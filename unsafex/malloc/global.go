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
	"sync"

	"github.com/cloudwego/brkmalloc/unsafex/brk"
)

// DefaultHeapCapacity is the address space reserved by the default
// allocator on first use.
const DefaultHeapCapacity = 256 << 20

var (
	defaultOnce      sync.Once
	defaultAllocator *Allocator
	defaultErr       error
)

// Default returns the process-wide allocator, creating its segment on
// first use. Like every Allocator it must only be used from one goroutine
// at a time.
func Default() (*Allocator, error) {
	defaultOnce.Do(func() {
		seg, err := brk.New(DefaultHeapCapacity)
		if err != nil {
			defaultErr = err
			return
		}
		defaultAllocator = NewAllocator(seg, nil)
	})
	return defaultAllocator, defaultErr
}

// Malloc allocates from the default allocator. See (*Allocator).Malloc.
func Malloc(size int) Ptr {
	a, err := Default()
	if err != nil {
		return Nil
	}
	return a.Malloc(size)
}

// Free releases to the default allocator. See (*Allocator).Free.
func Free(p Ptr) {
	if p.IsNil() {
		return
	}
	a, err := Default()
	if err != nil {
		panic(err)
	}
	a.Free(p)
}

// Realloc resizes with the default allocator. See (*Allocator).Realloc.
func Realloc(p Ptr, newSize int) Ptr {
	a, err := Default()
	if err != nil {
		return Nil
	}
	return a.Realloc(p, newSize)
}

// Calloc allocates zeroed memory from the default allocator.
// See (*Allocator).Calloc.
func Calloc(count, size int) Ptr {
	a, err := Default()
	if err != nil {
		return Nil
	}
	return a.Calloc(count, size)
}

// Bytes returns the payload of p in the default allocator.
func Bytes(p Ptr) []byte {
	if p.IsNil() {
		return nil
	}
	a, err := Default()
	if err != nil {
		panic(err)
	}
	return a.Bytes(p)
}
