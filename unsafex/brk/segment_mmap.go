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

//go:build linux || darwin || freebsd

package brk

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// New reserves capacity bytes of anonymous address space. Pages start out
// inaccessible and are committed read-write as the break crosses them.
func New(capacity int) (*Segment, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("brk: capacity must be > 0, got %d", capacity)
	}
	pagesize := unix.Getpagesize()
	size := alignUp(capacity, pagesize)
	full, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("brk: reserve %d bytes: %w", size, err)
	}
	s := &Segment{mem: full[:capacity:capacity]}
	s.commit = func(from, to int) (int, error) {
		end := alignUp(to, pagesize)
		if err := unix.Mprotect(full[from:end], unix.PROT_READ|unix.PROT_WRITE); err != nil {
			return from, err
		}
		return end, nil
	}
	s.release = func() error {
		return unix.Munmap(full)
	}
	return s, nil
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
