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

//go:build !linux && !darwin && !freebsd

package brk

import "fmt"

// New returns a segment of the given capacity. Without mmap support the
// reservation is an ordinary heap buffer.
func New(capacity int) (*Segment, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("brk: capacity must be > 0, got %d", capacity)
	}
	return NewBytes(capacity), nil
}
