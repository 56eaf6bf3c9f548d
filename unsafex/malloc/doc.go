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

// Package malloc implements the classic first-fit heap allocator on top of
// a break-style growth primitive:
//
//   - Every block is prefixed by a fixed-size header recording its
//     capacity, free flag and a debug tag.
//   - Headers form an append-only chain in creation order. Blocks are
//     never removed, split or coalesced; release only flips the free flag.
//   - Alloc reuses the first released block large enough, as it is, and
//     grows the segment otherwise. The heap never shrinks.
//   - Double free and corrupted headers are invariant violations. The
//     result-typed API (Alloc, Release, Resize, AllocZeroed) returns them
//     as ErrDoubleFree and ErrCorrupted; the C-style API (Malloc, Free,
//     Realloc, Calloc) panics, unless Option.OnFault says otherwise.
//
// Types and functions of this package are not thread safe.
package malloc
