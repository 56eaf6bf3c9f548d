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

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cloudwego/brkmalloc/unsafex/brk"
	"github.com/cloudwego/brkmalloc/unsafex/malloc"
)

var (
	// Global flags
	verbose  bool
	jsonOut  bool
	capacity string
)

var rootCmd = &cobra.Command{
	Use:   "brkmalloc",
	Short: "Exercise the first-fit brk allocator",
	Long: `brkmalloc drives the first-fit allocator over a fresh data segment.
It replays the reference scenario or runs a random workload, then verifies
the block chain and prints allocator statistics.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every growth and reuse to stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&capacity, "capacity", "64MiB", "Address space reserved for the heap")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newHeap reserves a segment of --capacity bytes and builds an allocator on it.
func newHeap() (*malloc.Allocator, *brk.Segment, error) {
	n, err := humanize.ParseBytes(capacity)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid --capacity %q: %w", capacity, err)
	}
	if n == 0 || n > uint64(maxInt) {
		return nil, nil, fmt.Errorf("invalid --capacity %q: out of range", capacity)
	}
	seg, err := brk.New(int(n))
	if err != nil {
		return nil, nil, err
	}
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return malloc.NewAllocator(seg, &malloc.Option{Logger: logger}), seg, nil
}

const maxInt = int(^uint(0) >> 1)

// statsView is the printable form of malloc.Stats.
type statsView struct {
	Blocks     int    `json:"blocks"`
	FreeBlocks int    `json:"free_blocks"`
	InUse      string `json:"in_use"`
	Free       string `json:"free"`
	Heap       string `json:"heap"`
	Grows      int    `json:"grows"`
	Reuses     int    `json:"reuses"`
	Frees      int    `json:"frees"`
}

func newStatsView(s malloc.Stats) statsView {
	return statsView{
		Blocks:     s.Blocks,
		FreeBlocks: s.FreeBlocks,
		InUse:      humanize.IBytes(uint64(s.InUseBytes)),
		Free:       humanize.IBytes(uint64(s.FreeBytes)),
		Heap:       humanize.IBytes(uint64(s.HeapBytes)),
		Grows:      s.Grows,
		Reuses:     s.Reuses,
		Frees:      s.Frees,
	}
}

func printStats(w io.Writer, s malloc.Stats) {
	v := newStatsView(s)
	fmt.Fprintf(w, "blocks:  %s (%s free)\n", humanize.Comma(int64(v.Blocks)), humanize.Comma(int64(v.FreeBlocks)))
	fmt.Fprintf(w, "in use:  %s\n", v.InUse)
	fmt.Fprintf(w, "free:    %s\n", v.Free)
	fmt.Fprintf(w, "heap:    %s\n", v.Heap)
	fmt.Fprintf(w, "grows:   %s\n", humanize.Comma(int64(v.Grows)))
	fmt.Fprintf(w, "reuses:  %s\n", humanize.Comma(int64(v.Reuses)))
	fmt.Fprintf(w, "frees:   %s\n", humanize.Comma(int64(v.Frees)))
}

// printJSON outputs data as JSON
func printJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
