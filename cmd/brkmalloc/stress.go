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
	"errors"
	"fmt"
	"io"
	"math/rand"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cloudwego/brkmalloc/unsafex/malloc"
)

var (
	stressOps     int
	stressSeed    int64
	stressMaxSize string
)

func init() {
	cmd := newStressCmd()
	cmd.Flags().IntVar(&stressOps, "ops", 10000, "Number of operations to run")
	cmd.Flags().Int64Var(&stressSeed, "seed", 1, "Random seed")
	cmd.Flags().StringVar(&stressMaxSize, "max-size", "4KiB", "Largest size requested by a single operation")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stress",
		Short: "Run a random malloc/free/realloc/calloc workload",
		Long: `The stress command runs a random workload against a fresh heap. Every
live block carries a byte pattern that is verified before the block is freed
or resized, calloc results are checked for zeros, and the chain is verified
at the end.

Example:
  brkmalloc stress --ops 100000 --seed 7 --max-size 64KiB
  brkmalloc stress --capacity 1MiB --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(cmd.OutOrStdout())
		},
	}
}

type stressReport struct {
	Ops        int       `json:"ops"`
	Seed       int64     `json:"seed"`
	OutOfMem   int       `json:"out_of_memory"`
	Mismatches int       `json:"mismatches"`
	Live       int       `json:"live"`
	Stats      statsView `json:"stats"`
}

type liveBlock struct {
	p    malloc.Ptr
	size int
	seed byte
}

var errContentMismatch = errors.New("content mismatch")

func runStress(w io.Writer) error {
	maxSize, err := humanize.ParseBytes(stressMaxSize)
	if err != nil {
		return fmt.Errorf("invalid --max-size %q: %w", stressMaxSize, err)
	}
	if maxSize > uint64(maxInt) {
		return fmt.Errorf("invalid --max-size %q: out of range", stressMaxSize)
	}
	a, seg, err := newHeap()
	if err != nil {
		return err
	}
	defer seg.Release()

	rng := rand.New(rand.NewSource(stressSeed))
	report := stressReport{Ops: stressOps, Seed: stressSeed}
	var blocks []liveBlock

	write := func(l liveBlock) {
		b := a.Bytes(l.p)[:l.size]
		for i := range b {
			b[i] = l.seed + byte(i)
		}
	}
	verify := func(l liveBlock) {
		b := a.Bytes(l.p)[:l.size]
		for i := range b {
			if b[i] != l.seed+byte(i) {
				report.Mismatches++
				return
			}
		}
	}
	take := func() liveBlock {
		i := rng.Intn(len(blocks))
		l := blocks[i]
		blocks[i] = blocks[len(blocks)-1]
		blocks = blocks[:len(blocks)-1]
		return l
	}
	size := func() int {
		return rng.Intn(int(maxSize) + 1)
	}

	for i := 0; i < stressOps; i++ {
		switch op := rng.Intn(10); {
		case op < 4 || len(blocks) == 0:
			l := liveBlock{size: size(), seed: byte(rng.Intn(256))}
			if l.p = a.Malloc(l.size); l.p.IsNil() {
				report.OutOfMem++
				continue
			}
			write(l)
			blocks = append(blocks, l)
		case op < 7:
			l := take()
			verify(l)
			a.Free(l.p)
		case op < 9:
			l := take()
			verify(l)
			n := size()
			np := a.Realloc(l.p, n)
			if np.IsNil() {
				report.OutOfMem++
				blocks = append(blocks, l)
				continue
			}
			l.p = np
			verify(l)
			l.size, l.seed = n, byte(rng.Intn(256))
			write(l)
			blocks = append(blocks, l)
		default:
			count := rng.Intn(8) + 1
			l := liveBlock{size: count * (size() / 8), seed: byte(rng.Intn(256))}
			if l.p = a.Calloc(count, l.size/count); l.p.IsNil() {
				report.OutOfMem++
				continue
			}
			for _, c := range a.Bytes(l.p) {
				if c != 0 {
					report.Mismatches++
					break
				}
			}
			write(l)
			blocks = append(blocks, l)
		}
	}
	for _, l := range blocks {
		verify(l)
	}
	if err := a.Check(); err != nil {
		return err
	}
	report.Live = len(blocks)
	report.Stats = newStatsView(a.Stats())

	if jsonOut {
		if err := printJSON(w, report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(w, "ops:     %s (seed %d)\n", humanize.Comma(int64(report.Ops)), report.Seed)
		fmt.Fprintf(w, "oom:     %s\n", humanize.Comma(int64(report.OutOfMem)))
		fmt.Fprintf(w, "live:    %s\n", humanize.Comma(int64(report.Live)))
		printStats(w, a.Stats())
	}
	if report.Mismatches > 0 {
		return fmt.Errorf("%w in %d blocks", errContentMismatch, report.Mismatches)
	}
	return nil
}
