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
	"bytes"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cloudwego/brkmalloc/unsafex/malloc"
)

func init() {
	rootCmd.AddCommand(newScenarioCmd())
}

func newScenarioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenario",
		Short: "Replay the reference allocation scenario",
		Long: `The scenario command replays the reference sequence on a fresh heap:

  malloc(25), write 21 bytes
  malloc(30)            no released block, carves a new one
  free the first block
  malloc(20)            reuses the released 25 byte block
  calloc(5, 4)          carves 20 zeroed bytes
  realloc(second, 50)   relocates, keeping the 30 byte prefix

Each step is checked against the expected outcome and the chain is verified
at the end.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd.OutOrStdout())
		},
	}
}

type scenarioStep struct {
	Call   string `json:"call"`
	Addr   string `json:"addr,omitempty"`
	Result string `json:"result,omitempty"`
}

type scenarioReport struct {
	Steps []scenarioStep `json:"steps"`
	Chain []string       `json:"chain"`
	Stats statsView      `json:"stats"`
}

func runScenario(w io.Writer) error {
	a, seg, err := newHeap()
	if err != nil {
		return err
	}
	defer seg.Release()

	var report scenarioReport
	step := func(call string, p malloc.Ptr, result string) {
		s := scenarioStep{Call: call, Result: result}
		if !p.IsNil() {
			s.Addr = p.String()
		}
		report.Steps = append(report.Steps, s)
	}
	carved := func(before malloc.Stats) string {
		if a.Stats().Grows > before.Grows {
			return "carved"
		}
		return "reused"
	}

	const text = "first-fit reuse demo!"
	before := a.Stats()
	p1 := a.Malloc(25)
	if p1.IsNil() {
		return fmt.Errorf("malloc(25): %w", malloc.ErrOutOfMemory)
	}
	copy(a.Bytes(p1), text)
	step("malloc(25)", p1, carved(before))

	before = a.Stats()
	p2 := a.Malloc(30)
	if p2.IsNil() {
		return fmt.Errorf("malloc(30): %w", malloc.ErrOutOfMemory)
	}
	if carved(before) != "carved" {
		return fmt.Errorf("malloc(30) reused a block, none was free")
	}
	for i, b := 0, a.Bytes(p2); i < len(b); i++ {
		b[i] = 'A' + byte(i%26)
	}
	prefix := append([]byte(nil), a.Bytes(p2)...)
	step("malloc(30)", p2, "carved")

	a.Free(p1)
	step(fmt.Sprintf("free(%v)", p1), malloc.Nil, "released")

	p3 := a.Malloc(20)
	if p3 != p1 {
		return fmt.Errorf("malloc(20) returned %v, want the released block %v", p3, p1)
	}
	if got := string(a.Bytes(p3)[:len(text)]); got != text {
		return fmt.Errorf("reused block content %q, want %q", got, text)
	}
	step("malloc(20)", p3, fmt.Sprintf("reused (capacity %d, content kept)", a.UsableSize(p3)))

	before = a.Stats()
	p4 := a.Calloc(5, 4)
	if p4.IsNil() {
		return fmt.Errorf("calloc(5, 4): %w", malloc.ErrOutOfMemory)
	}
	if !bytes.Equal(a.Bytes(p4), make([]byte, 20)) || carved(before) != "carved" {
		return fmt.Errorf("calloc(5, 4) did not carve 20 zero bytes")
	}
	step("calloc(5, 4)", p4, "carved, 20 zero bytes")

	p5 := a.Realloc(p2, 50)
	if p5.IsNil() || p5 == p2 {
		return fmt.Errorf("realloc(%v, 50) returned %v, want a new block", p2, p5)
	}
	if !bytes.Equal(a.Bytes(p5)[:len(prefix)], prefix) {
		return fmt.Errorf("realloc(%v, 50) lost the %d byte prefix", p2, len(prefix))
	}
	step(fmt.Sprintf("realloc(%v, 50)", p2), p5, fmt.Sprintf("relocated, %d bytes kept", len(prefix)))

	if err := a.Check(); err != nil {
		return err
	}
	a.Walk(func(b malloc.Block) bool {
		report.Chain = append(report.Chain, b.String())
		return true
	})
	report.Stats = newStatsView(a.Stats())

	if jsonOut {
		return printJSON(w, report)
	}
	for _, s := range report.Steps {
		if s.Addr == "" {
			fmt.Fprintf(w, "%-18s %s\n", s.Call, s.Result)
			continue
		}
		fmt.Fprintf(w, "%-18s -> %-6s %s\n", s.Call, s.Addr, s.Result)
	}
	fmt.Fprintln(w, "\nchain:")
	for _, c := range report.Chain {
		fmt.Fprintf(w, "  %s\n", c)
	}
	fmt.Fprintln(w)
	printStats(w, a.Stats())
	fmt.Fprintln(w, "check:   ok")
	return nil
}
