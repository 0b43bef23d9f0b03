package mask

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/l3aro/go-mask-analysis/pkg/ir"
)

// Print writes the mask graph: every node, then the mask information per
// block, per divergent loop and per loop exit, in function order.
func (a *Analysis) Print(w io.Writer) {
	fmt.Fprintf(w, "mask graph of %s\n", a.fn.Name)

	fmt.Fprintln(w, "nodes:")
	for i := range a.arena.nodes {
		fmt.Fprintf(w, "  %s\n", a.arena.view(NodeID(i)))
	}

	fmt.Fprintln(w, "blocks:")
	for _, b := range orderedBlocks(a.fn, a.blocks) {
		bi := a.blocks[b]
		exits := make([]string, len(bi.exits))
		for i, id := range bi.exits {
			exits[i] = id.String()
		}
		fmt.Fprintf(w, "  %s: entry %s exits [%s]\n", b, bi.entry, strings.Join(exits, " "))
	}

	if len(a.loopMasks) > 0 {
		fmt.Fprintln(w, "loops:")
		for _, h := range orderedBlocks(a.fn, a.loopMasks) {
			li := a.loopMasks[h]
			fmt.Fprintf(w, "  loop(%s): phi %s combined %s\n", h, li.maskPhi, li.combined)
		}
	}

	if len(a.exits) > 0 {
		fmt.Fprintln(w, "loop exits:")
		for _, b := range orderedBlocks(a.fn, a.exits) {
			ei := a.exits[b]
			fmt.Fprintf(w, "  %s->%s: innermost loop(%s) top-level loop(%s)\n",
				ei.exiting, ei.target, ei.innermost, ei.topLevel)
			for _, h := range orderedBlocks(a.fn, ei.phis) {
				update := NoNode
				if id, ok := ei.updates[h]; ok {
					update = id
				}
				fmt.Fprintf(w, "    loop(%s): phi %s update %s\n", h, ei.phis[h], update)
			}
		}
	}
}

// String returns the output of Print.
func (a *Analysis) String() string {
	var sb strings.Builder
	a.Print(&sb)
	return sb.String()
}

// orderedBlocks returns the keys of m in function order. Keys that are not
// blocks of the function, such as split blocks not yet inserted, come last in
// ID order.
func orderedBlocks[V any](fn *ir.Function, m map[*ir.Block]V) []*ir.Block {
	pos := make(map[*ir.Block]int, len(fn.Blocks))
	for i, b := range fn.Blocks {
		pos[b] = i
	}
	keys := make([]*ir.Block, 0, len(m))
	for b := range m {
		keys = append(keys, b)
	}
	sort.Slice(keys, func(i, j int) bool {
		pi, iok := pos[keys[i]]
		pj, jok := pos[keys[j]]
		switch {
		case iok && jok:
			return pi < pj
		case iok != jok:
			return iok
		default:
			return keys[i].ID < keys[j].ID
		}
	})
	return keys
}
