package mask

import (
	"fmt"

	"github.com/l3aro/go-mask-analysis/pkg/ir"
)

// The operations in this file let CFG transformations that run after mask
// generation keep the graph in sync with the function they rewrite.

// CopyMaskInfoToNewBlock gives newBlock the entry and exit masks of oldBlock,
// sharing their nodes. It is used when a block is split.
func (a *Analysis) CopyMaskInfoToNewBlock(newBlock, oldBlock *ir.Block) {
	old := a.mustBlock(oldBlock)
	if _, ok := a.blocks[newBlock]; ok {
		panic(fmt.Sprintf("mask: block %s already has mask information", newBlock))
	}
	a.blocks[newBlock] = &blockInfo{
		entry: old.entry,
		exits: append([]NodeID(nil), old.exits...),
	}
}

// ClearEntryMask drops the entry mask of b.
func (a *Analysis) ClearEntryMask(b *ir.Block) {
	a.mustBlock(b).entry = NoNode
}

// ClearExitMasks drops all exit masks of b.
func (a *Analysis) ClearExitMasks(b *ir.Block) {
	a.mustBlock(b).exits = nil
}

// UpdateEntryMask replaces the entry mask of b with the existing value v.
func (a *Analysis) UpdateEntryMask(b *ir.Block, v *ir.Value, ip *ir.InsertPoint) {
	if v == nil {
		panic("mask: UpdateEntryMask with nil value")
	}
	bi := a.mustBlock(b)
	bi.entry = a.newValue(v, ip)
}

// UpdateExitMasks replaces the exit masks of b with one existing value per
// outgoing edge.
func (a *Analysis) UpdateExitMasks(b *ir.Block, ip *ir.InsertPoint, values ...*ir.Value) {
	if len(values) == 0 || values[0] == nil {
		panic("mask: UpdateExitMasks needs at least one value")
	}
	bi := a.mustBlock(b)
	bi.exits = bi.exits[:0:0]
	for _, v := range values {
		if v == nil {
			break
		}
		bi.exits = append(bi.exits, a.newValue(v, ip))
	}
}

// RemoveExitMask deletes the i-th exit mask of b, shifting later ones down.
func (a *Analysis) RemoveExitMask(b *ir.Block, i int) {
	bi := a.mustBlock(b)
	if i < 0 || i >= len(bi.exits) {
		panic(fmt.Sprintf("mask: block %s has no exit mask %d", b, i))
	}
	bi.exits = append(bi.exits[:i:i], bi.exits[i+1:]...)
}

// RemoveExitMaskTo deletes the exit mask of the edge from b to succ.
func (a *Analysis) RemoveExitMaskTo(b, succ *ir.Block) {
	a.RemoveExitMask(b, succIndex(b, succ))
}

// MapMaskValues replaces materialized values according to m. Values missing
// from m are kept.
func (a *Analysis) MapMaskValues(m map[*ir.Value]*ir.Value) {
	for i := range a.arena.nodes {
		n := &a.arena.nodes[i]
		if n.value == nil {
			continue
		}
		if nv, ok := m[n.value]; ok {
			n.value = nv
		}
	}
}

// MapMaskInformation moves the whole graph onto a clone of the analyzed
// function: block keys, loop and exit information, node edges, insertion
// points and materialized values. Every block and insertion point the graph
// refers to must be present in m. Call Rebind afterwards to query loops of
// the clone.
func (a *Analysis) MapMaskInformation(m *ir.CloneMap) {
	a.mustBeAnalyzed()
	mapBlock := func(b *ir.Block) *ir.Block {
		if b == nil {
			return nil
		}
		nb, ok := m.Blocks[b]
		if !ok {
			panic(fmt.Sprintf("mask: block %s missing from clone map", b))
		}
		return nb
	}

	if nb, ok := m.Blocks[a.fn.Entry()]; ok {
		a.fn = nb.Func
	}

	blocks := make(map[*ir.Block]*blockInfo, len(a.blocks))
	for b, bi := range a.blocks {
		blocks[mapBlock(b)] = bi
	}
	a.blocks = blocks

	loopMasks := make(map[*ir.Block]*loopInfo, len(a.loopMasks))
	for h, li := range a.loopMasks {
		loopMasks[mapBlock(h)] = li
	}
	a.loopMasks = loopMasks

	exits := make(map[*ir.Block]*exitInfo, len(a.exits))
	for b, ei := range a.exits {
		ei.exiting = mapBlock(ei.exiting)
		ei.target = mapBlock(ei.target)
		ei.innermost = mapBlock(ei.innermost)
		ei.topLevel = mapBlock(ei.topLevel)
		ei.outermost = mapBlock(ei.outermost)
		phis := make(map[*ir.Block]NodeID, len(ei.phis))
		for h, id := range ei.phis {
			phis[mapBlock(h)] = id
		}
		updates := make(map[*ir.Block]NodeID, len(ei.updates))
		for h, id := range ei.updates {
			updates[mapBlock(h)] = id
		}
		ei.phis, ei.updates = phis, updates
		exits[mapBlock(b)] = ei
	}
	a.exits = exits

	reachable := make(map[*ir.Block]bool, len(a.reachable))
	for b, ok := range a.reachable {
		if nb, found := m.Blocks[b]; found {
			reachable[nb] = ok
		}
	}
	a.reachable = reachable

	for i := range a.arena.nodes {
		n := &a.arena.nodes[i]
		for j, b := range n.incoming {
			n.incoming[j] = mapBlock(b)
		}
		if n.insert != nil {
			ip := &ir.InsertPoint{Block: mapBlock(n.insert.Block)}
			if n.insert.Before != nil {
				before, ok := m.Values[n.insert.Before]
				if !ok {
					panic(fmt.Sprintf("mask: insertion point %s missing from clone map", n.insert))
				}
				ip.Before = before
			}
			n.insert = ip
		}
		if nv, ok := m.Values[n.value]; ok {
			n.value = nv
		}
	}
}

// Rebind replaces the loop provider and oracle, typically after
// MapMaskInformation moved the graph onto a cloned function.
func (a *Analysis) Rebind(lp LoopProvider, oracle Oracle) {
	a.loops = lp
	a.oracle = oracle
}

// InvalidateInsertPoints forgets every insertion point. Masks that are not
// materialized yet can no longer be synthesized afterwards.
func (a *Analysis) InvalidateInsertPoints() {
	for i := range a.arena.nodes {
		a.arena.nodes[i].insert = nil
	}
}
