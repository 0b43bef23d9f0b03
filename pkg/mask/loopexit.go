package mask

import (
	"fmt"

	"github.com/l3aro/go-mask-analysis/pkg/ir"
	"github.com/l3aro/go-mask-analysis/pkg/loops"
)

// createLoopExitMasks wires the exit phis, exit updates and the combined exit
// mask of l and every loop nested in it. Exit phis of l are registered before
// recursing so that nested loops see which of their exits also leave l; the
// updates of l are built after recursing so that the updates of nested loops
// exist when l chains onto them.
func (a *Analysis) createLoopExitMasks(l *loops.Loop) error {
	divergent := a.oracle.IsDivergentLoop(l)
	header := l.Header()

	var exits []loops.Edge
	if divergent {
		for _, e := range l.ExitEdges() {
			// Optional exits keep their plain edge mask.
			if a.oracle.IsUniformTerminator(e.From) {
				continue
			}
			exits = append(exits, e)
		}
		if err := a.registerExits(l, exits); err != nil {
			return err
		}
	}

	for _, sub := range l.SubLoops() {
		if err := a.createLoopExitMasks(sub); err != nil {
			return err
		}
	}

	if !divergent {
		return nil
	}

	pre, latch := l.Preheader(), l.Latch()
	if pre == nil || latch == nil {
		return fmt.Errorf("divergent %s needs a preheader and a unique latch: %w", l, ErrMalformedLoop)
	}

	for _, e := range exits {
		info := a.exits[e.From]
		ip := ir.AtEnd(e.From)
		phi := info.phis[header]

		increment := NoNode
		if info.innermost != header && len(info.phis) > 1 {
			increment = a.nestedUpdate(l, info)
		}
		if increment == NoNode {
			increment = a.exitNodeTo(e.From, e.To)
		}

		update := a.newNode(KindLoopExitUpdate, ip, phi, increment)
		info.updates[header] = update

		// The outermost divergent loop of the exit publishes every lane that
		// ever left over the edge.
		if info.outermost == header {
			a.replaceEdgeMask(e.From, e.To, update)
		}

		n := a.arena.at(phi)
		n.operands = []NodeID{a.newConstant(false, ip), update}
		n.incoming = []*ir.Block{pre, latch}

		a.logger.Debug("loop exit update", "loop", l, "exiting", e.From, "exit", e.To,
			"increment", a.arena.view(increment).Kind)
	}

	combined := NoNode
	latchIP := ir.AtEnd(latch)
	for _, e := range exits {
		update := a.exits[e.From].updates[header]
		// Lanes that left during the current iteration of l.
		left := a.arena.at(update).operands[1]
		if combined == NoNode {
			combined = left
			continue
		}
		combined = a.newNode(KindDisjunction, latchIP, combined, left)
	}
	a.loopMasks[header].combined = combined
	return nil
}

// replaceEdgeMask makes id the mask of the edge from -> to, including where
// the entry mask of to already merged the old edge mask.
func (a *Analysis) replaceEdgeMask(from, to *ir.Block, id NodeID) {
	exits := a.blocks[from].exits
	i := succIndex(from, to)
	old := exits[i]
	exits[i] = id

	entry := a.blocks[to].entry
	n := a.arena.at(entry)
	if n.kind != KindPhi && n.kind != KindDisjunction {
		return
	}
	for j, op := range n.operands {
		if op == old {
			n.operands[j] = id
		}
	}
}

func (a *Analysis) registerExits(l *loops.Loop, exits []loops.Edge) error {
	header := l.Header()
	headerIP := ir.AtStart(header)
	if _, ok := a.loopMasks[header]; !ok {
		return fmt.Errorf("divergent %s has no loop mask phi: %w", l, ErrOracleMismatch)
	}

	seen := make(map[*ir.Block]bool, len(exits))
	for _, e := range exits {
		if seen[e.From] {
			return fmt.Errorf("block %s leaves divergent %s over more than one edge: %w", e.From, l, ErrMalformedLoop)
		}
		seen[e.From] = true

		if info, ok := a.exits[e.From]; ok {
			if info.target != e.To {
				return fmt.Errorf("block %s leaves nested loops towards %s and %s: %w",
					e.From, info.target, e.To, ErrMalformedLoop)
			}
			info.phis[header] = a.newNode(KindLoopExitPhi, headerIP)
			continue
		}

		info := &exitInfo{
			exiting:   e.From,
			target:    e.To,
			innermost: a.loops.LoopFor(e.From).Header(),
			outermost: header,
			phis:      map[*ir.Block]NodeID{header: a.newNode(KindLoopExitPhi, headerIP)},
			updates:   make(map[*ir.Block]NodeID),
		}
		if top := a.loops.TopLevelLoopOfExit(e.From, e.To); top != nil {
			info.topLevel = top.Header()
		}
		a.exits[e.From] = info
	}
	return nil
}

// nestedUpdate returns the update of the closest divergent loop nested in l
// that the exit of info also leaves, or NoNode if l is the innermost such loop.
func (a *Analysis) nestedUpdate(l *loops.Loop, info *exitInfo) NodeID {
	for next := a.loops.NextNestedLoopOfExit(l, info.exiting); next != nil; next = a.loops.NextNestedLoopOfExit(next, info.exiting) {
		if id, ok := info.updates[next.Header()]; ok {
			return id
		}
	}
	return NoNode
}
