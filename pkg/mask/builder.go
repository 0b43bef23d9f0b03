package mask

import (
	"fmt"

	"github.com/l3aro/go-mask-analysis/pkg/ir"
	"github.com/l3aro/go-mask-analysis/pkg/loops"
)

// Analyze builds the mask graph. It walks the CFG from its sinks up through
// predecessors so that every predecessor edge mask exists before a block's
// entry mask refers to it, then wires the exit masks of divergent loops.
//
// On error the graph is discarded and every query panics.
func (a *Analysis) Analyze() error {
	if a.analyzed {
		return ErrAlreadyAnalyzed
	}
	if err := a.buildGraph(); err != nil {
		a.resetGraph()
		return fmt.Errorf("mask analysis of %s: %w", a.fn.Name, err)
	}
	a.analyzed = true
	a.logger.Debug("mask graph built", "function", a.fn.Name, "nodes", a.arena.len(),
		"blocks", len(a.blocks), "loops", len(a.loopMasks), "exits", len(a.exits))
	return nil
}

func (a *Analysis) buildGraph() error {
	a.reachable = a.fn.Reachable()
	visited := make(map[*ir.Block]bool, len(a.fn.Blocks))

	for _, b := range a.fn.Blocks {
		if a.reachable[b] && len(b.Succs) == 0 {
			if err := a.buildBlock(b, visited); err != nil {
				return err
			}
		}
	}
	// Blocks that cannot reach a sink, such as the body of an endless loop.
	for _, b := range a.fn.Blocks {
		if a.reachable[b] {
			if err := a.buildBlock(b, visited); err != nil {
				return err
			}
		}
	}

	for _, l := range a.loops.TopLevel() {
		if err := a.createLoopExitMasks(l); err != nil {
			return err
		}
	}
	return nil
}

func (a *Analysis) buildBlock(b *ir.Block, visited map[*ir.Block]bool) error {
	if visited[b] {
		return nil
	}

	isHeader := a.loops.IsLoopHeader(b)
	loop := a.loops.LoopFor(b)

	if isHeader {
		pre := loop.Preheader()
		if pre == nil {
			return fmt.Errorf("%s has no preheader: %w", loop, ErrMalformedLoop)
		}
		if err := a.buildBlock(pre, visited); err != nil {
			return err
		}
	} else {
		for _, p := range b.Preds {
			if !a.reachable[p] {
				continue
			}
			if err := a.buildBlock(p, visited); err != nil {
				return err
			}
		}
	}

	// A predecessor cycle through a loop header may have built b already.
	if visited[b] {
		return nil
	}

	entry, err := a.createEntryMask(b, loop, isHeader)
	if err != nil {
		return err
	}
	exits, err := a.createExitMasks(b, entry)
	if err != nil {
		return err
	}
	a.blocks[b] = &blockInfo{entry: entry, exits: exits}
	visited[b] = true
	a.logger.Debug("block masks", "block", b, "entry", a.arena.view(entry).Kind, "exits", len(exits))

	if !isHeader {
		return nil
	}

	divergent := a.oracle.IsDivergentLoop(loop)
	latches := loop.Latches()
	if divergent && len(latches) != 1 {
		return fmt.Errorf("divergent %s has %d latches: %w", loop, len(latches), ErrMalformedLoop)
	}
	for _, latch := range latches {
		if err := a.buildBlock(latch, visited); err != nil {
			return err
		}
	}
	if !divergent {
		return nil
	}

	phi := a.arena.at(entry)
	if phi.kind != KindLoopMaskPhi {
		return fmt.Errorf("header %s of divergent %s has a %s entry mask: %w",
			b, loop, phi.kind, ErrOracleMismatch)
	}
	latch := latches[0]
	latchMask := a.exitNodeTo(latch, b)
	phi = a.arena.at(entry)
	phi.operands = append(phi.operands, latchMask)
	phi.incoming = append(phi.incoming, latch)
	a.logger.Debug("closed loop mask phi", "loop", loop, "latch", latch)
	return nil
}

// exitNodeTo is ExitMaskNodeTo for use during construction, before the
// analysis is marked as built.
func (a *Analysis) exitNodeTo(b, succ *ir.Block) NodeID {
	bi, ok := a.blocks[b]
	if !ok {
		panic(fmt.Sprintf("mask: block %s was not built before its successor %s", b, succ))
	}
	return bi.exits[succIndex(b, succ)]
}

// edgeMasks returns the exit masks of the reachable incoming edges of b in
// predecessor order, together with the predecessor of each. Repeated
// predecessors map to successive parallel edges.
func (a *Analysis) edgeMasks(b *ir.Block) ([]NodeID, []*ir.Block) {
	seen := make(map[*ir.Block]int)
	var masks []NodeID
	var preds []*ir.Block
	for _, p := range b.Preds {
		k := seen[p]
		seen[p]++
		if !a.reachable[p] {
			continue
		}
		idx := -1
		for i, s := range p.Succs {
			if s != b {
				continue
			}
			if k == 0 {
				idx = i
				break
			}
			k--
		}
		masks = append(masks, a.blocks[p].exits[idx])
		preds = append(preds, p)
	}
	return masks, preds
}

func (a *Analysis) createEntryMask(b *ir.Block, loop *loops.Loop, isHeader bool) (NodeID, error) {
	ip := ir.AtStart(b)

	if b == a.fn.Entry() {
		if idx := a.oracle.MaskParamIndex(); idx >= 0 {
			if idx >= len(a.fn.Params) || a.fn.Params[idx].Type != ir.TypeBool {
				return NoNode, fmt.Errorf("mask parameter %d is not a bool parameter: %w", idx, ErrOracleMismatch)
			}
			return a.newValue(a.fn.Params[idx], ip), nil
		}
		if !a.disableCFDivergence && !a.oracle.IsUniformBlock(b) {
			return NoNode, fmt.Errorf("entry block %s is varying but there is no mask parameter: %w", b, ErrOracleMismatch)
		}
		return a.newConstant(true, ip), nil
	}

	if a.oracle.IsAlwaysByAll(b) || a.oracle.IsAlwaysByAllOrNone(b) {
		if a.oracle.MaskParamIndex() >= 0 {
			return NoNode, fmt.Errorf("block %s is always executed by all lanes in a function with a mask parameter: %w", b, ErrOracleMismatch)
		}
		return a.newConstant(true, ip), nil
	}

	// A header is entered from its preheader and its latches, never from a
	// unique predecessor.
	if isHeader {
		pre := loop.Preheader()
		if !a.oracle.IsDivergentLoop(loop) {
			id := a.newNode(KindReference, ip)
			a.arena.at(id).incoming = []*ir.Block{pre, b}
			return id, nil
		}
		id := a.newNode(KindLoopMaskPhi, ip, a.exitNodeTo(pre, b))
		a.arena.at(id).incoming = []*ir.Block{pre}
		a.loopMasks[b] = &loopInfo{maskPhi: id, combined: NoNode}
		return id, nil
	}

	masks, preds := a.edgeMasks(b)
	if len(preds) == 1 {
		id := a.newNode(KindReference, ip)
		a.arena.at(id).incoming = []*ir.Block{preds[0], b}
		return id, nil
	}
	if isUniquePred(preds) {
		// Parallel edges from one block: any of them lets lanes in.
		return a.newNode(KindDisjunction, ip, masks...), nil
	}

	if a.oracle.IsUniformBlock(b) {
		masks, preds = a.mergeParallelEdges(masks, preds)
		id := a.newNode(KindPhi, ip, masks...)
		a.arena.at(id).incoming = preds
		return id, nil
	}
	return a.newNode(KindDisjunction, ip, masks...), nil
}

// mergeParallelEdges folds the masks of parallel edges into one
// disjunction per predecessor, keeping first-seen predecessor order. A phi
// takes a single value per incoming block.
func (a *Analysis) mergeParallelEdges(masks []NodeID, preds []*ir.Block) ([]NodeID, []*ir.Block) {
	byPred := make(map[*ir.Block][]NodeID, len(preds))
	var order []*ir.Block
	for i, p := range preds {
		if _, ok := byPred[p]; !ok {
			order = append(order, p)
		}
		byPred[p] = append(byPred[p], masks[i])
	}
	if len(order) == len(preds) {
		return masks, preds
	}

	merged := make([]NodeID, len(order))
	for i, p := range order {
		ms := byPred[p]
		if len(ms) == 1 {
			merged[i] = ms[0]
			continue
		}
		merged[i] = a.newNode(KindDisjunction, ir.AtEnd(p), ms...)
	}
	return merged, order
}

func isUniquePred(preds []*ir.Block) bool {
	for _, p := range preds[1:] {
		if p != preds[0] {
			return false
		}
	}
	return true
}

func (a *Analysis) createExitMasks(b *ir.Block, entry NodeID) ([]NodeID, error) {
	switch len(b.Succs) {
	case 0:
		return nil, nil
	case 1:
		return []NodeID{entry}, nil
	}

	ip := ir.AtEnd(b)
	uniform := a.oracle.IsUniformTerminator(b)

	var conds []NodeID
	switch b.Term.Kind {
	case ir.TermBranch:
		cond := a.newValue(b.Term.Cond, ip)
		if uniform {
			// All lanes take the same edge: it carries the whole entry mask
			// or nothing.
			return []NodeID{
				a.newNode(KindSelect, ip, cond, entry, a.newConstant(false, ip)),
				a.newNode(KindSelect, ip, cond, a.newConstant(false, ip), entry),
			}, nil
		}
		conds = []NodeID{cond, a.newNode(KindNegate, ip, cond)}
	case ir.TermSwitch:
		conds = a.switchConditions(b, ip)
	default:
		return nil, fmt.Errorf("block %s ends in %s with %d successors: %w",
			b, b.Term.Kind, len(b.Succs), ErrUnsupportedTerminator)
	}

	exits := make([]NodeID, len(b.Succs))
	for i, cond := range conds {
		if uniform {
			exits[i] = a.newNode(KindSelect, ip, cond, entry, a.newConstant(false, ip))
		} else {
			exits[i] = a.newNode(KindConjunction, ip, entry, cond)
		}
	}
	return exits, nil
}

// switchConditions returns, per successor of a switch block, a node that is
// true for the lanes taking that edge. Case comparisons are inserted before
// the terminator.
func (a *Analysis) switchConditions(b *ir.Block, ip *ir.InsertPoint) []NodeID {
	t := b.Term
	conds := make([]NodeID, len(b.Succs))
	cases := make([]NodeID, len(t.Cases))
	for i, c := range t.Cases {
		cmp := ip.Insert(ir.OpEq, ir.TypeBool, fmt.Sprintf("switchcmp%d", i+1), t.Cond, a.fn.ConstInt(c))
		cases[i] = a.newValue(cmp, ip)
		conds[i+1] = cases[i]
	}
	// The default edge is taken when no case matches.
	if len(cases) == 1 {
		conds[0] = a.newNode(KindNegate, ip, cases[0])
	} else {
		conds[0] = a.newNode(KindNegate, ip, a.newNode(KindDisjunction, ip, cases...))
	}
	return conds
}
