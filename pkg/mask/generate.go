package mask

import (
	"github.com/l3aro/go-mask-analysis/pkg/ir"
	"github.com/l3aro/go-mask-analysis/pkg/loops"
)

// GenerateOptions controls which masks Generate materializes.
type GenerateOptions struct {
	// MaterializeAll lowers every entry and exit mask instead of only the
	// ones linearization needs.
	MaterializeAll bool
}

// Generate materializes the masks a linearizing code generator needs and
// reports each block's entry mask to annot as its predicate:
//
//   - entry masks of blocks that may run with only some lanes active;
//   - edge masks into blocks with varying phis, blocks inside divergent
//     loops and mandatory blocks;
//   - loop exit updates of divergent loops, or the plain edge mask for
//     optional exits, then the combined exit masks, innermost loops first.
func Generate(a *Analysis, annot Annotator, opts GenerateOptions) *Materializer {
	m := NewMaterializer(a, annot)
	m.Generate(opts)
	return m
}

// Generate runs the generation driver on the graph of m.
func (m *Materializer) Generate(opts GenerateOptions) {
	a := m.a
	for _, b := range a.fn.Blocks {
		bi, ok := a.blocks[b]
		if !ok {
			continue
		}
		if bi.entry != NoNode && (opts.MaterializeAll || a.oracle.IsNotAlwaysByAll(b)) {
			v := m.Materialize(bi.entry)
			a.logger.Debug("entry mask", "block", b, "value", v)
		}
		for i, succ := range b.Succs {
			if i >= len(bi.exits) {
				break
			}
			if !opts.MaterializeAll && !m.needsEdgeMask(succ) {
				continue
			}
			v := m.Materialize(bi.exits[i])
			a.logger.Debug("edge mask", "from", b, "to", succ, "value", v)
		}
	}

	for _, l := range a.loops.TopLevel() {
		m.materializeLoopExitMasks(l)
	}
	for _, l := range a.loops.TopLevel() {
		m.materializeCombinedLoopExitMasks(l)
	}

	if m.annot == nil {
		return
	}
	for _, b := range a.fn.Blocks {
		bi, ok := a.blocks[b]
		if !ok || bi.entry == NoNode {
			continue
		}
		if v := a.arena.at(bi.entry).value; v != nil {
			m.annot.SetPredicate(b, v)
		}
	}
}

// needsEdgeMask reports whether linearization reads the mask of edges into b.
func (m *Materializer) needsEdgeMask(b *ir.Block) bool {
	a := m.a
	if a.oracle.IsMandatory(b) {
		return true
	}
	if l := a.loops.LoopFor(b); l != nil && a.oracle.IsDivergentLoop(l) {
		return true
	}
	for _, phi := range b.Phis() {
		if !phi.Mask && !a.oracle.IsUniformValue(phi) {
			return true
		}
	}
	return false
}

func (m *Materializer) materializeLoopExitMasks(l *loops.Loop) {
	for _, sub := range l.SubLoops() {
		m.materializeLoopExitMasks(sub)
	}
	a := m.a
	if !a.oracle.IsDivergentLoop(l) {
		return
	}
	for _, e := range l.ExitEdges() {
		if a.oracle.IsUniformTerminator(e.From) {
			m.Materialize(a.ExitMaskNodeTo(e.From, e.To))
			continue
		}
		m.Materialize(a.LoopExitMaskUpdateNode(l, e.From))
	}
}

func (m *Materializer) materializeCombinedLoopExitMasks(l *loops.Loop) {
	for _, sub := range l.SubLoops() {
		m.materializeCombinedLoopExitMasks(sub)
	}
	a := m.a
	if !a.oracle.IsDivergentLoop(l) {
		return
	}
	if id := a.mustLoop(l).combined; id != NoNode {
		v := m.Materialize(id)
		a.logger.Debug("combined loop exit mask", "loop", l, "value", v)
	}
}
