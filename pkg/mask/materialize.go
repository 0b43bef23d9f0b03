package mask

import (
	"fmt"

	"github.com/l3aro/go-mask-analysis/pkg/ir"
)

// Materializer lowers mask nodes into boolean values of the analyzed
// function. Every node is lowered at most once; the value is stored on the
// node and reused by later requests.
type Materializer struct {
	a     *Analysis
	annot Annotator

	created int
	folded  int
}

// NewMaterializer returns a materializer for the graph of a. Synthesized
// values are reported to annot.
func NewMaterializer(a *Analysis, annot Annotator) *Materializer {
	a.mustBeAnalyzed()
	return &Materializer{a: a, annot: annot}
}

// Created returns the number of values synthesized so far.
func (m *Materializer) Created() int { return m.created }

// Folded returns the number of operations that simplified to an existing value.
func (m *Materializer) Folded() int { return m.folded }

// Materialize returns the value of id, synthesizing it and everything it
// depends on if needed.
//
// Loop phis lower their preheader operand, then create the phi and record it
// on the node, and only then lower the latch operand. The latch operand
// depends on the phi itself, so the phi must be visible before recursing.
func (m *Materializer) Materialize(id NodeID) *ir.Value {
	arena := &m.a.arena
	n := arena.at(id)
	if n.value != nil {
		return n.value
	}

	if n.kind.IsLoopPhi() {
		if len(n.operands) != 2 || len(n.incoming) != 2 {
			panic(fmt.Sprintf("mask: %s has %d operands, want preheader and latch", arena.view(id), len(n.operands)))
		}
		m.Materialize(n.operands[0])
	} else {
		for _, op := range n.operands {
			m.Materialize(op)
		}
	}

	n = arena.at(id)
	if n.value != nil {
		return n.value
	}

	var v *ir.Value
	switch n.kind {
	case KindConstant, KindValue:
		panic(fmt.Sprintf("mask: %s node %s has no value", n.kind, id))

	case KindNegate:
		v = m.not(m.operand(n, 0), m.insertPoint(id))

	case KindConjunction, KindDisjunction:
		if len(n.operands) == 0 {
			panic(fmt.Sprintf("mask: %s node %s has no operands", n.kind, id))
		}
		ip := m.insertPoint(id)
		v = m.operand(n, 0)
		for i := 1; i < len(n.operands); i++ {
			if n.kind == KindConjunction {
				v = m.and(v, m.operand(n, i), ip)
			} else {
				v = m.or(v, m.operand(n, i), ip, "")
			}
		}

	case KindSelect:
		v = m.sel(m.operand(n, 0), m.operand(n, 1), m.operand(n, 2), m.insertPoint(id))

	case KindPhi:
		phi := m.insertPoint(id).Block.NewPhi(ir.TypeBool, "")
		phi.Name = fmt.Sprintf("maskphi%d", phi.ID)
		for i := range n.operands {
			phi.AddIncoming(m.operand(n, i), n.incoming[i])
		}
		m.mark(phi)
		v = phi

	case KindLoopMaskPhi, KindLoopExitPhi:
		return m.loopPhi(id)

	case KindLoopExitUpdate:
		v = m.or(m.operand(n, 0), m.operand(n, 1), m.insertPoint(id), "exitupdate")

	case KindReference:
		v = m.Materialize(m.a.ExitMaskNodeTo(n.incoming[0], n.incoming[1]))

	default:
		panic(fmt.Sprintf("mask: cannot materialize node %s of unknown kind %s", id, n.kind))
	}

	arena.at(id).value = v
	m.a.logger.Debug("materialized", "node", id, "kind", n.kind, "value", v)
	return v
}

func (m *Materializer) loopPhi(id NodeID) *ir.Value {
	n := m.a.arena.at(id)
	base := "loopmask"
	if n.kind == KindLoopExitPhi {
		base = "loopexit"
	}
	phi := m.insertPoint(id).Block.NewPhi(ir.TypeBool, "")
	phi.Name = fmt.Sprintf("%s%d", base, phi.ID)
	phi.AddIncoming(m.operand(n, 0), n.incoming[0])
	m.mark(phi)

	n.value = phi
	latch := m.Materialize(n.operands[1])

	n = m.a.arena.at(id)
	phi.AddIncoming(latch, n.incoming[1])
	m.a.logger.Debug("materialized", "node", id, "kind", n.kind, "value", phi)
	return phi
}

func (m *Materializer) operand(n *node, i int) *ir.Value {
	v := m.a.arena.at(n.operands[i]).value
	if v == nil {
		panic(fmt.Sprintf("mask: operand %d (%s) was not materialized", i, n.operands[i]))
	}
	return v
}

func (m *Materializer) insertPoint(id NodeID) *ir.InsertPoint {
	ip := m.a.arena.at(id).insert
	if ip == nil {
		panic(fmt.Sprintf("mask: node %s needs a value but its insertion point was invalidated", id))
	}
	return ip
}

func (m *Materializer) mark(v *ir.Value) {
	v.Mask = true
	if m.annot != nil {
		m.annot.MarkMaskOperation(v)
	}
	m.created++
}

func (m *Materializer) emit(ip *ir.InsertPoint, op ir.Op, name string, args ...*ir.Value) *ir.Value {
	v := ip.Insert(op, ir.TypeBool, "", args...)
	if name != "" {
		v.Name = fmt.Sprintf("%s%d", name, v.ID)
	}
	m.mark(v)
	return v
}

func (m *Materializer) fold(v *ir.Value) *ir.Value {
	m.folded++
	return v
}

func (m *Materializer) not(x *ir.Value, ip *ir.InsertPoint) *ir.Value {
	fn := m.a.fn
	switch {
	case x.IsConst(true):
		return m.fold(fn.ConstBool(false))
	case x.IsConst(false):
		return m.fold(fn.ConstBool(true))
	case x.Op == ir.OpNot:
		return m.fold(x.Args[0])
	case x.Op == ir.OpXor:
		a, b := x.Args[0], x.Args[1]
		switch {
		case a.IsConst(true):
			return m.fold(b)
		case b.IsConst(true):
			return m.fold(a)
		case a == b:
			return m.fold(fn.ConstBool(true))
		}
	}
	return m.emit(ip, ir.OpNot, "", x)
}

func (m *Materializer) and(x, y *ir.Value, ip *ir.InsertPoint) *ir.Value {
	switch {
	case x == y:
		return m.fold(x)
	case x.IsConst(false) || y.IsConst(false):
		return m.fold(m.a.fn.ConstBool(false))
	case x.IsConst(true):
		return m.fold(y)
	case y.IsConst(true):
		return m.fold(x)
	}
	return m.emit(ip, ir.OpAnd, "", x, y)
}

func (m *Materializer) or(x, y *ir.Value, ip *ir.InsertPoint, name string) *ir.Value {
	switch {
	case x == y:
		return m.fold(x)
	case x.IsConst(true) || y.IsConst(true):
		return m.fold(m.a.fn.ConstBool(true))
	case x.IsConst(false):
		return m.fold(y)
	case y.IsConst(false):
		return m.fold(x)
	}
	return m.emit(ip, ir.OpOr, name, x, y)
}

func (m *Materializer) sel(c, t, f *ir.Value, ip *ir.InsertPoint) *ir.Value {
	switch {
	case t == f:
		return m.fold(t)
	case c.IsConst(true):
		return m.fold(t)
	case c.IsConst(false):
		return m.fold(f)
	}
	return m.emit(ip, ir.OpSelect, "", c, t, f)
}
