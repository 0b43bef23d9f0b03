// Package divergence stores the uniform/varying classification of a function
// that mask analysis consumes: value, block and terminator shapes, the
// always-by-all execution classes, mandatory blocks, divergent loops and an
// optional mask parameter. It also records what mask generation writes back:
// the per-block predicates and the set of synthesized mask operations.
package divergence

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/l3aro/go-mask-analysis/pkg/ir"
	"github.com/l3aro/go-mask-analysis/pkg/loops"
)

// Shape says whether all active lanes agree on a value or a branch.
type Shape uint8

const (
	Uniform Shape = iota
	Varying
)

func (s Shape) String() string {
	if s == Uniform {
		return "uniform"
	}
	return "varying"
}

// ParseShape maps "uniform" or "varying" to a Shape.
func ParseShape(name string) (Shape, error) {
	switch name {
	case "uniform":
		return Uniform, nil
	case "varying":
		return Varying, nil
	default:
		return Varying, fmt.Errorf("unknown shape %q", name)
	}
}

// Execution is the always-by-all class of a block.
type Execution uint8

const (
	// NotAlwaysByAll blocks may run with only some lanes active.
	NotAlwaysByAll Execution = iota
	// AlwaysByAll blocks always run with every lane active.
	AlwaysByAll
	// AlwaysByAllOrNone blocks run with every lane active or not at all.
	AlwaysByAllOrNone
)

var executionNames = [...]string{
	NotAlwaysByAll:    "not-always-by-all",
	AlwaysByAll:       "always-by-all",
	AlwaysByAllOrNone: "always-by-all-or-none",
}

func (e Execution) String() string {
	if int(e) < len(executionNames) {
		return executionNames[e]
	}
	return fmt.Sprintf("execution(%d)", e)
}

// ParseExecution maps a class name to an Execution.
func ParseExecution(name string) (Execution, error) {
	for i, n := range executionNames {
		if n == name {
			return Execution(i), nil
		}
	}
	return NotAlwaysByAll, fmt.Errorf("unknown execution class %q", name)
}

// Info is the divergence classification of one function. Entries that were
// never set fall back to Default.
type Info struct {
	fn *ir.Function

	// Default is the shape of anything without an explicit entry.
	Default Shape

	values     map[*ir.Value]Shape
	blocks     map[*ir.Block]Shape
	terms      map[*ir.Block]Shape
	execution  map[*ir.Block]Execution
	mandatory  map[*ir.Block]bool
	divergent  map[*ir.Block]bool
	maskParam  int
	predicates map[*ir.Block]*ir.Value
	maskOps    []*ir.Value
}

// New returns an empty classification for fn where everything is varying.
func New(fn *ir.Function) *Info {
	return &Info{
		fn:         fn,
		Default:    Varying,
		values:     make(map[*ir.Value]Shape),
		blocks:     make(map[*ir.Block]Shape),
		terms:      make(map[*ir.Block]Shape),
		execution:  make(map[*ir.Block]Execution),
		mandatory:  make(map[*ir.Block]bool),
		divergent:  make(map[*ir.Block]bool),
		maskParam:  -1,
		predicates: make(map[*ir.Block]*ir.Value),
	}
}

// Function returns the classified function.
func (d *Info) Function() *ir.Function { return d.fn }

// SetValueShape records the shape of v.
func (d *Info) SetValueShape(v *ir.Value, s Shape) { d.values[v] = s }

// SetBlockShape records the shape of b.
func (d *Info) SetBlockShape(b *ir.Block, s Shape) { d.blocks[b] = s }

// SetTerminatorShape records the shape of the terminator of b.
func (d *Info) SetTerminatorShape(b *ir.Block, s Shape) { d.terms[b] = s }

// SetExecution records the always-by-all class of b.
func (d *Info) SetExecution(b *ir.Block, e Execution) { d.execution[b] = e }

// SetMandatory marks b as a block that survives linearization with a mask.
func (d *Info) SetMandatory(b *ir.Block, mandatory bool) { d.mandatory[b] = mandatory }

// SetDivergentLoop marks the loop headed by header as divergent.
func (d *Info) SetDivergentLoop(header *ir.Block, divergent bool) { d.divergent[header] = divergent }

// SetMaskParam records the index of the boolean parameter carrying the
// incoming mask, or -1 if there is none.
func (d *Info) SetMaskParam(index int) { d.maskParam = index }

// ValueShape returns the shape of v. Constants are always uniform.
func (d *Info) ValueShape(v *ir.Value) Shape {
	if s, ok := d.values[v]; ok {
		return s
	}
	if v.Op == ir.OpConstBool || v.Op == ir.OpConstInt {
		return Uniform
	}
	return d.Default
}

// BlockShape returns the shape of b.
func (d *Info) BlockShape(b *ir.Block) Shape {
	if s, ok := d.blocks[b]; ok {
		return s
	}
	return d.Default
}

// TerminatorShape returns the shape of the terminator of b.
func (d *Info) TerminatorShape(b *ir.Block) Shape {
	if s, ok := d.terms[b]; ok {
		return s
	}
	return d.Default
}

// Execution returns the always-by-all class of b.
func (d *Info) Execution(b *ir.Block) Execution { return d.execution[b] }

func (d *Info) IsUniformValue(v *ir.Value) bool      { return d.ValueShape(v) == Uniform }
func (d *Info) IsUniformBlock(b *ir.Block) bool      { return d.BlockShape(b) == Uniform }
func (d *Info) IsUniformTerminator(b *ir.Block) bool { return d.TerminatorShape(b) == Uniform }
func (d *Info) IsAlwaysByAll(b *ir.Block) bool       { return d.execution[b] == AlwaysByAll }
func (d *Info) IsAlwaysByAllOrNone(b *ir.Block) bool { return d.execution[b] == AlwaysByAllOrNone }
func (d *Info) IsNotAlwaysByAll(b *ir.Block) bool    { return d.execution[b] == NotAlwaysByAll }
func (d *Info) IsMandatory(b *ir.Block) bool         { return d.mandatory[b] }
func (d *Info) MaskParamIndex() int                  { return d.maskParam }

// IsDivergentLoop reports whether lanes may leave l in different iterations.
func (d *Info) IsDivergentLoop(l *loops.Loop) bool { return d.divergent[l.Header()] }

// HasVaryingPhi reports whether b starts with a phi whose shape is varying.
func (d *Info) HasVaryingPhi(b *ir.Block) bool {
	for _, phi := range b.Phis() {
		if phi.Mask {
			continue
		}
		if d.ValueShape(phi) == Varying {
			return true
		}
	}
	return false
}

// MarkMaskOperation records v as a synthesized mask operation. Mask
// operations are varying by construction.
func (d *Info) MarkMaskOperation(v *ir.Value) {
	v.Mask = true
	d.values[v] = Varying
	d.maskOps = append(d.maskOps, v)
}

// MaskOperations returns the mask operations in the order they were marked.
func (d *Info) MaskOperations() []*ir.Value { return d.maskOps }

// SetPredicate records the value guarding execution of b.
func (d *Info) SetPredicate(b *ir.Block, v *ir.Value) { d.predicates[b] = v }

// Predicate returns the predicate of b, or nil.
func (d *Info) Predicate(b *ir.Block) *ir.Value { return d.predicates[b] }

// DropPredicate forgets the predicate of b.
func (d *Info) DropPredicate(b *ir.Block) { delete(d.predicates, b) }

// Remap returns a copy of d that classifies the clone described by m.
func (d *Info) Remap(m *ir.CloneMap) *Info {
	var fn *ir.Function
	if nb := m.Blocks[d.fn.Entry()]; nb != nil {
		fn = nb.Func
	}
	out := New(fn)
	out.Default = d.Default
	out.maskParam = d.maskParam
	for v, s := range d.values {
		if nv, ok := m.Values[v]; ok {
			out.values[nv] = s
		}
	}
	remapBlocks := func(dst, src map[*ir.Block]Shape) {
		for b, s := range src {
			if nb, ok := m.Blocks[b]; ok {
				dst[nb] = s
			}
		}
	}
	remapBlocks(out.blocks, d.blocks)
	remapBlocks(out.terms, d.terms)
	for b, e := range d.execution {
		if nb, ok := m.Blocks[b]; ok {
			out.execution[nb] = e
		}
	}
	for b, ok := range d.mandatory {
		if nb, found := m.Blocks[b]; found {
			out.mandatory[nb] = ok
		}
	}
	for b, ok := range d.divergent {
		if nb, found := m.Blocks[b]; found {
			out.divergent[nb] = ok
		}
	}
	for b, v := range d.predicates {
		nb, ok := m.Blocks[b]
		if !ok {
			continue
		}
		if nv, ok := m.Values[v]; ok {
			out.predicates[nb] = nv
		}
	}
	for _, v := range d.maskOps {
		if nv, ok := m.Values[v]; ok {
			out.maskOps = append(out.maskOps, nv)
		}
	}
	return out
}

// Dump writes the classification in block order.
func (d *Info) Dump(w io.Writer) {
	fmt.Fprintf(w, "divergence %s (default %s", d.fn.Name, d.Default)
	if d.maskParam >= 0 {
		fmt.Fprintf(w, ", mask param %d", d.maskParam)
	}
	fmt.Fprintln(w, "):")
	for _, b := range d.fn.Blocks {
		attrs := []string{
			"block=" + d.BlockShape(b).String(),
			"term=" + d.TerminatorShape(b).String(),
			d.Execution(b).String(),
		}
		if d.mandatory[b] {
			attrs = append(attrs, "mandatory")
		}
		if d.divergent[b] {
			attrs = append(attrs, "divergent-loop")
		}
		if p := d.predicates[b]; p != nil {
			attrs = append(attrs, "predicate="+p.String())
		}
		fmt.Fprintf(w, "  %s: %s\n", b, strings.Join(attrs, " "))
	}

	var varying []string
	for v, s := range d.values {
		if s == Varying && !v.Mask {
			varying = append(varying, v.String())
		}
	}
	sort.Strings(varying)
	if len(varying) > 0 {
		fmt.Fprintf(w, "  varying values: %s\n", strings.Join(varying, " "))
	}
	if len(d.maskOps) > 0 {
		fmt.Fprintf(w, "  mask operations: %d\n", len(d.maskOps))
	}
}
