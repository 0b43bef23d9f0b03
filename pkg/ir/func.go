package ir

import (
	"fmt"
)

// Function is a single function: a list of blocks, the first of which is the
// entry block, plus its parameters and a pool of canonical constants.
type Function struct {
	Name   string
	Blocks []*Block
	Params []*Value

	nextValueID int
	nextBlockID int
	boolConsts  [2]*Value
	intConsts   map[int64]*Value
}

// NewFunction returns an empty function.
func NewFunction(name string) *Function {
	return &Function{
		Name:      name,
		intConsts: make(map[int64]*Value),
	}
}

// Entry returns the entry block, or nil for an empty function.
func (f *Function) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// NewBlock appends a new block. The first block created is the entry block.
func (f *Function) NewBlock(name string) *Block {
	b := &Block{ID: f.nextBlockID, Name: name, Func: f}
	f.nextBlockID++
	f.Blocks = append(f.Blocks, b)
	return b
}

// NewParam appends a new parameter.
func (f *Function) NewParam(name string, typ Type) *Value {
	v := f.newValue(OpParam, typ, name)
	v.AuxInt = int64(len(f.Params))
	f.Params = append(f.Params, v)
	return v
}

func (f *Function) newValue(op Op, typ Type, name string, args ...*Value) *Value {
	v := &Value{ID: f.nextValueID, Op: op, Type: typ, Name: name}
	if len(args) > 0 {
		v.Args = append([]*Value(nil), args...)
	}
	f.nextValueID++
	return v
}

// ConstBool returns the canonical boolean constant. Peephole simplifications
// rely on constants being compared by identity.
func (f *Function) ConstBool(b bool) *Value {
	i := 0
	if b {
		i = 1
	}
	if f.boolConsts[i] == nil {
		v := f.newValue(OpConstBool, TypeBool, "")
		v.AuxInt = int64(i)
		f.boolConsts[i] = v
	}
	return f.boolConsts[i]
}

// ConstInt returns the canonical integer constant n.
func (f *Function) ConstInt(n int64) *Value {
	if v, ok := f.intConsts[n]; ok {
		return v
	}
	v := f.newValue(OpConstInt, TypeInt, "")
	v.AuxInt = n
	f.intConsts[n] = v
	return v
}

// BlockByName returns the first block with the given name, or nil.
func (f *Function) BlockByName(name string) *Block {
	for _, b := range f.Blocks {
		if b.Name == name {
			return b
		}
	}
	return nil
}

// NumValues returns an upper bound on value IDs.
func (f *Function) NumValues() int {
	return f.nextValueID
}

// Verify checks that every block is terminated and that edges are symmetric.
func (f *Function) Verify() error {
	if len(f.Blocks) == 0 {
		return fmt.Errorf("function %s has no blocks", f.Name)
	}
	for _, b := range f.Blocks {
		if b.Term.Kind == TermNone {
			return fmt.Errorf("block %s of %s has no terminator", b, f.Name)
		}
		for _, s := range b.Succs {
			if !containsBlock(s.Preds, b) {
				return fmt.Errorf("edge %s -> %s missing from predecessor list", b, s)
			}
		}
		for _, p := range b.Preds {
			if !containsBlock(p.Succs, b) {
				return fmt.Errorf("edge %s -> %s missing from successor list", p, b)
			}
		}
		for i, v := range b.Values {
			if v.Block != b {
				return fmt.Errorf("value %s listed in %s but owned by %s", v, b, v.Block)
			}
			if v.Op != OpPhi {
				continue
			}
			if i > 0 && b.Values[i-1].Op != OpPhi {
				return fmt.Errorf("phi %s in %s follows a non-phi value", v, b)
			}
			if err := verifyPhiIncoming(v); err != nil {
				return err
			}
		}
	}
	return nil
}

// verifyPhiIncoming rejects a phi that lists one predecessor twice with
// different values.
func verifyPhiIncoming(v *Value) error {
	if len(v.Incoming) != len(v.Args) {
		return fmt.Errorf("phi %s has %d args but %d incoming blocks", v, len(v.Args), len(v.Incoming))
	}
	seen := make(map[*Block]*Value, len(v.Incoming))
	for i, in := range v.Incoming {
		if prev, ok := seen[in]; ok && prev != v.Args[i] {
			return fmt.Errorf("phi %s in %s has conflicting values %s and %s from %s", v, v.Block, prev, v.Args[i], in)
		}
		seen[in] = v.Args[i]
	}
	return nil
}

func containsBlock(bs []*Block, b *Block) bool {
	for _, x := range bs {
		if x == b {
			return true
		}
	}
	return false
}

// Reachable returns the set of blocks reachable from the entry block.
func (f *Function) Reachable() map[*Block]bool {
	seen := make(map[*Block]bool)
	entry := f.Entry()
	if entry == nil {
		return seen
	}
	stack := []*Block{entry}
	seen[entry] = true
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, s := range b.Succs {
			if !seen[s] {
				seen[s] = true
				stack = append(stack, s)
			}
		}
	}
	return seen
}

// Postorder returns the reachable blocks in DFS postorder from the entry.
func (f *Function) Postorder() []*Block {
	entry := f.Entry()
	if entry == nil {
		return nil
	}
	type frame struct {
		b *Block
		i int
	}
	seen := map[*Block]bool{entry: true}
	order := make([]*Block, 0, len(f.Blocks))
	stack := []frame{{b: entry}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.i < len(top.b.Succs) {
			s := top.b.Succs[top.i]
			top.i++
			if !seen[s] {
				seen[s] = true
				stack = append(stack, frame{b: s})
			}
			continue
		}
		order = append(order, top.b)
		stack = stack[:len(stack)-1]
	}
	return order
}

// CloneMap records the correspondence between an original function and its clone.
type CloneMap struct {
	Blocks map[*Block]*Block
	Values map[*Value]*Value
}

// Clone returns a deep copy of f together with the old-to-new mapping.
func (f *Function) Clone() (*Function, *CloneMap) {
	g := NewFunction(f.Name)
	m := &CloneMap{
		Blocks: make(map[*Block]*Block, len(f.Blocks)),
		Values: make(map[*Value]*Value),
	}

	for _, c := range f.boolConsts {
		if c != nil {
			m.Values[c] = g.ConstBool(c.AuxInt != 0)
		}
	}
	for n, c := range f.intConsts {
		m.Values[c] = g.ConstInt(n)
	}
	for _, p := range f.Params {
		m.Values[p] = g.NewParam(p.Name, p.Type)
	}
	for _, b := range f.Blocks {
		nb := g.NewBlock(b.Name)
		m.Blocks[b] = nb
		for _, v := range b.Values {
			nv := g.newValue(v.Op, v.Type, v.Name)
			nv.AuxInt = v.AuxInt
			nv.Mask = v.Mask
			nv.Block = nb
			nb.Values = append(nb.Values, nv)
			m.Values[v] = nv
		}
	}

	mapValue := func(v *Value) *Value {
		if v == nil {
			return nil
		}
		if nv, ok := m.Values[v]; ok {
			return nv
		}
		panic(fmt.Sprintf("ir: clone of %s references foreign value %s", f.Name, v))
	}

	for _, b := range f.Blocks {
		nb := m.Blocks[b]
		for i, v := range b.Values {
			nv := nb.Values[i]
			for _, a := range v.Args {
				nv.Args = append(nv.Args, mapValue(a))
			}
			for _, in := range v.Incoming {
				nv.Incoming = append(nv.Incoming, m.Blocks[in])
			}
		}
		nb.Term = Terminator{
			Kind:  b.Term.Kind,
			Cond:  mapValue(b.Term.Cond),
			Cases: append([]int64(nil), b.Term.Cases...),
		}
		for _, s := range b.Succs {
			nb.Succs = append(nb.Succs, m.Blocks[s])
		}
		for _, p := range b.Preds {
			nb.Preds = append(nb.Preds, m.Blocks[p])
		}
	}
	return g, m
}
