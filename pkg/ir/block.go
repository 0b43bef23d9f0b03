package ir

import (
	"fmt"
)

// TermKind is the kind of a block terminator.
type TermKind uint8

const (
	TermNone        TermKind = iota // not yet terminated
	TermReturn                      // leaves the function, no successors
	TermUnreachable                 // no successors
	TermJump                        // one successor
	TermBranch                      // Cond ? Succs[0] : Succs[1]
	TermSwitch                      // Succs[0] is the default, Succs[i+1] taken when Cond == Cases[i]
	TermIndirect                    // computed jump, successor chosen at run time
)

var termNames = [...]string{
	TermNone:        "none",
	TermReturn:      "return",
	TermUnreachable: "unreachable",
	TermJump:        "jump",
	TermBranch:      "branch",
	TermSwitch:      "switch",
	TermIndirect:    "indirect",
}

func (k TermKind) String() string {
	if int(k) < len(termNames) {
		return termNames[k]
	}
	return fmt.Sprintf("term(%d)", k)
}

// ParseTermKind maps a terminator name to its kind. Unknown names yield TermNone.
func ParseTermKind(name string) TermKind {
	for i, n := range termNames {
		if n == name {
			return TermKind(i)
		}
	}
	return TermNone
}

// Terminator ends a block and decides which successor runs next.
type Terminator struct {
	Kind  TermKind
	Cond  *Value
	Cases []int64
}

// Block is a basic block.
type Block struct {
	ID     int
	Name   string
	Func   *Function
	Preds  []*Block
	Succs  []*Block
	Values []*Value
	Term   Terminator
}

func (b *Block) String() string {
	if b == nil {
		return "<nil>"
	}
	if b.Name != "" {
		return b.Name
	}
	return fmt.Sprintf("b%d", b.ID)
}

func (b *Block) addSucc(to *Block) {
	b.Succs = append(b.Succs, to)
	to.Preds = append(to.Preds, b)
}

func (b *Block) setTerm(t Terminator, succs ...*Block) {
	if b.Term.Kind != TermNone {
		panic(fmt.Sprintf("ir: block %s already terminated by %s", b, b.Term.Kind))
	}
	b.Term = t
	for _, s := range succs {
		b.addSucc(s)
	}
}

// SetReturn terminates b with a return.
func (b *Block) SetReturn() {
	b.setTerm(Terminator{Kind: TermReturn})
}

// SetUnreachable terminates b with an unreachable marker.
func (b *Block) SetUnreachable() {
	b.setTerm(Terminator{Kind: TermUnreachable})
}

// SetJump terminates b with an unconditional jump.
func (b *Block) SetJump(to *Block) {
	b.setTerm(Terminator{Kind: TermJump}, to)
}

// SetBranch terminates b with a two-way conditional branch.
func (b *Block) SetBranch(cond *Value, then, els *Block) {
	if cond.Type != TypeBool {
		panic(fmt.Sprintf("ir: branch condition %s of block %s is not bool", cond, b))
	}
	b.setTerm(Terminator{Kind: TermBranch, Cond: cond}, then, els)
}

// SetSwitch terminates b with a multi-way switch on an integer condition.
func (b *Block) SetSwitch(cond *Value, def *Block, cases []int64, targets []*Block) {
	if len(cases) != len(targets) {
		panic(fmt.Sprintf("ir: switch in %s has %d cases and %d targets", b, len(cases), len(targets)))
	}
	succs := append([]*Block{def}, targets...)
	b.setTerm(Terminator{Kind: TermSwitch, Cond: cond, Cases: append([]int64(nil), cases...)}, succs...)
}

// SetIndirect terminates b with a computed jump to one of targets.
func (b *Block) SetIndirect(addr *Value, targets ...*Block) {
	b.setTerm(Terminator{Kind: TermIndirect, Cond: addr}, targets...)
}

// SuccIndex returns the index of the first edge from b to to, or -1.
func (b *Block) SuccIndex(to *Block) int {
	for i, s := range b.Succs {
		if s == to {
			return i
		}
	}
	return -1
}

// UniquePredecessor returns the predecessor of b if every incoming edge comes
// from the same block, and nil otherwise.
func (b *Block) UniquePredecessor() *Block {
	if len(b.Preds) == 0 {
		return nil
	}
	p := b.Preds[0]
	for _, q := range b.Preds[1:] {
		if q != p {
			return nil
		}
	}
	return p
}

// FirstNonPhi returns the first value of b that is not a phi, or nil.
func (b *Block) FirstNonPhi() *Value {
	for _, v := range b.Values {
		if v.Op != OpPhi {
			return v
		}
	}
	return nil
}

// Phis returns the leading phi values of b.
func (b *Block) Phis() []*Value {
	n := 0
	for n < len(b.Values) && b.Values[n].Op == OpPhi {
		n++
	}
	return b.Values[:n]
}

// NewValue appends a new value to the end of b.
func (b *Block) NewValue(op Op, typ Type, name string, args ...*Value) *Value {
	v := b.Func.newValue(op, typ, name, args...)
	b.place(v, nil)
	return v
}

// NewPhi inserts an empty phi after the existing phis of b.
func (b *Block) NewPhi(typ Type, name string) *Value {
	v := b.Func.newValue(OpPhi, typ, name)
	b.place(v, nil)
	return v
}

func (b *Block) indexOf(v *Value) int {
	for i, w := range b.Values {
		if w == v {
			return i
		}
	}
	return -1
}

// place inserts v before the value before, or at the end when before is nil.
// Phis always go to the end of the phi section.
func (b *Block) place(v *Value, before *Value) {
	v.Block = b
	at := len(b.Values)
	if v.Op == OpPhi {
		at = len(b.Phis())
	} else if before != nil {
		at = b.indexOf(before)
		if at < 0 {
			panic(fmt.Sprintf("ir: insertion point %s is not in block %s", before, b))
		}
	}
	b.Values = append(b.Values, nil)
	copy(b.Values[at+1:], b.Values[at:])
	b.Values[at] = v
}

// InsertPoint is a program location before which new values are placed.
// A nil Before means "before the terminator".
type InsertPoint struct {
	Block  *Block
	Before *Value
}

// AtStart returns the first insertion point of b, after its phis.
func AtStart(b *Block) *InsertPoint {
	return &InsertPoint{Block: b, Before: b.FirstNonPhi()}
}

// AtEnd returns the insertion point right before the terminator of b.
func AtEnd(b *Block) *InsertPoint {
	return &InsertPoint{Block: b}
}

func (ip *InsertPoint) String() string {
	if ip == nil {
		return "<none>"
	}
	if ip.Before == nil {
		return fmt.Sprintf("%s:end", ip.Block)
	}
	return fmt.Sprintf("%s:before %s", ip.Block, ip.Before)
}

// Insert creates a new value at ip.
func (ip *InsertPoint) Insert(op Op, typ Type, name string, args ...*Value) *Value {
	v := ip.Block.Func.newValue(op, typ, name, args...)
	ip.Block.place(v, ip.Before)
	return v
}
