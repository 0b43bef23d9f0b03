// Package loops computes the natural loop forest of an ir.Function: loop
// membership, headers, preheaders, latches, exit edges and nesting.
package loops

import (
	"errors"
	"fmt"
	"sort"

	"github.com/l3aro/go-mask-analysis/pkg/ir"
)

// ErrIrreducible is returned when the CFG contains a cycle that is not a natural loop.
var ErrIrreducible = errors.New("irreducible control flow")

// Edge is a control-flow edge.
type Edge struct {
	From *ir.Block
	To   *ir.Block
}

func (e Edge) String() string {
	return fmt.Sprintf("%s->%s", e.From, e.To)
}

// Loop is a natural loop.
type Loop struct {
	header   *ir.Block
	parent   *Loop
	children []*Loop
	blocks   []*ir.Block
	set      map[*ir.Block]bool
	depth    int
}

// Header returns the loop header.
func (l *Loop) Header() *ir.Block { return l.header }

// Parent returns the enclosing loop, or nil for a top-level loop.
func (l *Loop) Parent() *Loop { return l.parent }

// SubLoops returns the directly nested loops in header order.
func (l *Loop) SubLoops() []*Loop { return l.children }

// Depth returns the nesting depth; top-level loops have depth 1.
func (l *Loop) Depth() int { return l.depth }

// Blocks returns the blocks of the loop, including nested loops, in function order.
func (l *Loop) Blocks() []*ir.Block { return l.blocks }

// Contains reports whether b belongs to the loop.
func (l *Loop) Contains(b *ir.Block) bool { return l.set[b] }

// ContainsLoop reports whether o is l or nested inside l.
func (l *Loop) ContainsLoop(o *Loop) bool {
	for ; o != nil; o = o.parent {
		if o == l {
			return true
		}
	}
	return false
}

func (l *Loop) String() string {
	return fmt.Sprintf("loop(%s)", l.header)
}

// Latches returns the distinct in-loop predecessors of the header.
func (l *Loop) Latches() []*ir.Block {
	var out []*ir.Block
	for _, p := range l.header.Preds {
		if l.set[p] && !containsBlock(out, p) {
			out = append(out, p)
		}
	}
	return out
}

// Latch returns the unique latch, or nil if there is more than one.
func (l *Loop) Latch() *ir.Block {
	latches := l.Latches()
	if len(latches) != 1 {
		return nil
	}
	return latches[0]
}

// Preheader returns the unique out-of-loop predecessor of the header if its
// only successor is the header, and nil otherwise.
func (l *Loop) Preheader() *ir.Block {
	var pre *ir.Block
	for _, p := range l.header.Preds {
		if l.set[p] {
			continue
		}
		if pre != nil && pre != p {
			return nil
		}
		pre = p
	}
	if pre == nil || len(pre.Succs) != 1 {
		return nil
	}
	return pre
}

// ExitEdges returns the distinct edges leaving the loop, ordered by source
// block and successor index.
func (l *Loop) ExitEdges() []Edge {
	var out []Edge
	for _, b := range l.blocks {
		for _, s := range b.Succs {
			if l.set[s] {
				continue
			}
			e := Edge{From: b, To: s}
			dup := false
			for _, o := range out {
				if o == e {
					dup = true
					break
				}
			}
			if !dup {
				out = append(out, e)
			}
		}
	}
	return out
}

// ExitingBlocks returns the distinct in-loop blocks with a successor outside the loop.
func (l *Loop) ExitingBlocks() []*ir.Block {
	var out []*ir.Block
	for _, e := range l.ExitEdges() {
		if !containsBlock(out, e.From) {
			out = append(out, e.From)
		}
	}
	return out
}

// ExitBlocks returns the distinct out-of-loop successors of loop blocks.
func (l *Loop) ExitBlocks() []*ir.Block {
	var out []*ir.Block
	for _, e := range l.ExitEdges() {
		if !containsBlock(out, e.To) {
			out = append(out, e.To)
		}
	}
	return out
}

func containsBlock(bs []*ir.Block, b *ir.Block) bool {
	for _, x := range bs {
		if x == b {
			return true
		}
	}
	return false
}

// Info is the loop forest of a function.
type Info struct {
	fn      *ir.Function
	idom    map[*ir.Block]*ir.Block
	loopFor map[*ir.Block]*Loop
	headers map[*ir.Block]*Loop
	top     []*Loop
	all     []*Loop
}

// Analyze computes the loop forest of fn. Unreachable blocks belong to no loop.
func Analyze(fn *ir.Function) (*Info, error) {
	po := fn.Postorder()
	idom, rpoNum := dominators(po)

	info := &Info{
		fn:      fn,
		idom:    idom,
		loopFor: make(map[*ir.Block]*Loop),
		headers: make(map[*ir.Block]*Loop),
	}

	// Collect back edges per header, rejecting retreating edges whose target
	// does not dominate the source.
	latches := make(map[*ir.Block][]*ir.Block)
	var headers []*ir.Block
	for i := len(po) - 1; i >= 0; i-- {
		b := po[i]
		for _, s := range b.Succs {
			if rpoNum[s] > rpoNum[b] {
				continue
			}
			if !dominates(idom, s, b) {
				return nil, fmt.Errorf("edge %s -> %s in %s: %w", b, s, fn.Name, ErrIrreducible)
			}
			if _, ok := latches[s]; !ok {
				headers = append(headers, s)
			}
			if !containsBlock(latches[s], b) {
				latches[s] = append(latches[s], b)
			}
		}
	}

	// Outer headers dominate inner ones and therefore come first in RPO.
	sort.Slice(headers, func(i, j int) bool { return rpoNum[headers[i]] < rpoNum[headers[j]] })

	order := make(map[*ir.Block]int, len(fn.Blocks))
	for i, b := range fn.Blocks {
		order[b] = i
	}

	for _, h := range headers {
		l := &Loop{header: h, set: map[*ir.Block]bool{h: true}}
		stack := append([]*ir.Block(nil), latches[h]...)
		for len(stack) > 0 {
			b := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if l.set[b] {
				continue
			}
			l.set[b] = true
			for _, p := range b.Preds {
				if _, reachable := rpoNum[p]; reachable && !l.set[p] {
					stack = append(stack, p)
				}
			}
		}
		for b := range l.set {
			l.blocks = append(l.blocks, b)
		}
		sort.Slice(l.blocks, func(i, j int) bool { return order[l.blocks[i]] < order[l.blocks[j]] })

		l.parent = info.loopFor[h]
		if l.parent != nil {
			l.parent.children = append(l.parent.children, l)
			l.depth = l.parent.depth + 1
		} else {
			info.top = append(info.top, l)
			l.depth = 1
		}
		for b := range l.set {
			info.loopFor[b] = l
		}
		info.headers[h] = l
		info.all = append(info.all, l)
	}
	return info, nil
}

// LoopFor returns the innermost loop containing b, or nil.
func (li *Info) LoopFor(b *ir.Block) *Loop { return li.loopFor[b] }

// IsLoopHeader reports whether b is the header of some loop.
func (li *Info) IsLoopHeader(b *ir.Block) bool { return li.headers[b] != nil }

// LoopByHeader returns the loop headed by b, or nil.
func (li *Info) LoopByHeader(b *ir.Block) *Loop { return li.headers[b] }

// TopLevel returns the outermost loops in header order.
func (li *Info) TopLevel() []*Loop { return li.top }

// Loops returns every loop, outer loops before the loops they contain.
func (li *Info) Loops() []*Loop { return li.all }

// Dominates reports whether a dominates b. Unreachable blocks are dominated by nothing.
func (li *Info) Dominates(a, b *ir.Block) bool { return dominates(li.idom, a, b) }

// TopLevelLoopOfExit returns the outermost loop that the edge exiting -> exit
// leaves. This can be an ancestor of the innermost loop of exiting when the
// edge leaves several loops at once.
func (li *Info) TopLevelLoopOfExit(exiting, exit *ir.Block) *Loop {
	l := li.loopFor[exiting]
	if l == nil || l.Contains(exit) {
		return nil
	}
	for l.parent != nil && !l.parent.Contains(exit) {
		l = l.parent
	}
	return l
}

// NextNestedLoopOfExit returns the loop directly nested in outer that contains
// exiting, or nil if exiting is not inside a subloop of outer.
func (li *Info) NextNestedLoopOfExit(outer *Loop, exiting *ir.Block) *Loop {
	for l := li.loopFor[exiting]; l != nil; l = l.parent {
		if l.parent == outer {
			return l
		}
	}
	return nil
}
