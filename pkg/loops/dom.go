package loops

import (
	"github.com/l3aro/go-mask-analysis/pkg/ir"
)

// dominators computes the immediate dominator of every reachable block using
// the iterative algorithm of Cooper, Harvey and Kennedy over reverse postorder.
// The entry block maps to itself.
func dominators(po []*ir.Block) (idom map[*ir.Block]*ir.Block, rpoNum map[*ir.Block]int) {
	n := len(po)
	rpoNum = make(map[*ir.Block]int, n)
	for i, b := range po {
		rpoNum[b] = n - 1 - i
	}
	idom = make(map[*ir.Block]*ir.Block, n)
	if n == 0 {
		return idom, rpoNum
	}
	entry := po[n-1]
	idom[entry] = entry

	intersect := func(a, b *ir.Block) *ir.Block {
		for a != b {
			for rpoNum[a] > rpoNum[b] {
				a = idom[a]
			}
			for rpoNum[b] > rpoNum[a] {
				b = idom[b]
			}
		}
		return a
	}

	for changed := true; changed; {
		changed = false
		for i := n - 2; i >= 0; i-- {
			b := po[i]
			var newIdom *ir.Block
			for _, p := range b.Preds {
				if _, ok := idom[p]; !ok {
					continue
				}
				if newIdom == nil {
					newIdom = p
				} else {
					newIdom = intersect(p, newIdom)
				}
			}
			if newIdom != nil && idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}
	return idom, rpoNum
}

// dominates reports whether a dominates b.
func dominates(idom map[*ir.Block]*ir.Block, a, b *ir.Block) bool {
	for {
		if a == b {
			return true
		}
		up, ok := idom[b]
		if !ok || up == b {
			return false
		}
		b = up
	}
}
