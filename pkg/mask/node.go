package mask

import (
	"fmt"
	"strings"

	"github.com/l3aro/go-mask-analysis/pkg/ir"
)

// Kind is the kind of a mask node.
type Kind uint8

const (
	KindConstant       Kind = iota // fixed true or false
	KindValue                      // existing boolean value of the program
	KindNegate                     // !operands[0]
	KindConjunction                // operands[0] && operands[1] && ...
	KindDisjunction                // operands[0] || operands[1] || ...
	KindSelect                     // operands[0] ? operands[1] : operands[2]
	KindPhi                        // merge at a block with several predecessors
	KindLoopMaskPhi                // merge at a divergent loop header: preheader, latch
	KindLoopExitPhi                // lanes that left over one exit: false, update
	KindLoopExitUpdate             // operands[0] || operands[1]
	KindReference                  // the exit mask of edge incoming[0] -> incoming[1]
)

var kindNames = [...]string{
	KindConstant:       "constant",
	KindValue:          "value",
	KindNegate:         "negate",
	KindConjunction:    "conjunction",
	KindDisjunction:    "disjunction",
	KindSelect:         "select",
	KindPhi:            "phi",
	KindLoopMaskPhi:    "loopmaskphi",
	KindLoopExitPhi:    "loopexitphi",
	KindLoopExitUpdate: "loopexitupdate",
	KindReference:      "reference",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// IsLoopPhi reports whether k is one of the phis that close a loop cycle.
func (k Kind) IsLoopPhi() bool {
	return k == KindLoopMaskPhi || k == KindLoopExitPhi
}

// NodeID indexes a node in the arena of an Analysis.
type NodeID int32

// NoNode is the absent node.
const NoNode NodeID = -1

func (id NodeID) String() string {
	if id == NoNode {
		return "none"
	}
	return fmt.Sprintf("m%d", id)
}

type node struct {
	kind     Kind
	operands []NodeID
	incoming []*ir.Block
	value    *ir.Value
	insert   *ir.InsertPoint
}

// Node is a read-only view of a mask node.
type Node struct {
	ID       NodeID
	Kind     Kind
	Operands []NodeID

	// Incoming holds the predecessor of each phi operand. For a Reference it
	// holds the source and target of the referenced edge.
	Incoming []*ir.Block

	// Value is the materialized value, or nil.
	Value *ir.Value

	// InsertPoint is where synthesized values go, or nil once invalidated.
	InsertPoint *ir.InsertPoint
}

func (n Node) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s = %s", n.ID, n.Kind)
	switch n.Kind {
	case KindConstant, KindValue:
		fmt.Fprintf(&sb, " %s", n.Value)
		return sb.String()
	case KindReference:
		fmt.Fprintf(&sb, " %s->%s", n.Incoming[0], n.Incoming[1])
	case KindPhi, KindLoopMaskPhi, KindLoopExitPhi:
		for i, op := range n.Operands {
			if i < len(n.Incoming) {
				fmt.Fprintf(&sb, " [%s, %s]", op, n.Incoming[i])
			} else {
				fmt.Fprintf(&sb, " [%s, ?]", op)
			}
		}
	default:
		for _, op := range n.Operands {
			fmt.Fprintf(&sb, " %s", op)
		}
	}
	if n.Value != nil {
		fmt.Fprintf(&sb, " => %s", n.Value)
	}
	return sb.String()
}

// arena owns every node of an analysis. Operands refer to nodes by index, so
// cycles through loop phis need no ownership tricks.
type arena struct {
	nodes []node
}

func (a *arena) add(kind Kind, ip *ir.InsertPoint, operands ...NodeID) NodeID {
	id := NodeID(len(a.nodes))
	n := node{kind: kind, insert: ip}
	if len(operands) > 0 {
		n.operands = append([]NodeID(nil), operands...)
	}
	a.nodes = append(a.nodes, n)
	return id
}

func (a *arena) at(id NodeID) *node {
	if id < 0 || int(id) >= len(a.nodes) {
		panic(fmt.Sprintf("mask: node %s out of range", id))
	}
	return &a.nodes[id]
}

func (a *arena) view(id NodeID) Node {
	n := a.at(id)
	return Node{
		ID:          id,
		Kind:        n.kind,
		Operands:    append([]NodeID(nil), n.operands...),
		Incoming:    append([]*ir.Block(nil), n.incoming...),
		Value:       n.value,
		InsertPoint: n.insert,
	}
}

func (a *arena) len() int { return len(a.nodes) }

func (a *arena) reset() { a.nodes = nil }
