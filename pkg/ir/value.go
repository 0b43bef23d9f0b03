// Package ir defines a small SSA-style intermediate representation used as the
// input program and as the target representation that materialized masks are
// written into. A Function owns Blocks, each Block owns an ordered list of
// Values followed by exactly one Terminator.
package ir

import (
	"fmt"
	"strings"
)

// Type is the type of a Value.
type Type uint8

const (
	TypeBool Type = iota // i1 / lane predicate
	TypeInt              // integer (switch conditions, case constants)
)

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	default:
		return "unknown"
	}
}

// Op identifies the operation a Value performs.
type Op uint8

const (
	OpInvalid   Op = iota
	OpConstBool    // AuxInt holds 0 or 1
	OpConstInt     // AuxInt holds the constant
	OpParam        // function parameter
	OpInput        // opaque value computed by the surrounding program
	OpNot          // logical complement of Args[0]
	OpAnd          // Args[0] & Args[1]
	OpOr           // Args[0] | Args[1]
	OpXor          // Args[0] ^ Args[1]
	OpSelect       // Args[0] ? Args[1] : Args[2]
	OpPhi          // merge of Args[i] arriving from Incoming[i]
	OpEq           // Args[0] == Args[1]
)

var opNames = [...]string{
	OpInvalid:   "invalid",
	OpConstBool: "constbool",
	OpConstInt:  "constint",
	OpParam:     "param",
	OpInput:     "input",
	OpNot:       "not",
	OpAnd:       "and",
	OpOr:        "or",
	OpXor:       "xor",
	OpSelect:    "select",
	OpPhi:       "phi",
	OpEq:        "eq",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", o)
}

// ParseOp maps an op name back to its Op. It returns OpInvalid for unknown names.
func ParseOp(name string) Op {
	for i, n := range opNames {
		if n == name {
			return Op(i)
		}
	}
	return OpInvalid
}

// Value is a single SSA value.
type Value struct {
	ID     int
	Op     Op
	Type   Type
	Name   string
	Args   []*Value
	AuxInt int64

	// Incoming holds the predecessor block for each phi argument.
	Incoming []*Block

	// Block is the block containing the value. It is nil for constants and
	// parameters, which live at function scope.
	Block *Block

	// Mask marks values synthesized by mask materialization. Lowering passes
	// use it to exclude mask operations from ordinary classification.
	Mask bool
}

// String returns the short reference form of the value, e.g. "%c" or "v12".
func (v *Value) String() string {
	if v == nil {
		return "<nil>"
	}
	switch v.Op {
	case OpConstBool:
		if v.AuxInt != 0 {
			return "true"
		}
		return "false"
	case OpConstInt:
		return fmt.Sprintf("%d", v.AuxInt)
	}
	if v.Name != "" {
		return "%" + v.Name
	}
	return fmt.Sprintf("v%d", v.ID)
}

// LongString returns the defining form of the value, e.g. "v3 = and %a %b [mask]".
func (v *Value) LongString() string {
	var sb strings.Builder
	sb.WriteString(v.String())
	sb.WriteString(" = ")
	sb.WriteString(v.Op.String())
	if v.Op == OpPhi {
		for i, a := range v.Args {
			fmt.Fprintf(&sb, " [%s, %s]", a, v.Incoming[i])
		}
	} else {
		for _, a := range v.Args {
			sb.WriteString(" ")
			sb.WriteString(a.String())
		}
	}
	if v.Mask {
		sb.WriteString(" [mask]")
	}
	return sb.String()
}

// IsConst reports whether v is a boolean constant equal to b.
func (v *Value) IsConst(b bool) bool {
	if v == nil || v.Op != OpConstBool {
		return false
	}
	return (v.AuxInt != 0) == b
}

// AddIncoming appends a phi argument.
func (v *Value) AddIncoming(arg *Value, from *Block) {
	if v.Op != OpPhi {
		panic(fmt.Sprintf("ir: AddIncoming on non-phi %s", v.LongString()))
	}
	v.Args = append(v.Args, arg)
	v.Incoming = append(v.Incoming, from)
}
