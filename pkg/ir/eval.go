package ir

import (
	"errors"
	"fmt"
)

// ErrUnbound is returned by EvalBool when a leaf value has no assignment.
var ErrUnbound = errors.New("unbound value")

// Env assigns concrete values to the leaves of an expression.
type Env struct {
	Bools map[*Value]bool
	Ints  map[*Value]int64

	// Edge selects, for a block containing phis, the predecessor that control
	// arrived from.
	Edge map[*Block]*Block
}

// EvalBool evaluates the boolean expression rooted at v under env. Assigned
// values in env.Bools take precedence over the value's own definition, which
// lets callers cut loop-carried cycles.
func EvalBool(v *Value, env Env) (bool, error) {
	if b, ok := env.Bools[v]; ok {
		return b, nil
	}
	switch v.Op {
	case OpConstBool:
		return v.AuxInt != 0, nil
	case OpNot:
		x, err := EvalBool(v.Args[0], env)
		return !x, err
	case OpAnd, OpOr, OpXor:
		x, err := EvalBool(v.Args[0], env)
		if err != nil {
			return false, err
		}
		y, err := EvalBool(v.Args[1], env)
		if err != nil {
			return false, err
		}
		switch v.Op {
		case OpAnd:
			return x && y, nil
		case OpOr:
			return x || y, nil
		default:
			return x != y, nil
		}
	case OpSelect:
		c, err := EvalBool(v.Args[0], env)
		if err != nil {
			return false, err
		}
		if c {
			return EvalBool(v.Args[1], env)
		}
		return EvalBool(v.Args[2], env)
	case OpEq:
		x, err := evalInt(v.Args[0], env)
		if err != nil {
			return false, err
		}
		y, err := evalInt(v.Args[1], env)
		if err != nil {
			return false, err
		}
		return x == y, nil
	case OpPhi:
		from, ok := env.Edge[v.Block]
		if !ok {
			return false, fmt.Errorf("phi %s: no incoming edge selected for %s: %w", v, v.Block, ErrUnbound)
		}
		for i, in := range v.Incoming {
			if in == from {
				return EvalBool(v.Args[i], env)
			}
		}
		return false, fmt.Errorf("phi %s has no argument for predecessor %s", v, from)
	default:
		return false, fmt.Errorf("value %s (%s): %w", v, v.Op, ErrUnbound)
	}
}

func evalInt(v *Value, env Env) (int64, error) {
	if n, ok := env.Ints[v]; ok {
		return n, nil
	}
	if v.Op == OpConstInt {
		return v.AuxInt, nil
	}
	return 0, fmt.Errorf("value %s (%s): %w", v, v.Op, ErrUnbound)
}
