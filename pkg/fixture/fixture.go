// Package fixture loads a function together with its divergence
// classification from a YAML or HCL description, and computes its loop
// structure, so mask analysis can be driven without a compiler front end.
package fixture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/l3aro/go-mask-analysis/pkg/divergence"
	"github.com/l3aro/go-mask-analysis/pkg/ir"
	"github.com/l3aro/go-mask-analysis/pkg/loops"
)

// ErrInvalid is returned for descriptions that do not form a valid function.
var ErrInvalid = errors.New("invalid fixture")

// Document is the decoded form of a fixture file. The same types are decoded
// from YAML and from HCL.
type Document struct {
	Function   string          `yaml:"function" hcl:"name,label"`
	Params     []ParamSpec     `yaml:"params" hcl:"param,block"`
	Blocks     []BlockSpec     `yaml:"blocks" hcl:"block,block"`
	Divergence *DivergenceSpec `yaml:"divergence" hcl:"divergence,block"`
}

// ParamSpec declares a function parameter.
type ParamSpec struct {
	Name string `yaml:"name" hcl:"name,label"`
	Type string `yaml:"type" hcl:"type,optional"`
}

// BlockSpec declares a block, its values and its terminator.
type BlockSpec struct {
	Name   string      `yaml:"name" hcl:"name,label"`
	Values []ValueSpec `yaml:"values" hcl:"value,block"`
	Term   string      `yaml:"term" hcl:"term"`
	Cond   string      `yaml:"cond" hcl:"cond,optional"`
	Succs  []string    `yaml:"succs" hcl:"succs,optional"`
	Cases  []int64     `yaml:"cases" hcl:"cases,optional"`
}

// ValueSpec declares a value. Args name parameters, values, or the constants
// true, false and integers. Phi arguments are written value@predecessor.
type ValueSpec struct {
	Name string   `yaml:"name" hcl:"name,label"`
	Op   string   `yaml:"op" hcl:"op"`
	Type string   `yaml:"type" hcl:"type,optional"`
	Args []string `yaml:"args" hcl:"args,optional"`
}

// DivergenceSpec is the classification. Lists name values, blocks or loop
// headers; Execution maps block names to execution classes.
type DivergenceSpec struct {
	Default            string            `yaml:"default" hcl:"default,optional"`
	MaskParam          string            `yaml:"mask_param" hcl:"mask_param,optional"`
	UniformValues      []string          `yaml:"uniform_values" hcl:"uniform_values,optional"`
	VaryingValues      []string          `yaml:"varying_values" hcl:"varying_values,optional"`
	UniformBlocks      []string          `yaml:"uniform_blocks" hcl:"uniform_blocks,optional"`
	VaryingBlocks      []string          `yaml:"varying_blocks" hcl:"varying_blocks,optional"`
	UniformTerminators []string          `yaml:"uniform_terminators" hcl:"uniform_terminators,optional"`
	VaryingTerminators []string          `yaml:"varying_terminators" hcl:"varying_terminators,optional"`
	Execution          map[string]string `yaml:"execution" hcl:"execution,optional"`
	Mandatory          []string          `yaml:"mandatory" hcl:"mandatory,optional"`
	DivergentLoops     []string          `yaml:"divergent_loops" hcl:"divergent_loops,optional"`
}

// Fixture is a loaded function with everything mask analysis needs.
type Fixture struct {
	Path  string
	Func  *ir.Function
	Loops *loops.Info
	Div   *divergence.Info
}

// Load reads a fixture file. The format is chosen by extension: .yaml and
// .yml for YAML, .hcl for HCL.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	return Parse(path, data)
}

// Parse decodes data as the fixture format implied by path's extension.
func Parse(path string, data []byte) (*Fixture, error) {
	var (
		fx  *Fixture
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		fx, err = ParseYAML(path, data)
	case ".hcl":
		fx, err = ParseHCL(path, data)
	default:
		return nil, fmt.Errorf("%s: unknown fixture format %q: %w", path, ext, ErrInvalid)
	}
	if err != nil {
		return nil, err
	}
	fx.Path = path
	return fx, nil
}

// IsFixture reports whether path has a fixture extension.
func IsFixture(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".hcl":
		return true
	}
	return false
}

// Build turns a decoded document into a verified function, its loop forest
// and its divergence classification.
func Build(doc *Document) (*Fixture, error) {
	b := &builder{
		doc:    doc,
		fn:     ir.NewFunction(doc.Function),
		values: make(map[string]*ir.Value),
	}
	if err := b.build(); err != nil {
		return nil, fmt.Errorf("fixture %s: %w", doc.Function, err)
	}
	return &Fixture{Func: b.fn, Loops: b.loops, Div: b.div}, nil
}

type builder struct {
	doc    *Document
	fn     *ir.Function
	loops  *loops.Info
	div    *divergence.Info
	values map[string]*ir.Value
}

func (b *builder) build() error {
	if b.doc.Function == "" {
		return fmt.Errorf("missing function name: %w", ErrInvalid)
	}
	if len(b.doc.Blocks) == 0 {
		return fmt.Errorf("no blocks: %w", ErrInvalid)
	}

	for _, p := range b.doc.Params {
		typ, err := parseType(p.Type)
		if err != nil {
			return fmt.Errorf("param %s: %w", p.Name, err)
		}
		if err := b.define(p.Name, b.fn.NewParam(p.Name, typ)); err != nil {
			return err
		}
	}

	for _, bs := range b.doc.Blocks {
		if bs.Name == "" {
			return fmt.Errorf("block without a name: %w", ErrInvalid)
		}
		if b.fn.BlockByName(bs.Name) != nil {
			return fmt.Errorf("duplicate block %s: %w", bs.Name, ErrInvalid)
		}
		b.fn.NewBlock(bs.Name)
	}

	// Values are created before any argument is resolved so that phis can
	// refer to values defined later.
	for _, bs := range b.doc.Blocks {
		blk := b.fn.BlockByName(bs.Name)
		for _, vs := range bs.Values {
			if err := b.declareValue(blk, vs); err != nil {
				return fmt.Errorf("block %s: %w", bs.Name, err)
			}
		}
	}
	for _, bs := range b.doc.Blocks {
		blk := b.fn.BlockByName(bs.Name)
		for _, vs := range bs.Values {
			if err := b.resolveArgs(vs); err != nil {
				return fmt.Errorf("block %s: value %s: %w", bs.Name, vs.Name, err)
			}
		}
		if err := b.terminate(blk, bs); err != nil {
			return fmt.Errorf("block %s: %w", bs.Name, err)
		}
	}

	if err := b.fn.Verify(); err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalid)
	}
	li, err := loops.Analyze(b.fn)
	if err != nil {
		return err
	}
	b.loops = li
	return b.classify()
}

func (b *builder) define(name string, v *ir.Value) error {
	if name == "" {
		return fmt.Errorf("value without a name: %w", ErrInvalid)
	}
	if _, ok := b.values[name]; ok {
		return fmt.Errorf("duplicate value %s: %w", name, ErrInvalid)
	}
	if _, err := strconv.ParseInt(name, 10, 64); err == nil || name == "true" || name == "false" {
		return fmt.Errorf("value name %s is a constant: %w", name, ErrInvalid)
	}
	b.values[name] = v
	return nil
}

var arity = map[ir.Op]int{
	ir.OpInput:  0,
	ir.OpNot:    1,
	ir.OpAnd:    2,
	ir.OpOr:     2,
	ir.OpXor:    2,
	ir.OpEq:     2,
	ir.OpSelect: 3,
	ir.OpPhi:    -1,
}

func (b *builder) declareValue(blk *ir.Block, vs ValueSpec) error {
	op := ir.ParseOp(vs.Op)
	n, ok := arity[op]
	if !ok {
		return fmt.Errorf("value %s: unsupported op %q: %w", vs.Name, vs.Op, ErrInvalid)
	}
	if n >= 0 && len(vs.Args) != n {
		return fmt.Errorf("value %s: %s takes %d arguments, got %d: %w", vs.Name, op, n, len(vs.Args), ErrInvalid)
	}
	if op == ir.OpPhi && len(vs.Args) == 0 {
		return fmt.Errorf("value %s: phi without arguments: %w", vs.Name, ErrInvalid)
	}
	typ, err := parseType(vs.Type)
	if err != nil {
		return fmt.Errorf("value %s: %w", vs.Name, err)
	}

	var v *ir.Value
	if op == ir.OpPhi {
		v = blk.NewPhi(typ, vs.Name)
	} else {
		v = blk.NewValue(op, typ, vs.Name)
	}
	return b.define(vs.Name, v)
}

func (b *builder) resolveArgs(vs ValueSpec) error {
	v := b.values[vs.Name]
	for _, arg := range vs.Args {
		if v.Op != ir.OpPhi {
			a, err := b.lookup(arg)
			if err != nil {
				return err
			}
			v.Args = append(v.Args, a)
			continue
		}
		name, pred, ok := strings.Cut(arg, "@")
		if !ok {
			return fmt.Errorf("phi argument %q is not value@block: %w", arg, ErrInvalid)
		}
		a, err := b.lookup(name)
		if err != nil {
			return err
		}
		from := b.fn.BlockByName(pred)
		if from == nil {
			return fmt.Errorf("phi argument %q: unknown block %s: %w", arg, pred, ErrInvalid)
		}
		v.AddIncoming(a, from)
	}
	return nil
}

func (b *builder) lookup(name string) (*ir.Value, error) {
	switch name {
	case "true":
		return b.fn.ConstBool(true), nil
	case "false":
		return b.fn.ConstBool(false), nil
	}
	if n, err := strconv.ParseInt(name, 10, 64); err == nil {
		return b.fn.ConstInt(n), nil
	}
	v, ok := b.values[name]
	if !ok {
		return nil, fmt.Errorf("unknown value %s: %w", name, ErrInvalid)
	}
	return v, nil
}

func (b *builder) blocks(names []string) ([]*ir.Block, error) {
	out := make([]*ir.Block, len(names))
	for i, name := range names {
		out[i] = b.fn.BlockByName(name)
		if out[i] == nil {
			return nil, fmt.Errorf("unknown block %s: %w", name, ErrInvalid)
		}
	}
	return out, nil
}

func (b *builder) terminate(blk *ir.Block, bs BlockSpec) error {
	succs, err := b.blocks(bs.Succs)
	if err != nil {
		return err
	}
	want := func(n int) error {
		if len(succs) != n {
			return fmt.Errorf("%s needs %d successors, got %d: %w", bs.Term, n, len(succs), ErrInvalid)
		}
		return nil
	}
	cond := func(typ ir.Type) (*ir.Value, error) {
		if bs.Cond == "" {
			return nil, fmt.Errorf("%s without a condition: %w", bs.Term, ErrInvalid)
		}
		v, err := b.lookup(bs.Cond)
		if err != nil {
			return nil, err
		}
		if v.Type != typ {
			return nil, fmt.Errorf("%s condition %s is %s, want %s: %w", bs.Term, v, v.Type, typ, ErrInvalid)
		}
		return v, nil
	}

	switch kind := ir.ParseTermKind(bs.Term); kind {
	case ir.TermReturn, ir.TermUnreachable:
		if err := want(0); err != nil {
			return err
		}
		if kind == ir.TermReturn {
			blk.SetReturn()
		} else {
			blk.SetUnreachable()
		}
	case ir.TermJump:
		if err := want(1); err != nil {
			return err
		}
		blk.SetJump(succs[0])
	case ir.TermBranch:
		if err := want(2); err != nil {
			return err
		}
		c, err := cond(ir.TypeBool)
		if err != nil {
			return err
		}
		blk.SetBranch(c, succs[0], succs[1])
	case ir.TermSwitch:
		if err := want(len(bs.Cases) + 1); err != nil {
			return err
		}
		c, err := cond(ir.TypeInt)
		if err != nil {
			return err
		}
		blk.SetSwitch(c, succs[0], bs.Cases, succs[1:])
	case ir.TermIndirect:
		if len(succs) == 0 {
			return fmt.Errorf("indirect without targets: %w", ErrInvalid)
		}
		c, err := cond(ir.TypeInt)
		if err != nil {
			return err
		}
		blk.SetIndirect(c, succs...)
	default:
		return fmt.Errorf("unknown terminator %q: %w", bs.Term, ErrInvalid)
	}
	return nil
}

func (b *builder) classify() error {
	div := divergence.New(b.fn)
	b.div = div
	cls := b.doc.Divergence
	if cls == nil {
		return nil
	}

	if cls.Default != "" {
		s, err := divergence.ParseShape(cls.Default)
		if err != nil {
			return fmt.Errorf("divergence default: %v: %w", err, ErrInvalid)
		}
		div.Default = s
	}

	if cls.MaskParam != "" {
		idx := -1
		for i, p := range b.fn.Params {
			if p.Name == cls.MaskParam {
				idx = i
			}
		}
		if idx < 0 {
			return fmt.Errorf("mask parameter %s is not a parameter: %w", cls.MaskParam, ErrInvalid)
		}
		div.SetMaskParam(idx)
	}

	setValues := func(names []string, s divergence.Shape) error {
		for _, name := range names {
			v, err := b.lookup(name)
			if err != nil {
				return err
			}
			div.SetValueShape(v, s)
		}
		return nil
	}
	setBlocks := func(names []string, set func(*ir.Block)) error {
		blks, err := b.blocks(names)
		if err != nil {
			return err
		}
		for _, blk := range blks {
			set(blk)
		}
		return nil
	}

	steps := []func() error{
		func() error { return setValues(cls.UniformValues, divergence.Uniform) },
		func() error { return setValues(cls.VaryingValues, divergence.Varying) },
		func() error {
			return setBlocks(cls.UniformBlocks, func(blk *ir.Block) { div.SetBlockShape(blk, divergence.Uniform) })
		},
		func() error {
			return setBlocks(cls.VaryingBlocks, func(blk *ir.Block) { div.SetBlockShape(blk, divergence.Varying) })
		},
		func() error {
			return setBlocks(cls.UniformTerminators, func(blk *ir.Block) { div.SetTerminatorShape(blk, divergence.Uniform) })
		},
		func() error {
			return setBlocks(cls.VaryingTerminators, func(blk *ir.Block) { div.SetTerminatorShape(blk, divergence.Varying) })
		},
		func() error {
			return setBlocks(cls.Mandatory, func(blk *ir.Block) { div.SetMandatory(blk, true) })
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("divergence: %w", err)
		}
	}

	for name, class := range cls.Execution {
		blk := b.fn.BlockByName(name)
		if blk == nil {
			return fmt.Errorf("divergence execution: unknown block %s: %w", name, ErrInvalid)
		}
		e, err := divergence.ParseExecution(class)
		if err != nil {
			return fmt.Errorf("divergence execution of %s: %v: %w", name, err, ErrInvalid)
		}
		div.SetExecution(blk, e)
	}

	for _, name := range cls.DivergentLoops {
		blk := b.fn.BlockByName(name)
		if blk == nil || !b.loops.IsLoopHeader(blk) {
			return fmt.Errorf("divergent loop %s is not a loop header: %w", name, ErrInvalid)
		}
		div.SetDivergentLoop(blk, true)
	}
	return nil
}

func parseType(name string) (ir.Type, error) {
	switch name {
	case "", "bool":
		return ir.TypeBool, nil
	case "int":
		return ir.TypeInt, nil
	}
	return 0, fmt.Errorf("unknown type %q: %w", name, ErrInvalid)
}
