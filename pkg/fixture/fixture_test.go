package fixture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l3aro/go-mask-analysis/pkg/ir"
	"github.com/l3aro/go-mask-analysis/pkg/mask"
)

func TestLoadYAML(t *testing.T) {
	fx, err := Load(filepath.Join("testdata", "diamond.yaml"))
	require.NoError(t, err)

	f := fx.Func
	assert.Equal(t, "diamond", f.Name)
	assert.Equal(t, filepath.Join("testdata", "diamond.yaml"), fx.Path)
	require.Len(t, f.Blocks, 4)
	require.Len(t, f.Params, 2)
	assert.Equal(t, ir.TypeInt, f.Params[1].Type)

	entry := f.Entry()
	require.Len(t, entry.Values, 1)
	c := entry.Values[0]
	assert.Equal(t, ir.OpEq, c.Op)
	assert.Equal(t, []*ir.Value{f.Params[1], f.ConstInt(0)}, c.Args)
	assert.Equal(t, ir.TermBranch, entry.Term.Kind)
	assert.Same(t, c, entry.Term.Cond)

	join := f.BlockByName("join")
	phis := join.Phis()
	require.Len(t, phis, 1)
	assert.Equal(t, []*ir.Block{f.BlockByName("then"), f.BlockByName("else")}, phis[0].Incoming)
	assert.True(t, phis[0].Args[0].IsConst(true))

	assert.Equal(t, 0, fx.Div.MaskParamIndex())
	assert.True(t, fx.Div.IsUniformValue(f.Params[1]))
	assert.False(t, fx.Div.IsUniformValue(c))
	assert.True(t, fx.Div.HasVaryingPhi(join))
	assert.Empty(t, fx.Loops.Loops())
}

func TestLoadHCL(t *testing.T) {
	fx, err := Load(filepath.Join("testdata", "divergent_loop.hcl"))
	require.NoError(t, err)

	f := fx.Func
	assert.Equal(t, "loop", f.Name)
	h := f.BlockByName("header")
	require.NotNil(t, h)
	require.Len(t, h.Values, 2)
	assert.Equal(t, ir.TypeInt, h.Values[0].Type)
	assert.Equal(t, ir.OpEq, h.Values[1].Op)

	l := fx.Loops.LoopByHeader(h)
	require.NotNil(t, l)
	assert.True(t, fx.Div.IsDivergentLoop(l))
	assert.True(t, fx.Div.IsMandatory(f.BlockByName("exit")))
	assert.Equal(t, f.BlockByName("pre"), l.Preheader())
}

const loopYAML = `
function: loop
params:
  - {name: m, type: bool}
  - {name: n, type: int}
blocks:
  - {name: entry, term: jump, succs: [pre]}
  - {name: pre, term: jump, succs: [header]}
  - name: header
    values:
      - {name: i, op: input, type: int}
      - {name: done, op: eq, args: [i, n]}
    term: branch
    cond: done
    succs: [exit, latch]
  - {name: latch, term: jump, succs: [header]}
  - {name: exit, term: return}
divergence:
  mask_param: m
  divergent_loops: [header]
  mandatory: [exit]
`

func TestYAMLAndHCLAgree(t *testing.T) {
	fromHCL, err := Load(filepath.Join("testdata", "divergent_loop.hcl"))
	require.NoError(t, err)
	fromYAML, err := ParseYAML("loop.yaml", []byte(loopYAML))
	require.NoError(t, err)

	assert.Equal(t, fromHCL.Func.String(), fromYAML.Func.String())

	fingerprint := func(fx *Fixture) uint64 {
		a := mask.NewAnalysis(fx.Func, fx.Loops, fx.Div)
		require.NoError(t, a.Analyze())
		mask.Generate(a, fx.Div, mask.GenerateOptions{MaterializeAll: true})
		return a.Fingerprint()
	}
	assert.Equal(t, fingerprint(fromHCL), fingerprint(fromYAML))
}

func TestTestdataAnalyzes(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "*"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)
	for _, path := range paths {
		if !IsFixture(path) {
			continue
		}
		t.Run(filepath.Base(path), func(t *testing.T) {
			fx, err := Load(path)
			require.NoError(t, err)
			a := mask.NewAnalysis(fx.Func, fx.Loops, fx.Div)
			require.NoError(t, a.Analyze())
			mask.Generate(a, fx.Div, mask.GenerateOptions{})
			for _, b := range fx.Func.Blocks {
				if fx.Div.IsNotAlwaysByAll(b) {
					assert.NotNil(t, fx.Div.Predicate(b), "block %s", b)
				}
			}
		})
	}
}

func TestParseYAMLErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		invalid bool
	}{
		{"empty", "", true},
		{"no blocks", "function: f\n", true},
		{"no name", "blocks: [{name: a, term: return}]\n", true},
		{"unknown key", "function: f\nbogus: 1\n", false},
		{"duplicate block", "function: f\nblocks: [{name: a, term: return}, {name: a, term: return}]\n", true},
		{"unknown successor", "function: f\nblocks: [{name: a, term: jump, succs: [b]}]\n", true},
		{"wrong successor count", "function: f\nblocks: [{name: a, term: return, succs: [a]}]\n", true},
		{"unknown terminator", "function: f\nblocks: [{name: a, term: loop}]\n", true},
		{"branch without condition", "function: f\nblocks: [{name: a, term: branch, succs: [a, a]}]\n", true},
		{"int branch condition", "function: f\nparams: [{name: x, type: int}]\nblocks: [{name: a, term: branch, cond: x, succs: [a, a]}]\n", true},
		{"unknown op", "function: f\nblocks: [{name: a, values: [{name: v, op: mul}], term: return}]\n", true},
		{"wrong arity", "function: f\nblocks: [{name: a, values: [{name: v, op: not}], term: return}]\n", true},
		{"unknown argument", "function: f\nblocks: [{name: a, values: [{name: v, op: not, args: [w]}], term: return}]\n", true},
		{"duplicate value", "function: f\nparams: [{name: v}]\nblocks: [{name: a, values: [{name: v, op: input}], term: return}]\n", true},
		{"constant name", "function: f\nparams: [{name: \"true\"}]\nblocks: [{name: a, term: return}]\n", true},
		{"bad phi argument", "function: f\nblocks: [{name: a, values: [{name: p, op: phi, args: [x]}], term: return}]\n", true},
		{"unknown type", "function: f\nparams: [{name: v, type: float}]\nblocks: [{name: a, term: return}]\n", true},
		{"unknown mask param", "function: f\nblocks: [{name: a, term: return}]\ndivergence: {mask_param: m}\n", true},
		{"unknown shape", "function: f\nblocks: [{name: a, term: return}]\ndivergence: {default: sometimes}\n", true},
		{"unknown execution", "function: f\nblocks: [{name: a, term: return}]\ndivergence: {execution: {a: often}}\n", true},
		{"divergent non-loop", "function: f\nblocks: [{name: a, term: return}]\ndivergence: {divergent_loops: [a]}\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAML("test.yaml", []byte(tt.doc))
			require.Error(t, err)
			if tt.invalid {
				assert.ErrorIs(t, err, ErrInvalid)
			}
		})
	}
}

func TestParseHCLErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"syntax", `function "f" {`},
		{"missing function", `param "m" {}`},
		{"missing term", "function \"f\" {\n  block \"a\" {}\n}\n"},
		{"unknown attribute", "function \"f\" {\n  block \"a\" {\n    term = \"return\"\n    color = \"red\"\n  }\n}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHCL("test.hcl", []byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read fixture")

	path := filepath.Join(dir, "fixture.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	_, err = Load(path)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.False(t, IsFixture(path))
	assert.True(t, IsFixture("a/b.YML"))
}
