package divergence

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l3aro/go-mask-analysis/pkg/ir"
	"github.com/l3aro/go-mask-analysis/pkg/loops"
)

func loopFunc(t *testing.T) (*ir.Function, *ir.Value) {
	t.Helper()
	f := ir.NewFunction("loop")
	c := f.NewParam("c", ir.TypeBool)
	entry := f.NewBlock("entry")
	header := f.NewBlock("header")
	exit := f.NewBlock("exit")
	entry.SetJump(header)
	header.SetBranch(c, header, exit)
	exit.SetReturn()
	return f, c
}

func TestDefaults(t *testing.T) {
	f, c := loopFunc(t)
	d := New(f)

	assert.Equal(t, Varying, d.ValueShape(c))
	assert.Equal(t, Uniform, d.ValueShape(f.ConstBool(true)))
	assert.False(t, d.IsUniformBlock(f.Entry()))
	assert.True(t, d.IsNotAlwaysByAll(f.Entry()))
	assert.Equal(t, -1, d.MaskParamIndex())

	d.Default = Uniform
	assert.True(t, d.IsUniformValue(c))
	assert.True(t, d.IsUniformTerminator(f.Entry()))
}

func TestClassification(t *testing.T) {
	f, c := loopFunc(t)
	d := New(f)
	header := f.BlockByName("header")

	d.SetValueShape(c, Uniform)
	d.SetBlockShape(f.Entry(), Uniform)
	d.SetTerminatorShape(header, Varying)
	d.SetExecution(f.Entry(), AlwaysByAll)
	d.SetExecution(f.BlockByName("exit"), AlwaysByAllOrNone)
	d.SetMandatory(header, true)
	d.SetDivergentLoop(header, true)
	d.SetMaskParam(0)

	li, err := loops.Analyze(f)
	require.NoError(t, err)

	assert.True(t, d.IsUniformValue(c))
	assert.True(t, d.IsUniformBlock(f.Entry()))
	assert.False(t, d.IsUniformTerminator(header))
	assert.True(t, d.IsAlwaysByAll(f.Entry()))
	assert.False(t, d.IsNotAlwaysByAll(f.Entry()))
	assert.True(t, d.IsAlwaysByAllOrNone(f.BlockByName("exit")))
	assert.True(t, d.IsMandatory(header))
	assert.True(t, d.IsDivergentLoop(li.LoopByHeader(header)))
	assert.Equal(t, 0, d.MaskParamIndex())
}

func TestMaskOperationsAndPredicates(t *testing.T) {
	f, c := loopFunc(t)
	d := New(f)
	d.Default = Uniform
	header := f.BlockByName("header")

	phi := header.NewPhi(ir.TypeBool, "live")
	assert.False(t, d.HasVaryingPhi(header))

	not := ir.AtEnd(header).Insert(ir.OpNot, ir.TypeBool, "", c)
	d.MarkMaskOperation(not)
	assert.True(t, not.Mask)
	assert.Equal(t, Varying, d.ValueShape(not))
	assert.Equal(t, []*ir.Value{not}, d.MaskOperations())

	d.SetValueShape(phi, Varying)
	assert.True(t, d.HasVaryingPhi(header))

	d.SetPredicate(header, not)
	assert.Same(t, not, d.Predicate(header))
	d.DropPredicate(header)
	assert.Nil(t, d.Predicate(header))
}

func TestRemap(t *testing.T) {
	f, c := loopFunc(t)
	d := New(f)
	header := f.BlockByName("header")
	d.SetValueShape(c, Uniform)
	d.SetDivergentLoop(header, true)
	d.SetExecution(f.Entry(), AlwaysByAll)
	d.SetPredicate(header, c)

	g, m := f.Clone()
	r := d.Remap(m)
	assert.Same(t, g, r.Function())
	assert.True(t, r.IsUniformValue(m.Values[c]))
	assert.True(t, r.IsAlwaysByAll(g.Entry()))
	assert.Same(t, m.Values[c], r.Predicate(m.Blocks[header]))

	li, err := loops.Analyze(g)
	require.NoError(t, err)
	assert.True(t, r.IsDivergentLoop(li.LoopByHeader(m.Blocks[header])))
}

func TestParse(t *testing.T) {
	s, err := ParseShape("uniform")
	require.NoError(t, err)
	assert.Equal(t, Uniform, s)
	_, err = ParseShape("sideways")
	assert.Error(t, err)

	e, err := ParseExecution("always-by-all-or-none")
	require.NoError(t, err)
	assert.Equal(t, AlwaysByAllOrNone, e)
	_, err = ParseExecution("sometimes")
	assert.Error(t, err)
}

func TestDump(t *testing.T) {
	f, c := loopFunc(t)
	d := New(f)
	d.SetDivergentLoop(f.BlockByName("header"), true)
	d.SetValueShape(c, Varying)
	d.SetMaskParam(0)

	var sb strings.Builder
	d.Dump(&sb)
	out := sb.String()
	assert.Contains(t, out, "divergence loop (default varying, mask param 0):")
	assert.Contains(t, out, "header: block=varying term=varying not-always-by-all divergent-loop")
	assert.Contains(t, out, "varying values: %c")
}
