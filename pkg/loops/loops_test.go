package loops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l3aro/go-mask-analysis/pkg/ir"
)

// nested builds
//
//	entry -> outerPre -> outerH -> innerPre -> innerH -> innerBody -> innerLatch -> innerH
//	innerBody -> done (leaves both loops)
//	innerLatch -> innerExit -> outerLatch -> outerH
//	outerLatch -> done
func nested(t *testing.T) *ir.Function {
	t.Helper()
	f := ir.NewFunction("nested")
	c1 := f.NewParam("c1", ir.TypeBool)
	c2 := f.NewParam("c2", ir.TypeBool)
	c3 := f.NewParam("c3", ir.TypeBool)

	entry := f.NewBlock("entry")
	outerPre := f.NewBlock("outer.pre")
	outerH := f.NewBlock("outer.header")
	innerPre := f.NewBlock("inner.pre")
	innerH := f.NewBlock("inner.header")
	innerBody := f.NewBlock("inner.body")
	innerLatch := f.NewBlock("inner.latch")
	innerExit := f.NewBlock("inner.exit")
	outerLatch := f.NewBlock("outer.latch")
	done := f.NewBlock("done")

	entry.SetJump(outerPre)
	outerPre.SetJump(outerH)
	outerH.SetJump(innerPre)
	innerPre.SetJump(innerH)
	innerH.SetJump(innerBody)
	innerBody.SetBranch(c1, done, innerLatch)
	innerLatch.SetBranch(c2, innerH, innerExit)
	innerExit.SetJump(outerLatch)
	outerLatch.SetBranch(c3, outerH, done)
	done.SetReturn()
	require.NoError(t, f.Verify())
	return f
}

func TestAnalyzeNested(t *testing.T) {
	f := nested(t)
	li, err := Analyze(f)
	require.NoError(t, err)

	outerH := f.BlockByName("outer.header")
	innerH := f.BlockByName("inner.header")
	outer := li.LoopByHeader(outerH)
	inner := li.LoopByHeader(innerH)
	require.NotNil(t, outer)
	require.NotNil(t, inner)

	assert.Equal(t, []*Loop{outer}, li.TopLevel())
	assert.Equal(t, []*Loop{outer, inner}, li.Loops())
	assert.Equal(t, outer, inner.Parent())
	assert.Equal(t, []*Loop{inner}, outer.SubLoops())
	assert.Equal(t, 1, outer.Depth())
	assert.Equal(t, 2, inner.Depth())
	assert.True(t, outer.ContainsLoop(inner))
	assert.False(t, inner.ContainsLoop(outer))

	assert.True(t, li.IsLoopHeader(innerH))
	assert.False(t, li.IsLoopHeader(f.BlockByName("inner.body")))
	assert.Equal(t, inner, li.LoopFor(f.BlockByName("inner.body")))
	assert.Equal(t, outer, li.LoopFor(f.BlockByName("inner.exit")))
	assert.Nil(t, li.LoopFor(f.BlockByName("done")))

	assert.Equal(t, f.BlockByName("outer.pre"), outer.Preheader())
	assert.Equal(t, f.BlockByName("inner.pre"), inner.Preheader())
	assert.Equal(t, f.BlockByName("outer.latch"), outer.Latch())
	assert.Equal(t, f.BlockByName("inner.latch"), inner.Latch())
}

func TestExitEdges(t *testing.T) {
	f := nested(t)
	li, err := Analyze(f)
	require.NoError(t, err)

	inner := li.LoopByHeader(f.BlockByName("inner.header"))
	outer := li.LoopByHeader(f.BlockByName("outer.header"))
	body := f.BlockByName("inner.body")
	latch := f.BlockByName("inner.latch")
	done := f.BlockByName("done")

	assert.Equal(t, []Edge{
		{From: body, To: done},
		{From: latch, To: f.BlockByName("inner.exit")},
	}, inner.ExitEdges())
	assert.Equal(t, []Edge{
		{From: body, To: done},
		{From: f.BlockByName("outer.latch"), To: done},
	}, outer.ExitEdges())
	assert.Equal(t, []*ir.Block{done}, outer.ExitBlocks())
	assert.Len(t, outer.ExitingBlocks(), 2)

	assert.Equal(t, outer, li.TopLevelLoopOfExit(body, done))
	assert.Equal(t, inner, li.TopLevelLoopOfExit(latch, f.BlockByName("inner.exit")))
	assert.Nil(t, li.TopLevelLoopOfExit(body, latch))
	assert.Equal(t, inner, li.NextNestedLoopOfExit(outer, body))
	assert.Nil(t, li.NextNestedLoopOfExit(inner, body))
}

func TestSelfLoop(t *testing.T) {
	f := ir.NewFunction("self")
	c := f.NewParam("c", ir.TypeBool)
	entry := f.NewBlock("entry")
	body := f.NewBlock("body")
	exit := f.NewBlock("exit")
	entry.SetJump(body)
	body.SetBranch(c, body, exit)
	exit.SetReturn()

	li, err := Analyze(f)
	require.NoError(t, err)
	l := li.LoopByHeader(body)
	require.NotNil(t, l)
	assert.Equal(t, body, l.Latch())
	assert.Equal(t, entry, l.Preheader())
	assert.Equal(t, []*ir.Block{body}, l.Blocks())
}

func TestPreheaderMissing(t *testing.T) {
	f := ir.NewFunction("nopre")
	c := f.NewParam("c", ir.TypeBool)
	d := f.NewParam("d", ir.TypeBool)
	entry := f.NewBlock("entry")
	header := f.NewBlock("header")
	exit := f.NewBlock("exit")
	entry.SetBranch(c, header, exit)
	header.SetBranch(d, header, exit)
	exit.SetReturn()

	li, err := Analyze(f)
	require.NoError(t, err)
	assert.Nil(t, li.LoopByHeader(header).Preheader())
}

func TestIrreducible(t *testing.T) {
	f := ir.NewFunction("irreducible")
	c := f.NewParam("c", ir.TypeBool)
	d := f.NewParam("d", ir.TypeBool)
	entry := f.NewBlock("entry")
	a := f.NewBlock("a")
	b := f.NewBlock("b")
	exit := f.NewBlock("exit")
	entry.SetBranch(c, a, b)
	a.SetJump(b)
	b.SetBranch(d, a, exit)
	exit.SetReturn()

	_, err := Analyze(f)
	assert.ErrorIs(t, err, ErrIrreducible)
}

func TestDominates(t *testing.T) {
	f := nested(t)
	li, err := Analyze(f)
	require.NoError(t, err)

	assert.True(t, li.Dominates(f.Entry(), f.BlockByName("done")))
	assert.True(t, li.Dominates(f.BlockByName("inner.header"), f.BlockByName("inner.latch")))
	assert.False(t, li.Dominates(f.BlockByName("inner.latch"), f.BlockByName("done")))
}
