package mask

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l3aro/go-mask-analysis/pkg/divergence"
	"github.com/l3aro/go-mask-analysis/pkg/ir"
	"github.com/l3aro/go-mask-analysis/pkg/loops"
)

// build analyzes f and fails the test on error.
func build(t *testing.T, f *ir.Function, div *divergence.Info, opts ...Option) (*Analysis, *loops.Info) {
	t.Helper()
	require.NoError(t, f.Verify())
	li, err := loops.Analyze(f)
	require.NoError(t, err)
	a := NewAnalysis(f, li, div, opts...)
	require.NoError(t, a.Analyze())
	return a, li
}

// analyzeErr analyzes f and returns the error.
func analyzeErr(t *testing.T, f *ir.Function, div *divergence.Info, opts ...Option) (*Analysis, error) {
	t.Helper()
	li, err := loops.Analyze(f)
	require.NoError(t, err)
	a := NewAnalysis(f, li, div, opts...)
	return a, a.Analyze()
}

func eval(t *testing.T, v *ir.Value, env ir.Env) bool {
	t.Helper()
	got, err := ir.EvalBool(v, env)
	require.NoError(t, err)
	return got
}

func bools(kv ...any) map[*ir.Value]bool {
	m := make(map[*ir.Value]bool, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		m[kv[i].(*ir.Value)] = kv[i+1].(bool)
	}
	return m
}

// diamond builds
//
//	entry -> A, B (on c)
//	A, B -> C
//
// with the incoming mask in parameter 0.
func diamond() (*ir.Function, *divergence.Info) {
	f := ir.NewFunction("diamond")
	f.NewParam("m", ir.TypeBool)
	c := f.NewParam("c", ir.TypeBool)
	entry := f.NewBlock("entry")
	a := f.NewBlock("A")
	b := f.NewBlock("B")
	join := f.NewBlock("C")
	entry.SetBranch(c, a, b)
	a.SetJump(join)
	b.SetJump(join)
	join.SetReturn()

	div := divergence.New(f)
	div.SetMaskParam(0)
	return f, div
}

// simpleLoop builds
//
//	entry -> pre -> H
//	H -> done, latch (on c)
//	latch -> H
//
// with a divergent loop at H and the incoming mask in parameter 0.
func simpleLoop() (*ir.Function, *divergence.Info) {
	f := ir.NewFunction("loop")
	f.NewParam("m", ir.TypeBool)
	c := f.NewParam("c", ir.TypeBool)
	entry := f.NewBlock("entry")
	pre := f.NewBlock("pre")
	h := f.NewBlock("H")
	latch := f.NewBlock("latch")
	done := f.NewBlock("done")
	entry.SetJump(pre)
	pre.SetJump(h)
	h.SetBranch(c, done, latch)
	latch.SetJump(h)
	done.SetReturn()

	div := divergence.New(f)
	div.SetMaskParam(0)
	div.SetDivergentLoop(h, true)
	return f, div
}

// twoExitLoop builds a divergent loop with exits from H (on c1) and from
// body (on c2) into separate blocks.
func twoExitLoop() (*ir.Function, *divergence.Info) {
	f := ir.NewFunction("twoexits")
	f.NewParam("m", ir.TypeBool)
	c1 := f.NewParam("c1", ir.TypeBool)
	c2 := f.NewParam("c2", ir.TypeBool)
	entry := f.NewBlock("entry")
	pre := f.NewBlock("pre")
	h := f.NewBlock("H")
	body := f.NewBlock("body")
	latch := f.NewBlock("latch")
	out1 := f.NewBlock("out1")
	out2 := f.NewBlock("out2")
	entry.SetJump(pre)
	pre.SetJump(h)
	h.SetBranch(c1, out1, body)
	body.SetBranch(c2, out2, latch)
	latch.SetJump(h)
	out1.SetReturn()
	out2.SetReturn()

	div := divergence.New(f)
	div.SetMaskParam(0)
	div.SetDivergentLoop(h, true)
	return f, div
}

// nestedLoops builds
//
//	entry -> outer.pre -> outer.header -> inner.pre -> inner.header -> inner.body
//	inner.body -> done (leaves both loops), inner.latch
//	inner.latch -> inner.header, inner.exit
//	inner.exit -> outer.latch
//	outer.latch -> outer.header, done
//
// with both loops divergent.
func nestedLoops() (*ir.Function, *divergence.Info) {
	f := ir.NewFunction("nested")
	f.NewParam("m", ir.TypeBool)
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

	div := divergence.New(f)
	div.SetMaskParam(0)
	div.SetDivergentLoop(outerH, true)
	div.SetDivergentLoop(innerH, true)
	return f, div
}

// threeLevelLoops builds a divergent loop L1 around a uniform loop L2
// around a divergent loop L3:
//
//	entry -> L1.pre -> L1.header -> L2.pre -> L2.header -> L3.pre -> L3.header -> L3.body
//	L3.body -> done (leaves all three loops), L3.latch
//	L3.latch -> L3.header, L3.exit
//	L3.exit -> L2.latch
//	L2.latch -> L2.header, L2.exit (uniform)
//	L2.exit -> L1.latch
//	L1.latch -> L1.header, done
func threeLevelLoops() (*ir.Function, *divergence.Info) {
	f := ir.NewFunction("threelevel")
	f.NewParam("m", ir.TypeBool)
	c1 := f.NewParam("c1", ir.TypeBool)
	c2 := f.NewParam("c2", ir.TypeBool)
	c3 := f.NewParam("c3", ir.TypeBool)
	c4 := f.NewParam("c4", ir.TypeBool)

	entry := f.NewBlock("entry")
	l1Pre := f.NewBlock("L1.pre")
	l1H := f.NewBlock("L1.header")
	l2Pre := f.NewBlock("L2.pre")
	l2H := f.NewBlock("L2.header")
	l3Pre := f.NewBlock("L3.pre")
	l3H := f.NewBlock("L3.header")
	l3Body := f.NewBlock("L3.body")
	l3Latch := f.NewBlock("L3.latch")
	l3Exit := f.NewBlock("L3.exit")
	l2Latch := f.NewBlock("L2.latch")
	l2Exit := f.NewBlock("L2.exit")
	l1Latch := f.NewBlock("L1.latch")
	done := f.NewBlock("done")

	entry.SetJump(l1Pre)
	l1Pre.SetJump(l1H)
	l1H.SetJump(l2Pre)
	l2Pre.SetJump(l2H)
	l2H.SetJump(l3Pre)
	l3Pre.SetJump(l3H)
	l3H.SetJump(l3Body)
	l3Body.SetBranch(c1, done, l3Latch)
	l3Latch.SetBranch(c2, l3H, l3Exit)
	l3Exit.SetJump(l2Latch)
	l2Latch.SetBranch(c3, l2H, l2Exit)
	l2Exit.SetJump(l1Latch)
	l1Latch.SetBranch(c4, l1H, done)
	done.SetReturn()

	div := divergence.New(f)
	div.SetMaskParam(0)
	div.SetValueShape(c3, divergence.Uniform)
	div.SetTerminatorShape(l2Latch, divergence.Uniform)
	div.SetDivergentLoop(l1H, true)
	div.SetDivergentLoop(l3H, true)
	return f, div
}
