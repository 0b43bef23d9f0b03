package mask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l3aro/go-mask-analysis/pkg/divergence"
	"github.com/l3aro/go-mask-analysis/pkg/ir"
)

func TestDiamondGraph(t *testing.T) {
	f, div := diamond()
	a, _ := build(t, f, div)
	entry, bA, bB, bC := f.Blocks[0], f.Blocks[1], f.Blocks[2], f.Blocks[3]
	m, c := f.Params[0], f.Params[1]

	in := a.Node(a.EntryMaskNode(entry))
	assert.Equal(t, KindValue, in.Kind)
	assert.Equal(t, m, in.Value)

	toA := a.Node(a.ExitMaskNode(entry, 0))
	require.Equal(t, KindConjunction, toA.Kind)
	assert.Equal(t, in.ID, toA.Operands[0])
	assert.Equal(t, c, a.Node(toA.Operands[1]).Value)

	toB := a.Node(a.ExitMaskNodeTo(entry, bB))
	require.Equal(t, KindConjunction, toB.Kind)
	neg := a.Node(toB.Operands[1])
	assert.Equal(t, KindNegate, neg.Kind)
	assert.Equal(t, toA.Operands[1], neg.Operands[0])

	refA := a.Node(a.EntryMaskNode(bA))
	assert.Equal(t, KindReference, refA.Kind)
	assert.Equal(t, []*ir.Block{entry, bA}, refA.Incoming)

	join := a.Node(a.EntryMaskNode(bC))
	assert.Equal(t, KindDisjunction, join.Kind)
	assert.Equal(t, []NodeID{a.ExitMaskNodeTo(bA, bC), a.ExitMaskNodeTo(bB, bC)}, join.Operands)

	assert.Panics(t, func() { a.ExitMaskNode(bC, 0) })
}

func TestSingleSuccessorExitIsEntry(t *testing.T) {
	tests := []struct {
		name  string
		build func() (*ir.Function, *divergence.Info)
	}{
		{"diamond", diamond},
		{"loop", simpleLoop},
		{"nested", nestedLoops},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, div := tt.build()
			a, _ := build(t, f, div)
			for _, b := range f.Blocks {
				if len(b.Succs) != 1 {
					continue
				}
				assert.Equal(t, a.EntryMaskNode(b), a.ExitMaskNode(b, 0), "block %s", b)
			}
		})
	}
}

func TestUniformDiamondGraph(t *testing.T) {
	f, div := diamond()
	entry, bA, bB, bC := f.Blocks[0], f.Blocks[1], f.Blocks[2], f.Blocks[3]
	div.SetTerminatorShape(entry, divergence.Uniform)
	div.SetBlockShape(bC, divergence.Uniform)
	a, _ := build(t, f, div)

	for i := range entry.Succs {
		n := a.Node(a.ExitMaskNode(entry, i))
		require.Equal(t, KindSelect, n.Kind)
		require.Len(t, n.Operands, 3)
		assert.Equal(t, f.Params[1], a.Node(n.Operands[0]).Value)
	}
	toA := a.Node(a.ExitMaskNode(entry, 0))
	assert.Equal(t, a.EntryMaskNode(entry), toA.Operands[1])
	assert.True(t, a.Node(toA.Operands[2]).Value.IsConst(false))

	join := a.Node(a.EntryMaskNode(bC))
	assert.Equal(t, KindPhi, join.Kind)
	assert.Equal(t, []*ir.Block{bA, bB}, join.Incoming)
}

func TestSwitchGraph(t *testing.T) {
	tests := []struct {
		name  string
		cases []int64
	}{
		{"one case", []int64{1}},
		{"two cases", []int64{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := ir.NewFunction("switch")
			f.NewParam("m", ir.TypeBool)
			x := f.NewParam("x", ir.TypeInt)
			entry := f.NewBlock("entry")
			def := f.NewBlock("default")
			def.SetReturn()
			var targets []*ir.Block
			for range tt.cases {
				b := f.NewBlock("")
				b.SetReturn()
				targets = append(targets, b)
			}
			entry.SetSwitch(x, def, tt.cases, targets)
			div := divergence.New(f)
			div.SetMaskParam(0)

			a, _ := build(t, f, div)

			require.Len(t, entry.Values, len(tt.cases))
			for i, v := range entry.Values {
				assert.Equal(t, ir.OpEq, v.Op)
				assert.Equal(t, "switchcmp"+string(rune('1'+i)), v.Name)
			}

			d := a.Node(a.ExitMaskNode(entry, 0))
			require.Equal(t, KindConjunction, d.Kind)
			neg := a.Node(d.Operands[1])
			require.Equal(t, KindNegate, neg.Kind)
			if len(tt.cases) == 1 {
				assert.Equal(t, KindValue, a.Node(neg.Operands[0]).Kind)
			} else {
				assert.Equal(t, KindDisjunction, a.Node(neg.Operands[0]).Kind)
			}
		})
	}
}

func TestParallelEdges(t *testing.T) {
	f := ir.NewFunction("parallel")
	f.NewParam("m", ir.TypeBool)
	c := f.NewParam("c", ir.TypeBool)
	entry := f.NewBlock("entry")
	next := f.NewBlock("next")
	entry.SetBranch(c, next, next)
	next.SetReturn()
	div := divergence.New(f)
	div.SetMaskParam(0)

	a, _ := build(t, f, div)
	n := a.Node(a.EntryMaskNode(next))
	assert.Equal(t, KindDisjunction, n.Kind)
	assert.Equal(t, []NodeID{a.ExitMaskNode(entry, 0), a.ExitMaskNode(entry, 1)}, n.Operands)
}

func TestEntryMaskRules(t *testing.T) {
	t.Run("constant entry without mask parameter", func(t *testing.T) {
		f, div := diamond()
		div.SetMaskParam(-1)
		div.SetBlockShape(f.Entry(), divergence.Uniform)
		a, _ := build(t, f, div)
		n := a.Node(a.EntryMaskNode(f.Entry()))
		assert.Equal(t, KindConstant, n.Kind)
		assert.True(t, n.Value.IsConst(true))
	})

	t.Run("varying entry allowed when divergence is disabled", func(t *testing.T) {
		f, div := diamond()
		div.SetMaskParam(-1)
		a, _ := build(t, f, div, WithDisableControlFlowDivergence(true))
		assert.Equal(t, KindConstant, a.Node(a.EntryMaskNode(f.Entry())).Kind)
	})

	t.Run("always by all", func(t *testing.T) {
		f, div := diamond()
		div.SetMaskParam(-1)
		div.SetBlockShape(f.Entry(), divergence.Uniform)
		bC := f.BlockByName("C")
		div.SetExecution(bC, divergence.AlwaysByAllOrNone)
		a, _ := build(t, f, div)
		n := a.Node(a.EntryMaskNode(bC))
		assert.Equal(t, KindConstant, n.Kind)
		assert.True(t, n.Value.IsConst(true))
	})

	t.Run("non-divergent loop header refers to preheader", func(t *testing.T) {
		f, div := simpleLoop()
		h := f.BlockByName("H")
		div.SetDivergentLoop(h, false)
		a, li := build(t, f, div)
		n := a.Node(a.EntryMaskNode(h))
		assert.Equal(t, KindReference, n.Kind)
		assert.Equal(t, []*ir.Block{f.BlockByName("pre"), h}, n.Incoming)
		assert.Panics(t, func() { a.LoopMaskPhiNode(li.LoopByHeader(h)) })
	})
}

func TestAnalyzeErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func() (*ir.Function, *divergence.Info)
		want  error
	}{
		{
			name: "varying entry without mask parameter",
			build: func() (*ir.Function, *divergence.Info) {
				f, div := diamond()
				div.SetMaskParam(-1)
				return f, div
			},
			want: ErrOracleMismatch,
		},
		{
			name: "always by all with mask parameter",
			build: func() (*ir.Function, *divergence.Info) {
				f, div := diamond()
				div.SetExecution(f.BlockByName("C"), divergence.AlwaysByAll)
				return f, div
			},
			want: ErrOracleMismatch,
		},
		{
			name: "mask parameter out of range",
			build: func() (*ir.Function, *divergence.Info) {
				f, div := diamond()
				div.SetMaskParam(5)
				return f, div
			},
			want: ErrOracleMismatch,
		},
		{
			name: "divergent header always by all",
			build: func() (*ir.Function, *divergence.Info) {
				f, div := simpleLoop()
				div.SetMaskParam(-1)
				div.SetBlockShape(f.Entry(), divergence.Uniform)
				div.SetExecution(f.BlockByName("H"), divergence.AlwaysByAll)
				return f, div
			},
			want: ErrOracleMismatch,
		},
		{
			name: "indirect branch",
			build: func() (*ir.Function, *divergence.Info) {
				f := ir.NewFunction("indirect")
				f.NewParam("m", ir.TypeBool)
				addr := f.NewParam("addr", ir.TypeInt)
				entry := f.NewBlock("entry")
				x := f.NewBlock("x")
				y := f.NewBlock("y")
				entry.SetIndirect(addr, x, y)
				x.SetReturn()
				y.SetReturn()
				div := divergence.New(f)
				div.SetMaskParam(0)
				return f, div
			},
			want: ErrUnsupportedTerminator,
		},
		{
			name: "divergent loop with two latches",
			build: func() (*ir.Function, *divergence.Info) {
				f := ir.NewFunction("latches")
				f.NewParam("m", ir.TypeBool)
				c := f.NewParam("c", ir.TypeBool)
				entry := f.NewBlock("entry")
				pre := f.NewBlock("pre")
				h := f.NewBlock("H")
				l1 := f.NewBlock("l1")
				l2 := f.NewBlock("l2")
				entry.SetJump(pre)
				pre.SetJump(h)
				h.SetBranch(c, l1, l2)
				l1.SetJump(h)
				l2.SetJump(h)
				div := divergence.New(f)
				div.SetMaskParam(0)
				div.SetDivergentLoop(h, true)
				return f, div
			},
			want: ErrMalformedLoop,
		},
		{
			name: "loop without preheader",
			build: func() (*ir.Function, *divergence.Info) {
				f := ir.NewFunction("nopre")
				f.NewParam("m", ir.TypeBool)
				c := f.NewParam("c", ir.TypeBool)
				entry := f.NewBlock("entry")
				side := f.NewBlock("side")
				h := f.NewBlock("H")
				done := f.NewBlock("done")
				entry.SetBranch(c, h, side)
				side.SetJump(h)
				h.SetBranch(c, h, done)
				done.SetReturn()
				div := divergence.New(f)
				div.SetMaskParam(0)
				return f, div
			},
			want: ErrMalformedLoop,
		},
		{
			name: "block leaving a divergent loop twice",
			build: func() (*ir.Function, *divergence.Info) {
				f := ir.NewFunction("twice")
				f.NewParam("m", ir.TypeBool)
				x := f.NewParam("x", ir.TypeInt)
				entry := f.NewBlock("entry")
				pre := f.NewBlock("pre")
				h := f.NewBlock("H")
				body := f.NewBlock("body")
				latch := f.NewBlock("latch")
				out1 := f.NewBlock("out1")
				out2 := f.NewBlock("out2")
				entry.SetJump(pre)
				pre.SetJump(h)
				h.SetJump(body)
				body.SetSwitch(x, latch, []int64{1, 2}, []*ir.Block{out1, out2})
				latch.SetJump(h)
				out1.SetReturn()
				out2.SetReturn()
				div := divergence.New(f)
				div.SetMaskParam(0)
				div.SetDivergentLoop(h, true)
				return f, div
			},
			want: ErrMalformedLoop,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, div := tt.build()
			a, err := analyzeErr(t, f, div)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "mask analysis of "+f.Name)
			assert.Equal(t, 0, a.NumNodes())
			assert.Panics(t, func() { a.EntryMaskNode(f.Entry()) })
		})
	}
}

func TestIndirectWithSingleTarget(t *testing.T) {
	f := ir.NewFunction("indirect1")
	f.NewParam("m", ir.TypeBool)
	addr := f.NewParam("addr", ir.TypeInt)
	entry := f.NewBlock("entry")
	x := f.NewBlock("x")
	entry.SetIndirect(addr, x)
	x.SetReturn()
	div := divergence.New(f)
	div.SetMaskParam(0)

	a, _ := build(t, f, div)
	assert.Equal(t, a.EntryMaskNode(entry), a.ExitMaskNode(entry, 0))
}

func TestAnalyzeTwice(t *testing.T) {
	f, div := diamond()
	a, _ := build(t, f, div)
	n := a.NumNodes()
	assert.ErrorIs(t, a.Analyze(), ErrAlreadyAnalyzed)
	assert.Equal(t, n, a.NumNodes())
}

func TestEndlessLoopAndUnreachableBlocks(t *testing.T) {
	f := ir.NewFunction("endless")
	f.NewParam("m", ir.TypeBool)
	entry := f.NewBlock("entry")
	pre := f.NewBlock("pre")
	h := f.NewBlock("H")
	dead := f.NewBlock("dead")
	entry.SetJump(pre)
	pre.SetJump(h)
	h.SetJump(h)
	dead.SetReturn()
	div := divergence.New(f)
	div.SetMaskParam(0)
	div.SetDivergentLoop(h, true)

	a, li := build(t, f, div)
	for _, b := range []*ir.Block{entry, pre, h} {
		assert.NotEqual(t, NoNode, a.EntryMaskNode(b), "block %s", b)
	}
	assert.Panics(t, func() { a.EntryMaskNode(dead) })

	phi := a.Node(a.LoopMaskPhiNode(li.LoopByHeader(h)))
	assert.Equal(t, KindLoopMaskPhi, phi.Kind)
	assert.Equal(t, []NodeID{a.ExitMaskNodeTo(pre, h), a.ExitMaskNodeTo(h, h)}, phi.Operands)
	assert.Panics(t, func() { a.CombinedLoopExitMaskNode(li.LoopByHeader(h)) })
}
