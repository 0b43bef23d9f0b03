// Package mask computes control-flow predicates for SIMD execution. An
// Analysis builds a graph of lazy mask expressions, one per block entry and
// per control-flow edge plus auxiliary nodes for divergent loops, and a
// Materializer lowers those expressions into boolean ir.Values.
//
// The graph lives in an arena owned by the Analysis. Operands are NodeIDs,
// so the cycles formed by loop phis are plain index cycles.
package mask

import (
	"errors"
	"fmt"

	"github.com/l3aro/go-mask-analysis/internal/log"
	"github.com/l3aro/go-mask-analysis/pkg/ir"
	"github.com/l3aro/go-mask-analysis/pkg/loops"
)

var (
	// ErrUnsupportedTerminator is returned when a block with several
	// successors ends in a terminator that has no edge conditions.
	ErrUnsupportedTerminator = errors.New("unsupported terminator")

	// ErrMalformedLoop is returned when a loop lacks the structure masks
	// are threaded through: a preheader, a unique latch for divergent loops,
	// and at most one exit edge per exiting block.
	ErrMalformedLoop = errors.New("malformed loop")

	// ErrOracleMismatch is returned when the divergence classification
	// contradicts the function, e.g. a varying entry block without a mask
	// parameter.
	ErrOracleMismatch = errors.New("divergence classification does not match function")

	// ErrAlreadyAnalyzed is returned by a second call to Analyze.
	ErrAlreadyAnalyzed = errors.New("mask graph already built")
)

// Oracle answers divergence questions about the analyzed function.
//
// Exits whose terminator is uniform are treated as optional: no lane can
// leave a divergent loop over them while others stay, so they get no loop
// exit phi and do not take part in the combined exit mask. The analysis
// relies on this and does not check it.
type Oracle interface {
	IsUniformValue(v *ir.Value) bool
	IsUniformBlock(b *ir.Block) bool
	IsUniformTerminator(b *ir.Block) bool
	IsAlwaysByAll(b *ir.Block) bool
	IsAlwaysByAllOrNone(b *ir.Block) bool
	IsNotAlwaysByAll(b *ir.Block) bool
	IsMandatory(b *ir.Block) bool
	IsDivergentLoop(l *loops.Loop) bool

	// MaskParamIndex returns the index of the parameter holding the incoming
	// mask, or -1.
	MaskParamIndex() int
}

// Annotator receives what mask generation produces.
type Annotator interface {
	MarkMaskOperation(v *ir.Value)
	SetPredicate(b *ir.Block, v *ir.Value)
}

// LoopProvider describes the loop structure of the analyzed function.
// *loops.Info implements it.
type LoopProvider interface {
	LoopFor(b *ir.Block) *loops.Loop
	IsLoopHeader(b *ir.Block) bool
	TopLevel() []*loops.Loop
	TopLevelLoopOfExit(exiting, exit *ir.Block) *loops.Loop
	NextNestedLoopOfExit(outer *loops.Loop, exiting *ir.Block) *loops.Loop
}

type blockInfo struct {
	entry NodeID
	exits []NodeID
}

type loopInfo struct {
	maskPhi  NodeID
	combined NodeID
}

// exitInfo describes one exiting block of one or more divergent loops. Loop
// maps are keyed by loop header so they survive cloning.
type exitInfo struct {
	exiting   *ir.Block
	target    *ir.Block
	innermost *ir.Block
	topLevel  *ir.Block

	// outermost is the first divergent loop that registered the exit. Its
	// update replaces the mask of the exit edge.
	outermost *ir.Block

	phis    map[*ir.Block]NodeID
	updates map[*ir.Block]NodeID
}

// Option configures an Analysis.
type Option func(*Analysis)

// WithLogger sets the logger used for debug tracing.
func WithLogger(l log.Logger) Option {
	return func(a *Analysis) {
		a.logger = l
	}
}

// WithDisableControlFlowDivergence allows a varying entry block without a
// mask parameter, for callers that vectorize without divergence analysis.
func WithDisableControlFlowDivergence(disable bool) Option {
	return func(a *Analysis) {
		a.disableCFDivergence = disable
	}
}

// Analysis holds the mask graph of one function.
type Analysis struct {
	fn     *ir.Function
	loops  LoopProvider
	oracle Oracle
	logger log.Logger

	disableCFDivergence bool

	arena     arena
	blocks    map[*ir.Block]*blockInfo
	loopMasks map[*ir.Block]*loopInfo
	exits     map[*ir.Block]*exitInfo

	analyzed  bool
	reachable map[*ir.Block]bool
}

// NewAnalysis prepares an analysis of fn. Call Analyze to build the graph.
func NewAnalysis(fn *ir.Function, lp LoopProvider, oracle Oracle, opts ...Option) *Analysis {
	a := &Analysis{
		fn:     fn,
		loops:  lp,
		oracle: oracle,
		logger: log.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.resetGraph()
	return a
}

func (a *Analysis) resetGraph() {
	a.arena.reset()
	a.blocks = make(map[*ir.Block]*blockInfo)
	a.loopMasks = make(map[*ir.Block]*loopInfo)
	a.exits = make(map[*ir.Block]*exitInfo)
}

// Function returns the function the graph describes.
func (a *Analysis) Function() *ir.Function { return a.fn }

// NumNodes returns the number of nodes in the arena.
func (a *Analysis) NumNodes() int { return a.arena.len() }

// Node returns a read-only view of id.
func (a *Analysis) Node(id NodeID) Node { return a.arena.view(id) }

func (a *Analysis) newNode(kind Kind, ip *ir.InsertPoint, operands ...NodeID) NodeID {
	return a.arena.add(kind, ip, operands...)
}

func (a *Analysis) newConstant(b bool, ip *ir.InsertPoint) NodeID {
	id := a.newNode(KindConstant, ip)
	a.arena.at(id).value = a.fn.ConstBool(b)
	return id
}

func (a *Analysis) newValue(v *ir.Value, ip *ir.InsertPoint) NodeID {
	id := a.newNode(KindValue, ip)
	a.arena.at(id).value = v
	return id
}

func (a *Analysis) mustBlock(b *ir.Block) *blockInfo {
	a.mustBeAnalyzed()
	bi, ok := a.blocks[b]
	if !ok {
		panic(fmt.Sprintf("mask: no mask information for block %s", b))
	}
	return bi
}

func (a *Analysis) mustBeAnalyzed() {
	if !a.analyzed {
		panic("mask: mask graph has not been built")
	}
}

func (a *Analysis) mustLoop(l *loops.Loop) *loopInfo {
	a.mustBeAnalyzed()
	li, ok := a.loopMasks[l.Header()]
	if !ok {
		panic(fmt.Sprintf("mask: no loop mask information for %s", l))
	}
	return li
}

func (a *Analysis) mustExit(exiting *ir.Block) *exitInfo {
	a.mustBeAnalyzed()
	ei, ok := a.exits[exiting]
	if !ok {
		panic(fmt.Sprintf("mask: block %s is not the exiting block of a divergent loop", exiting))
	}
	return ei
}

func succIndex(b, succ *ir.Block) int {
	i := b.SuccIndex(succ)
	if i < 0 {
		panic(fmt.Sprintf("mask: %s is not a successor of %s", succ, b))
	}
	return i
}

// EntryMaskNode returns the entry mask node of b.
func (a *Analysis) EntryMaskNode(b *ir.Block) NodeID {
	id := a.mustBlock(b).entry
	if id == NoNode {
		panic(fmt.Sprintf("mask: entry mask of %s was cleared", b))
	}
	return id
}

// ExitMaskNode returns the mask node of the i-th outgoing edge of b.
func (a *Analysis) ExitMaskNode(b *ir.Block, i int) NodeID {
	bi := a.mustBlock(b)
	if i < 0 || i >= len(bi.exits) {
		panic(fmt.Sprintf("mask: block %s has no exit mask %d", b, i))
	}
	return bi.exits[i]
}

// ExitMaskNodeTo returns the mask node of the first edge from b to succ.
func (a *Analysis) ExitMaskNodeTo(b, succ *ir.Block) NodeID {
	return a.ExitMaskNode(b, succIndex(b, succ))
}

// LoopMaskPhiNode returns the loop mask phi of a divergent loop.
func (a *Analysis) LoopMaskPhiNode(l *loops.Loop) NodeID {
	return a.mustLoop(l).maskPhi
}

// CombinedLoopExitMaskNode returns the mask of lanes that left l in the
// current iteration over any non-optional exit.
func (a *Analysis) CombinedLoopExitMaskNode(l *loops.Loop) NodeID {
	id := a.mustLoop(l).combined
	if id == NoNode {
		panic(fmt.Sprintf("mask: %s has no varying exit", l))
	}
	return id
}

// LoopExitMaskPhiNode returns the exit phi of l for the exit leaving from exiting.
func (a *Analysis) LoopExitMaskPhiNode(l *loops.Loop, exiting *ir.Block) NodeID {
	id, ok := a.mustExit(exiting).phis[l.Header()]
	if !ok {
		panic(fmt.Sprintf("mask: no loop exit phi of %s for exiting block %s", l, exiting))
	}
	return id
}

// LoopExitMaskUpdateNode returns the exit update of l for the exit leaving from exiting.
func (a *Analysis) LoopExitMaskUpdateNode(l *loops.Loop, exiting *ir.Block) NodeID {
	id, ok := a.mustExit(exiting).updates[l.Header()]
	if !ok {
		panic(fmt.Sprintf("mask: no loop exit update of %s for exiting block %s", l, exiting))
	}
	return id
}

// materialized returns the value of id, panicking if there is none yet.
func (a *Analysis) materialized(id NodeID, what string) *ir.Value {
	v := a.arena.at(id).value
	if v == nil {
		panic(fmt.Sprintf("mask: %s (%s) is not materialized", what, id))
	}
	return v
}

// EntryMask returns the materialized entry mask of b.
func (a *Analysis) EntryMask(b *ir.Block) *ir.Value {
	return a.materialized(a.EntryMaskNode(b), "entry mask of "+b.String())
}

// ExitMask returns the materialized mask of the i-th outgoing edge of b.
func (a *Analysis) ExitMask(b *ir.Block, i int) *ir.Value {
	return a.materialized(a.ExitMaskNode(b, i), fmt.Sprintf("exit mask %d of %s", i, b))
}

// ExitMaskTo returns the materialized mask of the edge from b to succ.
func (a *Analysis) ExitMaskTo(b, succ *ir.Block) *ir.Value {
	return a.materialized(a.ExitMaskNodeTo(b, succ), fmt.Sprintf("exit mask %s->%s", b, succ))
}

// LoopMaskPhi returns the materialized loop mask phi of l.
func (a *Analysis) LoopMaskPhi(l *loops.Loop) *ir.Value {
	return a.materialized(a.LoopMaskPhiNode(l), "loop mask phi of "+l.String())
}

// CombinedLoopExitMask returns the materialized combined exit mask of l.
func (a *Analysis) CombinedLoopExitMask(l *loops.Loop) *ir.Value {
	return a.materialized(a.CombinedLoopExitMaskNode(l), "combined exit mask of "+l.String())
}

// LoopExitMaskPhi returns the materialized exit phi of l for exiting.
func (a *Analysis) LoopExitMaskPhi(l *loops.Loop, exiting *ir.Block) *ir.Value {
	return a.materialized(a.LoopExitMaskPhiNode(l, exiting), "loop exit phi of "+exiting.String())
}

// LoopExitMaskUpdate returns the materialized exit update of l for exiting.
func (a *Analysis) LoopExitMaskUpdate(l *loops.Loop, exiting *ir.Block) *ir.Value {
	return a.materialized(a.LoopExitMaskUpdateNode(l, exiting), "loop exit update of "+exiting.String())
}

// assign sets the value of a node that has none yet.
func (a *Analysis) assign(id NodeID, v *ir.Value, what string) {
	n := a.arena.at(id)
	if n.value != nil {
		panic(fmt.Sprintf("mask: %s (%s) is already materialized as %s", what, id, n.value))
	}
	n.value = v
}

// SetEntryMask supplies the value of the entry mask of b.
func (a *Analysis) SetEntryMask(b *ir.Block, v *ir.Value) {
	a.assign(a.EntryMaskNode(b), v, "entry mask of "+b.String())
}

// SetExitMask supplies the value of the i-th exit mask of b.
func (a *Analysis) SetExitMask(b *ir.Block, i int, v *ir.Value) {
	a.assign(a.ExitMaskNode(b, i), v, fmt.Sprintf("exit mask %d of %s", i, b))
}

// SetExitMaskTo supplies the value of the mask of the edge from b to succ.
func (a *Analysis) SetExitMaskTo(b, succ *ir.Block, v *ir.Value) {
	a.assign(a.ExitMaskNodeTo(b, succ), v, fmt.Sprintf("exit mask %s->%s", b, succ))
}

// SetLoopExitMaskPhi supplies the value of the exit phi of l for exiting.
func (a *Analysis) SetLoopExitMaskPhi(l *loops.Loop, exiting *ir.Block, v *ir.Value) {
	a.assign(a.LoopExitMaskPhiNode(l, exiting), v, "loop exit phi of "+exiting.String())
}

// SetLoopExitMaskUpdate supplies the value of the exit update of l for exiting.
func (a *Analysis) SetLoopExitMaskUpdate(l *loops.Loop, exiting *ir.Block, v *ir.Value) {
	a.assign(a.LoopExitMaskUpdateNode(l, exiting), v, "loop exit update of "+exiting.String())
}
