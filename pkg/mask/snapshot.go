package mask

import (
	"bytes"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/l3aro/go-mask-analysis/pkg/ir"
)

// SnapshotVersion is bumped whenever the snapshot layout changes.
const SnapshotVersion = 2

// Snapshot is a serializable copy of a mask graph. Blocks are named, values
// are rendered with ir.Value.LongString, and every list follows function
// order, so equal graphs produce byte-identical encodings.
type Snapshot struct {
	Version  int            `msgpack:"version" json:"version"`
	Function string         `msgpack:"function" json:"function"`
	Nodes    []NodeRecord   `msgpack:"nodes" json:"nodes"`
	Blocks   []BlockRecord  `msgpack:"blocks" json:"blocks"`
	Loops    []LoopRecord   `msgpack:"loops,omitempty" json:"loops,omitempty"`
	Exits    []ExitRecord   `msgpack:"exits,omitempty" json:"exits,omitempty"`
	Stats    []StatRecord   `msgpack:"stats,omitempty" json:"stats,omitempty"`
}

// StatRecord is one named counter of a snapshot.
type StatRecord struct {
	Name  string `msgpack:"name" json:"name"`
	Count int    `msgpack:"count" json:"count"`
}

// Stat returns the counter called name, or 0.
func (s *Snapshot) Stat(name string) int {
	for _, r := range s.Stats {
		if r.Name == name {
			return r.Count
		}
	}
	return 0
}

// NodeRecord is one node of a snapshot.
type NodeRecord struct {
	Kind        string   `msgpack:"kind" json:"kind"`
	Operands    []int32  `msgpack:"operands,omitempty" json:"operands,omitempty"`
	Incoming    []string `msgpack:"incoming,omitempty" json:"incoming,omitempty"`
	Value       string   `msgpack:"value,omitempty" json:"value,omitempty"`
	InsertPoint string   `msgpack:"insert,omitempty" json:"insert,omitempty"`
}

// BlockRecord holds the entry and exit nodes of one block.
type BlockRecord struct {
	Block string  `msgpack:"block" json:"block"`
	Entry int32   `msgpack:"entry" json:"entry"`
	Exits []int32 `msgpack:"exits,omitempty" json:"exits,omitempty"`
}

// LoopRecord holds the loop mask phi and combined exit mask of a divergent loop.
type LoopRecord struct {
	Header   string `msgpack:"header" json:"header"`
	MaskPhi  int32  `msgpack:"mask_phi" json:"mask_phi"`
	Combined int32  `msgpack:"combined" json:"combined"`
}

// ExitRecord describes one exiting block of divergent loops.
type ExitRecord struct {
	Exiting   string         `msgpack:"exiting" json:"exiting"`
	Target    string         `msgpack:"target" json:"target"`
	Innermost string         `msgpack:"innermost" json:"innermost"`
	TopLevel  string         `msgpack:"top_level" json:"top_level"`
	Loops     []ExitLoopNode `msgpack:"loops" json:"loops"`
}

// ExitLoopNode is the exit phi and update of one loop for one exit.
type ExitLoopNode struct {
	Header string `msgpack:"header" json:"header"`
	Phi    int32  `msgpack:"phi" json:"phi"`
	Update int32  `msgpack:"update" json:"update"`
}

func blockName(b *ir.Block) string {
	if b == nil {
		return ""
	}
	return b.String()
}

// Snapshot captures the current graph.
func (a *Analysis) Snapshot() *Snapshot {
	s := &Snapshot{
		Version:  SnapshotVersion,
		Function: a.fn.Name,
		Nodes:    make([]NodeRecord, len(a.arena.nodes)),
	}
	for i, n := range a.arena.nodes {
		rec := NodeRecord{Kind: n.kind.String()}
		for _, op := range n.operands {
			rec.Operands = append(rec.Operands, int32(op))
		}
		for _, b := range n.incoming {
			rec.Incoming = append(rec.Incoming, blockName(b))
		}
		if n.value != nil {
			if n.value.Block != nil {
				rec.Value = n.value.LongString()
			} else {
				rec.Value = n.value.String()
			}
		}
		if n.insert != nil {
			rec.InsertPoint = n.insert.String()
		}
		s.Nodes[i] = rec
	}

	for _, b := range orderedBlocks(a.fn, a.blocks) {
		bi := a.blocks[b]
		rec := BlockRecord{Block: blockName(b), Entry: int32(bi.entry)}
		for _, id := range bi.exits {
			rec.Exits = append(rec.Exits, int32(id))
		}
		s.Blocks = append(s.Blocks, rec)
	}
	for _, h := range orderedBlocks(a.fn, a.loopMasks) {
		li := a.loopMasks[h]
		s.Loops = append(s.Loops, LoopRecord{
			Header:   blockName(h),
			MaskPhi:  int32(li.maskPhi),
			Combined: int32(li.combined),
		})
	}
	for _, b := range orderedBlocks(a.fn, a.exits) {
		ei := a.exits[b]
		rec := ExitRecord{
			Exiting:   blockName(ei.exiting),
			Target:    blockName(ei.target),
			Innermost: blockName(ei.innermost),
			TopLevel:  blockName(ei.topLevel),
		}
		for _, h := range orderedBlocks(a.fn, ei.phis) {
			update, ok := ei.updates[h]
			if !ok {
				update = NoNode
			}
			rec.Loops = append(rec.Loops, ExitLoopNode{
				Header: blockName(h),
				Phi:    int32(ei.phis[h]),
				Update: int32(update),
			})
		}
		s.Exits = append(s.Exits, rec)
	}

	st := a.Stats()
	s.Stats = []StatRecord{
		{Name: "nodes", Count: st.Nodes},
		{Name: "materialized", Count: st.Materialized},
	}
	for k := range kindNames {
		if n := st.ByKind[Kind(k)]; n > 0 {
			s.Stats = append(s.Stats, StatRecord{Name: Kind(k).String(), Count: n})
		}
	}
	return s
}

// EncodeSnapshot writes s to w in msgpack format.
func EncodeSnapshot(w io.Writer, s *Snapshot) error {
	enc := msgpack.NewEncoder(w)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode mask snapshot: %w", err)
	}
	return nil
}

// DecodeSnapshot reads a snapshot written by EncodeSnapshot.
func DecodeSnapshot(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := msgpack.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode mask snapshot: %w", err)
	}
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("mask snapshot version %d, want %d", s.Version, SnapshotVersion)
	}
	return &s, nil
}

// Fingerprint returns the xxhash of the encoded snapshot of s.
func (s *Snapshot) Fingerprint() (uint64, error) {
	var buf bytes.Buffer
	if err := EncodeSnapshot(&buf, s); err != nil {
		return 0, err
	}
	return xxhash.Sum64(buf.Bytes()), nil
}

// Fingerprint hashes the current graph. Two runs over the same function and
// classification yield the same fingerprint.
func (a *Analysis) Fingerprint() uint64 {
	fp, err := a.Snapshot().Fingerprint()
	if err != nil {
		// Snapshots contain only strings, integers and slices.
		panic(fmt.Sprintf("mask: %v", err))
	}
	return fp
}

// Stats summarizes the graph.
type Stats struct {
	Nodes        int
	Materialized int
	Blocks       int
	Loops        int
	Exits        int
	ByKind       map[Kind]int
}

// Stats counts the nodes of the graph by kind.
func (a *Analysis) Stats() Stats {
	st := Stats{
		Nodes:  len(a.arena.nodes),
		Blocks: len(a.blocks),
		Loops:  len(a.loopMasks),
		Exits:  len(a.exits),
		ByKind: make(map[Kind]int),
	}
	for _, n := range a.arena.nodes {
		st.ByKind[n.kind]++
		if n.value != nil {
			st.Materialized++
		}
	}
	return st
}
