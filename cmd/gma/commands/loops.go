package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/l3aro/go-mask-analysis/internal/config"
	"github.com/l3aro/go-mask-analysis/pkg/loops"
	"github.com/l3aro/go-mask-analysis/pkg/mask"
)

// LoopInfo describes one loop of the loop forest.
type LoopInfo struct {
	Header    string   `json:"header"`
	Depth     int      `json:"depth"`
	Parent    string   `json:"parent,omitempty"`
	Blocks    []string `json:"blocks"`
	Latches   []string `json:"latches"`
	Preheader string   `json:"preheader,omitempty"`
	Divergent bool     `json:"divergent"`
	ExitEdges []string `json:"exit_edges"`

	// Mask nodes of divergent loops.
	MaskPhi  *int32 `json:"mask_phi,omitempty"`
	Combined *int32 `json:"combined,omitempty"`
}

// loopsOutput is the JSON form of the loops command.
type loopsOutput struct {
	Function string            `json:"function"`
	Loops    []LoopInfo        `json:"loops"`
	Exits    []mask.ExitRecord `json:"exits"`
}

func names[T fmt.Stringer](xs []T) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = x.String()
	}
	return out
}

// describeLoops lists the loops of r in preorder with their mask nodes.
func describeLoops(r *result) loopsOutput {
	snap := r.a.Snapshot()
	records := make(map[string]mask.LoopRecord, len(snap.Loops))
	for _, lr := range snap.Loops {
		records[lr.Header] = lr
	}

	out := loopsOutput{Function: snap.Function, Loops: []LoopInfo{}, Exits: snap.Exits}
	if out.Exits == nil {
		out.Exits = []mask.ExitRecord{}
	}
	var visit func(l *loops.Loop)
	visit = func(l *loops.Loop) {
		li := LoopInfo{
			Header:    l.Header().String(),
			Depth:     l.Depth(),
			Blocks:    names(l.Blocks()),
			Latches:   names(l.Latches()),
			Divergent: r.fx.Div.IsDivergentLoop(l),
			ExitEdges: names(l.ExitEdges()),
		}
		if p := l.Parent(); p != nil {
			li.Parent = p.Header().String()
		}
		if pre := l.Preheader(); pre != nil {
			li.Preheader = pre.String()
		}
		if lr, ok := records[li.Header]; ok {
			li.MaskPhi = &lr.MaskPhi
			li.Combined = &lr.Combined
		}
		out.Loops = append(out.Loops, li)
		for _, sub := range l.SubLoops() {
			visit(sub)
		}
	}
	for _, l := range r.fx.Loops.TopLevel() {
		visit(l)
	}
	return out
}

func newLoopsCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "loops <fixture>",
		Short: "Show the loop forest with loop and exit masks",
		Long: `Prints every loop of a fixture, nested under its parent, with its latches,
preheader and exit edges. Divergent loops also show their loop mask phi
and combined exit mask, and every exit of a divergent loop lists its exit
mask phi and update per enclosing loop.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := s.run(args[0], false)
			if err != nil {
				return err
			}
			res := describeLoops(r)
			out := cmd.OutOrStdout()

			if s.cfg.OutputFormat == config.OutputJSON {
				data, err := json.MarshalIndent(res, "", "  ")
				if err != nil {
					return fmt.Errorf("marshaling JSON: %w", err)
				}
				fmt.Fprintln(out, string(data))
				return nil
			}
			printLoops(out, res)
			return nil
		},
	}
}

func printLoops(w io.Writer, res loopsOutput) {
	fmt.Fprintf(w, "=== Loops of %s (%d) ===\n", res.Function, len(res.Loops))
	for _, l := range res.Loops {
		indent := strings.Repeat("  ", l.Depth-1)
		kind := "uniform"
		if l.Divergent {
			kind = "divergent"
		}
		fmt.Fprintf(w, "%sloop(%s) %s blocks [%s]\n", indent, l.Header, kind, strings.Join(l.Blocks, " "))
		fmt.Fprintf(w, "%s  latches: %s\n", indent, strings.Join(l.Latches, " "))
		if l.Preheader != "" {
			fmt.Fprintf(w, "%s  preheader: %s\n", indent, l.Preheader)
		}
		if len(l.ExitEdges) > 0 {
			fmt.Fprintf(w, "%s  exits: %s\n", indent, strings.Join(l.ExitEdges, " "))
		}
		if l.MaskPhi != nil {
			fmt.Fprintf(w, "%s  mask phi: %s combined exit mask: %s\n", indent, mask.NodeID(*l.MaskPhi), mask.NodeID(*l.Combined))
		}
	}
	if len(res.Exits) == 0 {
		return
	}
	fmt.Fprintln(w, "\nLoop exits:")
	for _, e := range res.Exits {
		fmt.Fprintf(w, "  %s -> %s (innermost loop(%s), top-level loop(%s))\n", e.Exiting, e.Target, e.Innermost, e.TopLevel)
		for _, n := range e.Loops {
			fmt.Fprintf(w, "    loop(%s): phi %s update %s\n", n.Header, mask.NodeID(n.Phi), mask.NodeID(n.Update))
		}
	}
}
