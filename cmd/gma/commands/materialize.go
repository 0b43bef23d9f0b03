package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/l3aro/go-mask-analysis/internal/config"
	"github.com/l3aro/go-mask-analysis/pkg/ir"
	"github.com/l3aro/go-mask-analysis/pkg/mask"
)

// materializeOutput is the JSON form of the materialize command.
type materializeOutput struct {
	Function   string            `json:"function"`
	IR         string            `json:"ir"`
	Predicates map[string]string `json:"predicates"`
	Created    int               `json:"created"`
	Folded     int               `json:"folded"`
	Snapshot   *mask.Snapshot    `json:"snapshot"`
}

func newMaterializeCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "materialize <fixture>",
		Short: "Lower the masks a linearizer needs and print the function",
		Long: `Builds the mask graph of a fixture and materializes the entry, edge and
loop exit masks a linearizing code generator needs, or every mask with
--materialize-all. Prints the rewritten function and the predicate of
each block.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := s.run(args[0], true)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if s.cfg.OutputFormat == config.OutputJSON {
				res := materializeOutput{
					Function:   r.fx.Func.Name,
					IR:         r.fx.Func.String(),
					Predicates: make(map[string]string),
					Created:    r.m.Created(),
					Folded:     r.m.Folded(),
					Snapshot:   r.a.Snapshot(),
				}
				for _, b := range r.fx.Func.Blocks {
					if p := r.fx.Div.Predicate(b); p != nil {
						res.Predicates[b.String()] = p.String()
					}
				}
				data, err := json.MarshalIndent(res, "", "  ")
				if err != nil {
					return fmt.Errorf("marshaling JSON: %w", err)
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			printMaterialized(out, r)
			return nil
		},
	}
	cmd.Flags().BoolVar(&s.materializeAll, "materialize-all", false, "Materialize every entry and exit mask")
	cmd.Flags().BoolVar(&s.checkDeterminism, "check-determinism", false, "Rebuild the graph and fail if it differs from the first build or the cached snapshot")
	return cmd
}

func printMaterialized(w io.Writer, r *result) {
	ir.Fprint(w, r.fx.Func)
	fmt.Fprintln(w, "predicates:")
	for _, b := range r.fx.Func.Blocks {
		if p := r.fx.Div.Predicate(b); p != nil {
			fmt.Fprintf(w, "  %s: %s\n", b, p)
		}
	}
	fmt.Fprintf(w, "mask operations: %d created, %d folded\n", r.m.Created(), r.m.Folded())
}
