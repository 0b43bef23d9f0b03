package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/l3aro/go-mask-analysis/internal/config"
	"github.com/l3aro/go-mask-analysis/pkg/mask"
)

func newAnalyzeCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <fixture|dir>...",
		Short: "Build and print the mask graph of fixtures",
		Long: `Builds the mask graph of every fixture given, or of every .yaml, .yml and
.hcl file below a directory, and prints its nodes and per-block, per-loop
and per-exit mask information. JSON output is a list of snapshots.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := expandPaths(args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var (
				snapshots []*mask.Snapshot
				errs      []error
			)
			for _, path := range paths {
				r, err := s.run(path, false)
				if err != nil {
					errs = append(errs, err)
					s.logger.Error("analysis failed", "path", path, "error", err)
					continue
				}
				if s.cfg.OutputFormat == config.OutputJSON {
					snapshots = append(snapshots, r.a.Snapshot())
					continue
				}
				if len(paths) > 1 {
					fmt.Fprintf(out, "== %s ==\n", path)
				}
				r.a.Print(out)
			}

			if s.cfg.OutputFormat == config.OutputJSON {
				data, err := json.MarshalIndent(snapshots, "", "  ")
				if err != nil {
					return fmt.Errorf("marshaling JSON: %w", err)
				}
				fmt.Fprintln(out, string(data))
			}

			if len(errs) > 0 {
				return fmt.Errorf("%d of %d fixtures failed: %w", len(errs), len(paths), errors.Join(errs...))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&s.checkDeterminism, "check-determinism", false, "Rebuild each graph and fail if it differs from the first build or the cached snapshot")
	return cmd
}
