package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/example/bdl/internal/repo"
)

// StatusCmd returns the status command
func StatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [path]...",
		Short: "Show reachability and item counts of repositories",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachPath(cmd.Context(), repoPaths(args), "",
				func(ctx context.Context, r *repo.Repository) error {
					st, err := r.Status(ctx)
					if err != nil {
						return err
					}
					fmt.Printf("reachable: %s, indexed: %d, new: %d, missing: %d\n",
						reachableLabel(st.Reachable), st.Indexed, st.New, st.Missing)
					return nil
				})
		},
	}
	return cmd
}

func reachableLabel(reachable bool) string {
	if reachable {
		return color.New(color.FgGreen).Sprint("true")
	}
	return color.New(color.FgRed).Sprint("false")
}
