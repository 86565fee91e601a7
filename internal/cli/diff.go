package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/example/bdl/internal/repo"
)

// DiffCmd returns the diff command: list indexed items whose file is
// missing on disk.
func DiffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff [path]...",
		Short: "List indexed items missing from disk",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachPath(cmd.Context(), repoPaths(args), "",
				func(ctx context.Context, r *repo.Repository) error {
					missing, err := r.Missing()
					if err != nil {
						return err
					}
					fmt.Printf("Found %s missing items :\n", color.New(color.Bold).Sprint(len(missing)))
					for _, m := range missing {
						fmt.Printf("%s (%s)\n", m.Storename, m.URL)
					}
					return nil
				})
		},
	}
	return cmd
}
