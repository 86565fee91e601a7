package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/bdl/internal/repo"
)

// RenameCmd returns the rename command: re-render every storename under a
// new template.
func RenameCmd() *cobra.Command {
	var template string

	cmd := &cobra.Command{
		Use:   "rename [path]...",
		Short: "Rename stored files under a new storename template",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachPath(cmd.Context(), repoPaths(args), "",
				func(ctx context.Context, r *repo.Repository) error {
					return r.Rename(ctx, template)
				})
		},
	}
	cmd.Flags().StringVarP(&template, "template", "t", "", "new storename template")
	cmd.MarkFlagRequired("template")
	return cmd
}
