package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/bdl/internal/repo"
)

// UpdateCmd returns the update command: fetch items newer than the last
// indexed one.
func UpdateCmd() *cobra.Command {
	return newSyncCmd(syncSpec{
		use:     "update [path]...",
		aliases: []string{"up"},
		short:   "Fetch new items",
		mode:    repo.ModeNew,
	})
}

// StashCmd returns the stash command: re-fetch missing files and refresh
// every existing item.
func StashCmd() *cobra.Command {
	return newSyncCmd(syncSpec{
		use:   "stash [path]...",
		short: "Re-fetch missing files and refresh existing items",
		mode:  repo.ModeMissing | repo.ModeExistingAll,
	})
}

// ResetCmd returns the reset command: re-fetch files missing on disk.
func ResetCmd() *cobra.Command {
	return newSyncCmd(syncSpec{
		use:   "reset [path]...",
		short: "Re-fetch files missing on disk",
		mode:  repo.ModeMissing,
	})
}

// CheckoutCmd returns the checkout command: a full refresh of new, missing
// and existing items.
func CheckoutCmd() *cobra.Command {
	return newSyncCmd(syncSpec{
		use:   "checkout [path]...",
		short: "Fetch new items and refresh everything already indexed",
		mode:  repo.ModeNew | repo.ModeMissing | repo.ModeExistingAll,
	})
}

type syncSpec struct {
	use     string
	aliases []string
	short   string
	mode    repo.Mode
}

// newSyncCmd builds one of the synchronization commands. They differ only
// in the mode mask handed to the orchestrator.
func newSyncCmd(spec syncSpec) *cobra.Command {
	var template string

	cmd := &cobra.Command{
		Use:     spec.use,
		Aliases: spec.aliases,
		Short:   spec.short,
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachPath(cmd.Context(), repoPaths(args), template,
				func(ctx context.Context, r *repo.Repository) error {
					return runWithProgress(ctx, r, func(ctx context.Context) error {
						return r.Update(ctx, spec.mode)
					})
				})
		},
	}
	cmd.Flags().StringVarP(&template, "template", "t", "", "storename template override for this run")
	return cmd
}
