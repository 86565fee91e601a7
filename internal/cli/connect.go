package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/bdl/internal/repo"
)

// ConnectCmd returns the connect command
func ConnectCmd() *cobra.Command {
	var template string

	cmd := &cobra.Command{
		Use:     "connect <url> [path]",
		Aliases: []string{"co"},
		Short:   "Create a local repository mirroring a remote url",
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := newRemoteRepo(args, template)
			if err != nil {
				return err
			}
			fmt.Printf("Connect: %s\n", r.Path())
			return r.Connect(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&template, "template", "t", "", "storename template")
	return cmd
}

// CloneCmd returns the clone command: connect plus a first update in one
// step.
func CloneCmd() *cobra.Command {
	var template string

	cmd := &cobra.Command{
		Use:   "clone <url> [path]",
		Short: "Connect a repository and fetch every new item",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := newRemoteRepo(args, template)
			if err != nil {
				return err
			}
			fmt.Printf("Clone: %s\n", r.Path())
			err = runWithProgress(cmd.Context(), r, func(ctx context.Context) error {
				return r.Clone(ctx)
			})
			if unloadErr := r.Unload(); err == nil {
				err = unloadErr
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&template, "template", "t", "", "storename template")
	return cmd
}

// newRemoteRepo builds a handle from a <url> [path] argument pair.
func newRemoteRepo(args []string, template string) (*repo.Repository, error) {
	opts := []repo.Option{repo.WithURL(args[0])}
	if len(args) > 1 {
		opts = append(opts, repo.WithPath(args[1]))
	}
	if template != "" {
		opts = append(opts, repo.WithTemplate(template))
	}
	return repo.New(opts...)
}
