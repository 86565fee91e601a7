package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/bdl/internal/cli"
	"github.com/example/bdl/internal/logging"
	"github.com/example/bdl/internal/repo"
	"github.com/example/bdl/internal/version"
)

func main() {
	var loglevel string

	rootCmd := &cobra.Command{
		Use:     "bdl",
		Short:   "bdl - incremental mirror of remote item collections",
		Version: version.String(),
		Long: `bdl mirrors an externally-enumerable collection of remote items to local
storage, remembering what has already been retrieved so that repeated runs
fetch only new, missing, or explicitly re-requested items.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Setup(loglevel)
		},
	}
	rootCmd.PersistentFlags().StringVar(&loglevel, "loglevel", logging.DefaultLevel,
		"log level (DEBUG|INFO|WARNING|ERROR|CRITICAL)")

	rootCmd.AddCommand(cli.ConnectCmd())
	rootCmd.AddCommand(cli.CloneCmd())
	rootCmd.AddCommand(cli.UpdateCmd())
	rootCmd.AddCommand(cli.StashCmd())
	rootCmd.AddCommand(cli.ResetCmd())
	rootCmd.AddCommand(cli.CheckoutCmd())
	rootCmd.AddCommand(cli.StatusCmd())
	rootCmd.AddCommand(cli.DiffCmd())
	rootCmd.AddCommand(cli.RenameCmd())
	rootCmd.AddCommand(cli.AboutCmd())

	// Ctrl-C flows into the command context; running updates observe it
	// and stop cooperatively.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if repo.IsDomainError(err) {
			fmt.Fprintf(os.Stderr, "bdl: %v\n", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
