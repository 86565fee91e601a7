package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/bdl/internal/version"
	"github.com/example/bdl/internal/wire"
)

// AboutCmd returns the about command
func AboutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "about [engine|version]",
		Short: "Show engine mappings or version information",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subject := ""
			if len(args) > 0 {
				subject = args[0]
			}
			switch subject {
			case "engine":
				printEngines()
			case "version":
				fmt.Println(version.String())
			default:
				fmt.Fprintln(os.Stderr, "available subjects: engine, version")
			}
			return nil
		},
	}
	return cmd
}

// printEngines lists every handled host and the drivers claiming it,
// aligned in registration order.
func printEngines() {
	hosts := wire.Registry().Hosts()
	names := make([]string, 0, len(hosts))
	for host := range hosts {
		names = append(names, host)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, host := range names {
		fmt.Fprintf(w, "%s\t%s\n", host, strings.Join(hosts[host], ", "))
	}
	w.Flush()
}
