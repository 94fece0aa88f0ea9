// Package version prints build information.
package version

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/wildlife-reid/internal/buildinfo"
	"github.com/tphakala/wildlife-reid/internal/cli"
)

// Command creates the version command
func Command(build *buildinfo.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cli.Printf(cmd, "reid %s (built %s)\n", build.GetVersion(), build.GetBuildDate())
		},
	}
}
