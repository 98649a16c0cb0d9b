package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/biosig-go/internal/buildinfo"
)

// Command creates the version command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.Get().String())
		},
	}
}
