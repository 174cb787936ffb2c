package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/podtech-ai/tabichan-go/tabichan"
)

// newVersionCmd prints the SDK version.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the SDK version.",
		// Version lookup needs no API key or services.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "tabichan-go", tabichan.Version)
		},
	}
}
