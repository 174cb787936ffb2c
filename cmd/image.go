package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/podtech-ai/tabichan-go/tabichan"
)

// newImageCmd fetches a destination image by ID.
func newImageCmd() *cobra.Command {
	var (
		country string
		outPath string
	)

	cmd := &cobra.Command{
		Use:   "image <id>",
		Short: "Fetch a destination image.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if country == "" {
				country = a.Config.API.Country
			}

			if outPath == "" {
				encoded, err := a.Client.GetImage(ctx, args[0], tabichan.Country(country))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), encoded)
				return nil
			}

			raw, err := a.Client.ImageBytes(ctx, args[0], tabichan.Country(country))
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, raw, 0o644); err != nil {
				return fmt.Errorf("write image file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(raw), outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&country, "country", "", "destination catalog: japan or france")
	cmd.Flags().StringVar(&outPath, "out", "", "write decoded image bytes to this file")

	return cmd
}
