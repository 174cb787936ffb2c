package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newHistoryCmd inspects or clears the local conversation store.
func newHistoryCmd() *cobra.Command {
	var (
		user  string
		clear bool
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or clear the local conversation history.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if a.History == nil {
				return fmt.Errorf("history store is disabled")
			}
			ctx := cmd.Context()
			userID := user
			if userID == "" {
				userID = a.UserID()
			}

			if clear {
				if err := a.History.Clear(ctx, userID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared history for %s\n", userID)
				return nil
			}

			msgs, err := a.History.Recent(ctx, userID, limit)
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no history for %s\n", userID)
				return nil
			}
			for _, m := range msgs {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", m.Role, m.Content)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "user ID (defaults to the configured user)")
	cmd.Flags().BoolVar(&clear, "clear", false, "delete stored turns for the user")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum turns to show")

	return cmd
}
