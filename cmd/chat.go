package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/podtech-ai/tabichan-go/tabichan"
)

// newChatCmd submits a chat task and, by default, waits for the result.
func newChatCmd() *cobra.Command {
	var (
		country   string
		user      string
		noWait    bool
		noHistory bool
	)

	cmd := &cobra.Command{
		Use:   "chat <query>",
		Short: "Submit a chat request and print the generated itinerary.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			query := args[0]

			userID := user
			if userID == "" {
				userID = a.UserID()
			}
			if country == "" {
				country = a.Config.API.Country
			}

			var prior []tabichan.ChatMessage
			if a.History != nil && !noHistory {
				prior, err = a.History.Recent(ctx, userID, 20)
				if err != nil {
					a.Logger.Warn("load conversation history", zap.Error(err))
				}
			}

			taskID, err := a.Client.StartChat(ctx, tabichan.ChatRequest{
				UserQuery: query,
				UserID:    userID,
				Country:   tabichan.Country(country),
				History:   prior,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "task:", taskID)
			if noWait {
				return nil
			}

			result, err := a.Client.WaitForChat(ctx, taskID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), prettyJSON(result))

			if a.History != nil && !noHistory {
				err := a.History.Append(ctx, userID,
					tabichan.ChatMessage{Role: "user", Content: query},
					tabichan.ChatMessage{Role: "assistant", Content: string(result)},
				)
				if err != nil {
					a.Logger.Warn("record conversation history", zap.Error(err))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&country, "country", "", "destination catalog: japan or france")
	cmd.Flags().StringVar(&user, "user", "", "user ID for history attribution")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "print the task ID and exit without polling")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "skip the local conversation store")

	return cmd
}

func prettyJSON(raw json.RawMessage) string {
	var buf map[string]any
	if err := json.Unmarshal(raw, &buf); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}
