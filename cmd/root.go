// Package cmd implements the tabichan command-line interface.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/podtech-ai/tabichan-go/internal/app"
)

var (
	cfgFile  string
	apiKey   string
	baseURL  string
	jsonLogs bool
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It's a variable so we can
// replace it with a mock factory in our tests.
var newApp = func(ctx context.Context) (*app.App, error) {
	return app.New(ctx, app.Options{
		ConfigPath: cfgFile,
		APIKey:     apiKey,
		BaseURL:    baseURL,
		JSONLogs:   jsonLogs,
	})
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tabichan",
		Short: "A command-line client for the Tabichan tourism API.",
		Long: `tabichan talks to the Tabichan tourism API. It submits chat requests,
waits for generated itineraries, fetches destination images, and runs
interactive chat sessions over WebSocket.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs after flags are parsed but before the subcommand's RunE:
		// build the application services and inject them into the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		// Ensures services are shut down gracefully.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is none; TABICHAN_* env vars apply)")
	cmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key (overrides TABICHAN_API_KEY)")
	cmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "API base URL override")
	cmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit JSON logs instead of console output")

	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newImageCmd())
	cmd.AddCommand(newStreamCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// appFrom retrieves the injected App from the command context.
func appFrom(cmd *cobra.Command) (*app.App, error) {
	a, ok := cmd.Context().Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return a, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
