// Package cmd is the cobra-based CLI: "arachne serve" (default), "arachne migrate", and
// "arachne version". A persistent --verbose flag controls slog level across all subcommands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/arachne-bridge/arachne/cmd.Version=v1.0.0".
var Version = "dev"

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "arachne",
	Short: "Arachne Bridge — a multi-tenant Discord-to-agent bridge",
	Long:  "Arachne Bridge hosts entities as chat-platform participants: it ingests server messages, routes them to per-entity queues, and sends replies back through per-channel webhooks.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("arachne %s\n", Version)
		},
	}
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
