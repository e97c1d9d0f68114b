// Package main provides a command line client for the opsagent server.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "opsagent-cli",
		Short:         "Talk to an opsagent server",
		Long:          `opsagent-cli asks questions over HTTP or an interactive WebSocket session and inspects recorded runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags (available to all commands)
	root.PersistentFlags().String("server", "http://localhost:8000", "Base URL of the opsagent server")
	root.PersistentFlags().Duration("timeout", 5*time.Minute, "Request timeout")

	root.AddCommand(newAskCmd(), newChatCmd(), newEventsCmd())
	return root
}

// serverURL returns the --server flag without a trailing slash.
func serverURL(cmd *cobra.Command) string {
	s, _ := cmd.Flags().GetString("server")
	return strings.TrimRight(s, "/")
}

func requestTimeout(cmd *cobra.Command) time.Duration {
	d, _ := cmd.Flags().GetDuration("timeout")
	return d
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
