package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive WebSocket chat session",
		Long:  `Opens a WebSocket session and sends each input line as a question. Ctrl+C cancels the run in progress; /quit exits.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			server := serverURL(cmd)

			fmt.Fprintf(out, "Connecting to %s...\n", wsURL(server))
			client, err := Dial(server, requestTimeout(cmd))
			if err != nil {
				return err
			}
			defer client.Close()
			fmt.Fprintf(out, "Connected: %s\n", client.ConnectionID())
			fmt.Fprintln(out, "Type a question and press Enter. Commands: /quit to exit")

			// Ctrl+C cancels the active run
			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, os.Interrupt)
			defer signal.Stop(interrupt)
			go func() {
				for range interrupt {
					if client.ActiveRun() == "" {
						os.Exit(130)
					}
					if err := client.CancelActive(); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "cancel failed: %v\n", err)
					}
				}
			}()

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					return scanner.Err()
				}

				input := strings.TrimSpace(scanner.Text())
				if input == "" {
					continue
				}
				if input == "/quit" {
					fmt.Fprintln(out, "Bye!")
					return nil
				}

				if _, err := client.Ask(input, out); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
				}
			}
		},
	}
}
