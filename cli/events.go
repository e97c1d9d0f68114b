package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaot623/opsagent/internal/domain"
)

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Print the recorded events of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			types, _ := cmd.Flags().GetString("types")
			asJSON, _ := cmd.Flags().GetBool("json")

			client := &http.Client{Timeout: requestTimeout(cmd)}
			resp, err := fetchEvents(cmd, client, serverURL(cmd), args[0], types)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			if len(resp.Events) == 0 {
				fmt.Fprintln(out, "No events recorded.")
				return nil
			}
			for _, ev := range resp.Events {
				ts := time.UnixMilli(ev.Ts).Format("15:04:05.000")
				fmt.Fprintf(out, "%s  %-16s %s\n", ts, ev.Type, string(ev.Payload))
			}
			return nil
		},
	}
	cmd.Flags().String("types", "", "Comma separated event types to include")
	cmd.Flags().Bool("json", false, "Print the raw JSON response")
	return cmd
}

func fetchEvents(cmd *cobra.Command, client *http.Client, server, runID, types string) (*domain.RunEventsResponse, error) {
	u := server + "/v1/runs/" + url.PathEscape(runID) + "/events"
	if types != "" {
		u += "?" + url.Values{"types": {types}}.Encode()
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out domain.RunEventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}
