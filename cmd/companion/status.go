package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/gateway-companion/internal/config"
	"github.com/rickgao/gateway-companion/internal/connection"
	"github.com/rickgao/gateway-companion/internal/statusserver"
)

func newStatusCmd() *cobra.Command {
	var (
		addr    string
		asJSON  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running companion",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			snap, err := statusserver.FetchStatus(ctx, addr)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			printStatus(out, snap)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", config.DefaultStatusAddr, "status server address")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full snapshot as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

// printStatus writes a short human-readable summary of snap.
func printStatus(w io.Writer, snap connection.Snapshot) {
	fmt.Fprintf(w, "Health:     %s\n", snap.Health.Status)
	for _, r := range snap.Health.Reasons {
		fmt.Fprintf(w, "            - %s\n", r)
	}

	phase := string(snap.Phase)
	switch {
	case snap.Destroyed:
		phase += " (destroyed)"
	case snap.Disarmed:
		phase += " (disarmed)"
	case snap.Paused:
		phase += " (polling paused)"
	}
	fmt.Fprintf(w, "Connection: %s\n", phase)
	if snap.URL != "" {
		fmt.Fprintf(w, "Gateway:    %s\n", snap.URL)
	} else if snap.TargetURL != "" {
		fmt.Fprintf(w, "Gateway:    %s\n", snap.TargetURL)
	}
	if snap.Connected {
		fmt.Fprintf(w, "Uptime:     %s (%.1f%%)\n",
			(time.Duration(snap.UptimeMs) * time.Millisecond).Truncate(time.Second), snap.UptimePercent)
	}
	if snap.ReconnectAttempt > 0 {
		fmt.Fprintf(w, "Reconnects: attempt %d\n", snap.ReconnectAttempt)
	}
	if snap.LastClose != nil {
		fatal := ""
		if snap.LastClose.Fatal {
			fatal = ", fatal"
		}
		fmt.Fprintf(w, "Last close: %d %s%s\n", snap.LastClose.Code, snap.LastClose.Reason, fatal)
	}

	if snap.LatencyMs != nil {
		line := fmt.Sprintf("%.0fms", *snap.LatencyMs)
		if st := snap.LatencyStats; st != nil {
			line += fmt.Sprintf(" (median %.0fms, p95 %.0fms, jitter %.0fms", st.Median, st.P95, st.Jitter)
			if snap.LatencyTrend != "" {
				line += ", " + string(snap.LatencyTrend)
			}
			line += ")"
		}
		fmt.Fprintf(w, "Latency:    %s\n", line)
	}

	plugin := "unavailable"
	if snap.PluginAvailable {
		plugin = "available via " + snap.PluginStateMethod
	}
	fmt.Fprintf(w, "Plugin:     %s\n", plugin)
	fmt.Fprintf(w, "Requests:   %d sent, %d ok, %d failed\n",
		snap.RequestsSent, snap.RequestsSucceeded, snap.RequestsFailed)
	fmt.Fprintf(w, "Instance:   %s\n", snap.InstanceID)
}
