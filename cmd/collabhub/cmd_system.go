package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/collabhub/internal/hub"
	"github.com/user/collabhub/internal/protocol"
)

func init() {
	rootCmd.AddCommand(statusCmd, pingCmd, stopCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a summary of the running hub",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		resp, err := do(cfg, protocol.Command{Cmd: protocol.CmdStatus})
		if err != nil {
			return err
		}

		var s hub.Status
		if err := json.Unmarshal(resp.Data, &s); err != nil {
			return fmt.Errorf("decode status: %w", err)
		}

		fmt.Fprintf(os.Stdout, "Hub:        %s (%s) v%s\n", s.HubName, s.HubID, s.Version)
		fmt.Fprintf(os.Stdout, "Uptime:     %s\n", (time.Duration(s.UptimeSeconds) * time.Second).String())
		fmt.Fprintf(os.Stdout, "Sessions:   %d\n", s.ActiveSessions)
		fmt.Fprintf(os.Stdout, "Tasks:      %d\n", s.Tasks)
		fmt.Fprintf(os.Stdout, "Locks:      %d\n", s.ActiveLocks)
		fmt.Fprintf(os.Stdout, "Conflicts:  %d\n", s.Conflicts)
		fmt.Fprintf(os.Stdout, "Peers:      %d connected, %d pending\n", s.ConnectedHubs, s.PendingFed)
		return nil
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the daemon is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		start := time.Now()
		resp, err := do(cfg, protocol.Command{Cmd: protocol.CmdPing})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s (%s)\n", resp.Message, time.Since(start).Round(time.Microsecond))
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		resp, err := do(cfg, protocol.Command{Cmd: protocol.CmdShutdown})
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, resp.Message)
		return nil
	},
}
