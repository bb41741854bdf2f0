package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/collabhub/internal/protocol"
	"github.com/user/collabhub/internal/termctx"
	"github.com/user/collabhub/internal/types"
)

func init() {
	rootCmd.AddCommand(joinCmd, leaveCmd, whoCmd, heartbeatCmd)

	joinCmd.Flags().String("role", "general", "session role (android, web, backend, iot, general, or custom)")
	joinCmd.Flags().String("name", "", "display name (defaults to the role)")
}

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join the hub from this terminal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		name, _ := cmd.Flags().GetString("name")

		cfg := loadConfig()
		resp, err := do(cfg, protocol.Command{Cmd: protocol.CmdJoin, Role: role, Name: name})
		if err != nil {
			return err
		}

		var session types.Session
		if err := json.Unmarshal(resp.Data, &session); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		if err := termStore(cfg).Save(termctx.TerminalID(), session.ID); err != nil {
			return fmt.Errorf("bind terminal: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Joined as %s [%s] (%s)\n", session.Name, session.Role, session.ID)
		return nil
	},
}

var leaveCmd = &cobra.Command{
	Use:   "leave",
	Short: "Leave the hub",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessionID, err := currentSession(cfg)
		if err != nil {
			return err
		}

		if _, err := do(cfg, protocol.Command{Cmd: protocol.CmdLeave, SessionID: sessionID}); err != nil {
			return err
		}
		if err := termStore(cfg).Clear(termctx.TerminalID()); err != nil {
			return err
		}
		fmt.Println("Left the hub.")
		return nil
	},
}

var whoCmd = &cobra.Command{
	Use:   "who",
	Short: "List active sessions, local and remote",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		resp, err := do(cfg, protocol.Command{Cmd: protocol.CmdWho})
		if err != nil {
			return err
		}

		var who struct {
			Sessions []*types.Session       `json:"sessions"`
			Remote   []*types.RemoteSession `json:"remote"`
		}
		if err := json.Unmarshal(resp.Data, &who); err != nil {
			return fmt.Errorf("decode sessions: %w", err)
		}
		if len(who.Sessions) == 0 && len(who.Remote) == 0 {
			fmt.Println("No active sessions.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tROLE\tSTATUS\tWORKING ON\tHUB")
		for _, s := range who.Sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\tlocal\n", s.Name, s.Role, s.Status, s.WorkingOn)
		}
		for _, s := range who.Remote {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Name, s.Role, s.Status, s.WorkingOn, s.HubName)
		}
		return w.Flush()
	},
}

var heartbeatCmd = &cobra.Command{
	Use:    "heartbeat",
	Short:  "Refresh this terminal's session liveness",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessionID, err := currentSession(cfg)
		if err != nil {
			return err
		}
		_, err = do(cfg, protocol.Command{Cmd: protocol.CmdHeartbeat, SessionID: sessionID})
		return err
	},
}
