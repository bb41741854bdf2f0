package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/collabhub/internal/protocol"
	"github.com/user/collabhub/internal/types"
)

func init() {
	rootCmd.AddCommand(workonCmd, clearWorkCmd, lockCmd, unlockCmd, conflictsCmd, stateCmd)
	stateCmd.AddCommand(stateListCmd, stateGetCmd, stateSetCmd, stateDelCmd)

	lockCmd.Flags().Int("ttl", 900, "lock lifetime in seconds")
}

var workonCmd = &cobra.Command{
	Use:   "workon <path>",
	Short: "Announce which file this session is working on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessionID, err := currentSession(cfg)
		if err != nil {
			return err
		}

		resp, err := do(cfg, protocol.Command{
			Cmd:       protocol.CmdSetWorkingOn,
			SessionID: sessionID,
			Path:      args[0],
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, resp.Message)
		return nil
	},
}

var clearWorkCmd = &cobra.Command{
	Use:   "clearwork",
	Short: "Clear this session's work announcement",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessionID, err := currentSession(cfg)
		if err != nil {
			return err
		}
		resp, err := do(cfg, protocol.Command{Cmd: protocol.CmdClearWorkingOn, SessionID: sessionID})
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, resp.Message)
		return nil
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock <path>",
	Short: "Take an exclusive lock on a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetInt("ttl")

		cfg := loadConfig()
		sessionID, err := currentSession(cfg)
		if err != nil {
			return err
		}

		resp, err := do(cfg, protocol.Command{
			Cmd:        protocol.CmdLock,
			SessionID:  sessionID,
			Path:       args[0],
			TTLSeconds: ttl,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, resp.Message)
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <path>",
	Short: "Release a held file lock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessionID, err := currentSession(cfg)
		if err != nil {
			return err
		}
		resp, err := do(cfg, protocol.Command{Cmd: protocol.CmdUnlock, SessionID: sessionID, Path: args[0]})
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, resp.Message)
		return nil
	},
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Show recorded file conflicts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		resp, err := do(cfg, protocol.Command{Cmd: protocol.CmdGetConflicts})
		if err != nil {
			return err
		}

		var conflicts []types.Conflict
		if err := json.Unmarshal(resp.Data, &conflicts); err != nil {
			return fmt.Errorf("decode conflicts: %w", err)
		}
		if len(conflicts) == 0 {
			fmt.Println("No conflicts recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tSEVERITY\tPATH\tSESSIONS")
		for _, c := range conflicts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n",
				c.DetectedAt.Format("01-02 15:04"), c.Severity, c.Path, len(c.Others)+1)
		}
		return w.Flush()
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and edit shared key-value state",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every shared state key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		resp, err := do(cfg, protocol.Command{Cmd: protocol.CmdGetState})
		if err != nil {
			return err
		}

		var all map[string]json.RawMessage
		if err := json.Unmarshal(resp.Data, &all); err != nil {
			return fmt.Errorf("decode state: %w", err)
		}
		keys := make([]string, 0, len(all))
		for k := range all {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(os.Stdout, "%s = %s\n", k, all[k])
		}
		return nil
	},
}

var stateGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get one shared state value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		resp, err := do(cfg, protocol.Command{Cmd: protocol.CmdGetState, Key: args[0]})
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(resp.Data))
		return nil
	},
}

var stateSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a shared state value (JSON, or a bare string)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value := json.RawMessage(args[1])
		if !json.Valid(value) {
			// Treat non-JSON input as a string value.
			quoted, err := json.Marshal(args[1])
			if err != nil {
				return err
			}
			value = quoted
		}

		cfg := loadConfig()
		resp, err := do(cfg, protocol.Command{Cmd: protocol.CmdSetState, Key: args[0], Value: value})
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, resp.Message)
		return nil
	},
}

var stateDelCmd = &cobra.Command{
	Use:   "del <key>",
	Short: "Delete a shared state key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		resp, err := do(cfg, protocol.Command{Cmd: protocol.CmdDeleteState, Key: args[0]})
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, resp.Message)
		return nil
	},
}
