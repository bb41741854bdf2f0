package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/collabhub/internal/protocol"
	"github.com/user/collabhub/internal/types"
)

func init() {
	rootCmd.AddCommand(tellCmd, broadcastCmd, inboxCmd, readCmd)

	tellCmd.Flags().Bool("alert", false, "send as a high-priority alert")
	inboxCmd.Flags().Bool("unread", false, "unread messages only")
}

var tellCmd = &cobra.Command{
	Use:   "tell <target> <message...>",
	Short: "Send a direct message to a session, by name, role, id, or hub:name",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		alert, _ := cmd.Flags().GetBool("alert")

		cfg := loadConfig()
		sessionID, err := currentSession(cfg)
		if err != nil {
			return err
		}

		resp, err := do(cfg, protocol.Command{
			Cmd:       protocol.CmdTell,
			SessionID: sessionID,
			To:        args[0],
			Content:   strings.Join(args[1:], " "),
			Alert:     alert,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, resp.Message)
		return nil
	},
}

var broadcastCmd = &cobra.Command{
	Use:   "broadcast <message...>",
	Short: "Send a message to every session",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessionID, err := currentSession(cfg)
		if err != nil {
			return err
		}

		resp, err := do(cfg, protocol.Command{
			Cmd:       protocol.CmdBroadcast,
			SessionID: sessionID,
			Content:   strings.Join(args, " "),
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, resp.Message)
		return nil
	},
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Show this session's messages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		unread, _ := cmd.Flags().GetBool("unread")

		cfg := loadConfig()
		sessionID, err := currentSession(cfg)
		if err != nil {
			return err
		}

		resp, err := do(cfg, protocol.Command{
			Cmd:        protocol.CmdGetInbox,
			SessionID:  sessionID,
			UnreadOnly: unread,
		})
		if err != nil {
			return err
		}

		var messages []*types.Message
		if err := json.Unmarshal(resp.Data, &messages); err != nil {
			return fmt.Errorf("decode inbox: %w", err)
		}
		if len(messages) == 0 {
			fmt.Println("Inbox empty.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tFROM\tSENT\tREAD\tCONTENT")
		for _, m := range messages {
			read := ""
			if m.Read {
				read = "x"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				m.ID, m.Type, m.From, m.SentAt.Format("01-02 15:04"), read, m.Content)
		}
		return w.Flush()
	},
}

var readCmd = &cobra.Command{
	Use:   "read <message-id|all>",
	Short: "Mark a message (or everything) read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessionID, err := currentSession(cfg)
		if err != nil {
			return err
		}

		command := protocol.Command{Cmd: protocol.CmdMarkRead, SessionID: sessionID, MessageID: args[0]}
		if args[0] == "all" {
			command = protocol.Command{Cmd: protocol.CmdMarkAllRead, SessionID: sessionID}
		}
		resp, err := do(cfg, command)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, resp.Message)
		return nil
	},
}
