package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/collabhub/internal/protocol"
	"github.com/user/collabhub/internal/types"
)

func init() {
	rootCmd.AddCommand(peersCmd)
	peersCmd.AddCommand(peersListCmd, peersConnectCmd, peersApproveCmd, peersRejectCmd, peersDisconnectCmd)

	peersConnectCmd.Flags().String("message", "", "note shown to the other hub's operator")
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Manage connections to other hubs",
}

var peersListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show discovered, pending, and connected hubs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		resp, err := do(cfg, protocol.Command{Cmd: protocol.CmdPeers})
		if err != nil {
			return err
		}

		var peers struct {
			Identity   *types.HubIdentity         `json:"identity"`
			Discovered []*types.HubIdentity       `json:"discovered"`
			Pending    []*types.ConnectionRequest `json:"pending"`
			Connected  []*types.ConnectedHub      `json:"connected"`
		}
		if err := json.Unmarshal(resp.Data, &peers); err != nil {
			return fmt.Errorf("decode peers: %w", err)
		}

		fmt.Fprintf(os.Stdout, "This hub: %s (%s)\n", peers.Identity.Name, peers.Identity.ID)

		if len(peers.Connected) > 0 {
			fmt.Println("\nConnected:")
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tADDRESS\tSESSIONS\tONLINE")
			now := time.Now()
			for _, p := range peers.Connected {
				online := "no"
				if p.Online(now) {
					online = "yes"
				}
				fmt.Fprintf(w, "%s\t%s:%d\t%d\t%s\n", p.Name, p.Address, p.Port, p.SessionCount, online)
			}
			w.Flush()
		}
		if len(peers.Pending) > 0 {
			fmt.Println("\nPending requests:")
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REQUEST\tFROM\tADDRESS\tNOTE")
			for _, r := range peers.Pending {
				fmt.Fprintf(w, "%s\t%s\t%s:%d\t%s\n", r.RequestID, r.FromHubName, r.FromAddress, r.FromPort, r.Message)
			}
			w.Flush()
		}
		if len(peers.Discovered) > 0 {
			fmt.Println("\nDiscovered:")
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tADDRESS")
			for _, d := range peers.Discovered {
				fmt.Fprintf(w, "%s\t%s:%d\n", d.Name, d.Hostname, d.Port)
			}
			w.Flush()
		}
		if len(peers.Connected) == 0 && len(peers.Pending) == 0 && len(peers.Discovered) == 0 {
			fmt.Println("No known peers.")
		}
		return nil
	},
}

var peersConnectCmd = &cobra.Command{
	Use:   "connect <address:port>",
	Short: "Request a connection to another hub",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message, _ := cmd.Flags().GetString("message")

		address, port, err := splitHostPort(args[0])
		if err != nil {
			return fmt.Errorf("invalid hub address %q: %w", args[0], err)
		}

		cfg := loadConfig()
		resp, err := do(cfg, protocol.Command{
			Cmd:     protocol.CmdConnect,
			Address: address,
			Port:    port,
			Message: message,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, resp.Message)
		fmt.Println("Waiting for the other hub's operator to approve.")
		return nil
	},
}

var peersApproveCmd = &cobra.Command{
	Use:   "approve <request-id>",
	Short: "Approve a pending connection request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		resp, err := do(cfg, protocol.Command{Cmd: protocol.CmdApprove, RequestID: args[0]})
		if err != nil {
			if strings.Contains(err.Error(), "expired") {
				return fmt.Errorf("%w; ask the other hub to send a new request", err)
			}
			return err
		}
		fmt.Fprintln(os.Stdout, resp.Message)
		return nil
	},
}

var peersRejectCmd = &cobra.Command{
	Use:   "reject <request-id>",
	Short: "Reject a pending connection request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		resp, err := do(cfg, protocol.Command{Cmd: protocol.CmdReject, RequestID: args[0]})
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, resp.Message)
		return nil
	},
}

var peersDisconnectCmd = &cobra.Command{
	Use:   "disconnect <hub-id>",
	Short: "Drop a peer connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		resp, err := do(cfg, protocol.Command{Cmd: protocol.CmdDisconnect, HubID: args[0]})
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, resp.Message)
		return nil
	},
}
