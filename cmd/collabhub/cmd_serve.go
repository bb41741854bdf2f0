package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/collabhub/internal/discovery"
	"github.com/user/collabhub/internal/federation"
	"github.com/user/collabhub/internal/hub"
	"github.com/user/collabhub/internal/status"
	"github.com/user/collabhub/internal/sweep"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the collabhub daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "collabhub.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	h, err := hub.New(cfg.DataDir, cfg.HubName, cfg.Federation.Port)
	if err != nil {
		return fmt.Errorf("build hub: %w", err)
	}
	h.SetDialer(federation.NewDialer(h.Peers))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Inbound federation frames.
	fedListener, err := federation.Listen(h, cfg.Federation.BindAddr, cfg.Federation.Port)
	if err != nil {
		return err
	}
	fedListener.Start(ctx)
	defer fedListener.Stop()

	// LAN discovery, off by default.
	if cfg.Discovery.Enabled {
		host, port, err := splitHostPort(cfg.Discovery.BindAddr)
		if err != nil {
			return fmt.Errorf("invalid discovery bind address %q: %w", cfg.Discovery.BindAddr, err)
		}
		disc, err := discovery.New(h.Identity(), host, port, h.Peers)
		if err != nil {
			return err
		}
		defer disc.Stop()
		if err := disc.Join(cfg.Discovery.Seeds); err != nil {
			slog.Warn("discovery seeds unreachable", "error", err)
		}
	}

	// Periodic maintenance.
	if cfg.SweepSchedule != "" {
		sweeper := sweep.New(cfg.SweepSchedule, h.Maintain)
		if err := sweeper.Start(); err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", cfg.SweepSchedule, err)
		}
		defer sweeper.Stop()
	}

	// Read-only HTTP view.
	if cfg.StatusAddr != "" {
		go func() {
			if err := status.ListenAndServe(ctx, cfg.StatusAddr, h); err != nil {
				slog.Error("status server failed", "error", err)
			}
		}()
	}

	server := hub.NewServer(h, cfg.SocketPath)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start socket server: %w", err)
	}
	defer server.Stop()

	slog.Info("collabhub started",
		"hub", cfg.HubName,
		"hub_id", h.Identity().ID,
		"data_dir", cfg.DataDir,
		"socket", cfg.SocketPath,
		"federation_port", cfg.Federation.Port,
		"discovery", cfg.Discovery.Enabled,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-server.Done():
	}

	slog.Info("shutting down")
	return nil
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
