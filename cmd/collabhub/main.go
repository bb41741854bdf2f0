package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/collabhub/internal/config"
	"github.com/user/collabhub/internal/protocol"
	"github.com/user/collabhub/internal/termctx"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "collabhub",
	Short:         "Coordination hub for multiple coding sessions",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath,
		"config",
		filepath.Join(os.Getenv("HOME"), ".collabhub", "config.json"),
		"config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// dialHub connects to the running daemon's socket.
func dialHub(cfg *config.Config) (*protocol.Client, error) {
	client, err := protocol.Dial(cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("hub not running? %w", err)
	}
	return client, nil
}

// do runs one command against the daemon and fails on a refused response.
func do(cfg *config.Config, cmd protocol.Command) (protocol.Response, error) {
	client, err := dialHub(cfg)
	if err != nil {
		return protocol.Response{}, err
	}
	defer client.Close()

	resp, err := client.Do(cmd)
	if err != nil {
		return protocol.Response{}, err
	}
	if !resp.Success {
		return resp, fmt.Errorf("%s", resp.Message)
	}
	return resp, nil
}

func termStore(cfg *config.Config) *termctx.Store {
	return termctx.NewStore(filepath.Join(cfg.DataDir, "term_contexts"))
}

// currentSession returns the session bound to this terminal.
func currentSession(cfg *config.Config) (string, error) {
	id, ok := termStore(cfg).Lookup(termctx.TerminalID())
	if !ok {
		return "", fmt.Errorf("no session in this terminal; run 'collabhub join' first")
	}
	return id, nil
}
