package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	DataDir    string `json:"data_dir"`
	SocketPath string `json:"socket_path"`
	LogLevel   string `json:"log_level"`
	HubName    string `json:"hub_name"`
	Federation struct {
		BindAddr string `json:"bind_addr"`
		Port     int    `json:"port"`
	} `json:"federation"`
	Discovery struct {
		Enabled  bool     `json:"enabled"`
		BindAddr string   `json:"bind_addr"`
		Seeds    []string `json:"seeds"`
	} `json:"discovery"`
	StatusAddr    string `json:"status_addr"`
	SweepSchedule string `json:"sweep_schedule"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.DataDir = filepath.Join(os.Getenv("HOME"), ".collabhub")
	cfg.LogLevel = "info"
	cfg.Federation.BindAddr = "0.0.0.0"
	cfg.Federation.Port = 7474
	cfg.Discovery.BindAddr = "0.0.0.0:7946"

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if dataDir := os.Getenv("COLLABHUB_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if socket := os.Getenv("COLLABHUB_SOCKET"); socket != "" {
		cfg.SocketPath = socket
	}
	if name := os.Getenv("COLLABHUB_HUB_NAME"); name != "" {
		cfg.HubName = name
	}

	if cfg.SocketPath == "" {
		cfg.SocketPath = filepath.Join(cfg.DataDir, "collabhub.sock")
	}
	if cfg.HubName == "" {
		hostname, _ := os.Hostname()
		cfg.HubName = hostname
	}

	return cfg, nil
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
