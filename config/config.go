package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"snapsend/p2p"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "snapsend"
	// DataDirEnv overrides the data directory when set.
	DataDirEnv = "SNAPSEND_DATA_DIR"
	// TransportTCP and TransportQUIC name the supported transfer transports.
	TransportTCP  = "tcp"
	TransportQUIC = "quic"
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
	// historyFileName is the transfer history database.
	historyFileName = "history.db"
)

// DeviceConfig contains persistent local-device settings.
type DeviceConfig struct {
	DeviceID                string `json:"device_id"`
	DeviceName              string `json:"device_name"`
	DiscoveryPort           int    `json:"discovery_port"`
	TransferPort            int    `json:"transfer_port"`
	DownloadsDir            string `json:"downloads_dir"`
	AnnounceIntervalSeconds int    `json:"announce_interval_seconds"`
	PeerTimeoutSeconds      int    `json:"peer_timeout_seconds"`
	ExpiryCheckSeconds      int    `json:"expiry_check_seconds"`
	SpeedWindow             int    `json:"speed_window"`
	Transport               string `json:"transport"`
	EnableMDNS              bool   `json:"enable_mdns"`
	HistoryEnabled          bool   `json:"history_enabled"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If SNAPSEND_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// HistoryPath returns the full path to the history database for a data directory.
func HistoryPath(dataDir string) string {
	return filepath.Join(dataDir, historyFileName)
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*DeviceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg DeviceConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *DeviceConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures the data directory and config exist, then returns both.
func LoadOrCreate() (*DeviceConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create directory %q: %w", dataDir, err)
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig()
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

func defaultConfig() *DeviceConfig {
	cfg := &DeviceConfig{HistoryEnabled: true}
	normalizeDefaults(cfg)
	return cfg
}

// normalizeDefaults fills every missing or invalid field and reports whether anything changed.
func normalizeDefaults(cfg *DeviceConfig) bool {
	updated := false
	setInt := func(v *int, def int) {
		if *v <= 0 {
			*v = def
			updated = true
		}
	}

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
		updated = true
	}
	if strings.TrimSpace(cfg.DeviceName) == "" {
		cfg.DeviceName = p2p.DisplayName()
		updated = true
	}
	if cfg.DownloadsDir == "" {
		cfg.DownloadsDir = p2p.DefaultDownloadsDir()
		updated = true
	}

	setInt(&cfg.DiscoveryPort, p2p.DiscoveryPort)
	setInt(&cfg.TransferPort, p2p.TransferPort)
	setInt(&cfg.AnnounceIntervalSeconds, seconds(p2p.AnnounceInterval))
	setInt(&cfg.PeerTimeoutSeconds, seconds(p2p.PeerTimeout))
	setInt(&cfg.ExpiryCheckSeconds, seconds(p2p.ExpiryCheckInterval))
	setInt(&cfg.SpeedWindow, p2p.DefaultSpeedWindow)

	transport := normalizeTransport(cfg.Transport)
	if cfg.Transport != transport {
		cfg.Transport = transport
		updated = true
	}

	return updated
}

func normalizeTransport(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case TransportQUIC:
		return TransportQUIC
	default:
		return TransportTCP
	}
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}
