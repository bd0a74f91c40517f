// Package cmd implements the snapsend command line.
package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"snapsend/config"
	"snapsend/history"
	"snapsend/p2p"
)

var quiet bool

var rootCmd = &cobra.Command{
	Use:   "snapsend",
	Short: "SnapSend - send files and folders to devices on the same LAN",
	Long: `SnapSend finds other devices on the local network through UDP broadcast
announcements and sends files or whole folders to them over a direct connection.

Received files are saved to the downloads directory from the config file
(~/Downloads/SnapSend by default).`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress diagnostic logging")
	rootCmd.AddCommand(serveCmd, peersCmd, sendCmd, historyCmd, deviceInfoCmd)
}

// app is what every command needs after loading the config.
type app struct {
	cfg     *config.DeviceConfig
	dataDir string
	logger  *log.Logger
	history *history.Store
}

func loadApp(withHistory bool) (*app, error) {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	rt := &app{
		cfg:     cfg,
		dataDir: filepath.Dir(cfgPath),
		logger:  newLogger(),
	}
	if withHistory && cfg.HistoryEnabled {
		store, _, err := history.Open(rt.dataDir)
		if err != nil {
			rt.logger.Printf("history: disabled: %v", err)
		} else {
			rt.history = store
		}
	}
	return rt, nil
}

// recorder returns the history store as a StatsRecorder, or nil when history is off.
func (rt *app) recorder() p2p.StatsRecorder {
	if rt.history == nil {
		return nil
	}
	return rt.history
}

func (rt *app) close() {
	if rt.history != nil {
		if err := rt.history.Close(); err != nil {
			rt.logger.Printf("history: close: %v", err)
		}
	}
}

func (rt *app) transport() (p2p.Transport, error) {
	t, err := p2p.NewTransport(rt.cfg.Transport, rt.identity())
	if err != nil {
		return nil, err
	}
	if tcp, ok := t.(*p2p.TCPTransport); ok {
		tcp.Logger = rt.logger
	}
	return t, nil
}

func (rt *app) identity() p2p.Identity {
	return p2p.LocalIdentity(rt.cfg.DeviceName)
}

func (rt *app) nodeConfig() p2p.NodeConfig {
	return p2p.NodeConfig{
		Identity:            rt.identity(),
		DiscoveryPort:       rt.cfg.DiscoveryPort,
		TransferPort:        rt.cfg.TransferPort,
		DownloadsDir:        rt.cfg.DownloadsDir,
		AnnounceInterval:    seconds(rt.cfg.AnnounceIntervalSeconds),
		PeerTimeout:         seconds(rt.cfg.PeerTimeoutSeconds),
		ExpiryCheckInterval: seconds(rt.cfg.ExpiryCheckSeconds),
		SpeedWindow:         rt.cfg.SpeedWindow,
		EnableMDNS:          rt.cfg.EnableMDNS,
	}
}

func newLogger() *log.Logger {
	if quiet {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stderr, "", log.LstdFlags)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
