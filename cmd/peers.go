package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"snapsend/p2p"
)

var peersWait time.Duration

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Listen for announcements and list the devices found",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadApp(false)
		if err != nil {
			return err
		}
		defer rt.close()

		fmt.Fprintf(cmd.OutOrStdout(), "Listening for peers for %s...\n", peersWait)
		registry, err := discoverPeers(cmd.Context(), rt, peersWait, nil)
		if err != nil {
			return err
		}

		peers := registry.Peers()
		if len(peers) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No other peers found on the network.")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Available peers:")
		for _, peer := range peers {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s (%s)\n", peer.Name, peer.IP)
		}
		return nil
	},
}

func init() {
	peersCmd.Flags().DurationVarP(&peersWait, "wait", "w", 3*p2p.AnnounceInterval, "how long to listen for announcements")
}

// discoverPeers listens on the discovery port for up to wait, or until done reports true.
func discoverPeers(parent context.Context, rt *app, wait time.Duration, done func(*p2p.PeerRegistry) bool) (*p2p.PeerRegistry, error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	registry := p2p.NewPeerRegistry(nil)
	discovery := p2p.NewDiscoveryService(p2p.DiscoveryConfig{
		Port:     rt.cfg.DiscoveryPort,
		Identity: rt.identity(),
	}, rt.logger)

	errc := make(chan error, 1)
	go func() { errc <- discovery.Listen(ctx, registry.Observe) }()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case err := <-errc:
			return registry, err
		case <-ticker.C:
			if done != nil && done(registry) {
				cancel()
				return registry, <-errc
			}
		}
	}
}
