package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"snapsend/p2p"
)

var sendWait time.Duration

var sendCmd = &cobra.Command{
	Use:   "send <path> <peer>",
	Short: "Send a file or folder to a peer, named by IP address or display name",
	Long: `Send a file or folder to a peer. Folders are packaged into an uncompressed
zip archive first and arrive as <folder>.zip.

The peer may be an IP address or the display name of a discovered device.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, target := args[0], args[1]
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%w: %s", p2p.ErrFileNotFound, path)
		}

		rt, err := loadApp(true)
		if err != nil {
			return err
		}
		defer rt.close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ip, err := resolveTarget(ctx, rt, target)
		if err != nil {
			return err
		}

		transport, err := rt.transport()
		if err != nil {
			return err
		}
		sender := p2p.NewSender(transport, p2p.SenderConfig{
			Port:        rt.cfg.TransferPort,
			SpeedWindow: rt.cfg.SpeedWindow,
		}, rt.recorder(), rt.logger)

		name := filepath.Base(filepath.Clean(path))
		bar := newTransferBar(cmd.OutOrStdout(), name)
		onProgress := func(percent float64, speedText string, _ float64) {
			updateBar(bar, name, percent, speedText)
		}

		var message string
		onComplete := func(success bool, msg string) {
			if success {
				bar.Finish()
			}
			message = msg
		}

		err = <-sender.SendAsync(ctx, path, ip, onProgress, onComplete)
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), message)
		return nil
	},
}

func init() {
	sendCmd.Flags().DurationVarP(&sendWait, "wait", "w", 3*p2p.AnnounceInterval, "how long to look for a peer given by name")
}

// resolveTarget accepts an IP as is and looks display names up through discovery.
func resolveTarget(ctx context.Context, rt *app, target string) (string, error) {
	if net.ParseIP(target) != nil {
		return target, nil
	}

	registry, err := discoverPeers(ctx, rt, sendWait, func(r *p2p.PeerRegistry) bool {
		_, ok := r.Lookup(target)
		return ok
	})
	if err != nil {
		return "", err
	}
	peer, ok := registry.Lookup(target)
	if !ok {
		return "", fmt.Errorf("%w: %q. Run 'snapsend peers' to see available peers", p2p.ErrPeerNotFound, target)
	}
	return peer.IP, nil
}
