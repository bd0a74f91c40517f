package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"snapsend/p2p"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Announce this device, track peers and receive files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadApp(true)
		if err != nil {
			return err
		}
		defer rt.close()

		transport, err := rt.transport()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := rt.nodeConfig()
		fmt.Fprintf(cmd.OutOrStdout(), "SnapSend running as %q on %s (transfer port %d, %s)\n",
			cfg.Identity.Name, cfg.Identity.IP, cfg.TransferPort, transport.Name())
		fmt.Fprintf(cmd.OutOrStdout(), "Saving received files to %s\n", cfg.DownloadsDir)

		node := p2p.NewNode(cfg, transport, newConsoleSink(cmd.OutOrStdout()), rt.recorder(), rt.logger)
		if err := node.Run(ctx); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Shutdown complete.")
		return nil
	},
}
