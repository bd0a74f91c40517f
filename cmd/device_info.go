package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deviceInfoCmd = &cobra.Command{
	Use:   "device-info",
	Short: "Display this device's identity and settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadApp(false)
		if err != nil {
			return err
		}
		defer rt.close()

		id := rt.identity()
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "=== SnapSend Device Information ===")
		fmt.Fprintf(out, "Device ID:      %s\n", rt.cfg.DeviceID)
		fmt.Fprintf(out, "Display name:   %s\n", id.Name)
		fmt.Fprintf(out, "LAN address:    %s\n", id.IP)
		fmt.Fprintf(out, "Discovery port: %d/udp\n", rt.cfg.DiscoveryPort)
		fmt.Fprintf(out, "Transfer port:  %d (%s)\n", rt.cfg.TransferPort, rt.cfg.Transport)
		fmt.Fprintf(out, "Downloads:      %s\n", rt.cfg.DownloadsDir)
		fmt.Fprintf(out, "Data dir:       %s\n", rt.dataDir)
		fmt.Fprintf(out, "mDNS:           %t\n", rt.cfg.EnableMDNS)
		fmt.Fprintf(out, "History:        %t\n", rt.cfg.HistoryEnabled)
		return nil
	},
}
