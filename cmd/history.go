package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"snapsend/p2p"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently sent and received transfers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadApp(true)
		if err != nil {
			return err
		}
		defer rt.close()

		if rt.history == nil {
			return errors.New("history is disabled in the config")
		}
		entries, err := rt.history.List(historyLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No transfers yet.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tDIRECTION\tFILE\tPEER\tSIZE\tSPEED\tSTATUS")
		for _, e := range entries {
			status := e.Status
			if e.Error != "" {
				status += ": " + e.Error
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				e.StartedAt.Format("2006-01-02 15:04:05"),
				e.Direction,
				e.Filename,
				e.PeerAddress,
				formatSize(e.FileSize),
				p2p.FormatSpeed(e.AverageSpeed),
				status,
			)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of transfers to show (0 for all)")
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
