package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/luma/calypso/transport"
)

var (
	probeTimeout time.Duration
	probeScan    uint8
	listPorts    bool
)

func init() {
	flags := ProbeCmd.Flags()

	flags.DurationVar(&probeTimeout, "timeout", 10*time.Second, "Give up after this long")
	flags.Uint8Var(&probeScan, "scan", 20, "The number of networks to list, 0 skips the scan")
	flags.BoolVar(&listPorts, "list-ports", false, "List the serial ports and exit")
}

var ProbeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that a module answers and print what it sees",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		if listPorts {
			ports, err := transport.Ports()
			if err != nil {
				return err
			}
			for _, port := range ports {
				fmt.Fprintln(out, port)
			}
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()

		conf, log, err := loadConfig(ctx, cmd)
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		dev, err := openDevice(ctx, conf, log)
		if err != nil {
			return err
		}
		defer dev.Close()

		if err := dev.Test(ctx); err != nil {
			return fmt.Errorf("module does not answer: %w", err)
		}

		version, err := dev.Get(ctx, "general", "version")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "firmware", version)

		if probeScan == 0 {
			return nil
		}

		entries, err := dev.WlanScan(ctx, 0, probeScan)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SSID\tBSSID\tCHANNEL\tRSSI\tSECURITY")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", e.SSID, e.BSSID, e.Channel, e.RSSI, e.Security)
		}
		return w.Flush()
	},
}

