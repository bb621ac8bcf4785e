package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/calypso/command"
	"github.com/luma/calypso/emulator"
)

var (
	emulatorPort      int
	emulatorListeners int
	emulatorSilent    []string
)

func init() {
	flags := EmulateCmd.Flags()

	flags.IntVarP(&emulatorPort, "port", "p", emulator.DefaultPort, "The port to listen for hosts on")
	flags.IntVar(&emulatorListeners, "listeners", 1, "The number of reuseport listeners")
	flags.StringSliceVar(&emulatorSilent, "silent", nil, "Command prefixes the emulator never answers, e.g. +sleep")
	flags.StringVarP(&host, "host", "a", "0.0.0.0", "The host to listen on")
}

// demoNetworks are what the emulator reports on a scan.
var demoNetworks = []command.ScanEntry{
	{SSID: "calypso-lab", BSSID: "02:00:00:00:00:01", Channel: 1, RSSI: -38, Security: command.SecurityWPAWPA2},
	{SSID: "calypso-open", BSSID: "02:00:00:00:00:02", Channel: 6, RSSI: -55, Security: command.SecurityOpen},
	{SSID: "calypso-wpa3", BSSID: "02:00:00:00:00:03", Channel: 11, RSSI: -71, Security: command.SecurityWPA3},
}

var EmulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Emulate a module over TCP",
	Long: `Serve a software module over TCP until interrupted

Usage
	calypso emulate --port 6682
	calypso --tcp 127.0.0.1:6682 probe

`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		_, log, err := loadConfig(ctx, cmd)
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		server, err := emulator.New(emulator.Options{
			Host:         host,
			Port:         emulatorPort,
			Reuseport:    emulatorListeners > 1,
			NumListeners: emulatorListeners,
			Networks:     demoNetworks,
			Silent:       emulatorSilent,
			Log:          log,
		})
		if err != nil {
			return err
		}

		if err := server.Start(ctx); err != nil {
			return err
		}

		addr, _ := server.Addr()
		log.Info("Emulating", zap.String("addr", addr), zap.Strings("silent", emulatorSilent))

		<-ctx.Done()
		signalStop()

		return server.Close()
	},
}
