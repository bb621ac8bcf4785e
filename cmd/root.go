package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/calypso/calypso"
	"github.com/luma/calypso/cmd/gen"
	"github.com/luma/calypso/internal/env"
)

var (
	serialPort string
	baudRate   int
	tcpAddr    string
	logLevel   string
)

var RootCmd = &cobra.Command{
	Use:   "calypso",
	Short: "Drive a Calypso Wi-Fi module over its AT command interface",
	Long: `Drive a Calypso Wi-Fi module over its AT command interface.

The module is reached over a serial port, or over TCP when talking to the
emulator. Every flag can also be set in the environment or in .env.local,
see CALYPSO_* variables.`,
	SilenceUsage: true,
}

func init() {
	flags := RootCmd.PersistentFlags()

	flags.StringVarP(&serialPort, "serial", "s", "", "The serial port of the module (CALYPSO_PORT)")
	flags.IntVar(&baudRate, "baud", 0, "The baud rate of the serial port (CALYPSO_BAUD_RATE)")
	flags.StringVar(&tcpAddr, "tcp", "", "Reach the module over TCP instead (CALYPSO_TCP_ADDR)")
	flags.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (CALYPSO_LOG_LEVEL)")

	RootCmd.AddCommand(StartCmd, EmulateCmd, ProbeCmd, VersionCmd, gen.RootCmd)
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the environment, then applies the flags that were set.
func loadConfig(ctx context.Context, cmd *cobra.Command) (*env.Config, *zap.Logger, error) {
	conf, err := env.LoadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("serial") {
		conf.Port = serialPort
	}
	if flags.Changed("baud") {
		conf.BaudRate = baudRate
	}
	if flags.Changed("tcp") {
		conf.TCPAddr = tcpAddr
	}
	if flags.Changed("log-level") {
		conf.LogLevel = logLevel
	}

	log, err := env.MakeLogger(conf.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	return conf, log, nil
}

func openDevice(ctx context.Context, conf *env.Config, log *zap.Logger) (*calypso.Device, error) {
	dialer, err := conf.Dialer()
	if err != nil {
		return nil, err
	}

	clientOpts, err := conf.ClientOptions(log.Named("client"))
	if err != nil {
		return nil, err
	}

	return calypso.Open(ctx, dialer, calypso.Options{Client: clientOpts, Log: log})
}
