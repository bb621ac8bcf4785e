package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/calypso/internal/api"
	"github.com/luma/calypso/storage"
)

var (
	// The host to listen on
	host string

	// The port to listen for http requests on
	httpPort string
)

func init() {
	flags := StartCmd.Flags()

	flags.StringVar(&httpPort, "http-port", "7362", "The port to listen to HTTP requests on")
	flags.StringVarP(&host, "host", "a", "0.0.0.0", "The host to listen on")
}

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Serve the module over HTTP",
	Long: `Open the module and serve it over HTTP until interrupted

Usage
	calypso start --serial /dev/ttyUSB0
	calypso start --tcp 127.0.0.1:6682

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, log, err := loadConfig(ctx, cmd)
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		dev, err := openDevice(ctx, conf, log)
		if err != nil {
			return err
		}

		store := storage.NewInmemoryStore()
		defer store.Close()

		recordCtx, stopRecording := context.WithCancel(ctx)
		defer stopRecording()

		go func() {
			err := api.RecordEvents(recordCtx, dev, store, log.Named("recorder"))
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Event recorder stopped", zap.Error(err))
			}
		}()

		s := &http.Server{
			Addr: net.JoinHostPort(host, httpPort),
			Handler: api.NewRouter(api.Options{
				Device: dev,
				Store:  store,
				Debug:  conf.DebugHTTP,
				Log:    log,
			}),
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		log.Info("Listening",
			zap.Any("config", conf),
			zap.String("host", host),
			zap.String("httpPort", httpPort))

		// Listen for the interrupt signal, or the module going away.
		var lost error
		select {
		case <-ctx.Done():
		case <-dev.Done():
			lost = dev.Err()
			log.Error("Device connection lost", zap.Error(lost))
		}

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error("Http server forced to shutdown", zap.Error(err))
		}

		stopRecording()

		if err := dev.Close(); err != nil {
			log.Error("Device closed with errors", zap.Error(err))
		}

		log.Info("Exiting")
		return lost
	},
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
