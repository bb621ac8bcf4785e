// Package api exposes a Device over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/luma/calypso/calypso"
	"github.com/luma/calypso/client"
	"github.com/luma/calypso/command"
	"github.com/luma/calypso/events"
	"github.com/luma/calypso/storage"
)

// Device is the part of calypso.Device served by the API.
type Device interface {
	Test(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context, timeout time.Duration) error
	Reboot(ctx context.Context) error
	FactoryReset(ctx context.Context) error
	PowerSave(ctx context.Context) error
	Sleep(ctx context.Context, d time.Duration) error

	Get(ctx context.Context, id, option string) (string, error)
	Set(ctx context.Context, id, option, value string) error

	WlanSetMode(ctx context.Context, mode command.Mode) error
	WlanScan(ctx context.Context, index, count uint8) ([]command.ScanEntry, error)
	WlanConnect(ctx context.Context, creds command.Credentials) error
	WlanDisconnect(ctx context.Context) error

	Socket(ctx context.Context, family command.Family, typ command.SocketType, proto command.SocketProtocol) (int, error)
	CloseSocket(ctx context.Context, id uint8) error

	Subscribe() (*events.Subscription, error)
	State() client.State
	Stats() client.Stats
}

var _ Device = (*calypso.Device)(nil)

type Options struct {
	Device Device

	// Store holds the last event of every kind, see RecordEvents
	Store storage.Store

	// Debug puts gin in debug mode
	Debug bool

	Log *zap.Logger
}

// NewRouter returns the gin engine serving the API.
func NewRouter(opts Options) *gin.Engine {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	r := setupRouter(opts.Debug, opts.Log.Named("api"))
	h := &handlers{dev: opts.Device, store: opts.Store}

	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	r.GET("/status", h.status)

	device := r.Group("/device")
	device.POST("/:action", h.action)
	device.GET("/setting", h.getSetting)
	device.PUT("/setting", h.putSetting)

	wlan := r.Group("/wlan")
	wlan.GET("/scan", h.scan)
	wlan.POST("/mode", h.setMode)
	wlan.POST("/connect", h.connect)
	wlan.POST("/disconnect", h.disconnect)

	sockets := r.Group("/sockets")
	sockets.POST("", h.openSocket)
	sockets.DELETE("/:id", h.closeSocket)

	return r
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - RFC3339 with UTC time format.
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}
