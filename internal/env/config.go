package env

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/zap"

	"github.com/luma/calypso/client"
	"github.com/luma/calypso/events"
	"github.com/luma/calypso/protocol"
	"github.com/luma/calypso/transport"
)

var ErrNoTransport = errors.New("env: set CALYPSO_PORT or CALYPSO_TCP_ADDR")

type Config struct {
	// Port is the serial port of the module, e.g. /dev/ttyUSB0
	Port     string `env:"CALYPSO_PORT"`
	BaudRate int    `env:"CALYPSO_BAUD_RATE,default=921600"`

	// TCPAddr reaches the module over TCP instead, e.g. the emulator. It
	// takes precedence over Port.
	TCPAddr string `env:"CALYPSO_TCP_ADDR"`

	IngressBuffer  int           `env:"CALYPSO_INGRESS_BUFFER,default=1024"`
	URCCapacity    int           `env:"CALYPSO_URC_CAPACITY,default=128"`
	URCSubscribers int           `env:"CALYPSO_URC_SUBSCRIBERS,default=3"`
	URCPolicy      string        `env:"CALYPSO_URC_POLICY,default=drop-oldest"`
	Timeout        time.Duration `env:"CALYPSO_TIMEOUT,default=1s"`
	Escape         bool          `env:"CALYPSO_ESCAPE,default=true"`

	LogLevel  string `env:"CALYPSO_LOG_LEVEL,default=info"`
	DebugHTTP bool   `env:"CALYPSO_DEBUG_HTTP"`
}

// LoadConfig reads .env.local, if present, then the process environment.
func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ClientOptions maps the configuration onto client.Options.
func (c *Config) ClientOptions(log *zap.Logger) (client.Options, error) {
	policy, err := events.ParsePolicy(c.URCPolicy)
	if err != nil {
		return client.Options{}, err
	}

	codec := protocol.Codec{Escape: c.Escape, MaxLine: protocol.MaxLineSize}

	return client.Options{
		Codec:             &codec,
		IngressBufferSize: c.IngressBuffer,
		URCCapacity:       c.URCCapacity,
		URCSubscribers:    c.URCSubscribers,
		URCPolicy:         policy,
		DefaultTimeout:    c.Timeout,
		Log:               log,
	}, nil
}

// Dialer picks the TCP dialer when TCPAddr is set, the serial one otherwise.
func (c *Config) Dialer() (transport.Dialer, error) {
	switch {
	case c.TCPAddr != "":
		return transport.TCPDialer{Addr: c.TCPAddr, Timeout: 5 * time.Second}, nil
	case c.Port != "":
		return transport.SerialDialer{PortName: c.Port, BaudRate: c.BaudRate}, nil
	}
	return nil, ErrNoTransport
}
