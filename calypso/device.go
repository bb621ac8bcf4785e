// Package calypso is the device level API of a Calypso Wi-Fi module. A
// Device owns one transport and serializes its callers, so every method
// may be used from any goroutine.
package calypso

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/calypso/client"
	"github.com/luma/calypso/command"
	"github.com/luma/calypso/events"
	"github.com/luma/calypso/protocol"
	"github.com/luma/calypso/transport"
)

type Options struct {
	Client client.Options
	Log    *zap.Logger
}

// Device is a connected module.
type Device struct {
	t    transport.Transport
	conn *client.Conn

	// mu keeps a single exchange in flight per device
	mu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}

	log *zap.Logger
}

// Open dials the module and starts reading from it.
func Open(ctx context.Context, dialer transport.Dialer, opts Options) (*Device, error) {
	t, err := dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("calypso: dial: %w", err)
	}
	return New(t, opts), nil
}

// New starts the ingress loop over an established transport. The Device
// takes ownership of t.
func New(t transport.Transport, opts Options) *Device {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Client.Log == nil {
		opts.Client.Log = opts.Log
	}

	ingress, conn := client.Split(t, t, opts.Client)
	ctx, cancel := context.WithCancel(context.Background())

	d := &Device{
		t:      t,
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    opts.Log.Named("device"),
	}

	go func() {
		defer close(d.done)
		err := ingress.Run(ctx)
		d.log.Debug("Ingress stopped", zap.Error(err))
	}()

	return d
}

// Send runs one exchange. Callers block while another exchange of this
// device is in flight instead of failing with client.ErrNotReady.
func (d *Device) Send(ctx context.Context, cmd *protocol.Command) (*protocol.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.conn.Send(ctx, cmd)
}

func (d *Device) send(ctx context.Context, cmd *protocol.Command, err error) (*protocol.Response, error) {
	if err != nil {
		return nil, err
	}
	return d.Send(ctx, cmd)
}

func (d *Device) exec(ctx context.Context, cmd *protocol.Command, err error) error {
	_, err = d.send(ctx, cmd, err)
	return err
}

func (d *Device) Test(ctx context.Context) error {
	return d.exec(ctx, command.Test(), nil)
}

func (d *Device) Start(ctx context.Context) error {
	return d.exec(ctx, command.Start(), nil)
}

// Stop hibernates the network processor, waiting at most timeout for it to
// shut down its connections.
func (d *Device) Stop(ctx context.Context, timeout time.Duration) error {
	cmd, err := command.Stop(timeout)
	return d.exec(ctx, cmd, err)
}

// Restart stops and starts the network processor.
func (d *Device) Restart(ctx context.Context, timeout time.Duration) error {
	if err := d.Stop(ctx, timeout); err != nil {
		return err
	}
	return d.Start(ctx)
}

func (d *Device) Reboot(ctx context.Context) error {
	return d.exec(ctx, command.Reboot(), nil)
}

func (d *Device) FactoryReset(ctx context.Context) error {
	return d.exec(ctx, command.FactoryReset(), nil)
}

func (d *Device) Sleep(ctx context.Context, duration time.Duration) error {
	cmd, err := command.Sleep(duration)
	return d.exec(ctx, cmd, err)
}

// SleepForever hibernates until the wake up pin is raised.
func (d *Device) SleepForever(ctx context.Context) error {
	return d.Sleep(ctx, 0)
}

func (d *Device) PowerSave(ctx context.Context) error {
	return d.exec(ctx, command.PowerSave(), nil)
}

// Get reads a module setting.
func (d *Device) Get(ctx context.Context, id, option string) (string, error) {
	cmd, err := command.Get(id, option)
	resp, err := d.send(ctx, cmd, err)
	if err != nil {
		return "", err
	}
	return command.GetValue(resp)
}

func (d *Device) Set(ctx context.Context, id, option, value string) error {
	cmd, err := command.Set(id, option, value)
	return d.exec(ctx, cmd, err)
}

func (d *Device) WlanSetMode(ctx context.Context, mode command.Mode) error {
	cmd, err := command.WlanSetMode(mode)
	return d.exec(ctx, cmd, err)
}

// WlanScan returns at most count networks starting at index.
func (d *Device) WlanScan(ctx context.Context, index, count uint8) ([]command.ScanEntry, error) {
	cmd, err := command.WlanScan(index, count)
	resp, err := d.send(ctx, cmd, err)
	if err != nil {
		return nil, err
	}
	return command.ScanEntries(resp), nil
}

func (d *Device) WlanConnect(ctx context.Context, creds command.Credentials) error {
	cmd, err := command.WlanConnect(creds)
	return d.exec(ctx, cmd, err)
}

func (d *Device) WlanDisconnect(ctx context.Context) error {
	return d.exec(ctx, command.WlanDisconnect(), nil)
}

// WlanProfileAdd stores creds and returns the profile slot.
func (d *Device) WlanProfileAdd(ctx context.Context, creds command.Credentials, priority uint8) (int, error) {
	cmd, err := command.WlanProfileAdd(creds, priority)
	resp, err := d.send(ctx, cmd, err)
	if err != nil {
		return 0, err
	}
	return command.ProfileIndex(resp)
}

func (d *Device) WlanProfileGet(ctx context.Context, index uint8) (command.Profile, error) {
	cmd, err := command.WlanProfileGet(index)
	resp, err := d.send(ctx, cmd, err)
	if err != nil {
		return command.Profile{}, err
	}
	return command.ProfileFrom(resp)
}

func (d *Device) WlanProfileDel(ctx context.Context, index uint8) error {
	cmd, err := command.WlanProfileDel(index)
	return d.exec(ctx, cmd, err)
}

// Socket opens a socket and returns its id.
func (d *Device) GpioGet(ctx context.Context, id uint8) (command.GpioConfig, error) {
	cmd, err := command.GpioGet(id)
	resp, err := d.send(ctx, cmd, err)
	if err != nil {
		return command.GpioConfig{}, err
	}
	return command.GpioFrom(resp)
}

// GpioGetDefault reads the configuration pin id has after a factory reset.
func (d *Device) GpioGetDefault(ctx context.Context, id uint8) (command.GpioConfig, error) {
	cmd, err := command.GpioGetDefault(id)
	resp, err := d.send(ctx, cmd, err)
	if err != nil {
		return command.GpioConfig{}, err
	}
	return command.GpioFrom(resp)
}

func (d *Device) GpioSet(ctx context.Context, id uint8, cfg command.GpioConfig) error {
	cmd, err := command.GpioSet(id, cfg)
	return d.exec(ctx, cmd, err)
}

func (d *Device) Socket(ctx context.Context, family command.Family, typ command.SocketType, proto command.SocketProtocol) (int, error) {
	cmd, err := command.Socket(family, typ, proto)
	resp, err := d.send(ctx, cmd, err)
	if err != nil {
		return 0, err
	}
	return command.SocketID(resp)
}

func (d *Device) CloseSocket(ctx context.Context, id uint8) error {
	cmd, err := command.Close(id)
	return d.exec(ctx, cmd, err)
}

func (d *Device) Bind(ctx context.Context, id uint8, family command.Family, port uint16, addr string) error {
	cmd, err := command.Bind(id, family, port, addr)
	return d.exec(ctx, cmd, err)
}

func (d *Device) NetAppStart(ctx context.Context, app command.App) error {
	cmd, err := command.NetAppStart(app)
	return d.exec(ctx, cmd, err)
}

func (d *Device) NetAppStop(ctx context.Context, app command.App) error {
	cmd, err := command.NetAppStop(app)
	return d.exec(ctx, cmd, err)
}

// Subscribe registers a consumer of unsolicited events. The subscription
// must be closed to release its slot.
func (d *Device) Subscribe() (*events.Subscription, error) {
	return d.conn.Subscribe()
}

// WaitForEvent blocks until an event of kind arrives. It holds a subscriber
// slot while waiting, so events published before the call are not seen.
func (d *Device) WaitForEvent(ctx context.Context, kind protocol.EventKind) (protocol.Event, error) {
	sub, err := d.conn.Subscribe()
	if err != nil {
		return protocol.Event{}, err
	}
	defer sub.Close()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				if err := d.conn.Err(); err != nil {
					return protocol.Event{}, err
				}
				return protocol.Event{}, events.ErrClosed
			}
			if ev.Kind == kind {
				return ev, nil
			}

		case <-ctx.Done():
			return protocol.Event{}, ctx.Err()
		}
	}
}

func (d *Device) State() client.State { return d.conn.State() }
func (d *Device) Stats() client.Stats { return d.conn.Stats() }

// Done is closed once the device can no longer be used.
func (d *Device) Done() <-chan struct{} { return d.conn.Done() }

// Err returns the error that ended the device, nil while it is usable.
func (d *Device) Err() error { return d.conn.Err() }

// Close fails any exchange in flight, closes the transport and waits for
// the ingress loop to exit.
func (d *Device) Close() error {
	err := d.conn.Close()
	err = multierr.Append(err, d.t.Close())
	d.cancel()
	<-d.done

	return err
}
