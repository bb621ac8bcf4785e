package emulator

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/luma/calypso/command"
	"github.com/luma/calypso/protocol"
	"github.com/luma/calypso/storage"
)

// Error codes sent in +error lines.
const (
	CodeUnknownCommand  = -1
	CodeInvalidArgument = -2
	CodeNotFound        = -3
	CodeNoResources     = -4
	CodeNotConnected    = -5
)

const (
	MaxProfiles = 7
	MaxSockets  = 16
	MaxGpio     = 4

	Version = "3.6.0"
)

// DefaultSettings is the document a factory reset restores.
var DefaultSettings = []byte(`{
	"settings": {
		"general": {"version": "` + Version + `", "uartbaudrate": "921600"},
		"wlan": {"hostname": "calypso", "country": "EU"}
	},
	"wlan": {"mode": "STA"}
}`)

// DefaultGpio is the pin configuration after a factory reset.
var DefaultGpio = [MaxGpio]command.GpioConfig{
	command.GpioOutputConfig(command.GpioLow),
	command.GpioInputConfig(command.GpioLow, command.PullDown),
	command.GpioPWMConfig(1000, 50),
	command.GpioUnusedConfig(),
}

// Reply is what the module answers to one request: data lines followed by
// a terminator line, then any events the command triggered.
type Reply struct {
	Lines  []string
	Err    *protocol.ModuleError
	Events []string

	// Silent replies write nothing at all
	Silent bool
}

func (r *Reply) Write(w io.Writer) error {
	if r.Silent {
		return nil
	}

	var err error
	if r.Err != nil {
		err = protocol.WriteError(w, r.Err.Code, r.Err.Description)
	} else {
		err = protocol.WriteResponse(w, r.Lines...)
	}
	if err != nil {
		return err
	}

	return protocol.WriteLines(w, r.Events...)
}

func ok(lines ...string) *Reply {
	return &Reply{Lines: lines}
}

func fail(code int, desc string) *Reply {
	return &Reply{Err: &protocol.ModuleError{Code: code, Description: desc}}
}

type handler func(ctx context.Context, args []protocol.Value) *Reply

// Module is the state of one emulated Calypso module, shared by every
// connected session.
type Module struct {
	store    storage.Store
	networks []command.ScanEntry
	silent   map[string]bool
	handlers map[string]handler

	mu        sync.Mutex
	connected string
	profiles  [MaxProfiles]*command.Profile
	sockets   map[int]command.Family
	gpio      [MaxGpio]command.GpioConfig

	log *zap.Logger
}

// NewModule seeds store with DefaultSettings unless it already holds
// settings.
func NewModule(store storage.Store, networks []command.ScanEntry, silent []string, log *zap.Logger) (*Module, error) {
	if log == nil {
		log = zap.NewNop()
	}

	m := &Module{
		store:    store,
		networks: networks,
		silent:   make(map[string]bool, len(silent)),
		sockets:  make(map[int]command.Family),
		gpio:     DefaultGpio,
		log:      log,
	}

	for _, prefix := range silent {
		m.silent[prefix] = true
	}

	if _, err := store.Get(context.Background(), "settings"); errors.Is(err, storage.ErrNotFound) {
		if err := store.Restore(DefaultSettings); err != nil {
			return nil, err
		}
	}

	m.handlers = map[string]handler{
		command.TestSchema.Prefix:           m.confirm,
		command.StartSchema.Prefix:          m.confirm,
		command.PowerSaveSchema.Prefix:      m.confirm,
		command.SleepSchema.Prefix:          m.confirm,
		command.StopSchema.Prefix:           m.stop,
		command.RebootSchema.Prefix:         m.reboot,
		command.FactoryResetSchema.Prefix:   m.factoryReset,
		command.GetSchema.Prefix:            m.get,
		command.SetSchema.Prefix:            m.set,
		command.WlanSetModeSchema.Prefix:    m.wlanSetMode,
		command.WlanScanSchema.Prefix:       m.wlanScan,
		command.WlanConnectSchema.Prefix:    m.wlanConnect,
		command.WlanDisconnectSchema.Prefix: m.wlanDisconnect,
		command.WlanProfileAddSchema.Prefix: m.wlanProfileAdd,
		command.WlanProfileGetSchema.Prefix: m.wlanProfileGet,
		command.WlanProfileDelSchema.Prefix: m.wlanProfileDel,
		command.SocketSchema.Prefix:         m.socket,
		command.CloseSchema.Prefix:          m.closeSocket,
		command.BindSchema.Prefix:           m.bind,
		command.NetAppStartSchema.Prefix:    m.netApp(true),
		command.NetAppStopSchema.Prefix:     m.netApp(false),
		command.GpioGetSchema.Prefix:        m.gpioGet,
		command.GpioGetDefaultSchema.Prefix: m.gpioGetDefault,
		command.GpioSetSchema.Prefix:        m.gpioSet,
	}

	return m, nil
}

func (m *Module) Store() storage.Store { return m.store }

// Connected returns the SSID of the current network, empty when
// disconnected.
func (m *Module) Connected() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Handle answers a single request.
func (m *Module) Handle(ctx context.Context, req *protocol.Request) *Reply {
	if m.silent[req.Prefix] {
		m.log.Debug("Ignoring silent command", zap.String("prefix", req.Prefix))
		return &Reply{Silent: true}
	}

	schema, found := command.Lookup(req.Prefix)
	h, known := m.handlers[req.Prefix]
	if !found || !known {
		return fail(CodeUnknownCommand, "unknown command")
	}

	args, err := protocol.DefaultCodec.DecodeArgs(schema, req.Body)
	if err != nil {
		m.log.Debug("Invalid arguments", zap.String("prefix", req.Prefix), zap.Error(err))
		return fail(CodeInvalidArgument, "invalid argument")
	}

	return h(ctx, args)
}

func (m *Module) confirm(context.Context, []protocol.Value) *Reply {
	return ok()
}

// reset drops the network state kept across commands.
func (m *Module) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connected = ""
	m.sockets = make(map[int]command.Family)
}

func (m *Module) stop(context.Context, []protocol.Value) *Reply {
	m.reset()
	return ok()
}

func (m *Module) reboot(context.Context, []protocol.Value) *Reply {
	m.reset()

	reply := ok()
	reply.Events = []string{protocol.FormatEvent(protocol.EventStartup)}
	return reply
}

func (m *Module) factoryReset(ctx context.Context, args []protocol.Value) *Reply {
	if err := m.store.Restore(DefaultSettings); err != nil {
		m.log.Warn("Failed to restore settings", zap.Error(err))
		return fail(CodeNoResources, "reset failed")
	}

	m.mu.Lock()
	m.profiles = [MaxProfiles]*command.Profile{}
	m.gpio = DefaultGpio
	m.mu.Unlock()

	return m.reboot(ctx, args)
}

func settingKey(id, option string) (string, bool) {
	const meta = ".*?|#@\\:!=<>%"
	if id == "" || option == "" || strings.ContainsAny(id+option, meta) {
		return "", false
	}
	return "settings." + id + "." + option, true
}

func (m *Module) get(ctx context.Context, args []protocol.Value) *Reply {
	key, valid := settingKey(args[0].Text(), args[1].Text())
	if !valid {
		return fail(CodeInvalidArgument, "invalid setting")
	}

	raw, err := m.store.Get(ctx, key)
	if err != nil {
		return fail(CodeNotFound, "unknown setting")
	}

	line, err := command.GetSchema.Response.FormatLine(protocol.Record{
		protocol.TextValue(gjson.ParseBytes(raw).String()),
	})
	if err != nil {
		m.log.Warn("Failed to format setting", zap.String("key", key), zap.Error(err))
		return fail(CodeInvalidArgument, "unprintable setting")
	}

	return ok(line)
}

func (m *Module) set(ctx context.Context, args []protocol.Value) *Reply {
	key, valid := settingKey(args[0].Text(), args[1].Text())
	if !valid {
		return fail(CodeInvalidArgument, "invalid setting")
	}

	if err := m.store.Set(ctx, key, args[2].Text()); err != nil {
		m.log.Warn("Failed to store setting", zap.String("key", key), zap.Error(err))
		return fail(CodeNoResources, "store failed")
	}

	return ok()
}

func (m *Module) wlanSetMode(ctx context.Context, args []protocol.Value) *Reply {
	mode := command.Mode(args[0].Ordinal())
	if err := m.store.Set(ctx, "wlan.mode", mode.String()); err != nil {
		return fail(CodeNoResources, "store failed")
	}
	return ok()
}

func (m *Module) wlanScan(ctx context.Context, args []protocol.Value) *Reply {
	index, count := int(args[0].Int()), int(args[1].Int())

	lines := make([]string, 0, count)
	for i := index; i < len(m.networks) && i < index+count; i++ {
		line, err := command.WlanScanSchema.Response.FormatLine(m.networks[i].Record())
		if err != nil {
			m.log.Warn("Skipping unprintable network", zap.String("ssid", m.networks[i].SSID), zap.Error(err))
			continue
		}
		lines = append(lines, line)
	}

	return ok(lines...)
}

func (m *Module) findNetwork(ssid string) (command.ScanEntry, bool) {
	for _, network := range m.networks {
		if network.SSID == ssid {
			return network, true
		}
	}
	return command.ScanEntry{}, false
}

func (m *Module) wlanConnect(ctx context.Context, args []protocol.Value) *Reply {
	ssid := args[0].Text()
	security := command.Security(args[2].Ordinal())
	bssid := args[1].Text()

	if len(m.networks) > 0 {
		network, found := m.findNetwork(ssid)
		if !found {
			return fail(CodeNotFound, "network not found")
		}
		if network.Security != security {
			return fail(CodeInvalidArgument, "security mismatch")
		}
		if bssid == "" {
			bssid = network.BSSID
		}
	}

	m.mu.Lock()
	m.connected = ssid
	m.mu.Unlock()

	reply := ok()
	reply.Events = []string{protocol.FormatEvent(protocol.EventWlan, "connect", ssid, bssid)}
	return reply
}

func (m *Module) wlanDisconnect(context.Context, []protocol.Value) *Reply {
	m.mu.Lock()
	ssid := m.connected
	m.connected = ""
	m.mu.Unlock()

	if ssid == "" {
		return fail(CodeNotConnected, "not connected")
	}

	reply := ok()
	reply.Events = []string{protocol.FormatEvent(protocol.EventWlan, "disconnect", ssid)}
	return reply
}

func (m *Module) wlanProfileAdd(ctx context.Context, args []protocol.Value) *Reply {
	profile := &command.Profile{
		SSID:     args[0].Text(),
		BSSID:    args[1].Text(),
		Security: command.Security(args[2].Ordinal()),
		Priority: int(args[7].Int()),
	}

	m.mu.Lock()
	slot := -1
	for i, p := range m.profiles {
		if p == nil {
			slot = i
			m.profiles[i] = profile
			break
		}
	}
	m.mu.Unlock()

	if slot < 0 {
		return fail(CodeNoResources, "no free profile slot")
	}

	line, err := command.WlanProfileAddSchema.Response.FormatLine(protocol.Record{protocol.IntValue(int64(slot))})
	if err != nil {
		return fail(CodeInvalidArgument, err.Error())
	}
	return ok(line)
}

func (m *Module) profile(index int) (*command.Profile, bool) {
	if index < 0 || index >= MaxProfiles {
		return nil, false
	}
	return m.profiles[index], m.profiles[index] != nil
}

func (m *Module) wlanProfileGet(ctx context.Context, args []protocol.Value) *Reply {
	m.mu.Lock()
	profile, found := m.profile(int(args[0].Int()))
	m.mu.Unlock()

	if !found {
		return fail(CodeNotFound, "no such profile")
	}

	line, err := command.WlanProfileGetSchema.Response.FormatLine(profile.Record())
	if err != nil {
		return fail(CodeInvalidArgument, err.Error())
	}
	return ok(line)
}

func (m *Module) wlanProfileDel(ctx context.Context, args []protocol.Value) *Reply {
	index := int(args[0].Int())

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, found := m.profile(index); !found {
		return fail(CodeNotFound, "no such profile")
	}
	m.profiles[index] = nil

	return ok()
}

func (m *Module) socket(ctx context.Context, args []protocol.Value) *Reply {
	family := command.Family(args[0].Ordinal())

	m.mu.Lock()
	id := -1
	for i := 0; i < MaxSockets; i++ {
		if _, used := m.sockets[i]; !used {
			id = i
			m.sockets[i] = family
			break
		}
	}
	m.mu.Unlock()

	if id < 0 {
		return fail(CodeNoResources, "no free socket")
	}

	line, err := command.SocketSchema.Response.FormatLine(protocol.Record{protocol.IntValue(int64(id))})
	if err != nil {
		return fail(CodeInvalidArgument, err.Error())
	}
	return ok(line)
}

func (m *Module) closeSocket(ctx context.Context, args []protocol.Value) *Reply {
	id := int(args[0].Int())

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, found := m.sockets[id]; !found {
		return fail(CodeNotFound, "no such socket")
	}
	delete(m.sockets, id)

	return ok()
}

func (m *Module) bind(ctx context.Context, args []protocol.Value) *Reply {
	id := int(args[0].Int())
	family := command.Family(args[1].Ordinal())

	m.mu.Lock()
	defer m.mu.Unlock()

	opened, found := m.sockets[id]
	if !found {
		return fail(CodeNotFound, "no such socket")
	}
	if opened != family {
		return fail(CodeInvalidArgument, "family mismatch")
	}

	return ok()
}

func (m *Module) netApp(running bool) handler {
	return func(ctx context.Context, args []protocol.Value) *Reply {
		app := command.App(args[0].Ordinal())
		key := "netapp." + strings.ToLower(app.String())

		if err := m.store.Set(ctx, key, running); err != nil {
			return fail(CodeNoResources, "store failed")
		}
		return ok()
	}
}

// customEvent renders a store update as a +eventcustom line.
func customEvent(update *storage.Update) string {
	if update.Value == nil {
		return protocol.FormatEvent(protocol.EventCustom, update.Key)
	}
	return protocol.FormatEvent(protocol.EventCustom, update.Key, gjson.ParseBytes(update.Value).String())
}

// Gpio returns the current configuration of pin id.
func (m *Module) Gpio(id int) command.GpioConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gpio[id]
}

func gpioLine(schema *protocol.Schema, id uint8, cfg command.GpioConfig) *Reply {
	line, err := schema.Response.FormatLine(cfg.Record(id))
	if err != nil {
		return fail(CodeInvalidArgument, err.Error())
	}
	return ok(line)
}

func (m *Module) gpioGet(ctx context.Context, args []protocol.Value) *Reply {
	id := args[0].Int()
	if id >= MaxGpio {
		return fail(CodeNotFound, "no such pin")
	}

	m.mu.Lock()
	cfg := m.gpio[id]
	m.mu.Unlock()

	return gpioLine(command.GpioGetSchema, uint8(id), cfg)
}

func (m *Module) gpioGetDefault(ctx context.Context, args []protocol.Value) *Reply {
	id := args[0].Int()
	if id >= MaxGpio {
		return fail(CodeNotFound, "no such pin")
	}
	return gpioLine(command.GpioGetDefaultSchema, uint8(id), DefaultGpio[id])
}

func (m *Module) gpioSet(ctx context.Context, args []protocol.Value) *Reply {
	id, cfg, err := command.GpioFromRecord(args)
	if err != nil {
		return fail(CodeInvalidArgument, "missing pin argument")
	}
	if id >= MaxGpio {
		return fail(CodeNotFound, "no such pin")
	}
	if cfg.Type == command.GpioPWM && cfg.RatioPercent > command.MaxPWMRatio {
		return fail(CodeInvalidArgument, "ratio out of range")
	}

	m.mu.Lock()
	m.gpio[id] = cfg
	m.mu.Unlock()

	return ok()
}
