package command

import (
	"github.com/luma/calypso/protocol"
)

// App is a network application hosted by the module.
type App int

const (
	AppHTTPServer App = iota
	AppDHCPServer
	AppMDNS
	AppDNSServer
)

var AppEnum = protocol.NewEnum("app", "HTTP_SERVER", "DHCP_SERVER", "MDNS", "DNS_SERVER")

func (a App) String() string {
	token, _ := AppEnum.Token(int(a))
	return token
}

// ParseApp accepts the wire token in any case.
func ParseApp(s string) (App, error) {
	ordinal, err := unmarshalToken(AppEnum, []byte(s))
	return App(ordinal), err
}

func (a App) MarshalText() ([]byte, error) { return marshalToken(AppEnum, int(a)) }

func (a *App) UnmarshalText(text []byte) error {
	app, err := ParseApp(string(text))
	*a = app
	return err
}

var (
	NetAppStartSchema = register(&protocol.Schema{
		Prefix:  "+netAppStart",
		Timeout: Timeout,
		Fields:  []protocol.Field{enum("app", AppEnum)},
	})

	NetAppStopSchema = register(&protocol.Schema{
		Prefix:  "+netAppStop",
		Timeout: Timeout,
		Fields:  []protocol.Field{enum("app", AppEnum)},
	})
)

func NetAppStart(app App) (*protocol.Command, error) {
	return NetAppStartSchema.Build(protocol.EnumValue(int(app)))
}

func NetAppStop(app App) (*protocol.Command, error) {
	return NetAppStopSchema.Build(protocol.EnumValue(int(app)))
}
