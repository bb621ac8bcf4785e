package command

import (
	"github.com/luma/calypso/protocol"
)

type Family int

const (
	FamilyInet Family = iota
	FamilyInet6
)

var FamilyEnum = protocol.NewEnum("family", "INET", "INET6")

func (f Family) MarshalText() ([]byte, error) { return marshalToken(FamilyEnum, int(f)) }

func (f *Family) UnmarshalText(text []byte) error {
	ordinal, err := unmarshalToken(FamilyEnum, text)
	*f = Family(ordinal)
	return err
}

type SocketType int

const (
	SocketStream SocketType = iota
	SocketDgram
)

var SocketTypeEnum = protocol.NewEnum("type", "STREAM", "DGRAM")

func (t SocketType) MarshalText() ([]byte, error) { return marshalToken(SocketTypeEnum, int(t)) }

func (t *SocketType) UnmarshalText(text []byte) error {
	ordinal, err := unmarshalToken(SocketTypeEnum, text)
	*t = SocketType(ordinal)
	return err
}

type SocketProtocol int

const (
	ProtocolTCP SocketProtocol = iota
	ProtocolUDP
	ProtocolSEC
)

var SocketProtocolEnum = protocol.NewEnum("protocol", "TCP", "UDP", "SEC")

func (p SocketProtocol) MarshalText() ([]byte, error) { return marshalToken(SocketProtocolEnum, int(p)) }

func (p *SocketProtocol) UnmarshalText(text []byte) error {
	ordinal, err := unmarshalToken(SocketProtocolEnum, text)
	*p = SocketProtocol(ordinal)
	return err
}

var (
	SocketSchema = register(&protocol.Schema{
		Prefix:  "+socket",
		Timeout: Timeout,
		Fields: []protocol.Field{
			enum("family", FamilyEnum),
			enum("type", SocketTypeEnum),
			enum("protocol", SocketProtocolEnum),
		},
		Response: &protocol.ResponseSchema{
			Token:  "socket",
			Fields: []protocol.Field{u8("id")},
		},
	})

	CloseSchema = register(&protocol.Schema{
		Prefix:  "+close",
		Timeout: Timeout,
		Fields:  []protocol.Field{u8("id")},
	})

	BindSchema = register(&protocol.Schema{
		Prefix:  "+bind",
		Timeout: Timeout,
		Quote:   true,
		Fields: []protocol.Field{
			u8("id"),
			enum("family", FamilyEnum),
			u16("port"),
			text("address", 15),
		},
	})
)

func Socket(family Family, typ SocketType, proto SocketProtocol) (*protocol.Command, error) {
	return SocketSchema.Build(
		protocol.EnumValue(int(family)),
		protocol.EnumValue(int(typ)),
		protocol.EnumValue(int(proto)),
	)
}

// SocketID extracts the id returned by Socket.
func SocketID(resp *protocol.Response) (int, error) {
	rec := resp.First()
	if rec == nil {
		return 0, &protocol.DecodeError{Token: "socket", Position: -1, Err: protocol.ErrRecordCount}
	}
	return int(rec.Get(0).Int()), nil
}

func Close(id uint8) (*protocol.Command, error) {
	return CloseSchema.Build(protocol.IntValue(int64(id)))
}

// Bind binds socket id to a local IPv4 address and port.
func Bind(id uint8, family Family, port uint16, addr string) (*protocol.Command, error) {
	return BindSchema.Build(
		protocol.IntValue(int64(id)),
		protocol.EnumValue(int(family)),
		protocol.IntValue(int64(port)),
		protocol.TextValue(addr),
	)
}
