package command

import (
	"github.com/luma/calypso/protocol"
)

// Mode is the WLAN role of the module.
type Mode int

const (
	ModeStation Mode = iota
	ModeAccessPoint
	ModeP2P
)

var ModeEnum = protocol.NewEnum("mode", "STA", "AP", "P2P")

func (m Mode) String() string {
	token, _ := ModeEnum.Token(int(m))
	return token
}

func (m Mode) MarshalText() ([]byte, error) { return marshalToken(ModeEnum, int(m)) }

func (m *Mode) UnmarshalText(text []byte) error {
	ordinal, err := unmarshalToken(ModeEnum, text)
	*m = Mode(ordinal)
	return err
}

// Security is the WLAN security type.
type Security int

const (
	SecurityOpen Security = iota
	SecurityWEP
	SecurityWEPShared
	SecurityWPAWPA2
	SecurityWPA2Plus
	SecurityWPA3
	SecurityWPAEnterprise
	SecurityWPSPBC
	SecurityWPSPIN
)

var SecurityEnum = protocol.NewEnum("security",
	"OPEN", "WEP", "WEP_SHARED", "WPA_WPA2", "WPA2_PLUS",
	"WPA3", "WPA_ENT", "WPA_PBC", "WPA_PIN",
)

func (s Security) String() string {
	token, _ := SecurityEnum.Token(int(s))
	return token
}

func (s Security) MarshalText() ([]byte, error) { return marshalToken(SecurityEnum, int(s)) }

func (s *Security) UnmarshalText(text []byte) error {
	ordinal, err := unmarshalToken(SecurityEnum, text)
	*s = Security(ordinal)
	return err
}

// EAP is the enterprise authentication method.
type EAP int

const (
	EAPNone EAP = iota
	EAPTLS
	EAPTTLSTLS
	EAPTTLSMSCHAPv2
	EAPTTLSPSK
	EAPPEAP0TLS
	EAPPEAP0MSCHAPv2
	EAPPEAP0PSK
	EAPPEAP1TLS
	EAPPEAP1PSK
)

var EAPEnum = protocol.NewEnum("eap",
	"TLS", "TTLS_TLS", "TTLS_MSCHAPv2", "TTLS_PSK", "PEAP0_TLS",
	"PEAP0_MSCHAPv2", "PEAP0_PSK", "PEAP1_TLS", "PEAP1_PSK",
)

// EAPNone is omitted from the command line, the other variants map to
// EAPEnum shifted by one.
func (e EAP) value() protocol.Value {
	if e == EAPNone {
		return protocol.Absent()
	}
	return protocol.EnumValue(int(e) - 1)
}

func (e EAP) String() string {
	if token, ok := EAPEnum.Token(int(e) - 1); ok {
		return token
	}
	return "none"
}

func (e EAP) MarshalText() ([]byte, error) {
	if e == EAPNone {
		return []byte{}, nil
	}
	return marshalToken(EAPEnum, int(e)-1)
}

// UnmarshalText maps an empty string to EAPNone.
func (e *EAP) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*e = EAPNone
		return nil
	}
	ordinal, err := unmarshalToken(EAPEnum, text)
	if err != nil {
		return err
	}
	*e = EAP(ordinal + 1)
	return nil
}

func connectFields() []protocol.Field {
	return []protocol.Field{
		text("ssid", 32),
		optional(text("bssid", 17)),
		enum("security", SecurityEnum),
		optional(text("key", 63)),
		optional(text("extUser", 63)),
		optional(text("extAnonUser", 63)),
		optional(enum("eap", EAPEnum)),
	}
}

var (
	WlanSetModeSchema = register(&protocol.Schema{
		Prefix:  "+wlanSetMode",
		Timeout: Timeout,
		Fields:  []protocol.Field{enum("mode", ModeEnum)},
	})

	WlanScanSchema = register(&protocol.Schema{
		Prefix:  "+wlanScan",
		Timeout: Timeout,
		Fields:  []protocol.Field{u8("index"), u8("count")},
		Response: &protocol.ResponseSchema{
			Token:    "wlanscan",
			Repeated: true,
			Fields: []protocol.Field{
				text("ssid", 32),
				optional(text("bssid", 17)),
				u8("channel"),
				{Name: "rssi", Kind: protocol.KindInt, Bits: 8, Signed: true},
				enum("security", SecurityEnum),
			},
		},
	})

	WlanConnectSchema = register(&protocol.Schema{
		Prefix:  "+wlanConnect",
		Timeout: Timeout,
		Fields:  connectFields(),
	})

	WlanDisconnectSchema = register(&protocol.Schema{Prefix: "+wlanDisconnect", Timeout: Timeout})

	WlanProfileAddSchema = register(&protocol.Schema{
		Prefix:  "+wlanProfileAdd",
		Timeout: Timeout,
		Fields:  append(connectFields(), u8("priority")),
		Response: &protocol.ResponseSchema{
			Token:  "wlanprofileadd",
			Fields: []protocol.Field{u8("index")},
		},
	})

	WlanProfileGetSchema = register(&protocol.Schema{
		Prefix:  "+wlanProfileGet",
		Timeout: Timeout,
		Fields:  []protocol.Field{u8("index")},
		Response: &protocol.ResponseSchema{
			Token: "wlanprofileget",
			Fields: []protocol.Field{
				text("ssid", 32),
				optional(text("bssid", 17)),
				enum("security", SecurityEnum),
				u8("priority"),
			},
		},
	})

	WlanProfileDelSchema = register(&protocol.Schema{
		Prefix:  "+wlanProfileDel",
		Timeout: Timeout,
		Fields:  []protocol.Field{u8("index")},
	})
)

// Credentials describe the network for WlanConnect and WlanProfileAdd.
// Empty strings are omitted from the command line.
type Credentials struct {
	SSID        string   `json:"ssid"`
	BSSID       string   `json:"bssid,omitempty"`
	Security    Security `json:"security"`
	Key         string   `json:"key,omitempty"`
	ExtUser     string   `json:"extUser,omitempty"`
	ExtAnonUser string   `json:"extAnonUser,omitempty"`
	EAP         EAP      `json:"eap,omitempty"`
}

func (c Credentials) values() []protocol.Value {
	return []protocol.Value{
		protocol.TextValue(c.SSID),
		optionalText(c.BSSID),
		protocol.EnumValue(int(c.Security)),
		optionalText(c.Key),
		optionalText(c.ExtUser),
		optionalText(c.ExtAnonUser),
		c.EAP.value(),
	}
}

func WlanSetMode(mode Mode) (*protocol.Command, error) {
	return WlanSetModeSchema.Build(protocol.EnumValue(int(mode)))
}

// WlanScan asks for count results starting at index.
func WlanScan(index, count uint8) (*protocol.Command, error) {
	return WlanScanSchema.Build(protocol.IntValue(int64(index)), protocol.IntValue(int64(count)))
}

func WlanConnect(creds Credentials) (*protocol.Command, error) {
	return WlanConnectSchema.Build(creds.values()...)
}

func WlanDisconnect() *protocol.Command { return WlanDisconnectSchema.MustBuild() }

func WlanProfileAdd(creds Credentials, priority uint8) (*protocol.Command, error) {
	return WlanProfileAddSchema.Build(append(creds.values(), protocol.IntValue(int64(priority)))...)
}

func WlanProfileGet(index uint8) (*protocol.Command, error) {
	return WlanProfileGetSchema.Build(protocol.IntValue(int64(index)))
}

func WlanProfileDel(index uint8) (*protocol.Command, error) {
	return WlanProfileDelSchema.Build(protocol.IntValue(int64(index)))
}

// ScanEntry is one network found by WlanScan.
type ScanEntry struct {
	SSID     string   `json:"ssid"`
	BSSID    string   `json:"bssid"`
	Channel  int      `json:"channel"`
	RSSI     int      `json:"rssi"`
	Security Security `json:"security"`
}

func ScanEntries(resp *protocol.Response) []ScanEntry {
	entries := make([]ScanEntry, 0, len(resp.Records))
	for _, rec := range resp.Records {
		entries = append(entries, ScanEntry{
			SSID:     rec.Get(0).Text(),
			BSSID:    rec.Get(1).Text(),
			Channel:  int(rec.Get(2).Int()),
			RSSI:     int(rec.Get(3).Int()),
			Security: Security(rec.Get(4).Ordinal()),
		})
	}
	return entries
}

// Record renders the entry as a +wlanscan data record.
func (e ScanEntry) Record() protocol.Record {
	return protocol.Record{
		protocol.TextValue(e.SSID),
		optionalText(e.BSSID),
		protocol.IntValue(int64(e.Channel)),
		protocol.IntValue(int64(e.RSSI)),
		protocol.EnumValue(int(e.Security)),
	}
}

// Profile is a stored connection profile.
type Profile struct {
	SSID     string   `json:"ssid"`
	BSSID    string   `json:"bssid,omitempty"`
	Security Security `json:"security"`
	Priority int      `json:"priority"`
}

func ProfileFrom(resp *protocol.Response) (Profile, error) {
	rec := resp.First()
	if rec == nil {
		return Profile{}, &protocol.DecodeError{Token: "wlanprofileget", Position: -1, Err: protocol.ErrRecordCount}
	}
	return Profile{
		SSID:     rec.Get(0).Text(),
		BSSID:    rec.Get(1).Text(),
		Security: Security(rec.Get(2).Ordinal()),
		Priority: int(rec.Get(3).Int()),
	}, nil
}

func (p Profile) Record() protocol.Record {
	return protocol.Record{
		protocol.TextValue(p.SSID),
		optionalText(p.BSSID),
		protocol.EnumValue(int(p.Security)),
		protocol.IntValue(int64(p.Priority)),
	}
}

// ProfileIndex extracts the slot returned by WlanProfileAdd.
func ProfileIndex(resp *protocol.Response) (int, error) {
	rec := resp.First()
	if rec == nil {
		return 0, &protocol.DecodeError{Token: "wlanprofileadd", Position: -1, Err: protocol.ErrRecordCount}
	}
	return int(rec.Get(0).Int()), nil
}
