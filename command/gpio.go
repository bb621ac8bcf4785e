package command

import (
	"errors"
	"fmt"

	"github.com/luma/calypso/protocol"
)

// GpioType is what a pin is configured as.
type GpioType int

const (
	GpioUnused GpioType = iota
	GpioInput
	GpioOutput
	GpioPWM
)

var GpioTypeEnum = protocol.NewEnum("type", "UNUSED", "INPUT", "OUTPUT", "PWM")

func (t GpioType) String() string {
	token, _ := GpioTypeEnum.Token(int(t))
	return token
}

func (t GpioType) MarshalText() ([]byte, error) { return marshalToken(GpioTypeEnum, int(t)) }

func (t *GpioType) UnmarshalText(text []byte) error {
	ordinal, err := unmarshalToken(GpioTypeEnum, text)
	*t = GpioType(ordinal)
	return err
}

type GpioState int

const (
	GpioLow GpioState = iota
	GpioHigh
)

var GpioStateEnum = protocol.NewEnum("state", "LOW", "HIGH")

func (s GpioState) MarshalText() ([]byte, error) { return marshalToken(GpioStateEnum, int(s)) }

func (s *GpioState) UnmarshalText(text []byte) error {
	ordinal, err := unmarshalToken(GpioStateEnum, text)
	*s = GpioState(ordinal)
	return err
}

// GpioPull is the pull resistor of an input pin.
type GpioPull int

const (
	PullDown GpioPull = iota
	PullUp
)

var GpioPullEnum = protocol.NewEnum("pull", "DOWN", "UP")

func (p GpioPull) MarshalText() ([]byte, error) { return marshalToken(GpioPullEnum, int(p)) }

func (p *GpioPull) UnmarshalText(text []byte) error {
	ordinal, err := unmarshalToken(GpioPullEnum, text)
	*p = GpioPull(ordinal)
	return err
}

// MaxPWMRatio is the highest duty cycle, in percent.
const MaxPWMRatio = 100

// GpioConfig is the configuration of one pin. State is used by inputs and
// outputs, Pull by inputs, PeriodMs and RatioPercent by PWM pins.
type GpioConfig struct {
	Type         GpioType  `json:"type"`
	State        GpioState `json:"state"`
	Pull         GpioPull  `json:"pull"`
	PeriodMs     uint16    `json:"periodMs"`
	RatioPercent uint8     `json:"ratioPercent"`
}

func GpioUnusedConfig() GpioConfig { return GpioConfig{Type: GpioUnused} }

func GpioInputConfig(state GpioState, pull GpioPull) GpioConfig {
	return GpioConfig{Type: GpioInput, State: state, Pull: pull}
}

func GpioOutputConfig(state GpioState) GpioConfig {
	return GpioConfig{Type: GpioOutput, State: state}
}

func GpioPWMConfig(periodMs uint16, ratioPercent uint8) GpioConfig {
	return GpioConfig{Type: GpioPWM, PeriodMs: periodMs, RatioPercent: ratioPercent}
}

// gpioFields is the layout shared by +gpioSet arguments and +gpioget data.
// Every kind only fills its own columns:
//
//	1,UNUSED
//	1,INPUT,HIGH,UP
//	1,OUTPUT,LOW
//	1,PWM,,,1000,50
var gpioFields = []protocol.Field{
	u8("id"),
	enum("type", GpioTypeEnum),
	optional(enum("state", GpioStateEnum)),
	optional(enum("pull", GpioPullEnum)),
	optional(u16("period")),
	optional(u8("ratio")),
}

var (
	GpioGetSchema = register(&protocol.Schema{
		Prefix:  "+gpioGet",
		Timeout: Timeout,
		Fields:  []protocol.Field{u8("id")},
		Response: &protocol.ResponseSchema{
			Token:  "gpioget",
			Fields: gpioFields,
		},
	})

	GpioGetDefaultSchema = register(&protocol.Schema{
		Prefix:  "+gpioGetDefault",
		Timeout: Timeout,
		Fields:  []protocol.Field{u8("id")},
		Response: &protocol.ResponseSchema{
			Token:  "gpiogetdefault",
			Fields: gpioFields,
		},
	})

	GpioSetSchema = register(&protocol.Schema{
		Prefix:  "+gpioSet",
		Timeout: Timeout,
		Fields:  gpioFields,
	})
)

func GpioGet(id uint8) (*protocol.Command, error) {
	return GpioGetSchema.Build(protocol.IntValue(int64(id)))
}

func GpioGetDefault(id uint8) (*protocol.Command, error) {
	return GpioGetDefaultSchema.Build(protocol.IntValue(int64(id)))
}

// GpioSet configures pin id. A PWM ratio above MaxPWMRatio is rejected.
func GpioSet(id uint8, cfg GpioConfig) (*protocol.Command, error) {
	if cfg.Type == GpioPWM && cfg.RatioPercent > MaxPWMRatio {
		return nil, &protocol.EncodingError{
			Prefix:   GpioSetSchema.Prefix,
			Field:    "ratio",
			Position: 5,
			Err:      fmt.Errorf("%w: %d not in [0, %d]", protocol.ErrOutOfRange, cfg.RatioPercent, MaxPWMRatio),
		}
	}
	return GpioSetSchema.Build(cfg.Record(id)...)
}

// Record renders cfg for pin id, leaving the columns of other kinds absent.
func (c GpioConfig) Record(id uint8) protocol.Record {
	rec := protocol.Record{
		protocol.IntValue(int64(id)),
		protocol.EnumValue(int(c.Type)),
	}

	switch c.Type {
	case GpioInput:
		rec = append(rec, protocol.EnumValue(int(c.State)), protocol.EnumValue(int(c.Pull)))
	case GpioOutput:
		rec = append(rec, protocol.EnumValue(int(c.State)))
	case GpioPWM:
		rec = append(rec,
			protocol.Absent(),
			protocol.Absent(),
			protocol.IntValue(int64(c.PeriodMs)),
			protocol.IntValue(int64(c.RatioPercent)),
		)
	}

	return rec
}

// GpioFromRecord reads a pin id and configuration laid out like gpioFields.
// The columns the kind needs must be present.
func GpioFromRecord(rec protocol.Record) (uint8, GpioConfig, error) {
	cfg := GpioConfig{Type: GpioType(rec.Get(1).Ordinal())}

	var need []int
	switch cfg.Type {
	case GpioInput:
		need = []int{2, 3}
	case GpioOutput:
		need = []int{2}
	case GpioPWM:
		need = []int{4, 5}
	}

	for _, i := range need {
		if !rec.Get(i).Present() {
			return 0, GpioConfig{}, &protocol.DecodeError{
				Field:    gpioFields[i].Name,
				Position: i,
				Err:      fmt.Errorf("%w: required by %s", protocol.ErrMissingArgument, cfg.Type),
			}
		}
	}

	switch cfg.Type {
	case GpioInput:
		cfg.State = GpioState(rec.Get(2).Ordinal())
		cfg.Pull = GpioPull(rec.Get(3).Ordinal())
	case GpioOutput:
		cfg.State = GpioState(rec.Get(2).Ordinal())
	case GpioPWM:
		cfg.PeriodMs = uint16(rec.Get(4).Int())
		cfg.RatioPercent = uint8(rec.Get(5).Int())
	}

	return uint8(rec.Get(0).Int()), cfg, nil
}

// GpioFrom extracts the configuration answered by GpioGet or
// GpioGetDefault.
func GpioFrom(resp *protocol.Response) (GpioConfig, error) {
	rec := resp.First()
	if rec == nil {
		return GpioConfig{}, &protocol.DecodeError{Token: resp.Token, Position: -1, Err: protocol.ErrRecordCount}
	}

	_, cfg, err := GpioFromRecord(rec)
	if err != nil {
		var derr *protocol.DecodeError
		if errors.As(err, &derr) {
			derr.Token = resp.Token
		}
	}
	return cfg, err
}
