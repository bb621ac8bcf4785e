package command

import (
	"fmt"
	"time"

	"github.com/luma/calypso/protocol"
)

// MaxSleep is the longest timed hibernation the module accepts.
const MaxSleep = 24 * time.Hour

var (
	TestSchema = register(&protocol.Schema{Prefix: "+test", Timeout: Timeout})

	// StartSchema starts the network processor. It runs by default after boot.
	StartSchema = register(&protocol.Schema{Prefix: "+start", Timeout: Timeout})

	// StopSchema hibernates the network processor, dropping every connection.
	StopSchema = register(&protocol.Schema{
		Prefix:  "+stop",
		Timeout: Timeout,
		Fields:  []protocol.Field{u16("timeout")},
	})

	RebootSchema = register(&protocol.Schema{Prefix: "+reboot", Timeout: Timeout})

	// FactoryResetSchema has no declared timeout, the client default applies.
	FactoryResetSchema = register(&protocol.Schema{Prefix: "+factoryreset"})

	SleepSchema = register(&protocol.Schema{
		Prefix:  "+sleep",
		Timeout: Timeout,
		Fields:  []protocol.Field{{Name: "timeout", Kind: protocol.KindInt, Bits: 32}},
	})

	PowerSaveSchema = register(&protocol.Schema{Prefix: "+powersave", Timeout: Timeout})

	GetSchema = register(&protocol.Schema{
		Prefix:  "+get",
		Timeout: Timeout,
		Quote:   true,
		Fields:  []protocol.Field{text("id", 16), text("option", 24)},
		Response: &protocol.ResponseSchema{
			Token:  "get",
			Quote:  true,
			Fields: []protocol.Field{text("value", 0)},
		},
	})

	SetSchema = register(&protocol.Schema{
		Prefix:  "+set",
		Timeout: Timeout,
		Quote:   true,
		Fields:  []protocol.Field{text("id", 16), text("option", 24), text("value", 0)},
	})
)

func Test() *protocol.Command         { return TestSchema.MustBuild() }
func Start() *protocol.Command        { return StartSchema.MustBuild() }
func Reboot() *protocol.Command       { return RebootSchema.MustBuild() }
func FactoryReset() *protocol.Command { return FactoryResetSchema.MustBuild() }
func PowerSave() *protocol.Command    { return PowerSaveSchema.MustBuild() }

// Stop hibernates the network processor after at most timeout, in whole
// milliseconds.
func Stop(timeout time.Duration) (*protocol.Command, error) {
	return StopSchema.Build(protocol.IntValue(timeout.Milliseconds()))
}

// Sleep hibernates the module for d, in whole seconds. A zero duration
// sleeps until the wake up pin is raised.
func Sleep(d time.Duration) (*protocol.Command, error) {
	if d < 0 || d > MaxSleep {
		return nil, &protocol.EncodingError{
			Prefix:   SleepSchema.Prefix,
			Field:    "timeout",
			Position: 0,
			Err:      fmt.Errorf("%w: %s not in [0, %s]", protocol.ErrOutOfRange, d, MaxSleep),
		}
	}
	return SleepSchema.Build(protocol.IntValue(int64(d / time.Second)))
}

func Get(id, option string) (*protocol.Command, error) {
	return GetSchema.Build(protocol.TextValue(id), protocol.TextValue(option))
}

func Set(id, option, value string) (*protocol.Command, error) {
	return SetSchema.Build(protocol.TextValue(id), protocol.TextValue(option), protocol.TextValue(value))
}

// GetValue extracts the value of a +get response.
func GetValue(resp *protocol.Response) (string, error) {
	rec := resp.First()
	if rec == nil {
		return "", &protocol.DecodeError{Token: "get", Position: -1, Err: protocol.ErrRecordCount}
	}
	return rec.Get(0).Text(), nil
}
