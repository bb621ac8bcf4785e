// Package command is the catalog of Calypso AT commands: their schemas,
// typed enums and builders that return ready to send commands.
package command

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/luma/calypso/protocol"
)

// Timeout is the response timeout declared by most module commands.
const Timeout = 100 * time.Millisecond

var registry = map[string]*protocol.Schema{}

func register(s *protocol.Schema) *protocol.Schema {
	if _, dup := registry[s.Prefix]; dup {
		panic(fmt.Sprintf("command: %s registered twice", s.Prefix))
	}
	registry[s.Prefix] = s
	return s
}

// Lookup returns the schema declared for prefix.
func Lookup(prefix string) (*protocol.Schema, bool) {
	s, ok := registry[prefix]
	return s, ok
}

// Schemas returns every declared schema ordered by prefix.
func Schemas() []*protocol.Schema {
	schemas := make([]*protocol.Schema, 0, len(registry))
	for _, s := range registry {
		schemas = append(schemas, s)
	}
	sort.Slice(schemas, func(i, j int) bool {
		return schemas[i].Prefix < schemas[j].Prefix
	})
	return schemas
}

func optionalText(s string) protocol.Value {
	if s == "" {
		return protocol.Absent()
	}
	return protocol.TextValue(s)
}

func u8(name string) protocol.Field {
	return protocol.Field{Name: name, Kind: protocol.KindInt, Bits: 8}
}

func u16(name string) protocol.Field {
	return protocol.Field{Name: name, Kind: protocol.KindInt, Bits: 16}
}

func text(name string, maxLen int) protocol.Field {
	return protocol.Field{Name: name, Kind: protocol.KindText, MaxLen: maxLen}
}

func enum(name string, e *protocol.Enum) protocol.Field {
	return protocol.Field{Name: name, Kind: protocol.KindEnum, Enum: e}
}

func optional(f protocol.Field) protocol.Field {
	f.Optional = true
	return f
}

func marshalToken(e *protocol.Enum, ordinal int) ([]byte, error) {
	token, ok := e.Token(ordinal)
	if !ok {
		return nil, fmt.Errorf("%w: %s ordinal %d", protocol.ErrUnmappedEnum, e.Name(), ordinal)
	}
	return []byte(token), nil
}

// unmarshalToken accepts the wire token in any case.
func unmarshalToken(e *protocol.Enum, text []byte) (int, error) {
	ordinal, ok := e.Lookup(strings.ToUpper(string(text)))
	if !ok {
		if ordinal, ok = e.Lookup(string(text)); !ok {
			return 0, fmt.Errorf("%w: %q is not a %s token", protocol.ErrUnmappedEnum, text, e.Name())
		}
	}
	return ordinal, nil
}
