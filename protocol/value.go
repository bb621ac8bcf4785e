package protocol

import (
	"fmt"
	"math"
	"strconv"
)

// Kind tags the type carried by a Field or a Value.
type Kind int

const (
	KindNone Kind = iota
	KindInt
	KindText
	KindEnum
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInt:
		return "int"
	case KindText:
		return "text"
	case KindEnum:
		return "enum"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a single positional argument or response field. The zero Value
// is absent.
type Value struct {
	kind Kind
	num  int64
	text string
}

func Absent() Value {
	return Value{}
}

func IntValue(v int64) Value {
	return Value{kind: KindInt, num: v}
}

func TextValue(s string) Value {
	return Value{kind: KindText, text: s}
}

// EnumValue refers to a variant by its ordinal in the field's Enum.
func EnumValue(ordinal int) Value {
	return Value{kind: KindEnum, num: int64(ordinal)}
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) Present() bool  { return v.kind != KindNone }
func (v Value) Int() int64     { return v.num }
func (v Value) Text() string   { return v.text }
func (v Value) Ordinal() int   { return int(v.num) }
func (v Value) String() string { return v.format() }

func (v Value) format() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindText:
		return strconv.Quote(v.text)
	case KindEnum:
		return "#" + strconv.FormatInt(v.num, 10)
	default:
		return "<absent>"
	}
}

// Enum is a closed table mapping variant ordinals to their literal wire
// tokens.
type Enum struct {
	name   string
	tokens []string
	index  map[string]int
}

// NewEnum declares an enum table. An empty or duplicate token is a
// programming error and panics, so tables are meant to be package level
// variables checked at init.
func NewEnum(name string, tokens ...string) *Enum {
	if len(tokens) == 0 {
		panic(fmt.Sprintf("protocol: enum %s declares no tokens", name))
	}

	index := make(map[string]int, len(tokens))
	for i, token := range tokens {
		if token == "" {
			panic(fmt.Sprintf("protocol: enum %s has an empty token at %d", name, i))
		}
		if _, dup := index[token]; dup {
			panic(fmt.Sprintf("protocol: enum %s declares %q twice", name, token))
		}
		index[token] = i
	}

	return &Enum{name: name, tokens: tokens, index: index}
}

func (e *Enum) Name() string { return e.name }
func (e *Enum) Len() int     { return len(e.tokens) }

// Token returns the wire token for ordinal.
func (e *Enum) Token(ordinal int) (string, bool) {
	if ordinal < 0 || ordinal >= len(e.tokens) {
		return "", false
	}
	return e.tokens[ordinal], true
}

// Lookup returns the ordinal for a wire token.
func (e *Enum) Lookup(token string) (int, bool) {
	ordinal, ok := e.index[token]
	return ordinal, ok
}

// Field describes one positional argument or response field.
type Field struct {
	Name     string
	Kind     Kind
	Optional bool

	// Base is the numeric base of an int field, 10 when zero.
	Base int
	// Bits is the width of an int field, 32 when zero.
	Bits   int
	Signed bool

	// MaxLen bounds a text field in bytes. Zero means unbounded.
	MaxLen int

	Enum *Enum
}

func (f Field) base() int {
	if f.Base < 2 || f.Base > 36 {
		return 10
	}
	return f.Base
}

func (f Field) bounds() (lo, hi int64) {
	bits := f.Bits
	if bits <= 0 {
		bits = 32
	}
	if bits > 64 {
		bits = 64
	}

	if f.Signed {
		if bits == 64 {
			return math.MinInt64, math.MaxInt64
		}
		return -(int64(1) << uint(bits-1)), int64(1)<<uint(bits-1) - 1
	}

	if bits >= 63 {
		return 0, math.MaxInt64
	}
	return 0, int64(1)<<uint(bits) - 1
}

// check validates v against the field declaration.
func (f Field) check(v Value) error {
	if !v.Present() {
		if f.Optional {
			return nil
		}
		return ErrMissingArgument
	}

	if v.kind != f.Kind {
		return fmt.Errorf("%w: got %s, want %s", ErrKindMismatch, v.kind, f.Kind)
	}

	switch f.Kind {
	case KindInt:
		lo, hi := f.bounds()
		if v.num < lo || v.num > hi {
			return fmt.Errorf("%w: %d not in [%d, %d]", ErrOutOfRange, v.num, lo, hi)
		}

	case KindText:
		if f.MaxLen > 0 && len(v.text) > f.MaxLen {
			return fmt.Errorf("%w: %d bytes, capacity %d", ErrValueTooLong, len(v.text), f.MaxLen)
		}

	case KindEnum:
		if f.Enum == nil {
			return ErrUnmappedEnum
		}
		if _, ok := f.Enum.Token(v.Ordinal()); !ok {
			return fmt.Errorf("%w: %s ordinal %d", ErrUnmappedEnum, f.Enum.Name(), v.Ordinal())
		}
	}

	return nil
}
