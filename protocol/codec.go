package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// CommandMarker starts every command line sent to the module
	CommandMarker = "AT"
	// ResponseMarker starts data, error and event lines sent by the module
	ResponseMarker = "+"

	Terminator = "\r\n"

	Separator byte = ','
	Assign    byte = '='
	Delimiter byte = ':'
	Quote     byte = '"'
	Escape    byte = '\\'

	// MaxLineSize is the longest command line the module accepts
	MaxLineSize = 2048
)

// Codec turns commands into wire lines and data lines back into records.
type Codec struct {
	// Escape enables backslash escaping inside text values. When disabled,
	// text that would need escaping is rejected instead.
	Escape bool

	// MaxLine bounds an encoded line including its terminator. MaxLineSize
	// is used when zero.
	MaxLine int
}

// DefaultCodec escapes text and enforces MaxLineSize.
var DefaultCodec = Codec{Escape: true, MaxLine: MaxLineSize}

func (c Codec) maxLine() int {
	if c.MaxLine <= 0 {
		return MaxLineSize
	}
	return c.MaxLine
}

// Encode renders cmd as a single terminated line:
//
//	AT<prefix>[=<arg>[,<arg>...]]\r\n
func (c Codec) Encode(cmd *Command) ([]byte, error) {
	fragments, err := c.Arguments(cmd)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	b.WriteString(CommandMarker)
	b.WriteString(cmd.Prefix())

	if hasContent(fragments) {
		b.WriteByte(Assign)
		writeJoined(&b, fragments)
	}

	b.WriteString(Terminator)

	if b.Len() > c.maxLine() {
		return nil, &EncodingError{
			Prefix:   cmd.Prefix(),
			Position: -1,
			Err:      fmt.Errorf("%w: %d bytes, limit %d", ErrLineTooLong, b.Len(), c.maxLine()),
		}
	}

	return b.Bytes(), nil
}

// Arguments serializes the argument list of cmd. Trailing absent values are
// dropped, absent values before a present one become empty placeholders.
func (c Codec) Arguments(cmd *Command) ([]string, error) {
	return c.serializeAll(cmd.schema.Prefix, cmd.schema.Fields, cmd.values, cmd.schema.Quote)
}

func (c Codec) serializeAll(name string, fields []Field, values []Value, quote bool) ([]string, error) {
	last := -1
	for i, v := range values {
		if v.Present() {
			last = i
		}
	}

	fragments := make([]string, 0, last+1)
	for i := 0; i <= last; i++ {
		fragment, err := c.SerializeArg(fields[i], values[i], quote)
		if err != nil {
			return nil, &EncodingError{Prefix: name, Field: fields[i].Name, Position: i, Err: err}
		}
		fragments = append(fragments, fragment)
	}

	return fragments, nil
}

// SerializeArg renders a single value for field f. Absent values render as
// an empty fragment.
func (c Codec) SerializeArg(f Field, v Value, quote bool) (string, error) {
	if err := f.check(v); err != nil {
		return "", err
	}

	switch v.kind {
	case KindNone:
		return "", nil

	case KindInt:
		return strconv.FormatInt(v.num, f.base()), nil

	case KindEnum:
		token, _ := f.Enum.Token(v.Ordinal())
		return token, nil

	case KindText:
		return c.text(v.text, quote)
	}

	return "", ErrKindMismatch
}

// specials returns the characters that need an escape inside a text value.
func (c Codec) specials(quote bool) string {
	s := string(Quote)
	if !quote {
		s += string(Separator)
	}
	if c.Escape {
		s += string(Escape)
	}
	return s
}

func (c Codec) text(s string, quote bool) (string, error) {
	if strings.ContainsAny(s, "\r\n") {
		return "", ErrIllegalCharacter
	}

	specials := c.specials(quote)
	if !strings.ContainsAny(s, specials) {
		if quote {
			return string(Quote) + s + string(Quote), nil
		}
		return s, nil
	}

	if !c.Escape {
		return "", fmt.Errorf("%w: %q", ErrUnescapable, s)
	}

	var b strings.Builder
	b.Grow(len(s) + 4)
	if quote {
		b.WriteByte(Quote)
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(specials, s[i]) >= 0 {
			b.WriteByte(Escape)
		}
		b.WriteByte(s[i])
	}
	if quote {
		b.WriteByte(Quote)
	}

	return b.String(), nil
}

type rawField struct {
	text   string
	quoted bool
}

// splitFields splits a comma separated body, honouring quotes and escapes.
func (c Codec) splitFields(body string) ([]rawField, error) {
	if body == "" {
		return nil, nil
	}

	var (
		fields  []rawField
		b       strings.Builder
		quoted  bool
		inQuote bool
		escaped bool
	)

	for i := 0; i < len(body); i++ {
		ch := body[i]

		switch {
		case escaped:
			b.WriteByte(ch)
			escaped = false

		case c.Escape && ch == Escape:
			escaped = true

		case ch == Quote && inQuote:
			inQuote = false

		case ch == Quote && !quoted && b.Len() == 0:
			inQuote = true
			quoted = true

		case ch == Separator && !inQuote:
			fields = append(fields, rawField{text: b.String(), quoted: quoted})
			b.Reset()
			quoted = false

		default:
			b.WriteByte(ch)
		}
	}

	if inQuote || escaped {
		return nil, ErrUnterminatedQuote
	}

	return append(fields, rawField{text: b.String(), quoted: quoted}), nil
}

// DecodeRecord parses a comma separated body positionally against fields.
// Missing trailing fields are only accepted when optional.
func (c Codec) DecodeRecord(body string, fields []Field) (Record, error) {
	raw, err := c.splitFields(body)
	if err != nil {
		return nil, &DecodeError{Position: -1, Err: err}
	}

	if len(raw) > len(fields) {
		return nil, &DecodeError{
			Position: -1,
			Err:      fmt.Errorf("%w: got %d, want at most %d", ErrFieldCount, len(raw), len(fields)),
		}
	}

	record := make(Record, len(fields))
	for i, field := range fields {
		if i >= len(raw) {
			if !field.Optional {
				return nil, &DecodeError{
					Field:    field.Name,
					Position: i,
					Err:      fmt.Errorf("%w: got %d fields", ErrFieldCount, len(raw)),
				}
			}
			continue
		}

		v, err := decodeField(field, raw[i])
		if err == nil {
			err = field.check(v)
		}
		if err != nil {
			return nil, &DecodeError{Field: field.Name, Position: i, Err: err}
		}

		record[i] = v
	}

	return record, nil
}

func decodeField(f Field, raw rawField) (Value, error) {
	empty := raw.text == "" && !raw.quoted

	switch f.Kind {
	case KindText:
		if empty && f.Optional {
			return Absent(), nil
		}
		return TextValue(raw.text), nil

	case KindInt:
		if empty {
			return Absent(), nil
		}
		n, err := strconv.ParseInt(raw.text, f.base(), 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not an integer", ErrFieldType, raw.text)
		}
		return IntValue(n), nil

	case KindEnum:
		if empty {
			return Absent(), nil
		}
		if f.Enum == nil {
			return Value{}, ErrUnmappedEnum
		}
		ordinal, ok := f.Enum.Lookup(raw.text)
		if !ok {
			return Value{}, fmt.Errorf("%w: %q is not a %s token", ErrFieldType, raw.text, f.Enum.Name())
		}
		return EnumValue(ordinal), nil
	}

	return Value{}, ErrKindMismatch
}

// DecodeArgs parses the argument body of a received command line. It is the
// module side inverse of Arguments.
func (c Codec) DecodeArgs(s *Schema, body string) ([]Value, error) {
	record, err := c.DecodeRecord(body, s.Fields)
	if err != nil {
		var derr *DecodeError
		if errors.As(err, &derr) {
			derr.Token = s.Prefix
		}
		return nil, err
	}
	return record, nil
}

func hasContent(fragments []string) bool {
	for _, f := range fragments {
		if f != "" {
			return true
		}
	}
	return false
}

func writeJoined(b *bytes.Buffer, fragments []string) {
	for i, f := range fragments {
		if i > 0 {
			b.WriteByte(Separator)
		}
		b.WriteString(f)
	}
}
