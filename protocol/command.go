package protocol

import (
	"fmt"
	"strings"
	"time"
)

// Schema declares the shape of one command type: its prefix, the ordered
// argument layout, the expected response and its timeout.
type Schema struct {
	// Prefix is the command keyword including its leading '+', e.g. "+test"
	Prefix string

	Fields []Field

	// Response is nil for commands that only answer with a terminator line
	Response *ResponseSchema

	// Timeout overrides the client default when non zero
	Timeout time.Duration

	// Quote wraps text arguments in quotes
	Quote bool
}

// Command is an immutable, validated instance of a Schema. It is consumed
// by a single send.
type Command struct {
	schema *Schema
	values []Value
}

// Build validates values against the schema and returns a Command. Values
// that are not supplied are absent, so a command built with fewer values is
// identical to one built with explicit Absent() values in their place.
func (s *Schema) Build(values ...Value) (*Command, error) {
	if s.Prefix == "" || strings.ContainsAny(s.Prefix, "=\r\n") {
		return nil, &EncodingError{Prefix: s.Prefix, Position: -1, Err: ErrInvalidPrefix}
	}

	if len(values) > len(s.Fields) {
		return nil, &EncodingError{
			Prefix:   s.Prefix,
			Position: -1,
			Err:      fmt.Errorf("%w: got %d, want at most %d", ErrTooManyArguments, len(values), len(s.Fields)),
		}
	}

	args := make([]Value, len(s.Fields))
	copy(args, values)

	for i, field := range s.Fields {
		if err := field.check(args[i]); err != nil {
			return nil, &EncodingError{Prefix: s.Prefix, Field: field.Name, Position: i, Err: err}
		}
	}

	return &Command{schema: s, values: args}, nil
}

// MustBuild is Build for statically known arguments. It panics on error.
func (s *Schema) MustBuild(values ...Value) *Command {
	cmd, err := s.Build(values...)
	if err != nil {
		panic(err)
	}
	return cmd
}

func (c *Command) Schema() *Schema           { return c.schema }
func (c *Command) Prefix() string            { return c.schema.Prefix }
func (c *Command) Timeout() time.Duration    { return c.schema.Timeout }
func (c *Command) Response() *ResponseSchema { return c.schema.Response }

// Args returns a copy of the argument values, one per declared field.
func (c *Command) Args() []Value {
	args := make([]Value, len(c.values))
	copy(args, c.values)
	return args
}

func (c *Command) String() string {
	parts := make([]string, 0, len(c.values))
	for _, v := range c.values {
		parts = append(parts, v.format())
	}
	return c.schema.Prefix + "(" + strings.Join(parts, ", ") + ")"
}
