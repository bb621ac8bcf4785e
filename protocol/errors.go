package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPrefix    = errors.New("command prefix is empty or contains reserved characters")
	ErrTooManyArguments = errors.New("more arguments than the command declares")
	ErrMissingArgument  = errors.New("required argument is absent")
	ErrKindMismatch     = errors.New("value kind does not match the declared field kind")
	ErrOutOfRange       = errors.New("integer does not fit the declared width")
	ErrValueTooLong     = errors.New("text exceeds the declared capacity")
	ErrUnmappedEnum     = errors.New("enum variant has no declared token")
	ErrUnescapable      = errors.New("text requires escaping but escaping is disabled")
	ErrIllegalCharacter = errors.New("text contains a line terminator")
	ErrLineTooLong      = errors.New("encoded line exceeds the maximum line size")

	ErrFieldCount        = errors.New("field count does not match the declared layout")
	ErrFieldType         = errors.New("field does not parse as the declared type")
	ErrUnterminatedQuote = errors.New("unterminated quote or escape")
	ErrRecordCount       = errors.New("unexpected number of data lines")
	ErrTokenMismatch     = errors.New("data line token does not match the expected response")
	ErrMalformedLine     = errors.New("malformed line")
	ErrRequestTooShort   = errors.New("request is malformed, it appears to be too short")
)

// EncodingError reports a command that cannot be turned into a wire line.
// It is always raised before anything is written to the transport.
type EncodingError struct {
	Prefix string
	// Field is empty when the error is not tied to a single argument
	Field    string
	Position int
	Err      error
}

func (e *EncodingError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("encode %s: %v", e.Prefix, e.Err)
	}
	return fmt.Sprintf("encode %s: argument %d (%s): %v", e.Prefix, e.Position, e.Field, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// DecodeError reports a data line that does not match its declared layout.
// Decoding never yields a partial result.
type DecodeError struct {
	Token    string
	Field    string
	Position int
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode %s: %v", e.Token, e.Err)
	}
	return fmt.Sprintf("decode %s: field %d (%s): %v", e.Token, e.Position, e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ModuleError is a failure reported by the module itself through an error
// terminator line.
type ModuleError struct {
	Code        int
	Description string
}

func (e *ModuleError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("module error %d", e.Code)
	}
	return fmt.Sprintf("module error %d: %s", e.Code, e.Description)
}

// IsModuleError returns true if err is or wraps a ModuleError.
func IsModuleError(err error) bool {
	var merr *ModuleError
	return errors.As(err, &merr)
}
