package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Record is one decoded data line, one Value per declared field. Optional
// fields that were not sent are absent.
type Record []Value

// Get returns the value at i, or an absent value if i is out of range.
func (r Record) Get(i int) Value {
	if i < 0 || i >= len(r) {
		return Absent()
	}
	return r[i]
}

// ResponseSchema declares the data lines a command answers with before its
// terminator line.
type ResponseSchema struct {
	// Token is the data line keyword without the response marker, e.g. "get"
	Token  string
	Fields []Field

	// Repeated allows zero or more data lines instead of exactly one
	Repeated bool

	// Quote wraps text fields in quotes when formatting
	Quote bool
}

// Decode parses bodies with the DefaultCodec.
func (s *ResponseSchema) Decode(bodies []string) (*Response, error) {
	return DefaultCodec.DecodeResponse(s, bodies)
}

// FormatLine renders rec with the DefaultCodec.
func (s *ResponseSchema) FormatLine(rec Record) (string, error) {
	return DefaultCodec.FormatLine(s, rec)
}

// Response is the structured result of an exchange. A command without a
// response schema resolves to a Response with no records.
type Response struct {
	Token   string
	Records []Record
}

// First returns the first record, or nil when the response carries no data.
func (r *Response) First() Record {
	if r == nil || len(r.Records) == 0 {
		return nil
	}
	return r.Records[0]
}

// Empty reports whether the exchange carried no data lines.
func (r *Response) Empty() bool {
	return r == nil || len(r.Records) == 0
}

// DecodeResponse decodes the bodies of the data lines collected for one
// exchange. Any failing line fails the whole response.
func (c Codec) DecodeResponse(s *ResponseSchema, bodies []string) (*Response, error) {
	if s == nil {
		if len(bodies) > 0 {
			return nil, &DecodeError{
				Position: -1,
				Err:      fmt.Errorf("%w: got %d, want none", ErrRecordCount, len(bodies)),
			}
		}
		return &Response{}, nil
	}

	if !s.Repeated && len(bodies) != 1 {
		return nil, &DecodeError{
			Token:    s.Token,
			Position: -1,
			Err:      fmt.Errorf("%w: got %d, want 1", ErrRecordCount, len(bodies)),
		}
	}

	resp := &Response{Token: s.Token, Records: make([]Record, 0, len(bodies))}
	for _, body := range bodies {
		record, err := c.DecodeRecord(body, s.Fields)
		if err != nil {
			var derr *DecodeError
			if errors.As(err, &derr) {
				derr.Token = s.Token
			}
			return nil, err
		}
		resp.Records = append(resp.Records, record)
	}

	return resp, nil
}

// DecodeLine decodes a single raw data line, marker and token included.
func (c Codec) DecodeLine(raw string, s *ResponseSchema) (Record, error) {
	line := ParseLine(raw)
	if line.Class != LineData {
		return nil, &DecodeError{Token: s.Token, Position: -1, Err: ErrMalformedLine}
	}
	if line.Token != s.Token {
		return nil, &DecodeError{
			Token:    s.Token,
			Position: -1,
			Err:      fmt.Errorf("%w: got %q", ErrTokenMismatch, line.Token),
		}
	}

	resp, err := c.DecodeResponse(&ResponseSchema{Token: s.Token, Fields: s.Fields}, []string{line.Body})
	if err != nil {
		return nil, err
	}
	return resp.First(), nil
}

// FormatLine renders rec as a data line without its terminator:
//
//	+<token>:<field>[,<field>...]
func (c Codec) FormatLine(s *ResponseSchema, rec Record) (string, error) {
	values := make([]Value, len(s.Fields))
	copy(values, rec)

	for i, field := range s.Fields {
		if err := field.check(values[i]); err != nil {
			return "", &EncodingError{Prefix: s.Token, Field: field.Name, Position: i, Err: err}
		}
	}

	fragments, err := c.serializeAll(s.Token, s.Fields, values, s.Quote)
	if err != nil {
		return "", err
	}

	return ResponseMarker + s.Token + string(Delimiter) + strings.Join(fragments, string(Separator)), nil
}
