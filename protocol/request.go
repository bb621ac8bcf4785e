package protocol

import (
	"bufio"
	"bytes"
	"fmt"
)

// Request is a command line as the module receives it.
type Request struct {
	// Prefix is the command keyword including its '+', e.g. "+wlanScan"
	Prefix string
	// Body is the raw argument list after the assignment separator
	Body    string
	HasArgs bool
}

// ParseRequest parses a single command line with its terminator already
// removed.
func ParseRequest(line []byte) (*Request, error) {
	if len(line) <= len(CommandMarker) {
		return nil, ErrRequestTooShort
	}

	if !bytes.HasPrefix(line, []byte(CommandMarker)) {
		return nil, fmt.Errorf("%w: %q does not start with %s", ErrMalformedLine, line, CommandMarker)
	}

	rest := line[len(CommandMarker):]
	req := &Request{}

	if i := bytes.IndexByte(rest, Assign); i >= 0 {
		req.Prefix = string(rest[:i])
		req.Body = string(rest[i+1:])
		req.HasArgs = true
	} else {
		req.Prefix = string(rest)
	}

	if req.Prefix == "" {
		return nil, ErrRequestTooShort
	}

	return req, nil
}

// ReadRequest reads the next command line from r.
//
// To avoid denial of service attacks, r should be reading from an
// io.LimitReader or similar Reader to bound the size of requests.
func ReadRequest(r *bufio.Reader) (*Request, error) {
	raw, err := r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}

	return ParseRequest(RemoveTrailingCR(raw[:len(raw)-1]))
}
