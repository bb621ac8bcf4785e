package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// LineClass tells how a received line takes part in an exchange.
type LineClass int

const (
	// LineText is anything not starting with the response marker, typically
	// an echo or boot banner
	LineText LineClass = iota
	// LineSuccess ends an exchange with success
	LineSuccess
	// LineError ends an exchange with a module error
	LineError
	// LineData carries response fields or an event
	LineData
)

func (c LineClass) String() string {
	switch c {
	case LineSuccess:
		return "success"
	case LineError:
		return "error"
	case LineData:
		return "data"
	default:
		return "text"
	}
}

const (
	SuccessLine = "OK"
	ErrorToken  = "error"
)

// Line is a received line split into its token and body.
type Line struct {
	Class LineClass
	// Token is the keyword between the response marker and the delimiter
	Token string
	// Body is everything after the delimiter
	Body string
	Raw  string
}

// Terminal reports whether the line ends an exchange.
func (l Line) Terminal() bool {
	return l.Class == LineSuccess || l.Class == LineError
}

// ParseLine classifies a line that has already been stripped of its
// terminator.
func ParseLine(raw string) Line {
	line := Line{Raw: raw}

	if raw == SuccessLine {
		line.Class = LineSuccess
		return line
	}

	if !strings.HasPrefix(raw, ResponseMarker) {
		line.Class = LineText
		return line
	}

	rest := raw[len(ResponseMarker):]
	switch {
	// Some firmware versions separate the error code with a comma
	case strings.HasPrefix(rest, ErrorToken+string(Separator)):
		line.Token, line.Body = ErrorToken, rest[len(ErrorToken)+1:]
	case strings.IndexByte(rest, Delimiter) >= 0:
		i := strings.IndexByte(rest, Delimiter)
		line.Token, line.Body = rest[:i], rest[i+1:]
	default:
		line.Token = rest
	}

	if line.Token == ErrorToken {
		line.Class = LineError
	} else {
		line.Class = LineData
	}

	return line
}

// ParseModuleError extracts the code and description of an error line.
func ParseModuleError(line Line) (*ModuleError, error) {
	if line.Class != LineError {
		return nil, fmt.Errorf("%w: %q is not an error line", ErrMalformedLine, line.Raw)
	}

	codeText, desc := line.Body, ""
	if i := strings.IndexByte(line.Body, Separator); i >= 0 {
		codeText, desc = line.Body[:i], line.Body[i+1:]
	}

	code, err := strconv.Atoi(strings.TrimSpace(codeText))
	if err != nil {
		return nil, fmt.Errorf("%w: error code %q", ErrMalformedLine, codeText)
	}

	desc = strings.TrimSpace(desc)
	if len(desc) >= 2 && desc[0] == Quote && desc[len(desc)-1] == Quote {
		desc = desc[1 : len(desc)-1]
	}

	return &ModuleError{Code: code, Description: desc}, nil
}

// RemoveTrailingCR strips the optional carriage return left after splitting
// on the line feed.
func RemoveTrailingCR(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\r' {
		return data[:len(data)-1]
	}

	return data
}
