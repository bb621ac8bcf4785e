package protocol

import (
	"bytes"
	"fmt"
	"io"
)

var (
	OkTerminal = []byte(SuccessLine + Terminator)
	Terminal   = []byte(Terminator)
)

func WriteOk(w io.Writer) error {
	_, err := w.Write(OkTerminal)
	return err
}

func WriteString(w io.Writer, s string) error {
	_, err := w.Write(append([]byte(s), Terminal...))
	return err
}

// WriteLines writes each line followed by the terminator in a single write,
// so lines of one response never interleave with another writer.
func WriteLines(w io.Writer, lines ...string) error {
	if len(lines) == 0 {
		return nil
	}

	var b bytes.Buffer
	for _, line := range lines {
		b.WriteString(line)
		b.Write(Terminal)
	}

	_, err := w.Write(b.Bytes())
	return err
}

// WriteError writes an error terminator line.
func WriteError(w io.Writer, code int, desc string) error {
	_, err := fmt.Fprintf(w, "%s%s%c%d%c%s%s", ResponseMarker, ErrorToken, Delimiter, code, Separator, desc, Terminator)
	return err
}

// WriteResponse writes data lines followed by the success terminator.
func WriteResponse(w io.Writer, lines ...string) error {
	return WriteLines(w, append(lines, SuccessLine)...)
}
