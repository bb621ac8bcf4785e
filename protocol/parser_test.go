package protocol_test

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/calypso/protocol"
)

var _ = Describe("Parsing", func() {
	Describe("ParseLine()", func() {
		It("recognises the success terminator", func() {
			line := protocol.ParseLine("OK")
			Expect(line.Class).To(Equal(protocol.LineSuccess))
			Expect(line.Terminal()).To(BeTrue())
		})

		It("recognises error lines", func() {
			line := protocol.ParseLine(`+error:-1,"bad argument"`)
			Expect(line.Class).To(Equal(protocol.LineError))
			Expect(line.Body).To(Equal(`-1,"bad argument"`))
		})

		It("accepts a comma after the error token", func() {
			line := protocol.ParseLine("+error,-2,no:way")
			Expect(line.Class).To(Equal(protocol.LineError))
			Expect(line.Body).To(Equal("-2,no:way"))
		})

		It("splits data lines into token and body", func() {
			line := protocol.ParseLine("+get:12,ab")
			Expect(line.Class).To(Equal(protocol.LineData))
			Expect(line.Token).To(Equal("get"))
			Expect(line.Body).To(Equal("12,ab"))
			Expect(line.Terminal()).To(BeFalse())
		})

		It("treats lines without the marker as text", func() {
			Expect(protocol.ParseLine("AT+test").Class).To(Equal(protocol.LineText))
			Expect(protocol.ParseLine("").Class).To(Equal(protocol.LineText))
			Expect(protocol.ParseLine("ok").Class).To(Equal(protocol.LineText))
		})
	})

	Describe("ParseModuleError()", func() {
		It("extracts the code and an unquoted description", func() {
			merr, err := protocol.ParseModuleError(protocol.ParseLine(`+error:-1,"bad argument"`))
			Expect(err).To(Succeed())
			Expect(merr).To(Equal(&protocol.ModuleError{Code: -1, Description: "bad argument"}))
			Expect(merr.Error()).To(Equal("module error -1: bad argument"))
		})

		It("allows a missing description", func() {
			merr, err := protocol.ParseModuleError(protocol.ParseLine("+error:5"))
			Expect(err).To(Succeed())
			Expect(merr.Code).To(Equal(5))
			Expect(merr.Description).To(BeEmpty())
		})

		It("fails on a non numeric code", func() {
			_, err := protocol.ParseModuleError(protocol.ParseLine("+error:abc,x"))
			Expect(errors.Is(err, protocol.ErrMalformedLine)).To(BeTrue())
		})

		It("fails on a line that is not an error", func() {
			_, err := protocol.ParseModuleError(protocol.ParseLine("OK"))
			Expect(errors.Is(err, protocol.ErrMalformedLine)).To(BeTrue())
		})

		It("is detected through wrapping", func() {
			err := errors.New("outer")
			Expect(protocol.IsModuleError(err)).To(BeFalse())

			wrapped := &protocol.DecodeError{Err: &protocol.ModuleError{Code: 1}}
			Expect(protocol.IsModuleError(wrapped)).To(BeTrue())
		})
	})

	Describe("RemoveTrailingCR()", func() {
		It("strips a single carriage return", func() {
			Expect(protocol.RemoveTrailingCR([]byte("OK\r"))).To(Equal([]byte("OK")))
			Expect(protocol.RemoveTrailingCR([]byte("OK"))).To(Equal([]byte("OK")))
		})

		It("does not panic on empty input", func() {
			Expect(protocol.RemoveTrailingCR([]byte{})).To(BeEmpty())
		})
	})

	Describe("ReadRequest()", func() {
		It("returns an error if the reader cannot find a newline", func() {
			r := bufio.NewReader(strings.NewReader("AT+test"))
			_, err := protocol.ReadRequest(r)
			Expect(err).To(MatchError(io.EOF))
		})

		It("returns an error if the data is too short to be a valid request", func() {
			r := bufio.NewReader(strings.NewReader("AT\r\n"))
			_, err := protocol.ReadRequest(r)
			Expect(err).To(MatchError(protocol.ErrRequestTooShort))
		})

		It("returns an error if the command marker is missing", func() {
			r := bufio.NewReader(strings.NewReader("XY+test\r\n"))
			_, err := protocol.ReadRequest(r)
			Expect(errors.Is(err, protocol.ErrMalformedLine)).To(BeTrue())
		})

		It("parses consecutive requests", func() {
			r := bufio.NewReader(strings.NewReader("AT+stop=100\r\nAT+test\n"))

			req, err := protocol.ReadRequest(r)
			Expect(err).To(Succeed())
			Expect(req).To(Equal(&protocol.Request{Prefix: "+stop", Body: "100", HasArgs: true}))

			req, err = protocol.ReadRequest(r)
			Expect(err).To(Succeed())
			Expect(req).To(Equal(&protocol.Request{Prefix: "+test"}))
		})

		It("decodes the arguments against a schema", func() {
			s := &protocol.Schema{
				Prefix: "+set",
				Fields: []protocol.Field{
					{Name: "id", Kind: protocol.KindInt},
					{Name: "value", Kind: protocol.KindText, Optional: true},
				},
			}

			req, err := protocol.ParseRequest([]byte(`AT+set=3,a\,b`))
			Expect(err).To(Succeed())

			args, err := protocol.DefaultCodec.DecodeArgs(s, req.Body)
			Expect(err).To(Succeed())
			Expect(args[0].Int()).To(Equal(int64(3)))
			Expect(args[1].Text()).To(Equal("a,b"))
		})
	})

	Describe("writers", func() {
		It("writes an error line", func() {
			var b bytes.Buffer
			Expect(protocol.WriteError(&b, -3, "bad")).To(Succeed())
			Expect(b.String()).To(Equal("+error:-3,bad\r\n"))
		})

		It("writes data lines followed by OK", func() {
			var b bytes.Buffer
			Expect(protocol.WriteResponse(&b, "+get:1", "+get:2")).To(Succeed())
			Expect(b.String()).To(Equal("+get:1\r\n+get:2\r\nOK\r\n"))
		})

		It("writes nothing for no lines", func() {
			var b bytes.Buffer
			Expect(protocol.WriteLines(&b)).To(Succeed())
			Expect(b.Len()).To(BeZero())
		})

		It("writes a bare OK", func() {
			var b bytes.Buffer
			Expect(protocol.WriteOk(&b)).To(Succeed())
			Expect(b.String()).To(Equal("OK\r\n"))
		})
	})
})
