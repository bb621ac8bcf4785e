package protocol_test

import (
	"errors"
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/calypso/protocol"
)

var modes = protocol.NewEnum("mode", "STA", "AP", "P2P")

var _ = Describe("Codec", func() {
	codec := protocol.DefaultCodec

	encode := func(s *protocol.Schema, values ...protocol.Value) string {
		cmd, err := s.Build(values...)
		Expect(err).To(Succeed())

		b, err := codec.Encode(cmd)
		Expect(err).To(Succeed())
		return string(b)
	}

	Describe("Encode()", func() {
		It("renders a command without arguments as the bare prefix", func() {
			Expect(encode(&protocol.Schema{Prefix: "+test"})).To(Equal("AT+test\r\n"))
		})

		It("renders a required zero integer", func() {
			s := &protocol.Schema{
				Prefix: "+stop",
				Fields: []protocol.Field{{Name: "timeout", Kind: protocol.KindInt, Bits: 16}},
			}
			Expect(encode(s, protocol.IntValue(0))).To(Equal("AT+stop=0\r\n"))
		})

		It("renders integers in their declared base", func() {
			s := &protocol.Schema{
				Prefix: "+get",
				Fields: []protocol.Field{{Name: "id", Kind: protocol.KindInt, Base: 16}},
			}
			Expect(encode(s, protocol.IntValue(255))).To(Equal("AT+get=ff\r\n"))
		})

		It("renders enums through their token table", func() {
			s := &protocol.Schema{
				Prefix: "+wlanSetMode",
				Fields: []protocol.Field{{Name: "mode", Kind: protocol.KindEnum, Enum: modes}},
			}
			Expect(encode(s, protocol.EnumValue(1))).To(Equal("AT+wlanSetMode=AP\r\n"))
		})

		Describe("absent arguments", func() {
			s := &protocol.Schema{
				Prefix: "+x",
				Fields: []protocol.Field{
					{Name: "a", Kind: protocol.KindInt, Optional: true},
					{Name: "b", Kind: protocol.KindText, Optional: true},
					{Name: "c", Kind: protocol.KindInt, Optional: true},
				},
			}

			It("drops trailing absent arguments however absence is expressed", func() {
				short := encode(s, protocol.IntValue(1))
				explicit := encode(s, protocol.IntValue(1), protocol.Absent(), protocol.Absent())

				Expect(short).To(Equal("AT+x=1\r\n"))
				Expect(explicit).To(Equal(short))
			})

			It("keeps an empty placeholder before a present argument", func() {
				Expect(encode(s, protocol.IntValue(1), protocol.Absent(), protocol.IntValue(5))).
					To(Equal("AT+x=1,,5\r\n"))
				Expect(encode(s, protocol.Absent(), protocol.Absent(), protocol.IntValue(5))).
					To(Equal("AT+x=,,5\r\n"))
			})

			It("omits the assignment when every argument is absent", func() {
				Expect(encode(s)).To(Equal("AT+x\r\n"))
			})
		})

		Describe("text", func() {
			plain := &protocol.Schema{
				Prefix: "+t",
				Fields: []protocol.Field{{Name: "v", Kind: protocol.KindText}},
			}
			quoted := &protocol.Schema{
				Prefix: "+t",
				Quote:  true,
				Fields: []protocol.Field{{Name: "v", Kind: protocol.KindText}},
			}

			It("renders text verbatim when not quoted", func() {
				Expect(encode(plain, protocol.TextValue("home"))).To(Equal("AT+t=home\r\n"))
			})

			It("wraps quoted text", func() {
				Expect(encode(quoted, protocol.TextValue("home"))).To(Equal("AT+t=\"home\"\r\n"))
			})

			It("escapes separators in unquoted text", func() {
				Expect(encode(plain, protocol.TextValue("a,b"))).To(Equal(`AT+t=a\,b` + "\r\n"))
			})

			It("does not escape separators inside quotes", func() {
				Expect(encode(quoted, protocol.TextValue("a,b"))).To(Equal(`AT+t="a,b"` + "\r\n"))
			})

			It("escapes quotes and the escape character", func() {
				Expect(encode(quoted, protocol.TextValue(`a"b\c`))).To(Equal(`AT+t="a\"b\\c"` + "\r\n"))
			})

			It("rejects text that needs escaping when escaping is disabled", func() {
				cmd := plain.MustBuild(protocol.TextValue("a,b"))
				_, err := protocol.Codec{Escape: false}.Encode(cmd)

				var eerr *protocol.EncodingError
				Expect(errors.As(err, &eerr)).To(BeTrue())
				Expect(eerr.Field).To(Equal("v"))
				Expect(errors.Is(err, protocol.ErrUnescapable)).To(BeTrue())
			})

			It("passes backslashes through when escaping is disabled", func() {
				cmd := plain.MustBuild(protocol.TextValue(`a\b`))
				b, err := protocol.Codec{Escape: false}.Encode(cmd)
				Expect(err).To(Succeed())
				Expect(string(b)).To(Equal(`AT+t=a\b` + "\r\n"))
			})

			It("rejects line terminators", func() {
				cmd := plain.MustBuild(protocol.TextValue("a\r\nb"))
				_, err := codec.Encode(cmd)
				Expect(errors.Is(err, protocol.ErrIllegalCharacter)).To(BeTrue())
			})
		})

		It("rejects lines longer than the limit", func() {
			s := &protocol.Schema{
				Prefix: "+t",
				Fields: []protocol.Field{{Name: "v", Kind: protocol.KindText}},
			}
			cmd := s.MustBuild(protocol.TextValue(strings.Repeat("a", 20)))

			_, err := protocol.Codec{Escape: true, MaxLine: 16}.Encode(cmd)
			Expect(errors.Is(err, protocol.ErrLineTooLong)).To(BeTrue())
		})
	})

	Describe("Schema.Build()", func() {
		s := &protocol.Schema{
			Prefix: "+b",
			Fields: []protocol.Field{
				{Name: "n", Kind: protocol.KindInt, Bits: 8},
				{Name: "s", Kind: protocol.KindText, MaxLen: 4, Optional: true},
				{Name: "m", Kind: protocol.KindEnum, Enum: modes, Optional: true},
			},
		}

		It("rejects a missing required argument", func() {
			_, err := s.Build()
			Expect(errors.Is(err, protocol.ErrMissingArgument)).To(BeTrue())
		})

		It("rejects too many arguments", func() {
			_, err := s.Build(protocol.IntValue(1), protocol.Absent(), protocol.Absent(), protocol.IntValue(2))
			Expect(errors.Is(err, protocol.ErrTooManyArguments)).To(BeTrue())
		})

		It("rejects integers wider than the field", func() {
			_, err := s.Build(protocol.IntValue(256))
			Expect(errors.Is(err, protocol.ErrOutOfRange)).To(BeTrue())

			_, err = s.Build(protocol.IntValue(-1))
			Expect(errors.Is(err, protocol.ErrOutOfRange)).To(BeTrue())
		})

		It("accepts negative values on signed fields", func() {
			signed := &protocol.Schema{
				Prefix: "+b",
				Fields: []protocol.Field{{Name: "n", Kind: protocol.KindInt, Bits: 8, Signed: true}},
			}
			_, err := signed.Build(protocol.IntValue(-128))
			Expect(err).To(Succeed())

			_, err = signed.Build(protocol.IntValue(-129))
			Expect(errors.Is(err, protocol.ErrOutOfRange)).To(BeTrue())
		})

		It("rejects text over capacity instead of truncating", func() {
			_, err := s.Build(protocol.IntValue(1), protocol.TextValue("hello"))

			var eerr *protocol.EncodingError
			Expect(errors.As(err, &eerr)).To(BeTrue())
			Expect(eerr.Position).To(Equal(1))
			Expect(errors.Is(err, protocol.ErrValueTooLong)).To(BeTrue())
		})

		It("rejects enum ordinals without a token", func() {
			_, err := s.Build(protocol.IntValue(1), protocol.Absent(), protocol.EnumValue(7))
			Expect(errors.Is(err, protocol.ErrUnmappedEnum)).To(BeTrue())
		})

		It("rejects values of the wrong kind", func() {
			_, err := s.Build(protocol.TextValue("1"))
			Expect(errors.Is(err, protocol.ErrKindMismatch)).To(BeTrue())
		})

		It("rejects an empty prefix", func() {
			_, err := (&protocol.Schema{}).Build()
			Expect(errors.Is(err, protocol.ErrInvalidPrefix)).To(BeTrue())
		})

		It("panics in MustBuild on invalid values", func() {
			Expect(func() { s.MustBuild() }).To(Panic())
		})
	})

	Describe("NewEnum()", func() {
		It("panics on duplicate tokens", func() {
			Expect(func() { protocol.NewEnum("dup", "A", "A") }).To(Panic())
		})

		It("panics on empty tables", func() {
			Expect(func() { protocol.NewEnum("empty") }).To(Panic())
		})

		It("maps tokens both ways", func() {
			ordinal, ok := modes.Lookup("P2P")
			Expect(ok).To(BeTrue())
			Expect(ordinal).To(Equal(2))

			token, ok := modes.Token(0)
			Expect(ok).To(BeTrue())
			Expect(token).To(Equal("STA"))
		})
	})

	Describe("DecodeRecord()", func() {
		fields := []protocol.Field{
			{Name: "ssid", Kind: protocol.KindText},
			{Name: "bssid", Kind: protocol.KindText, Optional: true},
			{Name: "rssi", Kind: protocol.KindInt, Signed: true},
			{Name: "mode", Kind: protocol.KindEnum, Enum: modes, Optional: true},
		}

		It("decodes fields positionally", func() {
			rec, err := codec.DecodeRecord(`"my,net",,-70,AP`, fields)
			Expect(err).To(Succeed())
			Expect(rec.Get(0).Text()).To(Equal("my,net"))
			Expect(rec.Get(1).Present()).To(BeFalse())
			Expect(rec.Get(2).Int()).To(Equal(int64(-70)))
			Expect(rec.Get(3).Ordinal()).To(Equal(1))
		})

		It("accepts missing trailing optional fields", func() {
			rec, err := codec.DecodeRecord("net,aa,-1", fields)
			Expect(err).To(Succeed())
			Expect(rec).To(HaveLen(4))
			Expect(rec.Get(3).Present()).To(BeFalse())
		})

		It("unescapes text", func() {
			rec, err := codec.DecodeRecord(`a\,b,,1`, fields)
			Expect(err).To(Succeed())
			Expect(rec.Get(0).Text()).To(Equal("a,b"))
		})

		It("fails on too many fields", func() {
			_, err := codec.DecodeRecord("a,b,1,AP,extra", fields)
			Expect(errors.Is(err, protocol.ErrFieldCount)).To(BeTrue())
		})

		It("fails on a missing required field", func() {
			_, err := codec.DecodeRecord("a,b", fields)

			var derr *protocol.DecodeError
			Expect(errors.As(err, &derr)).To(BeTrue())
			Expect(derr.Field).To(Equal("rssi"))
			Expect(errors.Is(err, protocol.ErrFieldCount)).To(BeTrue())
		})

		It("fails on a type mismatch", func() {
			_, err := codec.DecodeRecord("a,b,strong", fields)
			Expect(errors.Is(err, protocol.ErrFieldType)).To(BeTrue())

			_, err = codec.DecodeRecord("a,b,1,WPA", fields)
			Expect(errors.Is(err, protocol.ErrFieldType)).To(BeTrue())
		})

		It("fails on an unterminated quote", func() {
			_, err := codec.DecodeRecord(`"open,b,1`, fields)
			Expect(errors.Is(err, protocol.ErrUnterminatedQuote)).To(BeTrue())
		})
	})

	Describe("DecodeResponse()", func() {
		single := &protocol.ResponseSchema{
			Token:  "get",
			Fields: []protocol.Field{{Name: "value", Kind: protocol.KindText}},
		}

		It("requires exactly one line for a single response", func() {
			_, err := codec.DecodeResponse(single, nil)
			Expect(errors.Is(err, protocol.ErrRecordCount)).To(BeTrue())

			_, err = codec.DecodeResponse(single, []string{"a", "b"})
			Expect(errors.Is(err, protocol.ErrRecordCount)).To(BeTrue())
		})

		It("accepts any number of lines for a repeated response", func() {
			repeated := &protocol.ResponseSchema{Token: "scan", Fields: single.Fields, Repeated: true}

			resp, err := codec.DecodeResponse(repeated, nil)
			Expect(err).To(Succeed())
			Expect(resp.Empty()).To(BeTrue())

			resp, err = codec.DecodeResponse(repeated, []string{"a", "b"})
			Expect(err).To(Succeed())
			Expect(resp.Records).To(HaveLen(2))
			Expect(resp.Records[1].Get(0).Text()).To(Equal("b"))
		})

		It("rejects data for a command without a response", func() {
			_, err := codec.DecodeResponse(nil, []string{"x"})
			Expect(errors.Is(err, protocol.ErrRecordCount)).To(BeTrue())
		})

		It("tags decode errors with the response token", func() {
			numeric := &protocol.ResponseSchema{
				Token:  "socket",
				Fields: []protocol.Field{{Name: "id", Kind: protocol.KindInt}},
			}
			_, err := codec.DecodeResponse(numeric, []string{"x"})

			var derr *protocol.DecodeError
			Expect(errors.As(err, &derr)).To(BeTrue())
			Expect(derr.Token).To(Equal("socket"))
		})
	})

	Describe("round trip", func() {
		s := &protocol.ResponseSchema{
			Token: "wlanprofileget",
			Fields: []protocol.Field{
				{Name: "ssid", Kind: protocol.KindText, MaxLen: 32},
				{Name: "bssid", Kind: protocol.KindText, Optional: true},
				{Name: "security", Kind: protocol.KindEnum, Enum: modes},
				{Name: "priority", Kind: protocol.KindInt, Bits: 8},
			},
		}

		It("decodes what it formats", func() {
			rec := protocol.Record{
				protocol.TextValue(`my "net", 5G`),
				protocol.Absent(),
				protocol.EnumValue(2),
				protocol.IntValue(7),
			}

			line, err := codec.FormatLine(s, rec)
			Expect(err).To(Succeed())
			Expect(line).To(HavePrefix("+wlanprofileget:"))

			decoded, err := codec.DecodeLine(line, s)
			Expect(err).To(Succeed())
			Expect(decoded).To(Equal(rec))
		})

		It("decodes quoted records", func() {
			quoted := *s
			quoted.Quote = true
			rec := protocol.Record{
				protocol.TextValue("a,b"),
				protocol.TextValue("00:11"),
				protocol.EnumValue(0),
				protocol.IntValue(1),
			}

			line, err := codec.FormatLine(&quoted, rec)
			Expect(err).To(Succeed())
			Expect(line).To(Equal(`+wlanprofileget:"a,b","00:11",STA,1`))

			decoded, err := codec.DecodeLine(line, &quoted)
			Expect(err).To(Succeed())
			Expect(decoded).To(Equal(rec))
		})

		It("rejects a line for another token", func() {
			_, err := codec.DecodeLine("+get:1", s)
			Expect(errors.Is(err, protocol.ErrTokenMismatch)).To(BeTrue())
		})
	})
})
