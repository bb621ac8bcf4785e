package client

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/calypso/protocol"
)

var _ = Describe("client / Ingress internals", func() {
	var (
		ingress *Ingress
		conn    *Conn
	)

	BeforeEach(func() {
		ingress, conn = Split(strings.NewReader(""), io.Discard, Options{IngressBufferSize: 16})
	})

	It("times out an exchange whose terminator arrives after the deadline", func() {
		cmd := (&protocol.Schema{Prefix: "+test", Timeout: time.Second}).MustBuild()

		done := make(chan error, 1)
		go func() {
			_, err := conn.Send(context.Background(), cmd)
			done <- err
		}()
		Eventually(conn.State).Should(Equal(Awaiting))

		conn.mu.Lock()
		conn.now = func() time.Time { return time.Now().Add(time.Hour) }
		conn.mu.Unlock()

		ingress.feed([]byte("OK\r\n"))

		var err error
		Eventually(done).Should(Receive(&err))
		Expect(errors.Is(err, ErrTimeout)).To(BeTrue())

		stats := conn.Stats()
		Expect(stats.Lines).To(Equal(uint64(1)))
		Expect(stats.Noise).To(Equal(uint64(1)))
		Expect(stats.Timeouts).To(Equal(uint64(1)))
		Expect(conn.State()).To(Equal(Idle))
	})

	It("reports exactly one overflow for a line split over many reads", func() {
		for n := 0; n < 5; n++ {
			ingress.feed([]byte("0123456789"))
		}
		Expect(conn.Stats().Overflows).To(Equal(uint64(1)))

		ingress.feed([]byte("tail\r\nOK"))
		ingress.feed([]byte("\r\n"))

		stats := conn.Stats()
		Expect(stats.Overflows).To(Equal(uint64(1)))
		Expect(stats.Lines).To(Equal(uint64(1)))
		Expect(stats.Noise).To(Equal(uint64(1)))
	})

	It("reassembles lines split across reads", func() {
		sub, err := conn.Subscribe()
		Expect(err).To(Succeed())

		ingress.feed([]byte("+event"))
		ingress.feed([]byte("mqtt:u"))
		ingress.feed([]byte("p\r\n"))

		var ev protocol.Event
		Expect(sub.Events()).To(Receive(&ev))
		Expect(ev.Kind).To(Equal(protocol.EventMqtt))
		Expect(ev.Args).To(Equal([]string{"up"}))
	})

	It("accepts a line that exactly fills the buffer", func() {
		ingress.feed([]byte(strings.Repeat("a", 16) + "\n"))

		Expect(conn.Stats().Overflows).To(BeZero())
		Expect(conn.Stats().Noise).To(Equal(uint64(1)))
	})

	It("does not count the terminator CR against the buffer", func() {
		ingress.feed([]byte(strings.Repeat("a", 16) + "\r\n"))
		ingress.feed([]byte(strings.Repeat("b", 16) + "\r"))
		ingress.feed([]byte("\n"))

		Expect(conn.Stats().Overflows).To(BeZero())
		Expect(conn.Stats().Noise).To(Equal(uint64(2)))
	})

	It("still overflows one byte past the buffer with CR LF", func() {
		ingress.feed([]byte(strings.Repeat("a", 17) + "\r\n"))

		Expect(conn.Stats().Overflows).To(Equal(uint64(1)))
		Expect(conn.Stats().Noise).To(BeZero())
	})

	It("counts a CR inside the line as content", func() {
		ingress.feed([]byte(strings.Repeat("a", 16) + "\r"))
		ingress.feed([]byte("a\r\n"))

		Expect(conn.Stats().Overflows).To(Equal(uint64(1)))
	})

	It("only consumes data lines carrying the expected token", func() {
		cmd := (&protocol.Schema{
			Prefix:   "+get",
			Timeout:  time.Second,
			Response: &protocol.ResponseSchema{Token: "get", Fields: []protocol.Field{{Name: "v", Kind: protocol.KindInt}}},
		}).MustBuild()

		_, err := conn.begin(cmd, time.Second)
		Expect(err).To(Succeed())

		Expect(conn.offer("+get:1")).To(BeTrue())
		Expect(conn.offer("+getx:1")).To(BeFalse())
		Expect(conn.offer("+eventgeneral:1")).To(BeFalse())
		Expect(conn.offer("banner")).To(BeFalse())
		Expect(conn.offer("OK")).To(BeTrue())
		Expect(conn.offer("OK")).To(BeFalse())
	})
})
