package emulator_test

import (
	"bufio"
	"context"
	"errors"
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/calypso/calypso"
	"github.com/luma/calypso/client"
	"github.com/luma/calypso/command"
	"github.com/luma/calypso/emulator"
	"github.com/luma/calypso/protocol"
	"github.com/luma/calypso/transport"
)

func startServer(opts emulator.Options) (*emulator.Server, string) {
	opts.Host = "127.0.0.1"

	server, err := emulator.New(opts)
	ExpectWithOffset(1, err).To(Succeed())
	ExpectWithOffset(1, server.Start(context.Background())).To(Succeed())

	addr, err := server.Addr()
	ExpectWithOffset(1, err).To(Succeed())
	return server, addr
}

var _ = Describe("emulator / Server", func() {
	var (
		ctx    context.Context
		server *emulator.Server
		addr   string
	)

	BeforeEach(func() {
		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(server.Close()).To(Succeed())
	})

	Describe("raw connections", func() {
		var (
			conn   net.Conn
			reader *bufio.Reader
		)

		readLine := func() string {
			conn.SetReadDeadline(time.Now().Add(time.Second))
			line, err := reader.ReadString('\n')
			ExpectWithOffset(1, err).To(Succeed())
			return line
		}

		BeforeEach(func() {
			server, addr = startServer(emulator.Options{})

			var err error
			conn, err = net.Dial("tcp", addr)
			Expect(err).To(Succeed())
			reader = bufio.NewReader(conn)
		})

		AfterEach(func() {
			conn.Close()
		})

		It("answers command lines", func() {
			_, err := conn.Write([]byte("AT+test\r\n"))
			Expect(err).To(Succeed())
			Expect(readLine()).To(Equal("OK\r\n"))
		})

		It("rejects lines without the command marker", func() {
			_, err := conn.Write([]byte("hello\r\n"))
			Expect(err).To(Succeed())
			Expect(readLine()).To(HavePrefix("+error:"))
		})

		It("broadcasts setting changes to every session", func() {
			other, err := net.Dial("tcp", addr)
			Expect(err).To(Succeed())
			defer other.Close()

			// the second session is registered once it has been answered
			_, err = other.Write([]byte("AT+test\r\n"))
			Expect(err).To(Succeed())
			otherReader := bufio.NewReader(other)
			other.SetReadDeadline(time.Now().Add(time.Second))
			Expect(otherReader.ReadString('\n')).To(Equal("OK\r\n"))

			_, err = conn.Write([]byte(`AT+set="wlan","hostname","lab"` + "\r\n"))
			Expect(err).To(Succeed())

			Expect(otherReader.ReadString('\n')).To(Equal("+eventcustom:settings.wlan.hostname,lab\r\n"))
		})

		It("ends sessions when the server closes", func() {
			Expect(server.Close()).To(Succeed())

			conn.SetReadDeadline(time.Now().Add(time.Second))
			_, err := reader.ReadString('\n')
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("with a device", func() {
		var dev *calypso.Device

		open := func(opts emulator.Options) {
			server, addr = startServer(opts)

			var err error
			dev, err = calypso.Open(ctx, transport.TCPDialer{Addr: addr, Timeout: time.Second}, calypso.Options{})
			Expect(err).To(Succeed())
		}

		AfterEach(func() {
			Expect(dev.Close()).To(Succeed())
		})

		It("round trips device commands", func() {
			open(emulator.Options{Networks: networks})

			Expect(dev.Test(ctx)).To(Succeed())
			Expect(dev.Restart(ctx, 100*time.Millisecond)).To(Succeed())

			version, err := dev.Get(ctx, "general", "version")
			Expect(err).To(Succeed())
			Expect(version).To(Equal(emulator.Version))

			entries, err := dev.WlanScan(ctx, 0, 10)
			Expect(err).To(Succeed())
			Expect(entries).To(Equal(networks))

			id, err := dev.Socket(ctx, command.FamilyInet, command.SocketStream, command.ProtocolTCP)
			Expect(err).To(Succeed())
			Expect(dev.Bind(ctx, uint8(id), command.FamilyInet, 80, "0.0.0.0")).To(Succeed())
			Expect(dev.CloseSocket(ctx, uint8(id))).To(Succeed())

			pwm := command.GpioPWMConfig(500, 75)
			Expect(dev.GpioSet(ctx, 3, pwm)).To(Succeed())
			Expect(dev.GpioGet(ctx, 3)).To(Equal(pwm))
			Expect(dev.GpioGetDefault(ctx, 3)).To(Equal(command.GpioUnusedConfig()))

			Expect(dev.Stats().Noise).To(BeZero())
		})

		It("delivers events triggered by commands", func() {
			open(emulator.Options{Networks: networks})

			sub, err := dev.Subscribe()
			Expect(err).To(Succeed())
			defer sub.Close()

			Expect(dev.WlanConnect(ctx, command.Credentials{
				SSID: "home", Security: command.SecurityWPAWPA2, Key: "secret",
			})).To(Succeed())

			var ev protocol.Event
			Eventually(sub.Events()).Should(Receive(&ev))
			Expect(ev.Kind).To(Equal(protocol.EventWlan))
			Expect(ev.Args).To(Equal([]string{"connect", "home", "00:11:22:33:44:55"}))
		})

		It("reports module errors", func() {
			open(emulator.Options{Networks: networks})

			err := dev.WlanConnect(ctx, command.Credentials{SSID: "nowhere"})

			var merr *protocol.ModuleError
			Expect(errors.As(err, &merr)).To(BeTrue())
			Expect(merr.Code).To(Equal(emulator.CodeNotFound))
		})

		It("times out on silent commands and recovers", func() {
			open(emulator.Options{Silent: []string{"+powersave"}})

			err := dev.PowerSave(ctx)
			Expect(errors.Is(err, client.ErrTimeout)).To(BeTrue())

			Expect(dev.Test(ctx)).To(Succeed())
			Expect(dev.Stats().Timeouts).To(BeNumerically("==", 1))
		})
	})

	Describe("listeners", func() {
		It("shares one port across reuseport listeners", func() {
			server, addr = startServer(emulator.Options{Reuseport: true, NumListeners: 2})

			for i := 0; i < 4; i++ {
				conn, err := net.Dial("tcp", addr)
				Expect(err).To(Succeed())
				conn.Close()
			}
		})

		It("reports the address only once started", func() {
			var err error
			server, err = emulator.New(emulator.Options{})
			Expect(err).To(Succeed())

			_, err = server.Addr()
			Expect(errors.Is(err, emulator.ErrNotStarted)).To(BeTrue())
		})
	})
})
