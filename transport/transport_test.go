package transport_test

import (
	"context"
	"errors"
	"net"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.bug.st/serial"
	"go.uber.org/mock/gomock"

	"github.com/luma/calypso/transport"
)

var _ = Describe("transport", func() {
	Describe("SerialDialer", func() {
		It("requires a port name", func() {
			dialer := transport.SerialDialer{}

			t, err := dialer.Dial(context.Background())
			Expect(t).To(BeNil())
			Expect(err).To(MatchError("transport: serial port name is required"))
		})

		It("returns the context error when already cancelled", func() {
			dialer := transport.SerialDialer{PortName: "/dev/nonexistent"}

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			t, err := dialer.Dial(ctx)
			Expect(t).To(BeNil())
			Expect(err).To(Equal(context.Canceled))
		})

		It("fails to open a port that does not exist", func() {
			dialer := transport.SerialDialer{
				PortName: "/dev/nonexistent",
				Mode: &serial.Mode{
					BaudRate: 115200,
					Parity:   serial.NoParity,
					DataBits: 8,
					StopBits: serial.OneStopBit,
				},
			}

			t, err := dialer.Dial(context.Background())
			Expect(t).To(BeNil())
			Expect(err).To(MatchError(ContainSubstring("/dev/nonexistent")))
		})

		It("defaults to 921600 8E1", func() {
			mode := transport.DefaultMode()
			Expect(mode.BaudRate).To(Equal(921600))
			Expect(mode.DataBits).To(Equal(8))
			Expect(mode.Parity).To(Equal(serial.EvenParity))
			Expect(mode.StopBits).To(Equal(serial.OneStopBit))
		})
	})

	Describe("TCPDialer", func() {
		It("requires an address", func() {
			_, err := transport.TCPDialer{}.Dial(context.Background())
			Expect(errors.Is(err, transport.ErrAddrRequired)).To(BeTrue())
		})

		It("connects to a listening socket", func() {
			listener, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).To(Succeed())
			defer listener.Close()

			go func() {
				conn, err := listener.Accept()
				if err == nil {
					conn.Write([]byte("OK\r\n"))
					conn.Close()
				}
			}()

			t, err := transport.TCPDialer{Addr: listener.Addr().String()}.Dial(context.Background())
			Expect(err).To(Succeed())
			defer t.Close()

			buf := make([]byte, 4)
			n, err := t.Read(buf)
			Expect(err).To(Succeed())
			Expect(string(buf[:n])).To(Equal("OK\r\n"))
		})
	})

	Describe("mocks", func() {
		It("implement the interfaces", func() {
			ctrl := gomock.NewController(GinkgoT())
			defer ctrl.Finish()

			mockDialer := transport.NewMockDialer(ctrl)
			mockTransport := transport.NewMockTransport(ctrl)

			var _ transport.Dialer = mockDialer
			var _ transport.Transport = mockTransport

			ctx := context.Background()
			mockDialer.EXPECT().Dial(ctx).Return(mockTransport, nil)
			mockTransport.EXPECT().Write([]byte("AT+test\r\n")).Return(9, nil)
			mockTransport.EXPECT().Close().Return(nil)

			t, err := mockDialer.Dial(ctx)
			Expect(err).To(Succeed())

			n, err := t.Write([]byte("AT+test\r\n"))
			Expect(err).To(Succeed())
			Expect(n).To(Equal(9))
			Expect(t.Close()).To(Succeed())
		})
	})
})
