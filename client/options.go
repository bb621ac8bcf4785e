package client

import (
	"time"

	"go.uber.org/zap"

	"github.com/luma/calypso/events"
	"github.com/luma/calypso/protocol"
)

const (
	DefaultIngressBufferSize = 1024
	DefaultTimeout           = time.Second
)

type Options struct {
	// Codec encodes commands and decodes data lines. protocol.DefaultCodec
	// is used when nil.
	Codec *protocol.Codec

	// IngressBufferSize bounds a single received line in bytes
	IngressBufferSize int

	URCCapacity     int
	URCSubscribers  int
	URCPolicy       events.Policy
	URCBlockTimeout time.Duration

	// DefaultTimeout applies to commands that do not declare their own
	DefaultTimeout time.Duration

	Log *zap.Logger
}

func (o *Options) setDefaults() {
	if o.Codec == nil {
		codec := protocol.DefaultCodec
		o.Codec = &codec
	}
	if o.IngressBufferSize <= 0 {
		o.IngressBufferSize = DefaultIngressBufferSize
	}
	if o.URCCapacity <= 0 {
		o.URCCapacity = events.DefaultCapacity
	}
	if o.URCSubscribers <= 0 {
		o.URCSubscribers = events.DefaultMaxSubscribers
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = DefaultTimeout
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
}
