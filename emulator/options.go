package emulator

import (
	"go.uber.org/zap"

	"github.com/luma/calypso/command"
	"github.com/luma/calypso/storage"
)

const (
	DefaultPort = 6682

	// writeQueueSize bounds the lines queued for a slow client
	writeQueueSize = 127
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on. Zero picks a free port, see Server.Addr.
	Port int

	// Reuseport controls setting SO_REUSEPORT. It is required for more than
	// one listener.
	Reuseport bool

	NumListeners int

	// Store holds the module settings. An in-memory store is created, and
	// closed with the server, when nil.
	Store storage.Store

	// Networks are returned by +wlanScan and accepted by +wlanConnect. Any
	// network is accepted when empty.
	Networks []command.ScanEntry

	// Silent lists command prefixes that are never answered
	Silent []string

	Log *zap.Logger
}

func (o *Options) setDefaults() {
	if o.NumListeners < 1 {
		o.NumListeners = 1
	}
	if !o.Reuseport {
		o.NumListeners = 1
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
}
