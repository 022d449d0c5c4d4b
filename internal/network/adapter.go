package network

import "context"

// Feeder accepts raw datagram payloads. The engine session implements it.
type Feeder interface {
	FeedPacket(payload []byte)
}

// Adapter is an alternate packet source (serial line, capture replay) that
// pushes payloads into a Feeder until ctx is cancelled or the source ends.
type Adapter interface {
	Name() string
	Run(ctx context.Context, feed Feeder) error
}

// FeederFunc adapts a function to the Feeder interface.
type FeederFunc func(payload []byte)

func (f FeederFunc) FeedPacket(payload []byte) { f(payload) }
