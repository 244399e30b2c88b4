// Package channel provides the in-process transport backed by Watermill's
// gochannel pub/sub. It is the default when no broker is configured.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/kemock/kem/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// Alias is accepted as a synonym for TransportName.
const Alias = "gochannel"

// OutputChannelBuffer sizes the per-subscriber buffer so producers do not
// block on slow dispatch.
const OutputChannelBuffer = 256

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

// Register adds the transport and its alias to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
	transport.Alias(Alias, TransportName)
}

func init() {
	Register()
}

// Build creates a new Go channel transport. All producers share the single
// in-process publisher, and there are no topics to create.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{OutputChannelBuffer: OutputChannelBuffer}, logger)
	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
