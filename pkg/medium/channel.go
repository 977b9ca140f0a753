package medium

import (
	"context"

	"github.com/ghjm/lowpan/pkg/config"
	"github.com/ghjm/lowpan/pkg/mac"
	"github.com/ghjm/lowpan/pkg/x/broker"
	"github.com/ghjm/lowpan/pkg/x/syncro"
)

// Channel is an in-process radio channel.  Every transmitted frame is delivered to every subscriber,
// including the transmitter's own subscriptions.
type Channel struct {
	frameBroker broker.Broker[[]byte]
}

// NewChannel creates a channel which operates until ctx is cancelled
func NewChannel(ctx context.Context) *Channel {
	return &Channel{
		frameBroker: broker.New[[]byte](ctx, broker.WithSubscriberBuffer(subscriberBuffer)),
	}
}

func (c *Channel) Transmit(frame []byte) error {
	c.frameBroker.Publish(append([]byte(nil), frame...))
	return nil
}

func (c *Channel) SubscribeFrames() <-chan []byte {
	return c.frameBroker.Subscribe()
}

func (c *Channel) UnsubscribeFrames(ch <-chan []byte) {
	c.frameBroker.Unsubscribe(ch)
}

// sharedChannels holds the named channels of this process, so nodes started separately in one process can
// share a medium
var sharedChannels syncro.Map[string, *Channel]

// NewChannelFromConfig returns the process-wide channel named by the "name" parameter, creating it if needed.
// A channel created this way lives until the context of its creator is cancelled.
func NewChannelFromConfig(ctx context.Context, params config.Params) (mac.Medium, error) {
	name := params.GetString("name", "default")
	c, created := sharedChannels.GetOrCreate(name, func() *Channel {
		return NewChannel(ctx)
	})
	if created {
		go func() {
			<-ctx.Done()
			sharedChannels.Delete(name)
		}()
	}
	return c, nil
}
