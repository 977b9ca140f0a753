package medium

import (
	"context"
	"fmt"

	"github.com/ghjm/lowpan/pkg/config"
	"github.com/ghjm/lowpan/pkg/mac"
	"github.com/ghjm/lowpan/pkg/x/syncro"
)

// NewFunc creates a medium from configuration parameters.  The medium lives until ctx is cancelled.
type NewFunc func(ctx context.Context, params config.Params) (mac.Medium, error)

var mediumMap = syncro.NewMap(map[string]NewFunc{
	"channel": NewChannelFromConfig,
	"udp":     NewUDPFromConfig,
})

// subscriberBuffer is the number of frames a medium queues for each receiver
const subscriberBuffer = 16

var ErrUnknownMedium = fmt.Errorf("unknown medium")

// New creates a medium of the named type
func New(ctx context.Context, mediumType string, params config.Params) (mac.Medium, error) {
	f, ok := mediumMap.Get(mediumType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMedium, mediumType)
	}
	return f(ctx, params)
}
