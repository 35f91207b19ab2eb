package location

import (
	"context"
	"time"

	"zholda/models"
)

// PositionOptions tune a single fix request.
type PositionOptions struct {
	HighAccuracy bool          `json:"enableHighAccuracy"`
	Timeout      time.Duration `json:"-"`
	MaximumAge   time.Duration `json:"-"` // 0 rejects cached fixes
}

// Reading is one element of a watch stream: a fix or a per-fix failure.
type Reading struct {
	Fix models.PositionFix
	Err error
}

// Geolocator is the device location capability.
type Geolocator interface {
	// CurrentPosition requests one fix. Implementations must honour ctx cancellation.
	CurrentPosition(ctx context.Context, opts PositionOptions) (models.PositionFix, error)

	// Watch subscribes to fixes as the device produces them. The channel is closed
	// once ctx is done or the subscription ends.
	Watch(ctx context.Context, opts PositionOptions) (<-chan Reading, error)
}

// Publisher receives every accepted fix.
type Publisher interface {
	PublishFix(fix models.PositionFix)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(models.PositionFix)

func (f PublisherFunc) PublishFix(fix models.PositionFix) { f(fix) }
