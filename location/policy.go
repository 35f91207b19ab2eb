package location

import (
	"math"
	"time"

	"zholda/config"
	"zholda/geo"
	"zholda/models"
)

// Quality is a coarse label for the accuracy of the accepted fix.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
	QualityUnknown   Quality = "unknown"
)

// Policy is the tunable acceptance and acquisition policy of a Tracker.
type Policy struct {
	// A fix is accepted when it moved more than MinMovementMeters from the current fix,
	// or when more than Staleness passed since the last acceptance.
	MinMovementMeters float64
	Staleness         time.Duration

	PollInterval time.Duration

	Initial PositionOptions
	Watch   PositionOptions
	Poll    PositionOptions
	Force   PositionOptions

	ExcellentMeters float64
	GoodMeters      float64
	FairMeters      float64

	// Fallback is reported as the location while no fix has been accepted.
	Fallback models.Coordinate
}

// DefaultFallback is central Almaty.
var DefaultFallback = models.Coordinate{Lon: 76.889709, Lat: 43.238949}

// DefaultPolicy returns the policy used when no configuration is supplied.
func DefaultPolicy() Policy {
	return Policy{
		MinMovementMeters: 1,
		Staleness:         2 * time.Second,
		PollInterval:      time.Second,
		Initial:           PositionOptions{HighAccuracy: true, Timeout: 10 * time.Second},
		Watch:             PositionOptions{HighAccuracy: true, Timeout: 2 * time.Second},
		Poll:              PositionOptions{HighAccuracy: true, Timeout: 1500 * time.Millisecond, MaximumAge: 500 * time.Millisecond},
		Force:             PositionOptions{HighAccuracy: true, Timeout: 5 * time.Second},
		ExcellentMeters:   5,
		GoodMeters:        15,
		FairMeters:        20,
		Fallback:          DefaultFallback,
	}
}

// PolicyFromConfig builds a Policy from the tracking section of the config.
// Zero values keep the defaults.
func PolicyFromConfig(c config.TrackingConfig) Policy {
	p := DefaultPolicy()
	if c.MinMovementMeters > 0 {
		p.MinMovementMeters = c.MinMovementMeters
	}
	if c.Staleness > 0 {
		p.Staleness = c.Staleness
	}
	if c.PollInterval > 0 {
		p.PollInterval = c.PollInterval
	}
	if c.InitialTimeout > 0 {
		p.Initial.Timeout = c.InitialTimeout
	}
	if c.WatchTimeout > 0 {
		p.Watch.Timeout = c.WatchTimeout
	}
	p.Watch.MaximumAge = c.WatchMaxAge
	if c.PollTimeout > 0 {
		p.Poll.Timeout = c.PollTimeout
	}
	p.Poll.MaximumAge = c.PollMaxAge
	if c.ForceTimeout > 0 {
		p.Force.Timeout = c.ForceTimeout
	}
	if c.ExcellentMeters > 0 {
		p.ExcellentMeters = c.ExcellentMeters
	}
	if c.GoodMeters > 0 {
		p.GoodMeters = c.GoodMeters
	}
	if c.FairMeters > 0 {
		p.FairMeters = c.FairMeters
	}
	fallback := models.Coordinate{Lon: c.FallbackLon, Lat: c.FallbackLat}
	if (fallback != models.Coordinate{}) && fallback.Valid() {
		p.Fallback = fallback
	}
	return p
}

// QualityOf labels an accuracy radius in meters.
func (p Policy) QualityOf(accuracy float64) Quality {
	switch {
	case math.IsInf(accuracy, 1) || math.IsNaN(accuracy):
		return QualityUnknown
	case accuracy < p.ExcellentMeters:
		return QualityExcellent
	case accuracy < p.GoodMeters:
		return QualityGood
	case accuracy < p.FairMeters:
		return QualityFair
	default:
		return QualityPoor
	}
}

// decision is the outcome of evaluating one fix against the current state.
type decision struct {
	accept  bool
	moved   float64 // meters
	elapsed time.Duration
	reason  string
}

// evaluate applies the acceptance rule. current is nil when no fix was accepted yet.
func (p Policy) evaluate(current *models.PositionFix, best float64, lastAccepted time.Time, fix models.PositionFix, now time.Time) decision {
	if current == nil {
		return decision{accept: true, reason: "first"}
	}

	d := decision{
		moved:   geo.DistanceMeters(current.Coordinate(), fix.Coordinate()),
		elapsed: now.Sub(lastAccepted),
	}
	switch {
	case fix.AccuracyMeters < best:
		d.accept, d.reason = true, "accuracy"
	case d.moved > p.MinMovementMeters:
		d.accept, d.reason = true, "movement"
	case d.elapsed > p.Staleness:
		d.accept, d.reason = true, "stale"
	}
	return d
}
