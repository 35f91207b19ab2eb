package device

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"zholda/geo"
	"zholda/location"
	"zholda/models"
)

const (
	circleRadiusDegrees = 0.0005 // about 50m
	noiseDegrees        = 0.0001
	angleStep           = 0.2
)

// Simulator fakes a moving device. Without a path it circles the base coordinate;
// with one it drives along it at a constant speed and stops at the end.
type Simulator struct {
	base     models.Coordinate
	path     orb.LineString
	speed    float64 // m/s along path
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	rnd  *rand.Rand
	step int
}

// SimOption configures a Simulator.
type SimOption func(*Simulator)

// WithPath makes the simulator follow path, e.g. a routed line.
func WithPath(path orb.LineString, speedMps float64) SimOption {
	return func(s *Simulator) {
		s.path = path
		s.speed = speedMps
	}
}

// WithInterval sets the watch cadence.
func WithInterval(d time.Duration) SimOption {
	return func(s *Simulator) { s.interval = d }
}

// WithSeed makes the noise reproducible.
func WithSeed(seed int64) SimOption {
	return func(s *Simulator) { s.rnd = rand.New(rand.NewSource(seed)) }
}

// NewSimulator creates a simulator around base.
func NewSimulator(base models.Coordinate, opts ...SimOption) *Simulator {
	s := &Simulator{
		base:     base,
		speed:    10,
		interval: time.Second,
		now:      time.Now,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CurrentPosition returns the next simulated fix.
func (s *Simulator) CurrentPosition(ctx context.Context, _ location.PositionOptions) (models.PositionFix, error) {
	if err := ctx.Err(); err != nil {
		return models.PositionFix{}, err
	}
	return s.next(), nil
}

// Watch emits a simulated fix every interval until ctx is done.
func (s *Simulator) Watch(ctx context.Context, _ location.PositionOptions) (<-chan location.Reading, error) {
	ch := make(chan location.Reading, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case ch <- location.Reading{Fix: s.next()}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func (s *Simulator) next() models.PositionFix {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step++

	var c models.Coordinate
	var heading float64
	if len(s.path) >= 2 {
		c, heading = s.alongPath(float64(s.step) * s.speed * s.interval.Seconds())
	} else {
		angle := math.Mod(float64(s.step)*angleStep, 2*math.Pi)
		c = models.Coordinate{
			Lon: s.base.Lon + math.Cos(angle)*circleRadiusDegrees,
			Lat: s.base.Lat + math.Sin(angle)*circleRadiusDegrees,
		}
		heading = angle * 180 / math.Pi
	}
	noise := (s.rnd.Float64() - 0.5) * noiseDegrees
	c.Lon += noise
	c.Lat += noise

	speed := 2 + s.rnd.Float64()*3
	return models.PositionFix{
		Longitude:      c.Lon,
		Latitude:       c.Lat,
		AccuracyMeters: 5 + s.rnd.Float64()*10,
		CapturedAt:     s.now().UnixMilli(),
		Speed:          &speed,
		Heading:        &heading,
	}
}

// alongPath returns the point dist meters from the path start and the bearing of the
// segment it lies on.
func (s *Simulator) alongPath(dist float64) (models.Coordinate, float64) {
	for i := 1; i < len(s.path); i++ {
		a, b := models.FromPoint(s.path[i-1]), models.FromPoint(s.path[i])
		seg := geo.DistanceMeters(a, b)
		if dist <= seg && seg > 0 {
			f := dist / seg
			return models.Coordinate{
				Lon: a.Lon + (b.Lon-a.Lon)*f,
				Lat: a.Lat + (b.Lat-a.Lat)*f,
			}, bearing(a, b)
		}
		dist -= seg
	}
	n := len(s.path)
	return models.FromPoint(s.path[n-1]), bearing(models.FromPoint(s.path[n-2]), models.FromPoint(s.path[n-1]))
}

func bearing(a, b models.Coordinate) float64 {
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return math.Mod(math.Atan2(y, x)*180/math.Pi+360, 360)
}
