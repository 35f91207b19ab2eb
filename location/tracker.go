// Package location turns a noisy device position feed into a rate-limited stream of
// accepted fixes.
//
// A Tracker runs two acquisition loops once permission is granted: a watch subscription
// and a fixed-cadence poll. Both feed ProcessUpdate, which keeps a fix only when it is the
// first one, is more accurate than the best seen so far, moved far enough, or the current
// fix went stale. Accepted fixes are handed to a Publisher, usually the map adapter.
package location

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"zholda/metrics"
	"zholda/models"
)

// Fix sources.
const (
	SourceInitial = "initial"
	SourceWatch   = "watch"
	SourcePoll    = "interval"
	SourceForced  = "forced"
	SourceManual  = "manual"
)

// movingWindow is how recent an acceptance must be for IsMoving to report true.
const movingWindow = 5 * time.Second

// Snapshot is a read-only view of the tracking state.
type Snapshot struct {
	HasPermission   bool                `json:"has_permission"`
	IsTracking      bool                `json:"is_tracking"`
	Fix             *models.PositionFix `json:"fix,omitempty"`
	Location        models.Coordinate   `json:"location"`
	BestAccuracy    float64             `json:"-"` // +Inf until the first fix
	LastAcceptedAt  time.Time           `json:"last_accepted_at"`
	AcceptedUpdates int64               `json:"accepted_updates"`
	Quality         Quality             `json:"quality"`
}

// Tracker owns the tracking state of one app surface.
type Tracker struct {
	geo Geolocator
	pub Publisher
	log *zap.Logger
	now func() time.Time

	mu           sync.Mutex
	policy       Policy
	permission   bool
	tracking     bool
	fix          *models.PositionFix
	bestAccuracy float64
	lastAccepted time.Time
	accepted     int64
	cancel       context.CancelFunc
	done         chan struct{}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithPublisher sets the hook invoked for every accepted fix. The hook runs while the
// tracker lock is held and must not call back into the Tracker.
func WithPublisher(p Publisher) Option {
	return func(t *Tracker) { t.pub = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

func WithPolicy(p Policy) Option {
	return func(t *Tracker) { t.policy = p }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a Tracker over geo. A nil geo means the platform has no location support.
func New(geo Geolocator, opts ...Option) *Tracker {
	t := &Tracker{
		geo:          geo,
		log:          zap.NewNop(),
		now:          time.Now,
		policy:       DefaultPolicy(),
		bestAccuracy: math.Inf(1),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetPolicy swaps the acceptance policy. Running loops pick up the new timeouts on their
// next request; a changed poll interval applies after the next restart.
func (t *Tracker) SetPolicy(p Policy) {
	t.mu.Lock()
	t.policy = p
	t.mu.Unlock()
}

// RequestPermission performs the initial high-accuracy request. On success the fix becomes
// the initial state and tracking starts under ctx. On failure it returns a *PermissionError
// and Location keeps reporting the fallback coordinate.
func (t *Tracker) RequestPermission(ctx context.Context) (models.PositionFix, error) {
	if t.geo == nil {
		t.log.Warn("geolocation not supported, using fallback location")
		return models.PositionFix{}, &PermissionError{Reason: ReasonUnsupported, Err: ErrUnsupported}
	}

	t.mu.Lock()
	opts := t.policy.Initial
	t.mu.Unlock()

	fix, err := t.acquire(ctx, opts)
	if err != nil {
		reason := Classify(err)
		t.mu.Lock()
		t.permission = false
		t.mu.Unlock()
		t.log.Warn("location permission failed, using fallback location",
			zap.String("reason", string(reason)), zap.Error(err))
		return models.PositionFix{}, &PermissionError{Reason: reason, Err: err}
	}

	t.mu.Lock()
	t.permission = true
	t.acceptLocked(fix, SourceInitial, t.now(), decision{accept: true, reason: "first"})
	t.mu.Unlock()

	t.log.Info("location permission granted",
		zap.Float64("lat", fix.Latitude), zap.Float64("lon", fix.Longitude),
		zap.Float64("accuracy", fix.AccuracyMeters))

	t.StartTracking(ctx)
	return fix, nil
}

// StartTracking starts the watch and poll loops. It is a no-op when tracking is already
// running or permission was not granted.
func (t *Tracker) StartTracking(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tracking || !t.permission || t.geo == nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	t.tracking = true
	interval := t.policy.PollInterval

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		t.watchLoop(loopCtx)
	}()
	go func() {
		defer wg.Done()
		t.pollLoop(loopCtx, interval)
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	t.log.Info("location tracking started", zap.Duration("poll_interval", interval))
}

// StopTracking cancels both loops and waits for them to exit. Safe to call repeatedly.
func (t *Tracker) StopTracking() {
	t.mu.Lock()
	if !t.tracking {
		t.mu.Unlock()
		return
	}
	cancel, done := t.cancel, t.done
	t.tracking = false
	t.cancel = nil
	t.done = nil
	t.mu.Unlock()

	cancel()
	<-done
	t.log.Info("location tracking stopped")
}

// ProcessUpdate runs the acceptance rule on fix and reports whether it was accepted.
// A rejected fix leaves the state untouched and publishes nothing.
func (t *Tracker) ProcessUpdate(fix models.PositionFix, source string) bool {
	if err := fix.Validate(); err != nil {
		metrics.FixesRejected.WithLabelValues(source).Inc()
		t.log.Debug("invalid fix discarded", zap.String("source", source), zap.Error(err))
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	d := t.policy.evaluate(t.fix, t.bestAccuracy, t.lastAccepted, fix, now)
	if !d.accept {
		metrics.FixesRejected.WithLabelValues(source).Inc()
		t.log.Debug("fix skipped",
			zap.String("source", source),
			zap.Float64("moved_m", d.moved),
			zap.Float64("accuracy", fix.AccuracyMeters),
			zap.Float64("best_accuracy", t.bestAccuracy),
			zap.Duration("since_last", d.elapsed))
		return false
	}

	t.acceptLocked(fix, source, now, d)
	return true
}

func (t *Tracker) acceptLocked(fix models.PositionFix, source string, now time.Time, d decision) {
	f := fix
	t.fix = &f
	t.bestAccuracy = fix.AccuracyMeters
	t.lastAccepted = now
	t.accepted++

	metrics.FixesAccepted.WithLabelValues(source).Inc()
	t.log.Debug("fix accepted",
		zap.String("source", source),
		zap.String("reason", d.reason),
		zap.Int64("update", t.accepted),
		zap.Float64("lat", fix.Latitude),
		zap.Float64("lon", fix.Longitude),
		zap.Float64("accuracy", fix.AccuracyMeters),
		zap.Float64("moved_m", d.moved))

	if t.pub != nil {
		t.pub.PublishFix(f)
	}
}

// ForceUpdate requests one immediate high-accuracy fix and runs it through ProcessUpdate.
// A nil error means a fix was acquired, whether or not it was accepted.
func (t *Tracker) ForceUpdate(ctx context.Context) error {
	t.mu.Lock()
	perm, opts := t.permission, t.policy.Force
	t.mu.Unlock()
	if !perm {
		return ErrNoPermission
	}

	fix, err := t.acquire(ctx, opts)
	if err != nil {
		metrics.FixErrors.WithLabelValues(SourceForced).Inc()
		t.log.Warn("forced location update failed", zap.Error(err))
		return err
	}
	t.ProcessUpdate(fix, SourceForced)
	return nil
}

// SetLocation overrides the current position by hand and republishes it. Accuracy and
// counters are left as they are.
func (t *Tracker) SetLocation(c models.Coordinate) error {
	if !c.Valid() {
		return models.ErrInvalidCoordinate
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	f := models.PositionFix{Longitude: c.Lon, Latitude: c.Lat, CapturedAt: t.now().UnixMilli()}
	if t.fix != nil {
		f.AccuracyMeters = t.fix.AccuracyMeters
	}
	t.fix = &f
	t.log.Info("location set manually", zap.Float64("lat", c.Lat), zap.Float64("lon", c.Lon))
	if t.pub != nil {
		t.pub.PublishFix(f)
	}
	return nil
}

// SetVisible pauses tracking when the app goes to the background and restarts it when it
// comes back. In-flight requests are cancelled, not suspended.
func (t *Tracker) SetVisible(ctx context.Context, visible bool) {
	t.mu.Lock()
	perm, tracking := t.permission, t.tracking
	t.mu.Unlock()

	switch {
	case !visible && tracking:
		t.log.Info("app hidden, pausing location tracking")
		t.StopTracking()
	case visible && perm && !tracking:
		t.log.Info("app visible, resuming location tracking")
		t.StartTracking(ctx)
	}
}

// Status returns a snapshot of the tracking state.
func (t *Tracker) Status() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		HasPermission:   t.permission,
		IsTracking:      t.tracking,
		Location:        t.policy.Fallback,
		BestAccuracy:    t.bestAccuracy,
		LastAcceptedAt:  t.lastAccepted,
		AcceptedUpdates: t.accepted,
		Quality:         t.policy.QualityOf(t.bestAccuracy),
	}
	if t.fix != nil {
		f := *t.fix
		s.Fix = &f
		s.Location = f.Coordinate()
	}
	return s
}

// Location returns the accepted position, or the fallback coordinate when there is none.
func (t *Tracker) Location() models.Coordinate {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fix == nil {
		return t.policy.Fallback
	}
	return t.fix.Coordinate()
}

// IsMoving reports whether a fix was accepted recently while tracking.
func (t *Tracker) IsMoving() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tracking && t.permission && t.now().Sub(t.lastAccepted) < movingWindow
}

// Close stops tracking and clears all state.
func (t *Tracker) Close() {
	t.StopTracking()
	t.mu.Lock()
	t.permission = false
	t.fix = nil
	t.bestAccuracy = math.Inf(1)
	t.lastAccepted = time.Time{}
	t.accepted = 0
	t.mu.Unlock()
}

func (t *Tracker) acquire(ctx context.Context, opts PositionOptions) (models.PositionFix, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	fix, err := t.geo.CurrentPosition(ctx, opts)
	if err != nil {
		return models.PositionFix{}, err
	}
	if err := fix.Validate(); err != nil {
		return models.PositionFix{}, ErrPositionUnavailable
	}
	return fix, nil
}

func (t *Tracker) watchLoop(ctx context.Context) {
	for {
		t.mu.Lock()
		opts, retry := t.policy.Watch, t.policy.PollInterval
		t.mu.Unlock()

		readings, err := t.geo.Watch(ctx, opts)
		if err != nil {
			metrics.FixErrors.WithLabelValues(SourceWatch).Inc()
			t.log.Warn("watch subscription failed", zap.Error(err))
		} else {
			t.drain(ctx, readings)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

func (t *Tracker) drain(ctx context.Context, readings <-chan Reading) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-readings:
			if !ok {
				return
			}
			if r.Err != nil {
				metrics.FixErrors.WithLabelValues(SourceWatch).Inc()
				t.log.Warn("watch position error", zap.Error(r.Err))
				continue
			}
			t.ProcessUpdate(r.Fix, SourceWatch)
		}
	}
}

func (t *Tracker) pollLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		t.mu.Lock()
		perm, opts := t.permission, t.policy.Poll
		t.mu.Unlock()
		if !perm {
			continue
		}

		fix, err := t.acquire(ctx, opts)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.FixErrors.WithLabelValues(SourcePoll).Inc()
			t.log.Warn("interval location update failed", zap.Error(err))
			continue
		}
		t.ProcessUpdate(fix, SourcePoll)
	}
}
