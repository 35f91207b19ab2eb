package mapview

import (
	"context"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"zholda/config"
	"zholda/geo"
	"zholda/models"
)

// Marker and line ids used on the widget.
const (
	UserMarkerID = "user"
	RouteLineID  = "route"
)

// publishTimeout bounds widget calls made from PublishFix, which has no caller context.
const publishTimeout = 2 * time.Second

// Adapter translates accepted fixes and route points into widget calls.
type Adapter struct {
	w   Widget
	log *zap.Logger

	zoom             float64
	theme            string
	recenterMeters   float64
	recenterDuration time.Duration

	mu         sync.Mutex
	userMarker bool
	selecting  models.Role // empty when not selecting
	points     map[models.Role]models.Coordinate
	route      bool
}

// NewAdapter creates an adapter driving w with the map settings from cfg.
func NewAdapter(w Widget, cfg config.MapConfig, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Adapter{
		w:                w,
		log:              log,
		zoom:             cfg.Zoom,
		theme:            cfg.Theme,
		recenterMeters:   cfg.RecenterMeters,
		recenterDuration: cfg.RecenterDuration,
		points:           make(map[models.Role]models.Coordinate),
	}
	if a.zoom == 0 {
		a.zoom = 15
	}
	if a.recenterMeters == 0 {
		a.recenterMeters = 50
	}
	if a.recenterDuration == 0 {
		a.recenterDuration = time.Second
	}
	return a
}

// Init constructs the map around center.
func (a *Adapter) Init(ctx context.Context, center models.Coordinate) error {
	return a.w.Init(ctx, center, a.zoom, a.theme)
}

// PublishFix moves the user marker to fix, creating it on first use, and recenters when
// the user left the viewport center. Widget failures are logged.
func (a *Adapter) PublishFix(fix models.PositionFix) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	c := fix.Coordinate()
	a.mu.Lock()
	if err := a.placeUserLocked(ctx, c); err != nil {
		a.log.Warn("user marker not placed", zap.Error(err))
	}
	a.mu.Unlock()

	a.maybeRecenter(ctx, c)
}

func (a *Adapter) placeUserLocked(ctx context.Context, c models.Coordinate) error {
	if !a.userMarker {
		if err := a.w.AddMarker(ctx, UserMarkerID, c, MarkerUser); err != nil {
			return err
		}
		a.userMarker = true
		return nil
	}

	err := a.w.UpdateMarker(ctx, UserMarkerID, c)
	if err == nil {
		return nil
	}
	a.log.Debug("user marker update failed, recreating", zap.Error(err))
	_ = a.w.RemoveMarker(ctx, UserMarkerID)
	a.userMarker = false
	if err := a.w.AddMarker(ctx, UserMarkerID, c, MarkerUser); err != nil {
		return err
	}
	a.userMarker = true
	return nil
}

// MaybeRecenter pans to fix when it is farther than the recenter threshold from the
// viewport center and no point is being selected. It reports whether it recentered.
func (a *Adapter) MaybeRecenter(ctx context.Context, fix models.PositionFix) bool {
	return a.maybeRecenter(ctx, fix.Coordinate())
}

func (a *Adapter) maybeRecenter(ctx context.Context, c models.Coordinate) bool {
	a.mu.Lock()
	selecting := a.selecting != ""
	a.mu.Unlock()
	if selecting {
		return false
	}

	center, ok := a.w.Center()
	if !ok {
		return false
	}
	d := geo.DistanceMeters(center, c)
	if d <= a.recenterMeters {
		return false
	}
	if err := a.w.SetCenter(ctx, c, a.recenterDuration); err != nil {
		a.log.Warn("recenter failed", zap.Error(err))
		return false
	}
	a.log.Debug("map recentered", zap.Float64("moved_m", d))
	return true
}

// BeginSelection enters point-selection mode for role; the next tap places that point.
func (a *Adapter) BeginSelection(role models.Role) {
	a.mu.Lock()
	a.selecting = role
	a.mu.Unlock()
}

// EndSelection leaves point-selection mode.
func (a *Adapter) EndSelection() {
	a.mu.Lock()
	a.selecting = ""
	a.mu.Unlock()
}

// Selecting returns the role being selected, or "" outside selection mode.
func (a *Adapter) Selecting() models.Role {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selecting
}

// PlacePoint puts the marker for role at c, replacing the previous one.
func (a *Adapter) PlacePoint(ctx context.Context, role models.Role, c models.Coordinate) error {
	if !role.Valid() {
		return ErrNoMarker
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	id := string(role)
	if _, ok := a.points[role]; ok {
		if err := a.w.RemoveMarker(ctx, id); err != nil {
			a.log.Debug("old point marker not removed", zap.String("role", id), zap.Error(err))
		}
		delete(a.points, role)
	}
	if err := a.w.AddMarker(ctx, id, c, markerKind(role)); err != nil {
		return err
	}
	a.points[role] = c
	return nil
}

// ClearPoints removes both route point markers and the route line.
func (a *Adapter) ClearPoints(ctx context.Context) {
	a.mu.Lock()
	for role := range a.points {
		_ = a.w.RemoveMarker(ctx, string(role))
		delete(a.points, role)
	}
	a.mu.Unlock()
	a.ClearRoute(ctx)
}

// ShowRoute replaces the route line. straight marks a fallback line.
func (a *Adapter) ShowRoute(ctx context.Context, line orb.LineString, straight bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.route {
		_ = a.w.RemoveLine(ctx, RouteLineID)
		a.route = false
	}
	style := RoutedStyle
	if straight {
		style = StraightStyle
	}
	if err := a.w.DrawLine(ctx, RouteLineID, line, style); err != nil {
		return err
	}
	a.route = true
	return nil
}

// ClearRoute removes the route line if one is drawn.
func (a *Adapter) ClearRoute(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.route {
		return
	}
	if err := a.w.RemoveLine(ctx, RouteLineID); err != nil {
		a.log.Debug("route line not removed", zap.Error(err))
	}
	a.route = false
}

// FitBounds fits the viewport to coords with the padded bounds.
func (a *Adapter) FitBounds(ctx context.Context, coords []models.Coordinate) error {
	if len(coords) == 0 {
		return nil
	}
	return a.w.FitBounds(ctx, geo.ComputeBounds(coords), a.recenterDuration)
}

func markerKind(role models.Role) MarkerKind {
	if role == models.RoleFrom {
		return MarkerFrom
	}
	return MarkerTo
}
