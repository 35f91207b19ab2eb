package matching

import (
	"context"
	"sync"

	"zholda/geo"
	"zholda/models"
)

// RequestSource lists the active client requests an index is loaded from.
type RequestSource interface {
	ActiveRequests(ctx context.Context) ([]models.ClientRequest, error)
}

// Requests is an in-memory R-tree of active client requests keyed by pickup point.
type Requests struct {
	index *geo.PointIndex

	mu   sync.RWMutex
	byID map[int64]models.ClientRequest
}

func NewRequests() *Requests {
	return &Requests{index: geo.NewPointIndex(), byID: make(map[int64]models.ClientRequest)}
}

// Load replaces the contents with every active request from src.
func (r *Requests) Load(ctx context.Context, src RequestSource) (int, error) {
	all, err := src.ActiveRequests(ctx)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	for id := range r.byID {
		r.index.Remove(id)
	}
	r.byID = make(map[int64]models.ClientRequest, len(all))
	r.mu.Unlock()

	for _, req := range all {
		r.Add(req)
	}
	return len(all), nil
}

// Add indexes req. Requests that are not active are dropped instead.
func (r *Requests) Add(req models.ClientRequest) {
	if req.Status != "" && req.Status != "active" {
		r.Remove(req.ID)
		return
	}
	r.mu.Lock()
	r.byID[req.ID] = req
	r.mu.Unlock()
	r.index.Insert(req.ID, models.Coordinate{Lon: req.FromLon, Lat: req.FromLat})
}

func (r *Requests) Remove(id int64) {
	r.mu.Lock()
	delete(r.byID, id)
	r.mu.Unlock()
	r.index.Remove(id)
}

func (r *Requests) Len() int {
	return r.index.Len()
}

// Near returns requests picked up within radiusKm of c, nearest first.
func (r *Requests) Near(c models.Coordinate, radiusKm float64) []models.ClientRequest {
	hits := r.index.SearchRadius(c, radiusKm)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ClientRequest, 0, len(hits))
	for _, h := range hits {
		if req, ok := r.byID[h.ID]; ok {
			out = append(out, req)
		}
	}
	return out
}
