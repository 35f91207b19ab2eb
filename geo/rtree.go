package geo

import (
	"math"
	"sort"
	"sync"

	"github.com/dhconnelly/rtreego"

	"zholda/models"
)

// kmPerDegree is the length of one degree of latitude.
const kmPerDegree = 111.0

// indexedPoint wraps a request pickup point to satisfy the rtreego.Spatial interface.
type indexedPoint struct {
	id    int64
	coord models.Coordinate
}

// Bounds returns a tiny rectangle around the point.
func (p *indexedPoint) Bounds() rtreego.Rect {
	return rtreego.Point{p.coord.Lon, p.coord.Lat}.ToRect(0.00001)
}

// Hit is an indexed id with its distance from the search center.
type Hit struct {
	ID         int64
	DistanceKm float64
}

// PointIndex is an R-tree of ids keyed by coordinate. Safe for concurrent use.
type PointIndex struct {
	mu    sync.Mutex
	tree  *rtreego.Rtree
	items map[int64]*indexedPoint
}

// NewPointIndex creates an empty index.
func NewPointIndex() *PointIndex {
	return &PointIndex{
		tree:  rtreego.NewTree(2, 25, 50),
		items: make(map[int64]*indexedPoint),
	}
}

// Insert adds or moves id to coord.
func (ix *PointIndex) Insert(id int64, coord models.Coordinate) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if old, ok := ix.items[id]; ok {
		ix.tree.Delete(old)
	}
	p := &indexedPoint{id: id, coord: coord}
	ix.items[id] = p
	ix.tree.Insert(p)
}

// Remove drops id from the index.
func (ix *PointIndex) Remove(id int64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if old, ok := ix.items[id]; ok {
		ix.tree.Delete(old)
		delete(ix.items, id)
	}
}

// Len returns the number of indexed points.
func (ix *PointIndex) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.items)
}

// SearchRadius returns ids within radiusKm of center, nearest first.
func (ix *PointIndex) SearchRadius(center models.Coordinate, radiusKm float64) []Hit {
	latDiff := radiusKm / kmPerDegree
	lonDiff := radiusKm / (kmPerDegree * math.Max(math.Cos(center.Lat*math.Pi/180), 0.01))

	rect, err := rtreego.NewRectFromPoints(
		rtreego.Point{center.Lon - lonDiff, center.Lat - latDiff},
		rtreego.Point{center.Lon + lonDiff, center.Lat + latDiff},
	)
	if err != nil {
		return nil
	}

	ix.mu.Lock()
	candidates := ix.tree.SearchIntersect(rect)
	ix.mu.Unlock()

	var hits []Hit
	for _, s := range candidates {
		p := s.(*indexedPoint)
		if d := DistanceKm(center, p.coord); d <= radiusKm {
			hits = append(hits, Hit{ID: p.id, DistanceKm: d})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].DistanceKm < hits[j].DistanceKm })
	return hits
}

// SearchNearbyWithRetries doubles the radius after every empty search, up to maxRetries.
func (ix *PointIndex) SearchNearbyWithRetries(center models.Coordinate, radiusKm float64, maxRetries int) []Hit {
	radius := radiusKm
	for i := 0; i < maxRetries; i++ {
		if hits := ix.SearchRadius(center, radius); len(hits) > 0 {
			return hits
		}
		radius *= 2
	}
	return nil
}
