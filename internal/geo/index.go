// Package geo indexes building coordinates in an R-tree for nearest-building
// lookups.
package geo

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/dhconnelly/rtreego"

	"github.com/kalambet/campusnav/internal/storage"
)

const (
	tolerance   = 1e-6
	minChildren = 2
	maxChildren = 8
	dimensions  = 2
	earthRadius = 6371000.0 // meters

	// Extra candidates fetched from the tree before re-ranking by great
	// circle distance, since the tree ranks by planar degree distance.
	candidateSlack = 4
)

// Nearby is a building with its distance from a query point.
type Nearby struct {
	storage.Building
	DistanceMeters float64 `json:"distance_meters"`
}

type spatialItem struct {
	building storage.Building
	rect     rtreego.Rect
}

func (si *spatialItem) Bounds() rtreego.Rect {
	return si.rect
}

// Index is a read-mostly spatial index of buildings. It is safe for
// concurrent use.
type Index struct {
	mu   sync.RWMutex
	tree *rtreego.Rtree
	size int
}

// NewIndex builds an index over buildings.
func NewIndex(buildings []storage.Building) *Index {
	idx := &Index{}
	idx.Load(buildings)
	return idx
}

// Load replaces the indexed set with buildings.
func (idx *Index) Load(buildings []storage.Building) {
	tree := rtreego.NewTree(dimensions, minChildren, maxChildren)
	for _, b := range buildings {
		p := rtreego.Point{b.Latitude, b.Longitude}
		tree.Insert(&spatialItem{building: b, rect: p.ToRect(tolerance)})
	}

	idx.mu.Lock()
	idx.tree = tree
	idx.size = len(buildings)
	idx.mu.Unlock()
}

// Size returns the number of indexed buildings.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.size
}

// Nearest returns up to n buildings closest to (lat, lon), nearest first.
func (idx *Index) Nearest(lat, lon float64, n int) ([]Nearby, error) {
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("coordinates out of range: %f,%f", lat, lon)
	}
	if n <= 0 {
		return []Nearby{}, nil
	}

	idx.mu.RLock()
	k := min(n+candidateSlack, idx.size)
	var results []rtreego.Spatial
	if k > 0 {
		results = idx.tree.NearestNeighbors(k, rtreego.Point{lat, lon})
	}
	idx.mu.RUnlock()

	out := make([]Nearby, 0, len(results))
	for _, r := range results {
		item, ok := r.(*spatialItem)
		if !ok || item == nil {
			continue
		}
		out = append(out, Nearby{
			Building:       item.building,
			DistanceMeters: math.Round(HaversineMeters(lat, lon, item.building.Latitude, item.building.Longitude)*10) / 10,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DistanceMeters < out[j].DistanceMeters
	})
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// HaversineMeters returns the great circle distance between two points.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180.0
	lon1Rad := lon1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0
	lon2Rad := lon2 * math.Pi / 180.0

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadius * c
}
