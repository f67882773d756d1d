package search

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/goliatone/go-shop-cache/domain"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const earthRadiusKm = 6371.0

// Memory is an in-process Index.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]ShopDocument
}

var _ Index = (*Memory)(nil)

// NewMemory returns an empty index.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]ShopDocument)}
}

func (m *Memory) Upsert(ctx context.Context, doc ShopDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ShopID] = doc
	return nil
}

// PartialUpdate merges fields into the stored document through its JSON
// form, so field names match the indexed names.
func (m *Memory) PartialUpdate(ctx context.Context, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok {
		return domain.NotFound("search.PartialUpdate", "shopDocument", id)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	merged := map[string]any{}
	if err := json.Unmarshal(raw, &merged); err != nil {
		return err
	}
	for k, v := range fields {
		merged[k] = v
	}
	if raw, err = json.Marshal(merged); err != nil {
		return err
	}

	var updated ShopDocument
	if err := json.Unmarshal(raw, &updated); err != nil {
		return err
	}
	m.docs[id] = updated
	return nil
}

func (m *Memory) QueryByGeoAndCategory(ctx context.Context, q GeoQuery) ([]ShopDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ShopDocument
	for _, doc := range m.docs {
		if doc.Deleted {
			continue
		}
		if q.Category != "" && doc.Category != q.Category {
			continue
		}
		if q.DistanceKm > 0 && Haversine(q.Lat, q.Lon, doc.Location.Lat, doc.Location.Lon) > q.DistanceKm {
			continue
		}
		out = append(out, doc)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].AverageScore != out[j].AverageScore {
			return out[i].AverageScore > out[j].AverageScore
		}
		return out[i].ShopID < out[j].ShopID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Document returns the stored document for id.
func (m *Memory) Document(id string) (ShopDocument, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	return doc, ok
}

// Haversine returns the great circle distance in kilometers.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
