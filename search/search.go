// Package search defines the shop search index contract and an in-process
// implementation. The Elasticsearch client lives in internal/searchinfra.
package search

import (
	"context"
	"time"

	"github.com/goliatone/go-shop-cache/domain"
)

// Location is a geo point in the shape Elasticsearch expects for geo_point.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ShopDocument is the indexed projection of a shop.
type ShopDocument struct {
	ShopID         string          `json:"shopId"`
	ShopName       string          `json:"shopName"`
	Category       domain.Category `json:"category"`
	DetailCategory string          `json:"detailCategory,omitempty"`
	Location       Location        `json:"location"`
	TotalScore     float64         `json:"totalScore"`
	ReviewNumber   int64           `json:"reviewNumber"`
	AverageScore   float64         `json:"averageScore"`
	Deleted        bool            `json:"deleted"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// DocumentFrom projects a shop into its search document.
func DocumentFrom(s *domain.Shop) ShopDocument {
	return ShopDocument{
		ShopID:         s.ShopID,
		ShopName:       s.ShopName,
		Category:       s.Category,
		DetailCategory: s.DetailCategory,
		Location:       Location{Lat: s.Address.Latitude, Lon: s.Address.Longitude},
		TotalScore:     s.TotalScore,
		ReviewNumber:   s.ReviewNumber,
		AverageScore:   s.AverageScore,
		Deleted:        s.IsDeleted(),
		UpdatedAt:      s.UpdatedAt,
	}
}

// ScoreFields returns the absolute review counters of s as a partial update.
func ScoreFields(s *domain.Shop) map[string]any {
	return map[string]any{
		"totalScore":   s.TotalScore,
		"reviewNumber": s.ReviewNumber,
		"averageScore": s.AverageScore,
		"updatedAt":    s.UpdatedAt,
	}
}

// GeoQuery selects live shops of a category within DistanceKm of a point.
// An empty Category matches every category.
type GeoQuery struct {
	Lat        float64
	Lon        float64
	DistanceKm float64
	Category   domain.Category
	Limit      int
}

// Index is the search index contract.
type Index interface {
	// Upsert replaces the whole document.
	Upsert(ctx context.Context, doc ShopDocument) error
	// PartialUpdate sets the given fields on an existing document. Values
	// are absolute, never deltas.
	PartialUpdate(ctx context.Context, id string, fields map[string]any) error
	// QueryByGeoAndCategory returns matches ordered by AverageScore, highest first.
	QueryByGeoAndCategory(ctx context.Context, q GeoQuery) ([]ShopDocument, error)
}
