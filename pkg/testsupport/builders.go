package testsupport

import (
	"sync"
	"time"

	"github.com/goliatone/go-shop-cache/domain"
)

// Epoch is the instant every fixed clock starts at.
var Epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Clock is a manually advanced clock safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at Epoch.
func NewClock() *Clock {
	return &Clock{now: Epoch}
}

// Now returns the current fixed instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ShopOption customizes a fixture shop.
type ShopOption func(*domain.Shop)

// WithScores sets the score counters and derives the average.
func WithScores(total float64, count int64) ShopOption {
	return func(s *domain.Shop) {
		s.TotalScore = total
		s.ReviewNumber = count
		domain.RecomputeAverage(s)
	}
}

// WithLocation sets the shop coordinates.
func WithLocation(lat, lon float64) ShopOption {
	return func(s *domain.Shop) {
		s.Address.Latitude = lat
		s.Address.Longitude = lon
	}
}

// WithCategory sets the shop category.
func WithCategory(c domain.Category) ShopOption {
	return func(s *domain.Shop) { s.Category = c }
}

// Deleted marks the fixture soft deleted at Epoch.
func Deleted() ShopOption {
	return func(s *domain.Shop) { domain.ApplySoftDelete(s, Epoch) }
}

// NewShop builds an open chicken shop in central Seoul.
func NewShop(id, name string, opts ...ShopOption) *domain.Shop {
	s := &domain.Shop{
		ShopID:         id,
		ShopName:       name,
		Sales:          domain.SalesInfo{Status: domain.SalesOpen, OpenHour: "11:00", CloseHour: "23:00"},
		Address:        domain.Address{RoadName: "1 Sejong-daero", Latitude: 37.5665, Longitude: 126.9780},
		Category:       domain.CategoryChicken,
		BusinessNumber: "123-45-67890",
		DeliveryTips:   []domain.DeliveryTip{{Distance: 1000, Price: 1000}, {Distance: 3000, Price: 3000}},
		Timestamps:     domain.Timestamps{CreatedAt: Epoch, UpdatedAt: Epoch},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewReview builds a live review of shop.
func NewReview(id, title string, shop *domain.Shop, score float64) *domain.ShopReview {
	return &domain.ShopReview{
		ReviewID:    id,
		ReviewTitle: title,
		ShopID:      shop.ShopID,
		ShopName:    shop.ShopName,
		Content:     "crispy and hot",
		Score:       score,
		Timestamps:  domain.Timestamps{CreatedAt: Epoch, UpdatedAt: Epoch},
	}
}

// NewReply builds a live reply to review.
func NewReply(id string, review *domain.ShopReview) *domain.Reply {
	return &domain.Reply{
		ReplyID:     id,
		ReviewID:    review.ReviewID,
		ReviewTitle: review.ReviewTitle,
		ShopID:      review.ShopID,
		Content:     "thank you",
		Timestamps:  domain.Timestamps{CreatedAt: Epoch, UpdatedAt: Epoch},
	}
}
