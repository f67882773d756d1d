package api

import (
	"context"
	"sort"

	"github.com/goliatone/go-shop-cache/cache"
	"github.com/goliatone/go-shop-cache/domain"
	"github.com/goliatone/go-shop-cache/repositorycache"
)

// CategoryCount is one entry of the category catalog.
type CategoryCount struct {
	Category domain.Category `json:"category"`
	Shops    int             `json:"shops"`
}

// CategoryLoader scans live shops and counts them per category. The result
// backs the categories lookup, so the scan runs once per lookup TTL.
func CategoryLoader(shops *repositorycache.Reader[*domain.Shop]) cache.FetchFn[[]CategoryCount] {
	return func(ctx context.Context) ([]CategoryCount, error) {
		counts := map[domain.Category]int{}
		for shop, err := range shops.ReadMany(ctx, nil) {
			if err != nil {
				return nil, err
			}
			counts[shop.Category]++
		}

		out := make([]CategoryCount, 0, len(counts))
		for c, n := range counts {
			out = append(out, CategoryCount{Category: c, Shops: n})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
		return out, nil
	}
}
