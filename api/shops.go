package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goliatone/go-shop-cache/command"
	"github.com/goliatone/go-shop-cache/domain"
	"github.com/goliatone/go-shop-cache/search"
)

const (
	defaultSearchDistanceKm = 3.0
	maxSearchDistanceKm     = 50.0
	maxSearchLimit          = 200
)

func (h *Handler) shopDetail() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := domain.Ref{
			ID:        chi.URLParam(r, "id"),
			Secondary: strings.TrimSpace(r.URL.Query().Get("shopName")),
		}
		shop, err := h.shops.ReadOne(r.Context(), ref)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, shop)
	}
}

func (h *Handler) shopList() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		category := domain.Category(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("category"))))
		var filter func(*domain.Shop) bool
		if category != "" {
			filter = func(s *domain.Shop) bool { return s.Category == category }
		}
		streamJSON(w, r, h.logger, h.shops.ReadMany(r.Context(), filter))
	}
}

func (h *Handler) shopSearch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := parseGeoQuery(r)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		docs, err := h.index.QueryByGeoAndCategory(r.Context(), q)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		if docs == nil {
			docs = []search.ShopDocument{}
		}
		writeJSON(w, h.logger, http.StatusOK, docs)
	}
}

func (h *Handler) shopCategories() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		categories, err := h.categories.Get(r.Context())
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, categories)
	}
}

func (h *Handler) shopCreate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req command.CreateShopRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, h.logger, err)
			return
		}
		req.Category = domain.Category(strings.ToUpper(string(req.Category)))

		shop, err := h.commands.CreateShop(r.Context(), req)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusCreated, shop)
	}
}

func (h *Handler) shopDelete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h.commands.DeleteShop(r.Context(), command.DeleteShopRequest{
			ShopID:   chi.URLParam(r, "id"),
			ShopName: r.URL.Query().Get("shopName"),
		})
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func parseGeoQuery(r *http.Request) (search.GeoQuery, error) {
	query := r.URL.Query()
	fields := map[string]string{}

	parse := func(name string, required bool, def float64) float64 {
		raw := strings.TrimSpace(query.Get(name))
		if raw == "" {
			if required {
				fields[name] = "is required"
			}
			return def
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			fields[name] = "must be a number"
		}
		return v
	}

	q := search.GeoQuery{
		Lat:        parse("lat", true, 0),
		Lon:        parse("lon", true, 0),
		DistanceKm: parse("distanceKm", false, defaultSearchDistanceKm),
		Category:   domain.Category(strings.ToUpper(strings.TrimSpace(query.Get("category")))),
	}
	if q.Lat < -90 || q.Lat > 90 {
		fields["lat"] = "must be between -90 and 90"
	}
	if q.Lon < -180 || q.Lon > 180 {
		fields["lon"] = "must be between -180 and 180"
	}
	if q.DistanceKm <= 0 || q.DistanceKm > maxSearchDistanceKm {
		fields["distanceKm"] = "must be greater than 0 and at most 50"
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxSearchLimit {
			fields["limit"] = "must be between 1 and 200"
		}
		q.Limit = limit
	}

	if len(fields) > 0 {
		return search.GeoQuery{}, domain.Validation("api.search", fields)
	}
	return q, nil
}
