// Package api exposes the directory over HTTP. Reads go through the
// cache-aside readers, writes through the command handler, and geo search
// through the search index.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goliatone/go-shop-cache/command"
	"github.com/goliatone/go-shop-cache/domain"
	"github.com/goliatone/go-shop-cache/repositorycache"
	"github.com/goliatone/go-shop-cache/search"
	"go.uber.org/zap"
)

// Config wires the HTTP handlers.
type Config struct {
	Shops      *repositorycache.Reader[*domain.Shop]
	Reviews    *repositorycache.Reader[*domain.ShopReview]
	Categories *repositorycache.Lookup[[]CategoryCount]
	Index      search.Index
	Commands   *command.Handler
	Logger     *zap.Logger
	// Metrics, when set, is mounted at MetricsPath.
	Metrics     http.Handler
	MetricsPath string
	// RequestTimeout bounds every request context. Zero disables it.
	RequestTimeout time.Duration
}

// Handler serves the directory routes.
type Handler struct {
	shops      *repositorycache.Reader[*domain.Shop]
	reviews    *repositorycache.Reader[*domain.ShopReview]
	categories *repositorycache.Lookup[[]CategoryCount]
	index      search.Index
	commands   *command.Handler
	logger     *zap.Logger
}

// NewHandler constructs the handler set.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		shops:      cfg.Shops,
		reviews:    cfg.Reviews,
		categories: cfg.Categories,
		index:      cfg.Index,
		commands:   cfg.Commands,
		logger:     logger,
	}
}

// NewRouter builds the full router with middleware.
func NewRouter(cfg Config) http.Handler {
	h := NewHandler(cfg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil && cfg.MetricsPath != "" {
		r.Method(http.MethodGet, cfg.MetricsPath, cfg.Metrics)
	}

	h.Register(r)
	return r
}

// Register mounts the directory routes onto r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/shop", func(r chi.Router) {
		r.Get("/list", h.shopList())
		r.Get("/search", h.shopSearch())
		r.Get("/categories", h.shopCategories())
		r.Get("/{id}", h.shopDetail())
		r.Post("/", h.shopCreate())
		r.Delete("/{id}", h.shopDelete())
	})
	r.Route("/shop-review", func(r chi.Router) {
		r.Get("/list", h.reviewList())
		r.Get("/{id}", h.reviewDetail())
		r.Post("/", h.reviewCreate())
		r.Delete("/{id}", h.reviewDelete())
	})
	r.Route("/reply", func(r chi.Router) {
		r.Post("/", h.replyCreate())
		r.Delete("/{id}", h.replyDelete())
	})
}

func requestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
