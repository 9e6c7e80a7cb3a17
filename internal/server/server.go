// Package server exposes the route optimizer and its supporting data over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/safespace/saferoute/internal/model"
	"github.com/safespace/saferoute/internal/optimizer"
	"github.com/safespace/saferoute/internal/resilience"
	"github.com/safespace/saferoute/pkg/nominatim"
)

// Optimizer produces ranked routes for a request.
type Optimizer interface {
	Optimize(ctx context.Context, req optimizer.Request) (*optimizer.Response, error)
}

// RiskData is the read side of the loaded risk layers.
type RiskData interface {
	Counts() map[model.Layer]int
	Points(layer model.Layer, bbox *model.BBox, limit int) []model.RiskSample
}

// Geocoder resolves place names and coordinates.
type Geocoder interface {
	Search(ctx context.Context, query string) ([]nominatim.Place, error)
	Reverse(ctx context.Context, lat, lon float64) (string, error)
}

// RatingStore persists route feedback.
type RatingStore interface {
	SaveRating(ctx context.Context, r *model.Rating) error
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the API. Geocoder and Ratings may be nil,
// in which case their endpoints answer 503.
type Deps struct {
	Optimizer Optimizer
	Risk      RiskData
	Geocoder  Geocoder
	Ratings   RatingStore
	Breakers  *resilience.ServiceBreakers
}

// Config tunes the HTTP layer.
type Config struct {
	Bounds         model.BBox
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// Server holds the API handlers.
type Server struct {
	deps Deps
	cfg  Config
}

// New creates a Server. A zero Bounds means the Bangalore service area.
func New(deps Deps, cfg Config) *Server {
	if cfg.Bounds == (model.BBox{}) {
		cfg.Bounds = model.BangaloreBounds
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	return &Server{deps: deps, cfg: cfg}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/optimize-route", s.handleOptimize)
		r.Post("/rate-route", s.handleRateRoute)
		r.Get("/search-place", s.handleSearchPlace)
		r.Get("/reverse-geocode", s.handleReverseGeocode)
		r.Get("/crime-heatmap", s.handleHeatmap(model.LayerCrime))
		r.Get("/lighting-heatmap", s.handleHeatmap(model.LayerLighting))
		r.Get("/population-heatmap", s.handleHeatmap(model.LayerPopulation))
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}
