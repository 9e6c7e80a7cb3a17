package server

import (
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/safespace/saferoute/internal/model"
	"github.com/safespace/saferoute/pkg/nominatim"
)

// minQueryRunes is the shortest query forwarded to the geocoder.
const minQueryRunes = 2

type searchResponse struct {
	Success bool              `json:"success"`
	Results []nominatim.Place `json:"results"`
}

// handleSearchPlace serves autocomplete. Geocoder failures degrade to an
// empty result list.
func (s *Server) handleSearchPlace(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "No query provided")
		return
	}
	if s.deps.Geocoder == nil {
		writeError(w, http.StatusServiceUnavailable, "Geocoding is disabled")
		return
	}

	resp := searchResponse{Success: true, Results: []nominatim.Place{}}
	if utf8.RuneCountInString(q) < minQueryRunes {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	places, err := s.deps.Geocoder.Search(r.Context(), q)
	if err != nil {
		logger(r).Warn("place search failed", zap.String("query", q), zap.Error(err))
	} else if places != nil {
		resp.Results = places
	}
	writeJSON(w, http.StatusOK, resp)
}

type reverseResponse struct {
	Success bool   `json:"success"`
	Address string `json:"address"`
}

func (s *Server) handleReverseGeocode(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	p := model.GeoPoint{Lat: lat, Lon: lon}
	if errLat != nil || errLon != nil || !s.cfg.Bounds.Contains(p) {
		writeError(w, http.StatusBadRequest, "Invalid coordinates")
		return
	}
	if s.deps.Geocoder == nil {
		writeError(w, http.StatusServiceUnavailable, "Geocoding is disabled")
		return
	}

	addr, err := s.deps.Geocoder.Reverse(r.Context(), lat, lon)
	if err != nil {
		logger(r).Warn("reverse geocode failed",
			zap.Float64("lat", lat),
			zap.Float64("lon", lon),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "Reverse geocoding failed")
		return
	}
	if addr == "" {
		addr = strconv.FormatFloat(lat, 'f', 5, 64) + ", " + strconv.FormatFloat(lon, 'f', 5, 64)
	}
	writeJSON(w, http.StatusOK, reverseResponse{Success: true, Address: addr})
}
