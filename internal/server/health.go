package server

import (
	"context"
	"net/http"
	"time"

	"github.com/safespace/saferoute/internal/model"
	"github.com/safespace/saferoute/internal/resilience"
)

const healthPingTimeout = 2 * time.Second

// Store statuses reported by /api/health.
const (
	storeOK          = "ok"
	storeDisabled    = "disabled"
	storeUnavailable = "unavailable"
)

type healthResponse struct {
	Success          bool                               `json:"success"`
	Message          string                             `json:"message"`
	CrimesLoaded     int                                `json:"crimes_loaded"`
	LightingPoints   int                                `json:"lighting_points"`
	PopulationPoints int                                `json:"population_points"`
	Store            string                             `json:"store"`
	Circuits         map[string]resilience.CircuitState `json:"circuits"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	counts := s.deps.Risk.Counts()
	resp := healthResponse{
		Success:          true,
		Message:          "Backend is running",
		CrimesLoaded:     counts[model.LayerCrime],
		LightingPoints:   counts[model.LayerLighting],
		PopulationPoints: counts[model.LayerPopulation],
		Store:            storeDisabled,
		Circuits:         map[string]resilience.CircuitState{},
	}

	if s.deps.Ratings != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()
		resp.Store = storeOK
		if err := s.deps.Ratings.Ping(ctx); err != nil {
			logger(r).Warn("store ping failed")
			resp.Store = storeUnavailable
		}
	}
	if s.deps.Breakers != nil {
		resp.Circuits = s.deps.Breakers.States()
	}

	writeJSON(w, http.StatusOK, resp)
}
