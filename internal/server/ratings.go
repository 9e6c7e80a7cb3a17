package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/safespace/saferoute/internal/model"
)

type rateRequest struct {
	RouteID     string             `json:"route_id"`
	Rating      json.RawMessage    `json:"rating"`
	Feedback    string             `json:"feedback"`
	Liked       bool               `json:"liked"`
	Start       *model.GeoPoint    `json:"start"`
	End         *model.GeoPoint    `json:"end"`
	Preferences *model.Preferences `json:"preferences"`
	SafetyScore *float64           `json:"safety_score"`
}

type rateResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (s *Server) handleRateRoute(w http.ResponseWriter, r *http.Request) {
	var body rateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rating")
		return
	}
	score, err := parseNumber(body.Rating)
	if err != nil || score != float64(int(score)) {
		writeError(w, http.StatusBadRequest, "Invalid rating")
		return
	}

	rating := &model.Rating{
		RouteID:     strings.TrimSpace(body.RouteID),
		Rating:      int(score),
		Feedback:    strings.TrimSpace(body.Feedback),
		Liked:       body.Liked,
		Start:       body.Start,
		End:         body.End,
		Preferences: body.Preferences,
		SafetyScore: body.SafetyScore,
	}
	if err := rating.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rating")
		return
	}
	if s.deps.Ratings == nil {
		writeError(w, http.StatusServiceUnavailable, "Ratings are disabled")
		return
	}

	log := logger(r)
	if err := s.deps.Ratings.SaveRating(r.Context(), rating); err != nil {
		log.Error("save rating", zap.String("route_id", rating.RouteID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to save rating")
		return
	}
	log.Info("rating recorded",
		zap.String("route_id", rating.RouteID),
		zap.Int("rating", rating.Rating),
	)
	writeJSON(w, http.StatusOK, rateResponse{Success: true, ID: rating.ID, Message: "Rating recorded"})
}
