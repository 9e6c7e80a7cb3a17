package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/safespace/saferoute/internal/model"
	"github.com/safespace/saferoute/internal/optimizer"
)

const maxBodyBytes = 1 << 20

var (
	errMissing = errors.New("missing value")
	errInvalid = errors.New("invalid value")
)

type optimizeRequest struct {
	StartLat        json.RawMessage `json:"start_lat"`
	StartLon        json.RawMessage `json:"start_lon"`
	EndLat          json.RawMessage `json:"end_lat"`
	EndLon          json.RawMessage `json:"end_lon"`
	PreferMainRoads bool            `json:"prefer_main_roads"`
	PreferWellLit   bool            `json:"prefer_well_lit"`
	PreferPopulated bool            `json:"prefer_populated"`
	SafetyWeight    json.RawMessage `json:"safety_weight"`
	DistanceWeight  json.RawMessage `json:"distance_weight"`
}

// parseNumber accepts a JSON number or a numeric string.
func parseNumber(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errMissing
	}
	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, errInvalid
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, errMissing
		}
	} else {
		s = string(raw)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errInvalid
	}
	return v, nil
}

func (req optimizeRequest) toRequest() (optimizer.Request, error) {
	var vals [4]float64
	for i, raw := range []json.RawMessage{req.StartLat, req.StartLon, req.EndLat, req.EndLon} {
		v, err := parseNumber(raw)
		if err != nil {
			return optimizer.Request{}, err
		}
		vals[i] = v
	}

	prefs := model.DefaultPreferences()
	prefs.PreferMainRoads = req.PreferMainRoads
	prefs.PreferWellLit = req.PreferWellLit
	prefs.PreferPopulated = req.PreferPopulated
	for _, w := range []struct {
		raw json.RawMessage
		dst *float64
	}{
		{req.SafetyWeight, &prefs.SafetyWeight},
		{req.DistanceWeight, &prefs.DistanceWeight},
	} {
		v, err := parseNumber(w.raw)
		switch {
		case errors.Is(err, errMissing):
		case err != nil:
			return optimizer.Request{}, optimizer.ErrInvalidPreferences
		default:
			*w.dst = v
		}
	}

	return optimizer.Request{
		Start:       model.GeoPoint{Lat: vals[0], Lon: vals[1]},
		End:         model.GeoPoint{Lat: vals[2], Lon: vals[3]},
		Preferences: prefs,
	}, nil
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	log := logger(r)

	var body optimizeRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req, err := body.toRequest()
	if err == nil {
		var resp *optimizer.Response
		resp, err = s.deps.Optimizer.Optimize(r.Context(), req)
		if err == nil {
			log.Info("routes optimized",
				zap.Int("routes", len(resp.Routes)),
				zap.Int("analyzed", resp.TotalAnalyzed),
			)
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	status, msg := optimizeError(err)
	if status >= http.StatusInternalServerError {
		log.Error("optimize failed", zap.Error(err))
	} else {
		log.Debug("optimize rejected", zap.String("reason", msg), zap.Error(err))
	}
	writeError(w, status, msg)
}

// optimizeError maps optimizer failures to a status and a user-facing message.
func optimizeError(err error) (int, string) {
	switch {
	case errors.Is(err, errMissing):
		return http.StatusBadRequest, "Missing coordinates"
	case errors.Is(err, errInvalid), eris.Is(err, optimizer.ErrInvalidCoordinates):
		return http.StatusBadRequest, "Invalid coordinates"
	case eris.Is(err, optimizer.ErrOutOfBounds):
		return http.StatusBadRequest, "Coordinates outside supported area"
	case eris.Is(err, optimizer.ErrInvalidPreferences):
		return http.StatusBadRequest, "Invalid preferences"
	case eris.Is(err, optimizer.ErrNoRoutes):
		return http.StatusNotFound, "No valid routes found"
	default:
		return http.StatusInternalServerError, "Failed to optimize routes"
	}
}
