package server

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/safespace/saferoute/internal/model"
)

// Point caps per layer. Crime is denser and drawn as individual markers.
var heatmapLimits = map[model.Layer]int{
	model.LayerCrime:      2000,
	model.LayerLighting:   5000,
	model.LayerPopulation: 5000,
}

type crimeHeatmap struct {
	Success     bool         `json:"success"`
	TotalCrimes int          `json:"total_crimes"`
	Data        [][2]float64 `json:"data"`
}

type layerHeatmap struct {
	Success        bool        `json:"success"`
	TotalLocations int         `json:"total_locations"`
	Data           [][]float64 `json:"data"`
}

// parseBBox reads "minLat,minLon,maxLat,maxLon". Anything else means no filter.
func parseBBox(raw string) *model.BBox {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return nil
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		v[i] = f
	}
	b := model.BBox{MinLat: v[0], MinLon: v[1], MaxLat: v[2], MaxLon: v[3]}
	if b.Validate() != nil {
		return nil
	}
	return &b
}

// finite replaces NaN and infinities, which JSON cannot carry, with zero.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func (s *Server) handleHeatmap(layer model.Layer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var bbox *model.BBox
		if raw := r.URL.Query().Get("bbox"); raw != "" {
			bbox = parseBBox(raw)
		}
		points := s.deps.Risk.Points(layer, bbox, heatmapLimits[layer])
		total := s.deps.Risk.Counts()[layer]

		if layer == model.LayerCrime {
			data := make([][2]float64, len(points))
			for i, p := range points {
				data[i] = [2]float64{p.Location.Lat, p.Location.Lon}
			}
			writeJSON(w, http.StatusOK, crimeHeatmap{Success: true, TotalCrimes: total, Data: data})
			return
		}

		data := make([][]float64, len(points))
		for i, p := range points {
			row := []float64{p.Location.Lat, p.Location.Lon, finite(p.Value)}
			if layer == model.LayerPopulation {
				row = append(row, finite(p.Traffic), finite(p.MainRoad))
			}
			data[i] = row
		}
		writeJSON(w, http.StatusOK, layerHeatmap{Success: true, TotalLocations: total, Data: data})
	}
}
