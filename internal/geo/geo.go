// Package geo provides great-circle helpers and route fingerprinting.
package geo

import (
	"crypto/md5" //nolint:gosec // fingerprint, not a security boundary
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/safespace/saferoute/internal/model"
)

// EarthRadiusKm is the mean radius of Earth in kilometers.
const EarthRadiusKm = 6371.0

// KmPerDegree approximates the length of one degree of latitude.
const KmPerDegree = 111.0

// HaversineKm returns the great-circle distance between two points in kilometers.
// Non-finite input yields +Inf so that distance guards reject it.
func HaversineKm(a, b model.GeoPoint) float64 {
	if !a.Finite() || !b.Finite() {
		return math.Inf(1)
	}
	lat1 := degToRad(a.Lat)
	lat2 := degToRad(b.Lat)
	dLat := lat2 - lat1
	dLon := degToRad(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// DetourRatio returns (start->via + via->end) / start->end. A zero-length
// direct leg yields +Inf.
func DetourRatio(start, via, end model.GeoPoint) float64 {
	direct := HaversineKm(start, end)
	if direct <= 0 || math.IsInf(direct, 0) {
		return math.Inf(1)
	}
	return (HaversineKm(start, via) + HaversineKm(via, end)) / direct
}

// fingerprintSamples is the number of representative points hashed.
const fingerprintSamples = 5

// Fingerprint hashes five representative points of a geometry (first,
// quartiles, last) rounded to four decimals. Geometries with fewer than two
// points have no fingerprint and return "".
func Fingerprint(path model.Path) string {
	n := len(path)
	if n < 2 {
		return ""
	}
	idx := [fingerprintSamples]int{0, n / 4, n / 2, 3 * n / 4, n - 1}

	var sb strings.Builder
	for _, i := range idx {
		fmt.Fprintf(&sb, "%.4f,%.4f", path[i].Lat, path[i].Lon)
	}
	sum := md5.Sum([]byte(sb.String())) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

func degToRad(d float64) float64 {
	return d * math.Pi / 180
}
