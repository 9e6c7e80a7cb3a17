// Package osrm provides a client for the OSRM routing engine HTTP API.
package osrm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/safespace/saferoute/internal/resilience"
)

const serviceName = "osrm"

// Client defines the routing engine operations.
type Client interface {
	// Route returns the engine's route and alternatives through the given
	// points, in order. At least two points are required.
	Route(ctx context.Context, points []Point) ([]Route, error)
}

// Point is a WGS-84 coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// Route is one route alternative.
type Route struct {
	Geometry *geom.LineString // XY = lon, lat
	Distance float64          // meters
	Duration float64          // seconds
	Legs     []Leg
}

// Leg is the part of a route between two consecutive points.
type Leg struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
	Summary  string  `json:"summary"`
	Steps    []Step  `json:"steps"`
}

// Step is one maneuver along a leg.
type Step struct {
	Distance float64  `json:"distance"`
	Duration float64  `json:"duration"`
	Name     string   `json:"name"`
	Mode     string   `json:"mode"`
	Maneuver Maneuver `json:"maneuver"`
}

// Maneuver describes the action at the start of a step. Instruction is only
// set by engines that run with text instructions enabled.
type Maneuver struct {
	Type        string    `json:"type"`
	Modifier    string    `json:"modifier"`
	Instruction string    `json:"instruction"`
	Location    []float64 `json:"location"`
}

type routeResponse struct {
	Code    string     `json:"code"`
	Message string     `json:"message"`
	Routes  []rawRoute `json:"routes"`
}

type rawRoute struct {
	Geometry json.RawMessage `json:"geometry"`
	Distance float64         `json:"distance"`
	Duration float64         `json:"duration"`
	Legs     []Leg           `json:"legs"`
}

// Option configures the OSRM client.
type Option func(*httpClient)

// WithBaseURL sets the engine base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithProfile sets the routing profile (driving, walking, cycling).
func WithProfile(p string) Option {
	return func(c *httpClient) {
		if p != "" {
			c.profile = p
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout bounds a single engine call.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit caps requests per second. Zero or less disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithBreakers routes calls through the "osrm" breaker of the registry.
func WithBreakers(sb *resilience.ServiceBreakers) Option {
	return func(c *httpClient) {
		if sb != nil {
			c.breaker = sb.Get(serviceName)
		}
	}
}

type httpClient struct {
	baseURL string
	profile string
	timeout time.Duration
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewClient creates a new OSRM client. The default points at the public
// demo server, which is fine for development only.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: "https://router.project-osrm.org",
		profile: "driving",
		timeout: 10 * time.Second,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(10), 10),
		retry:   resilience.DefaultRetryConfig().WithAttempts(2),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger(serviceName, "route")
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	}
	return c
}

// Route implements Client.
func (c *httpClient) Route(ctx context.Context, points []Point) ([]Route, error) {
	if len(points) < 2 {
		return nil, eris.Errorf("osrm: need at least 2 points, got %d", len(points))
	}
	reqURL := c.routeURL(points)

	return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) ([]Route, error) {
		return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]Route, error) {
			return c.doRoute(ctx, reqURL)
		})
	})
}

func (c *httpClient) routeURL(points []Point) string {
	coords := make([]string, len(points))
	for i, p := range points {
		coords[i] = strconv.FormatFloat(p.Lon, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lat, 'f', -1, 64)
	}
	return c.baseURL + "/route/v1/" + c.profile + "/" + strings.Join(coords, ";") +
		"?overview=full&geometries=geojson&alternatives=true&steps=true"
}

func (c *httpClient) doRoute(ctx context.Context, reqURL string) ([]Route, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "osrm: rate limit")
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "osrm: build request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "osrm: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, eris.Wrap(err, "osrm: read body")
	}

	// OSRM reports NoRoute and friends as 400 with a JSON body; those are
	// answers, not failures worth retrying.
	if err := resilience.StatusError(serviceName, resp.StatusCode); err != nil && resp.StatusCode != http.StatusBadRequest {
		return nil, err
	}

	var rr routeResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return nil, eris.Wrap(err, "osrm: parse response")
	}
	switch rr.Code {
	case "Ok":
	case "NoRoute", "NoSegment":
		return nil, nil
	default:
		return nil, eris.Errorf("osrm: engine returned %s: %s", rr.Code, rr.Message)
	}

	routes := make([]Route, 0, len(rr.Routes))
	for i, raw := range rr.Routes {
		ls, err := decodeLineString(raw.Geometry)
		if err != nil {
			zap.L().Debug("osrm: skipping route with bad geometry", zap.Int("index", i), zap.Error(err))
			continue
		}
		routes = append(routes, Route{
			Geometry: ls,
			Distance: raw.Distance,
			Duration: raw.Duration,
			Legs:     raw.Legs,
		})
	}
	return routes, nil
}

func decodeLineString(raw json.RawMessage) (*geom.LineString, error) {
	if len(raw) == 0 {
		return nil, eris.New("osrm: missing geometry")
	}
	var g geom.T
	if err := geojson.Unmarshal(raw, &g); err != nil {
		return nil, eris.Wrap(err, "osrm: decode geometry")
	}
	ls, ok := g.(*geom.LineString)
	if !ok {
		return nil, eris.Errorf("osrm: expected LineString geometry, got %T", g)
	}
	return ls, nil
}
