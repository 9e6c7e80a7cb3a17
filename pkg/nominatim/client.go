// Package nominatim provides a client for the Nominatim geocoding API.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/safespace/saferoute/internal/resilience"
)

const serviceName = "nominatim"

// DefaultLimit is the number of search results requested.
const DefaultLimit = 6

// Client defines the geocoding operations.
type Client interface {
	// Search geocodes free text. Results outside the configured filter are dropped.
	Search(ctx context.Context, query string) ([]Place, error)
	// SearchBatch runs several searches concurrently. Results are in query order.
	SearchBatch(ctx context.Context, queries []string) ([][]Place, error)
	// Reverse returns the display name for a coordinate, or "" when the
	// service has none.
	Reverse(ctx context.Context, lat, lon float64) (string, error)
}

// Place is one search result.
type Place struct {
	DisplayName string  `json:"display_name"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Type        string  `json:"type"`
}

type searchItem struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Type        string `json:"type"`
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
}

// Option configures the Nominatim client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithUserAgent sets the identifying User-Agent the usage policy requires.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithTimeout bounds a single call.
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
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithSearchSuffix appends text such as ", Bangalore, India" to every query.
func WithSearchSuffix(s string) Option {
	return func(c *httpClient) {
		c.suffix = s
	}
}

// WithFilter keeps only results for which keep returns true.
func WithFilter(keep func(lat, lon float64) bool) Option {
	return func(c *httpClient) {
		c.keep = keep
	}
}

// WithCache caches search and reverse results. size <= 0 disables caching.
func WithCache(size int, ttl time.Duration) Option {
	return func(c *httpClient) {
		if size <= 0 {
			c.search, c.reverse = nil, nil
			return
		}
		c.search = NewCache[[]Place](size, ttl)
		c.reverse = NewCache[string](size, ttl)
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithBreakers routes calls through the "nominatim" breaker of the registry.
func WithBreakers(sb *resilience.ServiceBreakers) Option {
	return func(c *httpClient) {
		if sb != nil {
			c.breaker = sb.Get(serviceName)
		}
	}
}

type httpClient struct {
	baseURL   string
	userAgent string
	suffix    string
	timeout   time.Duration
	http      *http.Client
	limiter   *rate.Limiter
	keep      func(lat, lon float64) bool
	search    *Cache[[]Place]
	reverse   *Cache[string]
	retry     resilience.RetryConfig
	breaker   *resilience.CircuitBreaker
}

// NewClient creates a new Nominatim client. Defaults follow the public
// server's usage policy: one request per second and an identifying agent.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:   "https://nominatim.openstreetmap.org",
		userAgent: "saferoute/1.0",
		timeout:   5 * time.Second,
		http:      &http.Client{},
		limiter:   rate.NewLimiter(rate.Limit(1), 1),
		search:    NewCache[[]Place](1000, 24*time.Hour),
		reverse:   NewCache[string](1000, 24*time.Hour),
		retry:     resilience.DefaultRetryConfig().WithAttempts(2),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger(serviceName, "geocode")
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	}
	return c
}

// Search implements Client.
func (c *httpClient) Search(ctx context.Context, query string) ([]Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, eris.New("nominatim: empty query")
	}

	key := normalizeQuery(query)
	if c.search != nil {
		if places, ok := c.search.Get(key); ok {
			return places, nil
		}
	}

	params := url.Values{
		"q":               {query + c.suffix},
		"format":          {"jsonv2"},
		"addressdetails":  {"1"},
		"limit":           {strconv.Itoa(DefaultLimit)},
		"accept-language": {"en"},
	}
	var items []searchItem
	if err := c.getJSON(ctx, "/search", params, &items); err != nil {
		return nil, err
	}

	places := make([]Place, 0, len(items))
	for _, it := range items {
		lat, errLat := strconv.ParseFloat(it.Lat, 64)
		lon, errLon := strconv.ParseFloat(it.Lon, 64)
		if errLat != nil || errLon != nil {
			zap.L().Debug("nominatim: skipping result with bad coordinates", zap.String("name", it.DisplayName))
			continue
		}
		if c.keep != nil && !c.keep(lat, lon) {
			continue
		}
		places = append(places, Place{DisplayName: it.DisplayName, Lat: lat, Lon: lon, Type: it.Type})
	}

	if c.search != nil {
		c.search.Put(key, places)
	}
	return places, nil
}

// SearchBatch implements Client.
func (c *httpClient) SearchBatch(ctx context.Context, queries []string) ([][]Place, error) {
	out := make([][]Place, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, q := range queries {
		g.Go(func() error {
			places, err := c.Search(gctx, q)
			if err != nil {
				return eris.Wrapf(err, "nominatim: batch query %d", i)
			}
			out[i] = places
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Reverse implements Client.
func (c *httpClient) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	key := fmt.Sprintf("%.5f,%.5f", lat, lon)
	if c.reverse != nil {
		if name, ok := c.reverse.Get(key); ok {
			return name, nil
		}
	}

	params := url.Values{
		"lat":             {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":             {strconv.FormatFloat(lon, 'f', -1, 64)},
		"format":          {"jsonv2"},
		"accept-language": {"en"},
	}
	var rr reverseResponse
	if err := c.getJSON(ctx, "/reverse", params, &rr); err != nil {
		return "", err
	}
	if rr.Error != "" {
		zap.L().Debug("nominatim: reverse found nothing", zap.String("reason", rr.Error))
	}

	if c.reverse != nil {
		c.reverse.Put(key, rr.DisplayName)
	}
	return rr.DisplayName, nil
}

func (c *httpClient) getJSON(ctx context.Context, path string, params url.Values, dst any) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, c.retry, func(ctx context.Context) error {
			return c.get(ctx, path, params, dst)
		})
	})
}

func (c *httpClient) get(ctx context.Context, path string, params url.Values, dst any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "nominatim: rate limit")
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return eris.Wrap(err, "nominatim: build request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "nominatim: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := resilience.StatusError(serviceName, resp.StatusCode); err != nil {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return eris.Wrap(err, "nominatim: read body")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return eris.Wrap(err, "nominatim: parse response")
	}
	return nil
}
