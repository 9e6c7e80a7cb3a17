package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/safespace/saferoute/internal/db"
	"github.com/safespace/saferoute/internal/model"
	"github.com/safespace/saferoute/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Server          ServerConfig          `yaml:"server" mapstructure:"server"`
	Log             LogConfig             `yaml:"log" mapstructure:"log"`
	OSRM            OSRMConfig            `yaml:"osrm" mapstructure:"osrm"`
	Nominatim       NominatimConfig       `yaml:"nominatim" mapstructure:"nominatim"`
	Datasets        DatasetsConfig        `yaml:"datasets" mapstructure:"datasets"`
	Bounds          model.BBox            `yaml:"bounds" mapstructure:"bounds"`
	Optimizer       OptimizerConfig       `yaml:"optimizer" mapstructure:"optimizer"`
	Store           StoreConfig           `yaml:"store" mapstructure:"store"`
	Personalization PersonalizationConfig `yaml:"personalization" mapstructure:"personalization"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port              int      `yaml:"port" mapstructure:"port"`
	RequestBudgetSecs int      `yaml:"request_budget_secs" mapstructure:"request_budget_secs"`
	CORSOrigins       []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// RequestBudget is the overall time allowed for one optimization.
func (s ServerConfig) RequestBudget() time.Duration {
	return time.Duration(s.RequestBudgetSecs) * time.Second
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// OSRMConfig configures the routing engine client.
type OSRMConfig struct {
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	Profile      string  `yaml:"profile" mapstructure:"profile"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	MaxAttempts  int     `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// NominatimConfig configures the geocoding client.
type NominatimConfig struct {
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent       string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RPS             float64 `yaml:"rps" mapstructure:"rps"`
	CacheSize       int     `yaml:"cache_size" mapstructure:"cache_size"`
	CacheTTLMinutes int     `yaml:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes"`
	SearchSuffix    string  `yaml:"search_suffix" mapstructure:"search_suffix"`
}

// DatasetsConfig locates the risk layer files.
type DatasetsConfig struct {
	Dir        string `yaml:"dir" mapstructure:"dir"`
	Crime      string `yaml:"crime" mapstructure:"crime"`
	Lighting   string `yaml:"lighting" mapstructure:"lighting"`
	Population string `yaml:"population" mapstructure:"population"`
	Manifest   string `yaml:"manifest" mapstructure:"manifest"`
}

// OptimizerConfig tunes candidate generation and ranking.
type OptimizerConfig struct {
	Concurrency         int     `yaml:"concurrency" mapstructure:"concurrency"`
	MaxWaypoints        int     `yaml:"max_waypoints" mapstructure:"max_waypoints"`
	TopN                int     `yaml:"top_n" mapstructure:"top_n"`
	DetourRatio         float64 `yaml:"detour_ratio" mapstructure:"detour_ratio"`
	EndpointToleranceKm float64 `yaml:"endpoint_tolerance_km" mapstructure:"endpoint_tolerance_km"`
}

// StoreConfig configures the ratings backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// Options converts the section into store.Open's config.
func (s StoreConfig) Options() store.Config {
	return store.Config{
		Driver:      s.Driver,
		DatabaseURL: s.DatabaseURL,
		Pool:        db.PoolConfig{MaxConns: s.MaxConns, MinConns: s.MinConns},
	}
}

// PersonalizationConfig controls feedback-driven ranking adjustments.
type PersonalizationConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	LikedBonus float64 `yaml:"liked_bonus" mapstructure:"liked_bonus"`
	MinRatings int     `yaml:"min_ratings" mapstructure:"min_ratings"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SAFEROUTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_budget_secs", 25)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("osrm.base_url", "https://router.project-osrm.org")
	v.SetDefault("osrm.profile", "driving")
	v.SetDefault("osrm.timeout_secs", 10)
	v.SetDefault("osrm.rate_limit_rps", 10)
	v.SetDefault("osrm.max_attempts", 2)
	v.SetDefault("nominatim.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("nominatim.user_agent", "saferoute/1.0")
	v.SetDefault("nominatim.timeout_secs", 5)
	v.SetDefault("nominatim.rps", 1)
	v.SetDefault("nominatim.cache_size", 1000)
	v.SetDefault("nominatim.cache_ttl_minutes", 24*60)
	v.SetDefault("nominatim.search_suffix", ", Bangalore, India")
	v.SetDefault("datasets.dir", "data")
	v.SetDefault("datasets.crime", "crime.csv")
	v.SetDefault("datasets.lighting", "lighting.csv")
	v.SetDefault("datasets.population", "population.csv")
	v.SetDefault("datasets.manifest", "datasets.yaml")
	v.SetDefault("bounds.min_lat", model.BangaloreBounds.MinLat)
	v.SetDefault("bounds.min_lon", model.BangaloreBounds.MinLon)
	v.SetDefault("bounds.max_lat", model.BangaloreBounds.MaxLat)
	v.SetDefault("bounds.max_lon", model.BangaloreBounds.MaxLon)
	v.SetDefault("optimizer.concurrency", 6)
	v.SetDefault("optimizer.max_waypoints", 25)
	v.SetDefault("optimizer.top_n", 7)
	v.SetDefault("optimizer.detour_ratio", 1.8)
	v.SetDefault("optimizer.endpoint_tolerance_km", 0.2)
	v.SetDefault("store.driver", store.DriverSQLite)
	v.SetDefault("store.database_url", "saferoute.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("personalization.enabled", true)
	v.SetDefault("personalization.liked_bonus", 0.05)
	v.SetDefault("personalization.min_ratings", 3)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// Validate checks the settings a command needs. Bounds and the store driver
// are always checked; mode adds command-specific requirements.
func (c *Config) Validate(mode string) error {
	var missing []string

	b := c.Bounds
	if b.MinLat >= b.MaxLat || b.MinLon >= b.MaxLon {
		missing = append(missing, "bounds min must be below max")
	}
	switch c.Store.Driver {
	case store.DriverSQLite, store.DriverPostgres, store.DriverNone:
	default:
		missing = append(missing, fmt.Sprintf("store.driver %q is unknown", c.Store.Driver))
	}
	if c.Optimizer.DetourRatio < 1 {
		missing = append(missing, "optimizer.detour_ratio must be at least 1")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			missing = append(missing, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
		}
	case "store":
		if c.Store.Driver == store.DriverPostgres && c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url is required")
		}
		if c.Store.Driver == store.DriverNone {
			missing = append(missing, "store.driver must not be none")
		}
	}

	if len(missing) > 0 {
		return eris.Errorf("config: %s", strings.Join(missing, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrapf(err, "config: parse log level %q", cfg.Level)
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
