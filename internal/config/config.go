package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/quake-exposure/internal/domain"
)

// Spatial index choices for SPATIAL_INDEX.
const (
	IndexGrid   = "grid"
	IndexLinear = "linear"
)

const (
	defaultUSGSBaseURL = "https://earthquake.usgs.gov/fdsnws/event/1/query"
	defaultPlacesURL   = "https://d2ad6b4ur7yvpq.cloudfront.net/naturalearth-3.3.0/ne_10m_populated_places_simple.geojson"
)

// DefaultPlaceCountries is the Natural Earth adm0name allow-list applied when
// PLACES_COUNTRIES is unset.
var DefaultPlaceCountries = []string{
	"Afghanistan", "Armenia", "Azerbaijan", "Bahrain", "Bangladesh",
	"Bhutan", "Brunei", "Cambodia", "China", "Georgia", "India",
	"Indonesia", "Iran", "Iraq", "Israel", "Japan", "Jordan", "Kazakhstan",
	"Kuwait", "Kyrgyzstan", "Laos", "Lebanon", "Malaysia", "Maldives",
	"Mongolia", "Myanmar", "Nepal", "North Korea", "Oman", "Pakistan",
	"Palestine", "Philippines", "Qatar", "Saudi Arabia", "Singapore",
	"South Korea", "Sri Lanka", "Syria", "Taiwan", "Tajikistan", "Thailand",
	"Timor-Leste", "Turkey", "Turkmenistan", "United Arab Emirates",
	"Uzbekistan", "Vietnam", "Yemen", "Russia",
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Scoring configuration.
	ScoreInterval   time.Duration
	Scoring         domain.ScoringConfig
	ScoringWorkers  int
	SpatialIndex    string
	GridCellDegrees float64

	// USGS event feed.
	USGSBaseURL      string
	USGSDaysBack     int
	USGSMinMagnitude float64
	USGSTimeout      time.Duration
	USGSCacheTTL     time.Duration

	// Natural Earth populated places.
	PlacesURL           string
	PlacesCacheDir      string
	PlacesCacheTTL      time.Duration
	PlacesMinPopulation float64
	PlacesCountries     []string // nil admits every country

	// Sinks.
	KafkaEnabled   bool
	KafkaBrokers   []string
	KafkaSinkTopic string
	DatabaseURL    string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	p := &parser{}
	defaults := domain.DefaultAttenuation()

	cfg := &Config{
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		ScoreInterval: p.duration("SCORE_INTERVAL", 15*time.Minute),
		Scoring: domain.ScoringConfig{
			InfluenceRadiusKm:      p.float("INFLUENCE_RADIUS_KM", domain.DefaultInfluenceRadiusKm),
			MinMagnitudeConsidered: p.float("MIN_MAGNITUDE_CONSIDERED", domain.DefaultMinMagnitudeConsidered),
			Attenuation: domain.AttenuationModel{
				A:       p.float("ATTENUATION_A", defaults.A),
				B:       p.float("ATTENUATION_B", defaults.B),
				C:       p.float("ATTENUATION_C", defaults.C),
				D:       p.float("ATTENUATION_D", defaults.D),
				Version: sharedcfg.EnvOrDefault("ATTENUATION_VERSION", defaults.Version),
			},
		},
		ScoringWorkers:  p.positiveInt("SCORING_WORKERS", 4),
		SpatialIndex:    strings.ToLower(sharedcfg.EnvOrDefault("SPATIAL_INDEX", IndexGrid)),
		GridCellDegrees: p.float("GRID_CELL_DEGREES", 5),

		USGSBaseURL:      sharedcfg.EnvOrDefault("USGS_BASE_URL", defaultUSGSBaseURL),
		USGSDaysBack:     p.positiveInt("USGS_DAYS_BACK", 30),
		USGSMinMagnitude: p.float("USGS_MIN_MAGNITUDE", 5.0),
		USGSTimeout:      p.duration("USGS_TIMEOUT", 10*time.Second),
		USGSCacheTTL:     p.duration("USGS_CACHE_TTL", 5*time.Minute),

		PlacesURL:           sharedcfg.EnvOrDefault("PLACES_URL", defaultPlacesURL),
		PlacesCacheDir:      sharedcfg.EnvOrDefault("PLACES_CACHE_DIR", "data"),
		PlacesCacheTTL:      p.duration("PLACES_CACHE_TTL", 7*24*time.Hour),
		PlacesMinPopulation: p.float("PLACES_MIN_POPULATION", 100000),
		PlacesCountries:     parseCountries(os.Getenv("PLACES_COUNTRIES")),

		KafkaBrokers:   sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSinkTopic: sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "place-exposure"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
	}

	cfg.KafkaEnabled = os.Getenv("KAFKA_BROKERS") != ""
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		cfg.KafkaEnabled = v == "true"
	}

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Scoring.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring settings (INFLUENCE_RADIUS_KM, MIN_MAGNITUDE_CONSIDERED, ATTENUATION_*): %w", err)
	}
	if cfg.SpatialIndex != IndexGrid && cfg.SpatialIndex != IndexLinear {
		return nil, fmt.Errorf("invalid SPATIAL_INDEX %q: must be %q or %q", cfg.SpatialIndex, IndexGrid, IndexLinear)
	}
	if cfg.GridCellDegrees <= 0 || cfg.GridCellDegrees > 180 {
		return nil, errors.New("GRID_CELL_DEGREES must be in (0, 180]")
	}
	if cfg.USGSBaseURL == "" {
		return nil, errors.New("USGS_BASE_URL is required")
	}
	if cfg.PlacesURL == "" {
		return nil, errors.New("PLACES_URL is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.KafkaEnabled && cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}

	return cfg, nil
}

// parser reads typed variables and keeps the first failure.
type parser struct {
	err error
}

func (p *parser) fail(name, value string) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %q", name, value)
	}
}

func (p *parser) duration(name string, def time.Duration) time.Duration {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		p.fail(name, s)
		return def
	}
	return d
}

func (p *parser) float(name string, def float64) float64 {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		p.fail(name, s)
		return def
	}
	return f
}

func (p *parser) positiveInt(name string, def int) int {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		p.fail(name, s)
		return def
	}
	return n
}

// parseCountries splits a comma-separated allow-list. "*" admits every country.
func parseCountries(s string) []string {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return DefaultPlaceCountries
	case "*":
		return nil
	}
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
