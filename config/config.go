package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"plot-server/models"
)

// Config holds all application configuration. Values come from an optional
// YAML file, then .env, then the process environment, later sources winning.
type Config struct {
	Port           string   `yaml:"port"`
	Env            string   `yaml:"env"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	JWTSecret      string   `yaml:"-"`

	MongoURI           string `yaml:"mongodb_uri"`
	MongoDB            string `yaml:"mongodb_db"`
	ListingsCollection string `yaml:"listings_collection"`
	SeedFile           string `yaml:"seed_file"`

	RedisAddr      string        `yaml:"redis_addr"`
	RedisDB        int           `yaml:"redis_db"`
	LocationTTL    time.Duration `yaml:"location_ttl"`
	SessionIdleTTL time.Duration `yaml:"session_idle_ttl"`

	GoogleMapsAPIKey   string  `yaml:"-"`
	GeocodeBaseURL     string  `yaml:"geocode_base_url"`
	GeocodeRPS         float64 `yaml:"geocode_rps"`
	GeocodeConcurrency int     `yaml:"geocode_concurrency"`

	FallbackLat float64  `yaml:"fallback_lat"`
	FallbackLon float64  `yaml:"fallback_lon"`
	AmenityTags []string `yaml:"amenity_tags"`
}

func defaults() *Config {
	return &Config{
		Port:               "8080",
		Env:                "production",
		AllowedOrigins:     []string{"http://localhost:3000", "http://localhost:8081"},
		MongoURI:           "mongodb://localhost:27017",
		MongoDB:            "garden_db",
		ListingsCollection: "listings",
		SeedFile:           "./data/listings.json",
		RedisAddr:          "localhost:6379",
		LocationTTL:        30 * time.Minute,
		SessionIdleTTL:     2 * time.Hour,
		GeocodeBaseURL:     "https://maps.googleapis.com",
		GeocodeRPS:         10,
		GeocodeConcurrency: 1,
		// Calgary
		FallbackLat: 51.0447,
		FallbackLon: -114.0719,
		AmenityTags: append([]string(nil), models.DefaultAmenityTags...),
	}
}

// Load builds the configuration. A missing YAML file or .env file is not an error.
func Load() (*Config, error) {
	cfg := defaults()

	path := getEnv("CONFIG_FILE", "config.yaml")
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Env = getEnv("APP_ENV", cfg.Env)
	cfg.AllowedOrigins = getEnvList("ALLOWED_ORIGINS", cfg.AllowedOrigins)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)

	cfg.MongoURI = getEnv("MONGODB_URI", cfg.MongoURI)
	cfg.MongoDB = getEnv("MONGODB_DB", cfg.MongoDB)
	cfg.ListingsCollection = getEnv("LISTINGS_COLLECTION", cfg.ListingsCollection)
	cfg.SeedFile = getEnv("SEED_FILE", cfg.SeedFile)

	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB)
	cfg.LocationTTL = getEnvDuration("LOCATION_TTL", cfg.LocationTTL)
	cfg.SessionIdleTTL = getEnvDuration("SESSION_IDLE_TTL", cfg.SessionIdleTTL)

	cfg.GoogleMapsAPIKey = getEnv("GOOGLE_MAPS_API_KEY", cfg.GoogleMapsAPIKey)
	cfg.GeocodeBaseURL = getEnv("GEOCODE_BASE_URL", cfg.GeocodeBaseURL)
	cfg.GeocodeRPS = getEnvFloat("GEOCODE_RPS", cfg.GeocodeRPS)
	cfg.GeocodeConcurrency = getEnvInt("GEOCODE_CONCURRENCY", cfg.GeocodeConcurrency)

	cfg.FallbackLat = getEnvFloat("FALLBACK_LAT", cfg.FallbackLat)
	cfg.FallbackLon = getEnvFloat("FALLBACK_LON", cfg.FallbackLon)
	cfg.AmenityTags = getEnvList("AMENITY_TAGS", cfg.AmenityTags)

	return cfg, nil
}

// Validate reports the first missing or malformed setting.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable is not set")
	}
	if c.GoogleMapsAPIKey == "" {
		return errors.New("GOOGLE_MAPS_API_KEY environment variable is not set")
	}
	if c.GeocodeConcurrency < 1 {
		return fmt.Errorf("GEOCODE_CONCURRENCY must be at least 1, got %d", c.GeocodeConcurrency)
	}
	if c.GeocodeRPS <= 0 {
		return fmt.Errorf("GEOCODE_RPS must be positive, got %v", c.GeocodeRPS)
	}
	if len(c.AmenityTags) == 0 {
		return errors.New("at least one amenity tag must be configured")
	}
	fallback := models.Coordinate{Latitude: c.FallbackLat, Longitude: c.FallbackLon}
	if !fallback.Valid() {
		return fmt.Errorf("fallback coordinate out of range: %v,%v", c.FallbackLat, c.FallbackLon)
	}
	return nil
}

// Fallback is the map center used when the user's location is unavailable.
func (c *Config) Fallback() models.Coordinate {
	return models.Coordinate{Latitude: c.FallbackLat, Longitude: c.FallbackLon}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
		log.Printf("Invalid %s value %q, keeping %d", key, val, fallback)
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
		log.Printf("Invalid %s value %q, keeping %v", key, val, fallback)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
		log.Printf("Invalid %s value %q, keeping %v", key, val, fallback)
	}
	return fallback
}

// getEnvList splits a comma separated variable, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
