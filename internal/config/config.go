// Package config loads swarm service settings from an optional .env file
// and the process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/signalsfoundry/drone-formation-sim/model"
)

// DefaultGeocoderURL is the public Nominatim search endpoint.
const DefaultGeocoderURL = "https://nominatim.openstreetmap.org"

// Config holds everything the binaries need to wire a swarm.
type Config struct {
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string

	Address           string
	GeocoderURL       string
	GeocoderUserAgent string
	GeocodeTimeout    time.Duration

	Formation model.FormationConfig
	Motion    model.MotionConfig

	FrameInterval time.Duration
	AutoStart     bool
}

// Load reads the given .env files (".env" when none are named) into the
// environment without overriding variables that are already set, then
// builds a Config. Missing .env files are not an error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(), nil
}

// FromEnv builds a Config from environment variables, falling back to
// defaults for anything unset or unparsable.
func FromEnv() *Config {
	return &Config{
		GRPCAddr:    getEnv("SWARM_GRPC_ADDR", ":50051"),
		HTTPAddr:    getEnv("SWARM_HTTP_ADDR", ":8080"),
		MetricsAddr: getEnv("SWARM_METRICS_ADDR", ":9090"),

		Address:           getEnv("SWARM_ADDRESS", ""),
		GeocoderURL:       getEnv("SWARM_GEOCODER_URL", DefaultGeocoderURL),
		GeocoderUserAgent: getEnv("SWARM_GEOCODER_USER_AGENT", "drone-formation-sim/1.0"),
		GeocodeTimeout:    getEnvDuration("SWARM_GEOCODE_TIMEOUT", 5*time.Second),

		Formation: model.FormationConfig{
			DroneCount:  getEnvInt("SWARM_DRONE_COUNT", model.DefaultFormation.DroneCount),
			SpacingFeet: getEnvFloat("SWARM_SPACING_FEET", model.DefaultFormation.SpacingFeet),
		},
		Motion: model.MotionConfig{
			SpeedMph:  getEnvFloat("SWARM_SPEED_MPH", model.DefaultMotion.SpeedMph),
			Direction: model.ParseDirection(getEnv("SWARM_DIRECTION", string(model.DefaultMotion.Direction))),
		},

		FrameInterval: getEnvDuration("SWARM_FRAME_INTERVAL", 16*time.Millisecond),
		AutoStart:     getEnvBool("SWARM_AUTOSTART", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
