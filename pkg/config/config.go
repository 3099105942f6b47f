package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds environment-driven process settings. Venue-specific wiring
// lives in venues.yaml, loaded separately via LoadVenues.
type Config struct {
	Port string
	DBPath string

	// VenuesPath points at the declarative venue configuration file (§6).
	VenuesPath string

	// AccountIDs is parsed from ACCOUNT_IDS. Nothing in this module reads
	// it: the session manager tracks the accounts it has opened sessions
	// for through GetOrCreate.
	AccountIDs []string

	// MarginWarningPct/MarginCriticalPct/MarginStopOutPct override the
	// default margin-monitor thresholds (§4.10).
	MarginWarningPct  float64
	MarginCriticalPct float64
	MarginStopOutPct  float64
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	_ = godotenv.Load() // ignore error: app still starts when .env is missing

	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/trading.db")
	}

	return &Config{
		Port:              getEnv("PORT", "8080"),
		DBPath:             dbPath,
		VenuesPath:         getEnv("VENUES_CONFIG_PATH", "./config/venues.yaml"),
		AccountIDs:         splitAndTrim(getEnv("ACCOUNT_IDS", "")),
		MarginWarningPct:   getEnvFloat("MARGIN_WARNING_PCT", 150),
		MarginCriticalPct:  getEnvFloat("MARGIN_CRITICAL_PCT", 120),
		MarginStopOutPct:   getEnvFloat("MARGIN_STOP_OUT_PCT", 100),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
