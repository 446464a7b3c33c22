package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/joho/godotenv"
)

// Config holds all engine configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Pricing API source.
	PricingAPIBaseURL string
	PricingAPIKey     string
	PricingAPITimeout time.Duration

	// Fallback scraper source.
	ScraperEnabled  bool
	ScraperStartURL string
	MaxConcurrency  int
	RateLimitMs     int
	ChromeBin       string

	// Orchestration.
	MaxRetries              int
	AdapterTimeout          time.Duration
	PipelineTimeout         time.Duration
	PremiumListingThreshold int

	// Calibration knobs. Both carry undocumented heuristics inherited from
	// production behavior; keep them configurable until calibrated against
	// real data.
	OutlierMultiplier   float64
	FuzzyMatchThreshold int

	MaxResults          int
	PriceHistoryMaxRows int

	// Optional raw-record audit export; empty disables it.
	CSVOutputPath string

	// The search request a batch run executes.
	TenantID           string
	SearchMake         string
	SearchModel        string
	SearchYearMin      int
	SearchYearMax      int
	SearchLocation     string
	SearchRadiusKm     int
	SearchTrims        []string
	SubjectMileage     int
	SubjectTargetPrice float64
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found, falling back to system env vars")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "lotview"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "lotview123"),
		PostgresDB:       getEnv("POSTGRES_DB", "market_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		PricingAPIBaseURL: getEnv("PRICING_API_BASE_URL", ""),
		PricingAPIKey:     getEnv("PRICING_API_KEY", ""),
		PricingAPITimeout: getEnvDuration("PRICING_API_TIMEOUT_SEC", 20),

		ScraperEnabled:  getEnvBool("SCRAPER_ENABLED", false),
		ScraperStartURL: getEnv("SCRAPER_START_URL", ""),
		MaxConcurrency:  getEnvInt("MAX_CONCURRENCY", 3),
		RateLimitMs:     getEnvInt("RATE_LIMIT_MS", 2000),
		ChromeBin:       getEnv("CHROME_BIN", ""),

		MaxRetries:              getEnvInt("MAX_RETRIES", 3),
		AdapterTimeout:          getEnvDuration("ADAPTER_TIMEOUT_SEC", 60),
		PipelineTimeout:         getEnvDuration("PIPELINE_TIMEOUT_SEC", 300),
		PremiumListingThreshold: getEnvInt("PREMIUM_LISTING_THRESHOLD", 20),

		OutlierMultiplier:   getEnvFloat("OUTLIER_MULTIPLIER", 3.0),
		FuzzyMatchThreshold: getEnvInt("FUZZY_MATCH_THRESHOLD", 70),

		MaxResults:          getEnvInt("MAX_RESULTS", 100),
		PriceHistoryMaxRows: getEnvInt("PRICE_HISTORY_MAX_ROWS", 50),

		CSVOutputPath: getEnv("CSV_OUTPUT_PATH", ""),

		TenantID:           getEnv("TENANT_ID", "default"),
		SearchMake:         getEnv("SEARCH_MAKE", ""),
		SearchModel:        getEnv("SEARCH_MODEL", ""),
		SearchYearMin:      getEnvInt("SEARCH_YEAR_MIN", 0),
		SearchYearMax:      getEnvInt("SEARCH_YEAR_MAX", 0),
		SearchLocation:     getEnv("SEARCH_LOCATION", ""),
		SearchRadiusKm:     getEnvInt("SEARCH_RADIUS_KM", 0),
		SearchTrims:        getEnvList("SEARCH_TRIMS"),
		SubjectMileage:     getEnvInt("SUBJECT_MILEAGE", 0),
		SubjectTargetPrice: getEnvFloat("SUBJECT_TARGET_PRICE", 0),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
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
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvDuration(key string, fallbackSec int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackSec)) * time.Second
}
