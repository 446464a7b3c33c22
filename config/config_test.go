package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.PostgresHost != "localhost" || cfg.PostgresPort != "5432" {
		t.Errorf("postgres defaults = %s:%s", cfg.PostgresHost, cfg.PostgresPort)
	}
	if cfg.OutlierMultiplier != 3.0 {
		t.Errorf("outlier multiplier default = %v, want 3.0", cfg.OutlierMultiplier)
	}
	if cfg.FuzzyMatchThreshold != 70 {
		t.Errorf("fuzzy threshold default = %d, want 70", cfg.FuzzyMatchThreshold)
	}
	if cfg.PremiumListingThreshold != 20 {
		t.Errorf("premium threshold default = %d, want 20", cfg.PremiumListingThreshold)
	}
	if cfg.AdapterTimeout != 60*time.Second || cfg.PipelineTimeout != 300*time.Second {
		t.Errorf("timeouts = %v/%v", cfg.AdapterTimeout, cfg.PipelineTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SEARCH_MAKE", "Honda")
	t.Setenv("SEARCH_TRIMS", "EX, EX-L , ")
	t.Setenv("OUTLIER_MULTIPLIER", "2.5")
	t.Setenv("SCRAPER_ENABLED", "true")
	t.Setenv("ADAPTER_TIMEOUT_SEC", "15")

	cfg := Load()

	if cfg.SearchMake != "Honda" {
		t.Errorf("SearchMake = %q", cfg.SearchMake)
	}
	if len(cfg.SearchTrims) != 2 || cfg.SearchTrims[0] != "EX" || cfg.SearchTrims[1] != "EX-L" {
		t.Errorf("SearchTrims = %v, want trimmed two-element list", cfg.SearchTrims)
	}
	if cfg.OutlierMultiplier != 2.5 {
		t.Errorf("OutlierMultiplier = %v", cfg.OutlierMultiplier)
	}
	if !cfg.ScraperEnabled {
		t.Error("ScraperEnabled should parse true")
	}
	if cfg.AdapterTimeout != 15*time.Second {
		t.Errorf("AdapterTimeout = %v", cfg.AdapterTimeout)
	}
}

func TestDSN(t *testing.T) {
	cfg := &Config{
		PostgresHost:     "db",
		PostgresPort:     "5433",
		PostgresUser:     "u",
		PostgresPassword: "p",
		PostgresDB:       "market",
		PostgresSSLMode:  "require",
	}
	want := "host=db port=5433 user=u password=p dbname=market sslmode=require"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestGetEnvIntIgnoresGarbage(t *testing.T) {
	t.Setenv("MAX_RETRIES", "not-a-number")
	if got := getEnvInt("MAX_RETRIES", 3); got != 3 {
		t.Errorf("got %d, want the fallback 3", got)
	}
}
