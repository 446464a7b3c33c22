package main

import (
	"context"
	"os"
	"time"

	"github.com/apex/log"

	"github.com/ominous-one/Lotview-sub007/config"
	"github.com/ominous-one/Lotview-sub007/models"
	"github.com/ominous-one/Lotview-sub007/services"
	"github.com/ominous-one/Lotview-sub007/sources"
	"github.com/ominous-one/Lotview-sub007/sources/lotscraper"
	"github.com/ominous-one/Lotview-sub007/sources/pricingapi"
	"github.com/ominous-one/Lotview-sub007/storage"
	"github.com/ominous-one/Lotview-sub007/utils"
)

func main() {
	cfg := config.Load()

	log.Info("=== Lotview market data engine starting ===")

	if cfg.SearchMake == "" || cfg.SearchModel == "" {
		log.Error("SEARCH_MAKE and SEARCH_MODEL are required")
		os.Exit(1)
	}

	store, err := storage.NewPostgresStore(cfg.DSN())
	if err != nil {
		log.WithError(err).Error("failed to connect to PostgreSQL")
		os.Exit(1)
	}
	defer store.Close()

	adapters := buildAdapters(cfg)
	if len(adapters) == 0 {
		log.Error("no source adapters configured; set PRICING_API_BASE_URL or SCRAPER_ENABLED")
		os.Exit(1)
	}

	params := models.SearchParams{
		TenantID:           cfg.TenantID,
		Make:               cfg.SearchMake,
		Model:              cfg.SearchModel,
		YearMin:            cfg.SearchYearMin,
		YearMax:            cfg.SearchYearMax,
		Location:           cfg.SearchLocation,
		RadiusKm:           cfg.SearchRadiusKm,
		MaxResults:         cfg.MaxResults,
		Trims:              cfg.SearchTrims,
		SubjectMileage:     cfg.SubjectMileage,
		SubjectTargetPrice: cfg.SubjectTargetPrice,
	}

	retry := &utils.RetryConfig{MaxAttempts: cfg.MaxRetries, BaseDelay: 2 * time.Second}
	aggregator := services.NewAggregator(store, adapters, retry, services.AggregatorConfig{
		PremiumListingThreshold: cfg.PremiumListingThreshold,
		AdapterTimeout:          cfg.AdapterTimeout,
		MaxRetries:              cfg.MaxRetries,
		FuzzyMatchThreshold:     cfg.FuzzyMatchThreshold,
	})

	if cfg.CSVOutputPath != "" {
		csvWriter, err := storage.NewCSVWriter(cfg.CSVOutputPath)
		if err != nil {
			log.WithError(err).Warn("raw audit CSV disabled")
		} else {
			defer csvWriter.Close()
			aggregator.SetRawSink(csvWriter)
		}
	}

	// One deadline bounds the entire run, adapters included.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.PipelineTimeout)
	defer cancel()

	aggResult := aggregator.Run(ctx, params)
	for _, e := range aggResult.Errors {
		log.Warnf("aggregation: %s", e)
	}

	listings, err := store.QueryListings(ctx, params.TenantID, storage.ListingFilter{
		Make:    params.Make,
		Model:   params.Model,
		YearMin: params.YearMin,
		YearMax: params.YearMax,
	}, cfg.MaxResults)
	if err != nil {
		log.WithError(err).Error("failed to load stored listings for analysis")
		os.Exit(1)
	}

	engine := services.NewAnalysisEngine(store, cfg.OutlierMultiplier, cfg.PriceHistoryMaxRows)
	result := engine.Analyze(ctx, params, listings)

	services.NewReporter().Print(params, aggResult, result)

	if !result.Success && aggResult.TotalFetched == 0 {
		os.Exit(1)
	}
}

// buildAdapters wires the configured providers in priority order.
func buildAdapters(cfg *config.Config) []sources.Adapter {
	var adapters []sources.Adapter

	if cfg.PricingAPIBaseURL != "" {
		api, err := pricingapi.New(pricingapi.Options{
			BaseURL: cfg.PricingAPIBaseURL,
			APIKey:  cfg.PricingAPIKey,
			Timeout: cfg.PricingAPITimeout,
		})
		if err != nil {
			log.WithError(err).Warn("pricing API adapter disabled")
		} else {
			adapters = append(adapters, api)
		}
	}

	if cfg.ScraperEnabled {
		scraper, err := lotscraper.New(lotscraper.Options{
			StartURL:       cfg.ScraperStartURL,
			MaxConcurrency: cfg.MaxConcurrency,
			RateLimitMs:    cfg.RateLimitMs,
			MaxRetries:     cfg.MaxRetries,
			ChromeBin:      cfg.ChromeBin,
		})
		if err != nil {
			log.WithError(err).Warn("fallback scraper adapter disabled")
		} else {
			adapters = append(adapters, scraper)
		}
	}

	return adapters
}
