package services

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/ominous-one/Lotview-sub007/models"
	"github.com/ominous-one/Lotview-sub007/sources"
	"github.com/ominous-one/Lotview-sub007/storage"
)

// Run statuses written to the operation-tracking record.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RawSink receives the unioned raw record set of a run before dedup, for
// auditing. Optional.
type RawSink interface {
	WriteRaw(records []*models.RawListingRecord) error
}

// AggregatorConfig tunes one orchestrator instance.
type AggregatorConfig struct {
	// PremiumListingThreshold is the combined-output count at which the
	// remaining expensive scraper-tier adapters are skipped.
	PremiumListingThreshold int
	AdapterTimeout          time.Duration
	MaxRetries              int
	FuzzyMatchThreshold     int
}

// Aggregator invokes ranked source adapters sequentially, isolates
// per-source failures, deduplicates the union, and persists only new rows.
type Aggregator struct {
	store    storage.Store
	adapters []sources.Adapter
	dedup    *Deduplicator
	rawSink  RawSink

	premiumThreshold int
	adapterTimeout   time.Duration
	retry            RetryRunner
}

// RetryRunner is the minimal retry surface the orchestrator needs; satisfied
// by utils.RetryConfig.
type RetryRunner interface {
	Do(ctx context.Context, operationName string, fn func() error) error
}

// NewAggregator creates an orchestrator over the given adapters, which are
// reordered by ascending source rank.
func NewAggregator(store storage.Store, adapters []sources.Adapter, retry RetryRunner, cfg AggregatorConfig) *Aggregator {
	sources.SortByRank(adapters)
	if cfg.PremiumListingThreshold <= 0 {
		cfg.PremiumListingThreshold = 20
	}
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = 60 * time.Second
	}
	return &Aggregator{
		store:            store,
		adapters:         adapters,
		dedup:            NewDeduplicator(cfg.FuzzyMatchThreshold),
		premiumThreshold: cfg.PremiumListingThreshold,
		adapterTimeout:   cfg.AdapterTimeout,
		retry:            retry,
	}
}

// SetRawSink attaches an optional audit sink for the pre-dedup record union.
func (a *Aggregator) SetRawSink(sink RawSink) {
	a.rawSink = sink
}

// Run executes one aggregation pass for a search. It never returns an error:
// every failure is isolated into the result's error list, and partial output
// is always persisted.
func (a *Aggregator) Run(ctx context.Context, params models.SearchParams) *models.AggregationResult {
	result := &models.AggregationResult{
		RunID:           uuid.NewString(),
		PerSourceCounts: make(map[string]int),
		SourcesUsed:     []string{},
		Errors:          []string{},
	}

	a.trackRun(ctx, result.RunID, params.TenantID, RunStatusRunning, result)

	raw := a.fetchAll(ctx, params, result)
	result.TotalFetched = len(raw)

	if a.rawSink != nil {
		if err := a.rawSink.WriteRaw(raw); err != nil {
			log.WithError(err).Warn("raw audit sink failed")
		}
	}

	dedupRes := a.dedup.Resolve(raw)
	result.DuplicatesRemoved = dedupRes.DuplicatesRemoved
	result.MergedRecords = dedupRes.MergedRecords

	a.persist(ctx, params.TenantID, dedupRes, result)

	status := RunStatusCompleted
	if result.TotalFetched == 0 && len(result.Errors) > 0 {
		status = RunStatusFailed
	}
	a.trackRun(ctx, result.RunID, params.TenantID, status, result)

	log.Infof("aggregation run %s: fetched %d, new %d, duplicates %d, merged %d, updated %d, errors %d",
		result.RunID, result.TotalFetched, result.NewListings, result.DuplicatesRemoved,
		result.MergedRecords, result.UpdatedListings, len(result.Errors))

	return result
}

// fetchAll walks the ranked adapters sequentially (scraped sources have
// politeness requirements that forbid parallel hits), applying the
// sufficiency policy and isolating each failure.
func (a *Aggregator) fetchAll(ctx context.Context, params models.SearchParams, result *models.AggregationResult) []*models.RawListingRecord {
	var raw []*models.RawListingRecord
	tierProduced := make(map[sources.Tier]bool)

	for _, adapter := range a.adapters {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s: skipped, pipeline deadline exceeded", adapter.Name()))
			continue
		}

		// Sufficiency policy: an expensive fallback is pointless once the
		// cheaper sources already produced enough, and a same-tier source is
		// skipped when a higher-priority sibling delivered.
		if adapter.Tier() == sources.TierScraper && len(raw) >= a.premiumThreshold {
			log.Infof("skipping %s: %d listings already collected (threshold %d)",
				adapter.Name(), len(raw), a.premiumThreshold)
			continue
		}
		if tierProduced[adapter.Tier()] {
			log.Debugf("skipping %s: higher-priority %s-tier source already produced results",
				adapter.Name(), adapter.Tier())
			continue
		}

		records, err := a.fetchOne(ctx, adapter, params)
		if err != nil {
			log.WithError(err).Errorf("source %s failed", adapter.Name())
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", adapter.Name(), err))
			continue
		}

		rank := sources.Rank(adapter.Name())
		for _, r := range records {
			if r.Source == "" {
				r.Source = adapter.Name()
			}
			r.DataSourceRank = rank
		}

		result.PerSourceCounts[adapter.Name()] = len(records)
		if len(records) > 0 {
			result.SourcesUsed = append(result.SourcesUsed, adapter.Name())
			tierProduced[adapter.Tier()] = true
		}
		raw = append(raw, records...)

		log.Infof("source %s returned %d records (%d total)", adapter.Name(), len(records), len(raw))
	}

	return raw
}

// fetchOne wraps a single adapter call in its failure boundary: per-call
// timeout, retries, and panic recovery.
func (a *Aggregator) fetchOne(ctx context.Context, adapter sources.Adapter, params models.SearchParams) (records []*models.RawListingRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			records = nil
			err = fmt.Errorf("adapter panicked: %v", r)
		}
	}()

	call := func() error {
		fetchCtx, cancel := context.WithTimeout(ctx, a.adapterTimeout)
		defer cancel()
		var fetchErr error
		records, fetchErr = adapter.Fetch(fetchCtx, params)
		return fetchErr
	}

	if a.retry != nil {
		err = a.retry.Do(ctx, "fetch-"+adapter.Name(), call)
	} else {
		err = call()
	}
	return records, err
}

// persist diffs the canonical set against already-stored rows by URL, inserts
// only new ones (unique-constraint races are benign), and reconciles field
// upgrades into existing rows.
func (a *Aggregator) persist(ctx context.Context, tenantID string, dedupRes *DedupResult, result *models.AggregationResult) {
	if len(dedupRes.Listings) == 0 {
		return
	}

	urls := make([]string, len(dedupRes.Listings))
	for i, l := range dedupRes.Listings {
		urls[i] = l.ListingURL
	}

	existing, err := a.store.FindExistingByURLs(ctx, tenantID, urls)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("storage: existing-url lookup: %v", err))
		return
	}

	existingByURL := make(map[string]bool, len(existing))
	for _, ex := range existing {
		existingByURL[ex.ListingURL] = true
	}

	for _, l := range dedupRes.Listings {
		if existingByURL[l.ListingURL] {
			continue
		}
		if _, err := a.store.InsertListing(ctx, tenantID, l); err != nil {
			if storage.IsUniqueViolation(err) {
				log.Debugf("insert race on %s, row already present", l.ListingURL)
				continue
			}
			result.Errors = append(result.Errors, fmt.Sprintf("storage: insert %s: %v", l.ListingURL, err))
			continue
		}
		result.NewListings++
	}

	for _, changed := range ReconcilePersisted(dedupRes.Listings, existing) {
		if err := a.store.UpdateListing(ctx, changed); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("storage: update %s: %v", changed.ListingURL, err))
			continue
		}
		result.UpdatedListings++
	}
}

// trackRun updates the external operation-tracking record; failure to do so
// is logged, never propagated.
func (a *Aggregator) trackRun(ctx context.Context, runID, tenantID, status string, result *models.AggregationResult) {
	if err := a.store.UpdateRunStatus(ctx, runID, tenantID, status, result); err != nil {
		log.WithError(err).Warnf("failed to update run %s status to %s", runID, status)
	}
}
