package services

import (
	"context"
	"errors"
	"testing"

	"github.com/lib/pq"

	"github.com/ominous-one/Lotview-sub007/models"
	"github.com/ominous-one/Lotview-sub007/sources"
	"github.com/ominous-one/Lotview-sub007/storage"
)

type fakeAdapter struct {
	name    string
	tier    sources.Tier
	records []*models.RawListingRecord
	err     error
	panics  bool
	calls   int
}

func (f *fakeAdapter) Name() string       { return f.name }
func (f *fakeAdapter) Rank() int          { return sources.Rank(f.name) }
func (f *fakeAdapter) Tier() sources.Tier { return f.tier }

func (f *fakeAdapter) Fetch(ctx context.Context, params models.SearchParams) ([]*models.RawListingRecord, error) {
	f.calls++
	if f.panics {
		panic("adapter blew up")
	}
	return f.records, f.err
}

type fakeStore struct {
	existing  []*models.ExistingListing
	insertErr error

	inserted []*models.CanonicalListing
	updated  []*models.ExistingListing
	statuses []string
	nextID   int64
}

var _ storage.Store = (*fakeStore)(nil)

func (s *fakeStore) FindExistingByURLs(ctx context.Context, tenantID string, urls []string) ([]*models.ExistingListing, error) {
	wanted := make(map[string]bool, len(urls))
	for _, u := range urls {
		wanted[u] = true
	}
	var out []*models.ExistingListing
	for _, ex := range s.existing {
		if wanted[ex.ListingURL] {
			out = append(out, ex)
		}
	}
	return out, nil
}

func (s *fakeStore) InsertListing(ctx context.Context, tenantID string, l *models.CanonicalListing) (int64, error) {
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	s.inserted = append(s.inserted, l)
	s.nextID++
	return s.nextID, nil
}

func (s *fakeStore) UpdateListing(ctx context.Context, l *models.ExistingListing) error {
	s.updated = append(s.updated, l)
	return nil
}

func (s *fakeStore) QueryListings(ctx context.Context, tenantID string, filter storage.ListingFilter, limit int) ([]*models.ExistingListing, error) {
	return s.existing, nil
}

func (s *fakeStore) InsertPriceHistoryBatch(ctx context.Context, records []*models.PriceHistoryRecord) error {
	return nil
}

func (s *fakeStore) InsertSnapshot(ctx context.Context, snap *models.MarketSnapshot) error {
	return nil
}

func (s *fakeStore) UpdateRunStatus(ctx context.Context, runID, tenantID, status string, result *models.AggregationResult) error {
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *fakeStore) Close() error { return nil }

func rawRecord(url, vin string, price float64) *models.RawListingRecord {
	return &models.RawListingRecord{
		ListingURL: url,
		VIN:        vin,
		Make:       "Honda",
		Model:      "Accord",
		Year:       2020,
		Price:      price,
	}
}

func TestRunIsolatesAdapterFailure(t *testing.T) {
	store := &fakeStore{}
	failing := &fakeAdapter{name: sources.SourcePricingAPI, tier: sources.TierAPI, err: errors.New("upstream 502")}
	rec1 := rawRecord("https://c.example/1", "", 20000)
	rec2 := rawRecord("https://c.example/2", "", 21000)
	rec2.Year = 2018 // distinct vehicles, must not merge
	working := &fakeAdapter{name: sources.SourceClassifieds, tier: sources.TierAPI, records: []*models.RawListingRecord{rec1, rec2}}

	agg := NewAggregator(store, []sources.Adapter{failing, working}, nil, AggregatorConfig{})
	result := agg.Run(context.Background(), models.SearchParams{TenantID: "t1"})

	if len(result.Errors) != 1 {
		t.Fatalf("errors: got %v, want exactly the failing source's", result.Errors)
	}
	if result.TotalFetched != 2 || result.NewListings != 2 {
		t.Errorf("fetched=%d new=%d, want 2/2 despite the failure", result.TotalFetched, result.NewListings)
	}
	if working.calls != 1 {
		t.Errorf("working adapter called %d times, want 1 (failed sibling must not block it)", working.calls)
	}
	if len(store.statuses) != 2 || store.statuses[1] != RunStatusCompleted {
		t.Errorf("run statuses = %v, want [running completed]", store.statuses)
	}
}

func TestRunRecoversAdapterPanic(t *testing.T) {
	store := &fakeStore{}
	bad := &fakeAdapter{name: sources.SourcePricingAPI, tier: sources.TierAPI, panics: true}

	agg := NewAggregator(store, []sources.Adapter{bad}, nil, AggregatorConfig{})
	result := agg.Run(context.Background(), models.SearchParams{TenantID: "t1"})

	if len(result.Errors) != 1 {
		t.Fatalf("errors: got %v, want one panic error", result.Errors)
	}
	if store.statuses[len(store.statuses)-1] != RunStatusFailed {
		t.Errorf("final status = %q, want failed when nothing was fetched", store.statuses[len(store.statuses)-1])
	}
}

func TestRunSufficiencyPolicy(t *testing.T) {
	store := &fakeStore{}
	api := &fakeAdapter{name: sources.SourcePricingAPI, tier: sources.TierAPI, records: []*models.RawListingRecord{
		rawRecord("https://a.example/1", "", 20000),
	}}
	siblingAPI := &fakeAdapter{name: sources.SourceSecondaryMarketplace, tier: sources.TierAPI, records: []*models.RawListingRecord{
		rawRecord("https://m.example/1", "", 20500),
	}}
	scraper := &fakeAdapter{name: sources.SourceFallbackScraper, tier: sources.TierScraper, records: []*models.RawListingRecord{
		rawRecord("https://s.example/1", "", 21000),
	}}

	agg := NewAggregator(store, []sources.Adapter{scraper, siblingAPI, api}, nil, AggregatorConfig{
		PremiumListingThreshold: 1,
	})
	result := agg.Run(context.Background(), models.SearchParams{TenantID: "t1"})

	if api.calls != 1 {
		t.Errorf("rank-1 adapter called %d times, want 1", api.calls)
	}
	if siblingAPI.calls != 0 {
		t.Errorf("same-tier sibling called %d times, want 0 once the tier produced", siblingAPI.calls)
	}
	if scraper.calls != 0 {
		t.Errorf("scraper called %d times, want 0 at the premium threshold", scraper.calls)
	}
	if result.TotalFetched != 1 {
		t.Errorf("fetched = %d, want 1", result.TotalFetched)
	}
}

func TestRunScraperFillsShortfall(t *testing.T) {
	store := &fakeStore{}
	api := &fakeAdapter{name: sources.SourcePricingAPI, tier: sources.TierAPI, records: []*models.RawListingRecord{
		rawRecord("https://a.example/1", "", 20000),
	}}
	scrapedRec := rawRecord("https://s.example/1", "", 21000)
	scrapedRec.Year = 2019 // distinct vehicle, must not merge with the api record
	scraper := &fakeAdapter{name: sources.SourceFallbackScraper, tier: sources.TierScraper, records: []*models.RawListingRecord{scrapedRec}}

	agg := NewAggregator(store, []sources.Adapter{api, scraper}, nil, AggregatorConfig{
		PremiumListingThreshold: 20,
	})
	result := agg.Run(context.Background(), models.SearchParams{TenantID: "t1"})

	if scraper.calls != 1 {
		t.Fatalf("scraper called %d times, want 1 below the threshold", scraper.calls)
	}
	if result.PerSourceCounts[sources.SourcePricingAPI] != 1 ||
		result.PerSourceCounts[sources.SourceFallbackScraper] != 1 {
		t.Errorf("per-source counts = %v", result.PerSourceCounts)
	}
	if len(result.SourcesUsed) != 2 {
		t.Errorf("sources used = %v, want both", result.SourcesUsed)
	}

	// The orchestrator stamps each record with its provider's rank.
	for _, l := range store.inserted {
		if l.Source == sources.SourceFallbackScraper && l.DataSourceRank != 4 {
			t.Errorf("scraped record rank = %d, want 4", l.DataSourceRank)
		}
		if l.Source == sources.SourcePricingAPI && l.DataSourceRank != 1 {
			t.Errorf("api record rank = %d, want 1", l.DataSourceRank)
		}
	}
}

func TestRunToleratesInsertRace(t *testing.T) {
	store := &fakeStore{insertErr: &pq.Error{Code: "23505"}}
	api := &fakeAdapter{name: sources.SourcePricingAPI, tier: sources.TierAPI, records: []*models.RawListingRecord{
		rawRecord("https://a.example/1", "", 20000),
	}}

	agg := NewAggregator(store, []sources.Adapter{api}, nil, AggregatorConfig{})
	result := agg.Run(context.Background(), models.SearchParams{TenantID: "t1"})

	if len(result.Errors) != 0 {
		t.Fatalf("a unique-violation race must be benign, got errors %v", result.Errors)
	}
	if result.NewListings != 0 {
		t.Errorf("newListings = %d, want 0 when the row already landed", result.NewListings)
	}
}

func TestRunReconcilesPersistedRows(t *testing.T) {
	store := &fakeStore{
		existing: []*models.ExistingListing{{
			ID: 7,
			CanonicalListing: models.CanonicalListing{
				RawListingRecord: models.RawListingRecord{
					ListingURL: "https://a.example/1", VIN: "1HGCM82633A004352",
					Price: 26000, Source: sources.SourceClassifieds,
					DataSourceRank: 6, SourceConfidence: 40,
				},
			},
		}},
	}
	api := &fakeAdapter{name: sources.SourcePricingAPI, tier: sources.TierAPI, records: []*models.RawListingRecord{
		rawRecord("https://a.example/1", "1HGCM82633A004352", 24900),
	}}

	agg := NewAggregator(store, []sources.Adapter{api}, nil, AggregatorConfig{})
	result := agg.Run(context.Background(), models.SearchParams{TenantID: "t1"})

	if result.NewListings != 0 {
		t.Errorf("newListings = %d, want 0 for an already-stored URL", result.NewListings)
	}
	if result.UpdatedListings != 1 || len(store.updated) != 1 {
		t.Fatalf("updatedListings = %d (%d update calls), want 1", result.UpdatedListings, len(store.updated))
	}
	if store.updated[0].Price != 24900 {
		t.Errorf("reconciled price = %.0f, want the higher-priority source's 24900", store.updated[0].Price)
	}
}
