package storage

import (
	"context"

	"github.com/ominous-one/Lotview-sub007/models"
)

// ListingFilter narrows QueryListings to one make/model/year-range search.
type ListingFilter struct {
	Make    string
	Model   string
	YearMin int
	YearMax int
}

// Store is the persistence gateway the engine runs against. Implementations
// must keep InsertListing idempotent at the database level via the unique
// listing-URL constraint; callers treat unique-violation races as benign.
type Store interface {
	// FindExistingByURLs returns the already-persisted listings among urls.
	FindExistingByURLs(ctx context.Context, tenantID string, urls []string) ([]*models.ExistingListing, error)

	// InsertListing persists one new canonical listing and returns its id.
	InsertListing(ctx context.Context, tenantID string, l *models.CanonicalListing) (int64, error)

	// UpdateListing overwrites a persisted row after reconciliation.
	UpdateListing(ctx context.Context, l *models.ExistingListing) error

	// QueryListings feeds the analysis engine.
	QueryListings(ctx context.Context, tenantID string, filter ListingFilter, limit int) ([]*models.ExistingListing, error)

	// InsertPriceHistoryBatch and InsertSnapshot are append-only sinks.
	InsertPriceHistoryBatch(ctx context.Context, records []*models.PriceHistoryRecord) error
	InsertSnapshot(ctx context.Context, snap *models.MarketSnapshot) error

	// UpdateRunStatus upserts the operation-tracking record for a run.
	UpdateRunStatus(ctx context.Context, runID, tenantID, status string, result *models.AggregationResult) error

	Close() error
}
