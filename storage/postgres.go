package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/ominous-one/Lotview-sub007/models"
)

// PostgresStore persists canonical listings, price history, and market
// snapshots to PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use store.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return s, nil
}

// NewPostgresStoreFromDB wraps an existing handle; used by tests.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS listings (
			id                SERIAL PRIMARY KEY,
			tenant_id         VARCHAR(64)  NOT NULL,
			external_id       TEXT         NOT NULL DEFAULT '',
			source            VARCHAR(64)  NOT NULL,
			listing_url       TEXT         NOT NULL,
			listing_type      VARCHAR(16)  NOT NULL DEFAULT '',
			year              INT          NOT NULL DEFAULT 0,
			make              TEXT         NOT NULL DEFAULT '',
			model             TEXT         NOT NULL DEFAULT '',
			trim              TEXT         NOT NULL DEFAULT '',
			price             NUMERIC(12,2) NOT NULL DEFAULT 0,
			mileage           INT          NOT NULL DEFAULT 0,
			location          TEXT         NOT NULL DEFAULT '',
			seller_name       TEXT         NOT NULL DEFAULT '',
			vin               VARCHAR(17)  NOT NULL DEFAULT '',
			image_url         TEXT         NOT NULL DEFAULT '',
			exterior_color    TEXT         NOT NULL DEFAULT '',
			interior_color    TEXT         NOT NULL DEFAULT '',
			specs             TEXT         NOT NULL DEFAULT '',
			features          TEXT[]       NOT NULL DEFAULT '{}',
			history_badges    TEXT         NOT NULL DEFAULT '',
			dealer_rating     NUMERIC(4,2) NOT NULL DEFAULT 0,
			days_on_lot       INT          NOT NULL DEFAULT 0,
			posted_date       TIMESTAMPTZ,
			source_confidence INT          NOT NULL DEFAULT 0,
			data_source_rank  INT          NOT NULL DEFAULT 10,
			vehicle_hash      VARCHAR(32)  NOT NULL DEFAULT '',
			merged_count      INT          NOT NULL DEFAULT 1,
			created_at        TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			UNIQUE (tenant_id, listing_url)
		);

		CREATE INDEX IF NOT EXISTS idx_listings_vin          ON listings(vin);
		CREATE INDEX IF NOT EXISTS idx_listings_vehicle_hash ON listings(vehicle_hash);
		CREATE INDEX IF NOT EXISTS idx_listings_make_model   ON listings(tenant_id, make, model, year);

		CREATE TABLE IF NOT EXISTS price_history (
			id          SERIAL PRIMARY KEY,
			tenant_id   VARCHAR(64) NOT NULL,
			listing_url TEXT        NOT NULL,
			vin         VARCHAR(17) NOT NULL DEFAULT '',
			price       NUMERIC(12,2) NOT NULL,
			mileage     INT         NOT NULL DEFAULT 0,
			source      VARCHAR(64) NOT NULL DEFAULT '',
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_price_history_url ON price_history(tenant_id, listing_url);

		CREATE TABLE IF NOT EXISTS market_snapshots (
			id                 SERIAL PRIMARY KEY,
			tenant_id          VARCHAR(64) NOT NULL,
			make               TEXT        NOT NULL,
			model              TEXT        NOT NULL,
			year_min           INT         NOT NULL DEFAULT 0,
			year_max           INT         NOT NULL DEFAULT 0,
			listing_count      INT         NOT NULL DEFAULT 0,
			mean_price         NUMERIC(12,2) NOT NULL DEFAULT 0,
			median_price       NUMERIC(12,2) NOT NULL DEFAULT 0,
			min_price          NUMERIC(12,2) NOT NULL DEFAULT 0,
			max_price          NUMERIC(12,2) NOT NULL DEFAULT 0,
			p10                NUMERIC(12,2) NOT NULL DEFAULT 0,
			p25                NUMERIC(12,2) NOT NULL DEFAULT 0,
			p50                NUMERIC(12,2) NOT NULL DEFAULT 0,
			p75                NUMERIC(12,2) NOT NULL DEFAULT 0,
			p90                NUMERIC(12,2) NOT NULL DEFAULT 0,
			avg_days_on_market INT         NOT NULL DEFAULT 0,
			sources            TEXT[]      NOT NULL DEFAULT '{}',
			search_params      TEXT        NOT NULL DEFAULT '',
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS aggregation_runs (
			id                 VARCHAR(36) PRIMARY KEY,
			tenant_id          VARCHAR(64) NOT NULL,
			status             VARCHAR(16) NOT NULL,
			total_fetched      INT         NOT NULL DEFAULT 0,
			new_listings       INT         NOT NULL DEFAULT 0,
			duplicates_removed INT         NOT NULL DEFAULT 0,
			merged_records     INT         NOT NULL DEFAULT 0,
			error_count        INT         NOT NULL DEFAULT 0,
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

const listingColumns = `id, tenant_id, external_id, source, listing_url, listing_type,
		year, make, model, trim, price, mileage, location, seller_name, vin,
		image_url, exterior_color, interior_color, specs, features, history_badges,
		dealer_rating, days_on_lot, posted_date, source_confidence, data_source_rank,
		vehicle_hash, merged_count, created_at`

// FindExistingByURLs returns the already-persisted listings among urls.
func (s *PostgresStore) FindExistingByURLs(ctx context.Context, tenantID string, urls []string) ([]*models.ExistingListing, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE tenant_id = $1 AND listing_url = ANY($2)
	`, tenantID, pq.Array(urls))
	if err != nil {
		return nil, fmt.Errorf("postgres: find by urls: %w", err)
	}
	defer rows.Close()

	return scanListings(rows)
}

// InsertListing persists one new canonical listing. A duplicate URL surfaces
// as a unique-constraint error; use IsUniqueViolation to treat the race as
// benign.
func (s *PostgresStore) InsertListing(ctx context.Context, tenantID string, l *models.CanonicalListing) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO listings (
			tenant_id, external_id, source, listing_url, listing_type,
			year, make, model, trim, price, mileage, location, seller_name, vin,
			image_url, exterior_color, interior_color, specs, features, history_badges,
			dealer_rating, days_on_lot, posted_date, source_confidence, data_source_rank,
			vehicle_hash, merged_count
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,
			$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27
		) RETURNING id
	`,
		tenantID, l.ExternalID, l.Source, l.ListingURL, l.ListingType,
		l.Year, l.Make, l.Model, l.Trim, l.Price, l.Mileage, l.Location, l.SellerName, l.VIN,
		l.ImageURL, l.ExteriorColor, l.InteriorColor, l.Specs, pq.Array(l.Features), l.HistoryBadges,
		l.DealerRating, l.DaysOnLot, nullTime(l.PostedDate), l.SourceConfidence, l.DataSourceRank,
		l.VehicleHash, l.MergedCount,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert listing: %w", err)
	}
	return id, nil
}

// UpdateListing overwrites a persisted row after reconciliation.
func (s *PostgresStore) UpdateListing(ctx context.Context, l *models.ExistingListing) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE listings SET
			trim = $1, price = $2, mileage = $3, location = $4, seller_name = $5,
			vin = $6, image_url = $7, exterior_color = $8, interior_color = $9,
			specs = $10, features = $11, history_badges = $12, dealer_rating = $13,
			days_on_lot = $14, posted_date = $15, source_confidence = $16,
			listing_type = $17, merged_count = $18
		WHERE id = $19
	`,
		l.Trim, l.Price, l.Mileage, l.Location, l.SellerName,
		l.VIN, l.ImageURL, l.ExteriorColor, l.InteriorColor,
		l.Specs, pq.Array(l.Features), l.HistoryBadges, l.DealerRating,
		l.DaysOnLot, nullTime(l.PostedDate), l.SourceConfidence,
		l.ListingType, l.MergedCount, l.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: update listing %d: %w", l.ID, err)
	}
	return nil
}

// QueryListings returns the stored listing set for one make/model/year-range
// search, feeding the analysis engine.
func (s *PostgresStore) QueryListings(ctx context.Context, tenantID string, filter ListingFilter, limit int) ([]*models.ExistingListing, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE tenant_id = $1
		  AND LOWER(make) = LOWER($2)
		  AND LOWER(model) = LOWER($3)
		  AND year BETWEEN $4 AND $5
		ORDER BY price
		LIMIT $6
	`, tenantID, filter.Make, filter.Model, filter.YearMin, filter.YearMax, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query listings: %w", err)
	}
	defer rows.Close()

	return scanListings(rows)
}

// InsertPriceHistoryBatch appends price points in batches.
func (s *PostgresStore) InsertPriceHistoryBatch(ctx context.Context, records []*models.PriceHistoryRecord) error {
	if len(records) == 0 {
		return nil
	}

	const batchSize = 50
	for i := 0; i < len(records); i += batchSize {
		end := i + batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := s.insertHistoryBatch(ctx, records[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) insertHistoryBatch(ctx context.Context, batch []*models.PriceHistoryRecord) error {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*7)

	for idx, r := range batch {
		base := idx * 7
		valueStrings = append(valueStrings,
			fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d)",
				base+1, base+2, base+3, base+4, base+5, base+6, base+7))
		valueArgs = append(valueArgs,
			r.TenantID, r.ListingURL, r.VIN, r.Price, r.Mileage, r.Source, r.RecordedAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO price_history (tenant_id, listing_url, vin, price, mileage, source, recorded_at)
		VALUES %s
	`, strings.Join(valueStrings, ","))

	if _, err := s.db.ExecContext(ctx, query, valueArgs...); err != nil {
		return fmt.Errorf("postgres: insert price history: %w", err)
	}
	return nil
}

// InsertSnapshot appends one market snapshot row.
func (s *PostgresStore) InsertSnapshot(ctx context.Context, snap *models.MarketSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO market_snapshots (
			tenant_id, make, model, year_min, year_max, listing_count,
			mean_price, median_price, min_price, max_price,
			p10, p25, p50, p75, p90,
			avg_days_on_market, sources, search_params
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`,
		snap.TenantID, snap.Make, snap.Model, snap.YearMin, snap.YearMax, snap.ListingCount,
		snap.MeanPrice, snap.MedianPrice, snap.MinPrice, snap.MaxPrice,
		snap.P10, snap.P25, snap.P50, snap.P75, snap.P90,
		snap.AvgDaysOnMarket, pq.Array(snap.Sources), snap.SearchParams,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot: %w", err)
	}
	return nil
}

// UpdateRunStatus upserts the operation-tracking row for an aggregation run.
func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID, tenantID, status string, result *models.AggregationResult) error {
	totalFetched, newListings, dups, merged, errCount := 0, 0, 0, 0, 0
	if result != nil {
		totalFetched = result.TotalFetched
		newListings = result.NewListings
		dups = result.DuplicatesRemoved
		merged = result.MergedRecords
		errCount = len(result.Errors)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO aggregation_runs (
			id, tenant_id, status, total_fetched, new_listings,
			duplicates_removed, merged_records, error_count, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			total_fetched = EXCLUDED.total_fetched,
			new_listings = EXCLUDED.new_listings,
			duplicates_removed = EXCLUDED.duplicates_removed,
			merged_records = EXCLUDED.merged_records,
			error_count = EXCLUDED.error_count,
			updated_at = NOW()
	`, runID, tenantID, status, totalFetched, newListings, dups, merged, errCount)
	if err != nil {
		return fmt.Errorf("postgres: update run %s: %w", runID, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// IsUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation (code 23505), the benign race the orchestrator tolerates.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func scanListings(rows *sql.Rows) ([]*models.ExistingListing, error) {
	var listings []*models.ExistingListing
	for rows.Next() {
		l := &models.ExistingListing{}
		var posted sql.NullTime
		if err := rows.Scan(
			&l.ID, &l.TenantID, &l.ExternalID, &l.Source, &l.ListingURL, &l.ListingType,
			&l.Year, &l.Make, &l.Model, &l.Trim, &l.Price, &l.Mileage, &l.Location, &l.SellerName, &l.VIN,
			&l.ImageURL, &l.ExteriorColor, &l.InteriorColor, &l.Specs, pq.Array(&l.Features), &l.HistoryBadges,
			&l.DealerRating, &l.DaysOnLot, &posted, &l.SourceConfidence, &l.DataSourceRank,
			&l.VehicleHash, &l.MergedCount, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		if posted.Valid {
			l.PostedDate = posted.Time
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
