package models

import "time"

// Listing types reported by sources.
const (
	ListingTypeDealer  = "dealer"
	ListingTypePrivate = "private"
)

// SearchParams describes one market-data aggregation request for a single
// make/model/year-range search.
type SearchParams struct {
	TenantID   string
	Make       string
	Model      string
	YearMin    int
	YearMax    int
	Location   string
	RadiusKm   int
	MaxResults int

	// Optional trim filter applied by the analysis engine.
	Trims []string

	// Optional subject vehicle used for the price recommendation.
	SubjectMileage     int
	SubjectTargetPrice float64
}

// RawListingRecord holds one vehicle listing exactly as reported by a single
// source, before any entity resolution. Ephemeral: produced per request and
// discarded after merge.
type RawListingRecord struct {
	ExternalID  string
	Source      string
	ListingURL  string
	ListingType string

	Year  int
	Make  string
	Model string
	Trim  string

	Price   float64
	Mileage int

	Location   string
	SellerName string
	VIN        string
	ImageURL   string

	ExteriorColor string
	InteriorColor string

	// Specs and HistoryBadges arrive as raw JSON payloads from the source
	// and are parsed lazily by the analysis engine.
	Specs         string
	Features      []string
	HistoryBadges string

	DealerRating float64
	DaysOnLot    int
	PostedDate   time.Time

	// SourceConfidence is the source's 0-100 estimate of this record's
	// completeness. DataSourceRank is the static reliability ranking of the
	// provider; lower is more trusted, unknown sources rank worst.
	SourceConfidence int
	DataSourceRank   int
}

// HasVIN reports whether the record carries a plausible 17-character VIN.
func (r *RawListingRecord) HasVIN() bool {
	return len(r.VIN) == 17
}

// CanonicalListing is a RawListingRecord after entity resolution: one row per
// physical listing, with gap-filled fields merged in from lower-priority
// duplicates. Unique per ListingURL, per non-empty VIN, and per VehicleHash
// unless fuzzy-merged.
type CanonicalListing struct {
	RawListingRecord

	// VehicleHash is the content-derived surrogate identity key used when a
	// VIN is absent.
	VehicleHash string

	// MergedCount is the number of raw records collapsed into this listing.
	MergedCount int

	// DuplicateSources lists the sources whose records were merged away.
	DuplicateSources []string
}

// MatchAudit records one dedup decision for the audit trail.
type MatchAudit struct {
	PrimaryURL   string
	DuplicateURL string
	MatchType    string // url | vin | hash | fuzzy
}

// ExistingListing is the persisted view of a canonical listing used by the
// reconciliation pass against already-stored rows.
type ExistingListing struct {
	ID       int64
	TenantID string
	CanonicalListing
	CreatedAt time.Time
}
