package models

import "time"

// Quality buckets.
const (
	QualityHigh   = "high"
	QualityMedium = "medium"
	QualityLow    = "low"
)

// Market positions reported by the price recommendation.
const (
	PositionBelowMarket = "below_market"
	PositionCompetitive = "competitive"
	PositionAtMarket    = "at_market"
	PositionAboveMarket = "above_market"
)

// Recommendation confidence levels.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// QualityScore is the per-listing 0-100 completeness score with its bucket
// and a breakdown of which fields contributed.
type QualityScore struct {
	Score     int             `json:"score"`
	Bucket    string          `json:"bucket"`
	Breakdown map[string]bool `json:"breakdown"`
}

// PriceSummary holds the headline statistics over the surviving price set.
type PriceSummary struct {
	Count           int     `json:"count"`
	Mean            float64 `json:"mean"`
	Median          float64 `json:"median"`
	Min             float64 `json:"min"`
	Max             float64 `json:"max"`
	AvgMileage      int     `json:"avgMileage"`
	AvgQualityScore float64 `json:"avgQualityScore"`
	HighQuality     int     `json:"highQualityCount"`
}

// Percentiles is the nearest-rank percentile breakdown of the price set.
type Percentiles struct {
	P10 float64 `json:"p10"`
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P90 float64 `json:"p90"`
}

// DaysOnMarketStats describes how long listings have been active. The bucket
// counts are not mutually exclusive: each bucket counts every listing that
// satisfies its own predicate.
type DaysOnMarketStats struct {
	Count   int `json:"count"`
	Average int `json:"average"`
	Median  int `json:"median"`
	Fastest int `json:"fastest"`
	Slowest int `json:"slowest"`

	Under7  int `json:"under7"`
	Under14 int `json:"under14"`
	Under30 int `json:"under30"`
	Over30  int `json:"over30"`
}

// CompetitorSample is one enriched example listing inside a competitor group.
type CompetitorSample struct {
	ListingURL    string   `json:"listingUrl"`
	Price         float64  `json:"price"`
	Mileage       int      `json:"mileage,omitempty"`
	Year          int      `json:"year"`
	Trim          string   `json:"trim,omitempty"`
	QualityScore  int      `json:"qualityScore"`
	DaysOnLot     int      `json:"daysOnLot,omitempty"`
	HistoryBadges []string `json:"historyBadges,omitempty"`
}

// CompetitorGroup aggregates the dealer-type listings of one named seller.
type CompetitorGroup struct {
	SellerName string             `json:"sellerName"`
	Count      int                `json:"count"`
	AvgPrice   float64            `json:"avgPrice"`
	MinPrice   float64            `json:"minPrice"`
	MaxPrice   float64            `json:"maxPrice"`
	Samples    []CompetitorSample `json:"samples"`
}

// ComparisonListing is one row of the comparison list returned to the caller.
type ComparisonListing struct {
	ListingURL   string  `json:"listingUrl"`
	Source       string  `json:"source"`
	Year         int     `json:"year"`
	Trim         string  `json:"trim,omitempty"`
	Price        float64 `json:"price"`
	Mileage      int     `json:"mileage,omitempty"`
	SellerName   string  `json:"sellerName,omitempty"`
	QualityScore int     `json:"qualityScore"`
	Bucket       string  `json:"qualityBucket"`
}

// PriceTrendPoint is one point on a price trend line.
type PriceTrendPoint struct {
	ListingURL string    `json:"listingUrl"`
	Price      float64   `json:"price"`
	RecordedAt time.Time `json:"recordedAt"`
}

// PriceRecommendation is the engine's pricing advice for the subject vehicle.
type PriceRecommendation struct {
	MarketPosition    string  `json:"marketPosition,omitempty"`
	RecommendedMin    float64 `json:"recommendedMin"`
	RecommendedMax    float64 `json:"recommendedMax"`
	Anchor            float64 `json:"anchor"`
	MileageAdjustment int     `json:"mileageAdjustment"`
	Reasoning         string  `json:"reasoning"`
	Confidence        string  `json:"confidence"`
}

// Trim filter modes reported in TrimCoverage.
const (
	TrimModeMatched        = "matched_only"
	TrimModeMatchedNoTrim  = "matched_plus_no_trim"
	TrimModeUnfiltered     = "unfiltered"
	TrimModeNoFilterWanted = "no_filter"
)

// TrimCoverage is the diagnostic describing how well a requested trim filter
// matched the available listings.
type TrimCoverage struct {
	Mode       string `json:"mode"`
	Total      int    `json:"total"`
	WithTrim   int    `json:"withTrim"`
	Matched    int    `json:"matched"`
	Mismatched int    `json:"mismatched"`
	NoTrim     int    `json:"noTrim"`
}

// SourceCount is one entry of the per-source breakdown.
type SourceCount struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

// AnalysisResult is the full output of the market analysis engine. On sparse
// data every field is still populated (zeroed) and Success is false; the
// engine never aborts with an error.
type AnalysisResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`

	Summary             *PriceSummary        `json:"summary"`
	Percentiles         *Percentiles         `json:"percentiles"`
	DaysOnMarket        *DaysOnMarketStats   `json:"daysOnMarket"`
	Competitors         []CompetitorGroup    `json:"competitors"`
	Comparisons         []ComparisonListing  `json:"comparisons"`
	PriceTrends         []PriceTrendPoint    `json:"priceTrends"`
	PriceRecommendation *PriceRecommendation `json:"priceRecommendation"`
	TrimCoverage        *TrimCoverage        `json:"trimCoverage,omitempty"`

	Sources         []string      `json:"sources"`
	SourceBreakdown []SourceCount `json:"sourceBreakdown"`

	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// MarketSnapshot is one append-only row per analysis run for a search.
type MarketSnapshot struct {
	ID       int64
	TenantID string

	Make    string
	Model   string
	YearMin int
	YearMax int

	ListingCount int
	MeanPrice    float64
	MedianPrice  float64
	MinPrice     float64
	MaxPrice     float64

	P10 float64
	P25 float64
	P50 float64
	P75 float64
	P90 float64

	AvgDaysOnMarket int
	Sources         []string
	SearchParams    string // JSON echo of the request parameters

	CreatedAt time.Time
}

// PriceHistoryRecord is one append-only price point per retained listing per
// analysis run, used to reconstruct trend lines.
type PriceHistoryRecord struct {
	ID         int64
	TenantID   string
	ListingURL string
	VIN        string
	Price      float64
	Mileage    int
	Source     string
	RecordedAt time.Time
}

// AggregationResult summarizes one aggregation run.
type AggregationResult struct {
	RunID string `json:"runId"`

	PerSourceCounts map[string]int `json:"perSourceCounts"`
	SourcesUsed     []string       `json:"sourcesUsed"`

	TotalFetched      int `json:"totalFetched"`
	NewListings       int `json:"newListings"`
	DuplicatesRemoved int `json:"duplicatesRemoved"`
	MergedRecords     int `json:"mergedRecords"`
	UpdatedListings   int `json:"updatedListings"`

	Errors []string `json:"errors"`
}
