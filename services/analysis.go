package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/ominous-one/Lotview-sub007/models"
	"github.com/ominous-one/Lotview-sub007/storage"
)

// DefaultOutlierMultiplier caps accepted prices at multiplier × median.
// Inherited heuristic; configurable via OUTLIER_MULTIPLIER.
const DefaultOutlierMultiplier = 3.0

const (
	maxCompetitorGroups  = 10
	maxCompetitorSamples = 10
	maxDaysOnMarket      = 365
)

// AnalysisEngine computes market statistics and a pricing recommendation over
// a stored listing set. It never fails on sparse data: every exit path
// returns a fully populated result.
type AnalysisEngine struct {
	store             storage.Store
	outlierMultiplier float64
	historyMaxRows    int
	now               func() time.Time
}

// NewAnalysisEngine creates an engine. store may be nil to disable the
// best-effort snapshot/history sinks. A non-positive multiplier falls back to
// the default.
func NewAnalysisEngine(store storage.Store, outlierMultiplier float64, historyMaxRows int) *AnalysisEngine {
	if outlierMultiplier <= 0 {
		outlierMultiplier = DefaultOutlierMultiplier
	}
	if historyMaxRows <= 0 {
		historyMaxRows = 50
	}
	return &AnalysisEngine{
		store:             store,
		outlierMultiplier: outlierMultiplier,
		historyMaxRows:    historyMaxRows,
		now:               time.Now,
	}
}

// Analyze runs the ordered analysis stages over the stored listing set for
// one search: trim filter, price sanity filter, summary statistics, quality
// scoring, days-on-market, competitor grouping, price recommendation, and
// best-effort snapshot persistence.
func (e *AnalysisEngine) Analyze(ctx context.Context, params models.SearchParams, listings []*models.ExistingListing) *models.AnalysisResult {
	var warnings []string

	if len(listings) == 0 {
		return emptyResult("no stored listings matched the search", nil)
	}

	// Stage 1: trim filter.
	working := listings
	var coverage *models.TrimCoverage
	if len(params.Trims) > 0 {
		var trimWarnings []string
		working, coverage, trimWarnings = filterByTrim(listings, params.Trims)
		warnings = append(warnings, trimWarnings...)
		if len(working) == 0 {
			res := emptyResult("no listings survived the trim filter", warnings)
			res.TrimCoverage = coverage
			return res
		}
	}

	// Stage 2: price sanity filter.
	working, priceWarnings := e.filterPrices(working)
	warnings = append(warnings, priceWarnings...)
	if len(working) == 0 {
		res := emptyResult("no listings with usable prices", warnings)
		res.TrimCoverage = coverage
		return res
	}

	sort.Slice(working, func(i, j int) bool { return working[i].Price < working[j].Price })
	prices := make([]float64, len(working))
	for i, l := range working {
		prices[i] = l.Price
	}

	// Stage 3: summary statistics over the sorted surviving price array.
	percentiles := &models.Percentiles{
		P10: Percentile(prices, 10),
		P25: Percentile(prices, 25),
		P50: Percentile(prices, 50),
		P75: Percentile(prices, 75),
		P90: Percentile(prices, 90),
	}
	summary := &models.PriceSummary{
		Count:  len(prices),
		Mean:   Mean(prices),
		Median: Median(prices),
		Min:    prices[0],
		Max:    prices[len(prices)-1],
	}

	// Stage 4: per-listing quality scores.
	var qualityTotal, mileageTotal, mileageCount int
	qualities := make([]models.QualityScore, len(working))
	for i, l := range working {
		qualities[i] = ScoreQuality(&l.RawListingRecord)
		qualityTotal += qualities[i].Score
		if qualities[i].Bucket == models.QualityHigh {
			summary.HighQuality++
		}
		if l.Mileage > 0 {
			mileageTotal += l.Mileage
			mileageCount++
		}
	}
	summary.AvgQualityScore = math.Round(float64(qualityTotal)/float64(len(working))*10) / 10
	if mileageCount > 0 {
		summary.AvgMileage = mileageTotal / mileageCount
	}

	// Stage 5: days-on-market distribution.
	dom := e.daysOnMarket(working)

	// Stage 6: competitor grouping.
	competitors, badgeFailures := e.groupCompetitors(working, qualities)
	if badgeFailures > 0 {
		warnings = append(warnings, fmt.Sprintf("%d listings had unparseable history badges", badgeFailures))
	}

	// Stage 7: price recommendation.
	recommendation := e.recommendPrice(params, summary, percentiles)

	comparisons := make([]models.ComparisonListing, len(working))
	for i, l := range working {
		comparisons[i] = models.ComparisonListing{
			ListingURL:   l.ListingURL,
			Source:       l.Source,
			Year:         l.Year,
			Trim:         l.Trim,
			Price:        l.Price,
			Mileage:      l.Mileage,
			SellerName:   l.SellerName,
			QualityScore: qualities[i].Score,
			Bucket:       qualities[i].Bucket,
		}
	}

	sources, breakdown := sourceBreakdown(working)

	result := &models.AnalysisResult{
		Success:             true,
		Summary:             summary,
		Percentiles:         percentiles,
		DaysOnMarket:        dom,
		Competitors:         competitors,
		Comparisons:         comparisons,
		PriceTrends:         []models.PriceTrendPoint{},
		PriceRecommendation: recommendation,
		TrimCoverage:        coverage,
		Sources:             sources,
		SourceBreakdown:     breakdown,
		Errors:              []string{},
		Warnings:            warnings,
	}

	// Stage 8: best-effort persistence of history points and the snapshot.
	e.persistRun(ctx, params, working, summary, percentiles, dom, sources, result)

	return result
}

// emptyResult builds the complete, well-formed failure shape the engine
// returns when a stage eliminates every listing.
func emptyResult(msg string, warnings []string) *models.AnalysisResult {
	if warnings == nil {
		warnings = []string{}
	}
	return &models.AnalysisResult{
		Success:             false,
		Message:             msg,
		Summary:             &models.PriceSummary{},
		Percentiles:         &models.Percentiles{},
		DaysOnMarket:        &models.DaysOnMarketStats{},
		Competitors:         []models.CompetitorGroup{},
		Comparisons:         []models.ComparisonListing{},
		PriceTrends:         []models.PriceTrendPoint{},
		PriceRecommendation: &models.PriceRecommendation{},
		Sources:             []string{},
		SourceBreakdown:     []models.SourceCount{},
		Errors:              []string{},
		Warnings:            warnings,
	}
}

// filterByTrim applies the trim filter ladder: enough exact matches use the
// matched set alone (trims commonly differ by tens of thousands in price);
// a thin match set is padded with no-trim listings;
// otherwise the filter is abandoned with a strong warning.
func filterByTrim(listings []*models.ExistingListing, targets []string) ([]*models.ExistingListing, *models.TrimCoverage, []string) {
	coverage := &models.TrimCoverage{Total: len(listings)}

	var matched, noTrim []*models.ExistingListing
	for _, l := range listings {
		if l.Trim == "" {
			coverage.NoTrim++
			noTrim = append(noTrim, l)
			continue
		}
		coverage.WithTrim++
		if TrimMatchesAny(l.Trim, targets) {
			coverage.Matched++
			matched = append(matched, l)
		} else {
			coverage.Mismatched++
		}
	}

	switch {
	case coverage.Matched >= 5:
		coverage.Mode = models.TrimModeMatched
		return matched, coverage, nil
	case coverage.Matched+coverage.NoTrim >= 3:
		coverage.Mode = models.TrimModeMatchedNoTrim
		return append(matched, noTrim...), coverage, []string{
			"limited trim data: results include listings without a reported trim",
		}
	default:
		coverage.Mode = models.TrimModeUnfiltered
		return listings, coverage, []string{
			"insufficient trim matches: results may mix trim levels with significantly different prices",
		}
	}
}

// TrimMatchesAny reports whether a listing trim fuzzy-matches any target trim.
func TrimMatchesAny(trim string, targets []string) bool {
	for _, t := range targets {
		if TrimMatches(trim, t) {
			return true
		}
	}
	return false
}

// TrimMatches fuzzy-compares two trim names after normalization: substring
// containment in either direction, or every word of the shorter string found
// in the longer.
func TrimMatches(a, b string) bool {
	na, nb := NormalizeTrim(a), NormalizeTrim(b)
	if na == "" || nb == "" {
		return false
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return true
	}

	shorter, longer := na, nb
	if len(nb) < len(na) {
		shorter, longer = nb, na
	}
	words := strings.Fields(shorter)
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if !strings.Contains(longer, w) {
			return false
		}
	}
	return true
}

// NormalizeTrim lowercases a trim string, strips non-alphanumerics, and
// collapses whitespace.
func NormalizeTrim(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// filterPrices drops non-positive prices, then everything above
// multiplier × median of the remainder.
func (e *AnalysisEngine) filterPrices(listings []*models.ExistingListing) ([]*models.ExistingListing, []string) {
	var warnings []string

	positive := make([]*models.ExistingListing, 0, len(listings))
	for _, l := range listings {
		if l.Price > 0 {
			positive = append(positive, l)
		}
	}
	if dropped := len(listings) - len(positive); dropped > 0 {
		warnings = append(warnings, fmt.Sprintf("%d listings dropped for zero or negative price", dropped))
	}
	if len(positive) == 0 {
		return nil, warnings
	}

	prices := make([]float64, len(positive))
	for i, l := range positive {
		prices[i] = l.Price
	}
	sort.Float64s(prices)
	threshold := e.outlierMultiplier * Median(prices)

	kept := make([]*models.ExistingListing, 0, len(positive))
	for _, l := range positive {
		if l.Price > threshold {
			continue
		}
		kept = append(kept, l)
	}
	if dropped := len(positive) - len(kept); dropped > 0 {
		warnings = append(warnings, fmt.Sprintf("%d price outliers above %.0f dropped", dropped, threshold))
	}

	return kept, warnings
}

// Mean returns the rounded arithmetic mean of prices.
func Mean(prices []float64) float64 {
	if len(prices) == 0 {
		return 0
	}
	var total float64
	for _, p := range prices {
		total += p
	}
	return math.Round(total / float64(len(prices)))
}

// Median of a sorted slice: the middle element for odd length, the rounded
// average of the two middle elements for even length.
func Median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return math.Round((sorted[n/2-1] + sorted[n/2]) / 2)
}

// Percentile returns the nearest-rank percentile of a sorted slice, using
// index floor(p/100 × n) clamped to n-1. Not interpolated.
func Percentile(sorted []float64, p int) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Floor(float64(p) / 100 * float64(n)))
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// daysOnMarket aggregates the days-on-market distribution. A direct
// days-on-lot field is preferred; otherwise whole days elapsed since the
// posted date, accepted only within [0, 365). Buckets are deliberately not
// mutually exclusive: each counts against its own predicate.
func (e *AnalysisEngine) daysOnMarket(listings []*models.ExistingListing) *models.DaysOnMarketStats {
	stats := &models.DaysOnMarketStats{}

	var days []int
	for _, l := range listings {
		d, ok := ListingDaysOnMarket(&l.RawListingRecord, e.now())
		if !ok {
			continue
		}
		days = append(days, d)
	}
	if len(days) == 0 {
		return stats
	}

	sort.Ints(days)
	stats.Count = len(days)
	stats.Fastest = days[0]
	stats.Slowest = days[len(days)-1]

	total := 0
	for _, d := range days {
		total += d
		if d < 7 {
			stats.Under7++
		}
		if d < 14 {
			stats.Under14++
		}
		if d < 30 {
			stats.Under30++
		}
		if d >= 30 {
			stats.Over30++
		}
	}
	stats.Average = int(math.Round(float64(total) / float64(len(days))))
	stats.Median = intMedian(days)

	return stats
}

// ListingDaysOnMarket resolves one listing's days on market: the source's
// direct field when present, else whole days since the posted date within
// [0, 365).
func ListingDaysOnMarket(rec *models.RawListingRecord, now time.Time) (int, bool) {
	if rec.DaysOnLot > 0 {
		return rec.DaysOnLot, true
	}
	if rec.PostedDate.IsZero() {
		return 0, false
	}
	d := int(now.Sub(rec.PostedDate).Hours() / 24)
	if d < 0 || d >= maxDaysOnMarket {
		return 0, false
	}
	return d, true
}

func intMedian(sorted []int) int {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return int(math.Round(float64(sorted[n/2-1]+sorted[n/2]) / 2))
}

// groupCompetitors groups dealer-type listings by seller name, keeping the
// top sellers by listing count with up to ten enriched sample listings each.
// Returns the number of history-badge payloads that failed to parse.
func (e *AnalysisEngine) groupCompetitors(listings []*models.ExistingListing, qualities []models.QualityScore) ([]models.CompetitorGroup, int) {
	groups := make(map[string]*models.CompetitorGroup)
	badgeFailures := 0

	for i, l := range listings {
		if l.ListingType != models.ListingTypeDealer || l.SellerName == "" {
			continue
		}

		g, ok := groups[l.SellerName]
		if !ok {
			g = &models.CompetitorGroup{
				SellerName: l.SellerName,
				MinPrice:   l.Price,
				MaxPrice:   l.Price,
			}
			groups[l.SellerName] = g
		}

		g.Count++
		g.AvgPrice += l.Price // running total; divided below
		if l.Price < g.MinPrice {
			g.MinPrice = l.Price
		}
		if l.Price > g.MaxPrice {
			g.MaxPrice = l.Price
		}

		if len(g.Samples) < maxCompetitorSamples {
			sample := models.CompetitorSample{
				ListingURL:   l.ListingURL,
				Price:        l.Price,
				Mileage:      l.Mileage,
				Year:         l.Year,
				Trim:         l.Trim,
				QualityScore: qualities[i].Score,
			}
			if d, ok := ListingDaysOnMarket(&l.RawListingRecord, e.now()); ok {
				sample.DaysOnLot = d
			}
			if l.HistoryBadges != "" {
				badges, ok := ParseHistoryBadges(l.HistoryBadges)
				if ok {
					sample.HistoryBadges = badges
				} else {
					badgeFailures++
				}
			}
			g.Samples = append(g.Samples, sample)
		}
	}

	result := make([]models.CompetitorGroup, 0, len(groups))
	for _, g := range groups {
		g.AvgPrice = math.Round(g.AvgPrice / float64(g.Count))
		result = append(result, *g)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].SellerName < result[j].SellerName
	})
	if len(result) > maxCompetitorGroups {
		result = result[:maxCompetitorGroups]
	}

	return result, badgeFailures
}

// ParseHistoryBadges decodes a source's history-badge payload. Both a bare
// JSON string array and an object wrapping one under "badges" appear in the
// wild. The boolean result makes malformed payloads observable instead of
// silently defaulting.
func ParseHistoryBadges(raw string) ([]string, bool) {
	var badges []string
	if err := json.Unmarshal([]byte(raw), &badges); err == nil {
		return badges, true
	}
	var wrapped struct {
		Badges []string `json:"badges"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapped); err == nil && wrapped.Badges != nil {
		return wrapped.Badges, true
	}
	return nil, false
}

// recommendPrice classifies the subject's target price against the
// percentile bands, or recommends the interquartile band when no target is
// given. A mileage adjustment blends in when both subject and market-average
// mileage are known.
func (e *AnalysisEngine) recommendPrice(params models.SearchParams, summary *models.PriceSummary, p *models.Percentiles) *models.PriceRecommendation {
	rec := &models.PriceRecommendation{
		RecommendedMin: p.P25,
		RecommendedMax: p.P75,
		Anchor:         summary.Median,
		Confidence:     recommendationConfidence(summary.Count),
	}

	if params.SubjectMileage > 0 && summary.AvgMileage > 0 {
		spread := p.P75 - p.P25
		rec.MileageAdjustment = int(math.Round(
			float64(params.SubjectMileage-summary.AvgMileage) *
				(spread / (float64(summary.AvgMileage) * 0.5)) * -0.5))
		rec.Anchor += float64(rec.MileageAdjustment)
		rec.RecommendedMin += float64(rec.MileageAdjustment)
		rec.RecommendedMax += float64(rec.MileageAdjustment)
	}

	target := params.SubjectTargetPrice
	if target <= 0 {
		rec.Reasoning = fmt.Sprintf(
			"no target price supplied; recommending the interquartile band $%.0f-$%.0f anchored on the median $%.0f",
			rec.RecommendedMin, rec.RecommendedMax, rec.Anchor)
		return rec
	}

	switch {
	case target < p.P25:
		rec.MarketPosition = models.PositionBelowMarket
		rec.Reasoning = fmt.Sprintf(
			"target $%.0f is below the 25th percentile ($%.0f); priced to move quickly at the cost of margin",
			target, p.P25)
	case target < p.P50:
		rec.MarketPosition = models.PositionCompetitive
		rec.Reasoning = fmt.Sprintf(
			"target $%.0f sits between the 25th ($%.0f) and 50th ($%.0f) percentiles; competitively priced",
			target, p.P25, p.P50)
	case target <= p.P75:
		rec.MarketPosition = models.PositionAtMarket
		rec.Reasoning = fmt.Sprintf(
			"target $%.0f sits between the 50th ($%.0f) and 75th ($%.0f) percentiles; in line with the market",
			target, p.P50, p.P75)
	default:
		rec.MarketPosition = models.PositionAboveMarket
		rec.Reasoning = fmt.Sprintf(
			"target $%.0f exceeds the 75th percentile ($%.0f); expect longer days on market",
			target, p.P75)
	}

	return rec
}

func recommendationConfidence(count int) string {
	switch {
	case count >= 20:
		return models.ConfidenceHigh
	case count >= 10:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

func sourceBreakdown(listings []*models.ExistingListing) ([]string, []models.SourceCount) {
	counts := make(map[string]int)
	for _, l := range listings {
		counts[l.Source]++
	}

	breakdown := make([]models.SourceCount, 0, len(counts))
	for source, count := range counts {
		breakdown = append(breakdown, models.SourceCount{Source: source, Count: count})
	}
	sort.Slice(breakdown, func(i, j int) bool {
		if breakdown[i].Count != breakdown[j].Count {
			return breakdown[i].Count > breakdown[j].Count
		}
		return breakdown[i].Source < breakdown[j].Source
	})

	sources := make([]string, len(breakdown))
	for i, b := range breakdown {
		sources[i] = b.Source
	}
	return sources, breakdown
}

// persistRun writes up to historyMaxRows price-history points and one market
// snapshot. Failures are logged and surfaced as warnings, never fatal.
func (e *AnalysisEngine) persistRun(ctx context.Context, params models.SearchParams, listings []*models.ExistingListing,
	summary *models.PriceSummary, p *models.Percentiles, dom *models.DaysOnMarketStats, sources []string,
	result *models.AnalysisResult) {

	if e.store == nil {
		return
	}

	now := e.now()
	limit := len(listings)
	if limit > e.historyMaxRows {
		limit = e.historyMaxRows
	}

	history := make([]*models.PriceHistoryRecord, 0, limit)
	for _, l := range listings[:limit] {
		history = append(history, &models.PriceHistoryRecord{
			TenantID:   params.TenantID,
			ListingURL: l.ListingURL,
			VIN:        l.VIN,
			Price:      l.Price,
			Mileage:    l.Mileage,
			Source:     l.Source,
			RecordedAt: now,
		})
		result.PriceTrends = append(result.PriceTrends, models.PriceTrendPoint{
			ListingURL: l.ListingURL,
			Price:      l.Price,
			RecordedAt: now,
		})
	}

	if err := e.store.InsertPriceHistoryBatch(ctx, history); err != nil {
		log.WithError(err).Warn("failed to persist price history")
		result.Warnings = append(result.Warnings, fmt.Sprintf("price history not persisted: %v", err))
	}

	paramsJSON, _ := json.Marshal(params)
	snapshot := &models.MarketSnapshot{
		TenantID:        params.TenantID,
		Make:            params.Make,
		Model:           params.Model,
		YearMin:         params.YearMin,
		YearMax:         params.YearMax,
		ListingCount:    summary.Count,
		MeanPrice:       summary.Mean,
		MedianPrice:     summary.Median,
		MinPrice:        summary.Min,
		MaxPrice:        summary.Max,
		P10:             p.P10,
		P25:             p.P25,
		P50:             p.P50,
		P75:             p.P75,
		P90:             p.P90,
		AvgDaysOnMarket: dom.Average,
		Sources:         sources,
		SearchParams:    string(paramsJSON),
		CreatedAt:       now,
	}
	if err := e.store.InsertSnapshot(ctx, snapshot); err != nil {
		log.WithError(err).Warn("failed to persist market snapshot")
		result.Warnings = append(result.Warnings, fmt.Sprintf("market snapshot not persisted: %v", err))
	}
}
