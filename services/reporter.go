package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ominous-one/Lotview-sub007/models"
)

// Reporter renders an analysis run to the terminal.
type Reporter struct{}

// NewReporter creates a Reporter.
func NewReporter() *Reporter {
	return &Reporter{}
}

// Print formats and prints the aggregation and analysis results.
func (r *Reporter) Print(params models.SearchParams, agg *models.AggregationResult, res *models.AnalysisResult) {
	sep := strings.Repeat("═", 58)
	thin := strings.Repeat("─", 58)

	fmt.Printf("\n\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("\033[1;35m  MARKET ANALYSIS — %d-%d %s %s\033[0m\n",
		params.YearMin, params.YearMax, strings.ToUpper(params.Make), strings.ToUpper(params.Model))
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)

	if agg != nil {
		fmt.Printf("\033[1;33m  Aggregation\033[0m\n")
		fmt.Printf("  %s\n", thin)
		fmt.Printf("  Run ID            : %s\n", agg.RunID)
		fmt.Printf("  Records fetched   : \033[1m%d\033[0m\n", agg.TotalFetched)
		fmt.Printf("  New listings      : \033[1m%d\033[0m\n", agg.NewListings)
		fmt.Printf("  Duplicates removed: %d (merged %d)\n", agg.DuplicatesRemoved, agg.MergedRecords)
		for _, src := range sortedSources(agg.PerSourceCounts) {
			fmt.Printf("    %-24s %d\n", src, agg.PerSourceCounts[src])
		}
		fmt.Println()
	}

	if !res.Success {
		fmt.Printf("\033[1;31m  No usable market data: %s\033[0m\n", res.Message)
		printNotes(res, thin)
		fmt.Printf("\n\033[1;35m%s\033[0m\n\n", sep)
		return
	}

	fmt.Printf("\033[1;33m  Price Statistics (%d listings)\033[0m\n", res.Summary.Count)
	fmt.Printf("  %s\n", thin)
	fmt.Printf("  Mean   : \033[1;32m$%.0f\033[0m\n", res.Summary.Mean)
	fmt.Printf("  Median : \033[1;32m$%.0f\033[0m\n", res.Summary.Median)
	fmt.Printf("  Range  : $%.0f — $%.0f\n", res.Summary.Min, res.Summary.Max)
	fmt.Printf("  P10/P25/P50/P75/P90 : $%.0f / $%.0f / $%.0f / $%.0f / $%.0f\n",
		res.Percentiles.P10, res.Percentiles.P25, res.Percentiles.P50,
		res.Percentiles.P75, res.Percentiles.P90)
	fmt.Printf("  Avg quality score   : %.1f (%d high-quality)\n",
		res.Summary.AvgQualityScore, res.Summary.HighQuality)
	fmt.Println()

	if res.DaysOnMarket.Count > 0 {
		d := res.DaysOnMarket
		fmt.Printf("\033[1;33m  Days on Market (%d listings)\033[0m\n", d.Count)
		fmt.Printf("  %s\n", thin)
		fmt.Printf("  Avg %d | Median %d | Fastest %d | Slowest %d\n",
			d.Average, d.Median, d.Fastest, d.Slowest)
		fmt.Printf("  <7d %-4d <14d %-4d <30d %-4d ≥30d %d\n",
			d.Under7, d.Under14, d.Under30, d.Over30)
		fmt.Println()
	}

	if len(res.Competitors) > 0 {
		fmt.Printf("\033[1;33m  Top Competitors\033[0m\n")
		fmt.Printf("  %s\n", thin)
		for i, c := range res.Competitors {
			fmt.Printf("  \033[1m%d.\033[0m %-32s %2d listings  avg \033[1;32m$%.0f\033[0m\n",
				i+1, truncate(c.SellerName, 30), c.Count, c.AvgPrice)
		}
		fmt.Println()
	}

	if rec := res.PriceRecommendation; rec != nil {
		fmt.Printf("\033[1;33m  Price Recommendation\033[0m\n")
		fmt.Printf("  %s\n", thin)
		if rec.MarketPosition != "" {
			fmt.Printf("  Position   : \033[1m%s\033[0m\n", rec.MarketPosition)
		}
		fmt.Printf("  Band       : $%.0f — $%.0f (anchor $%.0f)\n",
			rec.RecommendedMin, rec.RecommendedMax, rec.Anchor)
		if rec.MileageAdjustment != 0 {
			fmt.Printf("  Mileage adj: %+d\n", rec.MileageAdjustment)
		}
		fmt.Printf("  Confidence : %s\n", rec.Confidence)
		fmt.Printf("  %s\n", rec.Reasoning)
	}

	printNotes(res, thin)
	fmt.Printf("\n\033[1;35m%s\033[0m\n\n", sep)
}

func printNotes(res *models.AnalysisResult, thin string) {
	if len(res.Warnings) == 0 && len(res.Errors) == 0 {
		return
	}
	fmt.Printf("\n\033[1;33m  Notes\033[0m\n")
	fmt.Printf("  %s\n", thin)
	for _, w := range res.Warnings {
		fmt.Printf("  \033[33m⚠\033[0m %s\n", w)
	}
	for _, e := range res.Errors {
		fmt.Printf("  \033[31m✗\033[0m %s\n", e)
	}
}

func sortedSources(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
