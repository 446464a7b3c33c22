// Package sources defines the contract every market-data provider adapter
// satisfies and the static reliability ranking of known providers.
package sources

import (
	"context"
	"sort"

	"github.com/ominous-one/Lotview-sub007/models"
)

// Known provider names.
const (
	SourcePricingAPI           = "pricing-api"
	SourcePrimaryScraper       = "primary-scraper"
	SourceManagedActor         = "managed-actor"
	SourceFallbackScraper      = "fallback-scraper"
	SourceSecondaryMarketplace = "secondary-marketplace"
	SourceClassifieds          = "classifieds"
)

// UnknownSourceRank is assigned to any provider missing from the priority
// table so unknown sources always lose field conflicts.
const UnknownSourceRank = 10

// sourcePriority is the static ordered ranking of providers; lower wins on
// field conflicts during merge.
var sourcePriority = map[string]int{
	SourcePricingAPI:           1,
	SourcePrimaryScraper:       2,
	SourceManagedActor:         3,
	SourceFallbackScraper:      4,
	SourceSecondaryMarketplace: 5,
	SourceClassifieds:          6,
}

// Rank returns the reliability rank for a provider name.
func Rank(source string) int {
	if r, ok := sourcePriority[source]; ok {
		return r
	}
	return UnknownSourceRank
}

// Tier groups adapters by cost profile for the sufficiency policy: a cheap
// API call and an expensive browser session are never interchangeable.
type Tier string

// Adapter cost tiers.
const (
	TierAPI     Tier = "api"
	TierScraper Tier = "scraper"
)

// Adapter is implemented by every provider. Fetch returns the provider's raw
// view of the search; a failing adapter must only fail itself, never the run.
type Adapter interface {
	Name() string
	Rank() int
	Tier() Tier
	Fetch(ctx context.Context, params models.SearchParams) ([]*models.RawListingRecord, error)
}

// SortByRank orders adapters by ascending reliability rank, the invocation
// order the orchestrator relies on.
func SortByRank(adapters []Adapter) {
	sort.SliceStable(adapters, func(i, j int) bool {
		return adapters[i].Rank() < adapters[j].Rank()
	})
}
