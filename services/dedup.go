package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/apex/log"

	"github.com/ominous-one/Lotview-sub007/models"
)

// DefaultFuzzyMatchThreshold is the minimum weighted similarity score at
// which two records are linked without a VIN or hash match. Inherited
// heuristic; configurable via FUZZY_MATCH_THRESHOLD.
const DefaultFuzzyMatchThreshold = 70

// Match types recorded in the dedup audit trail.
const (
	MatchURL   = "url"
	MatchVIN   = "vin"
	MatchHash  = "hash"
	MatchFuzzy = "fuzzy"
)

// Deduplicator collapses raw records that describe the same physical listing
// into canonical records.
type Deduplicator struct {
	fuzzyThreshold int
}

// NewDeduplicator creates a Deduplicator. A non-positive threshold falls back
// to the default.
func NewDeduplicator(fuzzyThreshold int) *Deduplicator {
	if fuzzyThreshold <= 0 {
		fuzzyThreshold = DefaultFuzzyMatchThreshold
	}
	return &Deduplicator{fuzzyThreshold: fuzzyThreshold}
}

// DedupResult is the output of one entity-resolution pass.
type DedupResult struct {
	Listings          []*models.CanonicalListing
	DuplicatesRemoved int
	MergedRecords     int
	Audit             []models.MatchAudit
}

// LessBySourcePriority is the deterministic comparator the resolution order
// depends on: rank ascending, then confidence descending. Sorting with it
// guarantees a match always merges a lower-priority record into a
// higher-priority one, never the reverse.
func LessBySourcePriority(a, b *models.RawListingRecord) bool {
	if a.DataSourceRank != b.DataSourceRank {
		return a.DataSourceRank < b.DataSourceRank
	}
	return a.SourceConfidence > b.SourceConfidence
}

// Resolve runs identity resolution over raw records from any number of
// sources. First match wins, checked in order: listing URL, VIN, vehicle
// hash, fuzzy score. The fuzzy scan is O(n) per record against accepted
// records; quadratic overall, fine for batches in the hundreds.
func (d *Deduplicator) Resolve(records []*models.RawListingRecord) *DedupResult {
	sorted := make([]*models.RawListingRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return LessBySourcePriority(sorted[i], sorted[j])
	})

	res := &DedupResult{}
	byURL := make(map[string]*models.CanonicalListing)
	byVIN := make(map[string]*models.CanonicalListing)
	byHash := make(map[string]*models.CanonicalListing)

	for _, rec := range sorted {
		url := strings.TrimSpace(rec.ListingURL)
		if url == "" {
			log.Debugf("dedup: dropping %s record without listing URL (external id %s)", rec.Source, rec.ExternalID)
			continue
		}

		if primary, ok := byURL[url]; ok {
			res.DuplicatesRemoved++
			res.Audit = append(res.Audit, models.MatchAudit{
				PrimaryURL:   primary.ListingURL,
				DuplicateURL: url,
				MatchType:    MatchURL,
			})
			continue
		}

		vin := NormalizeVIN(rec.VIN)
		if vin != "" {
			if primary, ok := byVIN[vin]; ok {
				d.absorb(res, primary, rec, MatchVIN)
				continue
			}
		}

		hash := VehicleHash(rec)
		if primary, ok := byHash[hash]; ok {
			d.absorb(res, primary, rec, MatchHash)
			if vin != "" {
				byVIN[vin] = primary
			}
			continue
		}

		if primary := d.fuzzyMatch(res.Listings, rec); primary != nil {
			d.absorb(res, primary, rec, MatchFuzzy)
			if vin != "" {
				byVIN[vin] = primary
			}
			continue
		}

		canonical := &models.CanonicalListing{
			RawListingRecord: *rec,
			VehicleHash:      hash,
			MergedCount:      1,
		}
		canonical.VIN = vin
		canonical.ListingURL = url

		res.Listings = append(res.Listings, canonical)
		byURL[url] = canonical
		if vin != "" {
			byVIN[vin] = canonical
		}
		byHash[hash] = canonical
	}

	return res
}

// absorb merges a lower-priority duplicate into an accepted canonical record
// and books the counters and audit entry.
func (d *Deduplicator) absorb(res *DedupResult, primary *models.CanonicalListing, dup *models.RawListingRecord, matchType string) {
	fillGaps(&primary.RawListingRecord, dup)
	primary.MergedCount++
	primary.DuplicateSources = append(primary.DuplicateSources, dup.Source)

	res.DuplicatesRemoved++
	res.MergedRecords++
	res.Audit = append(res.Audit, models.MatchAudit{
		PrimaryURL:   primary.ListingURL,
		DuplicateURL: dup.ListingURL,
		MatchType:    matchType,
	})
}

// fillGaps applies the fill-gap merge: the primary's fields win unless empty,
// in which case the secondary's value is copied in. Confidence becomes the
// max of the two. Returns true when anything changed.
func fillGaps(primary, secondary *models.RawListingRecord) bool {
	changed := false

	fillString := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			changed = true
		}
	}

	fillString(&primary.ExternalID, secondary.ExternalID)
	fillString(&primary.ListingType, secondary.ListingType)
	fillString(&primary.Trim, secondary.Trim)
	fillString(&primary.Location, secondary.Location)
	fillString(&primary.SellerName, secondary.SellerName)
	fillString(&primary.ImageURL, secondary.ImageURL)
	fillString(&primary.ExteriorColor, secondary.ExteriorColor)
	fillString(&primary.InteriorColor, secondary.InteriorColor)
	fillString(&primary.Specs, secondary.Specs)
	fillString(&primary.HistoryBadges, secondary.HistoryBadges)

	if vin := NormalizeVIN(secondary.VIN); primary.VIN == "" && vin != "" {
		primary.VIN = vin
		changed = true
	}
	if primary.Year == 0 && secondary.Year != 0 {
		primary.Year = secondary.Year
		changed = true
	}
	if primary.Price == 0 && secondary.Price != 0 {
		primary.Price = secondary.Price
		changed = true
	}
	if primary.Mileage == 0 && secondary.Mileage != 0 {
		primary.Mileage = secondary.Mileage
		changed = true
	}
	if primary.DealerRating == 0 && secondary.DealerRating != 0 {
		primary.DealerRating = secondary.DealerRating
		changed = true
	}
	if primary.DaysOnLot == 0 && secondary.DaysOnLot != 0 {
		primary.DaysOnLot = secondary.DaysOnLot
		changed = true
	}
	if primary.PostedDate.IsZero() && !secondary.PostedDate.IsZero() {
		primary.PostedDate = secondary.PostedDate
		changed = true
	}
	if len(primary.Features) == 0 && len(secondary.Features) > 0 {
		primary.Features = secondary.Features
		changed = true
	}
	if secondary.SourceConfidence > primary.SourceConfidence {
		primary.SourceConfidence = secondary.SourceConfidence
		changed = true
	}

	return changed
}

// fuzzyMatch scans accepted canonical records for one whose weighted
// similarity to rec reaches the threshold.
func (d *Deduplicator) fuzzyMatch(accepted []*models.CanonicalListing, rec *models.RawListingRecord) *models.CanonicalListing {
	for _, cand := range accepted {
		if FuzzyScore(&cand.RawListingRecord, rec) >= d.fuzzyThreshold {
			return cand
		}
	}
	return nil
}

// FuzzyScore computes the weighted-point similarity between two records:
// make +20, model +20, exact year +15, trim +10, price within 2%/5%/10%
// +15/+10/+5, mileage within 500/2000 +10/+5, seller exact/substring +10/+5.
func FuzzyScore(a, b *models.RawListingRecord) int {
	score := 0

	if a.Make != "" && strings.EqualFold(a.Make, b.Make) {
		score += 20
	}
	if a.Model != "" && strings.EqualFold(a.Model, b.Model) {
		score += 20
	}
	if a.Year != 0 && a.Year == b.Year {
		score += 15
	}
	if a.Trim != "" && strings.EqualFold(a.Trim, b.Trim) {
		score += 10
	}

	if a.Price > 0 && b.Price > 0 {
		diff := math.Abs(a.Price-b.Price) / a.Price
		switch {
		case diff <= 0.02:
			score += 15
		case diff <= 0.05:
			score += 10
		case diff <= 0.10:
			score += 5
		}
	}

	if a.Mileage > 0 && b.Mileage > 0 {
		diff := a.Mileage - b.Mileage
		if diff < 0 {
			diff = -diff
		}
		switch {
		case diff <= 500:
			score += 10
		case diff <= 2000:
			score += 5
		}
	}

	sellerA := strings.ToLower(strings.TrimSpace(a.SellerName))
	sellerB := strings.ToLower(strings.TrimSpace(b.SellerName))
	if sellerA != "" && sellerB != "" {
		if sellerA == sellerB {
			score += 10
		} else if strings.Contains(sellerA, sellerB) || strings.Contains(sellerB, sellerA) {
			score += 5
		}
	}

	return score
}

// NormalizeVIN uppercases and trims a reported VIN, returning "" unless it is
// exactly 17 characters.
func NormalizeVIN(vin string) string {
	vin = strings.ToUpper(strings.TrimSpace(vin))
	if len(vin) != 17 {
		return ""
	}
	return vin
}

// VehicleHash derives the content-based surrogate identity key: lowercased
// make, model, year, lowercased trim, alphanumeric-only lowercased seller
// name, and mileage floored to the nearest 1,000.
func VehicleHash(rec *models.RawListingRecord) string {
	key := fmt.Sprintf("%s|%s|%d|%s|%s|%d",
		strings.ToLower(strings.TrimSpace(rec.Make)),
		strings.ToLower(strings.TrimSpace(rec.Model)),
		rec.Year,
		strings.ToLower(strings.TrimSpace(rec.Trim)),
		alphanumericLower(rec.SellerName),
		(rec.Mileage/1000)*1000,
	)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}

func alphanumericLower(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ReconcilePersisted compares freshly aggregated canonical listings against
// already-persisted rows using VIN and hash keys only (no fuzzy matching),
// and decides per-field overwrite with the same priority/confidence rule.
// Only rows whose content actually changed are returned.
func ReconcilePersisted(fresh []*models.CanonicalListing, persisted []*models.ExistingListing) []*models.ExistingListing {
	byVIN := make(map[string]*models.ExistingListing)
	byHash := make(map[string]*models.ExistingListing)
	for _, ex := range persisted {
		if vin := NormalizeVIN(ex.VIN); vin != "" {
			byVIN[vin] = ex
		}
		if ex.VehicleHash != "" {
			byHash[ex.VehicleHash] = ex
		}
	}

	var changed []*models.ExistingListing
	seen := make(map[int64]bool)

	for _, f := range fresh {
		ex := byVIN[NormalizeVIN(f.VIN)]
		if ex == nil {
			ex = byHash[f.VehicleHash]
		}
		if ex == nil || seen[ex.ID] {
			continue
		}

		var dirty bool
		if LessBySourcePriority(&f.RawListingRecord, &ex.RawListingRecord) {
			dirty = overwriteFields(&ex.RawListingRecord, &f.RawListingRecord)
		} else {
			dirty = fillGaps(&ex.RawListingRecord, &f.RawListingRecord)
		}
		if dirty {
			seen[ex.ID] = true
			changed = append(changed, ex)
		}
	}

	return changed
}

// overwriteFields replaces the destination's fields with every non-empty
// value from a higher-priority source, then fills any remaining gaps.
func overwriteFields(dst, src *models.RawListingRecord) bool {
	changed := false

	setString := func(d *string, s string) {
		if s != "" && *d != s {
			*d = s
			changed = true
		}
	}

	setString(&dst.Trim, src.Trim)
	setString(&dst.Location, src.Location)
	setString(&dst.SellerName, src.SellerName)
	setString(&dst.ImageURL, src.ImageURL)
	setString(&dst.ExteriorColor, src.ExteriorColor)
	setString(&dst.InteriorColor, src.InteriorColor)
	setString(&dst.Specs, src.Specs)
	setString(&dst.HistoryBadges, src.HistoryBadges)
	setString(&dst.ListingType, src.ListingType)

	if src.Price > 0 && dst.Price != src.Price {
		dst.Price = src.Price
		changed = true
	}
	if src.Mileage > 0 && dst.Mileage != src.Mileage {
		dst.Mileage = src.Mileage
		changed = true
	}
	if src.DealerRating > 0 && dst.DealerRating != src.DealerRating {
		dst.DealerRating = src.DealerRating
		changed = true
	}
	if src.DaysOnLot > 0 && dst.DaysOnLot != src.DaysOnLot {
		dst.DaysOnLot = src.DaysOnLot
		changed = true
	}
	if fillGaps(dst, src) {
		changed = true
	}

	return changed
}
