package services

import "github.com/ominous-one/Lotview-sub007/models"

// trustedSourceRank is the rank at or below which a source is considered
// premium enough to earn the quality bonus.
const trustedSourceRank = 2

// ScoreQuality computes the 0-100 completeness score for one listing: VIN
// +20, trim +15, any color +10, mileage +15, specs +15, history badges +15,
// dealer rating +10, trusted source +10, capped at 100.
func ScoreQuality(rec *models.RawListingRecord) models.QualityScore {
	score := 0
	breakdown := make(map[string]bool)

	add := func(field string, present bool, points int) {
		breakdown[field] = present
		if present {
			score += points
		}
	}

	add("vin", rec.HasVIN(), 20)
	add("trim", rec.Trim != "", 15)
	add("color", rec.ExteriorColor != "" || rec.InteriorColor != "", 10)
	add("mileage", rec.Mileage > 0, 15)
	add("specs", rec.Specs != "", 15)
	add("historyBadges", rec.HistoryBadges != "", 15)
	add("dealerRating", rec.DealerRating > 0, 10)
	add("trustedSource", rec.DataSourceRank <= trustedSourceRank, 10)

	if score > 100 {
		score = 100
	}

	return models.QualityScore{
		Score:     score,
		Bucket:    qualityBucket(score),
		Breakdown: breakdown,
	}
}

func qualityBucket(score int) string {
	switch {
	case score >= 70:
		return models.QualityHigh
	case score >= 40:
		return models.QualityMedium
	default:
		return models.QualityLow
	}
}
