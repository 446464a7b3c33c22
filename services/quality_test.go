package services

import (
	"testing"
	"time"

	"github.com/ominous-one/Lotview-sub007/models"
)

func TestScoreQuality(t *testing.T) {
	full := &models.RawListingRecord{
		VIN:            "1HGCM82633A004352",
		Trim:           "EX",
		ExteriorColor:  "Silver",
		Mileage:        54210,
		Specs:          `{"engine":"2.0L"}`,
		HistoryBadges:  `["No Accidents"]`,
		DealerRating:   4.7,
		DataSourceRank: 1,
		PostedDate:     time.Now(),
	}

	tests := []struct {
		name       string
		rec        *models.RawListingRecord
		wantScore  int
		wantBucket string
	}{
		{"empty record from untrusted source", &models.RawListingRecord{DataSourceRank: 6}, 0, models.QualityLow},
		{"fully populated caps at 100", full, 100, models.QualityHigh},
		{
			"vin and mileage only",
			&models.RawListingRecord{VIN: "1HGCM82633A004352", Mileage: 30000, DataSourceRank: 5},
			35, models.QualityLow,
		},
		{
			"medium boundary at 40",
			&models.RawListingRecord{Trim: "LX", ExteriorColor: "Blue", Mileage: 30000, DataSourceRank: 6},
			40, models.QualityMedium,
		},
		{
			"trusted source bonus",
			&models.RawListingRecord{VIN: "1HGCM82633A004352", Trim: "LX", Mileage: 10000, Specs: "{}", DataSourceRank: 2},
			75, models.QualityHigh,
		},
	}

	for _, tt := range tests {
		got := ScoreQuality(tt.rec)
		if got.Score != tt.wantScore {
			t.Errorf("%s: score = %d, want %d", tt.name, got.Score, tt.wantScore)
		}
		if got.Bucket != tt.wantBucket {
			t.Errorf("%s: bucket = %q, want %q", tt.name, got.Bucket, tt.wantBucket)
		}
	}
}

func TestScoreQualityBreakdown(t *testing.T) {
	rec := &models.RawListingRecord{
		VIN:            "1HGCM82633A004352",
		InteriorColor:  "Black",
		DataSourceRank: 5,
	}
	got := ScoreQuality(rec)

	if !got.Breakdown["vin"] {
		t.Error("breakdown should mark vin present")
	}
	if !got.Breakdown["color"] {
		t.Error("interior color alone should satisfy the color check")
	}
	if got.Breakdown["trim"] || got.Breakdown["trustedSource"] {
		t.Errorf("breakdown reports absent fields as present: %v", got.Breakdown)
	}
}

func TestQualityBucketBoundaries(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{100, models.QualityHigh},
		{70, models.QualityHigh},
		{69, models.QualityMedium},
		{40, models.QualityMedium},
		{39, models.QualityLow},
		{0, models.QualityLow},
	}
	for _, tt := range tests {
		if got := qualityBucket(tt.score); got != tt.want {
			t.Errorf("qualityBucket(%d) = %q, want %q", tt.score, got, tt.want)
		}
	}
}
