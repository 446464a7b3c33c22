package services

import (
	"testing"

	"github.com/ominous-one/Lotview-sub007/models"
)

func TestLessBySourcePriority(t *testing.T) {
	tests := []struct {
		name string
		a, b *models.RawListingRecord
		want bool
	}{
		{
			name: "lower rank wins",
			a:    &models.RawListingRecord{DataSourceRank: 1, SourceConfidence: 10},
			b:    &models.RawListingRecord{DataSourceRank: 5, SourceConfidence: 90},
			want: true,
		},
		{
			name: "equal rank falls back to confidence",
			a:    &models.RawListingRecord{DataSourceRank: 2, SourceConfidence: 80},
			b:    &models.RawListingRecord{DataSourceRank: 2, SourceConfidence: 40},
			want: true,
		},
		{
			name: "higher rank loses",
			a:    &models.RawListingRecord{DataSourceRank: 6, SourceConfidence: 100},
			b:    &models.RawListingRecord{DataSourceRank: 1, SourceConfidence: 10},
			want: false,
		},
	}

	for _, tt := range tests {
		if got := LessBySourcePriority(tt.a, tt.b); got != tt.want {
			t.Errorf("%s: LessBySourcePriority = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestResolveCollapsesSharedVIN(t *testing.T) {
	d := NewDeduplicator(0)
	records := []*models.RawListingRecord{
		{ListingURL: "https://a.example/1", VIN: "1HGCM82633A004352", Price: 25000, DataSourceRank: 4, SourceConfidence: 50},
		{ListingURL: "https://b.example/2", VIN: "1hgcm82633a004352", Price: 24500, DataSourceRank: 1, SourceConfidence: 90},
		{ListingURL: "https://c.example/3", VIN: "1HGCM82633A004352", Price: 25500, DataSourceRank: 6, SourceConfidence: 30},
	}

	res := d.Resolve(records)
	if len(res.Listings) != 1 {
		t.Fatalf("expected 1 canonical record, got %d", len(res.Listings))
	}

	got := res.Listings[0]
	if got.Price != 24500 {
		t.Errorf("price: got %.0f, want the rank-1 source's 24500", got.Price)
	}
	if got.ListingURL != "https://b.example/2" {
		t.Errorf("url: got %s, want the rank-1 source's", got.ListingURL)
	}
	if got.VIN != "1HGCM82633A004352" {
		t.Errorf("vin: got %s, want normalized uppercase", got.VIN)
	}
	if res.DuplicatesRemoved != 2 {
		t.Errorf("duplicatesRemoved: got %d, want 2", res.DuplicatesRemoved)
	}
}

func TestResolveNoSharedURLs(t *testing.T) {
	d := NewDeduplicator(0)
	records := []*models.RawListingRecord{
		{ListingURL: "https://x.example/1", Make: "Honda", Model: "Accord", Year: 2020, DataSourceRank: 1},
		{ListingURL: "https://x.example/1", Make: "Honda", Model: "Accord", Year: 2020, DataSourceRank: 5},
		{ListingURL: "https://x.example/2", Make: "Ford", Model: "F-150", Year: 2018, DataSourceRank: 2},
	}

	res := d.Resolve(records)
	seen := make(map[string]bool)
	for _, l := range res.Listings {
		if seen[l.ListingURL] {
			t.Fatalf("duplicate listing URL in output: %s", l.ListingURL)
		}
		seen[l.ListingURL] = true
	}
	if res.DuplicatesRemoved != 1 {
		t.Errorf("duplicatesRemoved: got %d, want 1", res.DuplicatesRemoved)
	}
	if res.MergedRecords != 0 {
		t.Errorf("mergedRecords: got %d, want 0 (url duplicates are discarded, not merged)", res.MergedRecords)
	}
}

func TestResolveHashMatch(t *testing.T) {
	d := NewDeduplicator(0)
	// Same vehicle reported without VINs: identical identity fields, mileage
	// within the same 1,000 bucket.
	records := []*models.RawListingRecord{
		{ListingURL: "https://a.example/1", Make: "Toyota", Model: "Camry", Year: 2021, Trim: "SE",
			SellerName: "Main St. Motors", Mileage: 54210, Price: 27000, DataSourceRank: 2, SourceConfidence: 70},
		{ListingURL: "https://b.example/2", Make: "toyota", Model: "CAMRY", Year: 2021, Trim: "se",
			SellerName: "main st motors", Mileage: 54890, Price: 26800, DataSourceRank: 5, SourceConfidence: 60},
	}

	res := d.Resolve(records)
	if len(res.Listings) != 1 {
		t.Fatalf("expected hash merge into 1 record, got %d", len(res.Listings))
	}
	if len(res.Audit) != 1 || res.Audit[0].MatchType != MatchHash {
		t.Fatalf("expected a hash audit entry, got %+v", res.Audit)
	}
}

func TestResolveFuzzyThreshold(t *testing.T) {
	d := NewDeduplicator(0)

	// make+model+year+price-within-2% = 20+20+15+15 = 70: exactly at the
	// threshold, linked.
	dup := []*models.RawListingRecord{
		{ListingURL: "https://a.example/1", Make: "Mazda", Model: "CX-5", Year: 2019, Price: 20000, Mileage: 10000, DataSourceRank: 1},
		{ListingURL: "https://b.example/2", Make: "Mazda", Model: "CX-5", Year: 2019, Price: 20300, DataSourceRank: 5},
	}
	if res := d.Resolve(dup); len(res.Listings) != 1 {
		t.Errorf("score 70: expected merge, got %d records", len(res.Listings))
	}

	// Without the price proximity the score stays at 55, below threshold.
	distinct := []*models.RawListingRecord{
		{ListingURL: "https://a.example/1", Make: "Mazda", Model: "CX-5", Year: 2019, Price: 20000, Mileage: 10000, DataSourceRank: 1},
		{ListingURL: "https://b.example/2", Make: "Mazda", Model: "CX-5", Year: 2019, Price: 23000, DataSourceRank: 5},
	}
	if res := d.Resolve(distinct); len(res.Listings) != 2 {
		t.Errorf("score 55: expected 2 records, got %d", len(res.Listings))
	}
}

func TestResolveMergeScenario(t *testing.T) {
	d := NewDeduplicator(0)
	recA := &models.RawListingRecord{
		ListingURL: "https://api.example/accord", Source: "pricing-api",
		Make: "Honda", Model: "Accord", Year: 2020,
		VIN: "1HGCM82633A004352", Price: 25000,
		DataSourceRank: 1, SourceConfidence: 85,
	}
	recB := &models.RawListingRecord{
		ListingURL: "https://marketplace.example/accord-ex", Source: "secondary-marketplace",
		Make: "Honda", Model: "Accord", Year: 2020,
		VIN: "1HGCM82633A004352", Price: 25500, Trim: "EX",
		ExteriorColor: "Silver", InteriorColor: "Black",
		DataSourceRank: 5, SourceConfidence: 60,
	}
	recC := &models.RawListingRecord{
		ListingURL: "https://classifieds.example/f150", Source: "classifieds",
		Make: "Ford", Model: "F-150", Year: 2017,
		VIN: "1FTEW1EP5HFA12345", Price: 31000,
		DataSourceRank: 6, SourceConfidence: 40,
	}

	res := d.Resolve([]*models.RawListingRecord{recB, recC, recA})
	if len(res.Listings) != 2 {
		t.Fatalf("expected 2 canonical records, got %d", len(res.Listings))
	}
	if res.DuplicatesRemoved != 1 || res.MergedRecords != 1 {
		t.Errorf("counters: got removed=%d merged=%d, want 1/1", res.DuplicatesRemoved, res.MergedRecords)
	}

	var merged *models.CanonicalListing
	for _, l := range res.Listings {
		if l.VIN == "1HGCM82633A004352" {
			merged = l
		}
	}
	if merged == nil {
		t.Fatal("merged Accord record not found")
	}
	if merged.Price != 25000 {
		t.Errorf("merged price: got %.0f, want primary's 25000", merged.Price)
	}
	if merged.Trim != "EX" {
		t.Errorf("merged trim: got %q, want gap-filled %q", merged.Trim, "EX")
	}
	if merged.ExteriorColor != "Silver" || merged.InteriorColor != "Black" {
		t.Errorf("merged colors: got %q/%q, want Silver/Black", merged.ExteriorColor, merged.InteriorColor)
	}
	if merged.SourceConfidence != 85 {
		t.Errorf("merged confidence: got %d, want max(85,60)", merged.SourceConfidence)
	}
	if merged.MergedCount != 2 {
		t.Errorf("mergedCount: got %d, want 2", merged.MergedCount)
	}
}

func TestVehicleHashMileageBucket(t *testing.T) {
	base := models.RawListingRecord{Make: "Honda", Model: "Civic", Year: 2022, Trim: "Sport", SellerName: "ABC Auto"}

	a, b, c := base, base, base
	a.Mileage = 54210
	b.Mileage = 54890
	c.Mileage = 55001

	if VehicleHash(&a) != VehicleHash(&b) {
		t.Error("mileage within the same 1,000 bucket should hash equal")
	}
	if VehicleHash(&a) == VehicleHash(&c) {
		t.Error("mileage in a different 1,000 bucket should hash differently")
	}
}

func TestNormalizeVIN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1hgcm82633a004352", "1HGCM82633A004352"},
		{"  1HGCM82633A004352  ", "1HGCM82633A004352"},
		{"SHORT", ""},
		{"", ""},
		{"1HGCM82633A0043521", ""}, // 18 chars
	}
	for _, tt := range tests {
		if got := NormalizeVIN(tt.in); got != tt.want {
			t.Errorf("NormalizeVIN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReconcilePersisted(t *testing.T) {
	persisted := []*models.ExistingListing{
		{
			ID: 11,
			CanonicalListing: models.CanonicalListing{
				RawListingRecord: models.RawListingRecord{
					ListingURL: "https://old.example/1", VIN: "1HGCM82633A004352",
					Price: 26000, DataSourceRank: 5, SourceConfidence: 50,
				},
			},
		},
		{
			ID: 12,
			CanonicalListing: models.CanonicalListing{
				RawListingRecord: models.RawListingRecord{
					ListingURL: "https://old.example/2", VIN: "1FTEW1EP5HFA12345",
					Price: 31000, Trim: "XLT", DataSourceRank: 1, SourceConfidence: 90,
				},
			},
		},
	}

	fresh := []*models.CanonicalListing{
		// Higher priority than row 11: overwrites its price.
		{RawListingRecord: models.RawListingRecord{
			ListingURL: "https://new.example/1", VIN: "1HGCM82633A004352",
			Price: 24900, Trim: "EX", DataSourceRank: 1, SourceConfidence: 85,
		}},
		// Lower priority than row 12 and nothing to gap-fill: no change.
		{RawListingRecord: models.RawListingRecord{
			ListingURL: "https://new.example/2", VIN: "1FTEW1EP5HFA12345",
			Price: 30500, DataSourceRank: 6, SourceConfidence: 30,
		}},
	}

	changed := ReconcilePersisted(fresh, persisted)
	if len(changed) != 1 {
		t.Fatalf("expected 1 changed row, got %d", len(changed))
	}
	if changed[0].ID != 11 {
		t.Fatalf("changed row: got id %d, want 11", changed[0].ID)
	}
	if changed[0].Price != 24900 {
		t.Errorf("reconciled price: got %.0f, want 24900", changed[0].Price)
	}
	if changed[0].Trim != "EX" {
		t.Errorf("reconciled trim: got %q, want EX", changed[0].Trim)
	}
}
