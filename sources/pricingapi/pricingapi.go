// Package pricingapi implements the highest-ranked source adapter: a managed
// vehicle pricing API queried over JSON.
package pricingapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/ominous-one/Lotview-sub007/models"
	"github.com/ominous-one/Lotview-sub007/sources"
)

const defaultTimeout = 20 * time.Second

// Adapter fetches dealer and private listings from the pricing API.
type Adapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Options configures the adapter.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// New creates a pricing-API adapter.
func New(opts Options) (*Adapter, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("pricingapi: base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("pricingapi: invalid base URL: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Adapter{
		baseURL: base,
		apiKey:  opts.APIKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (a *Adapter) Name() string       { return sources.SourcePricingAPI }
func (a *Adapter) Rank() int          { return sources.Rank(sources.SourcePricingAPI) }
func (a *Adapter) Tier() sources.Tier { return sources.TierAPI }

// searchResponse mirrors the API's search payload. Either a bare listing
// array or an object wrapping one is accepted.
type searchResponse struct {
	Listings []apiListing `json:"listings"`
}

type apiListing struct {
	ID            string          `json:"id"`
	VDPURL        string          `json:"vdp_url"`
	SellerType    string          `json:"seller_type"`
	Year          int             `json:"year"`
	Make          string          `json:"make"`
	Model         string          `json:"model"`
	Trim          string          `json:"trim"`
	Price         float64         `json:"price"`
	Miles         int             `json:"miles"`
	City          string          `json:"city"`
	State         string          `json:"state"`
	DealerName    string          `json:"dealer_name"`
	VIN           string          `json:"vin"`
	PhotoURL      string          `json:"photo_url"`
	ExteriorColor string          `json:"exterior_color"`
	InteriorColor string          `json:"interior_color"`
	Specs         json.RawMessage `json:"specs"`
	Badges        json.RawMessage `json:"history_badges"`
	DealerRating  float64         `json:"dealer_rating"`
	DaysOnMarket  int             `json:"dom"`
	PostedAt      string          `json:"posted_at"`
}

// Fetch queries /v2/search and normalizes the payload into raw listing
// records.
func (a *Adapter) Fetch(ctx context.Context, params models.SearchParams) ([]*models.RawListingRecord, error) {
	q := url.Values{}
	q.Set("make", params.Make)
	q.Set("model", params.Model)
	q.Set("year_min", strconv.Itoa(params.YearMin))
	q.Set("year_max", strconv.Itoa(params.YearMax))
	if params.Location != "" {
		q.Set("location", params.Location)
	}
	if params.RadiusKm > 0 {
		q.Set("radius", strconv.Itoa(params.RadiusKm))
	}
	if params.MaxResults > 0 {
		q.Set("rows", strconv.Itoa(params.MaxResults))
	}

	endpoint := a.baseURL + "/v2/search?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("pricingapi: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pricingapi: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("pricingapi: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pricingapi: status %d: %s", resp.StatusCode, truncateBody(body))
	}

	listings, err := parseSearchBody(body)
	if err != nil {
		return nil, err
	}

	records := make([]*models.RawListingRecord, 0, len(listings))
	for i := range listings {
		records = append(records, normalize(&listings[i]))
	}
	log.Debugf("pricingapi: normalized %d of %d payload listings", len(records), len(listings))
	return records, nil
}

// parseSearchBody accepts both {"listings":[...]} and a bare [...] payload.
func parseSearchBody(body []byte) ([]apiListing, error) {
	var wrapped searchResponse
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Listings != nil {
		return wrapped.Listings, nil
	}
	var bare []apiListing
	if err := json.Unmarshal(body, &bare); err == nil {
		return bare, nil
	}
	return nil, fmt.Errorf("pricingapi: unrecognized search payload: %s", truncateBody(body))
}

func normalize(l *apiListing) *models.RawListingRecord {
	rec := &models.RawListingRecord{
		ExternalID:    l.ID,
		Source:        sources.SourcePricingAPI,
		ListingURL:    l.VDPURL,
		ListingType:   listingType(l.SellerType),
		Year:          l.Year,
		Make:          l.Make,
		Model:         l.Model,
		Trim:          l.Trim,
		Price:         l.Price,
		Mileage:       l.Miles,
		Location:      joinLocation(l.City, l.State),
		SellerName:    l.DealerName,
		VIN:           l.VIN,
		ImageURL:      l.PhotoURL,
		ExteriorColor: l.ExteriorColor,
		InteriorColor: l.InteriorColor,
		Specs:         string(l.Specs),
		HistoryBadges: string(l.Badges),
		DealerRating:  l.DealerRating,
		DaysOnLot:     l.DaysOnMarket,
	}

	if l.PostedAt != "" {
		if t, err := time.Parse(time.RFC3339, l.PostedAt); err == nil {
			rec.PostedDate = t
		}
	}

	rec.SourceConfidence = confidence(rec)
	return rec
}

// confidence estimates record completeness for the merge tie-breaker.
func confidence(rec *models.RawListingRecord) int {
	score := 50
	if rec.HasVIN() {
		score += 20
	}
	if rec.Trim != "" {
		score += 10
	}
	if rec.Mileage > 0 {
		score += 10
	}
	if rec.SellerName != "" {
		score += 5
	}
	if !rec.PostedDate.IsZero() || rec.DaysOnLot > 0 {
		score += 5
	}
	if score > 100 {
		score = 100
	}
	return score
}

func listingType(sellerType string) string {
	if strings.EqualFold(sellerType, "fsbo") || strings.EqualFold(sellerType, "private") {
		return models.ListingTypePrivate
	}
	return models.ListingTypeDealer
}

func joinLocation(city, state string) string {
	switch {
	case city == "":
		return state
	case state == "":
		return city
	default:
		return city + ", " + state
	}
}

func truncateBody(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
