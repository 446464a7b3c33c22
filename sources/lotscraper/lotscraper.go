// Package lotscraper implements the fallback-scraper source adapter: a
// headless-browser scrape of a marketplace search page, used only when the
// cheaper API-tier sources come up short.
package lotscraper

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/chromedp/chromedp"

	"github.com/ominous-one/Lotview-sub007/models"
	"github.com/ominous-one/Lotview-sub007/sources"
	"github.com/ominous-one/Lotview-sub007/utils"
)

// Scraped records are low-confidence by definition: no structured feed backs
// them, only whatever the page exposes.
const scrapedConfidence = 40

var (
	priceRegexp   = regexp.MustCompile(`[\d,]+(?:\.\d+)?`)
	mileageRegexp = regexp.MustCompile(`([\d,]+)\s*(?:km|mi|miles)`)
	vinRegexp     = regexp.MustCompile(`\b[A-HJ-NPR-Z0-9]{17}\b`)
	yearRegexp    = regexp.MustCompile(`\b(19|20)\d{2}\b`)
)

// Options configures the scraper adapter.
type Options struct {
	StartURL       string
	MaxConcurrency int
	RateLimitMs    int
	MaxRetries     int
	ChromeBin      string
}

// Scraper drives a headless browser over the marketplace search results.
type Scraper struct {
	opts    Options
	pool    *utils.WorkerPool
	visited *utils.URLSet
	retry   *utils.RetryConfig

	mu      sync.Mutex
	records []*models.RawListingRecord
}

// New creates a ready-to-use fallback scraper.
func New(opts Options) (*Scraper, error) {
	if strings.TrimSpace(opts.StartURL) == "" {
		return nil, fmt.Errorf("lotscraper: start URL is required")
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 3
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	return &Scraper{
		opts:    opts,
		pool:    utils.NewWorkerPool(opts.MaxConcurrency, time.Duration(opts.RateLimitMs)*time.Millisecond),
		visited: utils.NewURLSet(),
		retry:   &utils.RetryConfig{MaxAttempts: opts.MaxRetries, BaseDelay: 2 * time.Second},
	}, nil
}

func (s *Scraper) Name() string       { return sources.SourceFallbackScraper }
func (s *Scraper) Rank() int          { return sources.Rank(sources.SourceFallbackScraper) }
func (s *Scraper) Tier() sources.Tier { return sources.TierScraper }

// Fetch scrapes the search results page for the requested vehicle and
// enriches each card from its detail page.
func (s *Scraper) Fetch(ctx context.Context, params models.SearchParams) ([]*models.RawListingRecord, error) {
	chromeBin := s.opts.ChromeBin
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	// Suppress chromedp log noise.
	allocCtx, cancelSilent := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelSilent()

	searchURL := s.searchURL(params)
	log.Infof("lotscraper: scraping %s", searchURL)

	cards, err := s.scrapeSearchPage(allocCtx, searchURL, params.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("lotscraper: search page: %w", err)
	}

	s.mu.Lock()
	s.records = s.records[:0]
	s.mu.Unlock()

	for _, c := range cards {
		card := c
		if card.URL == "" || !s.visited.Add(card.URL) {
			continue
		}
		s.pool.Submit(func() {
			rec := s.cardToRecord(allocCtx, card, params)
			s.mu.Lock()
			s.records = append(s.records, rec)
			s.mu.Unlock()
		})
	}
	s.pool.Wait()

	log.Infof("lotscraper: collected %d records", len(s.records))
	return s.records, nil
}

func (s *Scraper) searchURL(params models.SearchParams) string {
	q := url.Values{}
	q.Set("make", params.Make)
	q.Set("model", params.Model)
	q.Set("year_from", strconv.Itoa(params.YearMin))
	q.Set("year_to", strconv.Itoa(params.YearMax))
	if params.Location != "" {
		q.Set("location", params.Location)
	}
	return strings.TrimRight(s.opts.StartURL, "/") + "/search?" + q.Encode()
}

type cardData struct {
	Title   string `json:"title"`
	Price   string `json:"price"`
	Mileage string `json:"mileage"`
	Seller  string `json:"seller"`
	URL     string `json:"url"`
}

// scrapeSearchPage loads the results page and extracts vehicle cards.
func (s *Scraper) scrapeSearchPage(allocCtx context.Context, pageURL string, limit int) ([]cardData, error) {
	if limit <= 0 {
		limit = 50
	}
	var cards []cardData

	err := s.retry.Do(allocCtx, "scrape-search-page", func() error {
		ctx, cancel := chromedp.NewContext(allocCtx)
		defer cancel()

		ctx, cancelTimeout := context.WithTimeout(ctx, 90*time.Second)
		defer cancelTimeout()

		return chromedp.Run(ctx,
			chromedp.Navigate(pageURL),
			chromedp.Sleep(5*time.Second),
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(2*time.Second),
			chromedp.Evaluate(`
				(function() {
					var results = [];
					var limit = `+strconv.Itoa(limit)+`;
					var seen = {};

					var cards = document.querySelectorAll(
						'[data-testid="vehicle-card"], [data-qa="listing-card"], article[class*="vehicle"], div[class*="listing-card"]');

					if (cards.length === 0) {
						// Fallback: any anchor that looks like a vehicle detail page.
						var links = document.querySelectorAll('a[href*="/vehicle/"], a[href*="/vdp/"], a[href*="/listing/"]');
						for (var li = 0; li < links.length && results.length < limit; li++) {
							var href = links[li].href;
							if (!href || seen[href]) continue;
							seen[href] = true;
							var wrap = links[li].closest('article') || links[li].closest('div');
							var lines = (wrap ? wrap.innerText : links[li].innerText)
								.split('\n').map(function(l){return l.trim();}).filter(Boolean);
							results.push({
								title:   lines[0] || '',
								price:   lines.find(function(l){return l.indexOf('$') >= 0;}) || '',
								mileage: lines.find(function(l){return /km|mi/.test(l);}) || '',
								seller:  '',
								url:     href
							});
						}
						return results;
					}

					for (var i = 0; i < cards.length && results.length < limit; i++) {
						var card = cards[i];
						var linkEl = card.querySelector('a[href]');
						var href = linkEl ? linkEl.href : '';
						if (!href || seen[href]) continue;
						seen[href] = true;

						var titleEl = card.querySelector('h2, h3, [data-testid="vehicle-card-title"]');
						var priceEl = card.querySelector('[data-testid="vehicle-card-price"], span[class*="price"]');
						var mileageEl = card.querySelector('[data-testid="vehicle-card-mileage"], span[class*="mileage"], span[class*="odometer"]');
						var sellerEl = card.querySelector('[data-testid="seller-name"], div[class*="dealer"]');

						results.push({
							title:   titleEl ? titleEl.innerText.trim() : '',
							price:   priceEl ? priceEl.innerText.trim() : '',
							mileage: mileageEl ? mileageEl.innerText.trim() : '',
							seller:  sellerEl ? sellerEl.innerText.trim() : '',
							url:     href
						});
					}
					return results;
				})()
			`, &cards),
		)
	})

	return cards, err
}

// cardToRecord converts a scraped card into a raw record, visiting the detail
// page for the VIN when the card alone does not carry one.
func (s *Scraper) cardToRecord(allocCtx context.Context, card cardData, params models.SearchParams) *models.RawListingRecord {
	rec := &models.RawListingRecord{
		Source:           sources.SourceFallbackScraper,
		ListingURL:       card.URL,
		ListingType:      models.ListingTypeDealer,
		Make:             params.Make,
		Model:            params.Model,
		Price:            parsePrice(card.Price),
		Mileage:          parseMileage(card.Mileage),
		SellerName:       card.Seller,
		SourceConfidence: scrapedConfidence,
	}

	if m := yearRegexp.FindString(card.Title); m != "" {
		rec.Year, _ = strconv.Atoi(m)
	}
	if m := vinRegexp.FindString(card.Title); m != "" {
		rec.VIN = m
	}

	if rec.VIN == "" {
		if vin, err := s.scrapeDetailVIN(allocCtx, card.URL); err != nil {
			log.Debugf("lotscraper: detail page failed for %s: %v", card.URL, err)
		} else {
			rec.VIN = vin
		}
	}

	return rec
}

// scrapeDetailVIN visits the detail page and hunts for a VIN in the vehicle
// specifications table or the page text.
func (s *Scraper) scrapeDetailVIN(allocCtx context.Context, pageURL string) (string, error) {
	var pageText string

	err := s.retry.Do(allocCtx, "scrape-detail-page", func() error {
		ctx, cancel := chromedp.NewContext(allocCtx)
		defer cancel()

		ctx, cancelTimeout := context.WithTimeout(ctx, 60*time.Second)
		defer cancelTimeout()

		return chromedp.Run(ctx,
			chromedp.Navigate(pageURL),
			chromedp.Sleep(3*time.Second),
			chromedp.Evaluate(`
				(function() {
					var el = document.querySelector('[data-testid="vin"], dd[class*="vin"], span[class*="vin"]');
					if (el) return el.innerText;
					var specs = document.querySelector('[data-testid="specs"], table[class*="spec"]');
					return specs ? specs.innerText : document.body.innerText.substring(0, 5000);
				})()
			`, &pageText),
		)
	})
	if err != nil {
		return "", err
	}

	vin := vinRegexp.FindString(strings.ToUpper(pageText))
	if vin == "" {
		return "", fmt.Errorf("no VIN on page")
	}
	return vin, nil
}

// parsePrice extracts a numeric price from a scraped string like "$24,995".
func parsePrice(raw string) float64 {
	cleaned := strings.ReplaceAll(raw, ",", "")
	match := priceRegexp.FindString(cleaned)
	if match == "" {
		return 0
	}
	price, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}
	return price
}

// parseMileage extracts odometer kilometers/miles from strings like
// "54,210 km".
func parseMileage(raw string) int {
	match := mileageRegexp.FindStringSubmatch(strings.ToLower(raw))
	if len(match) < 2 {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(match[1], ",", ""))
	if err != nil {
		return 0
	}
	return n
}

// findChromeBinary locates a Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
