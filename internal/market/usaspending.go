// Package market looks up award history on USASpending.gov to give the
// decision engine some sense of who already wins work in a NAICS code.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/david/bid-intel/internal/cache"
	"github.com/david/bid-intel/internal/ingest"
	"github.com/david/bid-intel/internal/models"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.usaspending.gov/api/v2"
	DefaultLimit   = 10
	DefaultTTL     = 24 * time.Hour

	topContractorsPath = "/search/spending_by_category/recipient/"
)

type Client struct {
	poster  ingest.JSONPoster
	cache   cache.Cache
	baseURL string
	limit   int
	ttl     time.Duration
	log     *zap.Logger
	now     func() time.Time
}

type Option func(*Client)

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func New(poster ingest.JSONPoster, c cache.Cache, baseURL string, limit int, ttl time.Duration, log *zap.Logger, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if c == nil {
		c = cache.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	client := &Client{
		poster:  poster,
		cache:   c,
		baseURL: strings.TrimRight(baseURL, "/"),
		limit:   limit,
		ttl:     ttl,
		log:     log.Named("market"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type timePeriod struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type categoryRequest struct {
	Filters struct {
		NAICSCodes []string     `json:"naics_codes"`
		TimePeriod []timePeriod `json:"time_period"`
	} `json:"filters"`
	Limit     int  `json:"limit"`
	Page      int  `json:"page"`
	Subawards bool `json:"subawards"`
}

type categoryResponse struct {
	Category string `json:"category"`
	Results  []struct {
		Name   string  `json:"name"`
		Amount float64 `json:"amount"`
	} `json:"results"`
}

// FiscalYear returns the federal fiscal year containing t. FY N starts on
// October 1 of year N-1.
func FiscalYear(t time.Time) int {
	if t.Month() >= time.October {
		return t.Year() + 1
	}
	return t.Year()
}

// TopContractors returns the largest recipients by obligated amount for naics
// in fiscalYear (the current one when zero). Any failure is logged and
// yields nil so callers carry on without market data.
func (c *Client) TopContractors(ctx context.Context, naics string, fiscalYear int) *models.MarketContext {
	naics = strings.TrimSpace(naics)
	if naics == "" {
		return nil
	}
	if fiscalYear <= 0 {
		fiscalYear = FiscalYear(c.now())
	}

	key := fmt.Sprintf("usaspending:top:%s:%d", naics, fiscalYear)
	var cached models.MarketContext
	if cache.GetJSON(ctx, c.cache, key, &cached) {
		return &cached
	}

	var req categoryRequest
	req.Filters.NAICSCodes = []string{naics}
	req.Filters.TimePeriod = []timePeriod{{
		StartDate: fmt.Sprintf("%d-10-01", fiscalYear-1),
		EndDate:   fmt.Sprintf("%d-09-30", fiscalYear),
	}}
	req.Limit = c.limit
	req.Page = 1

	doc, err := c.poster.PostJSON(ctx, c.baseURL+topContractorsPath, req)
	if err != nil {
		c.log.Warn("market context unavailable",
			zap.String("naics", naics),
			zap.Int("fiscal_year", fiscalYear),
			zap.Error(err))
		return nil
	}

	var resp categoryResponse
	if err := json.Unmarshal(doc.Body, &resp); err != nil {
		c.log.Warn("market context response undecodable", zap.String("naics", naics), zap.Error(err))
		return nil
	}

	mc := &models.MarketContext{NAICS: naics, FiscalYear: fiscalYear}
	for _, r := range resp.Results {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			continue
		}
		mc.TopContractors = append(mc.TopContractors, models.Contractor{Name: name, Amount: r.Amount})
	}
	cache.SetJSON(ctx, c.cache, key, mc, c.ttl)
	return mc
}
