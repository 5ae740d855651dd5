package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/david/bid-intel/internal/cache"
	"github.com/david/bid-intel/internal/models"
	"go.uber.org/zap"
)

const (
	DefaultSAMBaseURL = "https://api.sam.gov/prod/opportunities/v2/search"

	samDateLayout   = "01/02/2006"
	maxSearchWindow = 365 * 24 * time.Hour
	defaultWindow   = 30 * 24 * time.Hour
	defaultPageSize = 100
	maxPageSize     = 1000

	searchCachePrefix = "sam_gov:"
	detailCachePrefix = "sam_gov_detail:"
	descCachePrefix   = "sam_gov_desc:"
)

// SearchFilters narrows a notice search. NAICSCodes and Agencies are applied
// to the returned page because the upstream API cannot filter on them.
type SearchFilters struct {
	PostedFrom   *time.Time
	PostedTo     *time.Time
	NAICSCodes   []string
	Agencies     []string
	Title        string
	ResponseFrom *time.Time
	ResponseTo   *time.Time
	NoticeType   string // ptype, e.g. "o" for solicitations
}

type Pagination struct {
	Limit  int
	Offset int
}

// SAMClientConfig holds per-operation settings. Zero values take the
// defaults noted on each field.
type SAMClientConfig struct {
	BaseURL              string        // DefaultSAMBaseURL
	SearchTTL            time.Duration // 1h
	DetailTTL            time.Duration // 1h
	DescriptionTTL       time.Duration // 1h
	DescriptionTimeout   time.Duration // 10s
	MaxDescriptionLength int           // 10000
	MinEnhancementLength int           // 50
	FilenameRetries      int           // 2
	FilenameRetryDelay   time.Duration // 1s
}

func (c SAMClientConfig) withDefaults() SAMClientConfig {
	if c.BaseURL == "" {
		c.BaseURL = DefaultSAMBaseURL
	}
	if c.SearchTTL <= 0 {
		c.SearchTTL = time.Hour
	}
	if c.DetailTTL <= 0 {
		c.DetailTTL = time.Hour
	}
	if c.DescriptionTTL <= 0 {
		c.DescriptionTTL = time.Hour
	}
	if c.DescriptionTimeout <= 0 {
		c.DescriptionTimeout = 10 * time.Second
	}
	if c.MaxDescriptionLength <= 0 {
		c.MaxDescriptionLength = DefaultMaxTextLength
	}
	if c.MinEnhancementLength <= 0 {
		c.MinEnhancementLength = 50
	}
	if c.FilenameRetries < 0 {
		c.FilenameRetries = 0
	} else if c.FilenameRetries == 0 {
		c.FilenameRetries = 2
	}
	if c.FilenameRetryDelay <= 0 {
		c.FilenameRetryDelay = time.Second
	}
	return c
}

// SAMClient is the procurement feed client for the SAM.gov opportunities API.
type SAMClient struct {
	fetcher KeyedFetcher
	content ContentFetcher
	pool    KeyPool
	cache   cache.Cache
	norm    Normalizer
	cfg     SAMClientConfig
	log     *zap.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

type SAMOption func(*SAMClient)

// WithContentFetcher sets the fetcher used for URLs found inside notices:
// description links, attachment downloads and filename HEADs. It is
// typically one with private address blocking enabled.
func WithContentFetcher(f ContentFetcher) SAMOption {
	return func(c *SAMClient) { c.content = f }
}

func WithSAMClock(now func() time.Time) SAMOption {
	return func(c *SAMClient) { c.now = now }
}

func withSleep(fn func(ctx context.Context, d time.Duration) error) SAMOption {
	return func(c *SAMClient) { c.sleep = fn }
}

func NewSAMClient(fetcher KeyedFetcher, pool KeyPool, c cache.Cache, cfg SAMClientConfig, log *zap.Logger, opts ...SAMOption) *SAMClient {
	if log == nil {
		log = zap.NewNop()
	}
	if c == nil {
		c = cache.Noop{}
	}
	cfg = cfg.withDefaults()
	client := &SAMClient{
		fetcher: fetcher,
		content: fetcher,
		pool:    pool,
		cache:   c,
		norm:    Normalizer{MaxLength: cfg.MaxDescriptionLength},
		cfg:     cfg,
		log:     log.Named("samgov"),
		now:     time.Now,
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type samSearchResponse struct {
	TotalRecords  int         `json:"totalRecords"`
	Limit         int         `json:"limit"`
	Offset        int         `json:"offset"`
	Opportunities []samRecord `json:"opportunitiesData"`
	Legacy        []samRecord `json:"opportunities"`
}

func (r samSearchResponse) records() []samRecord {
	if len(r.Opportunities) > 0 {
		return r.Opportunities
	}
	return r.Legacy
}

type samRecord struct {
	NoticeID                  string          `json:"noticeId"`
	Title                     string          `json:"title"`
	SolicitationNumber        string          `json:"solicitationNumber"`
	FullParentPathName        string          `json:"fullParentPathName"`
	PostedDate                string          `json:"postedDate"`
	Type                      string          `json:"type"`
	TypeOfSetAside            string          `json:"typeOfSetAside"`
	TypeOfSetAsideDescription string          `json:"typeOfSetAsideDescription"`
	ResponseDeadLine          string          `json:"responseDeadLine"`
	NAICSCode                 string          `json:"naicsCode"`
	Active                    string          `json:"active"`
	Description               string          `json:"description"`
	UILink                    string          `json:"uiLink"`
	AdditionalInfoLink        string          `json:"additionalInfoLink"`
	ResourceLinks             []string        `json:"resourceLinks"`
	PointOfContact            json.RawMessage `json:"pointOfContact"`
	PlaceOfPerformance        *struct {
		City struct {
			Name string `json:"name"`
		} `json:"city"`
		State struct {
			Code string `json:"code"`
		} `json:"state"`
		Country struct {
			Code string `json:"code"`
		} `json:"country"`
	} `json:"placeOfPerformance"`
}

func (r samRecord) toNotice(now time.Time) models.Notice {
	n := models.Notice{
		NoticeID:           strings.TrimSpace(r.NoticeID),
		SolicitationNumber: strings.TrimSpace(r.SolicitationNumber),
		Title:              cleanText(r.Title),
		Agency:             strings.TrimSpace(r.FullParentPathName),
		NAICSCode:          strings.TrimSpace(r.NAICSCode),
		SetAside:           strings.TrimSpace(r.TypeOfSetAsideDescription),
		Type:               strings.TrimSpace(r.Type),
		Active:             !strings.EqualFold(strings.TrimSpace(r.Active), "no"),
		RawDescription:     strings.TrimSpace(r.Description),
		UILink:             strings.TrimSpace(r.UILink),
		AdditionalInfoLink: strings.TrimSpace(r.AdditionalInfoLink),
		ResourceLinks:      r.ResourceLinks,
		FetchedAt:          now,
		UpdatedAt:          now,
	}
	if n.NoticeID == "" {
		n.NoticeID = n.SolicitationNumber
	}
	if n.SetAside == "" {
		n.SetAside = strings.TrimSpace(r.TypeOfSetAside)
	}
	if t, ok := parseFeedDate(r.PostedDate); ok {
		n.PostedDate = &t
	}
	if t, ok := parseFeedDate(r.ResponseDeadLine); ok {
		n.ResponseDeadline = &t
	}
	if p := r.PlaceOfPerformance; p != nil {
		parts := make([]string, 0, 3)
		for _, s := range []string{p.City.Name, p.State.Code, p.Country.Code} {
			if s = strings.TrimSpace(s); s != "" {
				parts = append(parts, s)
			}
		}
		n.PlaceOfPerformance = strings.Join(parts, ", ")
	}
	poc := strings.TrimSpace(string(r.PointOfContact))
	n.HasPointOfContact = poc != "" && poc != "null" && poc != "[]" && poc != "{}"
	if !isURL(n.RawDescription) {
		n.Description = TruncateText(n.RawDescription, DefaultMaxTextLength)
	}
	return n
}

var feedDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	samDateLayout,
}

func parseFeedDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range feedDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Search returns one page of notices. The posted window defaults to the last
// 30 days and is clamped to 365 days ending at PostedTo.
func (c *SAMClient) Search(ctx context.Context, f SearchFilters, page Pagination) (*models.NoticeBatch, error) {
	now := c.now()
	if page.Limit <= 0 {
		page.Limit = defaultPageSize
	}
	if page.Limit > maxPageSize {
		page.Limit = maxPageSize
	}
	if page.Offset < 0 {
		page.Offset = 0
	}

	postedTo := now
	if f.PostedTo != nil {
		postedTo = *f.PostedTo
	}
	postedFrom := postedTo.Add(-defaultWindow)
	if f.PostedFrom != nil {
		postedFrom = *f.PostedFrom
	}
	clamped := false
	if postedTo.Sub(postedFrom) > maxSearchWindow {
		postedFrom = postedTo.Add(-maxSearchWindow)
		clamped = true
		c.log.Warn("date range exceeded 1 year, adjusting to last 365 days",
			zap.String("posted_to", postedTo.Format(samDateLayout)))
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(page.Limit))
	params.Set("offset", strconv.Itoa(page.Offset))
	params.Set("postedFrom", postedFrom.Format(samDateLayout))
	params.Set("postedTo", postedTo.Format(samDateLayout))
	if t := strings.TrimSpace(f.Title); t != "" {
		params.Set("title", t)
	}
	if f.ResponseFrom != nil {
		params.Set("rdlfrom", f.ResponseFrom.Format(samDateLayout))
	}
	if f.ResponseTo != nil {
		params.Set("rdlto", f.ResponseTo.Format(samDateLayout))
	}
	if f.NoticeType != "" {
		params.Set("ptype", f.NoticeType)
	}

	key := searchCacheKey(params, f)
	var cached models.NoticeBatch
	if cache.GetJSON(ctx, c.cache, key, &cached) {
		c.log.Debug("returning cached search", zap.String("key", key))
		return &cached, nil
	}

	resp, err := c.query(ctx, params)
	if err != nil {
		return nil, err
	}

	items := make([]models.Notice, 0, len(resp.records()))
	for _, r := range resp.records() {
		n := r.toNotice(now)
		if !matchesNAICS(n, f.NAICSCodes) || !matchesAgency(n, f.Agencies) {
			continue
		}
		items = append(items, n)
	}

	batch := &models.NoticeBatch{
		Items:           items,
		TotalCount:      len(items),
		APITotalRecords: resp.TotalRecords,
		Limit:           page.Limit,
		Offset:          page.Offset,
		Filters: models.FiltersEcho{
			PostedFrom: postedFrom.Format(time.RFC3339),
			PostedTo:   postedTo.Format(time.RFC3339),
			NAICSCodes: f.NAICSCodes,
			Agencies:   f.Agencies,
			Title:      f.Title,
			Clamped:    clamped,
		},
	}
	cache.SetJSON(ctx, c.cache, key, batch, c.cfg.SearchTTL)
	return batch, nil
}

// Detail looks a notice up by solicitation number within the last year.
// There is no direct by-id endpoint upstream.
func (c *SAMClient) Detail(ctx context.Context, id string) (*models.Notice, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: empty notice id", ErrNotFound)
	}
	key := detailCachePrefix + id
	var cached models.Notice
	if cache.GetJSON(ctx, c.cache, key, &cached) {
		return &cached, nil
	}

	now := c.now()
	params := url.Values{}
	params.Set("limit", "1")
	params.Set("solnum", id)
	params.Set("postedFrom", now.Add(-maxSearchWindow).Format(samDateLayout))
	params.Set("postedTo", now.Format(samDateLayout))

	resp, err := c.query(ctx, params)
	if err != nil {
		return nil, err
	}
	records := resp.records()
	if len(records) == 0 {
		return nil, fmt.Errorf("opportunity %s: %w", id, ErrNotFound)
	}

	n := records[0].toNotice(now)
	cache.SetJSON(ctx, c.cache, key, n, c.cfg.DetailTTL)
	return &n, nil
}

func (c *SAMClient) query(ctx context.Context, params url.Values) (*samSearchResponse, error) {
	doc, err := c.fetcher.FetchWithKey(ctx, c.cfg.BaseURL, params, c.pool)
	if err != nil {
		return nil, err
	}
	var resp samSearchResponse
	if err := json.Unmarshal(doc.Body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding search response: %v", ErrFetchFailed, err)
	}
	return &resp, nil
}

// searchCacheKey encodes the sorted upstream params plus the client-side
// filters. api_key never reaches params here.
func searchCacheKey(params url.Values, f SearchFilters) string {
	p := cloneValues(params)
	if len(f.NAICSCodes) > 0 {
		codes := append([]string(nil), f.NAICSCodes...)
		sort.Strings(codes)
		p.Set("naics", strings.Join(codes, ","))
	}
	if len(f.Agencies) > 0 {
		agencies := make([]string, 0, len(f.Agencies))
		for _, a := range f.Agencies {
			agencies = append(agencies, strings.ToLower(strings.TrimSpace(a)))
		}
		sort.Strings(agencies)
		p.Set("agency", strings.Join(agencies, ","))
	}
	// url.Values.Encode sorts by key.
	return searchCachePrefix + p.Encode()
}

func matchesNAICS(n models.Notice, codes []string) bool {
	if len(codes) == 0 {
		return true
	}
	for _, code := range codes {
		if strings.TrimSpace(code) == n.NAICSCode {
			return true
		}
	}
	return false
}

func matchesAgency(n models.Notice, agencies []string) bool {
	if len(agencies) == 0 {
		return true
	}
	path := strings.ToLower(n.Agency)
	for _, a := range agencies {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" && strings.Contains(path, a) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsNotFound reports whether err marks an absent notice or document.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
