// Package pipeline drives notices from the feed through analysis and
// scoring into the store.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/david/bid-intel/internal/ai"
	"github.com/david/bid-intel/internal/ingest"
	"github.com/david/bid-intel/internal/market"
	"github.com/david/bid-intel/internal/metrics"
	"github.com/david/bid-intel/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers         = 4
	DefaultNotifyThreshold = 70.0

	maxEmbeddingInput = 2000
)

type FeedClient interface {
	Search(ctx context.Context, f ingest.SearchFilters, page ingest.Pagination) (*models.NoticeBatch, error)
	Detail(ctx context.Context, id string) (*models.Notice, error)
	EnhanceDescription(ctx context.Context, n *models.Notice) (string, error)
}

type MarketClient interface {
	TopContractors(ctx context.Context, naics string, fiscalYear int) *models.MarketContext
}

type Analyzer interface {
	Analyze(ctx context.Context, n *models.Notice, mc *models.MarketContext) (*models.Analysis, *ai.Response, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, n *models.Notice, a *models.Analysis, mc *models.MarketContext) (*models.Decision, error)
}

type Store interface {
	UpsertNotice(ctx context.Context, n *models.Notice) error
	UpsertDecision(ctx context.Context, d *models.Decision) error
	SetNoticeEmbedding(ctx context.Context, id string, embedding []float32) error
}

type Config struct {
	Workers         int
	NotifyThreshold float64
}

// classifier fills technical requirements for analyses that came back
// unstructured, so capability matching has something to read.
type classifier struct {
	gen          ai.Generator
	opts         ai.GenerateOptions
	capabilities func() []string
}

type Service struct {
	feed      FeedClient
	market    MarketClient
	analyzer  Analyzer
	evaluator Evaluator
	store     Store
	notifier  Notifier
	embedder  ai.Embedder
	classify  *classifier
	cfg       Config
	log       *zap.Logger
	now       func() time.Time
}

type Option func(*Service)

// WithStore enables persistence. Without it decisions are only returned.
func WithStore(s Store) Option { return func(svc *Service) { svc.store = s } }

func WithMarket(m MarketClient) Option { return func(svc *Service) { svc.market = m } }

func WithNotifier(n Notifier) Option { return func(svc *Service) { svc.notifier = n } }

func WithEmbedder(e ai.Embedder) Option { return func(svc *Service) { svc.embedder = e } }

func WithClock(now func() time.Time) Option { return func(svc *Service) { svc.now = now } }

func WithClassifier(gen ai.Generator, opts ai.GenerateOptions, capabilities func() []string) Option {
	return func(svc *Service) {
		if gen != nil && capabilities != nil {
			svc.classify = &classifier{gen: gen, opts: opts, capabilities: capabilities}
		}
	}
}

func NewService(feed FeedClient, analyzer Analyzer, evaluator Evaluator, cfg Config, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.NotifyThreshold <= 0 {
		cfg.NotifyThreshold = DefaultNotifyThreshold
	}
	s := &Service{
		feed:      feed,
		analyzer:  analyzer,
		evaluator: evaluator,
		cfg:       cfg,
		log:       log.Named("pipeline"),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.notifier == nil {
		s.notifier = LogNotifier{Log: s.log}
	}
	return s
}

// ProcessNotice fetches one notice by id and runs it through the pipeline.
func (s *Service) ProcessNotice(ctx context.Context, id string) (*models.Decision, error) {
	n, err := s.feed.Detail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("detail %s: %w", id, err)
	}
	return s.process(ctx, n)
}

// process runs every step after detail. Only a failed evaluation or a failed
// write stops it; the other steps degrade.
func (s *Service) process(ctx context.Context, n *models.Notice) (*models.Decision, error) {
	log := s.log.With(zap.String("notice_id", n.NoticeID))

	if _, err := s.feed.EnhanceDescription(ctx, n); err != nil {
		log.Warn("description enhancement failed", zap.Error(err))
	}

	if s.store != nil {
		if err := s.store.UpsertNotice(ctx, n); err != nil {
			return nil, err
		}
	}

	var mc *models.MarketContext
	if s.market != nil && n.NAICSCode != "" {
		mc = s.market.TopContractors(ctx, n.NAICSCode, market.FiscalYear(s.now()))
	}

	analysis, _, err := s.analyzer.Analyze(ctx, n, mc)
	if err != nil {
		log.Warn("analysis failed, scoring from notice data", zap.Error(err))
		analysis = ai.NoticeAnalysis(n)
	}
	if !analysis.Parsed {
		s.classifyRequirements(ctx, n, analysis)
	}

	s.embed(ctx, n)

	d, err := s.evaluator.Evaluate(ctx, n, analysis, mc)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", n.NoticeID, err)
	}

	if s.store != nil {
		if err := s.store.UpsertDecision(ctx, d); err != nil {
			return nil, err
		}
	}

	if d.Recommendation == models.RecommendBid || d.OverallScore >= s.cfg.NotifyThreshold {
		payload := map[string]any{
			"notice_id":       n.NoticeID,
			"title":           n.Title,
			"recommendation":  d.Recommendation,
			"overall_score":   d.OverallScore,
			"win_probability": d.WinProbability,
		}
		if err := s.notifier.Fire(ctx, EventBidCandidate, payload); err != nil {
			log.Warn("notification failed", zap.Error(err))
		}
	}
	return d, nil
}

func (s *Service) classifyRequirements(ctx context.Context, n *models.Notice, a *models.Analysis) {
	if s.classify == nil || len(a.TechnicalRequirements) > 0 {
		return
	}
	tags, err := ai.ClassifyCapabilities(ctx, s.classify.gen, s.classify.opts, n.Title, n.Description, s.classify.capabilities())
	if err != nil {
		s.log.Warn("capability classification failed", zap.String("notice_id", n.NoticeID), zap.Error(err))
		return
	}
	a.TechnicalRequirements = tags
}

func (s *Service) embed(ctx context.Context, n *models.Notice) {
	if s.embedder == nil || s.store == nil {
		return
	}
	text := strings.TrimSpace(n.Title + "\n" + n.Description)
	if len(text) > maxEmbeddingInput {
		text = text[:maxEmbeddingInput]
		for !utf8.ValidString(text) {
			text = text[:len(text)-1]
		}
	}
	vec, err := s.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		s.log.Warn("embedding failed", zap.String("notice_id", n.NoticeID), zap.Error(err))
		return
	}
	if err := s.store.SetNoticeEmbedding(ctx, n.NoticeID, vec); err != nil {
		s.log.Warn("storing embedding failed", zap.String("notice_id", n.NoticeID), zap.Error(err))
	}
}

// RunSummary reports one Run.
type RunSummary struct {
	Found            int                           `json:"found"`
	Processed        int                           `json:"processed"`
	Failed           int                           `json:"failed"`
	ByRecommendation map[models.Recommendation]int `json:"by_recommendation"`
	Duration         time.Duration                 `json:"duration"`
}

// Run searches the feed and processes every result on a bounded worker
// pool. A failed notice is counted and logged; it never stops the others.
// Search results are processed as returned, without a second detail call.
func (s *Service) Run(ctx context.Context, f ingest.SearchFilters, page ingest.Pagination) (*RunSummary, error) {
	start := s.now()
	batch, err := s.feed.Search(ctx, f, page)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	summary := &RunSummary{
		Found:            len(batch.Items),
		ByRecommendation: map[models.Recommendation]int{},
	}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i := range batch.Items {
		if ctx.Err() != nil {
			break
		}
		n := batch.Items[i]
		g.Go(func() error {
			metrics.PipelineActive.Inc()
			defer metrics.PipelineActive.Dec()

			d, err := s.process(ctx, &n)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				metrics.PipelineNotices.WithLabelValues("failed").Inc()
				s.log.Error("notice failed", zap.String("notice_id", n.NoticeID), zap.Error(err))
				return nil
			}
			summary.Processed++
			summary.ByRecommendation[d.Recommendation]++
			metrics.PipelineNotices.WithLabelValues("processed").Inc()
			return nil
		})
	}
	_ = g.Wait()

	summary.Duration = s.now().Sub(start)
	s.log.Info("pipeline run complete",
		zap.Int("found", summary.Found),
		zap.Int("processed", summary.Processed),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.Duration))
	return summary, ctx.Err()
}
