package decision

import (
	"context"
	"errors"
	"time"

	"github.com/david/bid-intel/internal/ai"
	"github.com/david/bid-intel/internal/metrics"
	"github.com/david/bid-intel/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine scores notices. It is safe for concurrent use.
type Engine struct {
	gen      ai.Generator
	opts     ai.GenerateOptions
	profiles *ProfileStore
	log      *zap.Logger
	now      func() time.Time
}

type EngineOption func(*Engine)

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func WithProfiles(s *ProfileStore) EngineOption {
	return func(e *Engine) { e.profiles = s }
}

// NewEngine builds an engine. gen may be nil, in which case every rationale
// is the deterministic fallback.
func NewEngine(gen ai.Generator, opts ai.GenerateOptions, log *zap.Logger, options ...EngineOption) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		gen:  gen,
		opts: opts,
		log:  log.Named("decision"),
		now:  time.Now,
	}
	for _, o := range options {
		o(e)
	}
	if e.profiles == nil {
		e.profiles = NewProfileStore(DefaultProfile())
	}
	return e
}

func (e *Engine) Profile() *Profile { return e.profiles.Get() }

// Evaluate produces a complete decision. Provider failures only affect the
// narrative; a missing analysis is rebuilt from the notice.
func (e *Engine) Evaluate(ctx context.Context, n *models.Notice, a *models.Analysis, mc *models.MarketContext) (*models.Decision, error) {
	if n == nil {
		return nil, errors.New("evaluate: nil notice")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a == nil {
		a = ai.NoticeAnalysis(n)
	}

	now := e.now()
	factors := CalculateFactors(e.profiles.Get(), n, a, mc, now)
	score := Score(factors)
	rec := Recommend(score)

	r, resp := e.generateRationale(ctx, n, a, factors, score, rec)
	source := models.RationaleFallback
	provider := ""
	if resp != nil {
		source = models.RationaleAI
		provider = resp.Provider
	}

	cost := EstimateBidCost(len(a.TechnicalRequirements), n.ResponseDeadline, now)
	win := EstimateWinProbability(factors, score)

	d := &models.Decision{
		ID:               uuid.NewString(),
		NoticeID:         n.NoticeID,
		Recommendation:   rec,
		OverallScore:     score,
		Confidence:       clamp(0, 1, a.ConfidenceScore),
		Factors:          factors,
		Rationale:        r.Rationale,
		Strengths:        r.Strengths,
		Concerns:         r.Concerns,
		Actions:          r.Actions,
		EstimatedBidCost: &cost,
		WinProbability:   &win,
		RationaleSource:  source,
		Provider:         provider,
		EvaluatedAt:      now.UTC(),
	}

	metrics.Decisions.WithLabelValues(string(rec), string(source)).Inc()
	metrics.DecisionScore.Observe(score)
	e.log.Info("decision",
		zap.String("notice_id", n.NoticeID),
		zap.String("recommendation", string(rec)),
		zap.Float64("score", score),
		zap.String("rationale_source", string(source)))
	return d, nil
}
