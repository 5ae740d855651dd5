package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/david/bid-intel/internal/ai"
	"github.com/david/bid-intel/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubGenerator struct {
	content string
	err     error
	calls   int
	last    ai.Request
}

func (s *stubGenerator) Generate(ctx context.Context, req ai.Request, opts ai.GenerateOptions) (*ai.Response, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &ai.Response{Content: s.content, Provider: "stub"}, nil
}

func newTestEngine(t *testing.T, gen ai.Generator) *Engine {
	return NewEngine(gen, ai.GenerateOptions{Fallback: true}, zaptest.NewLogger(t),
		WithClock(func() time.Time { return fixedNow }))
}

func TestEvaluate_AIRationale(t *testing.T) {
	gen := &stubGenerator{content: `{"rationale":"Solid fit for our cloud practice.","strengths":["DLA past work"],"concerns":[],"actions":["Form team"]}`}
	e := newTestEngine(t, gen)

	d, err := e.Evaluate(context.Background(), sampleNotice(), sampleAnalysis(), nil)
	require.NoError(t, err)

	assert.NotEmpty(t, d.ID)
	assert.Equal(t, "n-1", d.NoticeID)
	assert.Equal(t, models.RecommendWatch, d.Recommendation)
	assert.InDelta(t, 65.46, d.OverallScore, 1e-9)
	assert.Equal(t, 0.8, d.Confidence)
	assert.Equal(t, models.RationaleAI, d.RationaleSource)
	assert.Equal(t, "stub", d.Provider)
	assert.Equal(t, "Solid fit for our cloud practice.", d.Rationale)
	assert.Equal(t, []string{"DLA past work"}, d.Strengths)
	assert.Equal(t, fallbackConcerns, d.Concerns)
	assert.Equal(t, []string{"Form team"}, d.Actions)
	require.NotNil(t, d.EstimatedBidCost)
	assert.Equal(t, 30000.0, *d.EstimatedBidCost)
	require.NotNil(t, d.WinProbability)
	assert.InDelta(t, 0.56484, *d.WinProbability, 1e-9)
	assert.Equal(t, fixedNow, d.EvaluatedAt)

	assert.Equal(t, ai.TaskAnalysis, gen.last.TaskType)
	assert.Equal(t, 1500, gen.last.MaxTokens)
	assert.Equal(t, ai.Float64(0.3), gen.last.Temperature)
	assert.Equal(t, rationaleSystemPrompt, gen.last.SystemPrompt)
	assert.Contains(t, gen.last.Prompt, "RECOMMENDATION: WATCH")
	assert.Contains(t, gen.last.Prompt, "- Strategic Alignment: 0.62")
	assert.NotContains(t, gen.last.Prompt, "Past Performance")
}

func TestEvaluate_FallbackRationale(t *testing.T) {
	want := "Score: 65.5/100 leads to WATCH recommendation based on strategic alignment, capability match, and risk assessment."

	for name, gen := range map[string]ai.Generator{
		"provider error": &stubGenerator{err: ai.ErrNoProvidersAvailable},
		"unstructured":   &stubGenerator{content: "I would bid on this."},
		"no generator":   nil,
	} {
		t.Run(name, func(t *testing.T) {
			d, err := newTestEngine(t, gen).Evaluate(context.Background(), sampleNotice(), sampleAnalysis(), nil)
			require.NoError(t, err)
			assert.Equal(t, models.RationaleFallback, d.RationaleSource)
			assert.Empty(t, d.Provider)
			assert.Equal(t, want, d.Rationale)
			assert.Equal(t, []string{"Quantitative analysis completed", "Multiple factors considered"}, d.Strengths)
			assert.Equal(t, []string{"Market dynamics require monitoring", "Resource allocation needs validation"}, d.Concerns)
			assert.Equal(t, []string{"Review technical approach", "Validate resource availability", "Monitor competition"}, d.Actions)
		})
	}
}

func TestEvaluate_NilAnalysisAndErrors(t *testing.T) {
	e := newTestEngine(t, nil)

	d, err := e.Evaluate(context.Background(), sampleNotice(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.5, d.Confidence)
	assertFactorRanges(t, d.Factors)

	_, err = e.Evaluate(context.Background(), nil, nil, nil)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Evaluate(ctx, sampleNotice(), sampleAnalysis(), nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFallbackRationale_ListsAreCopies(t *testing.T) {
	r := FallbackRationale(10, models.RecommendNoBid)
	r.Strengths[0] = "changed"
	assert.Equal(t, "Quantitative analysis completed", fallbackStrengths[0])
	assert.Contains(t, r.Rationale, "Score: 10.0/100 leads to NO_BID")
}
