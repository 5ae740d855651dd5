package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/david/bid-intel/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubGenerator struct {
	content string
	err     error
	last    Request
}

func (s *stubGenerator) Generate(ctx context.Context, req Request, opts GenerateOptions) (*Response, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &Response{Content: s.content, Provider: "stub"}, nil
}

func sampleNotice() *models.Notice {
	due := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	return &models.Notice{
		NoticeID:           "abc123",
		SolicitationNumber: "SP4701-24-R-0001",
		Title:              "Cloud Migration Services",
		Agency:             "DEPT OF DEFENSE.DEFENSE LOGISTICS AGENCY",
		NAICSCode:          "541512",
		ResponseDeadline:   &due,
		Description:        "Migrate legacy systems to a FedRAMP cloud.",
		PlaceOfPerformance: "Fort Belvoir, VA",
		HasPointOfContact:  true,
	}
}

func TestBuildAnalysisPrompt(t *testing.T) {
	mc := &models.MarketContext{NAICS: "541512", FiscalYear: 2024, TopContractors: []models.Contractor{{Name: "Acme", Amount: 1.5e6}}}
	p := BuildAnalysisPrompt(sampleNotice(), mc)

	assert.True(t, strings.HasPrefix(p, "GOVERNMENT CONTRACTING OPPORTUNITY ANALYSIS\n"+strings.Repeat("=", 50)))
	for _, want := range []string{
		"Title: Cloud Migration Services",
		"Solicitation Number: SP4701-24-R-0001",
		"Posted Date: N/A",
		"Response Due: 2024-07-01",
		"Set-Aside Type: N/A",
		"NAICS CODES:\n541512",
		"HISTORICAL SPENDING CONTEXT:",
		"- Acme: $1500000",
		"PLACE OF PERFORMANCE:\nFort Belvoir, VA",
		"POINT OF CONTACT AVAILABLE: Yes",
		"Respond ONLY with a JSON object",
	} {
		assert.Contains(t, p, want)
	}

	bare := BuildAnalysisPrompt(&models.Notice{}, nil)
	assert.Contains(t, bare, "No description available")
	assert.NotContains(t, bare, "HISTORICAL SPENDING CONTEXT")
	assert.NotContains(t, bare, "POINT OF CONTACT")
}

func TestAnalysisService_Analyze(t *testing.T) {
	gen := &stubGenerator{content: `{"executive_summary":"Good fit.","recommendation":"pursue","confidence_score":0.9}`}
	svc := NewAnalysisService(gen, GenerateOptions{Fallback: true}, zaptest.NewLogger(t))

	a, resp, err := svc.Analyze(context.Background(), sampleNotice(), nil)
	require.NoError(t, err)
	assert.True(t, a.Parsed)
	assert.Equal(t, "stub", a.Provider)
	assert.Equal(t, "stub", resp.Provider)
	assert.Equal(t, TaskAnalysis, gen.last.TaskType)
	assert.Equal(t, 3000, gen.last.MaxTokens)
	assert.Equal(t, Float64(0.3), gen.last.Temperature)
	assert.Equal(t, analysisSystemPrompt, gen.last.SystemPrompt)
}

func TestAnalysisService_UnstructuredOutput(t *testing.T) {
	gen := &stubGenerator{content: "This looks like a reasonable opportunity."}
	svc := NewAnalysisService(gen, GenerateOptions{}, nil)

	a, _, err := svc.Analyze(context.Background(), sampleNotice(), nil)
	require.NoError(t, err)
	assert.False(t, a.Parsed)
	assert.Equal(t, 0.5, a.ConfidenceScore)
	assert.Equal(t, "This looks like a reasonable opportunity....", a.ExecutiveSummary)
}

func TestAnalysisService_ProviderFailure(t *testing.T) {
	svc := NewAnalysisService(&stubGenerator{err: ErrNoProvidersAvailable}, GenerateOptions{}, nil)
	_, _, err := svc.Analyze(context.Background(), sampleNotice(), nil)
	assert.True(t, errors.Is(err, ErrNoProvidersAvailable))

	a := NoticeAnalysis(sampleNotice())
	assert.False(t, a.Parsed)
	assert.True(t, strings.HasPrefix(a.ExecutiveSummary, "Migrate legacy systems"))
	assert.Equal(t, "Untitled...", NoticeAnalysis(&models.Notice{Title: "Untitled"}).ExecutiveSummary)
}

func TestClassifyCapabilities(t *testing.T) {
	allowed := []string{"Cloud Services", "Cybersecurity", "Data Analytics"}
	gen := &stubGenerator{content: "```json\n{\"capabilities\": [\"cloud services\", \"Logistics\", \"Cybersecurity\"]}\n```"}

	got, err := ClassifyCapabilities(context.Background(), gen, GenerateOptions{}, "Cloud Migration", "FedRAMP", allowed)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cloud Services", "Cybersecurity"}, got)
	assert.Equal(t, TaskClassification, gen.last.TaskType)

	got, err = ClassifyCapabilities(context.Background(), gen, GenerateOptions{}, "x", "y", nil)
	assert.NoError(t, err)
	assert.Nil(t, got)

	_, err = ClassifyCapabilities(context.Background(), &stubGenerator{content: "none"}, GenerateOptions{}, "x", "y", allowed)
	assert.Error(t, err)
}
