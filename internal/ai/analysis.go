package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/david/bid-intel/internal/models"
	"go.uber.org/zap"
)

// Generator is satisfied by *Orchestrator.
type Generator interface {
	Generate(ctx context.Context, req Request, opts GenerateOptions) (*Response, error)
}

const analysisSystemPrompt = `You are an expert government contracting analyst specializing in federal procurement opportunities. Analyze the given opportunity and provide a comprehensive assessment that includes:

1. Executive Summary (2-3 sentences)
2. Key Technical Requirements (bullet points)
3. Business Opportunity Assessment (market size, potential value)
4. Risk Assessment (technical, schedule, competitive risks)
5. Compliance Considerations
6. Competitive Landscape Analysis
7. Strategic Recommendation (pursue/pass/watch)
8. Confidence Score (0.0-1.0)
9. Key Search Keywords

Provide structured, actionable insights that help determine bid/no-bid decisions. Be concise but thorough.`

const analysisFormat = `Respond ONLY with a JSON object in this format:
{
  "executive_summary": "string",
  "technical_requirements": ["string"],
  "business_opportunity": "string",
  "risk_assessment": "string",
  "compliance_notes": "string",
  "competitive_landscape": "string",
  "recommendation": "pursue | pass | watch, with one sentence of reasoning",
  "confidence_score": 0.0,
  "keywords": ["string"]
}`

type AnalysisService struct {
	gen  Generator
	opts GenerateOptions
	log  *zap.Logger
}

func NewAnalysisService(gen Generator, opts GenerateOptions, log *zap.Logger) *AnalysisService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AnalysisService{gen: gen, opts: opts, log: log.Named("analysis")}
}

// Analyze asks the configured providers for a structured read of n. Output
// that does not parse becomes a fallback analysis; only a provider failure
// is returned as an error.
func (s *AnalysisService) Analyze(ctx context.Context, n *models.Notice, mc *models.MarketContext) (*models.Analysis, *Response, error) {
	resp, err := s.gen.Generate(ctx, Request{
		Prompt:       BuildAnalysisPrompt(n, mc),
		SystemPrompt: analysisSystemPrompt,
		TaskType:     TaskAnalysis,
		MaxTokens:    3000,
		Temperature:  Float64(0.3),
	}, s.opts)
	if err != nil {
		return nil, nil, fmt.Errorf("analyze %s: %w", n.NoticeID, err)
	}

	result := ParseAnalysis(resp.Content)
	if !result.Parsed {
		s.log.Warn("analysis output not structured, using fallback",
			zap.String("notice_id", n.NoticeID),
			zap.String("provider", resp.Provider))
	}
	a := result.AnalysisOrFallback()
	a.Provider = resp.Provider
	return a, resp, nil
}

// NoticeAnalysis is used when no provider answers at all: the notice's own
// text stands in for the summary.
func NoticeAnalysis(n *models.Notice) *models.Analysis {
	text := n.Description
	if strings.TrimSpace(text) == "" {
		text = n.Title
	}
	return FallbackAnalysis(text)
}

// BuildAnalysisPrompt lays out the notice fields the analysis relies on.
func BuildAnalysisPrompt(n *models.Notice, mc *models.MarketContext) string {
	parts := []string{
		"GOVERNMENT CONTRACTING OPPORTUNITY ANALYSIS",
		strings.Repeat("=", 50),
		"",
		"OPPORTUNITY DETAILS:",
		"Title: " + orNA(n.Title),
		"Solicitation Number: " + orNA(n.SolicitationNumber),
		"Agency: " + orNA(n.Agency),
		"Posted Date: " + dateOrNA(n.PostedDate),
		"Response Due: " + dateOrNA(n.ResponseDeadline),
		"Set-Aside Type: " + orNA(n.SetAside),
		"",
		"DESCRIPTION:",
		orDefault(n.Description, "No description available"),
		"",
	}
	if n.NAICSCode != "" {
		parts = append(parts, "NAICS CODES:", n.NAICSCode, "")
	}
	if mc != nil {
		parts = append(parts,
			"HISTORICAL SPENDING CONTEXT:",
			fmt.Sprintf("NAICS-specific spending trends available: %t", len(mc.TopContractors) > 0),
			fmt.Sprintf("Fiscal year: %d", mc.FiscalYear),
		)
		for i, c := range mc.TopContractors {
			if i == 5 {
				break
			}
			parts = append(parts, fmt.Sprintf("- %s: $%.0f", c.Name, c.Amount))
		}
		parts = append(parts, "")
	}
	if n.PlaceOfPerformance != "" {
		parts = append(parts, "PLACE OF PERFORMANCE:", n.PlaceOfPerformance, "")
	}
	if n.HasPointOfContact {
		parts = append(parts, "POINT OF CONTACT AVAILABLE: Yes", "")
	}
	parts = append(parts, analysisFormat)
	return strings.Join(parts, "\n")
}

func orNA(s string) string { return orDefault(s, "N/A") }

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func dateOrNA(t *time.Time) string {
	if t == nil {
		return "N/A"
	}
	return t.Format("2006-01-02")
}
