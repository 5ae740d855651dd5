package decision

import (
	"context"
	"fmt"
	"strings"

	"github.com/david/bid-intel/internal/ai"
	"github.com/david/bid-intel/internal/models"
	"go.uber.org/zap"
)

const rationaleSystemPrompt = "You are a government contracting decision advisor. Provide structured, actionable analysis."

var (
	fallbackStrengths = []string{"Quantitative analysis completed", "Multiple factors considered"}
	fallbackConcerns  = []string{"Market dynamics require monitoring", "Resource allocation needs validation"}
	fallbackActions   = []string{"Review technical approach", "Validate resource availability", "Monitor competition"}
)

// FallbackRationale is the deterministic narrative used when no provider
// produces a usable one.
func FallbackRationale(score float64, rec models.Recommendation) ai.Rationale {
	return ai.Rationale{
		Rationale: fmt.Sprintf("Score: %.1f/100 leads to %s recommendation based on strategic alignment, capability match, and risk assessment.", score, rec),
		Strengths: append([]string(nil), fallbackStrengths...),
		Concerns:  append([]string(nil), fallbackConcerns...),
		Actions:   append([]string(nil), fallbackActions...),
	}
}

func buildRationalePrompt(n *models.Notice, a *models.Analysis, f models.Factors, score float64, rec models.Recommendation) string {
	agency := n.Agency
	if agency == "" {
		agency = "Unknown"
	}
	var b strings.Builder
	b.WriteString("Generate a bid/no-bid decision rationale for this government contracting opportunity:\n\n")
	fmt.Fprintf(&b, "OPPORTUNITY: %s\n", n.Title)
	fmt.Fprintf(&b, "AGENCY: %s\n", agency)
	fmt.Fprintf(&b, "RECOMMENDATION: %s\n", rec)
	fmt.Fprintf(&b, "OVERALL SCORE: %.1f/100\n\n", score)
	b.WriteString("DECISION FACTORS:\n")
	for _, nf := range f.Named()[:9] {
		fmt.Fprintf(&b, "- %s: %.2f\n", titleCase(nf.Name), nf.Value)
	}
	fmt.Fprintf(&b, "\nAI ANALYSIS SUMMARY: %s\n\n", a.ExecutiveSummary)
	fmt.Fprintf(&b, `Provide:
1. A clear rationale (2-3 sentences) for the %s recommendation
2. Key Strengths (3-5 items)
3. Key Concerns (3-5 items)
4. Action Items (3-5 items)

Respond ONLY with a JSON object in this format:
{"rationale": "string", "strengths": ["string"], "concerns": ["string"], "actions": ["string"]}`, rec)
	return b.String()
}

func titleCase(snake string) string {
	words := strings.Split(snake, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// generateRationale returns the provider's rationale, or the fallback with
// a nil response when the call fails or the output does not parse. Empty
// lists in a parsed rationale are filled from the fallback one by one.
func (e *Engine) generateRationale(ctx context.Context, n *models.Notice, a *models.Analysis, f models.Factors, score float64, rec models.Recommendation) (ai.Rationale, *ai.Response) {
	fallback := FallbackRationale(score, rec)
	if e.gen == nil {
		return fallback, nil
	}

	resp, err := e.gen.Generate(ctx, ai.Request{
		Prompt:       buildRationalePrompt(n, a, f, score, rec),
		SystemPrompt: rationaleSystemPrompt,
		TaskType:     ai.TaskAnalysis,
		MaxTokens:    1500,
		Temperature:  ai.Float64(0.3),
	}, e.opts)
	if err != nil {
		e.log.Warn("AI rationale failed, using fallback", zap.String("notice_id", n.NoticeID), zap.Error(err))
		return fallback, nil
	}

	parsed := ai.ParseRationale(resp.Content)
	if !parsed.Parsed {
		e.log.Warn("AI rationale not structured, using fallback", zap.String("notice_id", n.NoticeID), zap.String("provider", resp.Provider))
		return fallback, nil
	}
	r := *parsed.Rationale
	if len(r.Strengths) == 0 {
		r.Strengths = fallback.Strengths
	}
	if len(r.Concerns) == 0 {
		r.Concerns = fallback.Concerns
	}
	if len(r.Actions) == 0 {
		r.Actions = fallback.Actions
	}
	return r, resp
}
