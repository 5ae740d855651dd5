package ai

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/david/bid-intel/internal/models"
)

const (
	defaultParsedConfidence   = 0.7
	defaultFallbackConfidence = 0.5
	fallbackSummaryLength     = 200
)

// AnalysisResult is either Parsed (Analysis set) or Unparsed (only Raw set).
type AnalysisResult struct {
	Parsed   bool
	Analysis *models.Analysis
	Raw      string
}

// analysisPayload accepts the loose shapes models actually return: lists as
// strings, confidence as a string or a percentage.
type analysisPayload struct {
	ExecutiveSummary      string          `json:"executive_summary"`
	TechnicalRequirements flexStrings     `json:"technical_requirements"`
	BusinessOpportunity   flexText        `json:"business_opportunity"`
	RiskAssessment        flexText        `json:"risk_assessment"`
	ComplianceNotes       flexText        `json:"compliance_notes"`
	CompetitiveLandscape  flexText        `json:"competitive_landscape"`
	Recommendation        flexText        `json:"recommendation"`
	ConfidenceScore       json.RawMessage `json:"confidence_score"`
	Keywords              flexStrings     `json:"keywords"`
}

// ParseAnalysis decodes the first JSON object in raw. Code fences are
// stripped first. An object with no recognizable field is Unparsed.
func ParseAnalysis(raw string) AnalysisResult {
	obj, ok := extractJSON(raw)
	if !ok {
		return AnalysisResult{Raw: raw}
	}
	var p analysisPayload
	if err := json.Unmarshal([]byte(obj), &p); err != nil {
		return AnalysisResult{Raw: raw}
	}
	a := &models.Analysis{
		ExecutiveSummary:      strings.TrimSpace(p.ExecutiveSummary),
		TechnicalRequirements: p.TechnicalRequirements.clean(),
		BusinessOpportunity:   string(p.BusinessOpportunity),
		RiskAssessment:        string(p.RiskAssessment),
		ComplianceNotes:       string(p.ComplianceNotes),
		CompetitiveLandscape:  string(p.CompetitiveLandscape),
		Recommendation:        string(p.Recommendation),
		ConfidenceScore:       normalizeConfidence(p.ConfidenceScore, defaultParsedConfidence),
		Keywords:              p.Keywords.clean(),
		Parsed:                true,
	}
	if a.ExecutiveSummary == "" && len(a.TechnicalRequirements) == 0 && a.Recommendation == "" && a.RiskAssessment == "" {
		return AnalysisResult{Raw: raw}
	}
	if a.ExecutiveSummary == "" {
		a.ExecutiveSummary = summarize(raw)
	}
	return AnalysisResult{Parsed: true, Analysis: a, Raw: raw}
}

// FallbackAnalysis builds an analysis from unstructured text.
func FallbackAnalysis(raw string) *models.Analysis {
	return &models.Analysis{
		ExecutiveSummary: summarize(raw),
		ConfidenceScore:  defaultFallbackConfidence,
		Parsed:           false,
	}
}

// AnalysisOrFallback returns the parsed analysis, or FallbackAnalysis of Raw.
func (r AnalysisResult) AnalysisOrFallback() *models.Analysis {
	if r.Parsed && r.Analysis != nil {
		return r.Analysis
	}
	return FallbackAnalysis(r.Raw)
}

// Rationale is the narrative half of a decision.
type Rationale struct {
	Rationale string   `json:"rationale"`
	Strengths []string `json:"strengths"`
	Concerns  []string `json:"concerns"`
	Actions   []string `json:"actions"`
}

type RationaleResult struct {
	Parsed    bool
	Rationale *Rationale
	Raw       string
}

type rationalePayload struct {
	Rationale flexText    `json:"rationale"`
	Strengths flexStrings `json:"strengths"`
	Concerns  flexStrings `json:"concerns"`
	Actions   flexStrings `json:"actions"`
}

// ParseRationale needs a non-empty rationale and at least one list entry to
// count as Parsed.
func ParseRationale(raw string) RationaleResult {
	obj, ok := extractJSON(raw)
	if !ok {
		return RationaleResult{Raw: raw}
	}
	var p rationalePayload
	if err := json.Unmarshal([]byte(obj), &p); err != nil {
		return RationaleResult{Raw: raw}
	}
	r := &Rationale{
		Rationale: strings.TrimSpace(string(p.Rationale)),
		Strengths: p.Strengths.clean(),
		Concerns:  p.Concerns.clean(),
		Actions:   p.Actions.clean(),
	}
	if r.Rationale == "" || len(r.Strengths)+len(r.Concerns)+len(r.Actions) == 0 {
		return RationaleResult{Raw: raw}
	}
	return RationaleResult{Parsed: true, Rationale: r, Raw: raw}
}

func extractJSON(resp string) (string, bool) {
	// Clean markdown code blocks
	cleaned := strings.TrimSpace(resp)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return extractFirstJSONObject(cleaned)
}

// extractFirstJSONObject finds the first outermost balanced {...}
func extractFirstJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		char := s[i]

		if escaped {
			escaped = false
			continue
		}

		if char == '\\' {
			escaped = true
			continue
		}

		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			if char == '{' {
				depth++
			} else if char == '}' {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}

	return "", false
}

// normalizeConfidence treats values above 1 as percentages and clamps to
// [0,1]. Missing or unreadable values give def.
func normalizeConfidence(raw json.RawMessage, def float64) float64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" || s == "null" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	if v > 1 {
		v /= 100
	}
	return math.Max(0, math.Min(1, v))
}

func summarize(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) > fallbackSummaryLength {
		cut := fallbackSummaryLength
		for cut > 0 && raw[cut]&0xC0 == 0x80 {
			cut--
		}
		raw = raw[:cut]
	}
	return raw + "..."
}

// flexStrings decodes a JSON array of strings, or one string split on
// newlines, bullets and commas.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(b []byte) error {
	var list []any
	if err := json.Unmarshal(b, &list); err == nil {
		for _, item := range list {
			switch v := item.(type) {
			case string:
				*f = append(*f, v)
			case map[string]any:
				for _, key := range []string{"text", "name", "requirement", "value"} {
					if s, ok := v[key].(string); ok {
						*f = append(*f, s)
						break
					}
				}
			}
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return nil
	}
	for _, line := range strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == ',' || r == ';' }) {
		*f = append(*f, line)
	}
	return nil
}

func (f flexStrings) clean() []string {
	out := make([]string, 0, len(f))
	seen := make(map[string]bool, len(f))
	for _, s := range f {
		s = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(s), "-*•"))
		if s == "" || seen[strings.ToLower(s)] {
			continue
		}
		seen[strings.ToLower(s)] = true
		out = append(out, s)
	}
	return out
}

// flexText decodes a string, or joins an array or object's string values.
type flexText string

func (t *flexText) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = flexText(strings.TrimSpace(s))
		return nil
	}
	var fs flexStrings
	if err := fs.UnmarshalJSON(b); err == nil && len(fs) > 0 {
		*t = flexText(strings.Join(fs.clean(), " "))
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err == nil {
		parts := make([]string, 0, len(obj))
		for _, k := range sortedKeys(obj) {
			if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
				parts = append(parts, k+": "+strings.TrimSpace(s))
			}
		}
		*t = flexText(strings.Join(parts, "; "))
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
