package decision

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/david/bid-intel/internal/models"
)

// Documented defaults until past-performance data exists.
const (
	defaultPastPerformance    = 0.7
	defaultAgencyRelationship = 0.6
)

// CalculateFactors derives the twelve decision factors. Every value is
// clamped to its documented range whatever the inputs, so a nil analysis or
// market context and malformed text still give a valid result.
func CalculateFactors(p *Profile, n *models.Notice, a *models.Analysis, mc *models.MarketContext, now time.Time) models.Factors {
	if p == nil {
		p = DefaultProfile()
	}
	if n == nil {
		n = &models.Notice{}
	}
	if a == nil {
		a = &models.Analysis{}
	}
	days, hasDeadline := n.DaysToResponse(now)

	return models.Factors{
		StrategicAlignment:   strategicAlignment(p, n, a),
		CapabilityMatch:      capabilityMatch(p, a),
		MarketPosition:       marketPosition(n, mc),
		EstimatedValue:       estimatedValue(n.Description),
		ProfitPotential:      profitPotential(n, a),
		ResourceRequirements: resourceRequirements(len(a.TechnicalRequirements), days, hasDeadline),
		TechnicalRisk:        technicalRisk(p, a),
		ScheduleRisk:         scheduleRisk(a, days, hasDeadline),
		CompetitiveRisk:      competitiveRisk(n),
		PastPerformance:      defaultPastPerformance,
		AgencyRelationship:   defaultAgencyRelationship,
		SuccessProbability:   successProbability(p, n, a),
	}
}

func strategicAlignment(p *Profile, n *models.Notice, a *models.Analysis) float64 {
	hits := 0
	for _, kw := range a.Keywords {
		if containsAny(strings.ToLower(kw), p.StrategicKeywords) {
			hits++
		}
	}
	naics := 0.4
	if p.isTargetNAICS(n.NAICSCode) {
		naics = 0.8
	}
	agency := 0.6
	if p.isPreferredAgency(n.Department()) {
		agency = 0.9
	}
	return clamp(0, 1, float64(hits)/10*0.3+naics*0.4+agency*0.3)
}

func capabilityMatch(p *Profile, a *models.Analysis) float64 {
	text := strings.ToLower(strings.Join(a.TechnicalRequirements, " "))
	matches := 0
	for _, c := range p.Capabilities {
		if strings.Contains(text, strings.ToLower(c)) {
			matches++
		}
	}
	return clamp(0, 1, float64(matches)/5*a.ConfidenceScore)
}

func marketPosition(n *models.Notice, mc *models.MarketContext) float64 {
	score := 0.6
	if mc != nil && len(mc.TopContractors) > 0 {
		switch count := len(mc.TopContractors); {
		case count > 10:
			score += 0.2
		case count < 5:
			score -= 0.1
		}
	}
	if isSmallBusiness(n.SetAside) {
		score += 0.15
	}
	return clamp(0, 1, score)
}

var (
	dollarTwoDigits = regexp.MustCompile(`\$(\d\d)`)
	dollarThousands = regexp.MustCompile(`\$([1-9]\d*)k`)
)

// estimatedValue reads dollar hints out of free text. "$75" inside
// "$75,000,000" counts as 75 for the million bands.
func estimatedValue(description string) float64 {
	desc := strings.ToLower(description)
	switch {
	case strings.Contains(desc, "million"):
		if strings.Contains(desc, "hundred million") || strings.Contains(desc, "$100") {
			return 0.95
		}
		var high, mid bool
		for _, m := range dollarTwoDigits.FindAllStringSubmatch(desc, -1) {
			v, _ := strconv.Atoi(m[1])
			switch {
			case v >= 50:
				high = true
			case v >= 10:
				mid = true
			}
		}
		switch {
		case high:
			return 0.85
		case mid:
			return 0.75
		}
		return 0.65
	case strings.Contains(desc, "billion"):
		return 1.0
	}
	for _, m := range dollarThousands.FindAllStringSubmatch(desc, -1) {
		if v, err := strconv.Atoi(m[1]); err == nil && v >= 500 && v < 10000 {
			return 0.6
		}
	}
	return 0.5
}

func profitPotential(n *models.Notice, a *models.Analysis) float64 {
	score := 0.6
	bo := strings.ToLower(a.BusinessOpportunity)
	if containsAny(bo, []string{"research", "development", "innovation", "prototype"}) {
		score += 0.2
	}
	if containsAny(bo, []string{"maintenance", "support", "operations"}) {
		score -= 0.1
	}
	if strings.Contains(strings.ToLower(n.Type), "indefinite delivery") {
		score += 0.1
	}
	return clamp(0, 1, score)
}

func resourceRequirements(reqCount, days int, hasDeadline bool) float64 {
	var score float64
	switch {
	case reqCount > 15:
		score = 0.3
	case reqCount > 10:
		score = 0.5
	case reqCount > 5:
		score = 0.7
	default:
		score = 0.9
	}
	if hasDeadline {
		switch {
		case days < 14:
			score -= 0.2
		case days > 60:
			score += 0.1
		}
	}
	return clamp(0.1, 1, score)
}

func technicalRisk(p *Profile, a *models.Analysis) float64 {
	ra := strings.ToLower(a.RiskAssessment)
	hits := 0
	for _, kw := range p.RiskKeywords {
		if strings.Contains(ra, strings.ToLower(kw)) {
			hits++
		}
	}
	return clamp(0.1, 1, 0.9-0.15*float64(hits))
}

func scheduleRisk(a *models.Analysis, days int, hasDeadline bool) float64 {
	score := 0.7
	if hasDeadline {
		switch {
		case days < 7:
			score = 0.2
		case days < 14:
			score = 0.4
		case days < 30:
			score = 0.6
		}
	}
	ra := strings.ToLower(a.RiskAssessment)
	if strings.Contains(ra, "urgent") || strings.Contains(ra, "tight schedule") {
		score -= 0.2
	}
	return clamp(0.1, 1, score)
}

func competitiveRisk(n *models.Notice) float64 {
	score := 0.6
	setAside := strings.ToLower(n.SetAside)
	switch {
	case strings.Contains(setAside, "small business"):
		score += 0.2
	case strings.Contains(setAside, "hubzone"):
		score += 0.3
	}
	if strings.Contains(strings.ToLower(n.Description), "million") {
		score -= 0.15
	}
	return clamp(0.1, 1, score)
}

func successProbability(p *Profile, n *models.Notice, a *models.Analysis) float64 {
	prob := 0.7 * a.ConfidenceScore
	if isSmallBusiness(n.SetAside) {
		prob += 0.1
	}
	if p.isFamiliarAgency(n.Department()) {
		prob += 0.05
	}
	return clamp(0, 0.95, prob)
}

func isSmallBusiness(setAside string) bool {
	return strings.Contains(strings.ToLower(setAside), "small business")
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// clamp maps x into [lo, hi]. NaN becomes lo.
func clamp(lo, hi, x float64) float64 {
	if math.IsNaN(x) {
		return lo
	}
	return math.Max(lo, math.Min(hi, x))
}
