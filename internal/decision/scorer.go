package decision

import (
	"math"
	"time"

	"github.com/david/bid-intel/internal/models"
)

const (
	BidThreshold   = 70.0
	WatchThreshold = 50.0

	baseBidCost       = 25000.0
	maxWinProbability = 0.85
)

// Weights sum to 1. The last three factors feed confidence reporting only.
var Weights = map[string]float64{
	"strategic_alignment":   0.20,
	"capability_match":      0.18,
	"market_position":       0.12,
	"estimated_value":       0.15,
	"profit_potential":      0.10,
	"resource_requirements": 0.05,
	"technical_risk":        0.08,
	"schedule_risk":         0.05,
	"competitive_risk":      0.07,
}

// Score is the weighted factor sum on a 0-100 scale. Risk and resource
// factors are already framed so that higher is better, so they add.
func Score(f models.Factors) float64 {
	var sum float64
	for _, nf := range f.Named() {
		sum += Weights[nf.Name] * clamp(0, 1, nf.Value)
	}
	return clamp(0, 100, sum*100)
}

func Recommend(score float64) models.Recommendation {
	switch {
	case score >= BidThreshold:
		return models.RecommendBid
	case score >= WatchThreshold:
		return models.RecommendWatch
	default:
		return models.RecommendNoBid
	}
}

// EstimateBidCost prices proposal preparation from requirement count and
// time to deadline, rounded to the nearest thousand.
func EstimateBidCost(reqCount int, deadline *time.Time, now time.Time) float64 {
	if reqCount < 0 {
		reqCount = 0
	}
	timeline := 1.0
	if days, ok := (models.Notice{ResponseDeadline: deadline}).DaysToResponse(now); ok {
		switch {
		case days < 14:
			timeline = 1.5
		case days > 60:
			timeline = 0.9
		}
	}
	cost := baseBidCost * (1 + 0.1*float64(reqCount)) * timeline
	return math.Round(cost/1000) * 1000
}

func EstimateWinProbability(f models.Factors, score float64) float64 {
	p := clamp(0, 100, score)/100*0.4 +
		clamp(0, 1, f.CapabilityMatch)*0.25 +
		clamp(0, 1, f.StrategicAlignment)*0.15 +
		clamp(0, 1, f.CompetitiveRisk)*0.20
	return clamp(0, maxWinProbability, p)
}
