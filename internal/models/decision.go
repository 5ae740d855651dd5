package models

import "time"

type Recommendation string

const (
	RecommendBid   Recommendation = "BID"
	RecommendWatch Recommendation = "WATCH"
	RecommendNoBid Recommendation = "NO_BID"
)

// Factors holds the twelve normalized decision inputs. Risk factors use the
// inverse framing: higher means less risk.
type Factors struct {
	StrategicAlignment   float64 `json:"strategic_alignment"`
	CapabilityMatch      float64 `json:"capability_match"`
	MarketPosition       float64 `json:"market_position"`
	EstimatedValue       float64 `json:"estimated_value"`
	ProfitPotential      float64 `json:"profit_potential"`
	ResourceRequirements float64 `json:"resource_requirements"`
	TechnicalRisk        float64 `json:"technical_risk"`
	ScheduleRisk         float64 `json:"schedule_risk"`
	CompetitiveRisk      float64 `json:"competitive_risk"`
	PastPerformance      float64 `json:"past_performance"`
	AgencyRelationship   float64 `json:"agency_relationship"`
	SuccessProbability   float64 `json:"success_probability"`
}

// Named lists the factors in a stable order.
func (f Factors) Named() []NamedFactor {
	return []NamedFactor{
		{"strategic_alignment", f.StrategicAlignment},
		{"capability_match", f.CapabilityMatch},
		{"market_position", f.MarketPosition},
		{"estimated_value", f.EstimatedValue},
		{"profit_potential", f.ProfitPotential},
		{"resource_requirements", f.ResourceRequirements},
		{"technical_risk", f.TechnicalRisk},
		{"schedule_risk", f.ScheduleRisk},
		{"competitive_risk", f.CompetitiveRisk},
		{"past_performance", f.PastPerformance},
		{"agency_relationship", f.AgencyRelationship},
		{"success_probability", f.SuccessProbability},
	}
}

type NamedFactor struct {
	Name  string
	Value float64
}

type RationaleSource string

const (
	RationaleAI       RationaleSource = "ai"
	RationaleFallback RationaleSource = "fallback"
)

type Decision struct {
	ID               string          `json:"id"`
	NoticeID         string          `json:"notice_id"`
	Recommendation   Recommendation  `json:"recommendation"`
	OverallScore     float64         `json:"overall_score"`
	Confidence       float64         `json:"confidence"`
	Factors          Factors         `json:"factors"`
	Rationale        string          `json:"rationale"`
	Strengths        []string        `json:"strengths"`
	Concerns         []string        `json:"concerns"`
	Actions          []string        `json:"actions"`
	EstimatedBidCost *float64        `json:"estimated_bid_cost,omitempty"`
	WinProbability   *float64        `json:"win_probability,omitempty"`
	RationaleSource  RationaleSource `json:"rationale_source"`
	Provider         string          `json:"provider,omitempty"`
	EvaluatedAt      time.Time       `json:"evaluated_at"`
}
