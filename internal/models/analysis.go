package models

// Analysis is the structured AI read of a notice.
type Analysis struct {
	ExecutiveSummary      string   `json:"executive_summary"`
	TechnicalRequirements []string `json:"technical_requirements"`
	BusinessOpportunity   string   `json:"business_opportunity"`
	RiskAssessment        string   `json:"risk_assessment"`
	ComplianceNotes       string   `json:"compliance_notes"`
	CompetitiveLandscape  string   `json:"competitive_landscape"`
	Recommendation        string   `json:"recommendation"`
	ConfidenceScore       float64  `json:"confidence_score"`
	Keywords              []string `json:"keywords"`

	// Parsed is false when the analysis was assembled by a fallback rather
	// than decoded from provider output.
	Parsed   bool   `json:"parsed"`
	Provider string `json:"provider,omitempty"`
}

// Contractor is one recipient row from USASpending.
type Contractor struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

// MarketContext carries historical spending context for a NAICS code.
type MarketContext struct {
	NAICS          string       `json:"naics"`
	FiscalYear     int          `json:"fiscal_year"`
	TopContractors []Contractor `json:"top_contractors"`
}
