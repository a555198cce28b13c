package model

import "strings"

// Severity ranks an issue surfaced by an evaluator.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// ParseSeverity maps free-form evaluator text onto a Severity.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "critical", "severe":
		return SeverityHigh, true
	case "medium", "moderate", "warning":
		return SeverityMedium, true
	case "low", "minor", "info":
		return SeverityLow, true
	}
	return "", false
}

// Rank orders severities, high first.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Issue is a problem surfaced by exactly one evaluator.
type Issue struct {
	Severity        Severity  `json:"severity"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	SuggestedAction string    `json:"suggestedAction,omitempty"`
	DetectedBy      AgentType `json:"detectedBy"`
}

// ContractReference cites a collective-agreement section supporting a verdict.
type ContractReference struct {
	Section   string  `json:"section" mapstructure:"section"`
	Title     string  `json:"title" mapstructure:"title"`
	Text      string  `json:"text" mapstructure:"text"`
	Relevance float64 `json:"relevance" mapstructure:"relevance"` // 0..1
}

// OverallStatus is the adjudication decision for a claim.
type OverallStatus string

const (
	OverallApproved OverallStatus = "approved"
	OverallFlagged  OverallStatus = "flagged"
	OverallRejected OverallStatus = "rejected"
)

// ValidationResult is the terminal artifact of one validation session.
type ValidationResult struct {
	ClaimID            string              `json:"claimId"`
	OverallStatus      OverallStatus       `json:"overallStatus"`
	Confidence         float64             `json:"confidence"`
	ProcessingTimeMs   int64               `json:"processingTime"`
	Recommendation     string              `json:"recommendation"`
	AgentResults       []AgentResult       `json:"agentResults"` // registry dispatch order
	Issues             []Issue             `json:"issues,omitempty"`
	ContractReferences []ContractReference `json:"contractReferences,omitempty"`
	HistoricalAnalysis *HistoricalData     `json:"historicalAnalysis,omitempty"`
	TimedOut           bool                `json:"timedOut,omitempty"`
	UnverifiedAgents   []AgentType         `json:"unverifiedAgents,omitempty"`
}

// ErrorCount returns how many evaluators ended in error.
func (r *ValidationResult) ErrorCount() int {
	n := 0
	for _, res := range r.AgentResults {
		if res.Status == StatusError {
			n++
		}
	}
	return n
}
