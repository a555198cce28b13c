package model

// AgentType identifies one evaluator in the closed evaluator set.
type AgentType string

const (
	AgentFlightTime    AgentType = "flight-time"
	AgentDutyTime      AgentType = "duty-time"
	AgentPerDiem       AgentType = "per-diem"
	AgentPremiumPay    AgentType = "premium-pay"
	AgentGuarantee     AgentType = "guarantee"
	AgentDispute       AgentType = "dispute"
	AgentExcessPayment AgentType = "excess-payment-detector"
	AgentCompliance    AgentType = "compliance"
)

// AgentTypes returns every known evaluator identifier in a stable order.
func AgentTypes() []AgentType {
	return []AgentType{
		AgentFlightTime,
		AgentDutyTime,
		AgentPerDiem,
		AgentPremiumPay,
		AgentGuarantee,
		AgentDispute,
		AgentExcessPayment,
		AgentCompliance,
	}
}

// Valid reports whether a is a known evaluator identifier.
func (a AgentType) Valid() bool {
	for _, known := range AgentTypes() {
		if a == known {
			return true
		}
	}
	return false
}

// DisplayName returns the human-readable evaluator name.
func (a AgentType) DisplayName() string {
	switch a {
	case AgentFlightTime:
		return "Flight Time Validator"
	case AgentDutyTime:
		return "Duty Time Validator"
	case AgentPerDiem:
		return "Per Diem Calculator"
	case AgentPremiumPay:
		return "Premium Pay Validator"
	case AgentGuarantee:
		return "Guarantee Calculator"
	case AgentDispute:
		return "Dispute Resolver"
	case AgentExcessPayment:
		return "Excess Payment Detector"
	case AgentCompliance:
		return "Compliance Checker"
	default:
		return string(a)
	}
}

// AgentStatus is the lifecycle state reported by an evaluator.
type AgentStatus string

const (
	StatusIdle       AgentStatus = "idle"
	StatusProcessing AgentStatus = "processing"
	StatusCompleted  AgentStatus = "completed"
	StatusError      AgentStatus = "error"
	StatusFlagged    AgentStatus = "flagged"
)

// Valid reports whether s is one of the known statuses.
func (s AgentStatus) Valid() bool {
	switch s {
	case StatusIdle, StatusProcessing, StatusCompleted, StatusError, StatusFlagged:
		return true
	}
	return false
}

// Opinionated reports whether a result in this status carries a verdict.
func (s AgentStatus) Opinionated() bool {
	return s == StatusCompleted || s == StatusFlagged
}

// AgentResult is one evaluator's verdict on a claim.
type AgentResult struct {
	AgentType  AgentType      `json:"agentType"`
	AgentName  string         `json:"agentName"`
	Status     AgentStatus    `json:"status"`
	DurationMs int64          `json:"duration"` // wall clock spent, milliseconds
	Summary    string         `json:"summary"`
	Details    []string       `json:"details"`
	Confidence *float64       `json:"confidence,omitempty"` // absent when Status is error
	Reasoning  string         `json:"reasoning,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Keys evaluators use inside AgentResult.Data to talk to the aggregator.
const (
	DataSeverity           = "severity"           // "high" | "medium" | "low"
	DataIssueTitle         = "issueTitle"         // optional issue headline
	DataSuggestedAction    = "suggestedAction"    // optional remediation hint
	DataIssue              = "issue"              // issue marker on a completed result
	DataContractReferences = "contractReferences" // []ContractReference
)

// Float returns a pointer to v, for optional confidences.
func Float(v float64) *float64 {
	return &v
}
