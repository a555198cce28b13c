package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClaimType classifies a payroll claim. The set is closed; the registry
// rejects anything else before dispatch.
type ClaimType string

const (
	ClaimTypeFlightTime ClaimType = "flight-time" // Block/credit hours paid for flown legs
	ClaimTypeDutyTime   ClaimType = "duty-time"   // On-duty hours, including ground time
	ClaimTypePerDiem    ClaimType = "per-diem"    // Time-away-from-base allowance
	ClaimTypePremiumPay ClaimType = "premium-pay" // Reassignment, holiday, open-time premiums
	ClaimTypeGuarantee  ClaimType = "guarantee"   // Minimum-pay guarantee top-ups
	ClaimTypeDispute    ClaimType = "dispute"     // Contest of a prior pay decision
)

// ClaimTypes returns the closed set of claim types in a stable order.
func ClaimTypes() []ClaimType {
	return []ClaimType{
		ClaimTypeFlightTime,
		ClaimTypeDutyTime,
		ClaimTypePerDiem,
		ClaimTypePremiumPay,
		ClaimTypeGuarantee,
		ClaimTypeDispute,
	}
}

// Valid reports whether t belongs to the closed claim type set.
func (t ClaimType) Valid() bool {
	for _, known := range ClaimTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// ClaimInput is a single pay claim submitted by or for a crew member.
type ClaimInput struct {
	ID             string          `json:"id" yaml:"id"`
	ClaimNumber    string          `json:"claimNumber" yaml:"claimNumber"`
	CrewMemberID   string          `json:"crewMemberId" yaml:"crewMemberId"`
	CrewMemberName string          `json:"crewMemberName" yaml:"crewMemberName"`
	Type           ClaimType       `json:"type" yaml:"type"`
	TripID         string          `json:"tripId,omitempty" yaml:"tripId,omitempty"`
	FlightNumber   string          `json:"flightNumber,omitempty" yaml:"flightNumber,omitempty"`
	Amount         decimal.Decimal `json:"amount" yaml:"amount"` // USD, never negative
	SubmittedDate  time.Time       `json:"submittedDate" yaml:"submittedDate"`
	Description    string          `json:"description,omitempty" yaml:"description,omitempty"`
}

// TripData describes the trip a claim refers to.
type TripData struct {
	ID             string    `json:"id"`
	TripNumber     string    `json:"tripNumber,omitempty"`
	FlightNumbers  []string  `json:"flightNumbers,omitempty"`
	Origin         string    `json:"origin,omitempty"`
	Destination    string    `json:"destination,omitempty"`
	DepartureTime  time.Time `json:"departureTime"`
	ArrivalTime    time.Time `json:"arrivalTime"`
	BlockMinutes   int       `json:"blockMinutes"`
	CreditMinutes  int       `json:"creditMinutes"`
	DutyMinutes    int       `json:"dutyMinutes"`
	LayoverMinutes int       `json:"layoverMinutes"`
	International  bool      `json:"international"`
}

// CrewData describes the crew member a claim belongs to.
type CrewData struct {
	ID                      string          `json:"id"`
	Name                    string          `json:"name"`
	Position                string          `json:"position,omitempty"` // captain, first-officer, flight-attendant
	Base                    string          `json:"base,omitempty"`
	SeniorityYears          int             `json:"seniorityYears"`
	HourlyRate              decimal.Decimal `json:"hourlyRate"`
	PerDiemRate             decimal.Decimal `json:"perDiemRate"` // per hour away from base
	MonthlyGuaranteeMinutes int             `json:"monthlyGuaranteeMinutes"`
}

// ClaimSummary is a prior claim as seen in history.
type ClaimSummary struct {
	ID            string          `json:"id"`
	ClaimNumber   string          `json:"claimNumber,omitempty"`
	Type          ClaimType       `json:"type"`
	TripID        string          `json:"tripId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	SubmittedDate time.Time       `json:"submittedDate"`
	Status        string          `json:"status"`
}

// HistoricalData is prior-claim context for the claimant.
type HistoricalData struct {
	TotalClaims        int             `json:"totalClaims"`
	ApprovalRate       float64         `json:"approvalRate"` // 0..1
	AverageAmount      decimal.Decimal `json:"averageAmount"`
	RecentClaimsByUser []ClaimSummary  `json:"recentClaimsByUser,omitempty"` // most recent first
}

// AgentInput is the bundle every evaluator of one session receives.
// Absent context means unknown, never zero.
type AgentInput struct {
	Claim          ClaimInput      `json:"claim"`
	Trip           *TripData       `json:"trip,omitempty"`
	Crew           *CrewData       `json:"crew,omitempty"`
	HistoricalData *HistoricalData `json:"historicalData,omitempty"`
}

// Clone returns a deep copy so each evaluator gets its own view.
func (in AgentInput) Clone() AgentInput {
	out := AgentInput{Claim: in.Claim}
	if in.Trip != nil {
		trip := *in.Trip
		trip.FlightNumbers = append([]string(nil), in.Trip.FlightNumbers...)
		out.Trip = &trip
	}
	if in.Crew != nil {
		crew := *in.Crew
		out.Crew = &crew
	}
	if in.HistoricalData != nil {
		hist := *in.HistoricalData
		hist.RecentClaimsByUser = append([]ClaimSummary(nil), in.HistoricalData.RecentClaimsByUser...)
		out.HistoricalData = &hist
	}
	return out
}
