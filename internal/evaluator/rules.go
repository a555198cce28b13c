package evaluator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ppiankov/crewclaims/internal/model"
)

// Limits are the contract figures the rule evaluators check against
type Limits struct {
	Tolerance         decimal.Decimal // allowed overage before a claim is flagged, as a fraction
	SevereOverage     decimal.Decimal // overage treated as high severity, as a fraction
	PremiumMultiplier decimal.Decimal // premium pay ceiling as a multiple of base pay
	MaxDutyMinutes    int             // scheduled duty limit
	HardDutyMinutes   int             // duty beyond this is a compliance breach
	FilingWindow      time.Duration   // claims must be filed within this of trip end
	ExcessFactor      decimal.Decimal // amount over this multiple of the claimant average is unusual
}

// DefaultLimits returns the limits of the reference contract
func DefaultLimits() Limits {
	return Limits{
		Tolerance:         decimal.RequireFromString("0.05"),
		SevereOverage:     decimal.RequireFromString("0.5"),
		PremiumMultiplier: decimal.RequireFromString("1.5"),
		MaxDutyMinutes:    14 * 60,
		HardDutyMinutes:   16 * 60,
		FilingWindow:      90 * 24 * time.Hour,
		ExcessFactor:      decimal.NewFromInt(2),
	}
}

var sixty = decimal.NewFromInt(60)

// Rules evaluates claims with deterministic contract arithmetic. It needs no
// reasoning backend and is what runs when none is configured.
type Rules struct {
	agent  model.AgentType
	limits Limits
}

// NewRules creates the rule evaluator for agent
func NewRules(agent model.AgentType, limits Limits) *Rules {
	return &Rules{agent: agent, limits: limits}
}

// Evaluate implements Evaluator
func (r *Rules) Evaluate(ctx context.Context, in model.AgentInput) (model.AgentResult, error) {
	if err := ctx.Err(); err != nil {
		return model.AgentResult{}, err
	}

	switch r.agent {
	case model.AgentFlightTime:
		return r.flightTime(in), nil
	case model.AgentDutyTime:
		return r.dutyTime(in), nil
	case model.AgentPerDiem:
		return r.perDiem(in), nil
	case model.AgentPremiumPay:
		return r.premiumPay(in), nil
	case model.AgentGuarantee:
		return r.guarantee(in), nil
	case model.AgentDispute:
		return r.dispute(in), nil
	case model.AgentExcessPayment:
		return r.excessPayment(in), nil
	case model.AgentCompliance:
		return r.compliance(in), nil
	}
	return model.AgentResult{}, fmt.Errorf("no rules for agent %q", r.agent)
}

func (r *Rules) flightTime(in model.AgentInput) model.AgentResult {
	if in.Trip == nil || in.Crew == nil || in.Crew.HourlyRate.IsZero() {
		return unknown("No trip or pay rate on file; flight pay not recomputed")
	}
	minutes := max(in.Trip.BlockMinutes, in.Trip.CreditMinutes)
	expected := pay(in.Crew.HourlyRate, minutes)
	res := r.compare("Flight pay", in.Claim.Amount, expected, ref("5.A", "Hourly Flight Pay",
		"Pay is the greater of block and credit time at the hourly rate.", 0.9))
	res.Details = append([]string{
		fmt.Sprintf("block %s, credit %s", hours(in.Trip.BlockMinutes), hours(in.Trip.CreditMinutes)),
	}, res.Details...)
	return res
}

func (r *Rules) dutyTime(in model.AgentInput) model.AgentResult {
	if in.Trip == nil {
		return unknown("No trip on file; duty period not checked")
	}
	t := in.Trip
	if t.DutyMinutes > 0 && t.DutyMinutes < t.BlockMinutes {
		return flagged(model.SeverityMedium, "Duty record inconsistent",
			fmt.Sprintf("Duty %s is shorter than block time %s", hours(t.DutyMinutes), hours(t.BlockMinutes)),
			0.85, nil)
	}
	if in.Claim.Type != model.ClaimTypeDutyTime || in.Crew == nil || in.Crew.HourlyRate.IsZero() {
		return completed(fmt.Sprintf("Duty period %s consistent with flown time", hours(t.DutyMinutes)), 0.8)
	}
	return r.compare("Duty pay", in.Claim.Amount, pay(in.Crew.HourlyRate, t.DutyMinutes),
		ref("5.C", "Duty Rig", "Duty time is paid at the hourly rate when it exceeds credit.", 0.8))
}

func (r *Rules) perDiem(in model.AgentInput) model.AgentResult {
	if in.Trip == nil || in.Crew == nil || in.Crew.PerDiemRate.IsZero() {
		return unknown("No trip or per diem rate on file; allowance not recomputed")
	}
	away := in.Trip.LayoverMinutes
	if !in.Trip.DepartureTime.IsZero() && in.Trip.ArrivalTime.After(in.Trip.DepartureTime) {
		away = int(in.Trip.ArrivalTime.Sub(in.Trip.DepartureTime).Minutes())
	}
	expected := pay(in.Crew.PerDiemRate, away)
	res := r.compare("Per diem", in.Claim.Amount, expected, ref("25.B", "Per Diem",
		"Per diem accrues for all time away from base from report to release.", 0.95))
	res.Details = append([]string{fmt.Sprintf("time away %s at %s/h", hours(away), in.Crew.PerDiemRate.StringFixed(2))}, res.Details...)
	return res
}

func (r *Rules) premiumPay(in model.AgentInput) model.AgentResult {
	if in.Trip == nil || in.Crew == nil || in.Crew.HourlyRate.IsZero() {
		return unknown("No trip or pay rate on file; premium ceiling not computed")
	}
	base := pay(in.Crew.HourlyRate, in.Trip.CreditMinutes)
	ceiling := base.Mul(r.limits.PremiumMultiplier).Round(2)
	return r.compare("Premium", in.Claim.Amount, ceiling, ref("7.D", "Premium Pay",
		"Premium pay may not exceed 150% of credited pay for the trip.", 0.85))
}

func (r *Rules) guarantee(in model.AgentInput) model.AgentResult {
	if in.Trip == nil || in.Crew == nil || in.Crew.MonthlyGuaranteeMinutes == 0 {
		return unknown("No guarantee on file; top-up not computed")
	}
	short := in.Crew.MonthlyGuaranteeMinutes - in.Trip.CreditMinutes
	if short <= 0 {
		return flagged(model.SeverityHigh, "Guarantee already met",
			fmt.Sprintf("Credited %s meets the %s guarantee; no top-up is owed",
				hours(in.Trip.CreditMinutes), hours(in.Crew.MonthlyGuaranteeMinutes)),
			0.9, []model.ContractReference{ref("6.A", "Minimum Guarantee",
				"The monthly guarantee is paid only to the extent credit falls short of it.", 0.9)})
	}
	return r.compare("Guarantee top-up", in.Claim.Amount, pay(in.Crew.HourlyRate, short),
		ref("6.A", "Minimum Guarantee", "The monthly guarantee is paid only to the extent credit falls short of it.", 0.9))
}

func (r *Rules) dispute(in model.AgentInput) model.AgentResult {
	if strings.TrimSpace(in.Claim.Description) == "" {
		return flagged(model.SeverityMedium, "Dispute lacks grounds",
			"Dispute filed without a description of the contested decision", 0.8,
			[]model.ContractReference{ref("3.C", "Grievances", "A dispute must state the decision contested and the remedy sought.", 0.85)})
	}
	if in.HistoricalData != nil {
		for _, prior := range in.HistoricalData.RecentClaimsByUser {
			if prior.ID != in.Claim.ID && (prior.TripID == "" || prior.TripID == in.Claim.TripID) && isDenied(prior.Status) {
				return completed(fmt.Sprintf("Dispute references prior %s decision on claim %s", prior.Status, prior.ID), 0.8)
			}
		}
	}
	res := completed("Dispute has a stated reason but no matching prior decision in history", 0.6)
	res.Data = map[string]any{model.DataIssue: map[string]any{
		"severity":        "low",
		"title":           "Contested decision not found",
		"suggestedAction": "Attach the pay decision being disputed",
	}}
	return res
}

func (r *Rules) excessPayment(in model.AgentInput) model.AgentResult {
	h := in.HistoricalData
	if h == nil {
		return unknown("No claim history; amount not compared with past claims")
	}
	for _, prior := range h.RecentClaimsByUser {
		if prior.ID == in.Claim.ID || prior.Type != in.Claim.Type || prior.TripID == "" || prior.TripID != in.Claim.TripID {
			continue
		}
		if !isDenied(prior.Status) {
			return flagged(model.SeverityHigh, "Possible duplicate claim",
				fmt.Sprintf("Claim %s already covers %s for trip %s", prior.ID, prior.Type, prior.TripID), 0.9, nil)
		}
	}
	if h.AverageAmount.IsPositive() {
		limit := h.AverageAmount.Mul(r.limits.ExcessFactor)
		if in.Claim.Amount.GreaterThan(limit) {
			ratio := in.Claim.Amount.Div(h.AverageAmount).StringFixed(1)
			return flagged(model.SeverityMedium, "Amount well above claimant average",
				fmt.Sprintf("Amount %s is %sx the claimant average of %s", in.Claim.Amount.StringFixed(2), ratio, h.AverageAmount.StringFixed(2)),
				0.75, nil)
		}
	}
	res := completed("Amount in line with claim history", 0.85)
	if h.TotalClaims >= 5 && h.ApprovalRate < 0.5 {
		res.Details = append(res.Details, fmt.Sprintf("approval rate %.0f%% over %d claims", h.ApprovalRate*100, h.TotalClaims))
		res.Data = map[string]any{model.DataIssue: map[string]any{
			"severity": "low",
			"title":    "Low historical approval rate",
		}}
	}
	return res
}

func (r *Rules) compliance(in model.AgentInput) model.AgentResult {
	if t := in.Trip; t != nil && t.DutyMinutes > r.limits.HardDutyMinutes {
		return flagged(model.SeverityHigh, "Duty limit breach",
			fmt.Sprintf("Duty %s exceeds the %s hard limit", hours(t.DutyMinutes), hours(r.limits.HardDutyMinutes)),
			0.95, []model.ContractReference{ref("12.A", "Hours of Service", "No crew member may be scheduled for duty beyond sixteen hours.", 0.95)})
	}
	if t := in.Trip; t != nil && !t.ArrivalTime.IsZero() && !in.Claim.SubmittedDate.IsZero() &&
		in.Claim.SubmittedDate.Sub(t.ArrivalTime) > r.limits.FilingWindow {
		return flagged(model.SeverityMedium, "Filed outside window",
			fmt.Sprintf("Submitted %d days after trip end", int(in.Claim.SubmittedDate.Sub(t.ArrivalTime).Hours()/24)),
			0.9, []model.ContractReference{ref("3.A", "Claim Filing", "Pay claims must be filed within ninety days of the trip.", 0.8)})
	}
	if t := in.Trip; t != nil && t.DutyMinutes > r.limits.MaxDutyMinutes {
		res := completed(fmt.Sprintf("Duty %s within hard limit but above scheduled limit", hours(t.DutyMinutes)), 0.8)
		res.Data = map[string]any{model.DataIssue: map[string]any{"severity": "low", "title": "Extended duty"}}
		return res
	}
	if in.Trip == nil {
		return completed("No contract violation found; trip limits not checked", 0.7)
	}
	return completed("No contract violation found", 0.9)
}

// compare flags amount when it exceeds expected by more than the tolerance
func (r *Rules) compare(what string, amount, expected decimal.Decimal, cite model.ContractReference) model.AgentResult {
	detail := fmt.Sprintf("claimed %s, computed %s", amount.StringFixed(2), expected.StringFixed(2))
	refs := []model.ContractReference{cite}

	ceiling := expected.Mul(decimal.NewFromInt(1).Add(r.limits.Tolerance))
	if amount.LessThanOrEqual(ceiling) {
		res := completed(fmt.Sprintf("%s matches computed entitlement", what), 0.9)
		res.Details = []string{detail}
		res.Data = map[string]any{model.DataContractReferences: refs}
		return res
	}

	severity := model.SeverityMedium
	if expected.IsZero() || amount.GreaterThan(expected.Mul(decimal.NewFromInt(1).Add(r.limits.SevereOverage))) {
		severity = model.SeverityHigh
	}
	res := flagged(severity, what+" overstated",
		fmt.Sprintf("%s claimed exceeds computed entitlement by %s", what, amount.Sub(expected).StringFixed(2)), 0.85, refs)
	res.Details = []string{detail}
	return res
}

func completed(summary string, confidence float64) model.AgentResult {
	return model.AgentResult{
		Status:     model.StatusCompleted,
		Summary:    summary,
		Details:    []string{},
		Confidence: model.Float(confidence),
	}
}

// unknown is a pass with low confidence: the rule had nothing to check
func unknown(summary string) model.AgentResult {
	return completed(summary, 0.5)
}

func flagged(severity model.Severity, title, summary string, confidence float64, refs []model.ContractReference) model.AgentResult {
	data := map[string]any{
		model.DataSeverity:   string(severity),
		model.DataIssueTitle: title,
	}
	if len(refs) > 0 {
		data[model.DataContractReferences] = refs
	}
	return model.AgentResult{
		Status:     model.StatusFlagged,
		Summary:    summary,
		Details:    []string{},
		Confidence: model.Float(confidence),
		Data:       data,
	}
}

func ref(section, title, text string, relevance float64) model.ContractReference {
	return model.ContractReference{Section: section, Title: title, Text: text, Relevance: relevance}
}

func pay(rate decimal.Decimal, minutes int) decimal.Decimal {
	return rate.Mul(decimal.NewFromInt(int64(minutes))).Div(sixty).Round(2)
}

func hours(minutes int) string {
	return fmt.Sprintf("%d:%02d", minutes/60, minutes%60)
}

func isDenied(status string) bool {
	switch strings.ToLower(status) {
	case "denied", "rejected", "adjusted":
		return true
	}
	return false
}
