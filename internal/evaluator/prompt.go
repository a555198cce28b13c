package evaluator

import (
	"fmt"
	"strings"

	"github.com/ppiankov/crewclaims/internal/llm"
	"github.com/ppiankov/crewclaims/internal/model"
)

const systemPreamble = `You are one evaluator in an airline crew payroll adjudication panel.
Judge only your own aspect of the claim, using only the facts given.
If a fact you need is missing, say so and lower your confidence; never invent figures.
Flag the claim when it conflicts with the contract or the facts; otherwise mark it completed.`

// focus is each evaluator's question
var focus = map[model.AgentType]string{
	model.AgentFlightTime: "Recompute flight pay as the greater of block and credit time at the hourly rate and compare it with the amount claimed.",
	model.AgentDutyTime:   "Check the duty period against flown time and duty limits, and recompute duty pay where the claim is for duty time.",
	model.AgentPerDiem:    "Recompute the per diem allowance from time away from base at the per diem rate and compare it with the amount claimed.",
	model.AgentPremiumPay: "Decide whether a premium applies to this trip and whether the amount stays within the premium ceiling.",
	model.AgentGuarantee:  "Decide whether credited time falls short of the monthly guarantee and whether the top-up claimed matches the shortfall.",
	model.AgentDispute:    "Decide whether the dispute identifies a prior pay decision and states grounds a reviewer can act on.",
	model.AgentExcessPayment: "Compare the amount with the claimant's history and look for duplicates of claims " +
		"already paid for the same trip.",
	model.AgentCompliance: "Check the claim against filing deadlines and hours-of-service limits.",
}

func systemPrompt(agent model.AgentType) string {
	return fmt.Sprintf("%s\n\nYou are the %s. %s\n\n%s", systemPreamble, agent.DisplayName(), focus[agent], llm.VerdictSchema)
}

// buildPrompt renders the evaluator input as plain facts
func buildPrompt(in model.AgentInput) string {
	var b strings.Builder
	c := in.Claim

	b.WriteString("Claim:\n")
	fmt.Fprintf(&b, "- id: %s (number %s)\n", c.ID, orDash(c.ClaimNumber))
	fmt.Fprintf(&b, "- type: %s\n", c.Type)
	fmt.Fprintf(&b, "- amount: %s USD\n", c.Amount.StringFixed(2))
	fmt.Fprintf(&b, "- crew member: %s (%s)\n", orDash(c.CrewMemberName), orDash(c.CrewMemberID))
	if !c.SubmittedDate.IsZero() {
		fmt.Fprintf(&b, "- submitted: %s\n", c.SubmittedDate.Format("2006-01-02"))
	}
	if c.TripID != "" || c.FlightNumber != "" {
		fmt.Fprintf(&b, "- trip: %s, flight %s\n", orDash(c.TripID), orDash(c.FlightNumber))
	}
	if c.Description != "" {
		fmt.Fprintf(&b, "- description: %s\n", c.Description)
	}

	if t := in.Trip; t != nil {
		b.WriteString("\nTrip:\n")
		fmt.Fprintf(&b, "- %s to %s, international: %t\n", orDash(t.Origin), orDash(t.Destination), t.International)
		if !t.DepartureTime.IsZero() {
			fmt.Fprintf(&b, "- departed %s, arrived %s\n", t.DepartureTime.Format("2006-01-02 15:04 MST"), t.ArrivalTime.Format("2006-01-02 15:04 MST"))
		}
		fmt.Fprintf(&b, "- block %s, credit %s, duty %s, layover %s\n",
			hours(t.BlockMinutes), hours(t.CreditMinutes), hours(t.DutyMinutes), hours(t.LayoverMinutes))
	} else {
		b.WriteString("\nTrip: not on file\n")
	}

	if cr := in.Crew; cr != nil {
		b.WriteString("\nCrew member:\n")
		fmt.Fprintf(&b, "- %s, base %s, %d years seniority\n", orDash(cr.Position), orDash(cr.Base), cr.SeniorityYears)
		fmt.Fprintf(&b, "- hourly rate %s, per diem rate %s/h, monthly guarantee %s\n",
			cr.HourlyRate.StringFixed(2), cr.PerDiemRate.StringFixed(2), hours(cr.MonthlyGuaranteeMinutes))
	} else {
		b.WriteString("\nCrew member: not on file\n")
	}

	if h := in.HistoricalData; h != nil {
		b.WriteString("\nHistory:\n")
		fmt.Fprintf(&b, "- %d claims, %.0f%% approved, average %s\n", h.TotalClaims, h.ApprovalRate*100, h.AverageAmount.StringFixed(2))
		for i, p := range h.RecentClaimsByUser {
			if i >= 10 {
				fmt.Fprintf(&b, "- ... and %d more\n", len(h.RecentClaimsByUser)-10)
				break
			}
			fmt.Fprintf(&b, "- %s %s %s trip %s: %s\n", p.ID, p.Type, p.Amount.StringFixed(2), orDash(p.TripID), p.Status)
		}
	} else {
		b.WriteString("\nHistory: not on file\n")
	}

	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
