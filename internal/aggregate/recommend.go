package aggregate

import (
	"fmt"
	"strings"

	"github.com/ppiankov/crewclaims/internal/model"
)

// recommend writes the one-line recommendation for the decision already taken
func (a *Aggregator) recommend(vr *model.ValidationResult, failed []model.AgentType, opinions int) string {
	var b strings.Builder

	switch vr.OverallStatus {
	case model.OverallRejected:
		var high []string
		for _, is := range vr.Issues {
			if is.Severity == model.SeverityHigh {
				high = append(high, string(is.DetectedBy))
			}
		}
		if len(high) == 1 {
			fmt.Fprintf(&b, "Reject: high-severity %s issue detected", high[0])
		} else {
			fmt.Fprintf(&b, "Reject: %d high-severity issues detected (%s)", len(high), strings.Join(high, ", "))
		}
		if others := len(vr.Issues) - len(high); others > 0 {
			fmt.Fprintf(&b, "; %s also raised", plural(others, "other issue", "other issues"))
		}
		if len(failed) > 0 {
			fmt.Fprintf(&b, "; %s", failedClause(failed))
		}

	case model.OverallFlagged:
		var reasons []string
		if len(vr.Issues) > 0 {
			reasons = append(reasons, issueClause(vr.Issues))
		}
		if len(failed) > 0 {
			reasons = append(reasons, failedClause(failed))
		}
		switch {
		case opinions == 0:
			reasons = append(reasons, "no evaluator produced a confidence")
		case vr.Confidence < a.threshold:
			reasons = append(reasons, fmt.Sprintf("confidence %.2f below %.2f threshold", vr.Confidence, a.threshold))
		}
		b.WriteString("Review: ")
		b.WriteString(strings.Join(reasons, "; "))

	default:
		if len(vr.UnverifiedAgents) == 0 {
			fmt.Fprintf(&b, "Approve: all checks passed with %.2f confidence", vr.Confidence)
		} else {
			total := len(vr.AgentResults)
			fmt.Fprintf(&b, "Approve: %d of %d checks passed with %.2f confidence; unverified: %s",
				total-len(vr.UnverifiedAgents), total, vr.Confidence, joinAgents(vr.UnverifiedAgents))
		}
	}

	if vr.TimedOut {
		b.WriteString(" (session deadline exceeded; result is best-effort)")
	}
	return b.String()
}

func issueClause(issues []model.Issue) string {
	counts := map[model.Severity]int{}
	for _, is := range issues {
		counts[is.Severity]++
	}
	var parts []string
	for _, sev := range []model.Severity{model.SeverityHigh, model.SeverityMedium, model.SeverityLow} {
		if n := counts[sev]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, sev))
		}
	}
	return fmt.Sprintf("%s (%s)", plural(len(issues), "issue", "issues"), strings.Join(parts, ", "))
}

func failedClause(failed []model.AgentType) string {
	return fmt.Sprintf("%s failed (%s)", plural(len(failed), "evaluator", "evaluators"), joinAgents(failed))
}

func joinAgents(agents []model.AgentType) string {
	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = string(a)
	}
	return strings.Join(names, ", ")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}
