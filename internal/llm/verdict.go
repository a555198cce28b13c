package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/crewclaims/internal/model"
)

// Verdict is the JSON object an evaluator prompt asks the model to return
type Verdict struct {
	Status             model.AgentStatus         `json:"status"`
	Summary            string                    `json:"summary"`
	Details            []string                  `json:"details"`
	Confidence         *float64                  `json:"confidence"`
	Reasoning          string                    `json:"reasoning"`
	Severity           string                    `json:"severity,omitempty"`
	IssueTitle         string                    `json:"issueTitle,omitempty"`
	SuggestedAction    string                    `json:"suggestedAction,omitempty"`
	ContractReferences []model.ContractReference `json:"contractReferences,omitempty"`
}

// VerdictSchema is the reply format appended to every evaluator prompt
const VerdictSchema = `Reply with one JSON object:
{
  "status": "completed" | "flagged",
  "summary": "one sentence",
  "details": ["short finding", ...],
  "confidence": number between 0 and 1,
  "reasoning": "how you reached the verdict",
  "severity": "high" | "medium" | "low" (only when flagged),
  "issueTitle": "short headline" (only when flagged),
  "suggestedAction": "what the reviewer should do" (optional),
  "contractReferences": [{"section": "...", "title": "...", "text": "...", "relevance": 0..1}] (optional)
}`

// ParseVerdict extracts the verdict object from a model reply. Code fences and
// prose around the object are tolerated.
func ParseVerdict(text string) (*Verdict, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in model reply")
	}

	var v Verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}

	v.Status = model.AgentStatus(strings.ToLower(strings.TrimSpace(string(v.Status))))
	if !v.Status.Opinionated() {
		return nil, fmt.Errorf("verdict status %q is not completed or flagged", v.Status)
	}
	if strings.TrimSpace(v.Summary) == "" {
		return nil, fmt.Errorf("verdict has no summary")
	}
	return &v, nil
}

// Result converts the verdict into an AgentResult for agent
func (v *Verdict) Result(agent model.AgentType) model.AgentResult {
	r := model.AgentResult{
		AgentType:  agent,
		AgentName:  agent.DisplayName(),
		Status:     v.Status,
		Summary:    v.Summary,
		Details:    append([]string{}, v.Details...),
		Confidence: v.Confidence,
		Reasoning:  v.Reasoning,
	}

	data := map[string]any{}
	if v.Severity != "" {
		data[model.DataSeverity] = v.Severity
	}
	if v.IssueTitle != "" {
		data[model.DataIssueTitle] = v.IssueTitle
	}
	if v.SuggestedAction != "" {
		data[model.DataSuggestedAction] = v.SuggestedAction
	}
	if len(v.ContractReferences) > 0 {
		data[model.DataContractReferences] = v.ContractReferences
	}
	if len(data) > 0 {
		r.Data = data
	}
	return r
}
