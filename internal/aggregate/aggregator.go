// Package aggregate reduces the per-evaluator results of one session into a
// single adjudication decision.
package aggregate

import (
	"html"
	"log/slog"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/microcosm-cc/bluemonday"

	"github.com/ppiankov/crewclaims/internal/model"
)

// DefaultApprovalThreshold is the minimum aggregate confidence for approval
const DefaultApprovalThreshold = 0.6

// severityTag finds a severity label an evaluator embedded in its summary,
// e.g. "[HIGH] duty limit exceeded" or "severity: low".
var severityTag = regexp.MustCompile(`(?i)(?:\[\s*|\bseverity\s*[:=]\s*)(high|medium|low|critical|severe|moderate|minor)\b`)

// markupTag matches a complete opening or closing HTML element tag. Any other
// "<" in evaluator text is a comparison or an arrow and is kept as written.
var markupTag = regexp.MustCompile(`(?i)</?(?:a|b|i|u|s|p|em|strong|small|big|sub|sup|br|hr|div|span|font|code|pre|blockquote|ul|ol|li|h[1-6]|table|thead|tbody|tr|td|th|img|iframe|script|style|object|embed|svg|form|input|button|link|meta)(?:\s[^<>]*)?/?>`)

var angleEscaper = strings.NewReplacer("<", "&lt;", ">", "&gt;")

// Aggregator turns a complete result set into a ValidationResult. It holds no
// per-session state and is safe for concurrent use.
type Aggregator struct {
	threshold float64
	sanitizer *bluemonday.Policy
	logger    *slog.Logger
}

// New creates an aggregator approving at or above threshold
func New(threshold float64, logger *slog.Logger) *Aggregator {
	if threshold < 0 || threshold > 1 {
		threshold = DefaultApprovalThreshold
	}
	if logger == nil {
		logger = slog.Default().With("component", "aggregate")
	}
	return &Aggregator{
		threshold: threshold,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
	}
}

// Aggregate reduces results into a ValidationResult. order is the registry
// dispatch order; it fixes the order of AgentResults and nothing else, so the
// decision does not depend on when each evaluator finished. The only failure
// is a missing claim id.
func (a *Aggregator) Aggregate(claimID string, input model.AgentInput, order []model.AgentType,
	results map[model.AgentType]model.AgentResult, timedOut bool) (*model.ValidationResult, error) {
	if claimID == "" {
		return nil, model.NewConfigError("claim.id", model.ErrMissingClaimID)
	}

	ordered := orderResults(order, results)
	raw := make([]string, len(ordered))
	for i := range ordered {
		raw[i] = ordered[i].Summary
		ordered[i] = a.normalize(claimID, ordered[i])
	}

	vr := &model.ValidationResult{
		ClaimID:      claimID,
		AgentResults: ordered,
		TimedOut:     timedOut,
	}

	var confidences []float64
	var failed []model.AgentType
	for _, r := range ordered {
		if r.Status.Opinionated() && r.Confidence != nil {
			confidences = append(confidences, *r.Confidence)
			continue
		}
		vr.UnverifiedAgents = append(vr.UnverifiedAgents, r.AgentType)
		if r.Status == model.StatusError {
			failed = append(failed, r.AgentType)
		}
	}
	vr.Confidence = mean(confidences)

	for i, r := range ordered {
		if issue, ok := a.issueFrom(r, raw[i]); ok {
			vr.Issues = append(vr.Issues, issue)
		}
	}

	vr.OverallStatus = a.decide(vr.Issues, len(failed), len(confidences), vr.Confidence)
	vr.Recommendation = a.recommend(vr, failed, len(confidences))
	vr.ContractReferences = a.references(claimID, ordered)

	if input.HistoricalData != nil {
		vr.HistoricalAnalysis = input.Clone().HistoricalData
	}

	return vr, nil
}

// decide applies the status precedence: high issue rejects; any issue, more
// than one failed evaluator or low confidence flags; otherwise approve.
func (a *Aggregator) decide(issues []model.Issue, failed, opinions int, confidence float64) model.OverallStatus {
	for _, is := range issues {
		if is.Severity == model.SeverityHigh {
			return model.OverallRejected
		}
	}
	if len(issues) > 0 || failed > 1 || opinions == 0 || confidence < a.threshold {
		return model.OverallFlagged
	}
	return model.OverallApproved
}

// normalize clamps the confidence into [0,1] and strips HTML elements from
// text fields. Out-of-range values are logged, never fatal.
func (a *Aggregator) normalize(claimID string, r model.AgentResult) model.AgentResult {
	r.Summary = a.clean(r.Summary)
	r.Reasoning = a.clean(r.Reasoning)
	if len(r.Details) > 0 {
		details := make([]string, len(r.Details))
		for i, d := range r.Details {
			details[i] = a.clean(d)
		}
		r.Details = details
	}

	if r.Status == model.StatusError {
		r.Confidence = nil
		return r
	}
	if r.Confidence != nil {
		c := *r.Confidence
		clamped := c
		switch {
		case math.IsNaN(c):
			clamped = 0
		case c < 0:
			clamped = 0
		case c > 1:
			clamped = 1
		}
		if clamped != c || math.IsNaN(c) {
			a.logger.Warn("evaluator confidence out of range, clamped",
				"claim_id", claimID, "agent", r.AgentType, "confidence", c, "clamped", clamped)
		}
		r.Confidence = model.Float(clamped)
	}
	return r
}

// clean removes HTML elements an evaluator (or the model behind it) put into
// free text. Text without element tags is returned unchanged apart from
// surrounding whitespace.
func (a *Aggregator) clean(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	tags := markupTag.FindAllStringIndex(s, -1)
	if tags == nil {
		return s
	}

	// Between tags only angle brackets are escaped, so the sanitizer sees the
	// tags themselves as the only markup.
	var b strings.Builder
	last := 0
	for _, loc := range tags {
		b.WriteString(angleEscaper.Replace(s[last:loc[0]]))
		b.WriteString(s[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(angleEscaper.Replace(s[last:]))

	return strings.TrimSpace(html.UnescapeString(a.sanitizer.Sanitize(b.String())))
}

// issueMarker is the optional structured form of data["issue"]
type issueMarker struct {
	Severity        string `mapstructure:"severity"`
	Title           string `mapstructure:"title"`
	Description     string `mapstructure:"description"`
	SuggestedAction string `mapstructure:"suggestedAction"`
}

// issueFrom derives the single Issue a result contributes, if any. summary is
// the evaluator's text as received, before cleaning.
func (a *Aggregator) issueFrom(r model.AgentResult, summary string) (model.Issue, bool) {
	var marker issueMarker
	switch r.Status {
	case model.StatusFlagged:
		marker, _ = decodeMarker(r.Data[model.DataIssue])
	case model.StatusCompleted:
		m, ok := decodeMarker(r.Data[model.DataIssue])
		if !ok {
			return model.Issue{}, false
		}
		marker = m
	default:
		return model.Issue{}, false
	}

	issue := model.Issue{
		Severity:        a.severityOf(r, marker, summary),
		Title:           a.clean(firstNonEmpty(marker.Title, stringValue(r.Data[model.DataIssueTitle]))),
		Description:     firstNonEmpty(r.Summary, a.clean(marker.Description)),
		SuggestedAction: a.clean(firstNonEmpty(marker.SuggestedAction, stringValue(r.Data[model.DataSuggestedAction]))),
		DetectedBy:      r.AgentType,
	}
	if issue.Title == "" {
		issue.Title = r.AgentType.DisplayName() + " finding"
	}
	return issue, true
}

// severityOf reads the evaluator's severity signal: the issue marker, then
// data["severity"], then a tag in the summary, defaulting to medium.
func (a *Aggregator) severityOf(r model.AgentResult, marker issueMarker, summary string) model.Severity {
	if sev, ok := model.ParseSeverity(marker.Severity); ok {
		return sev
	}
	if sev, ok := model.ParseSeverity(stringValue(r.Data[model.DataSeverity])); ok {
		return sev
	}
	if m := severityTag.FindStringSubmatch(summary); m != nil {
		if sev, ok := model.ParseSeverity(m[1]); ok {
			return sev
		}
	}
	return model.SeverityMedium
}

// decodeMarker interprets data["issue"]: true, a non-empty title string, or an
// object with severity/title/description/suggestedAction.
func decodeMarker(v any) (issueMarker, bool) {
	switch t := v.(type) {
	case nil:
		return issueMarker{}, false
	case bool:
		return issueMarker{}, t
	case string:
		if strings.TrimSpace(t) == "" {
			return issueMarker{}, false
		}
		return issueMarker{Title: t}, true
	}

	var m issueMarker
	if err := mapstructure.WeakDecode(v, &m); err != nil {
		return issueMarker{}, false
	}
	return m, true
}

// references unions every evaluator's citations, keeping the most relevant
// copy per (section, title).
func (a *Aggregator) references(claimID string, results []model.AgentResult) []model.ContractReference {
	type key struct{ section, title string }
	best := make(map[key]model.ContractReference)

	for _, r := range results {
		raw, ok := r.Data[model.DataContractReferences]
		if !ok || raw == nil {
			continue
		}
		var refs []model.ContractReference
		if err := mapstructure.WeakDecode(raw, &refs); err != nil {
			a.logger.Warn("ignoring malformed contract references",
				"claim_id", claimID, "agent", r.AgentType, "error", err)
			continue
		}
		for _, ref := range refs {
			ref.Section = a.clean(ref.Section)
			ref.Title = a.clean(ref.Title)
			ref.Text = a.clean(ref.Text)
			if ref.Section == "" && ref.Title == "" {
				continue
			}
			ref.Relevance = clamp01(ref.Relevance)

			k := key{ref.Section, ref.Title}
			cur, seen := best[k]
			if !seen || ref.Relevance > cur.Relevance || (ref.Relevance == cur.Relevance && ref.Text < cur.Text) {
				best[k] = ref
			}
		}
	}

	if len(best) == 0 {
		return nil
	}
	out := make([]model.ContractReference, 0, len(best))
	for _, ref := range best {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Relevance != out[j].Relevance {
			return out[i].Relevance > out[j].Relevance
		}
		if out[i].Section != out[j].Section {
			return out[i].Section < out[j].Section
		}
		return out[i].Title < out[j].Title
	})
	return out
}

// orderResults lays results out in dispatch order; results for agents not in
// order follow, sorted by agent type.
func orderResults(order []model.AgentType, results map[model.AgentType]model.AgentResult) []model.AgentResult {
	out := make([]model.AgentResult, 0, len(results))
	placed := make(map[model.AgentType]bool, len(results))
	for _, agent := range order {
		if r, ok := results[agent]; ok && !placed[agent] {
			if r.AgentType == "" {
				r.AgentType = agent
			}
			out = append(out, r)
			placed[agent] = true
		}
	}

	var rest []model.AgentType
	for agent := range results {
		if !placed[agent] {
			rest = append(rest, agent)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	for _, agent := range rest {
		r := results[agent]
		if r.AgentType == "" {
			r.AgentType = agent
		}
		out = append(out, r)
	}
	return out
}

// mean is the unweighted mean, summed in sorted order and rounded to four
// places so it does not depend on input order.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return math.Round(sum/float64(len(sorted))*1e4) / 1e4
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// stringValue accepts plain strings and string-kinded types such as
// model.Severity.
func stringValue(v any) string {
	if v == nil {
		return ""
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.String {
		return rv.String()
	}
	return ""
}
