package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/ppiankov/crewclaims/internal/model"
)

// Report is one validated claim ready for output
type Report struct {
	SessionID string                  `json:"sessionId"`
	Claim     model.ClaimInput        `json:"claim"`
	Result    *model.ValidationResult `json:"result"`
}

// Renderer writes reports as JSON, Markdown and terminal summaries
type Renderer struct {
	includeFooter bool
	printer       *message.Printer
	symbol        string
	scale         int
}

// NewRenderer creates a renderer. Unknown currencies fall back to USD and
// unknown locales to English.
func NewRenderer(cfg model.OutputConfig) *Renderer {
	unit, err := currency.ParseISO(cfg.Currency)
	if err != nil {
		unit = currency.USD
	}
	tag, err := language.Parse(cfg.Locale)
	if err != nil {
		tag = language.AmericanEnglish
	}
	scale, _ := currency.Standard.Rounding(unit)

	p := message.NewPrinter(tag)
	return &Renderer{
		includeFooter: cfg.IncludeFooter,
		printer:       p,
		symbol:        p.Sprint(currency.Symbol(unit)),
		scale:         scale,
	}
}

// Money formats an amount in the configured currency and locale
func (r *Renderer) Money(d decimal.Decimal) string {
	f, _ := d.Round(int32(r.scale)).Float64()
	sign := ""
	if f < 0 {
		sign, f = "-", -f
	}
	return sign + r.symbol + r.printer.Sprint(number.Decimal(f, number.Scale(r.scale)))
}

// RenderJSON writes the validation result to path
func (r *Renderer) RenderJSON(report *Report, path string) error {
	data, err := json.MarshalIndent(report.Result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

// RenderMarkdown writes the Markdown report to path
func (r *Renderer) RenderMarkdown(report *Report, path string) error {
	return writeFile(path, []byte(r.Markdown(report)))
}

// Markdown renders the human-readable report
func (r *Renderer) Markdown(report *Report) string {
	vr := report.Result
	c := report.Claim
	var b strings.Builder

	title := c.ClaimNumber
	if title == "" {
		title = c.ID
	}
	fmt.Fprintf(&b, "# Claim %s\n\n", title)
	fmt.Fprintf(&b, "**Status:** %s  \n", strings.ToUpper(string(vr.OverallStatus)))
	fmt.Fprintf(&b, "**Confidence:** %.2f  \n", vr.Confidence)
	fmt.Fprintf(&b, "**Amount:** %s (%s)  \n", r.Money(c.Amount), c.Type)
	if c.CrewMemberName != "" || c.CrewMemberID != "" {
		fmt.Fprintf(&b, "**Crew member:** %s  \n", strings.TrimSpace(c.CrewMemberName+" "+paren(c.CrewMemberID)))
	}
	if report.SessionID != "" {
		fmt.Fprintf(&b, "**Session:** `%s`  \n", report.SessionID)
	}
	fmt.Fprintf(&b, "**Processing time:** %s\n\n", time.Duration(vr.ProcessingTimeMs)*time.Millisecond)
	fmt.Fprintf(&b, "> %s\n\n", inline(vr.Recommendation))
	if vr.TimedOut {
		b.WriteString("_Some evaluators did not answer before the session deadline._\n\n")
	}

	b.WriteString("## Evaluators\n\n")
	b.WriteString("| Evaluator | Status | Confidence | Duration | Summary |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, res := range vr.AgentResults {
		conf := "-"
		if res.Confidence != nil {
			conf = fmt.Sprintf("%.2f", *res.Confidence)
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %dms | %s |\n",
			cell(res.AgentName), res.Status, conf, res.DurationMs, cell(res.Summary))
	}
	b.WriteString("\n")

	if len(vr.Issues) > 0 {
		b.WriteString("## Issues\n\n")
		for _, is := range bySeverity(vr.Issues) {
			fmt.Fprintf(&b, "- **[%s]** %s (%s)", strings.ToUpper(string(is.Severity)), inline(is.Title), is.DetectedBy)
			if is.Description != "" && is.Description != is.Title {
				fmt.Fprintf(&b, ": %s", inline(is.Description))
			}
			b.WriteString("\n")
			if is.SuggestedAction != "" {
				fmt.Fprintf(&b, "  - Suggested action: %s\n", inline(is.SuggestedAction))
			}
		}
		b.WriteString("\n")
	}

	if len(vr.ContractReferences) > 0 {
		b.WriteString("## Contract references\n\n")
		for _, ref := range vr.ContractReferences {
			fmt.Fprintf(&b, "- **%s %s** (relevance %.2f)", inline(ref.Section), inline(ref.Title), ref.Relevance)
			if ref.Text != "" {
				fmt.Fprintf(&b, ": %s", inline(ref.Text))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if h := vr.HistoricalAnalysis; h != nil {
		b.WriteString("## History\n\n")
		fmt.Fprintf(&b, "- %d prior claims, %.0f%% approved, average %s\n",
			h.TotalClaims, h.ApprovalRate*100, r.Money(h.AverageAmount))
		if n := len(h.RecentClaimsByUser); n > 0 {
			fmt.Fprintf(&b, "- %d recent claims on file\n", n)
		}
		b.WriteString("\n")
	}

	if r.includeFooter {
		b.WriteString("---\n\n")
		b.WriteString("_Generated by crewclaims. Evaluator verdicts are advisory; payroll makes the final decision._\n")
	}
	return b.String()
}

// Summary is the one-line terminal result
func (r *Renderer) Summary(report *Report) string {
	vr := report.Result
	title := report.Claim.ClaimNumber
	if title == "" {
		title = report.Claim.ID
	}
	line := fmt.Sprintf("%s %s %s %s (confidence %.2f, %d evaluators, %d issues)",
		mark(vr.OverallStatus), title, r.Money(report.Claim.Amount), vr.OverallStatus,
		vr.Confidence, len(vr.AgentResults), len(vr.Issues))
	if vr.TimedOut {
		line += " [timed out]"
	}
	return line
}

// RenderSummary prints the summary and recommendation to w
func (r *Renderer) RenderSummary(w io.Writer, report *Report) {
	_, _ = fmt.Fprintln(w, r.Summary(report))
	_, _ = fmt.Fprintf(w, "  %s\n", report.Result.Recommendation)
}

func mark(s model.OverallStatus) string {
	switch s {
	case model.OverallApproved:
		return "✓"
	case model.OverallRejected:
		return "✗"
	default:
		return "⚠"
	}
}

// bySeverity returns the issues high first, keeping evaluator order within a
// severity
func bySeverity(issues []model.Issue) []model.Issue {
	out := append([]model.Issue(nil), issues...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Severity.Rank() > out[j].Severity.Rank() })
	return out
}

var markdownEscaper = strings.NewReplacer("<", "&lt;", ">", "&gt;", "\r\n", " ", "\n", " ")

// inline makes evaluator text safe inside one Markdown line; a "<" must not
// open an HTML tag in the rendered report.
func inline(s string) string {
	return markdownEscaper.Replace(s)
}

func cell(s string) string {
	return strings.ReplaceAll(inline(s), "|", `\|`)
}

func paren(s string) string {
	if s == "" {
		return ""
	}
	return "(" + s + ")"
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
