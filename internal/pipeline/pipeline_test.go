package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/crewclaims/internal/evaluator"
	"github.com/ppiankov/crewclaims/internal/llm"
	"github.com/ppiankov/crewclaims/internal/model"
	"github.com/ppiankov/crewclaims/internal/worker"
)

func testConfig(t *testing.T) model.Config {
	t.Helper()
	cfg := model.DefaultConfig()
	cfg.Store.DSN = filepath.Join(t.TempDir(), "sessions.db")
	cfg.Cache.Backend = "memory"
	cfg.Dispatch.EvaluatorTimeout = 2 * time.Second
	cfg.Dispatch.SessionTimeout = 5 * time.Second
	return cfg
}

func perDiemClaim(id string) model.AgentInput {
	departed := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	return model.AgentInput{
		Claim: model.ClaimInput{
			ID:             id,
			ClaimNumber:    "PD-" + id,
			CrewMemberID:   "crew-7",
			CrewMemberName: "J. Rivera",
			Type:           model.ClaimTypePerDiem,
			TripID:         "trip-9",
			Amount:         decimal.RequireFromString("135.00"),
			SubmittedDate:  departed.Add(96 * time.Hour),
		},
		Trip: &model.TripData{
			ID:            "trip-9",
			DepartureTime: departed,
			ArrivalTime:   departed.Add(54 * time.Hour),
			BlockMinutes:  300,
			CreditMinutes: 330,
			DutyMinutes:   600,
		},
		Crew: &model.CrewData{
			ID:          "crew-7",
			HourlyRate:  decimal.NewFromInt(120),
			PerDiemRate: decimal.RequireFromString("2.50"),
		},
	}
}

func newPipeline(t *testing.T, cfg model.Config, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestPipelineRulesEndToEnd(t *testing.T) {
	p := newPipeline(t, testConfig(t))
	ctx := context.Background()

	report, err := p.Run(ctx, perDiemClaim("clm-1"))
	require.NoError(t, err)

	vr := report.Result
	assert.Equal(t, model.OverallApproved, vr.OverallStatus)
	require.Len(t, vr.AgentResults, 3)
	assert.Equal(t, model.AgentPerDiem, vr.AgentResults[0].AgentType)
	assert.Equal(t, model.AgentExcessPayment, vr.AgentResults[1].AgentType)
	assert.Equal(t, model.AgentCompliance, vr.AgentResults[2].AgentType)
	assert.NotEmpty(t, report.SessionID)

	history, err := p.History(ctx, "clm-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, report.SessionID, history[0].SessionID)

	rec, err := p.Session(ctx, report.SessionID)
	require.NoError(t, err)
	assert.Equal(t, vr.Recommendation, rec.Result.Recommendation)
}

func TestPipelineConfigErrors(t *testing.T) {
	p := newPipeline(t, testConfig(t))

	in := perDiemClaim("clm-2")
	in.Claim.Type = "catering"
	_, err := p.Run(context.Background(), in)
	require.Error(t, err)
	assert.True(t, model.IsConfigError(err))

	_, err = p.Plan(in)
	assert.True(t, model.IsConfigError(err))

	cfg := testConfig(t)
	cfg.Dispatch.SessionTimeout = time.Second
	_, err = New(context.Background(), cfg)
	assert.True(t, model.IsConfigError(err))

	cfg = testConfig(t)
	cfg.LLM.Provider = "carrier-pigeon"
	_, err = New(context.Background(), cfg)
	assert.True(t, model.IsConfigError(err))
}

func TestPipelineRequiresEveryReachableEvaluator(t *testing.T) {
	catalog := evaluator.NewCatalog()
	require.NoError(t, catalog.Register(model.AgentPerDiem, evaluator.NewRules(model.AgentPerDiem, evaluator.DefaultLimits())))

	_, err := New(context.Background(), testConfig(t), WithCatalog(catalog))
	require.Error(t, err)
	assert.True(t, model.IsConfigError(err))
}

func TestPipelinePlan(t *testing.T) {
	p := newPipeline(t, testConfig(t))

	in := perDiemClaim("clm-3")
	in.Trip.International = true
	agents, err := p.Plan(in)
	require.NoError(t, err)
	assert.Equal(t, []model.AgentType{
		model.AgentPerDiem, model.AgentDutyTime, model.AgentExcessPayment, model.AgentCompliance,
	}, agents)
}

func TestPipelineHistoryDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = ""
	p := newPipeline(t, cfg)

	_, err := p.Run(context.Background(), perDiemClaim("clm-4"))
	require.NoError(t, err)

	_, err = p.History(context.Background(), "clm-4", 0)
	assert.True(t, model.IsConfigError(err))
}

type countingProvider struct {
	calls atomic.Int32
}

func (p *countingProvider) Name() string                     { return "counting" }
func (p *countingProvider) IsAvailable(context.Context) bool { return true }

func (p *countingProvider) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.calls.Add(1)
	return &llm.CompletionResponse{Text: `{"status":"completed","summary":"Consistent with the contract","confidence":0.85}`}, nil
}

func TestPipelineLLMBackendIsCached(t *testing.T) {
	provider := &countingProvider{}
	p := newPipeline(t, testConfig(t), WithProvider(provider))

	first, err := p.Run(context.Background(), perDiemClaim("clm-5"))
	require.NoError(t, err)
	assert.Equal(t, model.OverallApproved, first.Result.OverallStatus)
	assert.Equal(t, 0.85, first.Result.Confidence)
	assert.Equal(t, int32(3), provider.calls.Load())

	_, err = p.Run(context.Background(), perDiemClaim("clm-5"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), provider.calls.Load())
}

func TestPipelineBatch(t *testing.T) {
	p := newPipeline(t, testConfig(t))

	bad := perDiemClaim("clm-bad")
	bad.Claim.Amount = decimal.NewFromInt(-1)
	inputs := []model.AgentInput{perDiemClaim("clm-a"), bad, perDiemClaim("clm-b")}

	results := worker.NewBatchProcessor(p, 2).ProcessClaims(context.Background(), inputs)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Error)
	assert.Error(t, results[1].Error)
	assert.NoError(t, results[2].Error)
	assert.Equal(t, "clm-b", results[2].Result.ClaimID)
}

func TestRenderReports(t *testing.T) {
	p := newPipeline(t, testConfig(t))
	report, err := p.Run(context.Background(), perDiemClaim("clm-6"))
	require.NoError(t, err)

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "out", "clm-6.json")
	mdPath := filepath.Join(dir, "out", "clm-6.md")
	require.NoError(t, p.Renderer().RenderJSON(report, jsonPath))
	require.NoError(t, p.Renderer().RenderMarkdown(report, mdPath))

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "clm-6", decoded["claimId"])
	assert.Equal(t, "approved", decoded["overallStatus"])
	assert.Len(t, decoded["agentResults"], 3)

	md, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "# Claim PD-clm-6")
	assert.Contains(t, string(md), "**Status:** APPROVED")
	assert.Contains(t, string(md), "$135.00")
	assert.Contains(t, string(md), "| Per Diem Calculator | completed |")
	assert.Contains(t, string(md), "Generated by crewclaims")

	summary := p.Renderer().Summary(report)
	assert.Contains(t, summary, "✓ PD-clm-6 $135.00 approved")
	assert.Contains(t, summary, "3 evaluators")
}

func TestRendererMoney(t *testing.T) {
	r := NewRenderer(model.OutputConfig{Currency: "USD", Locale: "en-US"})
	assert.Equal(t, "$1,234.50", r.Money(decimal.RequireFromString("1234.5")))
	assert.Equal(t, "-$20.00", r.Money(decimal.NewFromInt(-20)))

	fallback := NewRenderer(model.OutputConfig{Currency: "???", Locale: "!!"})
	assert.Equal(t, "$7.00", fallback.Money(decimal.NewFromInt(7)))
}

func TestMarkdownEscapesTableCells(t *testing.T) {
	r := NewRenderer(model.DefaultConfig().Output)
	md := r.Markdown(&Report{
		Claim: model.ClaimInput{ID: "clm-7", Type: model.ClaimTypeDispute, Amount: decimal.NewFromInt(1)},
		Result: &model.ValidationResult{
			ClaimID:       "clm-7",
			OverallStatus: model.OverallFlagged,
			AgentResults: []model.AgentResult{
				{AgentName: "Dispute Resolution", Status: model.StatusFlagged, Summary: "a | b\nc"},
				{AgentName: "Duty Time", Status: model.StatusFlagged, Summary: "rest 7h<8h"},
			},
			Issues: []model.Issue{
				{Severity: model.SeverityMedium, Title: "No grounds", DetectedBy: model.AgentDispute},
				{Severity: model.SeverityHigh, Title: "Rest", Description: "actual<required", DetectedBy: model.AgentDutyTime},
			},
		},
	})
	assert.Contains(t, md, `a \| b c`)
	assert.Contains(t, md, "rest 7h&lt;8h")
	assert.Contains(t, md, "**[MEDIUM]** No grounds (dispute)")
	assert.Contains(t, md, "**[HIGH]** Rest (duty-time): actual&lt;required")
}

func TestMarkdownListsIssuesHighFirst(t *testing.T) {
	r := NewRenderer(model.DefaultConfig().Output)
	md := r.Markdown(&Report{
		Claim: model.ClaimInput{ID: "clm-8", Type: model.ClaimTypeGuarantee, Amount: decimal.NewFromInt(1)},
		Result: &model.ValidationResult{
			ClaimID:       "clm-8",
			OverallStatus: model.OverallRejected,
			Issues: []model.Issue{
				{Severity: model.SeverityLow, Title: "Late filing", DetectedBy: model.AgentCompliance},
				{Severity: model.SeverityMedium, Title: "Rate mismatch", DetectedBy: model.AgentGuarantee},
				{Severity: model.SeverityHigh, Title: "Duplicate claim", DetectedBy: model.AgentExcessPayment},
				{Severity: model.SeverityLow, Title: "Missing note", DetectedBy: model.AgentGuarantee},
			},
		},
	})

	high := strings.Index(md, "Duplicate claim")
	medium := strings.Index(md, "Rate mismatch")
	late := strings.Index(md, "Late filing")
	note := strings.Index(md, "Missing note")
	require.True(t, high >= 0 && medium >= 0 && late >= 0 && note >= 0)
	assert.Less(t, high, medium)
	assert.Less(t, medium, late)
	assert.Less(t, late, note, "equal severities keep evaluator order")
}

func TestPipelineBackendSlots(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dispatch.MaxConcurrent = 3
	p := newPipeline(t, cfg)

	inFlight, capacity := p.BackendSlots()
	assert.Equal(t, 0, inFlight)
	assert.Equal(t, 3, capacity)
}
