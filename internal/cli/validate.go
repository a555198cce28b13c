package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/crewclaims/internal/intake"
	"github.com/ppiankov/crewclaims/internal/model"
	"github.com/ppiankov/crewclaims/internal/pipeline"
)

// engineFlags are the config overrides shared by the commands that run claims
type engineFlags struct {
	llmProvider string
	llmModel    string
	noCache     bool
	noStore     bool
	noFooter    bool
}

func (f *engineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.llmProvider, "llm-provider", "", "reasoning backend (openai, anthropic, ollama, rules); overrides config")
	cmd.Flags().StringVar(&f.llmModel, "llm-model", "", "model name for the reasoning backend")
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "disable evaluator result cache")
	cmd.Flags().BoolVar(&f.noStore, "no-store", false, "do not record sessions in the audit store")
	cmd.Flags().BoolVar(&f.noFooter, "no-footer", false, "disable footer in Markdown reports")
}

func (f *engineFlags) apply(cfg *model.Config) {
	if f.llmProvider != "" {
		cfg.LLM.Provider = f.llmProvider
	}
	if f.llmModel != "" {
		cfg.LLM.Model = f.llmModel
	}
	if f.noCache {
		cfg.Cache.Enabled = false
	}
	if f.noStore {
		cfg.Store.Driver = ""
	}
	if f.noFooter {
		cfg.Output.IncludeFooter = false
	}
}

// newPipeline loads config, applies flags and builds the engine
func newPipeline(ctx context.Context, flags *engineFlags) (*pipeline.Pipeline, model.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cfg, err
	}
	if flags != nil {
		flags.apply(&cfg)
	}
	p, err := pipeline.New(ctx, cfg, pipeline.WithLogger(slog.Default()), pipeline.WithVersion(version))
	if err != nil {
		return nil, cfg, err
	}
	return p, cfg, nil
}

var (
	validateFlags   engineFlags
	outJSON         string
	outMD           string
	validateTimeout time.Duration
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate <claim-file>",
	Short: "Validate a single claim request",
	Long: `Validate runs one claim through its evaluators and merges their verdicts:
- Select evaluators for the claim type (plus conditional and always-on ones)
- Run them concurrently under the evaluator and session deadlines
- Merge the verdicts into approved, flagged or rejected
- Record the session in the audit store

The claim file is JSON or YAML: {"claim": {...}, "trip": {...}, "crew": {...}, "historicalData": {...}}.

Example:
  crewclaims validate claim.json
  crewclaims validate claim.yaml --json result.json --md result.md
  crewclaims validate claim.json --llm-provider openai --llm-model gpt-4o-mini`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&outJSON, "json", "", "output JSON path (optional)")
	validateCmd.Flags().StringVar(&outMD, "md", "", "output Markdown path (optional)")
	validateCmd.Flags().DurationVar(&validateTimeout, "timeout", 5*time.Minute, "overall timeout")
	validateFlags.register(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), validateTimeout)
	defer cancel()

	input, err := intake.Load(args[0])
	if err != nil {
		return err
	}

	p, cfg, err := newPipeline(ctx, &validateFlags)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close(context.Background()) }()

	if verbose {
		fmt.Fprintf(os.Stderr, "Validating: %s (%s)\n", input.Claim.ID, input.Claim.Type)
		fmt.Fprintf(os.Stderr, "Backend:    %s\n", backendName(cfg))
		fmt.Fprintf(os.Stderr, "Deadlines:  %v per evaluator, %v per session\n",
			cfg.Dispatch.EvaluatorTimeout, cfg.Dispatch.SessionTimeout)
		fmt.Fprintln(os.Stderr)
	}

	report, err := p.Run(ctx, input)
	if err != nil {
		return err
	}

	r := p.Renderer()
	if outJSON != "" {
		if err := r.RenderJSON(report, outJSON); err != nil {
			return fmt.Errorf("render JSON: %w", err)
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ Wrote JSON: %s\n", outJSON)
		}
	}
	if outMD != "" {
		if err := r.RenderMarkdown(report, outMD); err != nil {
			return fmt.Errorf("render markdown: %w", err)
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ Wrote Markdown: %s\n", outMD)
		}
	}

	r.RenderSummary(os.Stdout, report)
	return nil
}

func backendName(cfg model.Config) string {
	if cfg.LLM.Provider == "" || cfg.LLM.Provider == "rules" {
		return "offline rules"
	}
	if cfg.LLM.Model != "" {
		return cfg.LLM.Provider + "/" + cfg.LLM.Model
	}
	return cfg.LLM.Provider
}
