package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/crewclaims/internal/model"
	"github.com/ppiankov/crewclaims/internal/pipeline"
	"github.com/ppiankov/crewclaims/internal/worker"
)

var (
	batchFlags   engineFlags
	concurrency  int
	outputDir    string
	batchTimeout time.Duration
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Validate many claims from a JSON-lines file in parallel",
	Long: `Batch validates many claim requests concurrently:
- Read requests from the input file (one JSON object per line)
- Validate claims in parallel, each in its own session
- All sessions share one backend concurrency limit
- Write a JSON and a Markdown report per claim

An interrupt or the timeout stops the batch; claims not yet validated are
counted as failures.

Example:
  crewclaims batch claims.jsonl
  crewclaims batch claims.jsonl --concurrency 10 --output-dir ./reports
  crewclaims batch claims.jsonl --timeout 30m`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of claims validated at once (default: config batch_workers, else CPUs)")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./crewclaims-reports", "output directory for reports")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for batch processing")
	batchFlags.register(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()

	p, cfg, err := newPipeline(ctx, &batchFlags)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close(context.Background()) }()

	workers := concurrency
	if workers <= 0 {
		workers = cfg.Dispatch.BatchWorkers
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Crewclaims Batch Validation\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", workers)
	_, slots := p.BackendSlots()
	fmt.Fprintf(os.Stderr, "  Backend:      %s (max %d concurrent calls)\n", backendName(cfg), slots)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	fmt.Fprintf(os.Stderr, "\n")

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	processor := worker.NewBatchProcessor(p, workers)

	fmt.Fprintf(os.Stderr, "⚙️  Validating claims with %d workers...\n\n", workers)
	results, err := processor.ProcessFile(ctx, file)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}

	if err := ctx.Err(); err != nil {
		inFlight, _ := p.BackendSlots()
		slog.Warn("batch stopped before every claim was validated",
			"reason", err, "backend_calls_in_flight", inFlight)
	}

	counts := make(map[model.OverallStatus]int)
	failures := 0
	r := p.Renderer()

	for _, res := range results {
		if res.Error != nil {
			failures++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", res.ClaimID, res.Error)
			continue
		}

		report := &pipeline.Report{Claim: res.Input.Claim, Result: res.Result}
		slug := sanitizeFilename(firstNonEmpty(res.Input.Claim.ClaimNumber, res.ClaimID))
		if err := r.RenderJSON(report, filepath.Join(outputDir, slug+".json")); err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "✗ %s: failed to write JSON: %v\n", res.ClaimID, err)
			continue
		}
		if cfg.Output.Markdown {
			if err := r.RenderMarkdown(report, filepath.Join(outputDir, slug+".md")); err != nil {
				failures++
				fmt.Fprintf(os.Stderr, "✗ %s: failed to write Markdown: %v\n", res.ClaimID, err)
				continue
			}
		}

		counts[res.Result.OverallStatus]++
		fmt.Fprintln(os.Stderr, r.Summary(report))
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:     %d claims\n", len(results))
	fmt.Fprintf(os.Stderr, "  Approved:  %d\n", counts[model.OverallApproved])
	fmt.Fprintf(os.Stderr, "  Flagged:   %d\n", counts[model.OverallFlagged])
	fmt.Fprintf(os.Stderr, "  Rejected:  %d\n", counts[model.OverallRejected])
	fmt.Fprintf(os.Stderr, "  Failures:  %d\n", failures)
	fmt.Fprintf(os.Stderr, "  Output:    %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "\n")

	return nil
}

var filenameReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	" ", "-",
)

// sanitizeFilename sanitizes a claim identifier for use as a filename
func sanitizeFilename(s string) string {
	s = filenameReplacer.Replace(strings.TrimSpace(s))
	s = strings.Trim(s, ".")
	if s == "" {
		s = "claim"
	}
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
