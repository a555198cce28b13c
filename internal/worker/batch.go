package worker

import (
	"context"
	"fmt"

	"github.com/ppiankov/crewclaims/internal/intake"
	"github.com/ppiankov/crewclaims/internal/model"
)

// ClaimValidator defines the interface for validating one claim
type ClaimValidator interface {
	Validate(ctx context.Context, input model.AgentInput) (*model.ValidationResult, error)
}

// ClaimJob represents a claim validation job
type ClaimJob struct {
	Index     int
	Input     model.AgentInput
	Validator ClaimValidator
}

// Execute executes the validation job
func (j *ClaimJob) Execute(ctx context.Context) Result {
	result, err := j.Validator.Validate(ctx, j.Input)
	return &ClaimResult{
		Index:   j.Index,
		ClaimID: j.Input.Claim.ID,
		Input:   j.Input,
		Result:  result,
		Error:   err,
	}
}

// ClaimResult represents the outcome of one claim in a batch. Index is the
// claim's position in the batch input.
type ClaimResult struct {
	Index   int
	ClaimID string
	Input   model.AgentInput
	Result  *model.ValidationResult
	Error   error
}

// GetError returns the error from the claim result
func (r *ClaimResult) GetError() error {
	return r.Error
}

// BatchProcessor validates many claims concurrently, each in its own session
type BatchProcessor struct {
	validator   ClaimValidator
	concurrency int
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(validator ClaimValidator, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		validator:   validator,
		concurrency: concurrency,
	}
}

// ProcessClaims validates the inputs concurrently and returns exactly one
// ClaimResult per input, in input order. A failing claim is reported in its
// ClaimResult and never stops the batch. When ctx ends first, claims that
// never reached a validator carry the context error.
func (b *BatchProcessor) ProcessClaims(ctx context.Context, inputs []model.AgentInput) []*ClaimResult {
	if len(inputs) == 0 {
		return []*ClaimResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	for i, input := range inputs {
		queued := pool.Submit(&ClaimJob{
			Index:     i,
			Input:     input,
			Validator: b.validator,
		})
		if !queued {
			pool.Shutdown()
			break
		}
	}

	claimResults := make([]*ClaimResult, len(inputs))
	for _, result := range pool.Wait() {
		cr := result.(*ClaimResult)
		claimResults[cr.Index] = cr
	}

	for i, cr := range claimResults {
		if cr != nil {
			continue
		}
		err := ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		claimResults[i] = &ClaimResult{
			Index:   i,
			ClaimID: inputs[i].Claim.ID,
			Input:   inputs[i],
			Error:   fmt.Errorf("claim not validated: %w", err),
		}
	}

	return claimResults
}

// ProcessFile reads JSON-lines requests from a file and validates them
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*ClaimResult, error) {
	inputs, err := intake.ReadRequestsFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read requests: %w", err)
	}

	return b.ProcessClaims(ctx, inputs), nil
}
