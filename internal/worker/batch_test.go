package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/crewclaims/internal/model"
)

// stubValidator approves every claim after delay, except FailFor
type stubValidator struct {
	FailFor string
	delay   time.Duration
	calls   atomic.Int32
}

func (m *stubValidator) Validate(ctx context.Context, input model.AgentInput) (*model.ValidationResult, error) {
	m.calls.Add(1)
	delay := m.delay
	if delay == 0 {
		delay = 10 * time.Millisecond
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if input.Claim.ID == m.FailFor {
		return nil, errors.New("validation error")
	}
	return &model.ValidationResult{
		ClaimID:       input.Claim.ID,
		OverallStatus: model.OverallApproved,
	}, nil
}

func inputs(ids ...string) []model.AgentInput {
	out := make([]model.AgentInput, len(ids))
	for i, id := range ids {
		out[i] = model.AgentInput{Claim: model.ClaimInput{ID: id, Type: model.ClaimTypeDispute}}
	}
	return out
}

func TestBatchProcessClaimsInInputOrder(t *testing.T) {
	processor := NewBatchProcessor(&stubValidator{}, 2)

	results := processor.ProcessClaims(context.Background(), inputs("c-1", "c-2", "c-3"))
	require.Len(t, results, 3)

	for i, res := range results {
		want := []string{"c-1", "c-2", "c-3"}[i]
		require.NoError(t, res.Error, want)
		require.NotNil(t, res.Result)
		assert.Equal(t, i, res.Index)
		assert.Equal(t, want, res.ClaimID)
		assert.Equal(t, want, res.Result.ClaimID)
	}
}

func TestBatchPartialFailure(t *testing.T) {
	processor := NewBatchProcessor(&stubValidator{FailFor: "c-2"}, 2)

	results := processor.ProcessClaims(context.Background(), inputs("c-1", "c-2", "c-3"))
	require.Len(t, results, 3)

	assert.Error(t, results[1].Error)
	assert.Nil(t, results[1].Result)
	assert.Equal(t, "c-2", results[1].Input.Claim.ID, "a failed result keeps its input")
	assert.NoError(t, results[0].Error)
	assert.NoError(t, results[2].Error)
}

func TestBatchDeadlineReportsEveryClaim(t *testing.T) {
	validator := &stubValidator{delay: 30 * time.Millisecond}
	processor := NewBatchProcessor(validator, 2)
	ids := []string{"c-0", "c-1", "c-2", "c-3", "c-4", "c-5", "c-6", "c-7", "c-8", "c-9"}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	results := processor.ProcessClaims(ctx, inputs(ids...))
	require.Len(t, results, len(ids))

	var validated, expired int
	for i, res := range results {
		require.NotNil(t, res, "claim %d has no result", i)
		assert.Equal(t, ids[i], res.ClaimID)
		assert.Equal(t, ids[i], res.Input.Claim.ID)
		if res.Error == nil {
			validated++
			continue
		}
		assert.ErrorIs(t, res.Error, context.DeadlineExceeded)
		expired++
	}
	assert.Positive(t, expired)
	assert.Equal(t, len(ids), validated+expired)
	assert.Less(t, int(validator.calls.Load()), len(ids))
}

func TestBatchCancelledBeforeStart(t *testing.T) {
	validator := &stubValidator{}
	processor := NewBatchProcessor(validator, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := processor.ProcessClaims(ctx, inputs("c-1", "c-2"))
	require.Len(t, results, 2)
	for _, res := range results {
		assert.ErrorIs(t, res.Error, context.Canceled)
	}
	assert.Zero(t, validator.calls.Load())
}

func TestBatchEmpty(t *testing.T) {
	processor := NewBatchProcessor(&stubValidator{}, 2)
	assert.Empty(t, processor.ProcessClaims(context.Background(), nil))
}

func TestClaimResultGetError(t *testing.T) {
	assert.NoError(t, (&ClaimResult{ClaimID: "c-1"}).GetError())

	want := errors.New("validation failed")
	assert.Equal(t, want, (&ClaimResult{ClaimID: "c-1", Error: want}).GetError())
}

func TestBatchProcessFile(t *testing.T) {
	content := `{"claim": {"id": "c-1", "type": "dispute", "amount": 10}}
# comment

{"claim": {"id": "c-2", "type": "per-diem", "amount": "88.10"}}
{"claim": {"id": "c-1", "type": "dispute", "amount": 10}}
`
	path := filepath.Join(t.TempDir(), "claims.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	results, err := NewBatchProcessor(&stubValidator{}, 2).ProcessFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, results, 2, "duplicate claim ids are read once")
	assert.Equal(t, "c-1", results[0].ClaimID)
	assert.Equal(t, "c-2", results[1].ClaimID)
}

func TestBatchProcessFileMissing(t *testing.T) {
	_, err := NewBatchProcessor(&stubValidator{}, 2).ProcessFile(context.Background(), "no_such_file.jsonl")
	assert.Error(t, err)
}
