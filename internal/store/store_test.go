package store

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/crewclaims/internal/dispatch"
	"github.com/ppiankov/crewclaims/internal/model"
	"github.com/ppiankov/crewclaims/internal/session"
)

type stubSelector struct{}

func (stubSelector) Select(model.ClaimInput, *model.TripData) ([]model.AgentType, error) {
	return []model.AgentType{model.AgentPerDiem}, nil
}

type stubDispatcher struct{}

func (stubDispatcher) Dispatch(_ context.Context, _ model.AgentInput, agents []model.AgentType) dispatch.Outcome {
	results := make(map[model.AgentType]model.AgentResult, len(agents))
	for _, a := range agents {
		results[a] = model.AgentResult{AgentType: a, Status: model.StatusCompleted, Confidence: model.Float(0.9)}
	}
	return dispatch.Outcome{Results: results}
}

type stubReducer struct{}

func (stubReducer) Aggregate(claimID string, _ model.AgentInput, order []model.AgentType,
	results map[model.AgentType]model.AgentResult, timedOut bool) (*model.ValidationResult, error) {
	vr := &model.ValidationResult{
		ClaimID:        claimID,
		OverallStatus:  model.OverallApproved,
		Confidence:     0.9,
		Recommendation: "Approve: all checks passed with 0.90 confidence",
		TimedOut:       timedOut,
	}
	for _, a := range order {
		vr.AgentResults = append(vr.AgentResults, results[a])
	}
	return vr, nil
}

// runSession produces a real completed session for claimID
func runSession(t *testing.T, claimID string, at time.Time) (*session.Session, *model.ValidationResult) {
	t.Helper()
	v, err := session.NewValidator(stubSelector{}, stubDispatcher{}, stubReducer{},
		session.WithClock(func() time.Time { return at }))
	require.NoError(t, err)

	vr, s, err := v.Run(context.Background(), model.AgentInput{Claim: model.ClaimInput{
		ID:          claimID,
		ClaimNumber: "PD-" + claimID,
		Type:        model.ClaimTypePerDiem,
		Amount:      decimal.NewFromInt(100),
	}})
	require.NoError(t, err)
	return s, vr
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "db", "sessions.db"))
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	first, firstResult := runSession(t, "clm-1", base)
	second, secondResult := runSession(t, "clm-1", base.Add(time.Minute))
	other, otherResult := runSession(t, "clm-2", base)

	require.NoError(t, st.Record(ctx, first, firstResult))
	require.NoError(t, st.Record(ctx, second, secondResult))
	require.NoError(t, st.Record(ctx, other, otherResult))

	got, err := st.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "clm-1", got.ClaimID)
	assert.Equal(t, "PD-clm-1", got.ClaimNumber)
	assert.Equal(t, model.OverallApproved, got.OverallStatus)
	assert.Equal(t, 0.9, got.Confidence)
	assert.False(t, got.TimedOut)
	assert.True(t, base.Equal(got.CreatedAt))
	require.NotNil(t, got.Result)
	assert.Equal(t, firstResult.Recommendation, got.Result.Recommendation)
	require.Len(t, got.Result.AgentResults, 1)
	assert.Equal(t, model.AgentPerDiem, got.Result.AgentResults[0].AgentType)
	require.Len(t, got.Trail, 4)
	assert.Equal(t, session.StateCompleted, got.Trail[3].State)

	list, err := st.ListByClaim(ctx, "clm-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].SessionID)
	assert.Equal(t, first.ID, list[1].SessionID)

	list, err = st.ListByClaim(ctx, "clm-1", 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = st.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecorderIsWiredIntoValidator(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	v, err := session.NewValidator(stubSelector{}, stubDispatcher{}, stubReducer{}, session.WithRecorder(st))
	require.NoError(t, err)

	_, s, err := v.Run(ctx, model.AgentInput{Claim: model.ClaimInput{
		ID: "clm-9", Type: model.ClaimTypePerDiem, Amount: decimal.NewFromInt(10),
	}})
	require.NoError(t, err)

	got, err := st.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "clm-9", got.ClaimID)
}

func TestPostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	st := New(db, DriverPostgres)
	s, vr := runSession(t, "clm-1", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	mock.ExpectExec(regexp.QuoteMeta("VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)")).
		WithArgs(s.ID, "clm-1", "PD-clm-1", "approved", 0.9, false, sqlmock.AnyArg(),
			"2024-03-01T12:00:00.000000000Z", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, st.Record(context.Background(), s, vr))

	mock.ExpectQuery(regexp.QuoteMeta("WHERE claim_id = $1 ORDER BY created_at DESC LIMIT $2")).
		WithArgs("clm-1", 20).
		WillReturnRows(sqlmock.NewRows([]string{
			"session_id", "claim_id", "claim_number", "overall_status", "confidence", "timed_out",
			"processing_ms", "created_at", "result", "trail",
		}).AddRow("s-1", "clm-1", "PD-1", "flagged", 0.4, true, int64(1200),
			"2024-03-01T12:00:00.000000000Z", `{"claimId":"clm-1","overallStatus":"flagged"}`, `[]`))

	list, err := st.ListByClaim(context.Background(), "clm-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.OverallFlagged, list[0].OverallStatus)
	assert.True(t, list[0].TimedOut)
	assert.Equal(t, int64(1200), list[0].ProcessingTimeMs)
	assert.Equal(t, model.OverallFlagged, list[0].Result.OverallStatus)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "a = ? AND b = ?", New(nil, DriverSQLite).rebind("a = ? AND b = ?"))
	assert.Equal(t, "a = $1 AND b = $2", New(nil, DriverPostgres).rebind("a = ? AND b = ?"))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x")
	require.Error(t, err)
	assert.True(t, model.IsConfigError(err))
}
