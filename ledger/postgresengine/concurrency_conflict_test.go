package postgresengine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/housepoints/ledger-go/ledger"
	"github.com/housepoints/ledger-go/ledger/postgresengine/internal/adapters"
)

// conflictAdapter is an in-memory DBAdapter whose guarded balance update
// reports a scripted rows-affected sequence, so the compare-and-swap conflict
// path can be driven without a database. The last scripted outcome is sticky.
type conflictAdapter struct {
	balance        int
	updateOutcomes []int64
	updateCalls    int
	inserts        int
	commits        int
	rollbacks      int
}

func (a *conflictAdapter) Query(_ context.Context, _ string) (adapters.DBRows, error) {
	return &singleIntRows{value: a.balance}, nil
}

func (a *conflictAdapter) Exec(_ context.Context, _ string) (adapters.DBResult, error) {
	return staticResult{rows: 1}, nil
}

func (a *conflictAdapter) Begin(_ context.Context) (adapters.DBTx, error) {
	return &conflictTx{adapter: a}, nil
}

type conflictTx struct {
	adapter *conflictAdapter
}

func (t *conflictTx) Query(_ context.Context, _ string) (adapters.DBRows, error) {
	return &singleIntRows{value: t.adapter.balance}, nil
}

func (t *conflictTx) Exec(_ context.Context, query string) (adapters.DBResult, error) {
	if strings.HasPrefix(query, "UPDATE") {
		index := t.adapter.updateCalls
		t.adapter.updateCalls++

		if index >= len(t.adapter.updateOutcomes) {
			index = len(t.adapter.updateOutcomes) - 1
		}

		return staticResult{rows: t.adapter.updateOutcomes[index]}, nil
	}

	t.adapter.inserts++

	return staticResult{rows: 1}, nil
}

func (t *conflictTx) Commit(_ context.Context) error {
	t.adapter.commits++
	return nil
}

func (t *conflictTx) Rollback(_ context.Context) error {
	t.adapter.rollbacks++
	return nil
}

type singleIntRows struct {
	value    int
	consumed bool
}

func (r *singleIntRows) Next() bool {
	if r.consumed {
		return false
	}

	r.consumed = true

	return true
}

func (r *singleIntRows) Scan(dest ...any) error {
	*(dest[0].(*int)) = r.value
	return nil
}

func (r *singleIntRows) Close() error {
	return nil
}

type staticResult struct {
	rows int64
}

func (r staticResult) RowsAffected() (int64, error) {
	return r.rows, nil
}

func pendingChore(t *testing.T) ledger.PendingTransaction {
	t.Helper()

	pending, err := ledger.BuildPendingTransaction(
		uuid.New(), uuid.New(), ledger.KindChoreCompleted, 5, "washed the dishes",
	)
	require.NoError(t, err)

	return pending
}

func Test_RecordTransaction_RetriesAfterConcurrencyConflict(t *testing.T) {
	// First guarded update loses the race (0 rows affected), second one wins.
	adapter := &conflictAdapter{balance: 10, updateOutcomes: []int64{0, 1}}

	engine, err := newLedgerEngine(
		adapter,
		WithRetryOptions(ledger.WithBaseDelay(time.Millisecond)),
	)
	require.NoError(t, err)

	recorded, err := engine.RecordTransaction(context.Background(), pendingChore(t))
	require.NoError(t, err)

	assert.Equal(t, 15, recorded.ResultingBalance)
	assert.Equal(t, 2, adapter.updateCalls)
	assert.Equal(t, 1, adapter.rollbacks, "losing attempt must be rolled back")
	assert.Equal(t, 1, adapter.commits, "winning attempt must be committed")
	assert.Equal(t, 1, adapter.inserts, "only the winning attempt may insert a row")
}

func Test_RecordTransaction_SurfacesConflictWhenRetriesExhausted(t *testing.T) {
	// Every guarded update loses the race.
	adapter := &conflictAdapter{balance: 10, updateOutcomes: []int64{0}}

	engine, err := newLedgerEngine(
		adapter,
		WithRetryOptions(
			ledger.WithMaxAttempts(3),
			ledger.WithBaseDelay(time.Millisecond),
		),
	)
	require.NoError(t, err)

	_, err = engine.RecordTransaction(context.Background(), pendingChore(t))

	require.ErrorIs(t, err, ledger.ErrConcurrencyConflict)
	assert.Equal(t, 3, adapter.updateCalls)
	assert.Equal(t, 3, adapter.rollbacks, "every losing attempt must be rolled back")
	assert.Zero(t, adapter.commits)
	assert.Zero(t, adapter.inserts)
}

func Test_RecordTransaction_DoesNotRetryUnknownMember(t *testing.T) {
	adapter := &missingMemberAdapter{}

	engine, err := newLedgerEngine(
		adapter,
		WithRetryOptions(ledger.WithBaseDelay(time.Millisecond)),
	)
	require.NoError(t, err)

	_, err = engine.RecordTransaction(context.Background(), pendingChore(t))

	require.ErrorIs(t, err, ledger.ErrMemberNotFound)
	assert.Equal(t, 1, adapter.begins, "non-retryable errors must fail fast")
}

// missingMemberAdapter serves an empty balance result set on every query.
type missingMemberAdapter struct {
	begins int
}

func (a *missingMemberAdapter) Query(_ context.Context, _ string) (adapters.DBRows, error) {
	return &emptyRows{}, nil
}

func (a *missingMemberAdapter) Exec(_ context.Context, _ string) (adapters.DBResult, error) {
	return staticResult{rows: 0}, nil
}

func (a *missingMemberAdapter) Begin(_ context.Context) (adapters.DBTx, error) {
	a.begins++
	return &missingMemberTx{adapter: a}, nil
}

type missingMemberTx struct {
	adapter *missingMemberAdapter
}

func (t *missingMemberTx) Query(_ context.Context, _ string) (adapters.DBRows, error) {
	return &emptyRows{}, nil
}

func (t *missingMemberTx) Exec(_ context.Context, _ string) (adapters.DBResult, error) {
	return staticResult{rows: 0}, nil
}

func (t *missingMemberTx) Commit(_ context.Context) error {
	return nil
}

func (t *missingMemberTx) Rollback(_ context.Context) error {
	return nil
}

type emptyRows struct{}

func (r *emptyRows) Next() bool {
	return false
}

func (r *emptyRows) Scan(_ ...any) error {
	return nil
}

func (r *emptyRows) Close() error {
	return nil
}
