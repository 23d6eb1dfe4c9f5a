package memoryengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/housepoints/ledger-go/ledger"
)

func newEngineWithMember(t *testing.T, points ledger.PointsInt) (*LedgerEngine, uuid.UUID, uuid.UUID) {
	t.Helper()

	engine, err := NewLedgerEngine()
	require.NoError(t, err)

	familyID := uuid.New()
	memberID := uuid.New()
	engine.AddMember(memberID, familyID, "Ada", "child", points)

	return engine, familyID, memberID
}

func record(
	t *testing.T,
	engine *LedgerEngine,
	memberID uuid.UUID,
	familyID uuid.UUID,
	kind ledger.TransactionKind,
	delta ledger.PointsInt,
	description string,
	options ...ledger.PendingOption,
) ledger.Transaction {

	t.Helper()

	pending, err := ledger.BuildPendingTransaction(memberID, familyID, kind, delta, description, options...)
	require.NoError(t, err)

	recorded, err := engine.RecordTransaction(context.Background(), pending)
	require.NoError(t, err)

	return recorded
}

func Test_LedgerEngine_RecordTransaction_AppendsAndUpdatesBalance(t *testing.T) {
	engine, familyID, memberID := newEngineWithMember(t, 0)

	recorded := record(t, engine, memberID, familyID, ledger.KindChoreCompleted, 5, "dishes")

	assert.Equal(t, 5, recorded.PointsDelta)
	assert.Equal(t, 5, recorded.ResultingBalance)
	assert.False(t, recorded.Clamped)
	assert.False(t, recorded.IntegrityWarning)
	assert.NotEmpty(t, recorded.Fingerprint)
	assert.NotEmpty(t, recorded.WeekBucket)

	balance, err := engine.GetBalance(context.Background(), memberID)
	require.NoError(t, err)
	assert.Equal(t, 5, balance)
}

func Test_LedgerEngine_RecordTransaction_UnknownMember(t *testing.T) {
	engine, familyID, _ := newEngineWithMember(t, 0)

	pending, err := ledger.BuildPendingTransaction(uuid.New(), familyID, ledger.KindChoreCompleted, 5, "dishes")
	require.NoError(t, err)

	_, err = engine.RecordTransaction(context.Background(), pending)
	assert.ErrorIs(t, err, ledger.ErrMemberNotFound)
}

func Test_LedgerEngine_RecordTransaction_WrongFamilyIsNotFound(t *testing.T) {
	engine, _, memberID := newEngineWithMember(t, 0)

	pending, err := ledger.BuildPendingTransaction(memberID, uuid.New(), ledger.KindChoreCompleted, 5, "dishes")
	require.NoError(t, err)

	_, err = engine.RecordTransaction(context.Background(), pending)
	assert.ErrorIs(t, err, ledger.ErrMemberNotFound)
}

// The full lifecycle: earn, earn, reverse more than was left, adjust below
// zero. Along the way the balance always equals the sum of applied deltas.
func Test_LedgerEngine_ScenarioChain_ClampAndIntegrityWarning(t *testing.T) {
	engine, familyID, memberID := newEngineWithMember(t, 0)
	ctx := context.Background()

	record(t, engine, memberID, familyID, ledger.KindChoreCompleted, 5, "dishes")
	record(t, engine, memberID, familyID, ledger.KindChoreCompleted, 3, "laundry")

	// Reversing 5 from balance 8 passes through unclamped.
	reversal := record(t, engine, memberID, familyID, ledger.KindChoreReversed, -5, "undo dishes")
	assert.False(t, reversal.Clamped)
	assert.Equal(t, 3, reversal.ResultingBalance)

	// Reversing 5 from balance 3 clamps at the zero floor.
	clamped := record(t, engine, memberID, familyID, ledger.KindChoreReversed, -5, "undo laundry")
	assert.True(t, clamped.Clamped)
	assert.Equal(t, -3, clamped.PointsDelta)
	assert.Equal(t, 0, clamped.ResultingBalance)
	assert.Contains(t, clamped.Description, "clamped from -5 to -3")

	// A manual adjustment is never clamped; going negative is flagged instead.
	record(t, engine, memberID, familyID, ledger.KindBonusAwarded, 3, "good week")
	adjusted := record(t, engine, memberID, familyID, ledger.KindAdjustment, -10, "correction")
	assert.False(t, adjusted.Clamped)
	assert.True(t, adjusted.IntegrityWarning)
	assert.Equal(t, -7, adjusted.ResultingBalance)

	balance, err := engine.GetBalance(ctx, memberID)
	require.NoError(t, err)
	assert.Equal(t, -7, balance)

	assert.NoError(t, engine.VerifyBalance(ctx, memberID))
}

func Test_LedgerEngine_VerifyBalance_HonorsSeededStartingBalance(t *testing.T) {
	engine, familyID, memberID := newEngineWithMember(t, 10)
	ctx := context.Background()

	record(t, engine, memberID, familyID, ledger.KindCashOut, -4, "allowance payout")

	assert.NoError(t, engine.VerifyBalance(ctx, memberID))
	assert.ErrorIs(t, engine.VerifyBalance(ctx, uuid.New()), ledger.ErrMemberNotFound)
}

func Test_LedgerEngine_ConcurrentWrites_LoseNoUpdates(t *testing.T) {
	engine, familyID, memberID := newEngineWithMember(t, 0)
	ctx := context.Background()

	const writers = 32
	var wg sync.WaitGroup
	wg.Add(writers)

	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()

			pending, err := ledger.BuildPendingTransaction(
				memberID, familyID, ledger.KindChoreCompleted, 1, "chore",
			)
			assert.NoError(t, err)

			_, err = engine.RecordTransaction(ctx, pending)
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	balance, err := engine.GetBalance(ctx, memberID)
	require.NoError(t, err)
	assert.Equal(t, writers, balance)
	assert.NoError(t, engine.VerifyBalance(ctx, memberID))
}

func Test_LedgerEngine_ConcurrentWrites_DifferentMembersDoNotBlock(t *testing.T) {
	engine, err := NewLedgerEngine()
	require.NoError(t, err)

	familyID := uuid.New()
	blockedMember := uuid.New()
	freeMember := uuid.New()
	engine.AddMember(blockedMember, familyID, "Alice", "child", 0)
	engine.AddMember(freeMember, familyID, "Bob", "child", 0)

	ctx := context.Background()

	// Holding one member's write lock must not stall writers to another member.
	engine.memberLock(blockedMember).Lock()
	defer engine.memberLock(blockedMember).Unlock()

	done := make(chan error, 1)
	go func() {
		pending, buildErr := ledger.BuildPendingTransaction(
			freeMember, familyID, ledger.KindChoreCompleted, 5, "chore",
		)
		if buildErr != nil {
			done <- buildErr
			return
		}

		_, recordErr := engine.RecordTransaction(ctx, pending)
		done <- recordErr
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("write to an unrelated member did not complete")
	}

	balance, err := engine.GetBalance(ctx, freeMember)
	require.NoError(t, err)
	assert.Equal(t, 5, balance)
}

func Test_LedgerEngine_GetHistory_NewestFirstWithCursor(t *testing.T) {
	engine, familyID, memberID := newEngineWithMember(t, 0)
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		record(
			t, engine, memberID, familyID, ledger.KindChoreCompleted, 1, "chore",
			ledger.WithOccurredAt(base.Add(time.Duration(i)*time.Minute)),
		)
	}

	firstPage, err := engine.GetHistory(ctx, memberID, ledger.FirstPage(2))
	require.NoError(t, err)
	require.Len(t, firstPage, 2)
	assert.True(t, firstPage[0].OccurredAt.After(firstPage[1].OccurredAt))

	cursor, hasNext := ledger.FirstPage(2).Next(firstPage)
	require.True(t, hasNext)

	secondPage, err := engine.GetHistory(ctx, memberID, cursor)
	require.NoError(t, err)
	require.Len(t, secondPage, 2)
	assert.True(t, firstPage[1].OccurredAt.After(secondPage[0].OccurredAt))

	cursor, hasNext = cursor.Next(secondPage)
	require.True(t, hasNext)

	lastPage, err := engine.GetHistory(ctx, memberID, cursor)
	require.NoError(t, err)
	assert.Len(t, lastPage, 1)
}

func Test_LedgerEngine_GetHistory_UnknownMember(t *testing.T) {
	engine, _, _ := newEngineWithMember(t, 0)

	_, err := engine.GetHistory(context.Background(), uuid.New(), ledger.FirstPage(10))
	assert.ErrorIs(t, err, ledger.ErrMemberNotFound)
}

func Test_LedgerEngine_FamilyBalances_SortedSnapshot(t *testing.T) {
	engine, err := NewLedgerEngine()
	require.NoError(t, err)

	familyID := uuid.New()
	memberA := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	memberB := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	engine.AddMember(memberB, familyID, "Bert", "parent", 3)
	engine.AddMember(memberA, familyID, "Ada", "child", 12)
	engine.AddMember(uuid.New(), uuid.New(), "Stranger", "child", 99)

	snapshot, err := engine.FamilyBalances(context.Background(), familyID)
	require.NoError(t, err)

	require.Len(t, snapshot.Members, 2)
	assert.Equal(t, memberA, snapshot.Members[0].MemberID)
	assert.Equal(t, memberB, snapshot.Members[1].MemberID)

	_, err = engine.FamilyBalances(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ledger.ErrFamilyNotFound)
}
