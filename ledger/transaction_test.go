package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func Test_BuildPendingTransaction_RejectsUnknownKind(t *testing.T) {
	_, err := BuildPendingTransaction(uuid.New(), uuid.New(), TransactionKind("Teleportation"), 5, "never")

	assert.ErrorIs(t, err, ErrUnknownTransactionKind)
}

func Test_BuildPendingTransaction_AppliesOptions(t *testing.T) {
	sourceID := uuid.New()
	occurredAt := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	pending, err := BuildPendingTransaction(
		uuid.New(), uuid.New(), KindChoreCompleted, 5, "dishes",
		WithSourceID(sourceID),
		WithMetadata(map[string]any{"actor": "parent"}),
		WithOccurredAt(occurredAt),
	)

	assert.NoError(t, err)
	assert.Equal(t, &sourceID, pending.SourceID)
	assert.JSONEq(t, `{"actor":"parent"}`, string(pending.MetadataJSON))
	assert.Equal(t, occurredAt, pending.OccurredAt)
}

func Test_BuildPendingTransaction_DefaultsMetadataAndTimestamp(t *testing.T) {
	before := time.Now()

	pending, err := BuildPendingTransaction(uuid.New(), uuid.New(), KindBonusAwarded, 10, "good week")

	assert.NoError(t, err)
	assert.Nil(t, pending.SourceID)
	assert.Equal(t, "{}", string(pending.MetadataJSON))
	assert.False(t, pending.OccurredAt.Before(before))
}

func Test_TransactionKind_ReasonCode_CoversClosedEnumeration(t *testing.T) {
	for _, kind := range AllTransactionKinds() {
		reasonCode, err := kind.ReasonCode()

		assert.NoError(t, err)
		assert.NotEmpty(t, reasonCode)
	}
}

func Test_TransactionKind_ReasonCode_UnknownKindIsAnError(t *testing.T) {
	_, err := TransactionKind("Unknown").ReasonCode()

	assert.ErrorIs(t, err, ErrUnknownTransactionKind)
}

func Test_TransactionKind_IsReversal_OnlyForChoreReversed(t *testing.T) {
	for _, kind := range AllTransactionKinds() {
		assert.Equal(t, kind == KindChoreReversed, kind.IsReversal())
	}
}

func Test_WeekBucket_UsesISOWeekInUTC(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{
			name: "midyear",
			at:   time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
			want: "2026-W35",
		},
		{
			name: "january_first_belongs_to_previous_iso_year",
			at:   time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
			want: "2026-W53",
		},
		{
			// Local monday morning that is still sunday in UTC: the bucket
			// follows UTC, not the server timezone.
			name: "timezone_does_not_shift_the_bucket",
			at:   time.Date(2026, 8, 31, 0, 30, 0, 0, time.FixedZone("UTC+14", 14*3600)),
			want: "2026-W35",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WeekBucket(tt.at))
		})
	}
}
