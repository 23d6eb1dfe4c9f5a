package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_DecideDelta_ClampsReversalAtZeroFloor(t *testing.T) {
	tests := []struct {
		name            string
		currentBalance  PointsInt
		proposedDelta   PointsInt
		kind            TransactionKind
		wantApplied     PointsInt
		wantBalance     PointsInt
		wantClamped     bool
		wantIntegrity   bool
	}{
		{
			name:           "reversal_within_balance_passes_through",
			currentBalance: 10,
			proposedDelta:  -5,
			kind:           KindChoreReversed,
			wantApplied:    -5,
			wantBalance:    5,
		},
		{
			name:           "reversal_exceeding_balance_is_clamped",
			currentBalance: 3,
			proposedDelta:  -5,
			kind:           KindChoreReversed,
			wantApplied:    -3,
			wantBalance:    0,
			wantClamped:    true,
		},
		{
			name:           "reversal_to_exactly_zero_is_not_clamped",
			currentBalance: 5,
			proposedDelta:  -5,
			kind:           KindChoreReversed,
			wantApplied:    -5,
			wantBalance:    0,
		},
		{
			name:           "reversal_on_zero_balance_is_clamped_to_noop",
			currentBalance: 0,
			proposedDelta:  -5,
			kind:           KindChoreReversed,
			wantApplied:    0,
			wantBalance:    0,
			wantClamped:    true,
		},
		{
			name:           "adjustment_may_drive_balance_negative_with_warning",
			currentBalance: 3,
			proposedDelta:  -10,
			kind:           KindAdjustment,
			wantApplied:    -10,
			wantBalance:    -7,
			wantIntegrity:  true,
		},
		{
			name:           "penalty_may_drive_balance_negative_with_warning",
			currentBalance: 2,
			proposedDelta:  -4,
			kind:           KindPenaltyApplied,
			wantApplied:    -4,
			wantBalance:    -2,
			wantIntegrity:  true,
		},
		{
			name:           "negative_adjustment_within_balance_has_no_warning",
			currentBalance: 10,
			proposedDelta:  -4,
			kind:           KindAdjustment,
			wantApplied:    -4,
			wantBalance:    6,
		},
		{
			name:           "positive_delta_passes_through",
			currentBalance: 0,
			proposedDelta:  5,
			kind:           KindChoreCompleted,
			wantApplied:    5,
			wantBalance:    5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := DecideDelta(tt.currentBalance, tt.proposedDelta, tt.kind)

			assert.Equal(t, tt.wantApplied, decision.AppliedDelta)
			assert.Equal(t, tt.wantBalance, decision.ResultingBalance)
			assert.Equal(t, tt.wantClamped, decision.Clamped)
			assert.Equal(t, tt.wantIntegrity, decision.IntegrityWarning)
		})
	}
}

func Test_ClampedDescription_AnnotatesAppliedAmount(t *testing.T) {
	annotated := ClampedDescription("undo chore", -5, -3)

	assert.Equal(t, "undo chore (clamped from -5 to -3)", annotated)
}
