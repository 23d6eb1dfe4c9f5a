package ledger

import (
	"fmt"
)

// GuardDecision is the outcome of the balance invariant guard for a single write.
//
// AppliedDelta is the delta that must be persisted; when Clamped is true it
// differs from the requested delta and the transaction's description must be
// annotated accordingly - the record must never claim to have applied more
// than it did.
type GuardDecision struct {
	AppliedDelta     PointsInt
	ResultingBalance PointsInt
	Clamped          bool
	IntegrityWarning bool
}

// DecideDelta is the balance invariant guard: pure decision logic embedded in
// every engine's write path.
//
// Rule: clamp only for reversal-class kinds, flooring the balance at exactly 0.
// All other kinds pass the delta through unchanged even if it drives the
// balance negative; that case is flagged as IntegrityWarning instead.
// Silently clamping a manual adjustment or penalty would hide operator error;
// clamping a reversal is safe because its intent ("undo what I gave") is
// always bounded by what was actually given.
func DecideDelta(currentBalance PointsInt, proposedDelta PointsInt, kind TransactionKind) GuardDecision {
	proposed := currentBalance + proposedDelta

	if kind.IsReversal() && proposed < 0 {
		return GuardDecision{
			AppliedDelta:     -currentBalance,
			ResultingBalance: 0,
			Clamped:          true,
		}
	}

	return GuardDecision{
		AppliedDelta:     proposedDelta,
		ResultingBalance: proposed,
		IntegrityWarning: !kind.IsReversal() && proposed < 0,
	}
}

// ClampedDescription annotates a transaction description with the clamp that was applied,
// so the persisted record reflects the actually-applied amount.
func ClampedDescription(description string, requestedDelta PointsInt, appliedDelta PointsInt) string {
	return fmt.Sprintf("%s (clamped from %d to %d)", description, requestedDelta, appliedDelta)
}
