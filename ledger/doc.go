// Package ledger provides the core abstractions and types for an append-only
// points ledger with a denormalized per-member balance projection.
//
// This package defines the fundamental types used across the different ledger
// engine implementations: immutable transactions, the closed set of
// transaction kinds, the balance invariant guard, deterministic fingerprints,
// and common error definitions.
//
// The ledger guarantees:
//   - Transactions are append-only; corrections are new transactions, never edits.
//   - A member's balance always equals the sum of that member's transaction deltas.
//   - Reversal-class transactions are clamped so a balance never goes below zero.
//
// Key types:
//   - Transaction: an immutable record of a single balance-affecting event
//   - PendingTransaction: the validated input to RecordTransaction
//   - FamilySnapshot: a timestamp-free view of a family's balances, input to fingerprinting
//
// Common usage pattern:
//
//	pending, err := ledger.BuildPendingTransaction(
//		memberID, familyID,
//		ledger.KindChoreCompleted, 5, "Took out the trash",
//		ledger.WithSourceID(assignmentID),
//	)
//	if err != nil {
//		// handle error
//	}
//
//	transaction, err := engine.RecordTransaction(ctx, pending)
package ledger
