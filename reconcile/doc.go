// Package reconcile compares the local points ledger with the remote
// leaderboard and resolves divergence.
//
// A reconciliation run fetches both balance snapshots, compares their
// fingerprints, and short-circuits when they match. On divergence the
// per-member discrepancies are computed and, depending on the mode, either
// just reported (compare), pushed onto the remote side (force_local), or
// adopted locally through corrective adjustment transactions (force_remote).
// The local ledger stays append-only in every mode.
package reconcile
