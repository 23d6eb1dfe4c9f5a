// Package adapters provides database adapter implementations for the ledger engine.
//
// The adapters wrap pgxpool.Pool, sql.DB, and sqlx.DB behind a common interface
// so the engine can build and execute its SQL without knowing which driver is
// in use. Unlike plain queries, ledger writes need real database transactions,
// so the adapter interface includes Begin/Commit/Rollback.
package adapters
