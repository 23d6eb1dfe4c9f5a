// Package postgresengine provides the PostgreSQL implementation of the points ledger.
//
// This package stores the append-only transaction log and the denormalized
// per-member balances in PostgreSQL, supporting multiple database adapters
// (pgx, sql.DB, sqlx) with atomic operations and concurrency control.
//
// Key features:
//   - Multiple database adapter support (PGX, SQL, SQLX)
//   - Atomic transaction append plus balance update in one database transaction
//   - Guarded compare-and-swap balance writes with bounded retry on conflicts
//   - Cursor-based history pagination that stays stable under concurrent appends
//   - Configurable table names and structured logging
//
// Usage examples:
//
//	// Basic usage
//	db, _ := pgxpool.New(context.Background(), dsn)
//	engine, _ := postgresengine.NewLedgerEngineFromPGXPool(db)
//
//	// With custom tables and logging
//	engine, _ := postgresengine.NewLedgerEngineFromPGXPool(
//		db,
//		postgresengine.WithTransactionsTableName("points_log"),
//		postgresengine.WithLogger(logger),
//	)
//
//	pending, _ := ledger.BuildPendingTransaction(memberID, familyID, ledger.KindChoreCompleted, 5, "dishes")
//	recorded, _ := engine.RecordTransaction(ctx, pending)
//	balance, _ := engine.GetBalance(ctx, memberID)
package postgresengine
