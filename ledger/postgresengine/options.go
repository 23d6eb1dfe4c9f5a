package postgresengine

import (
	"github.com/housepoints/ledger-go/ledger"
)

// Option defines a functional option for configuring a LedgerEngine.
type Option func(*LedgerEngine) error

// WithMembersTableName sets the table name holding the per-member balance rows.
func WithMembersTableName(tableName string) Option {
	return func(e *LedgerEngine) error {
		if tableName == "" {
			return ledger.ErrEmptyMembersTableName
		}

		e.membersTableName = tableName

		return nil
	}
}

// WithTransactionsTableName sets the table name holding the append-only transaction rows.
func WithTransactionsTableName(tableName string) Option {
	return func(e *LedgerEngine) error {
		if tableName == "" {
			return ledger.ErrEmptyTransactionsTableName
		}

		e.transactionsTableName = tableName

		return nil
	}
}

// WithLogger sets the logger for the LedgerEngine.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL queries with execution timing (development use)
// Info level: Recorded transactions, clamping, concurrency conflicts (production-safe)
// Warn level: Integrity warnings and non-critical issues like rollback failures
// Error level: Critical failures that cause operation failures.
func WithLogger(logger ledger.Logger) Option {
	return func(e *LedgerEngine) error {
		e.logger = logger
		return nil
	}
}

// WithRetryOptions overrides the backoff behavior used when a balance write
// hits a concurrency conflict. The defaults suit interactive request handling;
// batch jobs may want more attempts with a longer base delay.
func WithRetryOptions(options ...ledger.RetryOption) Option {
	return func(e *LedgerEngine) error {
		e.retryOptions = options
		return nil
	}
}
