package ledger

import (
	"errors"
)

var (
	// ErrMemberNotFound is returned when a member id does not resolve to an existing member.
	ErrMemberNotFound = errors.New("member not found")

	// ErrFamilyNotFound is returned when a family id does not resolve to any members.
	ErrFamilyNotFound = errors.New("family not found")

	// ErrStoreFailed is returned when the backing store fails; the whole write is rolled back.
	ErrStoreFailed = errors.New("ledger store operation failed")

	// ErrConcurrencyConflict is returned when a member's balance changed between
	// the read and the guarded write. It is retryable.
	ErrConcurrencyConflict = errors.New("concurrency conflict, balance changed during write")

	// ErrUnknownTransactionKind is returned when a transaction kind outside the closed set is supplied.
	ErrUnknownTransactionKind = errors.New("unknown transaction kind")

	// ErrInvalidMetadata is returned when transaction metadata cannot be serialized to JSON.
	ErrInvalidMetadata = errors.New("transaction metadata is not serializable")

	// ErrBalanceDrift is returned by balance audits when the denormalized balance
	// does not equal the sum of the member's transaction deltas.
	ErrBalanceDrift = errors.New("denormalized balance does not match transaction history")

	// ErrNilDatabaseConnection is returned when a nil database connection is supplied to an engine constructor.
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")

	// ErrEmptyMembersTableName is returned when an empty members table name is supplied via options.
	ErrEmptyMembersTableName = errors.New("members table name must not be empty")

	// ErrEmptyTransactionsTableName is returned when an empty transactions table name is supplied via options.
	ErrEmptyTransactionsTableName = errors.New("transactions table name must not be empty")
)

// PointsInt is a type alias for int, representing a point balance or a signed point delta.
type PointsInt = int
