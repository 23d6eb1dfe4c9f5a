package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // driver import
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/housepoints/ledger-go/ledger"
	"github.com/housepoints/ledger-go/ledger/postgresengine/internal/adapters"
)

const (
	defaultMembersTableName      = "family_members"
	defaultTransactionsTableName = "point_transactions"

	logMsgBuildQueryFailed      = "failed to build sql query"
	logMsgBeginTxFailed         = "failed to begin database transaction"
	logMsgDBQueryFailed         = "database query execution failed"
	logMsgDBExecFailed          = "database execution failed during ledger write"
	logMsgCloseRowsFailed       = "failed to close database rows"
	logMsgScanRowFailed         = "failed to scan database row"
	logMsgRollbackFailed        = "failed to roll back database transaction"
	logMsgCommitFailed          = "failed to commit database transaction"
	logMsgRowsAffectedFailed    = "failed to get rows affected count"
	logMsgConcurrencyConflict   = "concurrency conflict detected on balance update"
	logMsgTransactionRecorded   = "transaction recorded"
	logMsgIntegrityWarning      = "non-reversal transaction drove balance negative"
	logMsgDeltaClamped          = "reversal delta clamped to balance floor"
	logMsgBalanceDriftDetected  = "balance drift detected during audit"
	logMsgSQLExecuted           = "executed sql for: "
	logMsgOperation             = "ledger operation: "
	logAttrError                = "error"
	logAttrQuery                = "query"
	logAttrMemberID             = "member_id"
	logAttrFamilyID             = "family_id"
	logAttrKind                 = "kind"
	logAttrRequestedDelta       = "requested_delta"
	logAttrAppliedDelta         = "applied_delta"
	logAttrResultingBalance     = "resulting_balance"
	logAttrExpectedBalance      = "expected_balance"
	logAttrDurationMS           = "duration_ms"
	logAttrRetryAttempts        = "retry_attempts"
	logActionRecord             = "record transaction"
	logActionGetBalance         = "get balance"
	logActionGetHistory         = "get history"
	logActionFamilyBalances     = "family balances"
	logActionVerifyBalance      = "verify balance"
	colID                       = "id"
	colMemberID                 = "member_id"
	colFamilyID                 = "family_id"
	colSourceID                 = "source_id"
	colKind                     = "kind"
	colPointsDelta              = "points_delta"
	colResultingBalance         = "resulting_balance"
	colDescription              = "description"
	colWeekBucket               = "week_bucket"
	colFingerprint              = "fingerprint"
	colMetadata                 = "metadata"
	colOccurredAt               = "occurred_at"
	colClamped                  = "clamped"
	colIntegrityWarning         = "integrity_warning"
	colName                     = "name"
	colRole                     = "role"
	colPoints                   = "points"
	dialectPostgres             = "postgres"
	castJsonb                   = "?::jsonb"
	aliasDeltaSum               = "delta_sum"
)

type sqlQueryString = string

// LedgerEngine is the Postgres-backed ledger: an append-only transaction table
// plus the denormalized per-member balance column on the members table.
//
// The read-modify-write of a member's balance runs inside one database
// transaction with a guarded compare-and-swap update: the balance row is only
// updated when it still holds the value that was read. Zero affected rows
// means another writer got there first; the whole write is rolled back and
// surfaces as ledger.ErrConcurrencyConflict, which RecordTransaction retries
// with exponential backoff.
type LedgerEngine struct {
	db                    adapters.DBAdapter
	membersTableName      string
	transactionsTableName string
	logger                ledger.Logger
	retryOptions          []ledger.RetryOption
}

// NewLedgerEngineFromPGXPool creates a new LedgerEngine using a pgx pool with optional configuration.
func NewLedgerEngineFromPGXPool(db *pgxpool.Pool, options ...Option) (LedgerEngine, error) {
	if db == nil {
		return LedgerEngine{}, ledger.ErrNilDatabaseConnection
	}

	return newLedgerEngine(adapters.NewPGXAdapter(db), options...)
}

// NewLedgerEngineFromSQLDB creates a new LedgerEngine using a sql.DB with optional configuration.
func NewLedgerEngineFromSQLDB(db *sql.DB, options ...Option) (LedgerEngine, error) {
	if db == nil {
		return LedgerEngine{}, ledger.ErrNilDatabaseConnection
	}

	return newLedgerEngine(adapters.NewSQLAdapter(db), options...)
}

// NewLedgerEngineFromSQLX creates a new LedgerEngine using a sqlx.DB with optional configuration.
func NewLedgerEngineFromSQLX(db *sqlx.DB, options ...Option) (LedgerEngine, error) {
	if db == nil {
		return LedgerEngine{}, ledger.ErrNilDatabaseConnection
	}

	return newLedgerEngine(adapters.NewSQLXAdapter(db), options...)
}

func newLedgerEngine(db adapters.DBAdapter, options ...Option) (LedgerEngine, error) {
	engine := LedgerEngine{
		db:                    db,
		membersTableName:      defaultMembersTableName,
		transactionsTableName: defaultTransactionsTableName,
	}

	for _, option := range options {
		if err := option(&engine); err != nil {
			return LedgerEngine{}, err
		}
	}

	return engine, nil
}

// RecordTransaction appends one immutable transaction row and updates the
// member's denormalized balance in the same database transaction.
//
// The balance invariant guard decides the actually-applied delta: reversal
// kinds are clamped at a floor of zero, all other kinds pass through and are
// flagged with IntegrityWarning when the resulting balance is negative.
// Returns the written transaction including the final (possibly clamped)
// delta and resulting balance.
func (e LedgerEngine) RecordTransaction(ctx context.Context, pending ledger.PendingTransaction) (
	ledger.Transaction,
	error,
) {

	var recorded ledger.Transaction

	metrics, err := ledger.RetryWithExponentialBackoff(ctx, func(retryCtx context.Context) error {
		var execErr error
		recorded, execErr = e.executeRecord(retryCtx, pending)

		return execErr
	}, e.retryOptions...)

	if err != nil {
		return ledger.Transaction{}, err
	}

	e.logOperation(
		logMsgTransactionRecorded,
		logAttrMemberID, recorded.MemberID.String(),
		logAttrKind, string(recorded.Kind),
		logAttrAppliedDelta, recorded.PointsDelta,
		logAttrResultingBalance, recorded.ResultingBalance,
		logAttrRetryAttempts, metrics.Attempts,
	)

	return recorded, nil
}

// executeRecord contains the single-attempt write logic that can be retried.
func (e LedgerEngine) executeRecord(ctx context.Context, pending ledger.PendingTransaction) (
	ledger.Transaction,
	error,
) {

	var empty ledger.Transaction

	tx, beginErr := e.db.Begin(ctx)
	if beginErr != nil {
		e.logError(logMsgBeginTxFailed, beginErr)
		return empty, errors.Join(ledger.ErrStoreFailed, beginErr)
	}

	currentBalance, readErr := e.readBalanceForUpdate(ctx, tx, pending.MemberID, pending.FamilyID)
	if readErr != nil {
		e.rollback(ctx, tx)
		return empty, readErr
	}

	decision := ledger.DecideDelta(currentBalance, pending.PointsDelta, pending.Kind)
	recorded := e.buildTransaction(pending, decision)

	if casErr := e.applyBalanceUpdate(ctx, tx, pending.MemberID, currentBalance, decision.ResultingBalance); casErr != nil {
		e.rollback(ctx, tx)
		return empty, casErr
	}

	if insertErr := e.insertTransactionRow(ctx, tx, recorded); insertErr != nil {
		e.rollback(ctx, tx)
		return empty, insertErr
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		e.logError(logMsgCommitFailed, commitErr)
		return empty, errors.Join(ledger.ErrStoreFailed, commitErr)
	}

	if decision.Clamped {
		e.logOperation(
			logMsgDeltaClamped,
			logAttrMemberID, pending.MemberID.String(),
			logAttrRequestedDelta, pending.PointsDelta,
			logAttrAppliedDelta, decision.AppliedDelta,
		)
	}

	if decision.IntegrityWarning && e.logger != nil {
		e.logger.Warn(
			logMsgIntegrityWarning,
			logAttrMemberID, pending.MemberID.String(),
			logAttrKind, string(pending.Kind),
			logAttrResultingBalance, decision.ResultingBalance,
		)
	}

	return recorded, nil
}

// buildTransaction materializes the immutable transaction record from the
// pending input and the guard decision. The persisted delta and description
// reflect the clamped amount - the record never claims to have applied more
// than it did.
func (e LedgerEngine) buildTransaction(pending ledger.PendingTransaction, decision ledger.GuardDecision) ledger.Transaction {
	description := pending.Description
	if decision.Clamped {
		description = ledger.ClampedDescription(description, pending.PointsDelta, decision.AppliedDelta)
	}

	return ledger.Transaction{
		ID:               uuid.New(),
		MemberID:         pending.MemberID,
		FamilyID:         pending.FamilyID,
		SourceID:         pending.SourceID,
		Kind:             pending.Kind,
		PointsDelta:      decision.AppliedDelta,
		ResultingBalance: decision.ResultingBalance,
		Description:      description,
		WeekBucket:       ledger.WeekBucket(pending.OccurredAt),
		Fingerprint: ledger.TransactionFingerprint(
			pending.MemberID,
			pending.FamilyID,
			pending.SourceID,
			pending.Kind,
			decision.AppliedDelta,
			description,
		),
		MetadataJSON:     pending.MetadataJSON,
		OccurredAt:       pending.OccurredAt,
		Clamped:          decision.Clamped,
		IntegrityWarning: decision.IntegrityWarning,
	}
}

// readBalanceForUpdate reads the member's current balance inside the transaction.
// The value read here is the compare value of the guarded update that follows.
func (e LedgerEngine) readBalanceForUpdate(
	ctx context.Context,
	tx adapters.DBTx,
	memberID uuid.UUID,
	familyID uuid.UUID,
) (ledger.PointsInt, error) {

	sqlQuery, buildErr := e.buildSelectBalanceQuery(memberID, familyID)
	if buildErr != nil {
		return 0, buildErr
	}

	start := time.Now()
	rows, queryErr := tx.Query(ctx, sqlQuery)
	e.logQueryWithDuration(sqlQuery, logActionRecord, time.Since(start))

	if queryErr != nil {
		e.logError(logMsgDBQueryFailed, queryErr)
		return 0, errors.Join(ledger.ErrStoreFailed, queryErr)
	}
	defer e.closeRows(rows)

	if !rows.Next() {
		return 0, ledger.ErrMemberNotFound
	}

	var currentBalance int
	if scanErr := rows.Scan(&currentBalance); scanErr != nil {
		e.logError(logMsgScanRowFailed, scanErr)
		return 0, errors.Join(ledger.ErrStoreFailed, scanErr)
	}

	return currentBalance, nil
}

// applyBalanceUpdate performs the guarded compare-and-swap update of the balance row.
func (e LedgerEngine) applyBalanceUpdate(
	ctx context.Context,
	tx adapters.DBTx,
	memberID uuid.UUID,
	expectedBalance ledger.PointsInt,
	newBalance ledger.PointsInt,
) error {

	sqlQuery, buildErr := e.buildBalanceUpdateQuery(memberID, expectedBalance, newBalance)
	if buildErr != nil {
		return buildErr
	}

	start := time.Now()
	result, execErr := tx.Exec(ctx, sqlQuery)
	e.logQueryWithDuration(sqlQuery, logActionRecord, time.Since(start))

	if execErr != nil {
		e.logError(logMsgDBExecFailed, execErr)
		return errors.Join(ledger.ErrStoreFailed, execErr)
	}

	rowsAffected, rowsAffectedErr := result.RowsAffected()
	if rowsAffectedErr != nil {
		e.logError(logMsgRowsAffectedFailed, rowsAffectedErr)
		return errors.Join(ledger.ErrStoreFailed, rowsAffectedErr)
	}

	if rowsAffected == 0 {
		e.logOperation(
			logMsgConcurrencyConflict,
			logAttrMemberID, memberID.String(),
			logAttrExpectedBalance, expectedBalance,
		)

		return ledger.ErrConcurrencyConflict
	}

	return nil
}

// insertTransactionRow appends the immutable transaction record.
func (e LedgerEngine) insertTransactionRow(ctx context.Context, tx adapters.DBTx, transaction ledger.Transaction) error {
	sqlQuery, buildErr := e.buildInsertTransactionQuery(transaction)
	if buildErr != nil {
		return buildErr
	}

	start := time.Now()
	_, execErr := tx.Exec(ctx, sqlQuery)
	e.logQueryWithDuration(sqlQuery, logActionRecord, time.Since(start))

	if execErr != nil {
		e.logError(logMsgDBExecFailed, execErr)
		return errors.Join(ledger.ErrStoreFailed, execErr)
	}

	return nil
}

// GetBalance returns the member's denormalized balance for fast reads.
func (e LedgerEngine) GetBalance(ctx context.Context, memberID uuid.UUID) (ledger.PointsInt, error) {
	sqlQuery, buildErr := e.buildSelectBalanceQuery(memberID, uuid.Nil)
	if buildErr != nil {
		return 0, buildErr
	}

	start := time.Now()
	rows, queryErr := e.db.Query(ctx, sqlQuery)
	e.logQueryWithDuration(sqlQuery, logActionGetBalance, time.Since(start))

	if queryErr != nil {
		e.logError(logMsgDBQueryFailed, queryErr)
		return 0, errors.Join(ledger.ErrStoreFailed, queryErr)
	}
	defer e.closeRows(rows)

	if !rows.Next() {
		return 0, ledger.ErrMemberNotFound
	}

	var balance int
	if scanErr := rows.Scan(&balance); scanErr != nil {
		e.logError(logMsgScanRowFailed, scanErr)
		return 0, errors.Join(ledger.ErrStoreFailed, scanErr)
	}

	return balance, nil
}

// GetHistory returns the member's transactions, newest first.
//
// Pagination uses a stateless (occurred_at, id) cursor instead of an offset,
// so pages remain correct while new transactions are appended concurrently.
func (e LedgerEngine) GetHistory(ctx context.Context, memberID uuid.UUID, page ledger.Page) (
	ledger.Transactions,
	error,
) {

	sqlQuery, buildErr := e.buildSelectHistoryQuery(memberID, page)
	if buildErr != nil {
		return nil, buildErr
	}

	start := time.Now()
	rows, queryErr := e.db.Query(ctx, sqlQuery)
	e.logQueryWithDuration(sqlQuery, logActionGetHistory, time.Since(start))

	if queryErr != nil {
		e.logError(logMsgDBQueryFailed, queryErr)
		return nil, errors.Join(ledger.ErrStoreFailed, queryErr)
	}
	defer e.closeRows(rows)

	return e.scanTransactionRows(rows)
}

// FamilyBalances returns the timestamp-free balance snapshot for a family,
// members sorted by member id. This is the local input to reconciliation.
func (e LedgerEngine) FamilyBalances(ctx context.Context, familyID uuid.UUID) (ledger.FamilySnapshot, error) {
	var empty ledger.FamilySnapshot

	sqlQuery, buildErr := e.buildSelectFamilyQuery(familyID)
	if buildErr != nil {
		return empty, buildErr
	}

	start := time.Now()
	rows, queryErr := e.db.Query(ctx, sqlQuery)
	e.logQueryWithDuration(sqlQuery, logActionFamilyBalances, time.Since(start))

	if queryErr != nil {
		e.logError(logMsgDBQueryFailed, queryErr)
		return empty, errors.Join(ledger.ErrStoreFailed, queryErr)
	}
	defer e.closeRows(rows)

	members := make([]ledger.MemberBalance, 0)

	for rows.Next() {
		var memberIDRaw, familyIDRaw, name, role string
		var points int

		if scanErr := rows.Scan(&memberIDRaw, &familyIDRaw, &name, &role, &points); scanErr != nil {
			e.logError(logMsgScanRowFailed, scanErr)
			return empty, errors.Join(ledger.ErrStoreFailed, scanErr)
		}

		memberID, parseErr := uuid.Parse(memberIDRaw)
		if parseErr != nil {
			e.logError(logMsgScanRowFailed, parseErr)
			return empty, errors.Join(ledger.ErrStoreFailed, parseErr)
		}

		members = append(members, ledger.MemberBalance{
			MemberID: memberID,
			FamilyID: familyID,
			Name:     name,
			Role:     role,
			Points:   points,
		})
	}

	if len(members) == 0 {
		return empty, ledger.ErrFamilyNotFound
	}

	return ledger.BuildFamilySnapshot(familyID, members), nil
}

// VerifyBalance is the audit check: it recomputes the sum of the member's
// transaction deltas and compares it with the denormalized balance.
// Not part of the hot path; meant for a periodic audit job.
func (e LedgerEngine) VerifyBalance(ctx context.Context, memberID uuid.UUID) error {
	balance, balanceErr := e.GetBalance(ctx, memberID)
	if balanceErr != nil {
		return balanceErr
	}

	sqlQuery, buildErr := e.buildSumDeltasQuery(memberID)
	if buildErr != nil {
		return buildErr
	}

	start := time.Now()
	rows, queryErr := e.db.Query(ctx, sqlQuery)
	e.logQueryWithDuration(sqlQuery, logActionVerifyBalance, time.Since(start))

	if queryErr != nil {
		e.logError(logMsgDBQueryFailed, queryErr)
		return errors.Join(ledger.ErrStoreFailed, queryErr)
	}
	defer e.closeRows(rows)

	var deltaSum int
	if rows.Next() {
		if scanErr := rows.Scan(&deltaSum); scanErr != nil {
			e.logError(logMsgScanRowFailed, scanErr)
			return errors.Join(ledger.ErrStoreFailed, scanErr)
		}
	}

	if deltaSum != balance {
		e.logOperation(
			logMsgBalanceDriftDetected,
			logAttrMemberID, memberID.String(),
			logAttrResultingBalance, balance,
			aliasDeltaSum, deltaSum,
		)

		return errors.Join(
			ledger.ErrBalanceDrift,
			errors.New("balance "+strconv.Itoa(balance)+" vs transaction delta sum "+strconv.Itoa(deltaSum)),
		)
	}

	return nil
}

/*** query building ***/

func (e LedgerEngine) buildSelectBalanceQuery(memberID uuid.UUID, familyID uuid.UUID) (sqlQueryString, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(e.membersTableName).
		Select(colPoints).
		Where(goqu.Ex{colMemberID: memberID.String()})

	// The family id is checked too when supplied, so a member id from a
	// different family cannot be written against.
	if familyID != uuid.Nil {
		selectStmt = selectStmt.Where(goqu.Ex{colFamilyID: familyID.String()})
	}

	return e.toSQL(selectStmt.ToSQL())
}

func (e LedgerEngine) buildBalanceUpdateQuery(
	memberID uuid.UUID,
	expectedBalance ledger.PointsInt,
	newBalance ledger.PointsInt,
) (sqlQueryString, error) {

	updateStmt := goqu.Dialect(dialectPostgres).
		Update(e.membersTableName).
		Set(goqu.Record{colPoints: newBalance}).
		Where(goqu.Ex{
			colMemberID: memberID.String(),
			colPoints:   expectedBalance,
		})

	return e.toSQL(updateStmt.ToSQL())
}

func (e LedgerEngine) buildInsertTransactionQuery(transaction ledger.Transaction) (sqlQueryString, error) {
	row := goqu.Record{
		colID:               transaction.ID.String(),
		colMemberID:         transaction.MemberID.String(),
		colFamilyID:         transaction.FamilyID.String(),
		colKind:             string(transaction.Kind),
		colPointsDelta:      transaction.PointsDelta,
		colResultingBalance: transaction.ResultingBalance,
		colDescription:      transaction.Description,
		colWeekBucket:       transaction.WeekBucket,
		colFingerprint:      transaction.Fingerprint,
		colMetadata:         goqu.L(castJsonb, string(transaction.MetadataJSON)),
		colOccurredAt:       transaction.OccurredAt,
		colClamped:          transaction.Clamped,
		colIntegrityWarning: transaction.IntegrityWarning,
	}

	if transaction.SourceID != nil {
		row[colSourceID] = transaction.SourceID.String()
	} else {
		row[colSourceID] = nil
	}

	insertStmt := goqu.Dialect(dialectPostgres).
		Insert(e.transactionsTableName).
		Rows(row)

	return e.toSQL(insertStmt.ToSQL())
}

func (e LedgerEngine) buildSelectHistoryQuery(memberID uuid.UUID, page ledger.Page) (sqlQueryString, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = ledger.FirstPage(0).Limit
	}

	selectStmt := goqu.Dialect(dialectPostgres).
		From(e.transactionsTableName).
		Select(
			colID, colMemberID, colFamilyID, colSourceID, colKind,
			colPointsDelta, colResultingBalance, colDescription, colWeekBucket,
			colFingerprint, colMetadata, colOccurredAt, colClamped, colIntegrityWarning,
		).
		Where(goqu.Ex{colMemberID: memberID.String()}).
		Order(goqu.I(colOccurredAt).Desc(), goqu.I(colID).Desc()).
		Limit(uint(limit))

	if page.AfterID != nil && !page.AfterOccurredAt.IsZero() {
		selectStmt = selectStmt.Where(
			goqu.Or(
				goqu.C(colOccurredAt).Lt(page.AfterOccurredAt),
				goqu.And(
					goqu.C(colOccurredAt).Eq(page.AfterOccurredAt),
					goqu.C(colID).Lt(page.AfterID.String()),
				),
			),
		)
	}

	return e.toSQL(selectStmt.ToSQL())
}

func (e LedgerEngine) buildSelectFamilyQuery(familyID uuid.UUID) (sqlQueryString, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(e.membersTableName).
		Select(colMemberID, colFamilyID, colName, colRole, colPoints).
		Where(goqu.Ex{colFamilyID: familyID.String()}).
		Order(goqu.I(colMemberID).Asc())

	return e.toSQL(selectStmt.ToSQL())
}

func (e LedgerEngine) buildSumDeltasQuery(memberID uuid.UUID) (sqlQueryString, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(e.transactionsTableName).
		Select(goqu.COALESCE(goqu.SUM(colPointsDelta), 0).As(aliasDeltaSum)).
		Where(goqu.Ex{colMemberID: memberID.String()})

	return e.toSQL(selectStmt.ToSQL())
}

func (e LedgerEngine) toSQL(sqlQuery string, _ []any, toSQLErr error) (sqlQueryString, error) {
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return "", errors.Join(ledger.ErrStoreFailed, toSQLErr)
	}

	return sqlQuery, nil
}

/*** row scanning ***/

func (e LedgerEngine) scanTransactionRows(rows adapters.DBRows) (ledger.Transactions, error) {
	transactions := make(ledger.Transactions, 0)

	for rows.Next() {
		var idRaw, memberIDRaw, familyIDRaw, kind, description, weekBucket, fingerprint string
		var sourceIDRaw sql.NullString
		var pointsDelta, resultingBalance int
		var metadata []byte
		var occurredAt time.Time
		var clamped, integrityWarning bool

		scanErr := rows.Scan(
			&idRaw, &memberIDRaw, &familyIDRaw, &sourceIDRaw, &kind,
			&pointsDelta, &resultingBalance, &description, &weekBucket,
			&fingerprint, &metadata, &occurredAt, &clamped, &integrityWarning,
		)
		if scanErr != nil {
			e.logError(logMsgScanRowFailed, scanErr)
			return nil, errors.Join(ledger.ErrStoreFailed, scanErr)
		}

		transaction, buildErr := buildTransactionFromRow(
			idRaw, memberIDRaw, familyIDRaw, sourceIDRaw, kind,
			pointsDelta, resultingBalance, description, weekBucket,
			fingerprint, metadata, occurredAt, clamped, integrityWarning,
		)
		if buildErr != nil {
			e.logError(logMsgScanRowFailed, buildErr)
			return nil, errors.Join(ledger.ErrStoreFailed, buildErr)
		}

		transactions = append(transactions, transaction)
	}

	return transactions, nil
}

func buildTransactionFromRow(
	idRaw string,
	memberIDRaw string,
	familyIDRaw string,
	sourceIDRaw sql.NullString,
	kind string,
	pointsDelta int,
	resultingBalance int,
	description string,
	weekBucket string,
	fingerprint string,
	metadata []byte,
	occurredAt time.Time,
	clamped bool,
	integrityWarning bool,
) (ledger.Transaction, error) {

	id, err := uuid.Parse(idRaw)
	if err != nil {
		return ledger.Transaction{}, err
	}

	memberID, err := uuid.Parse(memberIDRaw)
	if err != nil {
		return ledger.Transaction{}, err
	}

	familyID, err := uuid.Parse(familyIDRaw)
	if err != nil {
		return ledger.Transaction{}, err
	}

	var sourceID *uuid.UUID
	if sourceIDRaw.Valid {
		parsed, parseErr := uuid.Parse(sourceIDRaw.String)
		if parseErr != nil {
			return ledger.Transaction{}, parseErr
		}
		sourceID = &parsed
	}

	return ledger.Transaction{
		ID:               id,
		MemberID:         memberID,
		FamilyID:         familyID,
		SourceID:         sourceID,
		Kind:             ledger.TransactionKind(kind),
		PointsDelta:      pointsDelta,
		ResultingBalance: resultingBalance,
		Description:      description,
		WeekBucket:       weekBucket,
		Fingerprint:      fingerprint,
		MetadataJSON:     metadata,
		OccurredAt:       occurredAt,
		Clamped:          clamped,
		IntegrityWarning: integrityWarning,
	}, nil
}

/*** logging helpers ***/

// rollback safely rolls back a database transaction and logs any errors.
func (e LedgerEngine) rollback(ctx context.Context, tx adapters.DBTx) {
	if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
		if e.logger != nil {
			e.logger.Warn(logMsgRollbackFailed, logAttrError, rollbackErr.Error())
		}
	}
}

// closeRows safely closes database rows and logs any errors.
func (e LedgerEngine) closeRows(rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		if e.logger != nil {
			e.logger.Warn(logMsgCloseRowsFailed, logAttrError, closeErr.Error())
		}
	}
}

// logQueryWithDuration logs SQL queries with execution time at debug level if the logger is configured.
func (e LedgerEngine) logQueryWithDuration(sqlQuery string, action string, duration time.Duration) {
	if e.logger != nil {
		e.logger.Debug(logMsgSQLExecuted+action, logAttrDurationMS, durationToMilliseconds(duration), logAttrQuery, sqlQuery)
	}
}

// logOperation logs operational information at info level if the logger is configured.
func (e LedgerEngine) logOperation(action string, args ...any) {
	if e.logger != nil {
		e.logger.Info(logMsgOperation+action, args...)
	}
}

// logError logs critical failures at error level if the logger is configured.
func (e LedgerEngine) logError(msg string, err error) {
	if e.logger != nil {
		e.logger.Error(msg, logAttrError, err.Error())
	}
}

// durationToMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func durationToMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
