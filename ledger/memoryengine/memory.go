package memoryengine

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/housepoints/ledger-go/ledger"
)

const (
	logMsgTransactionRecorded = "transaction recorded"
	logMsgIntegrityWarning    = "non-reversal transaction drove balance negative"
	logMsgDeltaClamped        = "reversal delta clamped to balance floor"
	logAttrMemberID           = "member_id"
	logAttrKind               = "kind"
	logAttrRequestedDelta     = "requested_delta"
	logAttrAppliedDelta       = "applied_delta"
	logAttrResultingBalance   = "resulting_balance"
)

type memberRecord struct {
	familyID uuid.UUID
	name     string
	role     string
	points   ledger.PointsInt
	seed     ledger.PointsInt // starting balance, the audit baseline
}

// LedgerEngine is the in-memory implementation of the points ledger, intended
// for tests and local development. It provides the same operation surface and
// guard semantics as the Postgres engine without a database.
//
// Concurrency control uses a per-member mutex held across the whole
// read-decide-write sequence, so concurrent writers to the same member are
// serialized instead of conflicting. Writers to different members only
// contend on the short map accesses guarded by the engine-wide mutex, never
// on each other's read-decide-write.
type LedgerEngine struct {
	mu           sync.RWMutex // guards the maps themselves, held only per access
	members      map[uuid.UUID]memberRecord
	transactions map[uuid.UUID]ledger.Transactions

	memberLocks map[uuid.UUID]*sync.Mutex // per-member write locks
	lockMapMu   sync.Mutex                // protects memberLocks itself

	logger ledger.Logger
}

// Option defines a functional option for configuring the in-memory LedgerEngine.
type Option func(*LedgerEngine) error

// WithLogger sets the logger for the in-memory LedgerEngine.
func WithLogger(logger ledger.Logger) Option {
	return func(e *LedgerEngine) error {
		e.logger = logger
		return nil
	}
}

// NewLedgerEngine creates an empty in-memory LedgerEngine with optional configuration.
func NewLedgerEngine(options ...Option) (*LedgerEngine, error) {
	engine := &LedgerEngine{
		members:      make(map[uuid.UUID]memberRecord),
		transactions: make(map[uuid.UUID]ledger.Transactions),
		memberLocks:  make(map[uuid.UUID]*sync.Mutex),
	}

	for _, option := range options {
		if err := option(engine); err != nil {
			return nil, err
		}
	}

	return engine, nil
}

// AddMember seeds a member with a starting balance. It replaces any existing
// record for the same member id, so tests can reset state between cases.
func (e *LedgerEngine) AddMember(memberID uuid.UUID, familyID uuid.UUID, name string, role string, points ledger.PointsInt) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.members[memberID] = memberRecord{
		familyID: familyID,
		name:     name,
		role:     role,
		points:   points,
		seed:     points,
	}

	delete(e.transactions, memberID)
}

func (e *LedgerEngine) memberLock(memberID uuid.UUID) *sync.Mutex {
	e.lockMapMu.Lock()
	defer e.lockMapMu.Unlock()

	if _, exists := e.memberLocks[memberID]; !exists {
		e.memberLocks[memberID] = &sync.Mutex{}
	}

	return e.memberLocks[memberID]
}

// RecordTransaction appends one immutable transaction and updates the member's
// balance under the member's write lock. The balance invariant guard decides
// the applied delta exactly as the Postgres engine does.
func (e *LedgerEngine) RecordTransaction(ctx context.Context, pending ledger.PendingTransaction) (
	ledger.Transaction,
	error,
) {

	if err := ctx.Err(); err != nil {
		return ledger.Transaction{}, err
	}

	// The member lock serializes the whole read-decide-write for one member;
	// the balance read below stays valid until the write under the same lock.
	lock := e.memberLock(pending.MemberID)
	lock.Lock()
	defer lock.Unlock()

	e.mu.RLock()
	member, exists := e.members[pending.MemberID]
	e.mu.RUnlock()

	if !exists || member.familyID != pending.FamilyID {
		return ledger.Transaction{}, ledger.ErrMemberNotFound
	}

	decision := ledger.DecideDelta(member.points, pending.PointsDelta, pending.Kind)

	description := pending.Description
	if decision.Clamped {
		description = ledger.ClampedDescription(description, pending.PointsDelta, decision.AppliedDelta)
	}

	recorded := ledger.Transaction{
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

	member.points = decision.ResultingBalance

	e.mu.Lock()
	e.members[pending.MemberID] = member
	e.transactions[pending.MemberID] = append(e.transactions[pending.MemberID], recorded)
	e.mu.Unlock()

	e.logRecorded(pending, decision)

	return recorded, nil
}

func (e *LedgerEngine) logRecorded(pending ledger.PendingTransaction, decision ledger.GuardDecision) {
	if e.logger == nil {
		return
	}

	e.logger.Info(
		logMsgTransactionRecorded,
		logAttrMemberID, pending.MemberID.String(),
		logAttrKind, string(pending.Kind),
		logAttrAppliedDelta, decision.AppliedDelta,
		logAttrResultingBalance, decision.ResultingBalance,
	)

	if decision.Clamped {
		e.logger.Info(
			logMsgDeltaClamped,
			logAttrMemberID, pending.MemberID.String(),
			logAttrRequestedDelta, pending.PointsDelta,
			logAttrAppliedDelta, decision.AppliedDelta,
		)
	}

	if decision.IntegrityWarning {
		e.logger.Warn(
			logMsgIntegrityWarning,
			logAttrMemberID, pending.MemberID.String(),
			logAttrKind, string(pending.Kind),
			logAttrResultingBalance, decision.ResultingBalance,
		)
	}
}

// GetBalance returns the member's current balance.
func (e *LedgerEngine) GetBalance(ctx context.Context, memberID uuid.UUID) (ledger.PointsInt, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	member, exists := e.members[memberID]
	if !exists {
		return 0, ledger.ErrMemberNotFound
	}

	return member.points, nil
}

// GetHistory returns the member's transactions newest first, using the same
// (occurred_at, id) cursor contract as the Postgres engine.
func (e *LedgerEngine) GetHistory(ctx context.Context, memberID uuid.UUID, page ledger.Page) (
	ledger.Transactions,
	error,
) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, exists := e.members[memberID]; !exists {
		return nil, ledger.ErrMemberNotFound
	}

	limit := page.Limit
	if limit <= 0 {
		limit = ledger.FirstPage(0).Limit
	}

	all := make(ledger.Transactions, len(e.transactions[memberID]))
	copy(all, e.transactions[memberID])

	sort.Slice(all, func(i, j int) bool {
		if !all[i].OccurredAt.Equal(all[j].OccurredAt) {
			return all[i].OccurredAt.After(all[j].OccurredAt)
		}

		return all[i].ID.String() > all[j].ID.String()
	})

	result := make(ledger.Transactions, 0, limit)

	for _, transaction := range all {
		if page.AfterID != nil && !page.AfterOccurredAt.IsZero() {
			afterCursor := transaction.OccurredAt.Before(page.AfterOccurredAt) ||
				(transaction.OccurredAt.Equal(page.AfterOccurredAt) && transaction.ID.String() < page.AfterID.String())
			if !afterCursor {
				continue
			}
		}

		result = append(result, transaction)
		if len(result) == limit {
			break
		}
	}

	return result, nil
}

// FamilyBalances returns the timestamp-free balance snapshot for a family,
// members sorted by member id.
func (e *LedgerEngine) FamilyBalances(ctx context.Context, familyID uuid.UUID) (ledger.FamilySnapshot, error) {
	if err := ctx.Err(); err != nil {
		return ledger.FamilySnapshot{}, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	members := make([]ledger.MemberBalance, 0)

	for memberID, member := range e.members {
		if member.familyID != familyID {
			continue
		}

		members = append(members, ledger.MemberBalance{
			MemberID: memberID,
			FamilyID: familyID,
			Name:     member.name,
			Role:     member.role,
			Points:   member.points,
		})
	}

	if len(members) == 0 {
		return ledger.FamilySnapshot{}, ledger.ErrFamilyNotFound
	}

	return ledger.BuildFamilySnapshot(familyID, members), nil
}

// VerifyBalance recomputes the sum of the member's transaction deltas and
// compares it with the tracked balance.
func (e *LedgerEngine) VerifyBalance(ctx context.Context, memberID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	member, exists := e.members[memberID]
	if !exists {
		return ledger.ErrMemberNotFound
	}

	deltaSum := member.seed
	for _, transaction := range e.transactions[memberID] {
		deltaSum += transaction.PointsDelta
	}

	if deltaSum != member.points {
		return errors.Join(
			ledger.ErrBalanceDrift,
			errors.New("balance "+strconv.Itoa(member.points)+" vs transaction delta sum "+strconv.Itoa(deltaSum)),
		)
	}

	return nil
}
