package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// TransactionKind identifies the business reason for a balance-affecting event.
// The set of kinds is closed: factory methods reject kinds outside this enumeration
// so an unmapped kind is a build-time error, never a runtime fallthrough.
type TransactionKind string

const (
	KindChoreCompleted   TransactionKind = "ChoreCompleted"
	KindChoreReversed    TransactionKind = "ChoreReversed"
	KindAdjustment       TransactionKind = "Adjustment"
	KindBonusAwarded     TransactionKind = "BonusAwarded"
	KindCashOut          TransactionKind = "CashOut"
	KindPenaltyApplied   TransactionKind = "PenaltyApplied"
	KindRewardRedemption TransactionKind = "RewardRedemption"
)

// AllTransactionKinds lists every member of the closed kind enumeration.
func AllTransactionKinds() []TransactionKind {
	return []TransactionKind{
		KindChoreCompleted,
		KindChoreReversed,
		KindAdjustment,
		KindBonusAwarded,
		KindCashOut,
		KindPenaltyApplied,
		KindRewardRedemption,
	}
}

// IsReversal reports whether the kind's semantic intent is "remove points that
// were previously granted". Only reversal-class kinds are subject to clamping:
// a reversal's intent is always bounded by what was actually given.
func (k TransactionKind) IsReversal() bool {
	return k == KindChoreReversed
}

// ReasonCode maps the kind to the reason code transmitted to the remote scoring service.
// The switch is exhaustive over the closed enumeration; an unknown kind is an error.
func (k TransactionKind) ReasonCode() (string, error) {
	switch k {
	case KindChoreCompleted:
		return "chore_completed", nil
	case KindChoreReversed:
		return "chore_reversed", nil
	case KindAdjustment:
		return "manual_adjustment", nil
	case KindBonusAwarded:
		return "bonus_awarded", nil
	case KindCashOut:
		return "cash_out", nil
	case KindPenaltyApplied:
		return "penalty_applied", nil
	case KindRewardRedemption:
		return "reward_redemption", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTransactionKind, string(k))
	}
}

// isKnown reports whether the kind is a member of the closed enumeration.
func (k TransactionKind) isKnown() bool {
	_, err := k.ReasonCode()
	return err == nil
}

// Transactions is an alias type for a slice of Transaction.
type Transactions = []Transaction

// Transaction is an immutable record of a single balance-affecting event.
//
// Once written it is never mutated or deleted; corrections are new transactions.
// While its properties are exported, engine implementations are the only writers.
type Transaction struct {
	ID               uuid.UUID
	MemberID         uuid.UUID
	FamilyID         uuid.UUID
	SourceID         *uuid.UUID // event source (e.g. chore assignment), nil for manual events
	Kind             TransactionKind
	PointsDelta      PointsInt // the actually-applied delta, after any clamping
	ResultingBalance PointsInt // balance snapshot at write time
	Description      string
	WeekBucket       string
	Fingerprint      string
	MetadataJSON     []byte
	OccurredAt       time.Time
	Clamped          bool
	IntegrityWarning bool
}

// PendingTransaction is the validated input to RecordTransaction.
//
// It should only be constructed with BuildPendingTransaction, which enforces
// the closed kind enumeration and serializes metadata up front.
type PendingTransaction struct {
	MemberID     uuid.UUID
	FamilyID     uuid.UUID
	SourceID     *uuid.UUID
	Kind         TransactionKind
	PointsDelta  PointsInt
	Description  string
	MetadataJSON []byte
	OccurredAt   time.Time
}

// PendingOption defines a functional option for configuring a PendingTransaction.
type PendingOption func(*PendingTransaction) error

// WithSourceID attaches the id of the originating event source, e.g. a chore assignment.
func WithSourceID(sourceID uuid.UUID) PendingOption {
	return func(p *PendingTransaction) error {
		p.SourceID = &sourceID
		return nil
	}
}

// WithMetadata attaches free-form metadata (source, actor, reason) to the transaction.
// The metadata is serialized once, at build time, so a RecordTransaction call can
// never fail on serialization mid-write.
func WithMetadata(metadata map[string]any) PendingOption {
	return func(p *PendingTransaction) error {
		metadataJSON, marshalErr := jsoniter.ConfigFastest.Marshal(metadata)
		if marshalErr != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMetadata, marshalErr)
		}

		p.MetadataJSON = metadataJSON

		return nil
	}
}

// WithOccurredAt overrides the event timestamp (defaults to time.Now at build time).
func WithOccurredAt(occurredAt time.Time) PendingOption {
	return func(p *PendingTransaction) error {
		p.OccurredAt = occurredAt
		return nil
	}
}

// BuildPendingTransaction is the factory method for PendingTransaction.
//
// It validates that the kind belongs to the closed enumeration and applies the
// supplied options. PointsDelta may be positive or negative for any kind; the
// balance invariant guard decides the actually-applied delta at write time.
func BuildPendingTransaction(
	memberID uuid.UUID,
	familyID uuid.UUID,
	kind TransactionKind,
	pointsDelta PointsInt,
	description string,
	options ...PendingOption,
) (PendingTransaction, error) {

	if !kind.isKnown() {
		return PendingTransaction{}, fmt.Errorf("%w: %q", ErrUnknownTransactionKind, string(kind))
	}

	pending := PendingTransaction{
		MemberID:     memberID,
		FamilyID:     familyID,
		Kind:         kind,
		PointsDelta:  pointsDelta,
		Description:  description,
		MetadataJSON: []byte("{}"),
		OccurredAt:   time.Now(),
	}

	for _, option := range options {
		if err := option(&pending); err != nil {
			return PendingTransaction{}, err
		}
	}

	return pending, nil
}

// WeekBucket returns the periodic reporting bucket for a timestamp,
// formatted as the ISO 8601 week, e.g. "2026-W35". Always computed in UTC
// so the bucket is independent of server timezone.
func WeekBucket(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}
