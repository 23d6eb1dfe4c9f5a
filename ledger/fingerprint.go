package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// Fingerprints are deterministic digests of semantic content, used both as
// idempotency keys for remote delivery and as "has anything changed" detectors.
//
// The digest is SHA-256 over a canonical jsoniter serialization (fixed field
// order, members sorted by id, no timestamps), hex-encoded and truncated to
// 128 bits. For the expected volume of tens of thousands of families the
// birthday-bound collision probability is about (10^5)^2 / 2^129 ≈ 3e-29,
// which is negligible; truncation exists only to keep the header value short.
const (
	fingerprintPrefix = "sha256:"
	fingerprintHexLen = 32 // 128 bits retained out of 256
)

// snapshotDigest is the canonical fingerprint projection of a FamilySnapshot.
// Field order is fixed by the struct; it must never gain timestamp fields.
type snapshotDigest struct {
	FamilyID    string         `json:"family_id"`
	MemberCount int            `json:"member_count"`
	Members     []memberDigest `json:"members"`
}

type memberDigest struct {
	MemberID string `json:"member_id"`
	Points   int    `json:"points"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// transactionDigest is the canonical fingerprint projection of a single
// transaction's semantic fields. Timestamps are deliberately absent.
type transactionDigest struct {
	MemberID    string `json:"member_id"`
	FamilyID    string `json:"family_id"`
	SourceID    string `json:"source_id"`
	Kind        string `json:"kind"`
	PointsDelta int    `json:"points_delta"`
	Description string `json:"description"`
}

// SnapshotFingerprint produces a stable digest of a family's membership and balances.
//
// Identical semantic input always yields an identical fingerprint; any change
// to a member's balance, name, or role changes it. The snapshot's member order
// does not matter: members are re-sorted by id before serialization.
//
// Fingerprinting never fails: on a serialization error the deterministic
// FallbackFingerprint is returned instead.
func SnapshotFingerprint(snapshot FamilySnapshot) string {
	sorted := BuildFamilySnapshot(snapshot.FamilyID, snapshot.Members)

	digest := snapshotDigest{
		FamilyID:    sorted.FamilyID.String(),
		MemberCount: len(sorted.Members),
		Members:     make([]memberDigest, 0, len(sorted.Members)),
	}

	for _, member := range sorted.Members {
		digest.Members = append(digest.Members, memberDigest{
			MemberID: member.MemberID.String(),
			Points:   member.Points,
			Name:     member.Name,
			Role:     member.Role,
		})
	}

	canonical, marshalErr := jsoniter.ConfigFastest.Marshal(digest)
	if marshalErr != nil {
		return FallbackFingerprint(snapshot.FamilyID, len(snapshot.Members))
	}

	return hashToFingerprint(canonical)
}

// TransactionFingerprint produces a stable digest of a single transaction's
// semantic fields, used for replay-safe delivery to the remote system.
// The event timestamp is excluded on purpose: a retried delivery of the same
// semantic event must carry the same fingerprint.
func TransactionFingerprint(
	memberID uuid.UUID,
	familyID uuid.UUID,
	sourceID *uuid.UUID,
	kind TransactionKind,
	pointsDelta PointsInt,
	description string,
) string {

	digest := transactionDigest{
		MemberID:    memberID.String(),
		FamilyID:    familyID.String(),
		Kind:        string(kind),
		PointsDelta: pointsDelta,
		Description: description,
	}

	if sourceID != nil {
		digest.SourceID = sourceID.String()
	}

	canonical, marshalErr := jsoniter.ConfigFastest.Marshal(digest)
	if marshalErr != nil {
		return FallbackFingerprint(familyID, 1)
	}

	return hashToFingerprint(canonical)
}

// pushDigest is the canonical fingerprint projection of one absolute-balance
// push to the remote system.
type pushDigest struct {
	FamilyID string `json:"family_id"`
	MemberID string `json:"member_id"`
	Points   int    `json:"points"`
	Reason   string `json:"reason"`
}

// PushFingerprint produces a stable digest of one absolute-balance push.
// A retried delivery of the same balance carries the same fingerprint, which
// is what lets the remote side detect replays.
func PushFingerprint(familyID uuid.UUID, memberID uuid.UUID, points PointsInt, reason string) string {
	digest := pushDigest{
		FamilyID: familyID.String(),
		MemberID: memberID.String(),
		Points:   points,
		Reason:   reason,
	}

	canonical, marshalErr := jsoniter.ConfigFastest.Marshal(digest)
	if marshalErr != nil {
		return FallbackFingerprint(familyID, 1)
	}

	return hashToFingerprint(canonical)
}

// FallbackFingerprint is the deterministic degraded fingerprint, derived from
// only the most essential identifying fields. Callers are never blocked by a
// fingerprinting failure, but the fallback is still reproducible from the
// same degraded input.
func FallbackFingerprint(familyID uuid.UUID, memberCount int) string {
	return hashToFingerprint(fmt.Appendf(nil, "fallback:%s:%d", familyID.String(), memberCount))
}

func hashToFingerprint(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return fingerprintPrefix + hex.EncodeToString(sum[:])[:fingerprintHexLen]
}
