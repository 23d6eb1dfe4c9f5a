package ledger

import (
	"slices"
	"strings"

	"github.com/google/uuid"
)

// MemberBalance is the denormalized balance projection for a single family member.
// It is mutated only as a side effect of appending a Transaction.
type MemberBalance struct {
	MemberID uuid.UUID
	FamilyID uuid.UUID
	Name     string
	Role     string
	Points   PointsInt
}

// FamilySnapshot is a timestamp-free view of a family's membership and balances.
// Members are sorted by member id so the snapshot is order-independent, which
// makes it a valid fingerprint input.
type FamilySnapshot struct {
	FamilyID uuid.UUID
	Members  []MemberBalance
}

// BuildFamilySnapshot is the factory method for FamilySnapshot.
// It copies and sorts the members by member id; the input slice is not modified.
func BuildFamilySnapshot(familyID uuid.UUID, members []MemberBalance) FamilySnapshot {
	sorted := slices.Clone(members)

	slices.SortFunc(sorted, func(a, b MemberBalance) int {
		return strings.Compare(a.MemberID.String(), b.MemberID.String())
	})

	return FamilySnapshot{
		FamilyID: familyID,
		Members:  sorted,
	}
}

// BalanceFor returns the points of the given member and whether the member is part of the snapshot.
func (s FamilySnapshot) BalanceFor(memberID uuid.UUID) (PointsInt, bool) {
	for _, member := range s.Members {
		if member.MemberID == memberID {
			return member.Points, true
		}
	}

	return 0, false
}
