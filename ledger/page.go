package ledger

import (
	"time"

	"github.com/google/uuid"
)

const defaultPageLimit = 50

// Page is a stateless pagination cursor for transaction history reads.
//
// The cursor is based on the last seen transaction's (occurred_at, id) pair
// rather than an offset, so pagination stays correct under concurrent appends:
// a page never shifts because new transactions were appended ahead of it.
type Page struct {
	AfterOccurredAt time.Time  // zero value means "from the newest transaction"
	AfterID         *uuid.UUID // tie-breaker for transactions sharing a timestamp
	Limit           int
}

// FirstPage returns a cursor for the newest transactions with the given limit.
// A non-positive limit falls back to the default page size.
func FirstPage(limit int) Page {
	if limit <= 0 {
		limit = defaultPageLimit
	}

	return Page{Limit: limit}
}

// Next returns the cursor for the page following the given transactions.
// The second return value is false when the slice is empty, i.e. there is no next page.
func (p Page) Next(transactions Transactions) (Page, bool) {
	if len(transactions) == 0 {
		return Page{}, false
	}

	last := transactions[len(transactions)-1]
	lastID := last.ID

	return Page{
		AfterOccurredAt: last.OccurredAt,
		AfterID:         &lastID,
		Limit:           p.Limit,
	}, true
}
