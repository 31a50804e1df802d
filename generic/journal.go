/*
journal.go - Append-only record of balance mutations

PURPOSE:
  Balance rows hold running counters; the journal records every change to
  those counters. A balance can be audited by replaying its entries, and
  the idempotency key on each entry guarantees that one business effect
  (a request's reservation, an approval's settlement, a carryover credit)
  is applied at most once.

APPEND-ONLY CONTRACT:
  Entries are never updated or deleted, except when the owning employee
  is hard-deleted and the cascade removes everything they owned.

IDEMPOTENCY:
  A store rejects an entry whose key already exists with
  ErrDuplicateIdempotencyKey. Callers treat that as a double-application
  fault and roll the surrounding transaction back.

SEE ALSO:
  - leave/ledger.go: Writes entries for every counter mutation
*/
package generic

import (
	"fmt"
	"time"
)

// Bucket identifies which family of balance counters an entry touches.
type Bucket string

const (
	BucketVacation Bucket = "vacation"
	BucketSick     Bucket = "sick"
	BucketPersonal Bucket = "personal"
)

// Field identifies the counter inside a bucket.
type Field string

const (
	FieldTotal     Field = "total"
	FieldUsed      Field = "used"
	FieldPending   Field = "pending"
	FieldCarryover Field = "carryover"
)

// Entry is one signed change to one balance counter.
type Entry struct {
	ID             string
	EmployeeID     string
	Year           int
	Bucket         Bucket
	Field          Field
	Delta          Amount // hours, signed
	ReferenceID    string // request or carryover id
	Reason         string
	IdempotencyKey string
	CreatedBy      string
	CreatedAt      time.Time
}

// IdempotencyKey builds "<kind>:<id>:<action>[:<field>]".
func IdempotencyKey(kind, id, action string, field ...Field) string {
	if len(field) == 0 {
		return fmt.Sprintf("%s:%s:%s", kind, id, action)
	}
	return fmt.Sprintf("%s:%s:%s:%s", kind, id, action, field[0])
}

// SumDeltas totals the deltas of entries matching field.
func SumDeltas(entries []Entry, field Field) Amount {
	total := ZeroHours()
	for _, e := range entries {
		if e.Field == field {
			total = total.Add(e.Delta)
		}
	}
	return total
}
