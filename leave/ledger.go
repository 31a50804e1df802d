/*
ledger.go - Balance Ledger: the only writer of PTOBalance rows

PURPOSE:
  Every change to a balance counter goes through Ledger, inside a store
  transaction, as a locked read-modify-write of the (employee, year) row.
  Each change also appends a journal entry so the row can be audited and
  so the same business effect can never be applied twice.

OPERATIONS:
  GetOrCreate         Lazy zero-initialised row per (employee, year)
  AdjustVacation      used or pending += delta (signed)
  AdjustSickUsed      sick used += delta
  AdjustPersonalUsed  personal used += delta
  MovePendingToUsed   pending -= h; used += h   (approval)
  RemovePending       pending -= h              (denial, cancellation)
  AddCarryover        carryover += h            (carryover approval)
  SetTotal            total = h                 (provisioning)

PAIRING RULE:
  Every pending increment is paired with exactly one MovePendingToUsed or
  RemovePending for the same request. The Request Lifecycle owns that
  pairing; the idempotency keys written here make a second settlement of
  the same request fail instead of corrupting the row.

BALANCE IDENTITY:
  A balance is addressed by BalanceKey (employee, year), which is unique
  in every store. The row's ID is carried for reporting only.
*/
package leave

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/warp/pto-engine/generic"
	"go.uber.org/zap"
)

type BalanceKey struct {
	EmployeeID string
	Year       int
}

func (k BalanceKey) String() string { return fmt.Sprintf("%s/%d", k.EmployeeID, k.Year) }

// Ref describes why a mutation happens. Kind and ReferenceID name the
// owning record, Action names the effect; together they form the journal
// idempotency key. An empty ReferenceID means the mutation is not
// deduplicated.
type Ref struct {
	Kind        string // "pto", "carryover", "provision", "adjustment"
	ReferenceID string
	Action      string // "reserve", "settle", "release", "apply", ...
	Actor       string
	Reason      string
}

type change struct {
	bucket generic.Bucket
	field  generic.Field
	delta  generic.Amount
}

type Ledger struct {
	clock  generic.Clock
	logger *zap.Logger
}

func NewLedger(clock generic.Clock, logger *zap.Logger) *Ledger {
	return &Ledger{clock: clock, logger: logger.Named("leave.ledger")}
}

// GetOrCreate returns the locked balance row, creating a zero row on first
// access.
func (l *Ledger) GetOrCreate(ctx context.Context, tx Tx, key BalanceKey) (*PTOBalance, error) {
	const op = "ledger.get_or_create"
	b, err := tx.LockBalance(ctx, key.EmployeeID, key.Year)
	if err != nil {
		return nil, generic.Internal(op, err)
	}
	if b != nil {
		return b, nil
	}

	b = NewPTOBalance(uuid.NewString(), key.EmployeeID, key.Year, l.clock.Now())
	if err := tx.InsertBalance(ctx, b); err != nil {
		if !errors.Is(err, generic.ErrDuplicate) {
			return nil, generic.Internal(op, err)
		}
		// Lost the insert race; the winner's row is now visible.
		b, err = tx.LockBalance(ctx, key.EmployeeID, key.Year)
		if err != nil || b == nil {
			return nil, generic.Internal(op, fmt.Errorf("balance %s vanished after duplicate insert: %v", key, err))
		}
		return b, nil
	}
	l.logger.Debug("balance created", zap.String("employee_id", key.EmployeeID), zap.Int("year", key.Year))
	return b, nil
}

// AdjustVacation adds delta to vacation pending (pending=true) or used.
func (l *Ledger) AdjustVacation(ctx context.Context, tx Tx, key BalanceKey, delta generic.Amount, pending bool, ref Ref) (*PTOBalance, error) {
	field := generic.FieldUsed
	if pending {
		field = generic.FieldPending
	}
	return l.apply(ctx, tx, key, ref, change{generic.BucketVacation, field, delta})
}

func (l *Ledger) AdjustSickUsed(ctx context.Context, tx Tx, key BalanceKey, delta generic.Amount, ref Ref) (*PTOBalance, error) {
	return l.apply(ctx, tx, key, ref, change{generic.BucketSick, generic.FieldUsed, delta})
}

func (l *Ledger) AdjustPersonalUsed(ctx context.Context, tx Tx, key BalanceKey, delta generic.Amount, ref Ref) (*PTOBalance, error) {
	return l.apply(ctx, tx, key, ref, change{generic.BucketPersonal, generic.FieldUsed, delta})
}

// AdjustUsed dispatches to the bucket's used counter.
func (l *Ledger) AdjustUsed(ctx context.Context, tx Tx, key BalanceKey, bucket generic.Bucket, delta generic.Amount, ref Ref) (*PTOBalance, error) {
	switch bucket {
	case generic.BucketVacation:
		return l.AdjustVacation(ctx, tx, key, delta, false, ref)
	case generic.BucketSick:
		return l.AdjustSickUsed(ctx, tx, key, delta, ref)
	case generic.BucketPersonal:
		return l.AdjustPersonalUsed(ctx, tx, key, delta, ref)
	}
	return nil, generic.Internal("ledger.adjust_used", fmt.Errorf("unknown bucket %q", bucket))
}

// MovePendingToUsed converts reserved vacation hours into used hours.
func (l *Ledger) MovePendingToUsed(ctx context.Context, tx Tx, key BalanceKey, hours generic.Amount, ref Ref) (*PTOBalance, error) {
	return l.apply(ctx, tx, key, ref,
		change{generic.BucketVacation, generic.FieldPending, hours.Neg()},
		change{generic.BucketVacation, generic.FieldUsed, hours},
	)
}

// RemovePending releases reserved vacation hours.
func (l *Ledger) RemovePending(ctx context.Context, tx Tx, key BalanceKey, hours generic.Amount, ref Ref) (*PTOBalance, error) {
	return l.apply(ctx, tx, key, ref, change{generic.BucketVacation, generic.FieldPending, hours.Neg()})
}

// AddCarryover credits hours to the bucket's carryover counter.
func (l *Ledger) AddCarryover(ctx context.Context, tx Tx, key BalanceKey, bucket generic.Bucket, hours generic.Amount, ref Ref) (*PTOBalance, error) {
	return l.apply(ctx, tx, key, ref, change{bucket, generic.FieldCarryover, hours})
}

// SetTotal overwrites the bucket's total, journaling the difference.
func (l *Ledger) SetTotal(ctx context.Context, tx Tx, key BalanceKey, bucket generic.Bucket, hours generic.Amount, ref Ref) (*PTOBalance, error) {
	b, err := l.GetOrCreate(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	delta := hours.Sub(b.Counter(bucket, generic.FieldTotal))
	if delta.IsZero() {
		return b, nil
	}
	return l.applyTo(ctx, tx, b, ref, change{bucket, generic.FieldTotal, delta})
}

func (l *Ledger) apply(ctx context.Context, tx Tx, key BalanceKey, ref Ref, changes ...change) (*PTOBalance, error) {
	b, err := l.GetOrCreate(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	return l.applyTo(ctx, tx, b, ref, changes...)
}

func (l *Ledger) applyTo(ctx context.Context, tx Tx, b *PTOBalance, ref Ref, changes ...change) (*PTOBalance, error) {
	const op = "ledger.apply"
	now := l.clock.Now()

	for _, c := range changes {
		counter, err := b.counter(c.bucket, c.field)
		if err != nil {
			return nil, generic.Internal(op, err)
		}
		next := counter.Add(c.delta)
		if c.field == generic.FieldPending && next.IsNegative() {
			return nil, generic.Internal(op, fmt.Errorf("%s pending for %s/%d would become %s",
				c.bucket, b.EmployeeID, b.Year, next.Value))
		}
		*counter = next

		key := uuid.NewString()
		if ref.ReferenceID != "" {
			key = generic.IdempotencyKey(ref.Kind, ref.ReferenceID, ref.Action, c.field)
		}
		entry := generic.Entry{
			ID:             uuid.NewString(),
			EmployeeID:     b.EmployeeID,
			Year:           b.Year,
			Bucket:         c.bucket,
			Field:          c.field,
			Delta:          c.delta,
			ReferenceID:    ref.ReferenceID,
			Reason:         ref.Reason,
			IdempotencyKey: key,
			CreatedBy:      ref.Actor,
			CreatedAt:      now,
		}
		if err := tx.AppendEntry(ctx, entry); err != nil {
			if errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
				l.logger.Error("balance effect already applied",
					zap.String("idempotency_key", key), zap.String("employee_id", b.EmployeeID))
				return nil, &generic.Error{Kind: generic.KindInvalidState, Op: op,
					Message: fmt.Sprintf("%s already applied", key), Err: err}
			}
			return nil, generic.Internal(op, err)
		}
	}

	b.UpdatedAt = now
	if err := tx.UpdateBalance(ctx, b); err != nil {
		return nil, generic.Internal(op, err)
	}
	return b, nil
}
