package leave

import (
	"fmt"
	"time"

	"github.com/warp/pto-engine/generic"
)

// =============================================================================
// PTO BALANCE - One row per (employee, calendar year), all amounts in hours
// =============================================================================

// PTOBalance stores counters only. "Available" is always derived through the
// functions below and never persisted.
type PTOBalance struct {
	ID         string
	EmployeeID string
	Year       int

	VacationTotal     generic.Amount
	VacationUsed      generic.Amount
	VacationPending   generic.Amount
	VacationCarryover generic.Amount

	SickTotal     generic.Amount
	SickUsed      generic.Amount
	SickCarryover generic.Amount

	PersonalTotal     generic.Amount
	PersonalUsed      generic.Amount
	PersonalCarryover generic.Amount

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPTOBalance returns a zero-initialised balance.
func NewPTOBalance(id, employeeID string, year int, now time.Time) *PTOBalance {
	z := generic.ZeroHours()
	return &PTOBalance{
		ID: id, EmployeeID: employeeID, Year: year,
		VacationTotal: z, VacationUsed: z, VacationPending: z, VacationCarryover: z,
		SickTotal: z, SickUsed: z, SickCarryover: z,
		PersonalTotal: z, PersonalUsed: z, PersonalCarryover: z,
		CreatedAt: now, UpdatedAt: now,
	}
}

// =============================================================================
// DERIVED AVAILABILITY - The one definition every caller uses
// =============================================================================

// AvailableVacation = total + carryover - used - pending.
func AvailableVacation(b PTOBalance) generic.Amount {
	return b.VacationTotal.Add(b.VacationCarryover).Sub(b.VacationUsed).Sub(b.VacationPending)
}

// AvailableSick = total + carryover - used.
func AvailableSick(b PTOBalance) generic.Amount {
	return b.SickTotal.Add(b.SickCarryover).Sub(b.SickUsed)
}

// AvailablePersonal = total + carryover - used.
func AvailablePersonal(b PTOBalance) generic.Amount {
	return b.PersonalTotal.Add(b.PersonalCarryover).Sub(b.PersonalUsed)
}

// Available dispatches on bucket.
func Available(b PTOBalance, bucket generic.Bucket) generic.Amount {
	switch bucket {
	case generic.BucketVacation:
		return AvailableVacation(b)
	case generic.BucketSick:
		return AvailableSick(b)
	case generic.BucketPersonal:
		return AvailablePersonal(b)
	}
	return generic.ZeroHours()
}

// counter returns a pointer to the named field, or an error when the bucket
// does not track that field (only vacation has pending).
func (b *PTOBalance) counter(bucket generic.Bucket, field generic.Field) (*generic.Amount, error) {
	switch bucket {
	case generic.BucketVacation:
		switch field {
		case generic.FieldTotal:
			return &b.VacationTotal, nil
		case generic.FieldUsed:
			return &b.VacationUsed, nil
		case generic.FieldPending:
			return &b.VacationPending, nil
		case generic.FieldCarryover:
			return &b.VacationCarryover, nil
		}
	case generic.BucketSick:
		switch field {
		case generic.FieldTotal:
			return &b.SickTotal, nil
		case generic.FieldUsed:
			return &b.SickUsed, nil
		case generic.FieldCarryover:
			return &b.SickCarryover, nil
		}
	case generic.BucketPersonal:
		switch field {
		case generic.FieldTotal:
			return &b.PersonalTotal, nil
		case generic.FieldUsed:
			return &b.PersonalUsed, nil
		case generic.FieldCarryover:
			return &b.PersonalCarryover, nil
		}
	}
	return nil, fmt.Errorf("%s balance has no %s counter", bucket, field)
}

// Counter reads one counter without mutating.
func (b PTOBalance) Counter(bucket generic.Bucket, field generic.Field) generic.Amount {
	c, err := b.counter(bucket, field)
	if err != nil {
		return generic.ZeroHours()
	}
	return *c
}

// UnusedHours is what a carryover can draw from: the same formula as
// available for the bucket.
func UnusedHours(b PTOBalance, bucket generic.Bucket) generic.Amount {
	return Available(b, bucket)
}
