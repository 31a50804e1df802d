/*
carryover.go - Carryover Workflow: year N unused hours -> year N+1 carryover

STATES:
  pending --approve(hours_approved <= hours_requested)--> approved
          --deny-------------------------------------------> denied

BALANCE EFFECT:
  Approval (manager or automatic) adds hours_approved to the carryover
  counter of the to_year (= from_year + 1) balance for the leave type's
  bucket. The from_year balance is not touched.

DOUBLE APPLICATION:
  Guarded twice. The carryover row is locked and must be pending, and the
  journal entry uses the key carryover:<id>:apply:carryover, which a store
  accepts only once.

CAP:
  policy.max_carryover_hours is advisory. Exceeding it yields a warning
  on submission and approval; it is never enforced.
*/
package leave

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/pto-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// TYPES
// =============================================================================

type CarryoverStatus string

const (
	CarryoverPending  CarryoverStatus = "pending"
	CarryoverApproved CarryoverStatus = "approved"
	CarryoverDenied   CarryoverStatus = "denied"
)

func ParseCarryoverStatus(s string) (CarryoverStatus, error) {
	st := CarryoverStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case CarryoverPending, CarryoverApproved, CarryoverDenied:
		return st, nil
	}
	return "", fmt.Errorf("unknown carryover status %q", s)
}

type CarryoverRequest struct {
	ID             string
	EmployeeID     string
	LeaveTypeID    string
	FromYear       int
	ToYear         int
	HoursRequested generic.Amount
	HoursApproved  *generic.Amount // nil until decided
	Status         CarryoverStatus
	EmployeeNotes  string
	ManagerNotes   string
	ApprovedBy     string
	ApprovedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// held is what the request currently claims against from_year's unused hours.
func (c CarryoverRequest) held() generic.Amount {
	switch c.Status {
	case CarryoverApproved:
		if c.HoursApproved != nil {
			return *c.HoursApproved
		}
	case CarryoverPending:
		return c.HoursRequested
	}
	return generic.ZeroHours()
}

type SubmitCarryoverInput struct {
	EmployeeID     string
	LeaveTypeID    string
	HoursRequested generic.Amount
	FromYear       int
	Notes          string
}

type CarryoverResult struct {
	Carryover *CarryoverRequest
	Balance   *PTOBalance // target-year balance when applied
	Warnings  []generic.Warning
}

// =============================================================================
// CARRYOVER SERVICE
// =============================================================================

type CarryoverService struct {
	store    Store
	resolver *Resolver
	ledger   *Ledger
	clock    generic.Clock
	logger   *zap.Logger
}

func NewCarryoverService(store Store, resolver *Resolver, ledger *Ledger, clock generic.Clock, logger *zap.Logger) *CarryoverService {
	return &CarryoverService{
		store:    store,
		resolver: resolver,
		ledger:   ledger,
		clock:    clock,
		logger:   logger.Named("leave.carryover"),
	}
}

// Submit validates against the from_year balance and either leaves the
// request pending or, for privileged employees, approves it in full.
func (s *CarryoverService) Submit(ctx context.Context, actor ActingUser, in SubmitCarryoverInput) (*CarryoverResult, error) {
	const op = "carryover.submit"
	if actor.ID != in.EmployeeID && !actor.IsPrivileged() {
		return nil, generic.Unauthorized(op, "%s may not submit carryover for %s", actor.ID, in.EmployeeID)
	}
	if !in.HoursRequested.IsPositive() {
		return nil, generic.PolicyViolation(op, "hours requested must be positive")
	}

	var result *CarryoverResult
	err := s.store.WithTx(ctx, func(tx Tx) error {
		emp, lt, bucket, err := s.load(ctx, tx, op, in.EmployeeID, in.LeaveTypeID)
		if err != nil {
			return err
		}

		from, err := s.ledger.GetOrCreate(ctx, tx, BalanceKey{EmployeeID: emp.ID, Year: in.FromYear})
		if err != nil {
			return err
		}
		held, err := heldCarryover(ctx, tx, emp.ID, lt.ID, in.FromYear, "")
		if err != nil {
			return generic.Internal(op, err)
		}
		unused := UnusedHours(*from, bucket).Sub(held)
		if !unused.IsPositive() {
			return generic.PolicyViolation(op, "no unused %s hours left in %d", bucket, in.FromYear)
		}
		if in.HoursRequested.GreaterThan(unused) {
			return generic.PolicyViolation(op, "requested %s hours exceeds %s unused hours in %d",
				in.HoursRequested.Value, unused.Value, in.FromYear)
		}

		warnings, err := s.capWarnings(ctx, tx, *emp, *lt, in.HoursRequested)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		cr := &CarryoverRequest{
			ID:             uuid.NewString(),
			EmployeeID:     emp.ID,
			LeaveTypeID:    lt.ID,
			FromYear:       in.FromYear,
			ToYear:         in.FromYear + 1,
			HoursRequested: in.HoursRequested,
			Status:         CarryoverPending,
			EmployeeNotes:  strings.TrimSpace(in.Notes),
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		var target *PTOBalance
		if IsPrivileged(emp.Role) {
			target, err = s.apply(ctx, tx, cr, bucket, in.HoursRequested, ActingUser{ID: emp.ID, Role: emp.Role}, "")
			if err != nil {
				return err
			}
		}
		if err := tx.SaveCarryover(ctx, cr); err != nil {
			return generic.Internal(op, err)
		}
		result = &CarryoverResult{Carryover: cr, Balance: target, Warnings: warnings}
		return nil
	})
	if err != nil {
		s.logFailure(op, err, zap.String("employee_id", in.EmployeeID))
		return nil, err
	}
	s.logger.Info("carryover submitted",
		zap.String("carryover_id", result.Carryover.ID),
		zap.String("employee_id", result.Carryover.EmployeeID),
		zap.String("status", string(result.Carryover.Status)),
		zap.String("hours", result.Carryover.HoursRequested.Value.String()),
	)
	return result, nil
}

// Approve grants hoursApproved (at most the requested hours) and credits the
// target year's carryover.
func (s *CarryoverService) Approve(ctx context.Context, actor ActingUser, carryoverID string, hoursApproved generic.Amount, notes string) (*CarryoverResult, error) {
	const op = "carryover.approve"
	if !actor.IsPrivileged() {
		return nil, generic.Unauthorized(op, "role %s may not approve carryover", actor.Role)
	}
	if !hoursApproved.IsPositive() {
		return nil, generic.PolicyViolation(op, "hours approved must be positive")
	}

	var result *CarryoverResult
	err := s.store.WithTx(ctx, func(tx Tx) error {
		cr, err := s.lockPending(ctx, tx, op, carryoverID)
		if err != nil {
			return err
		}
		if hoursApproved.GreaterThan(cr.HoursRequested) {
			return generic.PolicyViolation(op, "approved %s hours exceeds the %s requested",
				hoursApproved.Value, cr.HoursRequested.Value)
		}
		emp, lt, bucket, err := s.load(ctx, tx, op, cr.EmployeeID, cr.LeaveTypeID)
		if err != nil {
			return err
		}

		// The from-year balance may have been spent since submission.
		from, err := s.ledger.GetOrCreate(ctx, tx, BalanceKey{EmployeeID: cr.EmployeeID, Year: cr.FromYear})
		if err != nil {
			return err
		}
		held, err := heldCarryover(ctx, tx, cr.EmployeeID, cr.LeaveTypeID, cr.FromYear, cr.ID)
		if err != nil {
			return generic.Internal(op, err)
		}
		if unused := UnusedHours(*from, bucket).Sub(held); hoursApproved.GreaterThan(unused) {
			return generic.PolicyViolation(op, "approving %s hours exceeds %s unused %s hours left in %d",
				hoursApproved.Value, unused.Value, bucket, cr.FromYear)
		}

		warnings, err := s.capWarnings(ctx, tx, *emp, *lt, hoursApproved)
		if err != nil {
			return err
		}
		target, err := s.apply(ctx, tx, cr, bucket, hoursApproved, actor, notes)
		if err != nil {
			return err
		}
		if err := tx.SaveCarryover(ctx, cr); err != nil {
			return generic.Internal(op, err)
		}
		result = &CarryoverResult{Carryover: cr, Balance: target, Warnings: warnings}
		return nil
	})
	if err != nil {
		s.logFailure(op, err, zap.String("carryover_id", carryoverID), zap.String("actor", actor.ID))
		return nil, err
	}
	s.logger.Info("carryover approved",
		zap.String("carryover_id", carryoverID),
		zap.String("approver", actor.ID),
		zap.String("hours_approved", hoursApproved.Value.String()),
	)
	return result, nil
}

// Deny closes a pending carryover with no balance effect.
func (s *CarryoverService) Deny(ctx context.Context, actor ActingUser, carryoverID, notes string) (*CarryoverResult, error) {
	const op = "carryover.deny"
	if !actor.IsPrivileged() {
		return nil, generic.Unauthorized(op, "role %s may not deny carryover", actor.Role)
	}

	var result *CarryoverResult
	err := s.store.WithTx(ctx, func(tx Tx) error {
		cr, err := s.lockPending(ctx, tx, op, carryoverID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		cr.Status = CarryoverDenied
		cr.ManagerNotes = strings.TrimSpace(notes)
		cr.ApprovedBy = actor.ID
		cr.ApprovedAt = &now
		cr.UpdatedAt = now
		if err := tx.SaveCarryover(ctx, cr); err != nil {
			return generic.Internal(op, err)
		}
		result = &CarryoverResult{Carryover: cr}
		return nil
	})
	if err != nil {
		s.logFailure(op, err, zap.String("carryover_id", carryoverID), zap.String("actor", actor.ID))
		return nil, err
	}
	s.logger.Info("carryover denied", zap.String("carryover_id", carryoverID), zap.String("denier", actor.ID))
	return result, nil
}

func (s *CarryoverService) Get(ctx context.Context, id string) (*CarryoverRequest, error) {
	const op = "carryover.get"
	cr, err := s.store.GetCarryover(ctx, id)
	if err != nil {
		return nil, generic.Internal(op, err)
	}
	if cr == nil {
		return nil, generic.NotFound(op, "carryover request %s not found", id)
	}
	return cr, nil
}

func (s *CarryoverService) List(ctx context.Context, filter CarryoverFilter) ([]CarryoverRequest, error) {
	list, err := s.store.ListCarryovers(ctx, filter)
	if err != nil {
		return nil, generic.Internal("carryover.list", err)
	}
	return list, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// apply credits the target year and marks the request approved.
func (s *CarryoverService) apply(ctx context.Context, tx Tx, cr *CarryoverRequest, bucket generic.Bucket,
	hours generic.Amount, approver ActingUser, notes string) (*PTOBalance, error) {
	target, err := s.ledger.AddCarryover(ctx, tx, BalanceKey{EmployeeID: cr.EmployeeID, Year: cr.ToYear}, bucket, hours,
		Ref{Kind: "carryover", ReferenceID: cr.ID, Action: "apply", Actor: approver.ID,
			Reason: fmt.Sprintf("carryover from %d", cr.FromYear)})
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	approved := hours
	cr.Status = CarryoverApproved
	cr.HoursApproved = &approved
	cr.ApprovedBy = approver.ID
	cr.ApprovedAt = &now
	cr.UpdatedAt = now
	if n := strings.TrimSpace(notes); n != "" {
		cr.ManagerNotes = n
	}
	return target, nil
}

// heldCarryover sums the hours pending or approved carryover requests hold
// against one leave type's from-year balance. excludeID skips one request.
func heldCarryover(ctx context.Context, rd Reader, employeeID, leaveTypeID string, fromYear int, excludeID string) (generic.Amount, error) {
	list, err := rd.ListCarryovers(ctx, CarryoverFilter{
		EmployeeID:  employeeID,
		LeaveTypeID: leaveTypeID,
		FromYear:    fromYear,
		Statuses:    []CarryoverStatus{CarryoverPending, CarryoverApproved},
	})
	if err != nil {
		return generic.Amount{}, err
	}
	held := generic.ZeroHours()
	for _, c := range list {
		if c.ID != excludeID {
			held = held.Add(c.held())
		}
	}
	return held, nil
}

func (s *CarryoverService) lockPending(ctx context.Context, tx Tx, op, id string) (*CarryoverRequest, error) {
	cr, err := tx.LockCarryover(ctx, id)
	if err != nil {
		return nil, generic.Internal(op, err)
	}
	if cr == nil {
		return nil, generic.NotFound(op, "carryover request %s not found", id)
	}
	if cr.Status != CarryoverPending {
		return nil, generic.InvalidState(op, "carryover request %s is %s, not pending", cr.ID, cr.Status)
	}
	return cr, nil
}

func (s *CarryoverService) load(ctx context.Context, tx Tx, op, employeeID, leaveTypeID string) (*Employee, *LeaveType, generic.Bucket, error) {
	emp, err := tx.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, nil, "", generic.Internal(op, err)
	}
	if emp == nil {
		return nil, nil, "", generic.NotFound(op, "employee %s not found", employeeID)
	}
	lt, err := tx.GetLeaveType(ctx, leaveTypeID)
	if err != nil {
		return nil, nil, "", generic.Internal(op, err)
	}
	if lt == nil {
		return nil, nil, "", generic.NotFound(op, "leave type %s not found", leaveTypeID)
	}
	bucket, ok := lt.Bucket()
	if !ok {
		return nil, nil, "", generic.PolicyViolation(op, "%s does not carry a balance", lt.Code)
	}
	return emp, lt, bucket, nil
}

func (s *CarryoverService) capWarnings(ctx context.Context, tx Tx, emp Employee, lt LeaveType, hours generic.Amount) ([]generic.Warning, error) {
	policy, err := s.resolver.ResolveForType(ctx, tx, emp, lt)
	if err != nil {
		return nil, err
	}
	if policy == nil || !hours.Value.GreaterThan(policy.MaxCarryoverHours) {
		return nil, nil
	}
	return []generic.Warning{generic.NewWarning(generic.WarnCarryoverCap,
		"%s hours exceeds the %s carryover guideline of %s hours",
		hours.Value, lt.Code, policy.MaxCarryoverHours)}, nil
}

func (s *CarryoverService) logFailure(op string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("op", op), zap.Error(err))
	if generic.IsClientError(err) {
		s.logger.Warn("carryover operation rejected", fields...)
		return
	}
	s.logger.Error("carryover operation failed", fields...)
}
